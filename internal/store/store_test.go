package store

import (
	"context"
	"testing"
	"time"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)

	v, err := db.Version()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	err := db.migrate()
	require.NoError(t, err)

	var count int
	err = db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"conversations", "messages"}
	for _, table := range tables {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestOpenStore(t *testing.T) {
	log := logging.New(nil, "silent")

	s, err := OpenStore("memory", "", log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryMessageStore{}, s)

	s, err = OpenStore("sqlite", t.TempDir(), log)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteMessageStore{}, s)
	require.NoError(t, s.Close())

	_, err = OpenStore("postgres", "", log)
	assert.Error(t, err)
}

// --- MessageStore contract, run against both implementations ---

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func msgAt(sender, content string, at time.Time) domain.Message {
	return domain.Message{Sender: sender, Content: content, Kind: domain.KindText, Timestamp: domain.FormatTimestamp(at)}
}

func eachStore(t *testing.T, fn func(t *testing.T, s MessageStore)) {
	t.Run("sqlite", func(t *testing.T) {
		s := NewSQLiteMessageStore(testDB(t))
		s.now = func() time.Time { return t0 }
		fn(t, s)
	})
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryMessageStore()
		s.now = func() time.Time { return t0 }
		fn(t, s)
	})
}

func TestAppend_Defaults(t *testing.T) {
	eachStore(t, func(t *testing.T, s MessageStore) {
		got, err := s.Append(context.Background(), "c1", domain.Message{Sender: "representative", Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, domain.KindText, got.Kind)
		assert.Equal(t, "2026-03-14T09:30:00Z", got.Timestamp)
	})
}

func TestAppend_Invalid(t *testing.T) {
	eachStore(t, func(t *testing.T, s MessageStore) {
		ctx := context.Background()
		_, err := s.Append(ctx, "c1", domain.Message{Content: "no sender"})
		assert.ErrorIs(t, err, ErrInvalidMessage)

		_, err = s.Append(ctx, "c1", domain.Message{Sender: "customer", Timestamp: "yesterday"})
		assert.ErrorIs(t, err, ErrInvalidMessage)

		page, err := s.Page(ctx, "c1", 1, 20)
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestPage_NewestFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s MessageStore) {
		ctx := context.Background()
		for i := range 5 {
			_, err := s.Append(ctx, "c1", msgAt("customer", string(rune('a'+i)), t0.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, err)
		}
		// Out-of-order arrival still sorts by timestamp.
		_, err := s.Append(ctx, "c1", msgAt("agent", "early", t0.Add(-time.Hour)))
		require.NoError(t, err)

		p1, err := s.Page(ctx, "c1", 1, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"e", "d"}, contents(p1))

		p3, err := s.Page(ctx, "c1", 3, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "early"}, contents(p3))

		p4, err := s.Page(ctx, "c1", 4, 2)
		require.NoError(t, err)
		assert.NotNil(t, p4)
		assert.Empty(t, p4)

		other, err := s.Page(ctx, "c2", 1, 20)
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestPage_SameSecondKeepsArrivalOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s MessageStore) {
		ctx := context.Background()
		for _, c := range []string{"first", "second", "third"} {
			_, err := s.Append(ctx, "c1", msgAt("customer", c, t0))
			require.NoError(t, err)
		}
		page, err := s.Page(ctx, "c1", 1, 20)
		require.NoError(t, err)
		assert.Equal(t, []string{"third", "second", "first"}, contents(page))
	})
}

func TestMetaAndEscalation(t *testing.T) {
	eachStore(t, func(t *testing.T, s MessageStore) {
		ctx := context.Background()

		meta, err := s.Meta(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, domain.ConversationMeta{ConversationID: "c1"}, meta)

		_, _ = s.Append(ctx, "c1", msgAt("customer", "help", t0.Add(-2*time.Hour)))
		_, _ = s.Append(ctx, "c1", msgAt("representative", "on it", t0))
		require.NoError(t, s.SetEscalated(ctx, "c1", true))

		meta, err = s.Meta(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, meta.EscalationStatus)
		assert.Equal(t, 2, meta.MessageCount)
		assert.Equal(t, domain.FormatTimestamp(t0.Add(-2*time.Hour)), meta.LastCustomerAt)

		require.NoError(t, s.SetEscalated(ctx, "c1", false))
		meta, _ = s.Meta(ctx, "c1")
		assert.False(t, meta.EscalationStatus)
	})
}

func TestPurge_KeepsEscalation(t *testing.T) {
	eachStore(t, func(t *testing.T, s MessageStore) {
		ctx := context.Background()
		_, _ = s.Append(ctx, "c1", msgAt("customer", "hi", t0))
		_, _ = s.Append(ctx, "c2", msgAt("customer", "other", t0))
		require.NoError(t, s.SetEscalated(ctx, "c1", true))

		require.NoError(t, s.Purge(ctx, "c1"))
		require.NoError(t, s.Purge(ctx, "unknown"))

		meta, _ := s.Meta(ctx, "c1")
		assert.Zero(t, meta.MessageCount)
		assert.Empty(t, meta.LastCustomerAt)
		assert.True(t, meta.EscalationStatus)

		meta, _ = s.Meta(ctx, "c2")
		assert.Equal(t, 1, meta.MessageCount)
	})
}

func TestConversations(t *testing.T) {
	eachStore(t, func(t *testing.T, s MessageStore) {
		ctx := context.Background()
		list, err := s.Conversations(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, _ = s.Append(ctx, "b", msgAt("customer", "hi", t0))
		_, _ = s.Append(ctx, "a", msgAt("customer", "hi", t0))
		require.NoError(t, s.SetEscalated(ctx, "c", true))

		list, err = s.Conversations(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		ids := []string{list[0].ConversationID, list[1].ConversationID, list[2].ConversationID}
		assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
		for _, m := range list {
			if m.ConversationID == "c" {
				assert.True(t, m.EscalationStatus)
				assert.Zero(t, m.MessageCount)
			}
		}
	})
}

func contents(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

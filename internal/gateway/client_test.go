package gateway

import (
	"testing"

	"github.com/deskline/deskline/internal/config"
	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- ClientRegistry tests ---

func TestClientRegistryNew(t *testing.T) {
	reg := NewClientRegistry(testLog())
	require.NotNil(t, reg)
	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.Conversations())
}

func TestClientRegistryAddAndRemove(t *testing.T) {
	reg := NewClientRegistry(testLog())

	a := &Client{ConnID: "conn-1", ConversationID: "c1"}
	b := &Client{ConnID: "conn-2", ConversationID: "c1"}
	c := &Client{ConnID: "conn-3", ConversationID: "c2"}
	reg.Add(a)
	reg.Add(b)
	reg.Add(c)

	assert.Equal(t, 3, reg.Count())
	assert.Equal(t, 2, reg.CountFor("c1"))
	assert.Equal(t, []string{"c1", "c2"}, reg.Conversations())

	reg.Remove(a)
	reg.Remove(a)
	assert.Equal(t, 1, reg.CountFor("c1"))

	reg.Remove(b)
	assert.Equal(t, []string{"c2"}, reg.Conversations())
	assert.Equal(t, 1, reg.Count())
}

func TestClientRegistryRemoveNonexistent(t *testing.T) {
	reg := NewClientRegistry(testLog())
	// Should not panic
	reg.Remove(&Client{ConnID: "nonexistent", ConversationID: "c1"})
	assert.Equal(t, 0, reg.Count())
}

func TestClientRegistryBroadcastSkipsClosed(t *testing.T) {
	reg := NewClientRegistry(testLog())
	reg.Add(&Client{ConnID: "conn-1", ConversationID: "c1", closed: true})

	sent := reg.Broadcast("c1", domain.Message{Sender: "customer", Content: "hi"})
	assert.Zero(t, sent)
	assert.Zero(t, reg.Broadcast("nobody", domain.Message{}))
}

func TestClientRegistryCloseAll(t *testing.T) {
	reg := NewClientRegistry(testLog())

	// Clients without sockets close as no-ops.
	reg.Add(&Client{ConnID: "conn-1", ConversationID: "c1"})
	reg.Add(&Client{ConnID: "conn-2", ConversationID: "c2", closed: true})

	assert.Equal(t, 2, reg.Count())
	reg.CloseAll(domain.CloseNormal, "shutdown")
	assert.Equal(t, 0, reg.Count())
}

// --- resolveBindAddr tests ---

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		name string
		bind string
		port int
		host string
		want string
	}{
		{"loopback", "loopback", 18790, "", "127.0.0.1:18790"},
		{"lan", "lan", 9999, "", "0.0.0.0:9999"},
		{"auto", "auto", 8080, "", "0.0.0.0:8080"},
		{"custom_default", "custom", 3000, "", "0.0.0.0:3000"},
		{"custom_host", "custom", 3000, "10.0.0.1", "10.0.0.1:3000"},
		{"unknown_fallback", "whatever", 5000, "", "127.0.0.1:5000"},
		{"empty_fallback", "", 5000, "", "127.0.0.1:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.GatewayConfig{Bind: tt.bind, Port: tt.port, CustomBindHost: tt.host}
			assert.Equal(t, tt.want, resolveBindAddr(cfg))
		})
	}
}

package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/logging"
)

type echoServer struct {
	srv      *httptest.Server
	paths    chan string
	auth     chan string
	received chan string
}

// newEchoServer answers every text frame with a JSON message and closes
// normally when it receives "bye".
func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	e := &echoServer{
		paths:    make(chan string, 4),
		auth:     make(chan string, 4),
		received: make(chan string, 16),
	}
	upgrader := websocket.Upgrader{}
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		e.paths <- r.URL.EscapedPath()
		e.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			text := string(data)
			e.received <- text
			switch text {
			case "bye":
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			case "drop":
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"sender":"customer","content":"`+text+`","timestamp":"2026-03-14T09:30:00Z"}`))
		}
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *echoServer) dialer(token string) *Dialer {
	return NewDialer(Options{
		GatewayURL: "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/",
		Token:      token,
		Logger:     logging.New(nil, "silent"),
	})
}

func TestDialer_URL(t *testing.T) {
	d := NewDialer(Options{GatewayURL: "ws://host/ws/"})
	assert.Equal(t, "ws://host/ws/%2B15551234", d.URL("+15551234"))
	assert.Equal(t, "ws://host/ws/a%2Fb", d.URL("a/b"))
}

func TestDialAndEcho(t *testing.T) {
	e := newEchoServer(t)
	conn, err := e.dialer("tok").Dial(context.Background(), "+15551234")
	require.NoError(t, err)
	defer conn.Close(domain.CloseNormal, "")

	assert.Equal(t, "/ws/%2B15551234", <-e.paths)
	assert.Equal(t, "Bearer tok", <-e.auth)

	require.NoError(t, conn.WriteText("hello"))
	assert.Equal(t, "hello", <-e.received)

	data, err := conn.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"sender":"customer","content":"hello","timestamp":"2026-03-14T09:30:00Z"}`, string(data))
}

func TestDial_Unauthorized(t *testing.T) {
	e := newEchoServer(t)
	_, err := e.dialer("wrong").Dial(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestDial_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(2 * time.Millisecond)

	e := newEchoServer(t)
	_, err := e.dialer("tok").Dial(ctx, "c1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRead_NormalClosure(t *testing.T) {
	e := newEchoServer(t)
	conn, err := e.dialer("tok").Dial(context.Background(), "c1")
	require.NoError(t, err)
	defer conn.Close(domain.CloseNormal, "")

	require.NoError(t, conn.WriteText("bye"))
	_, err = conn.Read()
	assert.ErrorIs(t, err, domain.ErrNormalClosure)
}

func TestRead_AbnormalClosure(t *testing.T) {
	e := newEchoServer(t)
	conn, err := e.dialer("tok").Dial(context.Background(), "c1")
	require.NoError(t, err)
	defer conn.Close(domain.CloseNormal, "")

	require.NoError(t, conn.WriteText("drop"))
	_, err = conn.Read()
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNormalClosure))
}

func TestClose_Idempotent(t *testing.T) {
	e := newEchoServer(t)
	conn, err := e.dialer("tok").Dial(context.Background(), "c1")
	require.NoError(t, err)

	require.NoError(t, conn.Close(domain.CloseNormal, "leaving"))
	require.NoError(t, conn.Close(domain.CloseNormal, "leaving"))
	assert.Error(t, conn.WriteText("late"))
}

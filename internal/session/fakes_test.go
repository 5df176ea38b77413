package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deskline/deskline/internal/domain"
	"github.com/deskline/deskline/internal/hooks"
	"github.com/deskline/deskline/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// fakeClock records scheduled delays and fires timers on demand.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.delays = append(c.delays, d)
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

// Delays returns the delays scheduled so far.
func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// Pending returns how many timers are neither stopped nor fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FireNext runs the oldest pending timer and reports whether there was one.
func (c *fakeClock) FireNext() bool {
	c.mu.Lock()
	var next *fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	c.mu.Unlock()
	if next == nil {
		return false
	}
	next.f()
	return true
}

// fakeConn is an in-memory realtime stream.
type fakeConn struct {
	frames chan []byte
	errs   chan error
	done   chan struct{}

	mu        sync.Mutex
	written   []string
	writeErr  error
	closeCode int
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case data := <-c.frames:
		return data, nil
	case err := <-c.errs:
		return nil, err
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, text)
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) push(t *testing.T, m domain.Message) {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	c.frames <- data
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *fakeConn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// fakeDialer hands out fakeConns, or fails every dial while err is set.
type fakeDialer struct {
	mu    sync.Mutex
	err   error
	block bool
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (domain.RealtimeConn, error) {
	d.mu.Lock()
	d.dials++
	err, block := d.err, d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// fakeHistory serves pages from memory and records sends.
type fakeHistory struct {
	mu        sync.Mutex
	pages     map[int][]domain.Message // newest first
	histErr   error
	sendErr   error
	uploadErr error
	gate      chan struct{}
	histCalls int
	sends     []domain.SendRequest
	uploads   []domain.MediaUpload
	clock     *fakeClock
}

func (h *fakeHistory) History(ctx context.Context, id string, page, _ int) (domain.HistoryPage, error) {
	h.mu.Lock()
	h.histCalls++
	gate := h.gate
	h.mu.Unlock()
	if gate != nil && page > 1 {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.HistoryPage{}, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.histErr != nil {
		return domain.HistoryPage{}, h.histErr
	}
	return domain.HistoryPage{ConversationID: id, Page: page, Messages: h.pages[page]}, nil
}

func (h *fakeHistory) Send(_ context.Context, _ string, req domain.SendRequest) (domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sends = append(h.sends, req)
	if h.sendErr != nil {
		return domain.Message{}, h.sendErr
	}
	ts := domain.FormatTimestamp(time.Now())
	if h.clock != nil {
		ts = domain.FormatTimestamp(h.clock.Now())
	}
	return domain.Message{Sender: req.Sender, Content: req.Content, Kind: req.Kind, Timestamp: ts}, nil
}

func (h *fakeHistory) SendMedia(_ context.Context, _ string, up domain.MediaUpload) (domain.MediaRef, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uploads = append(h.uploads, up)
	if h.uploadErr != nil {
		return domain.MediaRef{}, h.uploadErr
	}
	return domain.MediaRef{URL: "http://media.test/" + up.FileName, FileName: up.FileName}, nil
}

func (h *fakeHistory) Purge(context.Context, string) error { return nil }

func (h *fakeHistory) Sends() []domain.SendRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.SendRequest(nil), h.sends...)
}

func (h *fakeHistory) HistCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.histCalls
}

// fakeEscalation records control plane calls.
type fakeEscalation struct {
	mu        sync.Mutex
	escalated bool
	err       error
	calls     []string
}

func (e *fakeEscalation) Escalate(context.Context, string) error {
	return e.record("escalate", true)
}

func (e *fakeEscalation) Deescalate(context.Context, string) error {
	return e.record("deescalate", false)
}

func (e *fakeEscalation) record(call string, v bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	if e.err != nil {
		return e.err
	}
	e.escalated = v
	return nil
}

func (e *fakeEscalation) Meta(_ context.Context, id string) (domain.ConversationMeta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.ConversationMeta{ConversationID: id, EscalationStatus: e.escalated}, nil
}

func (e *fakeEscalation) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// recorder collects hook payloads by event.
type recorder struct {
	mu     sync.Mutex
	events []hooks.Payload
}

func newRecorder(m *hooks.Manager) *recorder {
	r := &recorder{}
	for _, ev := range hooks.AllEvents {
		m.On(ev, "recorder", func(_ context.Context, p hooks.Payload) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, p)
			return nil
		})
	}
	return r
}

func (r *recorder) Of(event string) []hooks.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []hooks.Payload
	for _, p := range r.events {
		if p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

var errBoom = errors.New("boom")

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func customerAt(t time.Time, content string) domain.Message {
	return domain.Message{
		Sender:    domain.SenderCustomer,
		Content:   content,
		Kind:      domain.KindText,
		Timestamp: domain.FormatTimestamp(t),
	}
}

func repAt(t time.Time, content string) domain.Message {
	return domain.Message{
		Sender:    domain.SenderRepresentative,
		Content:   content,
		Kind:      domain.KindText,
		Timestamp: domain.FormatTimestamp(t),
	}
}

type harness struct {
	s      *Session
	clock  *fakeClock
	dialer *fakeDialer
	hist   *fakeHistory
	esc    *fakeEscalation
	events *recorder
}

type harnessOption func(*Options, *harness)

func withoutDialer() harnessOption {
	return func(o *Options, h *harness) { o.Dialer = nil }
}

func withPages(pages map[int][]domain.Message) harnessOption {
	return func(_ *Options, h *harness) { h.hist.pages = pages }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	clock := newFakeClock(t0)
	h := &harness{
		clock:  clock,
		dialer: &fakeDialer{},
		hist:   &fakeHistory{pages: map[int][]domain.Message{}, clock: clock},
		esc:    &fakeEscalation{},
	}
	mgr := hooks.NewManager(testLogger())
	h.events = newRecorder(mgr)

	o := Options{
		ConversationID: "15551234567",
		Representative: "Dana",
		History:        h.hist,
		Escalation:     h.esc,
		Dialer:         h.dialer,
		Hooks:          mgr,
		Clock:          clock,
		Logger:         testLogger(),
	}
	for _, opt := range opts {
		opt(&o, h)
	}
	s, err := New(o)
	require.NoError(t, err)
	h.s = s
	t.Cleanup(func() { _ = s.Close() })
	return h
}

func (h *harness) waitState(t *testing.T, state domain.ConnState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.s.Status().State == state
	}, 2*time.Second, 5*time.Millisecond, "state %s never reached, last %+v", state, h.s.Status())
}

func (h *harness) openConnected(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, h.s.Open(context.Background()))
	h.waitState(t, domain.StateConnected)
	conn := h.dialer.Last()
	require.NotNil(t, conn)
	return conn
}

package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

var errConnClosed = errors.New("use of closed connection")

// fakeConn feeds inbound frames from in and records outbound ones.
type fakeConn struct {
	in        chan []byte
	out       chan []byte
	block     bool
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.block {
		<-c.closed
		return errConnClosed
	}
	select {
	case <-c.closed:
		return errConnClosed
	case c.out <- data:
		return nil
	}
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *fakeConn) next(t *testing.T) frame {
	t.Helper()
	select {
	case raw := <-c.out:
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("bad frame %s: %v", raw, err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	return frame{}
}

type stubHandler struct {
	mu       sync.Mutex
	stakes   []StakeRequest
	stakerID []string
}

func (h *stubHandler) PlaceStake(_ context.Context, participantID string, req StakeRequest) StakeResponse {
	h.mu.Lock()
	h.stakes = append(h.stakes, req)
	h.stakerID = append(h.stakerID, participantID)
	h.mu.Unlock()
	return StakeResponse{Success: true, RoundID: 7, Amount: req.Amount}
}

func (h *stubHandler) CashOut(context.Context, string, CashOutRequest) CashOutResponse {
	return CashOutResponse{RoundID: 7, Error: CodeNoActiveStake}
}

func (h *stubHandler) Snapshot() RoundView {
	return RoundView{RoundID: 7, State: RoundRunning}
}

func startHub(t *testing.T, queue int) *Hub {
	t.Helper()
	hub := NewHub(queue, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("GetClientCount() = %d, want %d", hub.GetClientCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(0, zap.NewNop(), nil)

	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}
	if hub.broadcast == nil || hub.register == nil || hub.unregister == nil {
		t.Error("Hub channels are not initialised")
	}
	if hub.queueSize != 64 {
		t.Errorf("queueSize = %d, want default 64", hub.queueSize)
	}
	if count := hub.GetClientCount(); count != 0 {
		t.Errorf("GetClientCount() = %v, want 0", count)
	}
}

func TestHub_ServeClient(t *testing.T) {
	hub := startHub(t, 16)
	handler := &stubHandler{}
	conn := newFakeConn()

	done := make(chan struct{})
	go func() {
		hub.ServeClient(conn, "alice", handler)
		close(done)
	}()

	initial := conn.next(t)
	if initial.Type != EventInitialState {
		t.Fatalf("first frame = %s, want initial_state", initial.Type)
	}
	var view RoundView
	json.Unmarshal(initial.Data, &view)
	if view.RoundID != 7 {
		t.Errorf("initial_state round = %d, want 7", view.RoundID)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ping", `{"type":"ping"}`, EventPong},
		{"stake", `{"type":"place_stake","amount":"12.50"}`, EventStakeResult},
		{"cash out", `{"type":"cash_out","round_id":7}`, EventCashOutResult},
		{"unknown", `{"type":"dance"}`, EventError},
		{"malformed", `{not json`, EventError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn.in <- []byte(tt.in)
			if got := conn.next(t); got.Type != tt.want {
				t.Errorf("reply = %s (%s), want %s", got.Type, got.Data, tt.want)
			}
		})
	}

	handler.mu.Lock()
	if len(handler.stakes) != 1 || handler.stakerID[0] != "alice" || !handler.stakes[0].Amount.Equal(d("12.50")) {
		t.Errorf("handler saw %+v from %v", handler.stakes, handler.stakerID)
	}
	handler.mu.Unlock()

	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeClient() did not return after the connection closed")
	}
	waitForClients(t, hub, 0)
}

// blockingHandler holds every stake until its context is done.
type blockingHandler struct {
	stubHandler
	entered   chan struct{}
	cancelled chan error
}

func (h *blockingHandler) PlaceStake(ctx context.Context, _ string, _ StakeRequest) StakeResponse {
	h.entered <- struct{}{}
	<-ctx.Done()
	h.cancelled <- ctx.Err()
	return StakeResponse{Error: CodeLedgerUnavailable}
}

func TestHub_DroppedConnectionCancelsRequest(t *testing.T) {
	tests := []struct {
		name string
		drop func(hubCancel context.CancelFunc, conn *fakeConn)
	}{
		{"connection closed", func(_ context.CancelFunc, conn *fakeConn) { conn.Close() }},
		{"hub stopped", func(hubCancel context.CancelFunc, _ *fakeConn) { hubCancel() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(16, zap.NewNop(), nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go hub.Run(ctx)

			handler := &blockingHandler{
				entered:   make(chan struct{}, 1),
				cancelled: make(chan error, 1),
			}
			conn := newFakeConn()
			done := make(chan struct{})
			go func() {
				hub.ServeClient(conn, "alice", handler)
				close(done)
			}()
			conn.next(t)

			conn.in <- []byte(`{"type":"place_stake","amount":"1"}`)
			select {
			case <-handler.entered:
			case <-time.After(2 * time.Second):
				t.Fatal("stake never reached the handler")
			}

			tt.drop(cancel, conn)
			select {
			case err := <-handler.cancelled:
				if !errors.Is(err, context.Canceled) {
					t.Errorf("request context error = %v, want context.Canceled", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("in-flight request was not cancelled")
			}
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("ServeClient() did not return")
			}
		})
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub := startHub(t, 16)
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range conns {
		go hub.ServeClient(c, "p", &stubHandler{})
		t.Cleanup(func() { c.Close() })
	}
	waitForClients(t, hub, len(conns))
	for _, c := range conns {
		c.next(t) // initial_state
	}

	hub.Broadcast(WSMessage{Type: EventRoundTick, Data: RoundTickMessage{RoundID: 1, Multiplier: d("1.5")}})

	for i, c := range conns {
		if got := c.next(t); got.Type != EventRoundTick {
			t.Errorf("client %d got %s, want round_tick", i, got.Type)
		}
	}
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := startHub(t, 2)

	slow := newFakeConn()
	slow.block = true
	fast := newFakeConn()
	t.Cleanup(func() { slow.Close(); fast.Close() })

	go hub.ServeClient(slow, "slow", &stubHandler{})
	go hub.ServeClient(fast, "fast", &stubHandler{})
	waitForClients(t, hub, 2)
	fast.next(t)

	for i := 0; i < 10; i++ {
		hub.Broadcast(WSMessage{Type: EventRoundTick, Data: RoundTickMessage{RoundID: 1}})
		fast.next(t)
	}

	waitForClients(t, hub, 1)
}

func TestHub_BroadcastChannelFull(t *testing.T) {
	hub := NewHub(1, zap.NewNop(), nil)

	for i := 0; i < broadcastBuffer; i++ {
		hub.Broadcast(WSMessage{Type: "test"})
	}

	done := make(chan bool, 1)
	go func() {
		hub.Broadcast(WSMessage{Type: "overflow"})
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Broadcast() blocked when channel was full")
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(4, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		hub.ServeClient(conn, "alice", &stubHandler{})
		close(done)
	}()
	waitForClients(t, hub, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeClient() did not return after the hub stopped")
	}

	late := newFakeConn()
	hub.ServeClient(late, "bob", &stubHandler{})
	select {
	case <-late.closed:
	default:
		t.Error("connection accepted after the hub stopped")
	}
}

func TestHub_ConcurrentBroadcasts(t *testing.T) {
	hub := startHub(t, 16)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			hub.Broadcast(WSMessage{Type: "test", Data: n})
		}(i)
	}

	done := make(chan bool)
	go func() {
		wg.Wait()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Concurrent broadcasts timed out")
	}
}

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub(64, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	message := WSMessage{Type: EventRoundTick, Data: RoundTickMessage{RoundID: 1}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(message)
	}
}

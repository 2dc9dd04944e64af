package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (s *memorySink) Write(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(16, zap.NewNop(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	for i := uint64(1); i <= 5; i++ {
		d.Publish(Event{Type: TypeRound, RoundID: i})
	}
	cancel()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := sink.snapshot()
	if len(got) != 5 {
		t.Fatalf("sink received %d events, want 5", len(got))
	}
	for i, e := range got {
		if e.RoundID != uint64(i+1) {
			t.Errorf("event %d round = %d, want %d", i, e.RoundID, i+1)
		}
		if e.At.IsZero() {
			t.Errorf("event %d has no timestamp", i)
		}
	}
	if !sink.closed {
		t.Error("sink was not closed")
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	var dropped atomic.Int32
	d := NewDispatcher(2, zap.NewNop())
	d.OnDrop(func() { dropped.Add(1) })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Publish(Event{Type: TypeStake})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish() blocked on a full buffer")
	}
	if got := dropped.Load(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestDispatcher_SinkErrorDoesNotStop(t *testing.T) {
	failing := &memorySink{err: errors.New("boom")}
	ok := &memorySink{}
	d := NewDispatcher(8, zap.NewNop(), failing, ok)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	d.Publish(Event{Type: TypeLoss})
	d.Publish(Event{Type: TypeLoss})
	cancel()
	d.Close()

	if got := len(ok.snapshot()); got != 2 {
		t.Errorf("healthy sink got %d events, want 2", got)
	}
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	amount := decimal.RequireFromString("12.50")
	err := sink.Write(context.Background(), Event{
		Type:          TypeCashOut,
		ParticipantID: "alice",
		RoundID:       4,
		Amount:        &amount,
		Details:       map[string]string{"source": "ws"},
		At:            time.Now(),
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["participant_id"] != "alice" {
		t.Errorf("participant_id = %v, want alice", fields["participant_id"])
	}
	if fields["amount"] != "12.5" {
		t.Errorf("amount = %v, want 12.5", fields["amount"])
	}
	if fields["source"] != "ws" {
		t.Errorf("source = %v, want ws", fields["source"])
	}
}

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantKey string
	}{
		{"participant event", Event{Type: TypeStake, ParticipantID: "bob", RoundID: 9}, "bob"},
		{"round event", Event{Type: TypeRound, RoundID: 9}, "round-9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &recordingWriter{}
			sink := NewKafkaSink(w)
			if err := sink.Write(context.Background(), tt.event); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if len(w.msgs) != 1 {
				t.Fatalf("wrote %d messages, want 1", len(w.msgs))
			}
			if string(w.msgs[0].Key) != tt.wantKey {
				t.Errorf("key = %q, want %q", w.msgs[0].Key, tt.wantKey)
			}
			var decoded Event
			if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if decoded.Type != tt.event.Type || decoded.RoundID != tt.event.RoundID {
				t.Errorf("decoded = %+v, want %+v", decoded, tt.event)
			}
			sink.Close()
			if !w.closed {
				t.Error("writer was not closed")
			}
		})
	}
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter("k1:9092,k2:9092", "crash.audit")
	if w.Topic != "crash.audit" {
		t.Errorf("Topic = %q", w.Topic)
	}
	if w.Addr == nil {
		t.Error("Addr is nil")
	}
	if _, ok := w.Balancer.(*kafka.LeastBytes); !ok {
		t.Errorf("Balancer = %T, want *kafka.LeastBytes", w.Balancer)
	}
}

package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sinkTimeout = 2 * time.Second

// Dispatcher buffers events and writes them to its sinks from one goroutine.
// When the buffer is full, events are dropped.
type Dispatcher struct {
	events    chan Event
	sinks     []Sink
	log       *zap.Logger
	onDrop    func()
	closeOnce sync.Once
	done      chan struct{}
}

func NewDispatcher(bufferSize int, log *zap.Logger, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Dispatcher{
		events: make(chan Event, bufferSize),
		sinks:  sinks,
		log:    log,
		done:   make(chan struct{}),
	}
}

// OnDrop registers a callback run for every dropped event.
func (d *Dispatcher) OnDrop(fn func()) {
	d.onDrop = fn
}

func (d *Dispatcher) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case d.events <- e:
	default:
		if d.onDrop != nil {
			d.onDrop()
		}
		d.log.Warn("audit buffer full, dropping event", zap.String("type", e.Type))
	}
}

// Run drains the buffer until ctx is done, then flushes what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case e := <-d.events:
			d.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-d.events:
					d.write(e)
				default:
					return
				}
			}
		}
	}
}

// Close waits for Run to return and closes the sinks.
func (d *Dispatcher) Close() error {
	<-d.done
	var firstErr error
	d.closeOnce.Do(func() {
		for _, s := range d.sinks {
			if err := s.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

func (d *Dispatcher) write(e Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := s.Write(ctx, e); err != nil {
			d.log.Warn("audit sink write failed", zap.String("type", e.Type), zap.Error(err))
		}
		cancel()
	}
}

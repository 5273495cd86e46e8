package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
)

// Sink receives audit events. Sinks must tolerate at-least-once delivery.
type Sink interface {
	Write(event Event) error
}

// Emitter fans audit events out to its sinks from a dedicated goroutine.
// Emit never blocks: when the buffer is full the event is dropped and
// counted, which is preferable to stalling the request path.
type Emitter struct {
	ch    chan Event
	sinks []Sink
	drops atomic.Uint64
	wg    sync.WaitGroup

	// mu orders enqueues against Close so no send can race the channel
	// close during shutdown.
	mu     sync.RWMutex
	closed bool
}

const (
	sinkRetryAttempts = 3
	sinkRetryDelay    = 50 * time.Millisecond
)

// NewEmitter creates an emitter with the given buffer size and sinks and
// starts its delivery goroutine.
func NewEmitter(bufferSize int, sinks ...Sink) *Emitter {
	e := &Emitter{
		ch:    make(chan Event, bufferSize),
		sinks: sinks,
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for event := range e.ch {
		e.deliver(event)
	}
}

// deliver writes the event to every sink with bounded retry. A sink that
// stays unavailable loses the event; the primary request path is never
// held hostage to the audit trail.
func (e *Emitter) deliver(event Event) {
	for _, sink := range e.sinks {
		s := sink
		err := retry.Do(
			func() error { return s.Write(event) },
			retry.Attempts(sinkRetryAttempts),
			retry.Delay(sinkRetryDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			log.Error().Err(err).Str("kind", string(event.Kind)).Msg("audit sink write failed")
		}
	}
}

// Emit enqueues an event for delivery. Never blocks.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	select {
	case e.ch <- event:
	default:
		e.drops.Add(1)
		log.Ctx(ctx).Warn().
			Str("kind", string(event.Kind)).
			Uint64("dropped_total", e.drops.Load()).
			Msg("audit buffer full, event dropped")
	}
}

// Drops returns the number of events dropped due to a full buffer.
func (e *Emitter) Drops() uint64 {
	return e.drops.Load()
}

// Close flushes buffered events and stops the delivery goroutine.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.ch)
	e.mu.Unlock()
	e.wg.Wait()
}

var (
	defaultEmitter *Emitter
	emitterMu      sync.RWMutex
)

// Init installs the process-wide emitter.
func Init(emitter *Emitter) {
	emitterMu.Lock()
	defer emitterMu.Unlock()
	defaultEmitter = emitter
}

// Emit sends an event through the process-wide emitter. Events emitted
// before Init are logged and discarded.
func Emit(ctx context.Context, event Event) {
	emitterMu.RLock()
	e := defaultEmitter
	emitterMu.RUnlock()
	if e == nil {
		log.Ctx(ctx).Warn().Str("kind", string(event.Kind)).Msg("audit emitter not initialized, event discarded")
		return
	}
	e.Emit(ctx, event)
}

// Close flushes and stops the process-wide emitter.
func Close() {
	emitterMu.Lock()
	e := defaultEmitter
	defaultEmitter = nil
	emitterMu.Unlock()
	if e != nil {
		e.Close()
	}
}

// Package security delivers abuse events to out-of-band monitoring.
// Delivery is fire-and-forget: reporting never blocks a request, and a
// saturated pipeline drops events rather than queueing unboundedly.
package security

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"visitgate/internal/models"
	"visitgate/internal/util"
)

const defaultBufferSize = 256

// Sink receives security events. Implementations must tolerate
// best-effort delivery.
type Sink interface {
	Name() string
	Write(ctx context.Context, event models.SecurityEvent) error
	Close() error
}

// Reporter fans events out to its sinks from a single worker
// goroutine fed by a bounded channel.
type Reporter struct {
	sinks   []Sink
	events  chan models.SecurityEvent
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

func NewReporter(bufferSize int, sinks ...Sink) *Reporter {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	r := &Reporter{
		sinks:  sinks,
		events: make(chan models.SecurityEvent, bufferSize),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// NewEvent builds a security event with identity and request path
// filled in by the caller.
func NewEvent(eventType, severity, message, identity, path string, details map[string]string) models.SecurityEvent {
	return models.SecurityEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  severity,
		Message:   message,
		Identity:  identity,
		Path:      path,
		Timestamp: time.Now(),
		Details:   details,
	}
}

// Report enqueues an event without ever blocking. Events offered to a
// full buffer or a closed reporter are counted as dropped.
func (r *Reporter) Report(event models.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-r.done:
		r.dropped.Add(1)
	case r.events <- event:
	default:
		if r.dropped.Add(1)%100 == 1 {
			util.Warn("Security event buffer full, dropping events",
				util.Int64("dropped_total", r.dropped.Load()))
		}
	}
}

// Dropped returns how many events were discarded.
func (r *Reporter) Dropped() int64 {
	return r.dropped.Load()
}

// Close drains buffered events, flushes the sinks and stops the
// worker.
func (r *Reporter) Close() error {
	r.once.Do(func() {
		close(r.done)
	})
	r.wg.Wait()

	var firstErr error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Reporter) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.events:
			r.dispatch(event)
		case <-r.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case event := <-r.events:
					r.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Reporter) dispatch(event models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, sink := range r.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Write(ctx, event); err != nil {
				util.Warn("Security event sink write failed",
					util.String("sink", sink.Name()),
					util.String("event_type", event.Type),
					util.ErrorField(err))
			}
			// Sink failures never abort the other sinks.
			return nil
		})
	}
	_ = g.Wait()
}

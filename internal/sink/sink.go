// Package sink defines the output capability and fans records out to every
// configured sink.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/trailpipe/pkg/record"
)

// Sink delivers records to one downstream destination.
// Implementations need not be safe for concurrent use.
type Sink interface {
	// Name identifies the sink in logs and metrics (e.g., "redis:host:6379/logstash").
	Name() string

	// Deliver sends one record.
	Deliver(ctx context.Context, rec record.Record) error

	// Close releases the sink's connection.
	Close() error
}

// DeliveryError reports a failed delivery to one sink.
type DeliveryError struct {
	Sink string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type guardedSink struct {
	mu   sync.Mutex
	sink Sink
}

// Router delivers every record to every sink. A failing sink never blocks
// delivery to the others, and each sink is used by one goroutine at a time.
type Router struct {
	sinks  []*guardedSink
	logger zerolog.Logger
}

// NewRouter creates a router over sinks, in delivery order.
func NewRouter(sinks ...Sink) *Router {
	guarded := make([]*guardedSink, 0, len(sinks))
	for _, s := range sinks {
		guarded = append(guarded, &guardedSink{sink: s})
	}
	return &Router{sinks: guarded, logger: log.Logger}
}

// WithLogger sets the logger used for delivery failures.
func (r *Router) WithLogger(logger zerolog.Logger) *Router {
	r.logger = logger
	return r
}

// Len returns the number of sinks.
func (r *Router) Len() int {
	return len(r.sinks)
}

// Names returns the sink names in delivery order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.sinks))
	for _, g := range r.sinks {
		names = append(names, g.sink.Name())
	}
	return names
}

// Route delivers rec to every sink and returns one *DeliveryError per
// failed sink. Failures are logged here; callers only count them.
func (r *Router) Route(ctx context.Context, rec record.Record) []error {
	var errs []error
	for _, g := range r.sinks {
		if err := g.deliver(ctx, rec); err != nil {
			derr := &DeliveryError{Sink: g.sink.Name(), Err: err}
			r.logger.Error().Err(err).Str("sink", derr.Sink).Msg("delivery failed")
			errs = append(errs, derr)
		}
	}
	return errs
}

func (g *guardedSink) deliver(ctx context.Context, rec record.Record) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sink.Deliver(ctx, rec)
}

// Close closes every sink, collecting errors.
func (r *Router) Close() error {
	var errs []error
	for _, g := range r.sinks {
		g.mu.Lock()
		if err := g.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", g.sink.Name(), err))
		}
		g.mu.Unlock()
	}
	return errors.Join(errs...)
}

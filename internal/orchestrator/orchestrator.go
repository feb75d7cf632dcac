// Package orchestrator runs one ingestion pass: for every input it resolves
// credentials, lists the day's log objects, and routes their records to the
// sinks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/trailpipe/internal/cloudtrail"
	"github.com/yairfalse/trailpipe/internal/config"
	"github.com/yairfalse/trailpipe/internal/credentials"
	"github.com/yairfalse/trailpipe/internal/enrich"
	"github.com/yairfalse/trailpipe/internal/filter"
	"github.com/yairfalse/trailpipe/internal/sink"
	"github.com/yairfalse/trailpipe/internal/telemetry"
	"github.com/yairfalse/trailpipe/pkg/record"
)

// Orchestrator coordinates resolve → list → extract → enrich → filter → route.
type Orchestrator struct {
	inputs     []Input
	router     *sink.Router
	resolver   CredentialResolver
	overrides  credentials.Overrides
	clients    ClientFactory
	filter     *filter.Filter
	metrics    Metrics
	logger     *telemetry.Logger
	workers    int
	stagingDir string
	tracer     trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResolver sets the credential resolver.
func WithResolver(r CredentialResolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithOverrides sets the CLI credential overrides applied to every input.
func WithOverrides(ov credentials.Overrides) Option {
	return func(o *Orchestrator) { o.overrides = ov }
}

// WithClientFactory sets how AWS clients are built for an input.
func WithClientFactory(f ClientFactory) Option {
	return func(o *Orchestrator) { o.clients = f }
}

// WithTracer sets the tracer used for per-input spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithFilter sets the record filter.
func WithFilter(f *filter.Filter) Option {
	return func(o *Orchestrator) { o.filter = f }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithWorkers sets how many objects of one input are processed at once.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) { o.workers = n }
}

// WithStagingDir sets where downloaded objects are staged.
func WithStagingDir(dir string) Option {
	return func(o *Orchestrator) { o.stagingDir = dir }
}

// New creates an orchestrator. It fails with config.ErrNoInputs or
// config.ErrNoOutputs before anything touches the network.
func New(inputs []Input, router *sink.Router, opts ...Option) (*Orchestrator, error) {
	if len(inputs) == 0 {
		return nil, config.ErrNoInputs
	}
	if router == nil || router.Len() == 0 {
		return nil, config.ErrNoOutputs
	}

	o := &Orchestrator{
		inputs:  inputs,
		router:  router,
		clients: DefaultClients,
		metrics: nopMetrics{},
		logger:  telemetry.Nop(),
		workers: 1,
		tracer:  otel.Tracer("trailpipe/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	return o, nil
}

// Run imports every input for the given UTC date. Input failures are
// counted in the result and do not stop other inputs; the returned error
// is non-nil only when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, date time.Time) (*RunResult, error) {
	result := &RunResult{
		Date:      date.Format(cloudtrail.DateLayout),
		StartTime: time.Now(),
	}

	if o.resolver == nil {
		r, err := credentials.NewDefaultResolver(ctx, o.inputs[0].Region)
		if err != nil {
			return o.finish(ctx, result), fmt.Errorf("create credential resolver: %w", err)
		}
		o.resolver = r
	}

	for _, in := range o.inputs {
		if err := ctx.Err(); err != nil {
			return o.finish(ctx, result), err
		}

		if err := o.runInput(ctx, in, date, result); err != nil {
			result.InputsFailed++
			var authErr *credentials.AuthError
			if errors.As(err, &authErr) {
				result.AuthFailures++
			}
			o.logger.LogInputFailed(ctx, in.Account, in.Bucket, err)
			continue
		}
		result.InputsProcessed++
	}

	return o.finish(ctx, result), ctx.Err()
}

func (o *Orchestrator) finish(ctx context.Context, result *RunResult) *RunResult {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	o.metrics.RunFinished(ctx, result.Duration)
	o.logger.LogRunComplete(ctx, result.ObjectsListed, result.RecordsDelivered, result.ObjectsFailed, result.Duration)
	return result
}

func (o *Orchestrator) runInput(ctx context.Context, in Input, date time.Time, result *RunResult) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.input", trace.WithAttributes(
		attribute.String("account", in.Account),
		attribute.String("region", in.Region),
	))
	defer span.End()

	creds, err := o.resolver.Resolve(ctx, in.Account, in.Credentials, o.overrides)
	if err != nil {
		span.RecordError(err)
		return err
	}

	clients, err := o.clients(ctx, creds, in.Region)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("create clients: %w", err)
	}

	bucket, keyPrefix := in.Bucket, in.KeyPrefix
	if bucket == "" {
		trail, err := cloudtrail.DiscoverTrail(ctx, clients.Trails, in.Trail)
		if err != nil {
			span.RecordError(err)
			return err
		}
		bucket = trail.Bucket
		if keyPrefix == "" {
			keyPrefix = trail.KeyPrefix
		}
	}

	prefix := cloudtrail.Prefix(keyPrefix, in.Account, in.Region, date)
	span.SetAttributes(attribute.String("s3.bucket", bucket), attribute.String("s3.prefix", prefix))
	o.logger.LogInputStart(ctx, in.Account, bucket, prefix)

	p := &pass{
		o:         o,
		in:        in,
		extractor: cloudtrail.NewExtractor(clients.S3, o.stagingDir),
		result:    result,
	}
	objects := cloudtrail.NewEnumerator(clients.S3).List(ctx, bucket, prefix)
	if o.workers == 1 {
		err = p.sequential(ctx, objects)
	} else {
		err = p.parallel(ctx, objects)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// pass processes the objects of one input.
type pass struct {
	o         *Orchestrator
	in        Input
	extractor *cloudtrail.Extractor

	mu     sync.Mutex
	result *RunResult
}

func (p *pass) sequential(ctx context.Context, objects iter.Seq2[cloudtrail.Object, error]) error {
	for obj, err := range objects {
		if err != nil {
			return err
		}
		p.listed()
		p.process(ctx, obj)
	}
	return nil
}

func (p *pass) parallel(ctx context.Context, objects iter.Seq2[cloudtrail.Object, error]) error {
	queue := make(chan cloudtrail.Object)
	var wg sync.WaitGroup
	for range p.o.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for obj := range queue {
				p.process(ctx, obj)
			}
		}()
	}

	var listErr error
	for obj, err := range objects {
		if err != nil {
			listErr = err
			break
		}
		p.listed()
		select {
		case queue <- obj:
		case <-ctx.Done():
			listErr = ctx.Err()
		}
		if listErr != nil {
			break
		}
	}
	close(queue)
	wg.Wait()
	return listErr
}

func (p *pass) listed() {
	p.mu.Lock()
	p.result.ObjectsListed++
	p.mu.Unlock()
}

// process extracts one object and routes its records in container order.
func (p *pass) process(ctx context.Context, obj cloudtrail.Object) {
	o := p.o
	records, err := p.extractor.Extract(ctx, obj)
	if err != nil {
		o.logger.LogObjectSkipped(ctx, p.in.Account, obj.Bucket, obj.Key, err)
		o.metrics.ObjectProcessed(ctx, telemetry.StatusFailed)
		p.mu.Lock()
		p.result.ObjectsFailed++
		p.mu.Unlock()
		return
	}
	o.metrics.ObjectProcessed(ctx, telemetry.StatusExtracted)

	var delivered, dropped, sinkErrors int
	for _, raw := range records {
		rec := enrich.Enrich(raw, p.recordType(), p.in.Fields)
		if !p.keep(ctx, rec) {
			dropped++
			continue
		}
		errs := o.router.Route(ctx, rec)
		for _, err := range errs {
			sinkErrors++
			var derr *sink.DeliveryError
			if errors.As(err, &derr) {
				o.metrics.SinkError(ctx, derr.Sink)
			}
		}
		// Delivered means at least one sink accepted it.
		if len(errs) < o.router.Len() {
			delivered++
		}
	}
	o.metrics.RecordsDelivered(ctx, delivered)
	o.metrics.RecordsDropped(ctx, dropped)
	o.logger.LogObjectDone(ctx, obj.Bucket, obj.Key, len(records), dropped)

	p.mu.Lock()
	p.result.RecordsRead += len(records)
	p.result.RecordsDelivered += delivered
	p.result.RecordsDropped += dropped
	p.result.SinkErrors += sinkErrors
	p.mu.Unlock()
}

func (p *pass) recordType() string {
	if p.in.Type != "" {
		return p.in.Type
	}
	return config.InputCloudTrail
}

// keep applies the filter. A policy that fails to evaluate keeps the record.
func (p *pass) keep(ctx context.Context, rec record.Record) bool {
	if p.o.filter == nil || p.o.filter.IsEmpty() {
		return true
	}
	ok, err := p.o.filter.Keep(ctx, rec)
	if err != nil {
		p.o.logger.WithContext(ctx).Warn().Err(err).Str("account", p.in.Account).Msg("filter evaluation failed")
		return true
	}
	return ok
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/trailpipe/internal/cloudtrail"
	"github.com/yairfalse/trailpipe/internal/config"
	"github.com/yairfalse/trailpipe/internal/credentials"
	"github.com/yairfalse/trailpipe/internal/filter"
	"github.com/yairfalse/trailpipe/internal/history"
	"github.com/yairfalse/trailpipe/internal/orchestrator"
	"github.com/yairfalse/trailpipe/internal/sink"
	"github.com/yairfalse/trailpipe/internal/sink/cloudwatch"
	"github.com/yairfalse/trailpipe/internal/sink/dynamodb"
	"github.com/yairfalse/trailpipe/internal/sink/lambda"
	"github.com/yairfalse/trailpipe/internal/sink/redis"
	"github.com/yairfalse/trailpipe/internal/sink/sqs"
	"github.com/yairfalse/trailpipe/internal/sink/stdout"
	"github.com/yairfalse/trailpipe/internal/telemetry"
)

// importOptions are the flags and arguments of an import run.
type importOptions struct {
	ConfigPath string
	AWSKey     string
	AWSSecret  string
	AWSRole    string
	Region     string
	Date       string
	Debug      bool
	Workers    int

	Stdout io.Writer
}

func (o importOptions) overrides() credentials.Overrides {
	return credentials.Overrides{AccessKey: o.AWSKey, SecretKey: o.AWSSecret, Role: o.AWSRole}
}

func (o importOptions) day() (time.Time, error) {
	if o.Date == "" {
		return time.Now().UTC(), nil
	}
	return cloudtrail.ParseDate(o.Date)
}

// newRegistry registers every supported output type.
func newRegistry(stdoutWriter io.Writer) *sink.Registry {
	reg := sink.NewRegistry()
	reg.Register(config.OutputStdout, func(ctx context.Context, cfg config.OutputConfig, env sink.Env) (sink.Sink, error) {
		if stdoutWriter == nil {
			return stdout.FromConfig(ctx, cfg, env)
		}
		return stdout.New(stdoutWriter), nil
	})
	reg.Register(config.OutputRedis, redis.FromConfig)
	reg.Register(config.OutputSQS, sqs.FromConfig)
	reg.Register(config.OutputCloudWatch, cloudwatch.FromConfig)
	reg.Register(config.OutputLambda, lambda.FromConfig)
	reg.Register(config.OutputDynamoDB, dynamodb.FromConfig)
	return reg
}

func setupLogging(cfg config.LogConfig, service string, debug bool) *telemetry.Logger {
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Level, debug))
	logger := telemetry.NewLogger(cfg, service, os.Stderr)
	log.Logger = logger.Logger
	return logger
}

func runImport(ctx context.Context, opts importOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	date, err := opts.day()
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Log, cfg.Telemetry.ServiceName, opts.Debug)
	if err := cfg.Validate(); err != nil {
		return err
	}

	workers := cfg.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	ctx, span := provider.StartSpan(ctx, "trailpipe.import")
	defer span.End()

	f, err := filter.FromConfig(ctx, cfg.Filter)
	if err != nil {
		return err
	}

	sinks, err := newRegistry(opts.Stdout).Build(ctx, cfg.Outputs(), sink.DefaultEnv(opts.Region))
	if err != nil {
		return err
	}
	router := sink.NewRouter(sinks...)
	log.Info().Strs("sinks", router.Names()).Msg("outputs ready")
	defer func() {
		if err := router.Close(); err != nil {
			log.Warn().Err(err).Msg("closing outputs failed")
		}
	}()

	resolver, err := credentials.NewDefaultResolver(ctx, opts.Region)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.InputsFromConfig(cfg.Inputs(), opts.Region), router,
		orchestrator.WithResolver(resolver),
		orchestrator.WithOverrides(opts.overrides()),
		orchestrator.WithFilter(f),
		orchestrator.WithMetrics(provider),
		orchestrator.WithTracer(provider.Tracer()),
		orchestrator.WithLogger(logger),
		orchestrator.WithWorkers(workers),
		orchestrator.WithStagingDir(cfg.StagingDir),
	)
	if err != nil {
		return err
	}

	result, err := execute(ctx, orch, date)
	if result != nil && cfg.History.Path != "" {
		recordHistory(cfg.History.Path, result)
	}
	if err != nil {
		return err
	}
	if result.AuthFailures > 0 {
		return fmt.Errorf("%w (%d)", errAuthFailures, result.AuthFailures)
	}
	return nil
}

// execute runs the import next to a signal handler; SIGINT or SIGTERM
// cancels the run.
func execute(ctx context.Context, orch *orchestrator.Orchestrator, date time.Time) (*orchestrator.RunResult, error) {
	var (
		g      run.Group
		result *orchestrator.RunResult
	)

	runCtx, cancel := context.WithCancel(ctx)
	g.Add(func() error {
		var err error
		result, err = orch.Run(runCtx, date)
		return err
	}, func(error) {
		cancel()
	})
	g.Add(run.SignalHandler(runCtx, os.Interrupt, syscall.SIGTERM))

	err := g.Run()
	cancel()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		return result, fmt.Errorf("interrupted: %w", err)
	}
	return result, err
}

func recordHistory(path string, result *orchestrator.RunResult) {
	store, err := history.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot open run history")
		return
	}
	defer func() { _ = store.Close() }()

	id, err := store.Record(history.Run{
		Date:             result.Date,
		StartedAt:        result.StartTime.UTC(),
		Duration:         result.Duration,
		InputsProcessed:  result.InputsProcessed,
		InputsFailed:     result.InputsFailed,
		AuthFailures:     result.AuthFailures,
		ObjectsListed:    result.ObjectsListed,
		ObjectsFailed:    result.ObjectsFailed,
		RecordsRead:      result.RecordsRead,
		RecordsDelivered: result.RecordsDelivered,
		RecordsDropped:   result.RecordsDropped,
		SinkErrors:       result.SinkErrors,
	})
	if err != nil {
		log.Warn().Err(err).Msg("cannot record run history")
		return
	}
	log.Debug().Str("run_id", id).Msg("run recorded")
}

package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/trailpipe/internal/config"
)

// Env carries process-wide settings sink constructors may need.
type Env struct {
	// Region is used by AWS-backed sinks whose output sets no region.
	Region string

	// LoadAWSConfig builds the SDK config for AWS-backed sinks.
	LoadAWSConfig func(ctx context.Context, region string) (aws.Config, error)
}

// DefaultEnv returns an Env whose AWS sinks use the SDK default chain.
func DefaultEnv(region string) Env {
	return Env{
		Region: region,
		LoadAWSConfig: func(ctx context.Context, region string) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		},
	}
}

// RegionFor returns the output's region, falling back to the Env region.
func (e Env) RegionFor(cfg config.OutputConfig) string {
	if cfg.Region != "" {
		return cfg.Region
	}
	return e.Region
}

// Constructor creates a sink from its output descriptor.
type Constructor func(ctx context.Context, cfg config.OutputConfig, env Env) (Sink, error)

// Registry maps output type tags to constructors.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under the given output type.
func (r *Registry) Register(typ string, ctor Constructor) {
	r.constructors[typ] = ctor
}

// Get returns the constructor for the given output type.
func (r *Registry) Get(typ string) (Constructor, error) {
	ctor, ok := r.constructors[typ]
	if !ok {
		return nil, fmt.Errorf("unknown output type: %s", typ)
	}
	return ctor, nil
}

// Build constructs a sink per output. Outputs that fail to construct are
// logged and skipped; it is an error only if none succeed.
func (r *Registry) Build(ctx context.Context, outputs []config.OutputConfig, env Env) ([]Sink, error) {
	var (
		sinks []Sink
		errs  []error
	)
	for i, out := range outputs {
		ctor, err := r.Get(out.Type)
		if err != nil {
			log.Warn().Err(err).Int("output", i).Msg("skipping output")
			errs = append(errs, err)
			continue
		}
		s, err := ctor(ctx, out, env)
		if err != nil {
			log.Error().Err(err).Int("output", i).Str("type", out.Type).Msg("failed to create output")
			errs = append(errs, fmt.Errorf("output %d (%s): %w", i, out.Type, err))
			continue
		}
		log.Debug().Str("sink", s.Name()).Msg("output ready")
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		if len(errs) == 0 {
			return nil, config.ErrNoOutputs
		}
		return nil, fmt.Errorf("%w: %w", config.ErrNoOutputs, errors.Join(errs...))
	}
	return sinks, nil
}

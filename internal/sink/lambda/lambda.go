// Package lambda invokes a Lambda function asynchronously for every record.
package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/yairfalse/trailpipe/internal/config"
	"github.com/yairfalse/trailpipe/internal/sink"
	"github.com/yairfalse/trailpipe/pkg/record"
)

// API defines the Lambda operations used by the sink.
type API interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Sink sends each record as the payload of an Event invocation.
type Sink struct {
	client   API
	function string
}

// New creates a Sink for the given function name or ARN.
func New(client API, function string) *Sink {
	return &Sink{client: client, function: function}
}

// FromConfig is the sink.Constructor for "lambda" outputs.
func FromConfig(ctx context.Context, cfg config.OutputConfig, env sink.Env) (sink.Sink, error) {
	if cfg.Function == "" {
		return nil, errors.New("lambda: function is required")
	}
	awsCfg, err := env.LoadAWSConfig(ctx, env.RegionFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("lambda: load aws config: %w", err)
	}
	return New(lambda.NewFromConfig(awsCfg), cfg.Function), nil
}

// Name returns the sink identifier.
func (s *Sink) Name() string {
	return "lambda:" + s.function
}

// Deliver invokes the function with the JSON-encoded record.
func (s *Sink) Deliver(ctx context.Context, rec record.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	out, err := s.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(s.function),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", s.function, err)
	}
	if out.FunctionError != nil {
		return fmt.Errorf("invoke %s: function error: %s", s.function, aws.ToString(out.FunctionError))
	}
	return nil
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}

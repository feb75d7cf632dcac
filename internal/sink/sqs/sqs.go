// Package sqs sends records to an SQS queue, one message per record.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/yairfalse/trailpipe/internal/config"
	"github.com/yairfalse/trailpipe/internal/sink"
	"github.com/yairfalse/trailpipe/pkg/record"
)

// API defines the SQS operations used by the sink.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Sink writes each record as the body of one message.
type Sink struct {
	client   API
	queueURL string
}

// New creates a Sink for the given queue.
func New(client API, queueURL string) *Sink {
	return &Sink{client: client, queueURL: queueURL}
}

// FromConfig is the sink.Constructor for "sqs" outputs.
func FromConfig(ctx context.Context, cfg config.OutputConfig, env sink.Env) (sink.Sink, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs: queue_url is required")
	}
	awsCfg, err := env.LoadAWSConfig(ctx, env.RegionFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqs: load aws config: %w", err)
	}
	return New(sqs.NewFromConfig(awsCfg), cfg.QueueURL), nil
}

// Name returns the sink identifier.
func (s *Sink) Name() string {
	return "sqs:" + s.queueURL
}

// Deliver sends the JSON-encoded record.
func (s *Sink) Deliver(ctx context.Context, rec record.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}

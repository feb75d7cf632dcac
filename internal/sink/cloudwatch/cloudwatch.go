// Package cloudwatch writes records to a CloudWatch Logs stream.
package cloudwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/trailpipe/internal/config"
	"github.com/yairfalse/trailpipe/internal/sink"
	"github.com/yairfalse/trailpipe/pkg/record"
)

// DefaultStream is used when the output sets no log stream.
const DefaultStream = "trailpipe"

// API defines the CloudWatch Logs operations used by the sink.
type API interface {
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// Sink puts one log event per record.
type Sink struct {
	client API
	group  string
	stream string
	now    func() time.Time
}

// New creates a Sink and ensures the log stream exists.
func New(ctx context.Context, client API, group, stream string) (*Sink, error) {
	if stream == "" {
		stream = DefaultStream
	}
	_, err := client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	})
	if err != nil {
		var exists *types.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return nil, fmt.Errorf("create log stream %s/%s: %w", group, stream, err)
		}
		log.Debug().Str("group", group).Str("stream", stream).Msg("log stream already exists")
	}
	return &Sink{client: client, group: group, stream: stream, now: time.Now}, nil
}

// FromConfig is the sink.Constructor for "cloudwatch" outputs.
func FromConfig(ctx context.Context, cfg config.OutputConfig, env sink.Env) (sink.Sink, error) {
	if cfg.LogGroup == "" {
		return nil, errors.New("cloudwatch: log_group is required")
	}
	awsCfg, err := env.LoadAWSConfig(ctx, env.RegionFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("cloudwatch: load aws config: %w", err)
	}
	return New(ctx, cloudwatchlogs.NewFromConfig(awsCfg), cfg.LogGroup, cfg.LogStream)
}

// Name returns the sink identifier.
func (s *Sink) Name() string {
	return "cloudwatch:" + s.group + "/" + s.stream
}

// Deliver puts the JSON-encoded record as a single event. The event
// timestamp is the record's eventTime when it parses, otherwise now.
func (s *Sink) Deliver(ctx context.Context, rec record.Record) error {
	msg, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	out, err := s.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(s.group),
		LogStreamName: aws.String(s.stream),
		LogEvents: []types.InputLogEvent{{
			Message:   aws.String(string(msg)),
			Timestamp: aws.Int64(s.timestamp(rec).UnixMilli()),
		}},
	})
	if err != nil {
		return fmt.Errorf("put log events: %w", err)
	}
	if info := out.RejectedLogEventsInfo; info != nil {
		return fmt.Errorf("%w: %s", ErrRejected, rejectReason(info))
	}
	return nil
}

// ErrRejected is wrapped when CloudWatch accepts the call but drops the event.
var ErrRejected = errors.New("log event rejected")

func rejectReason(info *types.RejectedLogEventsInfo) string {
	switch {
	case info.TooOldLogEventEndIndex != nil:
		return "older than the log group retention window"
	case info.TooNewLogEventStartIndex != nil:
		return "too far in the future"
	case info.ExpiredLogEventEndIndex != nil:
		return "expired by retention"
	}
	return "unknown reason"
}

func (s *Sink) timestamp(rec record.Record) time.Time {
	if v, ok := rec.String("eventTime"); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return s.now()
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}

// Package dynamodb stores records as items in a DynamoDB table.
package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/yairfalse/trailpipe/internal/config"
	"github.com/yairfalse/trailpipe/internal/sink"
	"github.com/yairfalse/trailpipe/pkg/record"
)

// DefaultKey is the record field used as the partition key.
const DefaultKey = "eventID"

// API defines the DynamoDB operations used by the sink.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Sink writes one item per record. The item holds the key attribute, the
// record type, the event time when present, and the full record as JSON.
type Sink struct {
	client API
	table  string
	key    string
}

// New creates a Sink for table, keyed by the given record field.
func New(client API, table, key string) *Sink {
	if key == "" {
		key = DefaultKey
	}
	return &Sink{client: client, table: table, key: key}
}

// FromConfig is the sink.Constructor for "dynamodb" outputs.
func FromConfig(ctx context.Context, cfg config.OutputConfig, env sink.Env) (sink.Sink, error) {
	if cfg.Table == "" {
		return nil, errors.New("dynamodb: table is required")
	}
	awsCfg, err := env.LoadAWSConfig(ctx, env.RegionFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(awsCfg), cfg.Table, cfg.Key), nil
}

// Name returns the sink identifier.
func (s *Sink) Name() string {
	return "dynamodb:" + s.table
}

// Deliver puts the record. Records without the key field are rejected.
func (s *Sink) Deliver(ctx context.Context, rec record.Record) error {
	id, ok := rec.String(s.key)
	if !ok || id == "" {
		return fmt.Errorf("record has no %s", s.key)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	item := map[string]types.AttributeValue{
		s.key:    &types.AttributeValueMemberS{Value: id},
		"type":   &types.AttributeValueMemberS{Value: rec.Type()},
		"record": &types.AttributeValueMemberS{Value: string(body)},
	}
	if t, ok := rec.String("eventTime"); ok {
		item["eventTime"] = &types.AttributeValueMemberS{Value: t}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}

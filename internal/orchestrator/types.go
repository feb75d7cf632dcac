package orchestrator

import (
	"context"
	"time"

	awscloudtrail "github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/trailpipe/internal/cloudtrail"
	"github.com/yairfalse/trailpipe/internal/config"
	"github.com/yairfalse/trailpipe/internal/credentials"
)

// DefaultRegion is used when neither the input nor the CLI sets a region.
const DefaultRegion = "us-east-1"

// Input is one CloudTrail source to import.
type Input struct {
	Type        string
	Account     string
	Bucket      string
	Region      string
	KeyPrefix   string
	Trail       string
	Credentials credentials.Spec
	Fields      map[string]any
}

// InputsFromConfig converts configured inputs, filling the region from
// defaultRegion when an input sets none.
func InputsFromConfig(inputs []config.InputConfig, defaultRegion string) []Input {
	if defaultRegion == "" {
		defaultRegion = DefaultRegion
	}
	result := make([]Input, 0, len(inputs))
	for _, in := range inputs {
		region := in.Region
		if region == "" {
			region = defaultRegion
		}
		result = append(result, Input{
			Type:      in.Type,
			Account:   in.Account,
			Bucket:    in.Bucket,
			Region:    region,
			KeyPrefix: in.KeyPrefix,
			Trail:     in.Trail,
			Credentials: credentials.Spec{
				AccessKey:    in.AWSKey,
				SecretKey:    in.AWSSecret,
				Role:         in.AWSRole,
				DefaultChain: in.DefaultChain,
			},
			Fields: in.AddField,
		})
	}
	return result
}

// RunResult contains the results of one ingestion run
type RunResult struct {
	Date      string        `json:"date"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	InputsProcessed  int `json:"inputs_processed"`
	InputsFailed     int `json:"inputs_failed"`
	AuthFailures     int `json:"auth_failures"`
	ObjectsListed    int `json:"objects_listed"`
	ObjectsFailed    int `json:"objects_failed"`
	RecordsRead      int `json:"records_read"`
	RecordsDelivered int `json:"records_delivered"`
	RecordsDropped   int `json:"records_dropped"`
	SinkErrors       int `json:"sink_errors"`
}

// CredentialResolver turns an input's credential spec into credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, account string, spec credentials.Spec, overrides credentials.Overrides) (credentials.Resolved, error)
}

// Clients are the AWS clients used for one input.
type Clients struct {
	S3     cloudtrail.S3API
	Trails cloudtrail.CloudTrailAPI
}

// ClientFactory builds the clients for an input from its credentials.
type ClientFactory func(ctx context.Context, creds credentials.Resolved, region string) (Clients, error)

// DefaultClients builds SDK clients from the resolved credentials.
func DefaultClients(ctx context.Context, creds credentials.Resolved, region string) (Clients, error) {
	cfg, err := creds.AWSConfig(ctx, region)
	if err != nil {
		return Clients{}, err
	}
	return Clients{
		S3:     s3.NewFromConfig(cfg),
		Trails: awscloudtrail.NewFromConfig(cfg),
	}, nil
}

// Metrics receives run counters.
type Metrics interface {
	ObjectProcessed(ctx context.Context, status string)
	RecordsDelivered(ctx context.Context, n int)
	RecordsDropped(ctx context.Context, n int)
	SinkError(ctx context.Context, sink string)
	RunFinished(ctx context.Context, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObjectProcessed(context.Context, string) {}
func (nopMetrics) RecordsDelivered(context.Context, int) {}
func (nopMetrics) RecordsDropped(context.Context, int) {}
func (nopMetrics) SinkError(context.Context, string) {}
func (nopMetrics) RunFinished(context.Context, time.Duration) {}

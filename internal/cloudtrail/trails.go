package cloudtrail

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
)

// CloudTrailAPI defines the CloudTrail operations used for bucket discovery.
type CloudTrailAPI interface {
	DescribeTrails(ctx context.Context, params *cloudtrail.DescribeTrailsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error)
}

// Trail is where a trail delivers its log files.
type Trail struct {
	Name      string
	Bucket    string
	KeyPrefix string
}

// DiscoverTrail looks up the S3 destination of a trail. With an empty name the
// first trail that delivers to S3 is used. Failures are *StoreError.
func DiscoverTrail(ctx context.Context, client CloudTrailAPI, name string) (Trail, error) {
	input := &cloudtrail.DescribeTrailsInput{IncludeShadowTrails: aws.Bool(true)}
	if name != "" {
		input.TrailNameList = []string{name}
	}

	output, err := client.DescribeTrails(ctx, input)
	if err != nil {
		return Trail{}, &StoreError{Trail: name, Err: fmt.Errorf("describe trails: %w", err)}
	}

	for _, t := range output.TrailList {
		if aws.ToString(t.S3BucketName) == "" {
			continue
		}
		return Trail{
			Name:      aws.ToString(t.Name),
			Bucket:    aws.ToString(t.S3BucketName),
			KeyPrefix: aws.ToString(t.S3KeyPrefix),
		}, nil
	}

	if name != "" {
		return Trail{}, &StoreError{Trail: name, Err: errors.New("no s3 destination")}
	}
	return Trail{}, &StoreError{Err: errors.New("no trail delivers to s3")}
}

// Package cloudtrail lists and reads CloudTrail log objects from S3.
package cloudtrail

import (
	"context"
	"iter"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API defines the S3 operations used by the enumerator and extractor.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Object is a remote log object found under a day's prefix.
type Object struct {
	Bucket     string
	Key        string
	Size       int64
	Compressed bool
}

// NewObject builds an Object, inferring compression from the key suffix.
func NewObject(bucket, key string, size int64) Object {
	return Object{
		Bucket:     bucket,
		Key:        key,
		Size:       size,
		Compressed: strings.HasSuffix(key, ".gz"),
	}
}

// Enumerator lists the objects under a prefix.
type Enumerator struct {
	client S3API
}

// NewEnumerator creates an enumerator backed by the given S3 client.
func NewEnumerator(client S3API) *Enumerator {
	return &Enumerator{client: client}
}

// List returns a lazy sequence of the objects under prefix. Every range over
// the sequence starts a fresh listing. A listing failure is yielded once as a
// *StoreError and ends the sequence.
func (e *Enumerator) List(ctx context.Context, bucket, prefix string) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(e.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		})

		for paginator.HasMorePages() {
			output, err := paginator.NextPage(ctx)
			if err != nil {
				yield(Object{}, &StoreError{Bucket: bucket, Prefix: prefix, Err: err})
				return
			}

			for _, obj := range output.Contents {
				key := aws.ToString(obj.Key)
				if key == "" || strings.HasSuffix(key, "/") {
					continue
				}
				if !yield(NewObject(bucket, key, aws.ToInt64(obj.Size)), nil) {
					return
				}
			}
		}
	}
}

package cloudtrail

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/trailpipe/pkg/record"
)

// ErrMissingRecords is wrapped when a container has no Records array.
var ErrMissingRecords = errors.New("container has no Records array")

// Extractor downloads objects and parses their Records container.
type Extractor struct {
	client     S3API
	stagingDir string
	tracer     trace.Tracer
}

// NewExtractor creates an extractor. Objects are staged in stagingDir, or the
// system temp dir when it is empty.
func NewExtractor(client S3API, stagingDir string) *Extractor {
	return &Extractor{
		client:     client,
		stagingDir: stagingDir,
		tracer:     otel.Tracer("trailpipe/cloudtrail"),
	}
}

// Extract downloads obj and returns its records in container order.
// Any failure is returned as an *ExtractError. The staging file is removed
// before Extract returns.
func (x *Extractor) Extract(ctx context.Context, obj Object) ([]record.Record, error) {
	ctx, span := x.tracer.Start(ctx, "cloudtrail.extract", trace.WithAttributes(
		attribute.String("s3.bucket", obj.Bucket),
		attribute.String("s3.key", obj.Key),
	))
	defer span.End()

	records, err := x.extract(ctx, obj)
	if err != nil {
		span.RecordError(err)
		return nil, &ExtractError{Bucket: obj.Bucket, Key: obj.Key, Err: err}
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

func (x *Extractor) extract(ctx context.Context, obj Object) ([]record.Record, error) {
	staged, err := os.CreateTemp(x.stagingDir, "trailpipe-*")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		_ = staged.Close()
		_ = os.Remove(staged.Name())
	}()

	if err := x.download(ctx, obj, staged); err != nil {
		return nil, err
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind staging file: %w", err)
	}

	var r io.Reader = staged
	if obj.Compressed {
		gz, err := gzip.NewReader(staged)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	return ParseRecords(r)
}

func (x *Extractor) download(ctx context.Context, obj Object, w io.Writer) error {
	output, err := x.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		return fmt.Errorf("get object: %w", err)
	}
	defer func() { _ = output.Body.Close() }()

	if _, err := io.Copy(w, output.Body); err != nil {
		return fmt.Errorf("download object: %w", err)
	}
	return nil
}

// ParseRecords decodes a {"Records": [...]} container. Numbers are kept as
// json.Number so large integers survive re-encoding.
func ParseRecords(r io.Reader) ([]record.Record, error) {
	var container struct {
		Records json.RawMessage `json:"Records"`
	}
	if err := json.NewDecoder(r).Decode(&container); err != nil {
		return nil, fmt.Errorf("decode container: %w", err)
	}
	if len(container.Records) == 0 || bytes.Equal(container.Records, []byte("null")) {
		return nil, ErrMissingRecords
	}

	dec := json.NewDecoder(bytes.NewReader(container.Records))
	dec.UseNumber()
	var records []record.Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	for i, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("record %d is not an object", i)
		}
	}
	return records, nil
}

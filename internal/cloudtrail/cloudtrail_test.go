package cloudtrail

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client implements S3API for testing.
type mockS3Client struct {
	ListObjectsV2Func func(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObjectFunc     func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func (m *mockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.ListObjectsV2Func != nil {
		return m.ListObjectsV2Func(ctx, params, optFns...)
	}
	return &s3.ListObjectsV2Output{}, nil
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.GetObjectFunc != nil {
		return m.GetObjectFunc(ctx, params, optFns...)
	}
	return nil, errors.New("NoSuchKey")
}

func objectBody(data []byte) *s3.GetObjectOutput {
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestNewObject_Compression(t *testing.T) {
	assert.True(t, NewObject("b", "AWSLogs/1/x.json.gz", 10).Compressed)
	assert.False(t, NewObject("b", "AWSLogs/1/x.json", 10).Compressed)
}

func TestList(t *testing.T) {
	var gotPrefix, gotBucket string
	mock := &mockS3Client{
		ListObjectsV2Func: func(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			gotBucket = aws.ToString(params.Bucket)
			gotPrefix = aws.ToString(params.Prefix)
			return &s3.ListObjectsV2Output{
				Contents: []s3types.Object{
					{Key: aws.String("AWSLogs/1/CloudTrail/us-east-1/2024/03/05/"), Size: aws.Int64(0)},
					{Key: aws.String("AWSLogs/1/CloudTrail/us-east-1/2024/03/05/a.json.gz"), Size: aws.Int64(120)},
					{Key: aws.String("AWSLogs/1/CloudTrail/us-east-1/2024/03/05/b.json"), Size: aws.Int64(80)},
				},
			}, nil
		},
	}

	e := NewEnumerator(mock)
	var objects []Object
	for obj, err := range e.List(context.Background(), "acct-logs", "AWSLogs/1/CloudTrail/us-east-1/2024/03/05/") {
		require.NoError(t, err)
		objects = append(objects, obj)
	}

	assert.Equal(t, "acct-logs", gotBucket)
	assert.Equal(t, "AWSLogs/1/CloudTrail/us-east-1/2024/03/05/", gotPrefix)
	require.Len(t, objects, 2)
	assert.Equal(t, "AWSLogs/1/CloudTrail/us-east-1/2024/03/05/a.json.gz", objects[0].Key)
	assert.True(t, objects[0].Compressed)
	assert.Equal(t, int64(120), objects[0].Size)
	assert.Equal(t, "acct-logs", objects[0].Bucket)
	assert.False(t, objects[1].Compressed)
}

func TestList_Pagination(t *testing.T) {
	callCount := 0
	mock := &mockS3Client{
		ListObjectsV2Func: func(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			callCount++
			if params.ContinuationToken == nil {
				return &s3.ListObjectsV2Output{
					Contents:              []s3types.Object{{Key: aws.String("p/1.json.gz")}},
					IsTruncated:           aws.Bool(true),
					NextContinuationToken: aws.String("token"),
				}, nil
			}
			return &s3.ListObjectsV2Output{
				Contents:    []s3types.Object{{Key: aws.String("p/2.json.gz")}},
				IsTruncated: aws.Bool(false),
			}, nil
		},
	}

	var keys []string
	for obj, err := range NewEnumerator(mock).List(context.Background(), "b", "p/") {
		require.NoError(t, err)
		keys = append(keys, obj.Key)
	}

	assert.Equal(t, []string{"p/1.json.gz", "p/2.json.gz"}, keys)
	assert.Equal(t, 2, callCount)
}

func TestList_Restartable(t *testing.T) {
	callCount := 0
	mock := &mockS3Client{
		ListObjectsV2Func: func(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			callCount++
			return &s3.ListObjectsV2Output{Contents: []s3types.Object{{Key: aws.String("p/1.json")}}}, nil
		},
	}

	seq := NewEnumerator(mock).List(context.Background(), "b", "p/")
	for range 2 {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		assert.Equal(t, 1, n)
	}
	assert.Equal(t, 2, callCount)
}

func TestList_StoreError(t *testing.T) {
	mock := &mockS3Client{
		ListObjectsV2Func: func(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			return nil, errors.New("AccessDenied")
		},
	}

	var errs []error
	for _, err := range NewEnumerator(mock).List(context.Background(), "acct-logs", "p/") {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	var storeErr *StoreError
	require.ErrorAs(t, errs[0], &storeErr)
	assert.Equal(t, "acct-logs", storeErr.Bucket)
	assert.Contains(t, errs[0].Error(), "AccessDenied")
}

func TestParseRecords_Order(t *testing.T) {
	records, err := ParseRecords(strings.NewReader(`{"Records":[{"eventName":"r1"},{"eventName":"r2"}]}`))

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0]["eventName"])
	assert.Equal(t, "r2", records[1]["eventName"])
}

func TestParseRecords_KeepsNumbers(t *testing.T) {
	records, err := ParseRecords(strings.NewReader(`{"Records":[{"bytes":12345678901234567890}]}`))

	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567890"), records[0]["bytes"])
}

func TestParseRecords_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing records", `{"Other":[]}`},
		{"null records", `{"Records":null}`},
		{"records not array", `{"Records":{"eventName":"x"}}`},
		{"record not object", `{"Records":["x"]}`},
		{"null record", `{"Records":[null]}`},
		{"not json", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecords(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestParseRecords_Empty(t *testing.T) {
	records, err := ParseRecords(strings.NewReader(`{"Records":[]}`))

	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExtract_Gzip(t *testing.T) {
	body := gzipped(t, []byte(`{"Records":[{"eventName":"ConsoleLogin"},{"eventName":"AssumeRole"}]}`))
	mock := &mockS3Client{
		GetObjectFunc: func(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			assert.Equal(t, "acct-logs", aws.ToString(params.Bucket))
			assert.Equal(t, "p/a.json.gz", aws.ToString(params.Key))
			return objectBody(body), nil
		},
	}
	staging := t.TempDir()

	records, err := NewExtractor(mock, staging).Extract(context.Background(), NewObject("acct-logs", "p/a.json.gz", 0))

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ConsoleLogin", records[0]["eventName"])
	assert.Equal(t, "AssumeRole", records[1]["eventName"])
	assertEmptyDir(t, staging)
}

func TestExtract_Raw(t *testing.T) {
	mock := &mockS3Client{
		GetObjectFunc: func(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return objectBody([]byte(`{"Records":[{"eventName":"ConsoleLogin"}]}`)), nil
		},
	}
	staging := t.TempDir()

	records, err := NewExtractor(mock, staging).Extract(context.Background(), NewObject("b", "p/a.json", 0))

	require.NoError(t, err)
	require.Len(t, records, 1)
	assertEmptyDir(t, staging)
}

func TestExtract_ParseFailureCleansUp(t *testing.T) {
	mock := &mockS3Client{
		GetObjectFunc: func(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return objectBody([]byte(`{"NotRecords":1}`)), nil
		},
	}
	staging := t.TempDir()

	_, err := NewExtractor(mock, staging).Extract(context.Background(), NewObject("b", "p/bad.json", 0))

	var extractErr *ExtractError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "p/bad.json", extractErr.Key)
	assert.ErrorIs(t, err, ErrMissingRecords)
	assertEmptyDir(t, staging)
}

func TestExtract_BadGzipCleansUp(t *testing.T) {
	mock := &mockS3Client{
		GetObjectFunc: func(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return objectBody([]byte(`{"Records":[]}`)), nil
		},
	}
	staging := t.TempDir()

	_, err := NewExtractor(mock, staging).Extract(context.Background(), NewObject("b", "p/plain.json.gz", 0))

	var extractErr *ExtractError
	require.ErrorAs(t, err, &extractErr)
	assertEmptyDir(t, staging)
}

func TestExtract_GetObjectFailure(t *testing.T) {
	staging := t.TempDir()

	_, err := NewExtractor(&mockS3Client{}, staging).Extract(context.Background(), NewObject("b", "p/missing.json", 0))

	var extractErr *ExtractError
	require.ErrorAs(t, err, &extractErr)
	assert.Contains(t, err.Error(), "NoSuchKey")
	assertEmptyDir(t, staging)
}

// mockCloudTrailClient implements CloudTrailAPI for testing.
type mockCloudTrailClient struct {
	DescribeTrailsFunc func(ctx context.Context, params *cloudtrail.DescribeTrailsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error)
}

func (m *mockCloudTrailClient) DescribeTrails(ctx context.Context, params *cloudtrail.DescribeTrailsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error) {
	if m.DescribeTrailsFunc != nil {
		return m.DescribeTrailsFunc(ctx, params, optFns...)
	}
	return &cloudtrail.DescribeTrailsOutput{}, nil
}

func TestDiscoverTrail(t *testing.T) {
	mock := &mockCloudTrailClient{
		DescribeTrailsFunc: func(_ context.Context, params *cloudtrail.DescribeTrailsInput, _ ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error) {
			assert.Equal(t, []string{"org-trail"}, params.TrailNameList)
			return &cloudtrail.DescribeTrailsOutput{
				TrailList: []cttypes.Trail{
					{Name: aws.String("org-trail"), S3BucketName: aws.String("org-logs"), S3KeyPrefix: aws.String("org")},
				},
			}, nil
		},
	}

	trail, err := DiscoverTrail(context.Background(), mock, "org-trail")

	require.NoError(t, err)
	assert.Equal(t, Trail{Name: "org-trail", Bucket: "org-logs", KeyPrefix: "org"}, trail)
}

func TestDiscoverTrail_SkipsTrailsWithoutBucket(t *testing.T) {
	mock := &mockCloudTrailClient{
		DescribeTrailsFunc: func(_ context.Context, params *cloudtrail.DescribeTrailsInput, _ ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error) {
			assert.Empty(t, params.TrailNameList)
			return &cloudtrail.DescribeTrailsOutput{
				TrailList: []cttypes.Trail{
					{Name: aws.String("cw-only")},
					{Name: aws.String("main"), S3BucketName: aws.String("main-logs")},
				},
			}, nil
		},
	}

	trail, err := DiscoverTrail(context.Background(), mock, "")

	require.NoError(t, err)
	assert.Equal(t, "main-logs", trail.Bucket)
}

func TestDiscoverTrail_NoTrail(t *testing.T) {
	_, err := DiscoverTrail(context.Background(), &mockCloudTrailClient{}, "")

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "store trail discovery: no trail delivers to s3", err.Error())
}

func TestDiscoverTrail_APIError(t *testing.T) {
	mock := &mockCloudTrailClient{
		DescribeTrailsFunc: func(_ context.Context, _ *cloudtrail.DescribeTrailsInput, _ ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error) {
			return nil, errors.New("AccessDenied")
		},
	}

	_, err := DiscoverTrail(context.Background(), mock, "x")

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "store trail x: describe trails: AccessDenied", err.Error())
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging files must be removed")
}

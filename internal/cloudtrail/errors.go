package cloudtrail

import "fmt"

// StoreError reports a bucket-level failure. It aborts the affected input.
// Discovery failures carry no bucket and set Trail instead.
type StoreError struct {
	Bucket string
	Prefix string
	Trail  string
	Err    error
}

func (e *StoreError) Error() string {
	if e.Bucket == "" {
		if e.Trail == "" {
			return fmt.Sprintf("store trail discovery: %v", e.Err)
		}
		return fmt.Sprintf("store trail %s: %v", e.Trail, e.Err)
	}
	return fmt.Sprintf("store s3://%s/%s: %v", e.Bucket, e.Prefix, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ExtractError reports a failure to download or parse a single object.
// The object is skipped and the run continues.
type ExtractError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

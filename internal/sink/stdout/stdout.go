// Package stdout writes records to standard output as JSON lines.
package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/yairfalse/trailpipe/internal/config"
	"github.com/yairfalse/trailpipe/internal/sink"
	"github.com/yairfalse/trailpipe/pkg/record"
)

// Sink writes one JSON object per line.
type Sink struct {
	enc *json.Encoder
}

// New creates a Sink writing to w.
func New(w io.Writer) *Sink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Sink{enc: enc}
}

// FromConfig is the sink.Constructor for "stdout" outputs.
func FromConfig(_ context.Context, _ config.OutputConfig, _ sink.Env) (sink.Sink, error) {
	return New(os.Stdout), nil
}

// Name returns the sink identifier.
func (s *Sink) Name() string {
	return "stdout"
}

// Deliver writes the record as a single line.
func (s *Sink) Deliver(_ context.Context, rec record.Record) error {
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

// Close is a no-op; stdout stays open.
func (s *Sink) Close() error {
	return nil
}

// Package filter decides which enriched records are forwarded.
package filter

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/yairfalse/trailpipe/internal/config"
	"github.com/yairfalse/trailpipe/pkg/record"
)

// PolicyQuery is evaluated against every record when a policy is loaded.
// A true result drops the record.
const PolicyQuery = "data.trailpipe.drop"

// Filter drops records by event name, field values or a Rego policy.
type Filter struct {
	excludeEvents map[string]bool
	includeFields map[string]string
	excludeFields map[string]string
	policy        *rego.PreparedEvalQuery
}

// New creates a new Filter from the provided field rules.
func New(excludeEvents []string, includeFields, excludeFields map[string]string) *Filter {
	excludeMap := make(map[string]bool)
	for _, e := range excludeEvents {
		excludeMap[e] = true
	}

	return &Filter{
		excludeEvents: excludeMap,
		includeFields: includeFields,
		excludeFields: excludeFields,
	}
}

// FromConfig builds a Filter, compiling the policy file when one is set.
func FromConfig(ctx context.Context, cfg config.FilterConfig) (*Filter, error) {
	f := New(cfg.ExcludeEvents, cfg.IncludeFields, cfg.ExcludeFields)
	if cfg.Policy == "" {
		return f, nil
	}

	module, err := os.ReadFile(cfg.Policy) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	if err := f.LoadPolicy(ctx, cfg.Policy, string(module)); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadPolicy compiles a Rego module defining trailpipe.drop.
func (f *Filter) LoadPolicy(ctx context.Context, name, module string) error {
	query, err := rego.New(
		rego.Query(PolicyQuery),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("compile policy %s: %w", name, err)
	}
	f.policy = &query
	return nil
}

// Keep returns true if the record should be forwarded.
func (f *Filter) Keep(ctx context.Context, rec record.Record) (bool, error) {
	if name, ok := rec.String("eventName"); ok && f.excludeEvents[name] {
		return false, nil
	}

	// Include fields (whitelist) - ALL must match
	for k, v := range f.includeFields {
		if got, ok := rec.String(k); !ok || got != v {
			return false, nil
		}
	}

	// Exclude fields (blacklist) - ANY match excludes
	for k, v := range f.excludeFields {
		if got, ok := rec.String(k); ok && got == v {
			return false, nil
		}
	}

	if f.policy == nil {
		return true, nil
	}
	rs, err := f.policy.Eval(ctx, rego.EvalInput(map[string]any(rec)))
	if err != nil {
		return false, fmt.Errorf("evaluate policy: %w", err)
	}
	return !rs.Allowed(), nil
}

// IsEmpty returns true if no rules are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.excludeEvents) == 0 && len(f.includeFields) == 0 && len(f.excludeFields) == 0 && f.policy == nil
}

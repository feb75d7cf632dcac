// Package enrich adds static metadata to raw records.
package enrich

import "github.com/yairfalse/trailpipe/pkg/record"

// Enrich returns a copy of raw tagged with typ and with the configured fields
// added. Fields never overwrite a key already present, including the type tag.
func Enrich(raw record.Record, typ string, fields map[string]any) record.Record {
	out := raw.Clone()
	out[record.TypeField] = typ
	for k, v := range fields {
		if _, exists := out[k]; exists {
			continue
		}
		out[k] = v
	}
	return out
}

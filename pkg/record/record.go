// Package record defines the log record model shared by every trailpipe stage.
package record

// TypeField is the key every delivered record carries.
const TypeField = "type"

// Record is one audit event plus the fields trailpipe adds to it.
// Values are whatever the JSON decoder produced (json.Number for numbers).
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r)+4)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the value under key if it is a string.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Type returns the record's type tag, empty when unset.
func (r Record) Type() string {
	s, _ := r.String(TypeField)
	return s
}

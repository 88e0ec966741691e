// Package stix models the subset of STIX 2.1 objects the feed layer reads.
package stix

import (
	"bytes"
	"encoding/json"
	"time"
)

// SpecVersion is the only spec_version admitted into a feed.
const SpecVersion = "2.1"

// Common object types produced by the fixture generator.
const (
	TypeIndicator     = "indicator"
	TypeAttackPattern = "attack-pattern"
	TypeRelationship  = "relationship"
	TypeIdentity      = "identity"
)

// Object is a threat object as read from a shard. Only the fields the feed
// filters and sorts on are decoded; the original document is kept verbatim
// and written back unchanged.
type Object struct {
	ID          string
	Type        string
	SpecVersion string
	ValidFrom   string
	Created     string

	raw json.RawMessage
}

// Decode extracts an Object from a raw JSON value. It reports false when the
// value is not a JSON object. Fields of the wrong JSON type are treated as
// absent.
func Decode(raw json.RawMessage) (Object, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Object{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Object{}, false
	}
	return Object{
		ID:          stringField(fields, "id"),
		Type:        stringField(fields, "type"),
		SpecVersion: stringField(fields, "spec_version"),
		ValidFrom:   stringField(fields, "valid_from"),
		Created:     stringField(fields, "created"),
		raw:         append(json.RawMessage(nil), trimmed...),
	}, true
}

func stringField(fields map[string]json.RawMessage, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

// Timestamp returns valid_from if set, else created. ok is false when the
// object carries neither.
func (o Object) Timestamp() (string, bool) {
	if o.ValidFrom != "" {
		return o.ValidFrom, true
	}
	if o.Created != "" {
		return o.Created, true
	}
	return "", false
}

// EffectiveTime is the instant the feed orders and filters by. Missing or
// unparsable timestamps resolve to the Unix epoch.
func (o Object) EffectiveTime() time.Time {
	ts, ok := o.Timestamp()
	if !ok {
		return Epoch
	}
	t, ok := ParseTimestamp(ts)
	if !ok {
		return Epoch
	}
	return t
}

// Raw is the document the object was decoded from, or nil for an object
// built in code.
func (o Object) Raw() json.RawMessage { return o.raw }

// MarshalJSON writes the original document.
func (o Object) MarshalJSON() ([]byte, error) {
	if len(o.raw) > 0 {
		return o.raw, nil
	}
	out := map[string]string{
		"id":           o.ID,
		"type":         o.Type,
		"spec_version": o.SpecVersion,
	}
	if o.ValidFrom != "" {
		out["valid_from"] = o.ValidFrom
	}
	if o.Created != "" {
		out["created"] = o.Created
	}
	return json.Marshal(out)
}

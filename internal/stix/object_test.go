package stix

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	raw := json.RawMessage(`{"type":"indicator","spec_version":"2.1","id":"indicator--1","valid_from":"2024-01-01T00:00:00.000000Z","name":"x"}`)

	obj, ok := Decode(raw)
	require.True(t, ok)
	assert.Equal(t, "indicator--1", obj.ID)
	assert.Equal(t, TypeIndicator, obj.Type)
	assert.Equal(t, SpecVersion, obj.SpecVersion)
	assert.Equal(t, "2024-01-01T00:00:00.000000Z", obj.ValidFrom)

	out, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestDecode_NotAnObject(t *testing.T) {
	for _, raw := range []string{`"indicator--1"`, `42`, `[{"id":"x"}]`, `null`, ``, `{broken`} {
		_, ok := Decode(json.RawMessage(raw))
		assert.False(t, ok, "Decode(%q)", raw)
	}
}

func TestDecode_WrongFieldTypes(t *testing.T) {
	obj, ok := Decode(json.RawMessage(`{"id":7,"type":["indicator"],"spec_version":2.1}`))
	require.True(t, ok)
	assert.Empty(t, obj.ID)
	assert.Empty(t, obj.Type)
	assert.Empty(t, obj.SpecVersion)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-01T00:00:00.000000Z", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024-01-01T00:00:00.250000Z", time.Date(2024, 1, 1, 0, 0, 0, 250_000_000, time.UTC), true},
		{"2025-08-10T12:30:45Z", time.Date(2025, 8, 10, 12, 30, 45, 0, time.UTC), true},
		{"2025-08-10T12:30:45+00:00", time.Time{}, false},
		{"2025-08-10", time.Time{}, false},
		{"2024-01-01T00:00:00.5Z", time.Date(2024, 1, 1, 0, 0, 0, 500_000_000, time.UTC), true},
		{"2024-01-01T00:00:00.1234567Z", time.Time{}, false},
		{"2024-01-01T00:00:00,5Z", time.Time{}, false},
		{"2024-01-01T00:00:00.Z", time.Time{}, false},
		{"2024-01-01T00:00:00.12a4Z", time.Time{}, false},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseTimestamp(tt.in)
		assert.Equal(t, tt.ok, ok, "ParseTimestamp(%q) ok", tt.in)
		if tt.ok {
			assert.True(t, tt.want.Equal(got), "ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEffectiveTime(t *testing.T) {
	validFrom := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		obj  Object
		want time.Time
	}{
		{"valid_from wins", Object{ValidFrom: FormatTimestamp(validFrom), Created: FormatTimestamp(created)}, validFrom},
		{"created fallback", Object{Created: FormatTimestamp(created)}, created},
		{"no timestamps", Object{}, Epoch},
		{"unparsable valid_from does not fall back", Object{ValidFrom: "soon", Created: FormatTimestamp(created)}, Epoch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(tt.obj.EffectiveTime()), "got %v, want %v", tt.obj.EffectiveTime(), tt.want)
		})
	}
}

package paging

import (
	"encoding/base64"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 2, 99, 100, 1000, 10_000, 1<<31 - 1, math.MaxInt} {
		token := Encode(n)
		assert.Equal(t, n, Decode(token), "Decode(Encode(%d))", n)
		assert.NotContains(t, token, "=")
		assert.NotContains(t, token, "+")
		assert.NotContains(t, token, "/")
	}
}

func TestEncode_Format(t *testing.T) {
	// {"o":2}
	assert.Equal(t, "eyJvIjoyfQ", Encode(2))
	assert.Equal(t, Encode(0), Encode(-5))
}

func TestDecode_AcceptsPadding(t *testing.T) {
	padded := base64.URLEncoding.EncodeToString([]byte(`{"o":25}`))
	assert.True(t, strings.HasSuffix(padded, "="))
	assert.Equal(t, 25, Decode(padded))
}

func TestDecode_Malformed(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := map[string]string{
		"empty":         "",
		"not base64":    "!!!not-base64!!!",
		"not json":      enc("hello"),
		"array":         enc(`[1]`),
		"null":          enc(`null`),
		"missing field": enc(`{"x":3}`),
		"negative":      enc(`{"o":-4}`),
		"fraction":      enc(`{"o":2.5}`),
		"exponent":      enc(`{"o":1e3}`),
		"word":          enc(`{"o":"ten"}`),
		"overflow":      enc(`{"o":99999999999999999999999}`),
		"trailing":      enc(`{"o":3}{"o":4}`),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, 0, Decode(token))
			_, ok := Parse(token)
			assert.False(t, ok)
		})
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(Encode(7))
	f.Add("")
	f.Add("====")
	f.Fuzz(func(t *testing.T, token string) {
		if n := Decode(token); n < 0 {
			t.Fatalf("Decode(%q) = %d, want >= 0", token, n)
		}
	})
}

// Package paging encodes and decodes opaque pagination cursors.
//
// A cursor is the unpadded base64url encoding of {"o":<offset>}. Cursors are
// not secrets: a tampered cursor only moves the read position, and callers
// clamp the decoded offset to the result set.
package paging

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
)

type cursor struct {
	Offset json.Number `json:"o"`
}

// Encode returns the cursor for offset. Negative offsets encode as 0.
func Encode(offset int) string {
	if offset < 0 {
		offset = 0
	}
	data := []byte(`{"o":` + strconv.Itoa(offset) + `}`)
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode returns the offset carried by token. An empty, malformed, negative
// or non-integer cursor decodes to 0.
func Decode(token string) int {
	offset, ok := Parse(token)
	if !ok {
		return 0
	}
	return offset
}

// Parse is Decode with the failure made visible.
func Parse(token string) (int, bool) {
	token = strings.TrimRight(token, "=")
	if token == "" {
		return 0, false
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, false
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var c cursor
	if err := dec.Decode(&c); err != nil {
		return 0, false
	}
	if dec.More() {
		return 0, false
	}
	if c.Offset == "" {
		return 0, false
	}
	n, err := strconv.Atoi(c.Offset.String())
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Package conditional derives HTTP cache validators from a result set and
// evaluates conditional request headers against them.
package conditional

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"taxiifeed/internal/stix"
)

// Validators are derived from a result set, never stored.
type Validators struct {
	ETag         string
	LastModified time.Time
}

// LastModifiedHeader formats LastModified as an HTTP-date.
func (v Validators) LastModifiedHeader() string {
	return v.LastModified.UTC().Format(http.TimeFormat)
}

// Compute returns the validators for objects produced under the filter
// described by summary. objects must be the full filtered set, not a page.
func Compute(objects []stix.Object, summary string) Validators {
	lm := LastModified(objects)
	sum := sha256.Sum256([]byte(canonicalTime(lm) + "|" + strconv.Itoa(len(objects)) + "|" + summary))
	return Validators{
		ETag:         `W/"` + hex.EncodeToString(sum[:])[:16] + `"`,
		LastModified: lm,
	}
}

// LastModified is the greatest effective timestamp in objects, or the epoch
// for an empty set.
func LastModified(objects []stix.Object) time.Time {
	latest := stix.Epoch
	for _, obj := range objects {
		if t := obj.EffectiveTime(); t.After(latest) {
			latest = t
		}
	}
	return latest.Truncate(time.Microsecond)
}

// canonicalTime renders t as YYYY-MM-DDTHH:MM:SS[.ffffff]+00:00, omitting
// the fraction when it is zero.
func canonicalTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 != 0 {
		return t.Format("2006-01-02T15:04:05.000000") + "+00:00"
	}
	return t.Format("2006-01-02T15:04:05") + "+00:00"
}

// FilterSummary describes the filter parameters that produced a result set.
// The type list is trimmed, de-duplicated and sorted so that equivalent
// requests summarize identically.
func FilterSummary(types []string, total int) string {
	norm := NormalizeTypes(types)
	list := "all"
	if len(norm) > 0 {
		list = strings.Join(norm, ",")
	}
	return "types=" + list + ";total=" + strconv.Itoa(total)
}

// NormalizeTypes trims, drops empties, de-duplicates and sorts types.
func NormalizeTypes(types []string) []string {
	var out []string
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Result says why a request was or was not considered fresh.
type Result int

const (
	Modified Result = iota
	MatchedETag
	NotModifiedSince
)

func (r Result) String() string {
	switch r {
	case MatchedETag:
		return "etag"
	case NotModifiedSince:
		return "if_modified_since"
	default:
		return "modified"
	}
}

// Evaluate checks If-None-Match first and If-Modified-Since second. An
// If-None-Match value must equal the ETag exactly. An unparsable
// If-Modified-Since is treated as absent.
func Evaluate(ifNoneMatch, ifModifiedSince string, v Validators) Result {
	if ifNoneMatch != "" && ifNoneMatch == v.ETag {
		return MatchedETag
	}
	if ifModifiedSince == "" {
		return Modified
	}
	since, err := http.ParseTime(ifModifiedSince)
	if err != nil {
		return Modified
	}
	if !v.LastModified.After(since) {
		return NotModifiedSince
	}
	return Modified
}

// NotModified reports whether the request may be answered without a body.
func NotModified(ifNoneMatch, ifModifiedSince string, v Validators) bool {
	return Evaluate(ifNoneMatch, ifModifiedSince, v) != Modified
}

// Package limits maps MIME types to maximum content lengths.
package limits

import (
	"strings"
)

// Policy is a default maximum plus per-MIME overrides. A maximum of zero or
// less means unlimited.
type Policy struct {
	defaultMax int64
	perMIME    map[string]int64
}

// New returns a policy. Keys of perMIME may be exact types ("text/plain")
// or wildcards ("image/*").
func New(defaultMax int64, perMIME map[string]int64) *Policy {
	normalized := make(map[string]int64, len(perMIME))
	for k, v := range perMIME {
		normalized[normalize(k)] = v
	}
	return &Policy{defaultMax: defaultMax, perMIME: normalized}
}

// MaxLength returns the limit for mimeType. Parameters such as charset are
// ignored; an empty type yields the default.
func (p *Policy) MaxLength(mimeType string) int64 {
	if p == nil {
		return 0
	}
	mt := normalize(mimeType)
	if mt == "" {
		return p.defaultMax
	}
	if v, ok := p.perMIME[mt]; ok {
		return v
	}
	if major, _, ok := strings.Cut(mt, "/"); ok {
		if v, ok := p.perMIME[major+"/*"]; ok {
			return v
		}
	}
	return p.defaultMax
}

// Exceeds reports whether length is over the limit for mimeType, and the limit.
func (p *Policy) Exceeds(mimeType string, length int64) (bool, int64) {
	limit := p.MaxLength(mimeType)
	return limit > 0 && length > limit, limit
}

func normalize(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

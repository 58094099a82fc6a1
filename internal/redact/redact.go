// Package redact masks personal values in diagnostic text before it is
// logged or returned.
package redact

import (
	"fmt"
	"strings"

	aho "github.com/petar-dambovaliev/aho-corasick"

	"github.com/aspect-build/kycattest/internal/canonical"
)

const Placeholder = "[REDACTED]"

// minValueLen keeps short values such as "1" from masking unrelated text.
const minValueLen = 3

// Redactor replaces every occurrence of a fixed set of values with
// Placeholder. A Redactor with no values passes text through.
type Redactor struct {
	matcher aho.AhoCorasick
	values  []string
}

// New builds a Redactor for values. Empty and very short values are ignored.
func New(values []string) *Redactor {
	var filtered []string
	seen := make(map[string]bool)
	for _, v := range values {
		if len(v) < minValueLen || seen[v] {
			continue
		}
		seen[v] = true
		filtered = append(filtered, v)
	}
	r := &Redactor{values: filtered}
	if len(filtered) == 0 {
		return r
	}
	// Leftmost-longest so a value that contains another is masked whole.
	builder := aho.NewAhoCorasickBuilder(aho.Opts{MatchKind: aho.LeftMostLongestMatch})
	r.matcher = builder.Build(filtered)
	return r
}

// ForClaim builds a Redactor for the string values of claim.
func ForClaim(claim canonical.Claim) *Redactor {
	var values []string
	for _, v := range claim {
		switch x := v.(type) {
		case string:
			values = append(values, x)
		case *string:
			if x != nil {
				values = append(values, *x)
			}
		}
	}
	return New(values)
}

// String masks s.
func (r *Redactor) String(s string) string {
	if r == nil || len(r.values) == 0 {
		return s
	}
	matches := r.matcher.FindAll(s)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	pos := 0
	for _, m := range matches {
		if m.Start() < pos {
			continue // overlapping match
		}
		b.WriteString(s[pos:m.Start()])
		b.WriteString(Placeholder)
		pos = m.End()
	}
	b.WriteString(s[pos:])
	return b.String()
}

// Error masks err's message. A nil err yields "".
func (r *Redactor) Error(err error) string {
	if err == nil {
		return ""
	}
	return r.String(err.Error())
}

// Sprintf formats and masks.
func (r *Redactor) Sprintf(format string, args ...any) string {
	return r.String(fmt.Sprintf(format, args...))
}

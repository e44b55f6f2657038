// Package htmlsanitize strips markup from user-supplied text before it is
// stored and relayed to other family members' clients.
package htmlsanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict removes every tag and attribute. The policy is safe for concurrent use.
var strict = bluemonday.StrictPolicy()

// PlainText returns s with all markup removed, entities decoded and
// surrounding whitespace trimmed.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// PlainTextMax is PlainText truncated to at most max runes.
func PlainTextMax(s string, max int) string {
	out := PlainText(s)
	if max <= 0 {
		return out
	}
	r := []rune(out)
	if len(r) > max {
		return strings.TrimSpace(string(r[:max]))
	}
	return out
}

package market

import (
	"regexp"
	"strings"
)

// DefaultTouchKeywords mark a market as resolving on the price touching the
// threshold rather than closing above it.
var DefaultTouchKeywords = []string{"hit", "hits", "touch", "touches", "reach", "reaches"}

// TouchPolicy classifies market text as touch (barrier) or close (terminal).
// Keywords match whole words, case-insensitively.
type TouchPolicy struct {
	keywords []string
	pattern  *regexp.Regexp
}

// NewTouchPolicy creates a policy. Nil keywords use DefaultTouchKeywords; an
// empty non-nil slice disables touch detection.
func NewTouchPolicy(keywords []string) *TouchPolicy {
	if keywords == nil {
		keywords = DefaultTouchKeywords
	}

	p := &TouchPolicy{}
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		p.keywords = append(p.keywords, k)
		quoted = append(quoted, regexp.QuoteMeta(k))
	}
	if len(quoted) > 0 {
		p.pattern = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return p
}

// Keywords returns the active keyword set.
func (p *TouchPolicy) Keywords() []string {
	out := make([]string, len(p.keywords))
	copy(out, p.keywords)
	return out
}

// IsTouch reports whether any of the texts contains a touch keyword.
func (p *TouchPolicy) IsTouch(texts ...string) bool {
	if p.pattern == nil {
		return false
	}
	for _, t := range texts {
		if p.pattern.MatchString(strings.ToLower(t)) {
			return true
		}
	}
	return false
}

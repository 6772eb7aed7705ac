// Package market turns prediction-market text and quotes into the inputs of a
// threshold-probability estimate.
package market

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrNoThreshold means neither the market text nor an override gave a
// positive threshold.
var ErrNoThreshold = errors.New("no threshold found")

var (
	// $95000, $95000.50
	dollarPattern = regexp.MustCompile(`\$(\d+(?:\.\d+)?)`)
	// 100k, 2.5k
	thousandsPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)k`)
)

// ExtractStrike parses a price threshold out of free text.
//
// Patterns are tried in fixed order regardless of where they occur in the
// text: a dollar amount first, then a number with a k suffix (x1000).
func ExtractStrike(text string) (float64, bool) {
	s := normalizeText(text)

	if m := dollarPattern.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			return v, true
		}
		return 0, false
	}

	if m := thousandsPattern.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			return v * 1000, true
		}
	}

	return 0, false
}

// normalizeText drops thousands separators and accents, and lower-cases.
func normalizeText(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, text)
	if err != nil {
		s = text
	}

	s = strings.ReplaceAll(s, ",", "")
	return strings.ToLower(s)
}

// ThresholdSource says where a threshold came from.
type ThresholdSource string

const (
	SourceQuestion ThresholdSource = "question"
	SourceTitle    ThresholdSource = "title"
	SourceOverride ThresholdSource = "override"
)

// ResolveThreshold tries the market question, then the event title, then the
// manual override. A non-positive override counts as absent.
func ResolveThreshold(question, title string, override float64) (float64, ThresholdSource, error) {
	if v, ok := ExtractStrike(question); ok {
		return v, SourceQuestion, nil
	}
	if v, ok := ExtractStrike(title); ok {
		return v, SourceTitle, nil
	}
	if override > 0 {
		return override, SourceOverride, nil
	}
	return 0, "", ErrNoThreshold
}

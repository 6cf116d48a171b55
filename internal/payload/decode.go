package payload

import (
	"encoding/json"
	"strings"
)

// MinReportLength is the shortest rejected input worth a diagnostic.
// Trivially short fields fail to decode all the time and are pure noise.
const MinReportLength = 16

// Decode recovers a structured value from raw, which may be clean JSON,
// quoted JSON, double-encoded JSON, or corrupted JSON that still contains
// a balanced fragment. Decode is total: it never fails, returning fallback
// when nothing recoverable is found.
func Decode(raw, fallback any) any {
	if v, ok := Try(raw); ok {
		return v
	}
	return fallback
}

// Try attempts the layered recovery and reports whether anything
// parseable was found. Callers that want to surface diagnostics (rather
// than silently defaulting) use Try directly.
func Try(raw any) (any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case string:
		return tryString(v)
	default:
		// Already structured; pass through unchanged.
		return raw, true
	}
}

// Reportable reports whether a rejected input is long enough to be worth
// mentioning in diagnostics.
func Reportable(raw string) bool {
	return len(strings.TrimSpace(raw)) >= MinReportLength
}

func tryString(s string) (any, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, false
	}

	if v, ok := parseQuoted(t); ok {
		return v, true
	}
	if v, ok := parseJSON(t); ok {
		return v, true
	}

	// One stray quote layer is common after the store's literal encoding;
	// strip it once and retry both strategies.
	if inner, stripped := stripOuterQuotes(t); stripped {
		if v, ok := parseQuoted(inner); ok {
			return v, true
		}
		if v, ok := parseJSON(inner); ok {
			return v, true
		}
	}

	if frag, ok := extractBalanced(t); ok {
		if v, ok := parseJSON(frag); ok {
			return v, true
		}
	}

	return nil, false
}

// parseQuoted handles values wrapped in a single matching quote pair.
// For double quotes the outer layer is parsed as a JSON string; when the
// result is itself a string it is parsed again, which is exactly the
// double-encoding case. A non-string outer result is returned directly.
func parseQuoted(s string) (any, bool) {
	if len(s) < 2 {
		return nil, false
	}
	q := s[0]
	if s[len(s)-1] != q || (q != '"' && q != '\'') {
		return nil, false
	}

	if q == '"' {
		var outer any
		if err := json.Unmarshal([]byte(s), &outer); err != nil {
			return nil, false
		}
		inner, isString := outer.(string)
		if !isString {
			return outer, true
		}
		if v, ok := parseJSON(inner); ok {
			return v, true
		}
		// The quoted content is a plain string; that is the value.
		return inner, true
	}

	// Single quotes are not valid JSON quoting; treat the content between
	// them as the candidate value.
	return parseJSON(s[1 : len(s)-1])
}

func parseJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

func stripOuterQuotes(s string) (string, bool) {
	if len(s) < 2 {
		return s, false
	}
	first, last := s[0], s[len(s)-1]
	if first == last && (first == '"' || first == '\'') {
		return s[1 : len(s)-1], true
	}
	return s, false
}

// extractBalanced scans for the first { or [ and walks forward tracking
// string literals and escape sequences explicitly, counting bracket depth
// outside of strings. It returns the substring captured when depth comes
// back to zero. This recovers payloads with leading or trailing garbage,
// as long as a balanced fragment survives.
func extractBalanced(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

package literal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how aggressively Normalize unescapes a cell.
type Mode int

const (
	// Display unescapes all standard escape sequences. Use for
	// human-readable fields.
	Display Mode = iota

	// Payload unescapes only the single quoting layer added by the store,
	// leaving escape sequences that belong to an embedded JSON payload
	// intact. Use before handing a string to the payload decoder.
	Payload
)

const maxWrapperDepth = 8

// Normalize converts a raw graph-query cell into a clean scalar string.
// A cell is either a scalar or an object carrying a nested "value"
// (possibly several levels deep). String values may carry an outer quote
// pair and a trailing type annotation ("text"^^<typeURI>), both of which
// are stripped. Normalize never fails; nil input yields "".
func Normalize(cell any, mode Mode) string {
	s, ok := unwrap(cell, 0)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	s = stripTypeAnnotation(s)
	s, quoted := stripOuterQuotes(s)

	// In Payload mode the escaping to unwrap is the one the store added
	// alongside its quote pair. A cell that never carried that pair is
	// already clean; touching it would corrupt legitimate escape
	// sequences inside an embedded JSON payload.
	if mode == Payload && !quoted {
		return s
	}
	return unescape(s, mode)
}

func unwrap(cell any, depth int) (string, bool) {
	if depth > maxWrapperDepth {
		return "", false
	}
	switch v := cell.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case map[string]any:
		inner, ok := v["value"]
		if !ok {
			return "", false
		}
		return unwrap(inner, depth+1)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case json.Number:
		return v.String(), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// stripTypeAnnotation drops a trailing ^^<typeURI> marker left over from
// the store's literal encoding, keeping the closing quote so the outer
// quote pair can still be detected.
func stripTypeAnnotation(s string) string {
	if i := strings.LastIndex(s, `"^^`); i >= 0 {
		return s[:i+1]
	}
	if i := strings.LastIndex(s, "^^"); i > 0 {
		rest := s[i+2:]
		if strings.HasPrefix(rest, "<") || strings.HasPrefix(rest, "http") {
			return s[:i]
		}
	}
	return s
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

// unescape removes one layer of backslash escaping. In Display mode the
// standard control sequences become real characters; in Payload mode only
// quote and backslash escapes are unwrapped, so an embedded payload's own
// \n, \t and friends survive as two-character sequences.
func unescape(s string, mode Mode) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch {
		case next == '"' || next == '\'' || next == '\\':
			b.WriteByte(next)
			i++
		case mode == Display && next == 'n':
			b.WriteByte('\n')
			i++
		case mode == Display && next == 't':
			b.WriteByte('\t')
			i++
		case mode == Display && next == 'r':
			b.WriteByte('\r')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

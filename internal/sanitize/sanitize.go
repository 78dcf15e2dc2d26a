// Package sanitize coerces arbitrary values into displayable UTF-8 text.
//
// Every string that crosses the tool boundary goes through Text or Deep:
// invalid byte sequences become U+FFFD, the result is NFC-normalised, and C0/C1
// control characters other than newline, tab and carriage return become a
// single space. Both functions are pure and never fail.
package sanitize

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Replacement is substituted for byte sequences that are not valid UTF-8.
const Replacement = "\uFFFD"

// Text returns the sanitized textual form of v.
// nil becomes the empty string; non-string values are formatted with fmt.
func Text(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	case []byte:
		s = string(t)
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	s = strings.ToValidUTF8(s, Replacement)
	s = norm.NFC.String(s)
	return strings.Map(replaceControl, s)
}

func replaceControl(r rune) rune {
	if IsControl(r) {
		return ' '
	}
	return r
}

// IsControl reports whether r falls in the stripped control ranges:
// U+0000-U+0008, U+000B-U+000C, U+000E-U+001F and U+007F-U+009F.
func IsControl(r rune) bool {
	switch {
	case r >= 0x00 && r <= 0x08,
		r == 0x0B, r == 0x0C,
		r >= 0x0E && r <= 0x1F,
		r >= 0x7F && r <= 0x9F:
		return true
	}
	return false
}

// Deep walks v and sanitizes every string it finds, map keys included.
// The set of handled shapes is closed: strings, byte slices, slices of strings,
// slices and string-keyed maps of any of these. Numbers, booleans and nil pass
// through untouched. Containers are copied, never mutated in place.
func Deep(v any) any {
	switch t := v.(type) {
	case string:
		return Text(t)
	case []byte:
		return Text(t)
	case []string:
		return Strings(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = Deep(x)
		}
		return out
	case map[string]any:
		return Map(t)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, m := range t {
			out[i] = Map(m)
		}
		return out
	default:
		return v
	}
}

// Strings sanitizes every element of ss into a new slice.
func Strings(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = Text(s)
	}
	return out
}

// Map sanitizes the keys and values of m into a new map.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, x := range m {
		out[Text(k)] = Deep(x)
	}
	return out
}

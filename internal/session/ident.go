package session

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// identRe matches identifiers that SQLite accepts without quoting.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const (
	maxDerivedNameLen = 20
	fallbackTableBase = "csv"
)

// QuoteIdent returns name unchanged when it is a plain identifier, otherwise
// wrapped in double quotes with inner quotes doubled.
func QuoteIdent(name string) string {
	if identRe.MatchString(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = QuoteIdent(n)
	}
	return out
}

// DeriveTableName turns a header value into a table name: every rune outside
// [A-Za-z0-9_] becomes an underscore, the result is cut to 20 runes, an empty
// result becomes "t" and a leading digit gets a "t_" prefix.
func DeriveTableName(base string) string {
	var b strings.Builder
	n := 0
	for _, r := range base {
		if n == maxDerivedNameLen {
			break
		}
		if isIdentRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		n++
	}
	name := b.String()
	if name == "" {
		return "t"
	}
	if r, _ := utf8.DecodeRuneInString(name); r >= '0' && r <= '9' {
		name = "t_" + name
	}
	return name
}

func isIdentRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

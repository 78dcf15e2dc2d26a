package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdent(t *testing.T) {
	cases := map[string]string{
		"plain":      "plain",
		"_x1":        "_x1",
		"1abc":       `"1abc"`,
		"with space": `"with space"`,
		`a"b`:        `"a""b"`,
		"":           `""`,
	}
	for in, want := range cases {
		assert.Equal(t, want, QuoteIdent(in), "QuoteIdent(%q)", in)
	}
}

func TestDeriveTableName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"a", "a"},
		{"first name", "first_name"},
		{"2024 sales", "t_2024_sales"},
		{"", "t"},
		{"csv", "csv"},
		{"abcdefghijklmnopqrstuvwxyz", "abcdefghijklmnopqrst"},
		{"caf\u00e9", "caf_"},
		{"a-b.c", "a_b_c"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveTableName(tc.in))
		})
	}
}

package session

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Dialect describes how a CSV text is delimited. Quoting is always the
// double quote, the only quote encoding/csv understands.
type Dialect struct {
	Delimiter        rune
	TrimLeadingSpace bool
}

// DefaultDialect is used whenever sniffing fails.
var DefaultDialect = Dialect{Delimiter: ','}

// candidateDelimiters is also the preference order when several fit.
var candidateDelimiters = []rune{',', '\t', ';', '|', ':'}

const (
	sniffLines     = 10
	minConsistency = 0.9
)

var (
	errEmptySample = errors.New("empty sample")
	errNoDelimiter = errors.New("could not determine delimiter")
)

// sampleLines returns at most the first n lines of text.
func sampleLines(text string, n int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.SplitN(text, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}

// splitRecords joins sampled lines back together and splits them into
// logical records, so a newline inside a quoted cell stays in its record.
// A trailing record still inside quotes was cut by the sample and is
// dropped, unless it is the only one.
func splitRecords(lines []string) []string {
	var (
		records []string
		b       strings.Builder
		quoted  bool
	)
	for _, r := range strings.Join(lines, "\n") {
		switch {
		case r == '"':
			quoted = !quoted
		case r == '\n' && !quoted:
			records = append(records, b.String())
			b.Reset()
			continue
		}
		b.WriteRune(r)
	}
	switch {
	case !quoted:
		records = append(records, b.String())
	case len(records) == 0:
		return lines
	}
	return records
}

// SniffDialect guesses the delimiter from a sample of lines. A delimiter
// qualifies when it occurs the same non-zero number of times, outside double
// quotes, in at least 90% of the non-blank records.
func SniffDialect(lines []string) (Dialect, error) {
	var data []string
	for _, l := range splitRecords(lines) {
		if strings.TrimSpace(l) != "" {
			data = append(data, l)
		}
	}
	if len(data) == 0 {
		return DefaultDialect, errEmptySample
	}

	for _, d := range candidateDelimiters {
		freq := make(map[int]int)
		for _, l := range data {
			freq[countOutsideQuotes(l, d)]++
		}
		mode, agree := 0, 0
		for count, n := range freq {
			if n > agree || (n == agree && count > mode) {
				mode, agree = count, n
			}
		}
		if mode == 0 {
			continue
		}
		if float64(agree)/float64(len(data)) < minConsistency {
			continue
		}
		first := data[0]
		trim := strings.Count(first, string(d)) == strings.Count(first, string(d)+" ")
		return Dialect{Delimiter: d, TrimLeadingSpace: trim}, nil
	}
	return DefaultDialect, errNoDelimiter
}

func countOutsideQuotes(line string, d rune) int {
	n := 0
	quoted := false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}

func newReader(r io.Reader, d Dialect) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = d.Delimiter
	cr.TrimLeadingSpace = d.TrimLeadingSpace
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr
}

type columnKind struct {
	kind   int
	length int
}

const (
	kindInt = iota + 1
	kindFloat
	kindLength
)

func kindOf(s string) columnKind {
	v := strings.TrimSpace(s)
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return columnKind{kind: kindInt}
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return columnKind{kind: kindFloat}
	}
	return columnKind{kind: kindLength, length: utf8.RuneCountInString(s)}
}

// DetectHeader votes, column by column, on whether the first sampled row
// looks different from the rows under it. Numeric columns vote for a header
// when the first cell is not numeric; fixed-width columns vote for a header
// when the first cell has another width. Columns whose cells disagree on
// kind abstain. A column with no data rows under it votes for a header.
func DetectHeader(lines []string, d Dialect) (bool, error) {
	records, err := newReader(strings.NewReader(strings.Join(lines, "\n")), d).ReadAll()
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, errEmptySample
	}

	header := records[0]
	kinds := make([]*columnKind, len(header))
	dropped := make([]bool, len(header))
	for _, row := range records[1:] {
		if len(row) != len(header) {
			continue
		}
		for col, cell := range row {
			if dropped[col] {
				continue
			}
			k := kindOf(cell)
			switch {
			case kinds[col] == nil:
				kinds[col] = &k
			case *kinds[col] != k:
				dropped[col] = true
			}
		}
	}

	votes := 0
	for col, k := range kinds {
		if dropped[col] {
			continue
		}
		cell := header[col]
		var same bool
		switch {
		case k == nil:
			same = false
		case k.kind == kindLength:
			same = utf8.RuneCountInString(cell) == k.length
		case k.kind == kindInt:
			_, err := strconv.ParseInt(strings.TrimSpace(cell), 10, 64)
			same = err == nil
		case k.kind == kindFloat:
			_, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			same = err == nil
		}
		if same {
			votes--
		} else {
			votes++
		}
	}
	return votes > 0, nil
}

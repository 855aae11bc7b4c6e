package recovery

import "strings"

// NormalizeColumnName trims surrounding whitespace and then removes one
// leading and one trailing double quote. When both were present, the text
// between them is read as one layer of CSV escaping, so doubled quotes
// collapse: `"""media_outlet"""` becomes `"media_outlet"`.
func NormalizeColumnName(name string) string {
	s := strings.TrimSpace(name)

	lead := strings.HasPrefix(s, `"`)
	if lead {
		s = s[1:]
	}
	trail := strings.HasSuffix(s, `"`)
	if trail {
		s = s[:len(s)-1]
	}

	if lead && trail {
		if inner, ok := unescapeQuotes(s); ok {
			s = inner
		}
	}
	return s
}

// unescapeQuotes collapses "" to ". It fails on a lone quote, in which case
// the text was not escaped and is kept literally.
func unescapeQuotes(s string) (string, bool) {
	if !strings.Contains(s, `"`) {
		return s, true
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '"' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) || s[i+1] != '"' {
			return s, false
		}
		b.WriteByte('"')
		i++
	}
	return b.String(), true
}

// Normalize returns the table with every column name normalized. Records are
// shared, not copied.
func Normalize(t ParsedTable) CleanTable {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = NormalizeColumnName(c)
	}
	return CleanTable{Columns: cols, Records: t.Records}
}

// DuplicateColumns lists names that occur more than once, in first-seen order.
func DuplicateColumns(columns []string) []string {
	seen := make(map[string]int, len(columns))
	var dups []string
	for _, c := range columns {
		seen[c]++
		if seen[c] == 2 {
			dups = append(dups, c)
		}
	}
	return dups
}

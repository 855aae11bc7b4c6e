package recovery

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SplitRecord splits one line into fields separated by delim.
//
// A field that starts with a double quote is quoted: it runs to the matching
// closing quote, may contain delim, and "" inside it stands for one literal
// quote. Text between the closing quote and the next delimiter is appended as
// is. A quote inside an unquoted field is literal.
//
// A quoted field left open at the end of the line yields ErrUnterminatedQuote.
// Records never span lines.
func SplitRecord(line string, delim rune) ([]string, error) {
	fields := make([]string, 0, 8)
	width := utf8.RuneLen(delim)

	var b strings.Builder
	for pos := 0; ; {
		var (
			field string
			end   int // index of the delimiter ending this field, or -1
		)

		if pos < len(line) && line[pos] == '"' {
			b.Reset()
			closed := false
			i := pos + 1
			for i < len(line) {
				if line[i] != '"' {
					b.WriteByte(line[i])
					i++
					continue
				}
				if i+1 < len(line) && line[i+1] == '"' {
					b.WriteByte('"')
					i += 2
					continue
				}
				i++
				closed = true
				break
			}
			if !closed {
				return nil, fmt.Errorf("field %d: %w", len(fields)+1, ErrUnterminatedQuote)
			}

			end = indexFrom(line, i, delim)
			if end < 0 {
				b.WriteString(line[i:])
			} else {
				b.WriteString(line[i:end])
			}
			field = b.String()
		} else {
			end = indexFrom(line, pos, delim)
			if end < 0 {
				field = line[pos:]
			} else {
				field = line[pos:end]
			}
		}

		fields = append(fields, field)
		if end < 0 {
			return fields, nil
		}
		pos = end + width
	}
}

// indexFrom returns the absolute index of the first delim at or after from.
func indexFrom(s string, from int, delim rune) int {
	if from > len(s) {
		return -1
	}
	i := strings.IndexRune(s[from:], delim)
	if i < 0 {
		return -1
	}
	return from + i
}

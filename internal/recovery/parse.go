package recovery

import (
	"context"
	"fmt"
)

// contextCheckInterval is how often, in lines, the parser checks for
// cancellation.
const contextCheckInterval = 100

// ParseStats counts what ParseTolerant did with its input.
type ParseStats struct {
	InnerLines int // every line seen, header included
	Accepted   int
	Dropped    int
	Skips      []Skip
}

// ParseTolerant parses a reassembled stream as a delimited table.
//
// The first line is the header and fixes the column count. Every other line is
// tokenized with SplitRecord; lines that fail to tokenize or whose field count
// differs from the header are recorded as skips and parsing continues.
//
// It returns *EmptyResultError when the stream is empty, the header cannot be
// tokenized, or no record is accepted. The returned stats are valid in every
// case, so callers can still report them.
func ParseTolerant(ctx context.Context, stream ReassembledStream, delim rune) (ParsedTable, ParseStats, error) {
	var (
		table ParsedTable
		stats ParseStats
	)

	lines := stream.Lines()
	if len(lines) == 0 {
		return table, stats, &EmptyResultError{Reason: "no lines to parse"}
	}

	header, err := SplitRecord(lines[0], delim)
	stats.InnerLines = 1
	if err != nil {
		return table, stats, &EmptyResultError{Reason: fmt.Sprintf("header line cannot be tokenized: %v", err)}
	}
	table.Columns = header
	want := len(header)

	for i, line := range lines[1:] {
		lineNum := i + 2
		stats.InnerLines++

		if i%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return table, stats, fmt.Errorf("parse cancelled at line %d: %w", lineNum, err)
			}
		}

		fields, err := SplitRecord(line, delim)
		if err != nil {
			stats.skip(lineNum, err.Error(), line)
			continue
		}
		if len(fields) != want {
			stats.skip(lineNum, fmt.Sprintf("expected %d fields, saw %d", want, len(fields)), line)
			continue
		}

		table.Records = append(table.Records, Record{Line: lineNum, Values: fields})
		stats.Accepted++
	}

	if stats.Accepted == 0 {
		return table, stats, &EmptyResultError{
			Reason: fmt.Sprintf("no records accepted out of %d data lines", stats.InnerLines-1),
		}
	}

	return table, stats, nil
}

func (s *ParseStats) skip(line int, reason, text string) {
	s.Dropped++
	s.Skips = append(s.Skips, Skip{Line: line, Reason: reason, Text: truncate(text, maxSkipText)})
}

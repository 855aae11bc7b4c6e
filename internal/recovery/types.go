package recovery

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// NoOuterFraming disables the outer stage: every line is taken whole as its
// own payload. Use it to re-read a file this package has already cleaned.
const NoOuterFraming rune = 0

// Stage identifies how far a run progressed.
type Stage string

const (
	StageStart       Stage = "start"
	StageLoaded      Stage = "loaded"
	StageReassembled Stage = "reassembled"
	StageParsed      Stage = "parsed"
	StageNormalized  Stage = "normalized"
	StageWritten     Stage = "written"
	StageFailed      Stage = "failed"
)

// RawFrame is the input as seen through the outer framing.
type RawFrame struct {
	// Lines holds the payload of every non-blank line, in file order.
	Lines []string

	// Origins holds the 1-based physical line number each payload came from.
	Origins []int

	Encoding       string
	OuterDelimiter rune

	// TotalLines counts every physical line read, blank or not.
	TotalLines int
}

// ReassembledStream is the inner file rebuilt from the frame payloads.
type ReassembledStream string

// Record is one accepted data line. Values are aligned with the table columns.
type Record struct {
	Line   int // 1-based line within the reassembled stream
	Values []string
}

// Map returns the record as a column->value mapping. When columns repeat, the
// rightmost one wins.
func (r Record) Map(columns []string) map[string]string {
	m := make(map[string]string, len(columns))
	for i, col := range columns {
		if i < len(r.Values) {
			m[col] = r.Values[i]
		}
	}
	return m
}

// ParsedTable is the tolerant parse of a reassembled stream.
type ParsedTable struct {
	Columns []string
	Records []Record
}

// CleanTable is a ParsedTable with normalized column names.
type CleanTable struct {
	Columns []string
	Records []Record
}

// ColumnIndex returns the position of the named column, or -1. Matching is
// exact; duplicates resolve to the last occurrence.
func (t CleanTable) ColumnIndex(name string) int {
	for i := len(t.Columns) - 1; i >= 0; i-- {
		if t.Columns[i] == name {
			return i
		}
	}
	return -1
}

// Value returns the value of column name in record i.
func (t CleanTable) Value(i int, name string) (string, bool) {
	if i < 0 || i >= len(t.Records) {
		return "", false
	}
	col := t.ColumnIndex(name)
	if col < 0 {
		return "", false
	}
	return t.Records[i].Values[col], true
}

// Rows returns the record values without line numbers.
func (t CleanTable) Rows() [][]string {
	rows := make([][]string, len(t.Records))
	for i, rec := range t.Records {
		rows[i] = rec.Values
	}
	return rows
}

// Skip describes one inner line that was left out of the table.
type Skip struct {
	Line       int    // 1-based line within the reassembled stream
	SourceLine int    // 1-based physical line in the input file
	Reason     string
	Text       string // payload, truncated
}

// maxSkipText bounds how much of a skipped line is kept for diagnostics.
const maxSkipText = 120

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Cut on a rune boundary.
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Summary reports what a run did. It is produced once per run.
type Summary struct {
	Source   string
	Encoding string

	OuterLines    int // physical lines read
	NonBlankLines int // lines left after blank removal
	InnerLines    int // lines fed to the tolerant parser, header included
	Accepted      int
	Dropped       int // lines skipped for malformed shape

	Columns          []string
	DuplicateColumns []string

	// Skips is a bounded sample of the dropped lines.
	Skips []Skip

	Stage    Stage
	Duration time.Duration
}

// String renders the summary as a single human-readable line.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: read %d lines (%d non-blank), parsed %d inner lines, accepted %d records, dropped %d malformed",
		s.sourceName(), s.OuterLines, s.NonBlankLines, s.InnerLines, s.Accepted, s.Dropped)
	fmt.Fprintf(&b, "; shape %d x %d", s.Accepted, len(s.Columns))
	if len(s.DuplicateColumns) > 0 {
		fmt.Fprintf(&b, "; duplicate columns: %s", strings.Join(s.DuplicateColumns, ", "))
	}
	return b.String()
}

func (s Summary) sourceName() string {
	if s.Source == "" {
		return "input"
	}
	return s.Source
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("source", s.sourceName()),
		slog.String("encoding", s.Encoding),
		slog.Int("outer_lines", s.OuterLines),
		slog.Int("non_blank_lines", s.NonBlankLines),
		slog.Int("inner_lines", s.InnerLines),
		slog.Int("accepted", s.Accepted),
		slog.Int("dropped", s.Dropped),
		slog.Int("columns", len(s.Columns)),
		slog.String("stage", string(s.Stage)),
		slog.Duration("duration", s.Duration),
	}
	if len(s.DuplicateColumns) > 0 {
		attrs = append(attrs, slog.Any("duplicate_columns", s.DuplicateColumns))
	}
	return slog.GroupValue(attrs...)
}

// Result is the outcome of a successful run.
type Result struct {
	Table   CleanTable
	Summary Summary

	// Output is the written file, empty when the run did not write one.
	Output string
}

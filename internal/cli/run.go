package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sophia/internal/export"
	"github.com/JonMunkholm/sophia/internal/recovery"
)

func runCmd(getenv func(string) string) *cobra.Command {
	var in, out, format, xlsx string

	c := &cobra.Command{
		Use:   "run",
		Short: "Recover a file and write the clean table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecover(cmd, getenv, in, out, format, xlsx)
		},
	}

	addRunFlags(c, &in, &out, &format, &xlsx)
	return c
}

func addRunFlags(c *cobra.Command, in, out, format, xlsx *string) {
	c.Flags().StringVarP(in, "in", "i", "", "Damaged input file (env RECOVER_INPUT, default dataset.csv)")
	c.Flags().StringVarP(out, "out", "o", "", "Clean output file (env RECOVER_OUTPUT, default dataset_clean.csv)")
	c.Flags().StringVar(format, "format", "pretty", "Summary format: pretty|json")
	c.Flags().StringVar(xlsx, "xlsx", "", "Also write the clean table as a workbook to this path")
}

func runRecover(cmd *cobra.Command, getenv func(string) string, in, out, format, xlsx string) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, getenv)
	if err != nil {
		return err
	}
	if in == "" {
		in = cfg.Recovery.Input
	}
	if out == "" {
		out = cfg.Recovery.Output
	}

	p, _, err := newParser(cmd, cfg)
	if err != nil {
		return err
	}

	res, err := p.Run(cmd.Context(), in, out)
	if err != nil {
		return err
	}

	if xlsx != "" {
		if err := writeWorkbook(xlsx, res.Table); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}
	}

	return printSummary(cmd.OutOrStdout(), res.Summary, out, format)
}

// writeWorkbook writes the table to a temporary file next to path and renames
// it into place once the workbook is complete.
func writeWorkbook(path string, t recovery.CleanTable) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	sheet := export.SheetName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err = export.WriteXLSX(tmp, sheet, t.Columns, t.Rows()); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func checkFormat(format string) error {
	switch format {
	case "pretty", "json":
		return nil
	}
	return fmt.Errorf("unsupported format %q (expected pretty|json)", format)
}

// summaryJSON is the machine-readable form of a run summary.
type summaryJSON struct {
	Source           string        `json:"source"`
	Encoding         string        `json:"encoding"`
	Output           string        `json:"output,omitempty"`
	OuterLines       int           `json:"outer_lines"`
	NonBlankLines    int           `json:"non_blank_lines"`
	InnerLines       int           `json:"inner_lines"`
	Accepted         int           `json:"accepted"`
	Dropped          int           `json:"dropped"`
	Columns          []string      `json:"columns"`
	DuplicateColumns []string      `json:"duplicate_columns,omitempty"`
	Skips            []skipJSON    `json:"skips,omitempty"`
	Stage            string        `json:"stage"`
	Duration         time.Duration `json:"duration_ns"`
}

type skipJSON struct {
	Line       int    `json:"line"`
	SourceLine int    `json:"source_line"`
	Reason     string `json:"reason"`
	Text       string `json:"text"`
}

func printSummary(w io.Writer, s recovery.Summary, output, format string) error {
	if format == "json" {
		payload := summaryJSON{
			Source:           s.Source,
			Encoding:         s.Encoding,
			Output:           output,
			OuterLines:       s.OuterLines,
			NonBlankLines:    s.NonBlankLines,
			InnerLines:       s.InnerLines,
			Accepted:         s.Accepted,
			Dropped:          s.Dropped,
			Columns:          s.Columns,
			DuplicateColumns: s.DuplicateColumns,
			Stage:            string(s.Stage),
			Duration:         s.Duration,
		}
		for _, sk := range s.Skips {
			payload.Skips = append(payload.Skips, skipJSON(sk))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	fmt.Fprintf(w, "Source:     %s\n", s.Source)
	fmt.Fprintf(w, "Encoding:   %s\n", s.Encoding)
	fmt.Fprintf(w, "Lines:      %d read, %d non-blank\n", s.OuterLines, s.NonBlankLines)
	fmt.Fprintf(w, "Parsed:     %d inner lines\n", s.InnerLines)
	fmt.Fprintf(w, "Accepted:   %d\n", s.Accepted)
	fmt.Fprintf(w, "Dropped:    %d\n", s.Dropped)
	fmt.Fprintf(w, "Shape:      %d x %d\n", s.Accepted, len(s.Columns))
	fmt.Fprintf(w, "Columns:    %s\n", strings.Join(s.Columns, ", "))
	if len(s.DuplicateColumns) > 0 {
		fmt.Fprintf(w, "Duplicates: %s\n", strings.Join(s.DuplicateColumns, ", "))
	}
	if output != "" {
		fmt.Fprintf(w, "Output:     %s\n", output)
	}
	fmt.Fprintf(w, "Duration:   %s\n", s.Duration.Round(time.Millisecond))

	if len(s.Skips) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Dropped lines (first %d):\n", len(s.Skips))
		for _, sk := range s.Skips {
			fmt.Fprintf(w, "  - line %d: %s\n", sk.SourceLine, sk.Reason)
		}
	}
	return nil
}

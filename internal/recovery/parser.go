package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultSkipSampleSize bounds how many skipped lines a Summary keeps.
const DefaultSkipSampleSize = 20

// Options configures a Parser.
type Options struct {
	// OuterDelimiter frames the payload. NoOuterFraming disables the outer stage.
	OuterDelimiter rune

	// InnerDelimiter separates the fields of the payload table.
	InnerDelimiter rune

	// Encoding is used to decode the input (default latin1).
	Encoding string

	// OutputEncoding is used to encode the written table (default utf-8).
	OutputEncoding string

	// SkipSampleSize bounds Summary.Skips. Zero means DefaultSkipSampleSize;
	// negative keeps none.
	SkipSampleSize int
}

// DefaultOptions returns the settings for the damaged news exports: ';'
// outside, ',' inside, Latin-1 in, UTF-8 out.
func DefaultOptions() Options {
	return Options{
		OuterDelimiter: ';',
		InnerDelimiter: ',',
		Encoding:       DefaultEncoding,
		OutputEncoding: "utf-8",
		SkipSampleSize: DefaultSkipSampleSize,
	}
}

// Validate checks the delimiters and encodings.
func (o Options) Validate() error {
	var errs []string

	if err := checkDelimiter(o.InnerDelimiter); err != nil {
		errs = append(errs, "inner delimiter: "+err.Error())
	}
	if o.OuterDelimiter != NoOuterFraming {
		if err := checkDelimiter(o.OuterDelimiter); err != nil {
			errs = append(errs, "outer delimiter: "+err.Error())
		} else if o.OuterDelimiter == o.InnerDelimiter {
			errs = append(errs, fmt.Sprintf("outer and inner delimiter must differ (both %q)", o.InnerDelimiter))
		}
	}
	if _, err := LookupCodec(o.Encoding); err != nil {
		errs = append(errs, "input "+err.Error())
	}
	if _, err := LookupCodec(o.OutputEncoding); err != nil {
		errs = append(errs, "output "+err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid recovery options: %s", strings.Join(errs, "; "))
	}
	return nil
}

func checkDelimiter(r rune) error {
	switch {
	case r == 0:
		return errors.New("not set")
	case r == '"' || r == '\r' || r == '\n':
		return fmt.Errorf("%q cannot be used", r)
	case !utf8.ValidRune(r) || r == utf8.RuneError:
		return errors.New("invalid character")
	}
	return nil
}

// ParseDelimiter reads a delimiter setting. It accepts a single character,
// the escapes `\t`, or the words "tab", "semicolon", "comma", "pipe" and
// "none" (NoOuterFraming).
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case `\t`, "tab":
		return '\t', nil
	case "semicolon":
		return ';', nil
	case "comma":
		return ',', nil
	case "pipe":
		return '|', nil
	case "none":
		return NoOuterFraming, nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter %q must be a single character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// Parser runs the recovery pipeline. It holds no state between runs and is
// safe to reuse.
type Parser struct {
	opts   Options
	in     Codec
	out    Codec
	logger *slog.Logger
}

// New validates opts and returns a Parser that logs to logger. A nil logger
// uses slog.Default().
func New(opts Options, logger *slog.Logger) (*Parser, error) {
	if opts.Encoding == "" {
		opts.Encoding = DefaultEncoding
	}
	if opts.OutputEncoding == "" {
		opts.OutputEncoding = "utf-8"
	}
	if opts.SkipSampleSize == 0 {
		opts.SkipSampleSize = DefaultSkipSampleSize
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		opts:   opts,
		in:     MustCodec(opts.Encoding),
		out:    MustCodec(opts.OutputEncoding),
		logger: logger,
	}, nil
}

// Options returns the effective options.
func (p *Parser) Options() Options { return p.opts }

// Recover runs stages 1 to 4 over the file at path.
func (p *Parser) Recover(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failAfter(StageStart, &IOError{Op: "open", Path: path, Err: err})
	}
	defer f.Close()

	return p.RecoverReader(ctx, f, path)
}

// RecoverReader runs stages 1 to 4 over r. name labels the input in the
// summary and in errors.
func (p *Parser) RecoverReader(ctx context.Context, r io.Reader, name string) (*Result, error) {
	start := time.Now()
	summary := Summary{Source: name, Encoding: p.in.Name(), Stage: StageStart}

	frame, err := LoadFrame(r, p.in, p.opts.OuterDelimiter)
	if err != nil {
		if ioErr, ok := err.(*IOError); ok && ioErr.Path == "" {
			ioErr.Path = name
		}
		return nil, failAfter(StageStart, err)
	}
	summary.OuterLines = frame.TotalLines
	summary.NonBlankLines = len(frame.Lines)
	if len(frame.Lines) == 0 {
		return nil, failAfter(StageStart, &EmptyResultError{
			Reason: fmt.Sprintf("outer framing yielded no usable rows (%d lines read)", frame.TotalLines),
		})
	}
	summary.Stage = StageLoaded

	stream := Reassemble(frame)
	summary.Stage = StageReassembled

	parsed, stats, err := ParseTolerant(ctx, stream, p.opts.InnerDelimiter)
	summary.InnerLines = stats.InnerLines
	summary.Accepted = stats.Accepted
	summary.Dropped = stats.Dropped
	summary.Skips = p.sample(stats.Skips, frame.Origins)
	for _, s := range stats.Skips {
		p.logger.Debug("skipped malformed line",
			"source", name,
			"line", s.Line,
			"source_line", origin(frame.Origins, s.Line),
			"reason", s.Reason,
		)
	}
	if err != nil {
		return nil, failAfter(StageReassembled, err)
	}
	summary.Stage = StageParsed

	table := Normalize(parsed)
	summary.Columns = table.Columns
	summary.DuplicateColumns = DuplicateColumns(table.Columns)
	if len(summary.DuplicateColumns) > 0 {
		p.logger.Warn("duplicate column names after normalization; lookups use the last occurrence",
			"source", name,
			"columns", summary.DuplicateColumns,
		)
	}
	summary.Stage = StageNormalized
	summary.Duration = time.Since(start)

	return &Result{Table: table, Summary: summary}, nil
}

// Run recovers the file at inPath, writes the clean table to outPath and logs
// the summary. If any step fails nothing is written to outPath.
func (p *Parser) Run(ctx context.Context, inPath, outPath string) (*Result, error) {
	if filepath.Clean(inPath) == filepath.Clean(outPath) {
		return nil, failAfter(StageStart, &IOError{Op: "write", Path: outPath, Err: errors.New("output path must differ from input path")})
	}

	res, err := p.Recover(ctx, inPath)
	if err != nil {
		p.logger.Error("recovery failed", "source", inPath, "error", err)
		return nil, err
	}

	if err := p.Write(outPath, res.Table); err != nil {
		p.logger.Error("recovery failed", "source", inPath, "output", outPath, "error", err)
		return nil, failAfter(StageNormalized, err)
	}
	res.Output = outPath
	res.Summary.Stage = StageWritten

	p.logger.Info(res.Summary.String(), "summary", res.Summary, "output", outPath)
	return res, nil
}

// Write writes t to path using the parser's inner delimiter and output encoding.
func (p *Parser) Write(path string, t CleanTable) error {
	return WriteFile(path, t, p.opts.InnerDelimiter, p.out)
}

func (p *Parser) sample(skips []Skip, origins []int) []Skip {
	n := p.opts.SkipSampleSize
	if n < 0 {
		return nil
	}
	if len(skips) < n {
		n = len(skips)
	}
	out := make([]Skip, n)
	for i := range out {
		out[i] = skips[i]
		out[i].SourceLine = origin(origins, skips[i].Line)
	}
	return out
}

// origin maps a 1-based stream line to its physical line number.
func origin(origins []int, line int) int {
	if line < 1 || line > len(origins) {
		return 0
	}
	return origins[line-1]
}

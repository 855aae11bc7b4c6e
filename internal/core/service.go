package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sophia/internal/articles"
	"github.com/JonMunkholm/sophia/internal/config"
	"github.com/JonMunkholm/sophia/internal/recovery"
	"github.com/JonMunkholm/sophia/internal/store"
)

// DefaultRunTimeout is the maximum duration of one recovery when the
// configuration does not set one.
const DefaultRunTimeout = 10 * time.Minute

// Service runs recoveries for uploaded files and serves their results.
type Service struct {
	store   store.Store
	limiter *RunLimiter
	logger  *slog.Logger

	opts      recovery.Options
	outputDir string
	maxSize   int64
	timeout   time.Duration

	now func() time.Time
}

// UploadRequest is one file submitted for recovery. Empty option fields keep
// the configured value.
type UploadRequest struct {
	FileName string
	Reader   io.Reader
	Size     int64 // -1 when unknown

	Outer          string
	Inner          string
	Encoding       string
	OutputEncoding string
}

// RunResult is what a recovery produced.
type RunResult struct {
	Run      *store.Run           `json:"run"`
	Summary  string               `json:"summary"`
	Failed   []articles.FailedRow `json:"failed_rows,omitempty"`
	BadDates int                  `json:"bad_dates,omitempty"`
}

// RunError is returned for a run that was recorded as failed.
type RunError struct {
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %v", e.RunID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// NewService creates a Service backed by st. The output directory is created
// if needed.
func NewService(cfg *config.Config, st store.Store, logger *slog.Logger) (*Service, error) {
	opts, err := cfg.Recovery.ParserOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if err := os.MkdirAll(cfg.Upload.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Upload.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}

	return &Service{
		store:     st,
		limiter:   NewRunLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		logger:    logger,
		opts:      opts,
		outputDir: cfg.Upload.OutputDir,
		maxSize:   cfg.Upload.MaxFileSize,
		timeout:   timeout,
		now:       time.Now,
	}, nil
}

// Defaults returns the configured parser options.
func (s *Service) Defaults() recovery.Options {
	return s.opts
}

// RecoverUpload recovers one uploaded file, writes the clean table to the
// output directory, loads its articles and records the run.
//
// Errors returned before a slot is acquired (no file, too large, bad options,
// busy) leave no trace. Anything later is recorded as a failed run and
// returned as a *RunError together with the partial result.
func (s *Service) RecoverUpload(ctx context.Context, req UploadRequest) (*RunResult, error) {
	if req.Reader == nil {
		return nil, ErrNoFile
	}
	if s.maxSize > 0 && req.Size > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrFileTooLarge, req.Size, s.maxSize)
	}

	parser, err := s.parser(req)
	if err != nil {
		return nil, err
	}

	release, err := s.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := parser.Options()
	run := &store.Run{
		ID:             uuid.NewString(),
		FileName:       req.FileName,
		Status:         store.RunLoading,
		Stage:          string(recovery.StageStart),
		Encoding:       opts.Encoding,
		OutputEncoding: opts.OutputEncoding,
		OuterDelimiter: delimiterName(opts.OuterDelimiter),
		InnerDelimiter: delimiterName(opts.InnerDelimiter),
		CreatedAt:      s.now().UTC(),
	}
	res := &RunResult{Run: run}

	input := NewUploadReader(req.Reader, req.Size, s.maxSize)
	rec, err := parser.RecoverReader(ctx, input, req.FileName)
	run.InputBytes = input.BytesRead
	if err != nil {
		s.logger.Debug("upload read stopped", "run_id", run.ID, "bytes", input.BytesRead, "progress", input.Progress())
		return s.finish(ctx, res, false, err)
	}
	applySummary(run, rec.Summary)
	res.Summary = rec.Summary.String()

	path := filepath.Join(s.outputDir, run.ID+".csv")
	if err := parser.Write(path, rec.Table); err != nil {
		return s.finish(ctx, res, false, err)
	}
	run.OutputPath = path
	run.Stage = string(recovery.StageWritten)

	batch, err := articles.FromTable(rec.Table)
	if errors.Is(err, articles.ErrNotArticleTable) {
		s.logger.Info("no article columns, skipping load", "run_id", run.ID, "columns", rec.Table.Columns)
		return s.finish(ctx, res, false, nil)
	}
	if err != nil {
		return s.finish(ctx, res, false, err)
	}
	res.Failed = batch.Failed
	res.BadDates = batch.BadDates
	run.ArticlesFailed = len(batch.Failed)

	// Articles reference the run, so it is stored before they are loaded.
	if err := s.store.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		s.removeOutput(run)
		return nil, fmt.Errorf("record run: %w", err)
	}

	loaded, err := s.store.LoadArticles(ctx, run.ID, batch.Articles)
	if err != nil {
		return s.finish(ctx, res, true, fmt.Errorf("load articles: %w", err))
	}
	run.ArticlesLoaded = loaded

	return s.finish(ctx, res, true, nil)
}

// finish sets the outcome of a run and stores it. created reports whether
// CreateRun already ran.
func (s *Service) finish(ctx context.Context, res *RunResult, created bool, runErr error) (*RunResult, error) {
	run := res.Run
	run.Duration = s.now().Sub(run.CreatedAt)

	if runErr != nil {
		run.Status = store.RunFailed
		run.Error = runErr.Error()
		run.ErrorCode = MapError(runErr).Code
		var stageErr *recovery.StageError
		if errors.As(runErr, &stageErr) {
			run.Stage = string(stageErr.Stage)
		}
		s.removeOutput(run)
	} else {
		run.Status = store.RunSucceeded
	}

	recordCtx := context.WithoutCancel(ctx)
	var err error
	if created {
		err = s.store.FinishRun(recordCtx, run)
	} else {
		err = s.store.CreateRun(recordCtx, run)
	}
	if err != nil {
		s.logger.Error("failed to record run", "run_id", run.ID, "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("record run: %w", err)
			s.removeOutput(run)
		}
	}

	if runErr != nil {
		s.logger.Error("recovery run failed",
			"run_id", run.ID,
			"file", run.FileName,
			"stage", run.Stage,
			"code", run.ErrorCode,
			"error", runErr,
		)
		return res, &RunError{RunID: run.ID, Err: runErr}
	}

	s.logger.Info("recovery run finished",
		"run_id", run.ID,
		"file", run.FileName,
		"accepted", run.Accepted,
		"dropped", run.Dropped,
		"articles_loaded", run.ArticlesLoaded,
		"articles_failed", run.ArticlesFailed,
		"duration", run.Duration,
	)
	return res, nil
}

func (s *Service) removeOutput(run *store.Run) {
	if run.OutputPath == "" {
		return
	}
	if err := os.Remove(run.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove output", "run_id", run.ID, "path", run.OutputPath, "error", err)
	}
	run.OutputPath = ""
}

// parser builds a parser from the configured options and the request
// overrides.
func (s *Service) parser(req UploadRequest) (*recovery.Parser, error) {
	opts := s.opts
	if req.Outer != "" {
		r, err := recovery.ParseDelimiter(req.Outer)
		if err != nil {
			return nil, fmt.Errorf("%w: outer: %v", ErrInvalidOptions, err)
		}
		opts.OuterDelimiter = r
	}
	if req.Inner != "" {
		r, err := recovery.ParseDelimiter(req.Inner)
		if err != nil {
			return nil, fmt.Errorf("%w: inner: %v", ErrInvalidOptions, err)
		}
		opts.InnerDelimiter = r
	}
	if req.Encoding != "" {
		opts.Encoding = req.Encoding
	}
	if req.OutputEncoding != "" {
		opts.OutputEncoding = req.OutputEncoding
	}

	p, err := recovery.New(opts, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return p, nil
}

func applySummary(run *store.Run, sum recovery.Summary) {
	run.Stage = string(sum.Stage)
	run.Encoding = sum.Encoding
	run.OuterLines = sum.OuterLines
	run.NonBlankLines = sum.NonBlankLines
	run.InnerLines = sum.InnerLines
	run.Accepted = sum.Accepted
	run.Dropped = sum.Dropped
	run.Columns = sum.Columns
	run.DuplicateColumns = sum.DuplicateColumns
	run.Skips = sum.Skips
}

// delimiterName renders a delimiter in the form ParseDelimiter reads back.
func delimiterName(r rune) string {
	if r == recovery.NoOuterFraming {
		return "none"
	}
	return string(r)
}

// Runs returns the most recent runs first.
func (s *Service) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// Run returns one run.
func (s *Service) Run(ctx context.Context, id string) (*store.Run, error) {
	run, err := s.store.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// OutputPath returns the clean file of a successful run.
func (s *Service) OutputPath(ctx context.Context, id string) (string, *store.Run, error) {
	run, err := s.Run(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if run.Status != store.RunSucceeded || run.OutputPath == "" {
		return "", run, fmt.Errorf("%w: run %s is %s", ErrOutputUnavailable, id, run.Status)
	}
	if _, err := os.Stat(run.OutputPath); err != nil {
		return "", run, fmt.Errorf("%w: %v", ErrOutputUnavailable, err)
	}
	return run.OutputPath, run, nil
}

// OutputTable reads the clean file of a run back into a table. The file is a
// plain delimited table, so it is parsed without outer framing.
func (s *Service) OutputTable(ctx context.Context, id string) (*recovery.CleanTable, *store.Run, error) {
	path, run, err := s.OutputPath(ctx, id)
	if err != nil {
		return nil, run, err
	}

	inner, err := recovery.ParseDelimiter(run.InnerDelimiter)
	if err != nil {
		return nil, run, fmt.Errorf("run %s inner delimiter: %w", id, err)
	}
	p, err := recovery.New(recovery.Options{
		OuterDelimiter: recovery.NoOuterFraming,
		InnerDelimiter: inner,
		Encoding:       run.OutputEncoding,
		OutputEncoding: run.OutputEncoding,
		SkipSampleSize: -1,
	}, s.logger)
	if err != nil {
		return nil, run, err
	}

	res, err := p.Recover(ctx, path)
	if err != nil {
		return nil, run, fmt.Errorf("read output of run %s: %w", id, err)
	}
	return &res.Table, run, nil
}

// SearchArticles returns one page of loaded articles.
func (s *Service) SearchArticles(ctx context.Context, params store.SearchParams) (*store.SearchResult, error) {
	return s.store.SearchArticles(ctx, params.Normalize())
}

// Stats summarizes the loaded corpus.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx)
}

// Facets lists the filter values for search.
func (s *Service) Facets(ctx context.Context) (*store.Facets, error) {
	return s.store.Facets(ctx)
}

// LimiterStatus reports recovery slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until in-flight recoveries finish or ctx is done.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Package store persists recovery runs and the articles they load.
//
// Two implementations share the same semantics: [Postgres] on a pgx pool for
// deployments, and [Memory] for tests and for running the server without a
// database.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/JonMunkholm/sophia/internal/articles"
	"github.com/JonMunkholm/sophia/internal/recovery"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence capability used by the service.
type Store interface {
	EnsureSchema(ctx context.Context) error
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	LoadArticles(ctx context.Context, runID string, batch []articles.Article) (int64, error)
	SearchArticles(ctx context.Context, params SearchParams) (*SearchResult, error)
	Stats(ctx context.Context) (*Stats, error)
	Facets(ctx context.Context) (*Facets, error)
}

// RunStatus is the outcome of a recovery run.
type RunStatus string

const (
	RunLoading   RunStatus = "loading"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run records one recovery attempt.
type Run struct {
	ID       string    `json:"id"`
	FileName string    `json:"file_name"`
	Status   RunStatus `json:"status"`
	Stage    string    `json:"stage"`

	Encoding       string `json:"encoding"`
	OutputEncoding string `json:"output_encoding"`
	OuterDelimiter string `json:"outer_delimiter"`
	InnerDelimiter string `json:"inner_delimiter"`

	InputBytes    int64 `json:"input_bytes"`
	OuterLines    int   `json:"outer_lines"`
	NonBlankLines int   `json:"non_blank_lines"`
	InnerLines    int   `json:"inner_lines"`
	Accepted      int   `json:"accepted"`
	Dropped       int   `json:"dropped"`

	Columns          []string        `json:"columns"`
	DuplicateColumns []string        `json:"duplicate_columns,omitempty"`
	Skips            []recovery.Skip `json:"skips,omitempty"`

	ArticlesLoaded int64 `json:"articles_loaded"`
	ArticlesFailed int   `json:"articles_failed"`

	OutputPath string `json:"-"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`

	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// DefaultRunLimit caps ListRuns when no limit is given.
const DefaultRunLimit = 50

// Pagination defaults for article search.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// SearchParams filters and pages an article search. Empty fields do not
// filter.
type SearchParams struct {
	Query       string     // substring of title, text or media outlet, case-insensitive
	Country     string     // exact, case-insensitive
	MediaOutlet string     // exact, case-insensitive
	RunID       string     // articles loaded by one run
	DateFrom    *time.Time // inclusive
	DateTo      *time.Time // inclusive

	Sort  string // date (default), title, country, media_outlet
	Order string // desc (default) or asc

	Page  int
	Limit int
}

// sortColumns maps accepted sort keys to article columns.
var sortColumns = map[string]string{
	"date":         "published_on",
	"title":        "title",
	"country":      "country",
	"media_outlet": "media_outlet",
}

// Normalize fills defaults and clamps paging.
func (p SearchParams) Normalize() SearchParams {
	p.Query = strings.TrimSpace(p.Query)
	p.Country = strings.TrimSpace(p.Country)
	p.MediaOutlet = strings.TrimSpace(p.MediaOutlet)
	if _, ok := sortColumns[p.Sort]; !ok {
		p.Sort = "date"
	}
	if p.Order != "asc" {
		p.Order = "desc"
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// Offset returns the number of rows to skip.
func (p SearchParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// SearchResult is one page of articles.
type SearchResult struct {
	Articles   []articles.Article
	Total      int64
	Page       int
	Limit      int
	TotalPages int
}

func newSearchResult(items []articles.Article, total int64, p SearchParams) *SearchResult {
	totalPages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	if items == nil {
		items = []articles.Article{}
	}
	return &SearchResult{
		Articles:   items,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: totalPages,
	}
}

// Stats summarizes the loaded corpus.
type Stats struct {
	Articles  int64      `json:"articles"`
	Runs      int64      `json:"runs"`
	Countries int64      `json:"countries"`
	Outlets   int64      `json:"media_outlets"`
	Oldest    *time.Time `json:"oldest,omitempty"`
	Newest    *time.Time `json:"newest,omitempty"`
}

// Facet list sizes, most frequent values first.
const (
	MaxFacetCountries = 50
	MaxFacetOutlets   = 100
)

// Facets lists the values a search can be filtered on.
type Facets struct {
	Countries    []string `json:"countries"`
	MediaOutlets []string `json:"media_outlets"`
}

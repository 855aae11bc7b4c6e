package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/sophia/internal/articles"
)

// Memory keeps runs and articles in process memory. It matches the filtering,
// ordering and paging of Postgres.
type Memory struct {
	mu       sync.RWMutex
	runs     map[string]Run
	order    []string // run IDs in insertion order
	articles []articles.Article
	nextID   int64
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]Run)}
}

// EnsureSchema is a no-op.
func (m *Memory) EnsureSchema(context.Context) error { return nil }

// CreateRun stores a copy of run.
func (m *Memory) CreateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; !ok {
		m.order = append(m.order, run.ID)
	}
	m.runs[run.ID] = *run
	return nil
}

// FinishRun replaces a stored run.
func (m *Memory) FinishRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; !ok {
		return ErrNotFound
	}
	m.runs[run.ID] = *run
	return nil
}

// GetRun returns the run with the given ID, or ErrNotFound.
func (m *Memory) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	m.mu.RLock()
	runs := make([]Run, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		runs = append(runs, m.runs[m.order[i]])
	}
	m.mu.RUnlock()

	slices.SortStableFunc(runs, func(a, b Run) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// LoadArticles appends the articles, assigning IDs.
func (m *Memory) LoadArticles(_ context.Context, runID string, batch []articles.Article) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range batch {
		m.nextID++
		a.ID = m.nextID
		a.RunID = runID
		m.articles = append(m.articles, a)
	}
	return int64(len(batch)), nil
}

// SearchArticles returns one page of matching articles and the total count.
func (m *Memory) SearchArticles(_ context.Context, params SearchParams) (*SearchResult, error) {
	params = params.Normalize()
	query := strings.ToLower(params.Query)

	m.mu.RLock()
	matched := make([]articles.Article, 0)
	for _, a := range m.articles {
		if matches(a, params, query) {
			matched = append(matched, a)
		}
	}
	m.mu.RUnlock()

	slices.SortStableFunc(matched, compareArticles(params.Sort, params.Order == "asc"))

	total := int64(len(matched))
	start := min(params.Offset(), len(matched))
	end := min(start+params.Limit, len(matched))

	return newSearchResult(matched[start:end], total, params), nil
}

// Stats summarizes the stored articles.
func (m *Memory) Stats(context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Stats{Articles: int64(len(m.articles)), Runs: int64(len(m.runs))}
	countries := make(map[string]struct{})
	outlets := make(map[string]struct{})
	for _, a := range m.articles {
		if a.Country != "" {
			countries[strings.ToLower(a.Country)] = struct{}{}
		}
		if a.MediaOutlet != "" {
			outlets[strings.ToLower(a.MediaOutlet)] = struct{}{}
		}
		if a.Date == nil {
			continue
		}
		if s.Oldest == nil || a.Date.Before(*s.Oldest) {
			d := *a.Date
			s.Oldest = &d
		}
		if s.Newest == nil || a.Date.After(*s.Newest) {
			d := *a.Date
			s.Newest = &d
		}
	}
	s.Countries = int64(len(countries))
	s.Outlets = int64(len(outlets))
	return s, nil
}

// Facets returns the most frequent countries and media outlets.
func (m *Memory) Facets(context.Context) (*Facets, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	countries := make(map[string]int)
	outlets := make(map[string]int)
	for _, a := range m.articles {
		if a.Country != "" {
			countries[a.Country]++
		}
		if a.MediaOutlet != "" {
			outlets[a.MediaOutlet]++
		}
	}
	return &Facets{
		Countries:    topValues(countries, MaxFacetCountries),
		MediaOutlets: topValues(outlets, MaxFacetOutlets),
	}, nil
}

func topValues(counts map[string]int, limit int) []string {
	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	slices.SortFunc(values, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(values) > limit {
		values = values[:limit]
	}
	return values
}

func matches(a articles.Article, p SearchParams, query string) bool {
	if query != "" &&
		!strings.Contains(strings.ToLower(a.Title), query) &&
		!strings.Contains(strings.ToLower(a.Text), query) &&
		!strings.Contains(strings.ToLower(a.MediaOutlet), query) {
		return false
	}
	if p.Country != "" && !strings.EqualFold(a.Country, p.Country) {
		return false
	}
	if p.MediaOutlet != "" && !strings.EqualFold(a.MediaOutlet, p.MediaOutlet) {
		return false
	}
	if p.RunID != "" && a.RunID != p.RunID {
		return false
	}
	if p.DateFrom != nil || p.DateTo != nil {
		if a.Date == nil {
			return false
		}
		day := dayOf(*a.Date)
		if p.DateFrom != nil && day.Before(dayOf(*p.DateFrom)) {
			return false
		}
		if p.DateTo != nil && day.After(dayOf(*p.DateTo)) {
			return false
		}
	}
	return true
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// compareArticles orders by the sort key with missing values last in either
// direction, then by ID.
func compareArticles(sortKey string, asc bool) func(a, b articles.Article) int {
	return func(a, b articles.Article) int {
		var c int
		switch sortKey {
		case "title":
			c = compareText(a.Title, b.Title, asc)
		case "country":
			c = compareText(a.Country, b.Country, asc)
		case "media_outlet":
			c = compareText(a.MediaOutlet, b.MediaOutlet, asc)
		default:
			c = compareDate(a.Date, b.Date, asc)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
}

func compareText(a, b string, asc bool) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}
	if asc {
		return strings.Compare(a, b)
	}
	return strings.Compare(b, a)
}

func compareDate(a, b *time.Time, asc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if asc {
		return a.Compare(*b)
	}
	return b.Compare(*a)
}

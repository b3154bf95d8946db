package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"repochat/internal/storage"
)

// DefaultTopK is how many candidates a retrieval returns when the
// caller does not override it.
const DefaultTopK = 5

// Candidate is one ranked file with its relevance score. TokenEstimate
// is the indexed file's content estimate, kept for reporting; context
// budgeting is priced on the summary.
type Candidate struct {
	Path          string
	Score         float64
	Summary       string
	TokenEstimate int
	LastIndexedAt time.Time
}

// Scorer computes a relevance score in [0, 1] for a record against the
// tokenized query. Zero means no relevance.
type Scorer interface {
	Score(queryTerms []string, rec *storage.FileRecord) float64
}

// OverlapScorer scores by lexical overlap between query terms and a
// record's summary and path. Path token matches count at half weight so
// a file mentioned by name still surfaces, without drowning out summary
// relevance. The score is normalized by the query term count.
type OverlapScorer struct {
	// PathWeight is the contribution of a path-only match relative to a
	// summary match.
	PathWeight float64
}

// NewOverlapScorer returns an OverlapScorer with the default path
// weight of 0.5.
func NewOverlapScorer() *OverlapScorer {
	return &OverlapScorer{PathWeight: 0.5}
}

// Score implements Scorer.
func (s *OverlapScorer) Score(queryTerms []string, rec *storage.FileRecord) float64 {
	if len(queryTerms) == 0 {
		return 0
	}

	summaryTerms := termSet(Tokenize(rec.Summary))
	pathTerms := termSet(Tokenize(rec.Path))

	var matched float64
	for _, term := range queryTerms {
		switch {
		case summaryTerms[term]:
			matched += 1.0
		case pathTerms[term]:
			matched += s.PathWeight
		}
	}
	return matched / float64(len(queryTerms))
}

// Engine ranks an index snapshot against a query.
type Engine struct {
	scorer Scorer
	topK   int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithScorer overrides the default overlap scorer.
func WithScorer(s Scorer) EngineOption {
	return func(e *Engine) { e.scorer = s }
}

// WithTopK overrides the result count limit.
func WithTopK(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// NewEngine creates a ranking engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		scorer: NewOverlapScorer(),
		topK:   DefaultTopK,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rank scores every indexed record in the snapshot against the query
// and returns the top candidates. Records that never indexed
// successfully and records with zero overlap are excluded. Ordering is
// deterministic: score descending, then most recently indexed, then
// path ascending.
func (e *Engine) Rank(ctx context.Context, snapshot *storage.IndexSnapshot, query string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(snapshot.Records))
	for _, rec := range snapshot.Records {
		if rec.Status != storage.StatusIndexed {
			continue
		}
		score := e.scorer.Score(queryTerms, rec)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Path:          rec.Path,
			Score:         score,
			Summary:       rec.Summary,
			TokenEstimate: rec.TokenEstimate,
			LastIndexedAt: rec.LastIndexedAt,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if !candidates[i].LastIndexedAt.Equal(candidates[j].LastIndexedAt) {
			return candidates[i].LastIndexedAt.After(candidates[j].LastIndexedAt)
		}
		return candidates[i].Path < candidates[j].Path
	})

	if len(candidates) > e.topK {
		candidates = candidates[:e.topK]
	}
	return candidates, nil
}

// Tokenize lowercases text and splits it on any non-alphanumeric rune.
// Empty terms are dropped.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func termSet(terms []string) map[string]bool {
	set := make(map[string]bool, len(terms))
	for _, term := range terms {
		set[term] = true
	}
	return set
}

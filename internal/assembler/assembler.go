// Package assembler fits ranked context and conversation history into
// a model-call token budget.
package assembler

import (
	"repochat/internal/retrieval"
	"repochat/internal/storage"
	"repochat/pkg/types"
)

// Defaults for payload assembly.
const (
	DefaultMaxHistoryTurns    = 10
	DefaultHistoryBudgetShare = 0.5
)

// Config bounds what a payload may contain.
type Config struct {
	// TokenBudget is the total estimated tokens allowed for files plus
	// history. Required.
	TokenBudget int
	// MaxHistoryTurns caps how many trailing turns are considered.
	MaxHistoryTurns int
	// HistoryBudgetShare is the fraction of TokenBudget reserved for
	// history, in (0, 1).
	HistoryBudgetShare float64
}

func (c Config) withDefaults() Config {
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = DefaultMaxHistoryTurns
	}
	if c.HistoryBudgetShare <= 0 || c.HistoryBudgetShare >= 1 {
		c.HistoryBudgetShare = DefaultHistoryBudgetShare
	}
	return c
}

// FileContext is one file's summary included in a payload.
type FileContext struct {
	Path          string
	Summary       string
	TokenEstimate int
}

// Payload is the assembled input for one model call: the files that
// fit the budget plus the trailing history that fits its share.
type Payload struct {
	Files         []FileContext
	History       []*storage.Turn
	TokenEstimate int
}

// Assemble builds a payload from ranked candidates and session history.
//
// History gets at most HistoryBudgetShare of the budget: trailing turns
// are admitted newest-first until the share is spent, then emitted in
// chronological order. Files fill the remainder in rank order; a
// candidate that does not fit is skipped, not truncated, and later
// smaller candidates may still be admitted. The only hard failure is a
// newest history turn that alone exceeds the entire budget.
func Assemble(cfg Config, candidates []retrieval.Candidate, history []*storage.Turn) (*Payload, error) {
	cfg = cfg.withDefaults()
	if cfg.TokenBudget <= 0 {
		return nil, types.E(types.KindBudgetExceeded, "token budget must be positive", nil)
	}

	historyBudget := int(float64(cfg.TokenBudget) * cfg.HistoryBudgetShare)

	turns := history
	if len(turns) > cfg.MaxHistoryTurns {
		turns = turns[len(turns)-cfg.MaxHistoryTurns:]
	}

	var picked []*storage.Turn
	historyTokens := 0
	for i := len(turns) - 1; i >= 0; i-- {
		cost := types.EstimateTokens(turns[i].Content)
		if historyTokens+cost > historyBudget {
			if len(picked) == 0 && cost > cfg.TokenBudget {
				return nil, types.E(types.KindBudgetExceeded,
					"latest conversation turn exceeds the token budget", nil)
			}
			break
		}
		picked = append(picked, turns[i])
		historyTokens += cost
	}
	// Reverse back to chronological order.
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}

	// Candidates are costed by their summary, which is what the payload
	// carries. The record's content-sized estimate is a stat, not a cost.
	fileBudget := cfg.TokenBudget - historyTokens
	var files []FileContext
	fileTokens := 0
	for _, cand := range candidates {
		cost := types.EstimateTokens(cand.Summary)
		if fileTokens+cost > fileBudget {
			continue
		}
		files = append(files, FileContext{
			Path:          cand.Path,
			Summary:       cand.Summary,
			TokenEstimate: cost,
		})
		fileTokens += cost
	}

	return &Payload{
		Files:         files,
		History:       picked,
		TokenEstimate: fileTokens + historyTokens,
	}, nil
}

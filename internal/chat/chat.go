// Package chat orchestrates one question-answer exchange: snapshot the
// index, rank context, assemble a budgeted payload, call the model, and
// record the exchange.
package chat

import (
	"context"
	"fmt"
	"strings"

	"repochat/internal/assembler"
	"repochat/internal/conversation"
	"repochat/internal/llm"
	"repochat/internal/retrieval"
	"repochat/internal/storage"
	"repochat/pkg/types"
)

// systemPrompt frames every chat call.
const systemPrompt = "You are an AI assistant helping with a codebase. Use the provided context and conversation history to answer questions."

// DefaultTokenBudget bounds the estimated tokens of context plus
// history sent with one question.
const DefaultTokenBudget = 6000

// Config tunes the orchestrator.
type Config struct {
	TokenBudget int
	Assembly    assembler.Config
}

// Reply is the result of one successful exchange.
type Reply struct {
	Text          string
	SessionID     string
	ContextFiles  []string
	TokenEstimate int
}

// Orchestrator answers questions about an indexed codebase.
type Orchestrator struct {
	store  storage.Store
	client llm.Client
	engine *retrieval.Engine
	cfg    Config
}

// New creates an Orchestrator. A zero Config gets the default budget;
// an explicit Assembly.TokenBudget overrides the shared one.
func New(store storage.Store, client llm.Client, engine *retrieval.Engine, cfg Config) *Orchestrator {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.Assembly.TokenBudget <= 0 {
		cfg.Assembly.TokenBudget = cfg.TokenBudget
	}
	return &Orchestrator{
		store:  store,
		client: client,
		engine: engine,
		cfg:    cfg,
	}
}

// Ask answers one question within the given session. On any failure the
// session history is left untouched; the exchange is recorded only
// after the model reply arrives.
func (o *Orchestrator) Ask(ctx context.Context, session *conversation.Session, question string) (*Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, llm.ErrEmptyPrompt
	}

	snapshot, err := o.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := o.engine.Rank(ctx, snapshot, question)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, types.E(types.KindNoRelevantContext,
			"no indexed files matched the question", nil)
	}

	payload, err := assembler.Assemble(o.cfg.Assembly, candidates, session.History())
	if err != nil {
		return nil, err
	}

	history := make([]llm.Message, 0, len(payload.History))
	for _, turn := range payload.History {
		history = append(history, llm.Message{Role: turn.Role, Content: turn.Content})
	}

	text, err := o.client.Chat(ctx, llm.ChatRequest{
		System:  systemPrompt,
		History: history,
		Prompt:  buildPrompt(question, payload.Files),
	})
	if err != nil {
		return nil, err
	}

	contextFiles := make([]string, 0, len(payload.Files))
	for _, file := range payload.Files {
		contextFiles = append(contextFiles, file.Path)
	}

	if err := session.AppendExchange(ctx, question, text, contextFiles); err != nil {
		return nil, err
	}

	return &Reply{
		Text:          text,
		SessionID:     session.ID(),
		ContextFiles:  contextFiles,
		TokenEstimate: payload.TokenEstimate,
	}, nil
}

// buildPrompt renders the question with the file summaries the model
// should ground its answer on.
func buildPrompt(question string, files []assembler.FileContext) string {
	var b strings.Builder
	b.WriteString("User query: ")
	b.WriteString(question)
	b.WriteString("\n\nRelevant file summaries:\n")
	for _, file := range files {
		fmt.Fprintf(&b, "\nFile: %s\nSummary: %s\n", file.Path, file.Summary)
	}
	return b.String()
}

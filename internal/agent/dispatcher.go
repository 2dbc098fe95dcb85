// Package agent selects the behavior for a classified message and produces
// the response text. The escalation category is terminal and static; every
// other category assembles a prompt from its template, the conversation
// memory and retrieved knowledge, then calls the completion provider.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/knowledge"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/openai"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/memory"
)

const (
	// DefaultModel is used when no agent model is configured.
	DefaultModel = "gpt-4o"

	agentMaxTokens = 500
)

// CompletionClient is the completion call the dispatcher needs.
type CompletionClient interface {
	Chat(ctx context.Context, in openai.ChatRequest) (string, error)
}

// Request is the per-dispatch context assembled by the pipeline.
type Request struct {
	Category     domain.Category
	SubscriberID string
	DisplayName  string
	Message      string
	Language     domain.Language
	Greeting     string
}

// Result is the dispatch outcome. Text is always usable; Degraded marks
// that the fallback text was substituted for a failed generation.
type Result struct {
	Text     string
	Degraded bool
}

// Dispatcher routes a classified message to its category behavior.
type Dispatcher struct {
	llm       CompletionClient
	memory    memory.Store
	knowledge knowledge.Searcher
	templates *Templates
	model     string
}

// NewDispatcher creates a Dispatcher. searcher may be nil when no knowledge
// base is deployed; templates nil falls back to the embedded defaults.
func NewDispatcher(llm CompletionClient, mem memory.Store, searcher knowledge.Searcher, templates *Templates, model string) (*Dispatcher, error) {
	if llm == nil {
		return nil, errors.New("agent: completion client must not be nil")
	}
	if mem == nil {
		return nil, errors.New("agent: memory store must not be nil")
	}
	if templates == nil {
		templates = DefaultTemplates()
	}
	if model == "" {
		model = DefaultModel
	}
	return &Dispatcher{
		llm:       llm,
		memory:    mem,
		knowledge: searcher,
		templates: templates,
		model:     model,
	}, nil
}

// temperatureFor maps categories to sampling temperature: procedural
// categories run cooler than open-ended sales conversations.
func temperatureFor(cat domain.Category) float64 {
	switch cat {
	case domain.CategorySales:
		return 0.7
	case domain.CategorySupport:
		return 0.5
	case domain.CategoryTechnical:
		return 0.4
	default:
		return 0.5
	}
}

// Dispatch produces the response text for one classified message.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	if req.Category.Escalated() {
		return Result{Text: EscalationMessage(req.Language)}
	}

	var knowledgeBlock string
	if d.knowledge != nil {
		snippets, err := d.knowledge.Search(ctx, req.Message)
		if err != nil {
			slog.Warn("knowledge search failed, continuing without context",
				"subscriber_id", req.SubscriberID, "err", err)
		} else {
			knowledgeBlock = knowledge.FormatContext(snippets)
		}
	}

	history, err := d.memory.Snapshot(ctx, req.SubscriberID)
	if err != nil {
		slog.Warn("memory snapshot failed, continuing without history",
			"subscriber_id", req.SubscriberID, "err", err)
		history = nil
	}

	system := d.templates.Render(req.Category, PromptContext{
		Language:     req.Language,
		Name:         req.DisplayName,
		Greeting:     req.Greeting,
		SubscriberID: req.SubscriberID,
		Knowledge:    knowledgeBlock,
	})

	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	for _, turn := range history {
		messages = append(messages, domain.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: req.Message})

	reply, err := d.llm.Chat(ctx, openai.ChatRequest{
		Model:       d.model,
		Messages:    messages,
		Temperature: temperatureFor(req.Category),
		MaxTokens:   agentMaxTokens,
	})
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		slog.Error("generation failed, using fallback",
			"subscriber_id", req.SubscriberID, "category", req.Category, "err", err)
		// memory is left untouched so a failed turn never pollutes history
		return Result{Text: FallbackMessage(req.Language), Degraded: true}
	}

	if err := d.memory.AppendExchange(ctx, req.SubscriberID, req.Message, reply); err != nil {
		slog.Warn("memory append failed", "subscriber_id", req.SubscriberID, "err", err)
	}
	return Result{Text: reply}
}

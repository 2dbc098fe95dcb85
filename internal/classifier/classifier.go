// Package classifier maps an inbound message to one category from the
// closed set. Classification never fails: any provider error or label
// outside the set degrades to ESCALATION so no message is silently dropped.
package classifier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/openai"
)

const (
	// classifierTemperature keeps labels near-deterministic.
	classifierTemperature = 0.1
	classifierMaxTokens   = 50

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"
)

// CompletionClient is the single completion call the classifier needs.
type CompletionClient interface {
	Chat(ctx context.Context, in openai.ChatRequest) (string, error)
}

// Classifier labels messages via one low-temperature completion call.
type Classifier struct {
	llm    CompletionClient
	model  string
	prompt string
}

// New creates a Classifier. An empty model falls back to DefaultModel; an
// empty prompt falls back to the built-in instruction.
func New(llm CompletionClient, model, prompt string) *Classifier {
	if model == "" {
		model = DefaultModel
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = systemPrompt
	}
	return &Classifier{llm: llm, model: model, prompt: prompt}
}

const systemPrompt = `Clasifica el mensaje del cliente en UNA de estas 4 categorías:

SALES: saludos, planes, precios, destinos, compras, recomendaciones
SUPPORT: QR no llegó, pagos, reembolsos, órdenes, problemas con compra
TECHNICAL: instalación, QR no escanea, sin internet, activación, configuración
ESCALATION: necesito humano, hablar con persona, esto no sirve, quiero cancelar, muy frustrado

Si menciona "humano", "persona real", "agente" o está muy frustrado -> ESCALATION

Responde ÚNICAMENTE con una palabra en MAYÚSCULAS: SALES, SUPPORT, TECHNICAL o ESCALATION`

// Classify returns the category for a message. Provider failures and
// out-of-set labels map to CategoryEscalation.
func (c *Classifier) Classify(ctx context.Context, message string, lang domain.Language) domain.Category {
	raw, err := c.llm.Chat(ctx, openai.ChatRequest{
		Model: c.model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: c.prompt},
			{Role: domain.RoleUser, Content: message},
		},
		Temperature: classifierTemperature,
		MaxTokens:   classifierMaxTokens,
	})
	if err != nil {
		slog.Warn("classification degraded, escalating", "err", err, "language", lang)
		return domain.CategoryEscalation
	}

	category, ok := domain.ParseCategory(raw)
	if !ok {
		slog.Warn("classifier returned out-of-set label, escalating", "label", strings.TrimSpace(raw))
		return domain.CategoryEscalation
	}
	return category
}

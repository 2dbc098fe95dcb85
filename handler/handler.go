// Package handler adapts API Gateway webhook events to the dispatch
// pipeline.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/pipeline"
)

// Pipeline is the processing entrypoint the handler depends on.
type Pipeline interface {
	Process(ctx context.Context, in pipeline.Input) (pipeline.Outcome, error)
}

type Handler struct {
	pipeline Pipeline
}

func NewHandler(p Pipeline) (*Handler, error) {
	if p == nil {
		return nil, errors.New("handler: pipeline must not be nil")
	}
	return &Handler{pipeline: p}, nil
}

// webhookRequest accepts both the ManyChat field names and the short
// aliases used by the test console.
type webhookRequest struct {
	SubscriberID  string `json:"subscriber_id"`
	Key           string `json:"key"`
	LastInputText string `json:"last_input_text"`
	Text          string `json:"text"`
	FirstName     string `json:"first_name"`
	Phone         string `json:"phone"`
}

type webhookResponse struct {
	Status     string          `json:"status"`
	Categoria  string          `json:"categoria,omitempty"`
	DuracionMs int64           `json:"duracion_ms"`
	Content    responseContent `json:"content"`
}

type responseContent struct {
	Messages []responseMessage `json:"messages"`
}

type responseMessage struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// processedAck is returned to the webhook caller; the actual reply reaches
// the user through the messaging channel.
const processedAck = "Mensaje procesado correctamente"

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	log := slog.With("correlation_id", corrID)

	var req webhookRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		log.Warn("invalid request body", "err", err)
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{
			Error:  string(pipeline.ErrorInvalidInput),
			Reason: "invalid_json",
		}), nil
	}

	subscriberID := req.SubscriberID
	if subscriberID == "" {
		subscriberID = req.Key
	}
	message := req.LastInputText
	if message == "" {
		message = req.Text
	}

	out, err := h.pipeline.Process(ctx, pipeline.Input{
		SubscriberID: subscriberID,
		Message:      message,
		DisplayName:  req.FirstName,
		Phone:        req.Phone,
	})
	if err != nil {
		status, body := mapError(err)
		if status >= http.StatusInternalServerError {
			log.Error("pipeline failed", "err", err)
		} else {
			log.Warn("pipeline rejected request", "err", err)
		}
		return jsonResponse(status, corrID, body), nil
	}

	log.Info("message processed",
		"status", out.Status,
		"category", out.Category,
		"language", out.Language,
		"duration_ms", out.Duration.Milliseconds(),
		"delivery_failed", out.DeliveryFailed,
	)
	return jsonResponse(http.StatusOK, corrID, webhookResponse{
		Status:     string(out.Status),
		Categoria:  string(out.Category),
		DuracionMs: out.Duration.Milliseconds(),
		Content: responseContent{
			Messages: []responseMessage{{Text: processedAck}},
		},
	}), nil
}

func mapError(err error) (int, errorResponse) {
	var pipeErr *pipeline.Error
	if errors.As(err, &pipeErr) {
		switch pipeErr.Code {
		case pipeline.ErrorInvalidInput:
			return http.StatusBadRequest, errorResponse{Error: string(pipeErr.Code), Reason: pipeErr.Reason}
		default:
			return http.StatusInternalServerError, errorResponse{Error: string(pipeErr.Code), Reason: pipeErr.Reason}
		}
	}
	return http.StatusInternalServerError, errorResponse{Error: string(pipeline.ErrorInternal)}
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": corrID,
		},
		Body: string(raw),
	}
}

// correlationID reuses the caller's id when present; header casing is not
// guaranteed by API Gateway.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

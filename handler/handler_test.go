package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/pipeline"
)

type stubPipeline struct {
	out pipeline.Outcome
	err error
	in  pipeline.Input
}

func (s *stubPipeline) Process(_ context.Context, in pipeline.Input) (pipeline.Outcome, error) {
	s.in = in
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook/vuelasim-bot",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	p := &stubPipeline{out: pipeline.Outcome{
		Status:   pipeline.StatusSuccess,
		Category: domain.CategorySales,
		Reply:    "respuesta",
		Language: domain.LangSpanish,
		Duration: 120 * time.Millisecond,
	}}
	h, err := NewHandler(p)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(
		`{"subscriber_id":"user:u1","last_input_text":"hola","first_name":"Ana","phone":"+57300"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, pipeline.Input{
		SubscriberID: "user:u1",
		Message:      "hola",
		DisplayName:  "Ana",
		Phone:        "+57300",
	}, p.in)

	out := parseBody[webhookResponse](t, resp.Body)
	require.Equal(t, "success", out.Status)
	require.Equal(t, "SALES", out.Categoria)
	require.Equal(t, int64(120), out.DuracionMs)
	require.Len(t, out.Content.Messages, 1)
	require.Equal(t, processedAck, out.Content.Messages[0].Text)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_AcceptsFieldAliases(t *testing.T) {
	p := &stubPipeline{out: pipeline.Outcome{Status: pipeline.StatusSuccess}}
	h, err := NewHandler(p)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), makeEvent(`{"key":"u2","text":"oi"}`))
	require.NoError(t, err)
	require.Equal(t, "u2", p.in.SubscriberID)
	require.Equal(t, "oi", p.in.Message)
}

func TestHandle_RateLimitedStillReturns200(t *testing.T) {
	p := &stubPipeline{out: pipeline.Outcome{
		Status:   pipeline.StatusRateLimited,
		Reply:    "límite alcanzado",
		Language: domain.LangSpanish,
	}}
	h, err := NewHandler(p)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"subscriber_id":"u1","text":"hola"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[webhookResponse](t, resp.Body)
	require.Equal(t, "rate_limited", out.Status)
}

func TestHandle_InvalidBody(t *testing.T) {
	h, err := NewHandler(&stubPipeline{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(pipeline.ErrorInvalidInput), out.Error)
	require.Equal(t, "invalid_json", out.Reason)
}

func TestHandle_MapsPipelineErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &pipeline.Error{Code: pipeline.ErrorInvalidInput, Reason: "empty_message"}, status: http.StatusBadRequest, code: string(pipeline.ErrorInvalidInput)},
		{name: "internal", err: &pipeline.Error{Code: pipeline.ErrorInternal, Reason: "store_error"}, status: http.StatusInternalServerError, code: string(pipeline.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(pipeline.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(&stubPipeline{err: tc.err})
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"subscriber_id":"u1","text":"hola"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubPipeline{out: pipeline.Outcome{Status: pipeline.StatusSuccess}})
	require.NoError(t, err)

	event := makeEvent(`{"subscriber_id":"u1","text":"hola"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/openai"
)

type fakeLLM struct {
	answer   string
	err      error
	captured openai.ChatRequest
	calls    int
}

func (f *fakeLLM) Chat(_ context.Context, in openai.ChatRequest) (string, error) {
	f.captured = in
	f.calls++
	return f.answer, f.err
}

func TestClassify_ValidLabels(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.Category
	}{
		{raw: "SALES", want: domain.CategorySales},
		{raw: "SUPPORT", want: domain.CategorySupport},
		{raw: "TECHNICAL", want: domain.CategoryTechnical},
		{raw: "ESCALATION", want: domain.CategoryEscalation},
		{raw: "  sales \n", want: domain.CategorySales},
		{raw: "VENTAS", want: domain.CategorySales},
		{raw: "ESCALAMIENTO", want: domain.CategoryEscalation},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			c := New(&fakeLLM{answer: tc.raw}, "", "")
			got := c.Classify(context.Background(), "hola", domain.LangSpanish)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestClassify_OutOfSetLabelEscalates(t *testing.T) {
	c := New(&fakeLLM{answer: "BILLING"}, "", "")
	got := c.Classify(context.Background(), "hola", domain.LangSpanish)
	require.Equal(t, domain.CategoryEscalation, got)
}

func TestClassify_ProviderFailureEscalates(t *testing.T) {
	c := New(&fakeLLM{err: errors.New("timeout")}, "", "")
	got := c.Classify(context.Background(), "hola", domain.LangSpanish)
	require.Equal(t, domain.CategoryEscalation, got)
}

func TestClassify_RequestShape(t *testing.T) {
	llm := &fakeLLM{answer: "SALES"}
	c := New(llm, "gpt-4o-mini", "")

	c.Classify(context.Background(), "cuánto cuesta Europa?", domain.LangSpanish)

	require.Equal(t, 1, llm.calls)
	require.Equal(t, "gpt-4o-mini", llm.captured.Model)
	require.InDelta(t, 0.1, llm.captured.Temperature, 1e-9)
	require.Equal(t, 50, llm.captured.MaxTokens)
	require.Len(t, llm.captured.Messages, 2)
	require.Equal(t, domain.RoleSystem, llm.captured.Messages[0].Role)
	require.Equal(t, domain.RoleUser, llm.captured.Messages[1].Role)
	require.Equal(t, "cuánto cuesta Europa?", llm.captured.Messages[1].Content)
}

func TestClassify_CustomPrompt(t *testing.T) {
	llm := &fakeLLM{answer: "SALES"}
	c := New(llm, "", "custom instruction")

	c.Classify(context.Background(), "hola", domain.LangSpanish)
	require.Equal(t, "custom instruction", llm.captured.Messages[0].Content)
}

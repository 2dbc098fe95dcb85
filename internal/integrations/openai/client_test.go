package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_RequiresKeySource(t *testing.T) {
	_, err := NewClient(nil, "")
	require.Error(t, err)

	_, err = NewClient(&fakeGetter{}, " ")
	require.Error(t, err)
}

func TestNewClient_StaticKey(t *testing.T) {
	c, err := NewClient(nil, "", WithAPIKey("sk-static"))
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-static", key)
}

// ---------------------------------------------------------------------------
// resolveAPIKey — SSM caching behaviour
// ---------------------------------------------------------------------------

func TestResolveAPIKey_FetchedOnFirstCall(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/agente-ia")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, 1, calls)

	// subsequent calls must never hit SSM again
	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestFetchAPIKey_JSONToken(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	key, err := fetchAPIKeyFromParamStore(context.Background(), g, "/agente-ia/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", key)
}

func TestFetchAPIKey_MalformedJSON(t *testing.T) {
	g := &fakeGetter{val: `{"broken`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/agente-ia/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestFetchAPIKey_GetterError(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/agente-ia/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func TestChat_SendsTemperatureMaxTokensAndAuth(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"SALES"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(nil, "", WithAPIKey("sk-test"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), ChatRequest{
		Model:       "gpt-4o-mini",
		Messages:    []domain.ChatMessage{{Role: domain.RoleUser, Content: "hola"}},
		Temperature: 0.1,
		MaxTokens:   50,
	})
	require.NoError(t, err)
	require.Equal(t, "SALES", out)
	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, "gpt-4o-mini", gotBody["model"])
	require.InDelta(t, 0.1, gotBody["temperature"].(float64), 1e-9)
	require.EqualValues(t, 50, gotBody["max_tokens"])
}

func TestChat_ZeroTemperatureIsStillSent(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(nil, "", WithAPIKey("sk-test"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hola"}},
	})
	require.NoError(t, err)
	_, present := gotBody["temperature"]
	require.True(t, present, "temperature 0 must be serialized explicitly")
}

func TestChat_NonOKStatusIsHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(nil, "", WithAPIKey("sk-test"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hola"}},
	})
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestChat_MalformedAndEmptyResponses(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "not json", body: "not-json"},
		{name: "no choices", body: `{"choices":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, err := NewClient(nil, "", WithAPIKey("sk-test"), WithBaseURL(srv.URL))
			require.NoError(t, err)

			_, err = c.Chat(context.Background(), ChatRequest{
				Model:    "gpt-4o-mini",
				Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hola"}},
			})
			require.Error(t, err)
		})
	}
}

func TestChat_ValidatesInput(t *testing.T) {
	c, err := NewClient(nil, "", WithAPIKey("sk-test"))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), ChatRequest{Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "x"}}})
	require.Error(t, err)

	_, err = c.Chat(context.Background(), ChatRequest{Model: "gpt-4o-mini"})
	require.Error(t, err)
}

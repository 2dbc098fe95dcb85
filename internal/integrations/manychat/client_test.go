package manychat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
)

func TestSend_HappyPath(t *testing.T) {
	var gotAuth string
	var gotBody sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	c := NewClient("mc-token", WithAPIURL(srv.URL))
	err := c.Send(context.Background(), "12345", "hola viajero")
	require.NoError(t, err)

	require.Equal(t, "Bearer mc-token", gotAuth)
	require.Equal(t, "12345", gotBody.SubscriberID)
	require.Equal(t, "v2", gotBody.Data.Version)
	require.Equal(t, "ACCOUNT_UPDATE", gotBody.MessageTag)
	require.Len(t, gotBody.Data.Content.Messages, 1)
	require.Equal(t, "text", gotBody.Data.Content.Messages[0].Type)
	require.Equal(t, "hola viajero", gotBody.Data.Content.Messages[0].Text)
}

func TestSend_NotConfigured(t *testing.T) {
	c := NewClient("")
	err := c.Send(context.Background(), "12345", "hola")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestSend_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("mc-token", WithAPIURL(srv.URL))
	err := c.Send(context.Background(), "12345", "hola")
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestSend_UnacknowledgedDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error"}`))
	}))
	defer srv.Close()

	c := NewClient("mc-token", WithAPIURL(srv.URL))
	err := c.Send(context.Background(), "12345", "hola")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not acknowledged")
}

func TestNotifyAdmin(t *testing.T) {
	var gotBody sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	c := NewClient("mc-token", WithAPIURL(srv.URL), WithAdminSubscriberID("admin-1"))
	err := c.NotifyAdmin(context.Background(), domain.Escalation{
		SubscriberID: "u1",
		DisplayName:  "Steven",
		Message:      "necesito un humano",
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Equal(t, "admin-1", gotBody.SubscriberID)
	text := gotBody.Data.Content.Messages[0].Text
	require.Contains(t, text, "Steven")
	require.Contains(t, text, "u1")
	require.Contains(t, text, "necesito un humano")
	require.Contains(t, text, "2025-06-01T12:00:00Z")
	require.Contains(t, text, "Requiere atención humana")
}

func TestNotifyAdmin_NoAdminConfigured(t *testing.T) {
	c := NewClient("mc-token")
	err := c.NotifyAdmin(context.Background(), domain.Escalation{SubscriberID: "u1"})
	require.Error(t, err)
}

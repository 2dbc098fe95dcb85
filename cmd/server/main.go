// Standalone HTTP server for deployments outside Lambda. State lives in a
// local SQLite database and the OpenAI key comes from the environment.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/agent"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/classifier"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/knowledge"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/manychat"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/openai"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/language"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/pipeline"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/store/sqlite"
)

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
	Categoria  domain.Category `json:"categoria,omitempty"`
	DuracionMs int64           `json:"duracion_ms"`
}

func main() {
	addr := envOr("LISTEN_ADDR", ":8080")
	dbPath := envOr("DB_PATH", "data/agente.db")
	apiKey := mustEnv("OPENAI_API_KEY")
	manychatToken := os.Getenv("MANYCHAT_TOKEN")
	adminSubscriberID := os.Getenv("ADMIN_SUBSCRIBER_ID")
	knowledgeURL := os.Getenv("KNOWLEDGE_BASE_URL")

	var storeOpts []sqlite.Option
	if limit := envInt("RATE_LIMIT", 0); limit > 0 {
		storeOpts = append(storeOpts, sqlite.WithRateLimit(limit, time.Duration(envInt("RATE_WINDOW_HOURS", 24))*time.Hour))
	}
	store, err := sqlite.Open(dbPath, storeOpts...)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	openaiClient, err := openai.NewClient(nil, "", openai.WithAPIKey(apiKey))
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	manychatClient := manychat.NewClient(manychatToken,
		manychat.WithAdminSubscriberID(adminSubscriberID))

	var searcher knowledge.Searcher
	if knowledgeURL != "" {
		kb, err := knowledge.NewClient(knowledgeURL)
		if err != nil {
			slog.Error("failed to create knowledge base client", "err", err)
			os.Exit(1)
		}
		searcher = kb
	}

	templates, err := agent.LoadTemplates(context.Background(), nil, "")
	if err != nil {
		slog.Error("failed to load prompt templates", "err", err)
		os.Exit(1)
	}
	dispatcher, err := agent.NewDispatcher(openaiClient, store, searcher, templates, os.Getenv("AGENT_MODEL"))
	if err != nil {
		slog.Error("failed to create dispatcher", "err", err)
		os.Exit(1)
	}

	svc, err := pipeline.New(pipeline.Config{
		Limiter:    store,
		Detector:   language.NewDetector(),
		Classifier: classifier.New(openaiClient, os.Getenv("CLASSIFIER_MODEL"), ""),
		Dispatcher: dispatcher,
		Sender:     manychatClient,
		Notifier:   manychatClient,
		Analytics:  store,
	})
	if err != nil {
		slog.Error("failed to create pipeline", "err", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/webhook/vuelasim-bot", func(w http.ResponseWriter, req *http.Request) {
		var in webhookRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		subscriberID := in.SubscriberID
		if subscriberID == "" {
			subscriberID = in.Key
		}
		message := in.LastInputText
		if message == "" {
			message = in.Text
		}

		out, err := svc.Process(req.Context(), pipeline.Input{
			SubscriberID: subscriberID,
			Message:      message,
			DisplayName:  in.FirstName,
			Phone:        in.Phone,
		})
		if err != nil {
			var pipeErr *pipeline.Error
			if errors.As(err, &pipeErr) && pipeErr.Code == pipeline.ErrorInvalidInput {
				http.Error(w, pipeErr.Reason, http.StatusBadRequest)
				return
			}
			slog.Error("pipeline failed", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(webhookResponse{
			Status:     string(out.Status),
			Categoria:  out.Category,
			DuracionMs: out.Duration.Milliseconds(),
		})
	})

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		slog.Info("starting server", "addr", addr, "db", dbPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	svc.Drain()
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

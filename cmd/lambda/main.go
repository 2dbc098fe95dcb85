package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/stevenriosCOL/agente-ia-sensora/handler"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/agent"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/classifier"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/knowledge"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/manychat"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/openai"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/integrations/paramstore"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/language"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/pipeline"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/repository"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	manychatToken := os.Getenv("MANYCHAT_TOKEN")
	adminSubscriberID := os.Getenv("ADMIN_SUBSCRIBER_ID")
	knowledgeURL := os.Getenv("KNOWLEDGE_BASE_URL")
	classifierModel := os.Getenv("CLASSIFIER_MODEL")
	agentModel := os.Getenv("AGENT_MODEL")
	rateLimit := envInt("RATE_LIMIT", 0)
	rateWindowHours := envInt("RATE_WINDOW_HOURS", 0)
	callTimeoutSeconds := envInt("CALL_TIMEOUT_SECONDS", 0)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	var repoOpts []repository.Option
	if rateLimit > 0 && rateWindowHours > 0 {
		repoOpts = append(repoOpts, repository.WithRateLimit(rateLimit, time.Duration(rateWindowHours)*time.Hour))
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable, repoOpts...)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
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

	// ---- Prompts ----
	classifierPrompt, err := ssmClient.GetParameterOrDefault(ctx, paramPrefix+"/prompts/classifier", "")
	if err != nil {
		slog.Error("failed to load classifier prompt", "err", err)
		os.Exit(1)
	}
	templates, err := agent.LoadTemplates(ctx, ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to load prompt templates", "err", err)
		os.Exit(1)
	}

	// ---- Pipeline ----
	dispatcher, err := agent.NewDispatcher(openaiClient, stateClient, searcher, templates, agentModel)
	if err != nil {
		slog.Error("failed to create dispatcher", "err", err)
		os.Exit(1)
	}

	svc, err := pipeline.New(pipeline.Config{
		Limiter:     stateClient,
		Detector:    language.NewDetector(),
		Classifier:  classifier.New(openaiClient, classifierModel, classifierPrompt),
		Dispatcher:  dispatcher,
		Sender:      manychatClient,
		Notifier:    manychatClient,
		Analytics:   stateClient,
		CallTimeout: time.Duration(callTimeoutSeconds) * time.Second,
	})
	if err != nil {
		slog.Error("failed to create pipeline", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(svc)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
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

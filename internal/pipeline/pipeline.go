// Package pipeline sequences one inbound message through admission control,
// classification, dispatch, escalation notification, delivery and analytics.
// After admission, every failure path still produces a user-visible reply;
// notification and analytics are detached side effects that may fail
// silently.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/agent"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/ratelimit"
)

const (
	defaultCallTimeout = 10 * time.Second
	defaultDisplayName = "viajero"

	// sanitizedMaxLen caps the text copied into analytics records.
	sanitizedMaxLen = 1000
)

// subscriberIDPrefix is stripped from inbound ids before any processing.
const subscriberIDPrefix = "user:"

type Classifier interface {
	Classify(ctx context.Context, message string, lang domain.Language) domain.Category
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req agent.Request) agent.Result
}

// Sender delivers one outbound text message. It must not retry.
type Sender interface {
	Send(ctx context.Context, subscriberID, text string) error
}

// Notifier emits the escalation alert to the administrative recipient.
type Notifier interface {
	NotifyAdmin(ctx context.Context, e domain.Escalation) error
}

// AnalyticsSink accepts one processed-interaction record.
type AnalyticsSink interface {
	Record(ctx context.Context, rec domain.AnalyticsRecord) error
}

// LanguageDetector resolves the message language and the contextual
// greeting used by prompts.
type LanguageDetector interface {
	Detect(text string) domain.Language
	Greeting(lang domain.Language) string
}

type Status string

const (
	StatusSuccess     Status = "success"
	StatusRateLimited Status = "rate_limited"
)

// Input is one inbound webhook message after transport decoding.
type Input struct {
	SubscriberID string
	Message      string
	DisplayName  string
	Phone        string
}

// Outcome summarizes one processed message for the transport layer.
type Outcome struct {
	Status         Status
	Category       domain.Category
	Reply          string
	Language       domain.Language
	RateLimit      ratelimit.Decision
	DeliveryFailed bool
	Duration       time.Duration
}

// Config wires the pipeline's collaborators. Notifier and Analytics are
// optional; everything else is required.
type Config struct {
	Limiter     ratelimit.Limiter
	Detector    LanguageDetector
	Classifier  Classifier
	Dispatcher  Dispatcher
	Sender      Sender
	Notifier    Notifier
	Analytics   AnalyticsSink
	CallTimeout time.Duration
}

// Service is the pipeline orchestrator.
type Service struct {
	limiter     ratelimit.Limiter
	detector    LanguageDetector
	classifier  Classifier
	dispatcher  Dispatcher
	sender      Sender
	notifier    Notifier
	analytics   AnalyticsSink
	callTimeout time.Duration
	now         func() time.Time

	background sync.WaitGroup
}

func New(cfg Config) (*Service, error) {
	if cfg.Limiter == nil {
		return nil, errors.New("pipeline: limiter must not be nil")
	}
	if cfg.Detector == nil {
		return nil, errors.New("pipeline: language detector must not be nil")
	}
	if cfg.Classifier == nil {
		return nil, errors.New("pipeline: classifier must not be nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("pipeline: dispatcher must not be nil")
	}
	if cfg.Sender == nil {
		return nil, errors.New("pipeline: sender must not be nil")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Service{
		limiter:     cfg.Limiter,
		detector:    cfg.Detector,
		classifier:  cfg.Classifier,
		dispatcher:  cfg.Dispatcher,
		sender:      cfg.Sender,
		notifier:    cfg.Notifier,
		analytics:   cfg.Analytics,
		callTimeout: cfg.CallTimeout,
		now:         time.Now,
	}, nil
}

// Process runs the full dispatch pipeline for one inbound message.
func (s *Service) Process(ctx context.Context, in Input) (Outcome, error) {
	start := s.now()

	subscriberID := NormalizeSubscriberID(in.SubscriberID)
	message := strings.TrimSpace(in.Message)
	if subscriberID == "" {
		return Outcome{}, newError(ErrorInvalidInput, "missing_subscriber_id", nil)
	}
	if message == "" {
		return Outcome{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		name = defaultDisplayName
	}

	lang := s.detector.Detect(message)

	decision, err := s.limiter.CheckAndAdmit(ctx, subscriberID)
	if err != nil {
		// a broken admission store must not drop the message
		slog.Error("rate limit check failed, admitting", "subscriber_id", subscriberID, "err", err)
		decision = ratelimit.Decision{Allowed: true}
	}
	if !decision.Allowed {
		notice := agent.RateLimitNotice(lang)
		if err := s.deliver(ctx, subscriberID, notice); err != nil {
			slog.Error("rate limit notice delivery failed", "subscriber_id", subscriberID, "err", err)
		}
		return Outcome{
			Status:    StatusRateLimited,
			Reply:     notice,
			Language:  lang,
			RateLimit: decision,
			Duration:  s.now().Sub(start),
		}, nil
	}

	classifyCtx, cancelClassify := context.WithTimeout(ctx, s.callTimeout)
	category := s.classifier.Classify(classifyCtx, message, lang)
	cancelClassify()

	dispatchCtx, cancelDispatch := context.WithTimeout(ctx, s.callTimeout)
	result := s.dispatcher.Dispatch(dispatchCtx, agent.Request{
		Category:     category,
		SubscriberID: subscriberID,
		DisplayName:  name,
		Message:      message,
		Language:     lang,
		Greeting:     s.detector.Greeting(lang),
	})
	cancelDispatch()

	if category.Escalated() && s.notifier != nil {
		s.spawnNotify(domain.Escalation{
			SubscriberID: subscriberID,
			DisplayName:  name,
			Message:      message,
			Timestamp:    s.now().UTC(),
		})
	}

	deliveryFailed := false
	if err := s.deliver(ctx, subscriberID, result.Text); err != nil {
		deliveryFailed = true
		slog.Error("reply delivery failed", "subscriber_id", subscriberID, "err", err)
	}

	duration := s.now().Sub(start)
	s.emitAnalytics(domain.AnalyticsRecord{
		ID:           newUUID(),
		SubscriberID: subscriberID,
		DisplayName:  name,
		Category:     category,
		Input:        sanitizeText(message),
		Output:       sanitizeText(result.Text),
		Escalated:    category.Escalated(),
		DurationMs:   duration.Milliseconds(),
		Language:     lang,
		CreatedAt:    s.now().UTC(),
	})

	return Outcome{
		Status:         StatusSuccess,
		Category:       category,
		Reply:          result.Text,
		Language:       lang,
		RateLimit:      decision,
		DeliveryFailed: deliveryFailed,
		Duration:       duration,
	}, nil
}

func (s *Service) deliver(ctx context.Context, subscriberID, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.sender.Send(sendCtx, subscriberID, text)
}

// spawnNotify fires the admin alert without blocking or failing the
// response path. The alert uses its own context so caller cancellation
// cannot suppress it.
func (s *Service) spawnNotify(e domain.Escalation) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
		defer cancel()
		if err := s.notifier.NotifyAdmin(ctx, e); err != nil {
			slog.Error("admin notification failed", "subscriber_id", e.SubscriberID, "err", err)
		}
	}()
}

// emitAnalytics records the interaction best-effort in the background.
func (s *Service) emitAnalytics(rec domain.AnalyticsRecord) {
	if s.analytics == nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
		defer cancel()
		if err := s.analytics.Record(ctx, rec); err != nil {
			slog.Error("analytics emission failed", "subscriber_id", rec.SubscriberID, "err", err)
		}
	}()
}

// Drain waits for in-flight background side effects. Called on shutdown.
func (s *Service) Drain() {
	s.background.Wait()
}

// NormalizeSubscriberID strips the channel prefix and surrounding
// whitespace from an inbound subscriber id.
func NormalizeSubscriberID(raw string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), subscriberIDPrefix))
}

// sanitizeText collapses whitespace and caps length for analytics storage.
func sanitizeText(s string) string {
	out := strings.Join(strings.Fields(s), " ")
	if len(out) > sanitizedMaxLen {
		out = out[:sanitizedMaxLen]
	}
	return out
}

var newUUID = func() string {
	return uuid.NewString()
}

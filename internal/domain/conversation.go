package domain

import "time"

// Turn is a single message in a subscriber's conversation memory. Turns are
// append-only and ordered oldest-first; the store evicts the oldest turns
// once the per-subscriber cap is reached.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Escalation carries the details handed to the admin notifier when a
// conversation must reach a human.
type Escalation struct {
	SubscriberID string
	DisplayName  string
	Message      string
	Timestamp    time.Time
}

// Snippet is one ranked knowledge-base result returned by the retrieval
// service.
type Snippet struct {
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

package domain

import "time"

// AnalyticsRecord is the write-once snapshot of one processed interaction.
// The pipeline emits it after the response path completes and never reads
// it back.
type AnalyticsRecord struct {
	ID           string
	SubscriberID string
	DisplayName  string
	Category     Category
	Input        string
	Output       string
	Escalated    bool
	DurationMs   int64
	Language     Language
	CreatedAt    time.Time
}

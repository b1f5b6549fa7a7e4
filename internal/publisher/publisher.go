// Package publisher defines the batch notification events emitted by the pipeline.
package publisher

import (
	"context"
	"time"
)

// EventBatchCompleted is the event type published after each processed batch.
const EventBatchCompleted = "batch.completed"

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) (string, error)
}

// BatchCompleted summarizes one processed batch without carrying any content.
type BatchCompleted struct {
	BatchID    string    `json:"batch_id"`
	Mode       string    `json:"mode"`
	Requested  int       `json:"requested"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Rejected   int       `json:"rejected"`
	CacheHits  int       `json:"cache_hits"`
	Analysis   string    `json:"analysis,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

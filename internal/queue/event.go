// Package queue defines the generation events exchanged over RabbitMQ and
// the background consumer that records them.
package queue

import "time"

// GenerationQueue is the durable queue generation events are published to.
const GenerationQueue = "generation.completed"

// Generation kinds, one per generate endpoint.
const (
	KindAbout           = "about"
	KindProject         = "project"
	KindSkillsStructure = "skills_structure"
	KindFull            = "full"
)

// Event statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// GenerationCompletedEvent is published after every generation attempt,
// successful or not. PortfolioID is set only when a portfolio was stored.
type GenerationCompletedEvent struct {
	UserID      uint64    `json:"user_id"`
	Kind        string    `json:"kind"`
	PortfolioID uint64    `json:"portfolio_id,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

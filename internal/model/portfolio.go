package model

import (
	"encoding/json"
	"time"
)

// Portfolio is the generated content for one user, stored in `portfolios`.
// Skills and Projects hold the JSON produced by the generator verbatim.
type Portfolio struct {
	ID          uint64          `json:"id"`
	UserID      uint64          `json:"user_id"`
	Headline    string          `json:"headline,omitempty"`
	AboutMe     string          `json:"about_me,omitempty"`
	Skills      json.RawMessage `json:"skills_structured,omitempty"`
	Projects    json.RawMessage `json:"projects,omitempty"`
	IsPublished bool            `json:"is_published"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

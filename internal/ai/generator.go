// Package ai wraps the text generation backend used to draft portfolio
// content. Callers see a single Generate call; the Gemini client and the
// redis cache in front of it are interchangeable Generators.
package ai

import (
	"context"
	"errors"
)

// Prompt is one generation request. System sets the model's role; JSON asks
// the backend for a bare JSON document instead of prose.
type Prompt struct {
	System string `json:"system,omitempty"`
	Text   string `json:"text"`
	JSON   bool   `json:"json,omitempty"`
}

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

var (
	// ErrNotConfigured is returned when no API key was provided.
	ErrNotConfigured = errors.New("ai: generator not configured")
	// ErrBlocked is returned when the backend refused the prompt.
	ErrBlocked = errors.New("ai: prompt blocked")
	// ErrEmptyResponse is returned when the backend answered with no text.
	ErrEmptyResponse = errors.New("ai: empty response")
)

// Unconfigured is the Generator used when no backend is set up. It fails
// every call with ErrNotConfigured.
type Unconfigured struct{}

func (Unconfigured) Generate(context.Context, Prompt) (string, error) { return "", ErrNotConfigured }

package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/iliyamo/portfolio-builder/internal/config"
)

// Gemini generates text through the Gemini API client.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini builds a client from cfg. It returns Unconfigured when no API
// key is set so the server can still start without generation.
func NewGemini(ctx context.Context, cfg config.AIConfig) (Generator, error) {
	if cfg.APIKey == "" {
		return Unconfigured{}, nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

var defaultSafety = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
}

func (g *Gemini) Generate(ctx context.Context, p Prompt) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.7),
		TopP:            genai.Ptr[float32](1),
		TopK:            genai.Ptr[float32](1),
		MaxOutputTokens: 2048,
		SafetySettings:  defaultSafety,
	}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(p.Text), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("gemini %d %s: %s", apiErr.Code, apiErr.Status, apiErr.Message)
		}
		return "", fmt.Errorf("gemini request: %w", err)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", ErrBlocked, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", ErrEmptyResponse
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	if cand.Content != nil {
		for _, pt := range cand.Content.Parts {
			if pt != nil {
				sb.WriteString(pt.Text)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		if cand.FinishReason == genai.FinishReasonSafety {
			return "", fmt.Errorf("%w: %s", ErrBlocked, cand.FinishReason)
		}
		return "", ErrEmptyResponse
	}
	return text, nil
}

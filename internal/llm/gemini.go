package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/provider"
)

const retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

func NewGemini(ctx context.Context, cfg config.ProviderConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{
		client:      client,
		model:       cfg.Model,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
	}, nil
}

func (g *Gemini) Invoke(ctx context.Context, req provider.Request) (string, error) {
	gc := &genai.GenerateContentConfig{}
	if sys := provider.System(req); sys != "" {
		gc.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	if g.temperature > 0 {
		gc.Temperature = genai.Ptr(g.temperature)
	}
	if g.maxTokens > 0 {
		gc.MaxOutputTokens = g.maxTokens
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(provider.Prompt(req)), gc)
	if err != nil {
		return "", geminiError(err)
	}
	if len(resp.Candidates) == 0 {
		return "", provider.Fatal("empty response from gemini")
	}

	var sb strings.Builder
	for _, c := range resp.Candidates[:1] {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part.Text != "" && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String(), nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyGemini(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyGemini(*apiErrPtr)
	}
	return provider.FromTransport(err)
}

// classifyGemini maps a Gemini API error to the provider error shape. The
// retry hint travels in a google.rpc.RetryInfo detail rather than a header.
func classifyGemini(e genai.APIError) error {
	reason := e.Message
	if reason == "" {
		reason = e.Status
	}
	var header http.Header
	if d := geminiRetryDelay(e.Details); d > 0 {
		header = http.Header{}
		header.Set("Retry-After", fmt.Sprintf("%g", d.Seconds()))
	}
	return provider.FromHTTP(e.Code, header, reason)
}

func geminiRetryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		if t, _ := d["@type"].(string); t != retryInfoType {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			return v
		}
	}
	return 0
}

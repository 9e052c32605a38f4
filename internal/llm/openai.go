package llm

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/provider"
)

// OpenAI speaks the chat completions API of OpenAI and compatible servers.
type OpenAI struct {
	http        *resty.Client
	model       string
	maxTokens   int
	temperature float64
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func NewOpenAI(cfg config.ProviderConfig) *OpenAI {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.APIKey)
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	return &OpenAI{
		http:        c,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (o *OpenAI) Invoke(ctx context.Context, req provider.Request) (string, error) {
	body := chatRequest{
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}
	if sys := provider.System(req); sys != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: sys})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: provider.Prompt(req)})

	var out chatResponse
	var errResp errorResponse
	resp, err := o.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&errResp).
		Post("/v1/chat/completions")
	if err != nil {
		return "", provider.FromTransport(err)
	}
	if resp.IsError() {
		return "", provider.FromHTTP(resp.StatusCode(), resp.Header(), errResp.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", provider.Fatal("no choices in completion response")
	}
	if fr := out.Choices[0].FinishReason; fr == "content_filter" {
		return "", provider.Fatal("completion blocked: %s", fr)
	}
	return out.Choices[0].Message.Content, nil
}

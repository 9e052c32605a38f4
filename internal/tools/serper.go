package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/provider"
)

// Serper runs Google searches through serper.dev.
type Serper struct {
	http *resty.Client
	num  int
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type serperResponse struct {
	AnswerBox *struct {
		Title   string `json:"title"`
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
	} `json:"answerBox"`
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

type serperError struct {
	Message string `json:"message"`
}

func NewSerper(cfg config.ProviderConfig) *Serper {
	return &Serper{
		http: newHTTP(cfg).SetHeader("X-API-KEY", cfg.APIKey),
		num:  10,
	}
}

func (s *Serper) Invoke(ctx context.Context, req provider.Request) (string, error) {
	q, err := input(req)
	if err != nil {
		return "", err
	}

	var out serperResponse
	var errResp serperError
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(serperRequest{Q: q, Num: s.num}).
		SetResult(&out).
		SetError(&errResp).
		Post("/search")
	if err != nil {
		return "", provider.FromTransport(err)
	}
	if resp.IsError() {
		return "", provider.FromHTTP(resp.StatusCode(), resp.Header(), errResp.Message)
	}
	return formatSearch(q, &out), nil
}

func formatSearch(q string, r *serperResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", q)
	if ab := r.AnswerBox; ab != nil {
		answer := ab.Answer
		if answer == "" {
			answer = ab.Snippet
		}
		if answer != "" {
			fmt.Fprintf(&sb, "\nAnswer: %s\n", answer)
		}
	}
	if len(r.Organic) == 0 {
		sb.WriteString("\nNo results.\n")
		return sb.String()
	}
	for i, o := range r.Organic {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s\n   %s\n", i+1, o.Title, o.Link, o.Snippet)
	}
	return sb.String()
}

package tools

import (
	"context"

	"github.com/go-resty/resty/v2"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/provider"
)

// Firecrawl scrapes a page into markdown.
type Firecrawl struct {
	http *resty.Client
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title     string `json:"title"`
			SourceURL string `json:"sourceURL"`
		} `json:"metadata"`
	} `json:"data"`
}

func NewFirecrawl(cfg config.ProviderConfig) *Firecrawl {
	return &Firecrawl{http: newHTTP(cfg).SetAuthToken(cfg.APIKey)}
}

func (f *Firecrawl) Invoke(ctx context.Context, req provider.Request) (string, error) {
	url, err := input(req)
	if err != nil {
		return "", err
	}

	var out scrapeResponse
	resp, err := f.http.R().
		SetContext(ctx).
		SetBody(scrapeRequest{URL: url, Formats: []string{"markdown"}, OnlyMainContent: true}).
		SetResult(&out).
		SetError(&out).
		Post("/v1/scrape")
	if err != nil {
		return "", provider.FromTransport(err)
	}
	if resp.IsError() {
		return "", provider.FromHTTP(resp.StatusCode(), resp.Header(), out.Error)
	}
	if !out.Success {
		return "", provider.Fatal("scrape %s: %s", url, out.Error)
	}
	if out.Data.Markdown == "" {
		return "", provider.Fatal("scrape %s: empty page", url)
	}
	if t := out.Data.Metadata.Title; t != "" {
		return "# " + t + "\n\n" + out.Data.Markdown, nil
	}
	return out.Data.Markdown, nil
}

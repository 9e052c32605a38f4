package tools

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/provider"
)

const maxFetchBytes = 256 << 10

// Fetch downloads a page and reduces HTML to its text.
type Fetch struct {
	http *resty.Client
}

func NewFetch(cfg config.ProviderConfig) *Fetch {
	c := newHTTP(cfg).SetHeader("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")
	return &Fetch{http: c}
}

func (f *Fetch) Invoke(ctx context.Context, req provider.Request) (string, error) {
	url, err := input(req)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", provider.Fatal("fetch %q: not an http url", url)
	}

	resp, err := f.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", provider.FromTransport(err)
	}
	if resp.IsError() {
		return "", provider.FromHTTP(resp.StatusCode(), resp.Header(), "")
	}

	body := resp.Body()
	if len(body) > maxFetchBytes {
		body = body[:maxFetchBytes]
	}
	text := string(body)
	if strings.Contains(resp.Header().Get("Content-Type"), "html") {
		text = htmlText(text)
	}
	if strings.TrimSpace(text) == "" {
		return "", provider.Fatal("fetch %s: empty page", url)
	}
	return text, nil
}

var (
	dropBlocks = regexp.MustCompile(`(?is)<(script|style|noscript|svg|head)[^>]*>.*?</(script|style|noscript|svg|head)>`)
	breakTags  = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/h[1-6]|/tr)[^>]*>`)
	anyTag     = regexp.MustCompile(`(?s)<[^>]+>`)
	blankLines = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+`)
)

// htmlText strips markup, keeping paragraph breaks.
func htmlText(s string) string {
	s = dropBlocks.ReplaceAllString(s, "")
	s = breakTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

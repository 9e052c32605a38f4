package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/provider"
	"github.com/mtzanidakis/crew/internal/registry"
)

// Route is a chat message resolved to a crew run.
type Route struct {
	Crew   string
	Params map[string]string
}

type Router struct {
	registry *registry.Registry

	mu          sync.RWMutex
	defaultCrew string
	model       provider.Provider
}

func New(reg *registry.Registry, cfg config.RouterConfig) *Router {
	return &Router{
		registry:    reg,
		defaultCrew: cfg.DefaultCrew,
	}
}

// SetModel sets the provider asked to pick a crew when a message names none.
func (r *Router) SetModel(p provider.Provider) {
	r.mu.Lock()
	r.model = p
	r.mu.Unlock()
}

func (r *Router) Route(ctx context.Context, message string) (Route, error) {
	message = strings.TrimSpace(message)

	// 1. Check for @crew prefix
	if strings.HasPrefix(message, "@") {
		parts := strings.SplitN(message, " ", 2)
		name := strings.TrimPrefix(parts[0], "@")
		if def, ok := r.registry.Get(name); ok {
			cleaned := ""
			if len(parts) > 1 {
				cleaned = parts[1]
			}
			return Route{Crew: name, Params: ParseParams(def, cleaned)}, nil
		}
		// Unknown crew name in prefix, fall through to smart routing
	}

	r.mu.RLock()
	model, defaultCrew := r.model, r.defaultCrew
	r.mu.RUnlock()

	// 2. Try smart routing via the router model
	if model != nil {
		descs := r.registry.Descriptions()
		if len(descs) > 1 {
			answer, err := model.Invoke(ctx, provider.Request{Instruction: buildRoutingPrompt(descs, message)})
			if err != nil {
				slog.Debug("route query failed, using default crew", "error", err)
			} else {
				name := strings.Trim(strings.TrimSpace(answer), "`\"'@.")
				if def, ok := r.registry.Get(name); ok {
					return Route{Crew: name, Params: ParseParams(def, message)}, nil
				}
				slog.Debug("route query returned unknown crew, using default", "crew", name)
			}
		}
	}

	// 3. Fall back to default crew
	if defaultCrew == "" {
		return Route{}, fmt.Errorf("no default crew configured")
	}
	def, ok := r.registry.Get(defaultCrew)
	if !ok {
		return Route{}, fmt.Errorf("default crew %q not found", defaultCrew)
	}
	return Route{Crew: defaultCrew, Params: ParseParams(def, message)}, nil
}

func (r *Router) DefaultCrew() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultCrew
}

// SetDefaultCrew updates the crew used when routing finds no better match.
func (r *Router) SetDefaultCrew(name string) {
	r.mu.Lock()
	r.defaultCrew = name
	r.mu.Unlock()
}

func buildRoutingPrompt(descs map[string]string, message string) string {
	names := make([]string, 0, len(descs))
	for name := range descs {
		names = append(names, name)
	}
	slices.Sort(names)

	var sb strings.Builder
	sb.WriteString("You are a message router. Given the user's message, determine which crew should handle it.\n\n")
	sb.WriteString("Available crews:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "- %s: %s\n", name, descs[name])
	}
	sb.WriteString("\nUser message: ")
	sb.WriteString(message)
	sb.WriteString("\n\nRespond with ONLY the crew name, nothing else.")
	return sb.String()
}

var (
	paramLine = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*[:=]\s*(.+)$`)
	urlRe     = regexp.MustCompile(`https?://\S+`)
)

// ParseParams fills a crew's placeholders from free text. Lines of the form
// "name: value" or "name=value" set the named parameter. A URL in the
// remaining text fills an unset "url" parameter, and whatever text is left
// fills the only parameter still unset.
func ParseParams(def *registry.Definition, text string) map[string]string {
	wanted := def.Params()
	params := make(map[string]string)

	var rest []string
	for _, line := range strings.Split(text, "\n") {
		if m := paramLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil && slices.Contains(wanted, m[1]) {
			params[m[1]] = strings.TrimSpace(m[2])
			continue
		}
		rest = append(rest, line)
	}
	remaining := strings.TrimSpace(strings.Join(rest, "\n"))

	if _, set := params["url"]; !set && slices.Contains(wanted, "url") {
		if u := urlRe.FindString(remaining); u != "" {
			params["url"] = strings.TrimRight(u, ".,;)")
			remaining = strings.TrimSpace(strings.Replace(remaining, u, "", 1))
		}
	}

	var unset []string
	for _, name := range wanted {
		if _, ok := params[name]; !ok {
			unset = append(unset, name)
		}
	}
	if len(unset) == 1 && remaining != "" {
		params[unset[0]] = remaining
	}
	return params
}

// Package provider defines the contract every capability provider satisfies:
// language-model completions and tool calls (search, scrape, fetch) alike.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Provider is a capability invoked by an agent or a tool reference.
//
// Failures must be reported as *RateLimitedError when the service asked the
// caller to back off, or *FatalError otherwise. Other error values are
// treated as fatal by the retry wrapper.
type Provider interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Request is the uniform input of a provider call.
type Request struct {
	// Role is the role context (identity, goal and persona) of the caller.
	Role string
	// Instruction is the rendered task instruction.
	Instruction string
	// Context holds upstream task outputs.
	Context string
	// Tools lists the tools available to the task.
	Tools []ToolRef
}

// ToolRef names a tool a task may use and the provider behind it. Input is a
// template rendered with the run parameters and sent as the tool's
// instruction.
type ToolRef struct {
	Name        string
	Description string
	Input       string
	Provider    Provider
}

// Func adapts a plain function to the Provider interface.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Prompt renders the user-facing part of a request for model providers.
func Prompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(req.Instruction)
	if req.Context != "" {
		sb.WriteString("\n\n## Context\n\n")
		sb.WriteString(req.Context)
	}
	return sb.String()
}

// System renders the system prompt for model providers: the role context
// followed by the tools that were used to gather material for the task.
func System(req Request) string {
	if len(req.Tools) == 0 {
		return req.Role
	}
	var sb strings.Builder
	sb.WriteString(req.Role)
	sb.WriteString("\n\nMaterial gathered with these tools is included in the instruction:\n")
	for _, t := range req.Tools {
		if t.Description != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		} else {
			fmt.Fprintf(&sb, "- %s\n", t.Name)
		}
	}
	return sb.String()
}

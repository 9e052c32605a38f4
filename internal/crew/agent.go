package crew

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/crew/internal/provider"
)

// Kind is the closed set of agent variants.
type Kind int

const (
	// Worker agents execute tasks.
	Worker Kind = iota
	// Manager agents assign tasks to workers and synthesise the result.
	Manager
)

func (k Kind) String() string {
	switch k {
	case Worker:
		return "worker"
	case Manager:
		return "manager"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a definition string to a Kind. The empty string is a worker.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "worker":
		return Worker, nil
	case "manager":
		return Manager, nil
	default:
		return 0, fmt.Errorf("unknown agent kind %q", s)
	}
}

// Agent is a role-bound identity backed by a capability provider. Agents are
// not modified once a run starts.
type Agent struct {
	Role      string
	Goal      string
	Backstory string
	Kind      Kind
	Provider  provider.Provider
}

// CanDelegate reports whether the agent may hand work to others.
func (a *Agent) CanDelegate() bool {
	switch a.Kind {
	case Manager:
		return true
	default:
		return false
	}
}

func (a *Agent) roleContext(params map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s.", interpolate(a.Role, params))
	if a.Goal != "" {
		fmt.Fprintf(&sb, "\nYour goal: %s", interpolate(a.Goal, params))
	}
	if a.Backstory != "" {
		sb.WriteString("\n\n")
		sb.WriteString(interpolate(a.Backstory, params))
	}
	return sb.String()
}

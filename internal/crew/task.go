package crew

import (
	"strings"
	"sync/atomic"

	"github.com/mtzanidakis/crew/internal/provider"
)

// Task is a unit of work. Upstream lists the names of tasks whose outputs
// are concatenated, in this order, into the task's context.
type Task struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          *Agent
	Tools          []provider.ToolRef
	Upstream       []string
	Async          bool

	output atomic.Pointer[string]
}

// Output returns the task's output and whether it has been produced.
func (t *Task) Output() (string, bool) {
	p := t.output.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// setOutput stores out unless an output was already stored.
func (t *Task) setOutput(out string) error {
	if !t.output.CompareAndSwap(nil, &out) {
		return ErrOutputAlreadySet
	}
	return nil
}

func (t *Task) instruction(params map[string]string) string {
	s := interpolate(t.Description, params)
	if t.ExpectedOutput != "" {
		s += "\n\nExpected output: " + interpolate(t.ExpectedOutput, params)
	}
	return s
}

// interpolate replaces {name} placeholders with run parameters. Unknown
// placeholders are left untouched.
func interpolate(s string, params map[string]string) string {
	if len(params) == 0 || !strings.Contains(s, "{") {
		return s
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

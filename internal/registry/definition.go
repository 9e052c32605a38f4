package registry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mtzanidakis/crew/internal/crew"
)

// Definition describes a crew as stored in a YAML file.
type Definition struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Mode        string     `yaml:"mode" json:"mode"`
	Final       string     `yaml:"final" json:"final,omitempty"`
	Manager     string     `yaml:"manager" json:"manager,omitempty"`
	Agents      []AgentDef `yaml:"agents" json:"agents"`
	Tasks       []TaskDef  `yaml:"tasks" json:"tasks"`

	// Source is the file the definition was read from, or "builtin".
	Source string `yaml:"-" json:"source"`
}

type AgentDef struct {
	Role      string `yaml:"role" json:"role"`
	Goal      string `yaml:"goal" json:"goal,omitempty"`
	Backstory string `yaml:"backstory" json:"backstory,omitempty"`
	Kind      string `yaml:"kind" json:"kind,omitempty"`
	Provider  string `yaml:"provider" json:"provider,omitempty"`
}

type TaskDef struct {
	Name           string    `yaml:"name" json:"name"`
	Description    string    `yaml:"description" json:"description"`
	ExpectedOutput string    `yaml:"expected_output" json:"expected_output,omitempty"`
	Agent          string    `yaml:"agent" json:"agent,omitempty"`
	Context        []string  `yaml:"context" json:"context,omitempty"`
	Async          bool      `yaml:"async" json:"async,omitempty"`
	Tools          []ToolDef `yaml:"tools" json:"tools,omitempty"`
}

// ToolDef references a configured tool provider. Input is rendered with the
// run parameters and handed to the tool.
type ToolDef struct {
	Provider    string `yaml:"provider" json:"provider"`
	Input       string `yaml:"input" json:"input"`
	Description string `yaml:"description" json:"description,omitempty"`
}

var (
	ErrInvalidDefinition = errors.New("invalid crew definition")
	ErrMissingParams     = errors.New("missing run parameters")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Parse decodes and validates a definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) invalid(format string, args ...any) error {
	return fmt.Errorf("%w: crew %q: %s", ErrInvalidDefinition, d.Name, fmt.Sprintf(format, args...))
}

// Validate checks the definition without building providers: names, agent
// references and the task graph.
func (d *Definition) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return d.invalid("name must match %s", namePattern)
	}
	mode, err := crew.ParseMode(d.Mode)
	if err != nil {
		return d.invalid("%v", err)
	}
	d.Mode = string(mode)
	if len(d.Tasks) == 0 {
		return d.invalid("no tasks")
	}

	roles := make(map[string]crew.Kind, len(d.Agents))
	for _, a := range d.Agents {
		if a.Role == "" {
			return d.invalid("agent without role")
		}
		if _, dup := roles[a.Role]; dup {
			return d.invalid("duplicate agent role %q", a.Role)
		}
		kind, err := crew.ParseKind(a.Kind)
		if err != nil {
			return d.invalid("agent %q: %v", a.Role, err)
		}
		roles[a.Role] = kind
	}

	graph := make([]*crew.Task, len(d.Tasks))
	for i, t := range d.Tasks {
		if t.Name == "" {
			return d.invalid("task %d has no name", i+1)
		}
		if t.Description == "" {
			return d.invalid("task %q has no description", t.Name)
		}
		for _, tool := range t.Tools {
			if tool.Provider == "" {
				return d.invalid("task %q: tool without provider", t.Name)
			}
		}
		if mode == crew.Pipeline {
			kind, ok := roles[t.Agent]
			if !ok {
				return d.invalid("task %q: unknown agent %q", t.Name, t.Agent)
			}
			if kind != crew.Worker {
				return d.invalid("task %q: agent %q is a manager", t.Name, t.Agent)
			}
		}
		graph[i] = &crew.Task{Name: t.Name, Upstream: t.Context}
	}
	if _, err := crew.Resolve(graph); err != nil {
		return d.invalid("%v", err)
	}

	switch mode {
	case crew.Pipeline:
		if d.Final != "" {
			found := false
			for _, t := range d.Tasks {
				found = found || t.Name == d.Final
			}
			if !found {
				return d.invalid("final task %q does not exist", d.Final)
			}
		}
	case crew.Hierarchical:
		managers, workers := 0, 0
		for _, kind := range roles {
			if kind == crew.Manager {
				managers++
			} else {
				workers++
			}
		}
		if d.Manager != "" {
			if roles[d.Manager] != crew.Manager {
				return d.invalid("manager %q is not a manager agent", d.Manager)
			}
		} else if managers == 0 {
			return d.invalid("hierarchical crew needs a manager agent")
		}
		if workers == 0 {
			return d.invalid("hierarchical crew needs at least one worker")
		}
	}
	return nil
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Params lists the placeholders used by task descriptions, expected outputs
// and tool inputs, sorted.
func (d *Definition) Params() []string {
	seen := make(map[string]bool)
	collect := func(s string) {
		for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
			seen[m[1]] = true
		}
	}
	for _, a := range d.Agents {
		collect(a.Goal)
		collect(a.Backstory)
	}
	for _, t := range d.Tasks {
		collect(t.Description)
		collect(t.ExpectedOutput)
		for _, tool := range t.Tools {
			collect(tool.Input)
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CheckParams reports the placeholders params leaves unset.
func (d *Definition) CheckParams(params map[string]string) error {
	var missing []string
	for _, p := range d.Params() {
		if _, ok := params[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w for crew %q: %s", ErrMissingParams, d.Name, strings.Join(missing, ", "))
	}
	return nil
}

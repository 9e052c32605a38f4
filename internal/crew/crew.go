// Package crew runs a roster of agents over a dependency graph of tasks,
// either as a fixed pipeline or under a manager that assigns work at run
// time.
package crew

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/crew/internal/retry"
)

type Mode string

const (
	Pipeline     Mode = "pipeline"
	Hierarchical Mode = "hierarchical"
)

// ParseMode maps a definition string to a Mode. The empty string is a
// pipeline.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Pipeline:
		return Pipeline, nil
	case Hierarchical:
		return Hierarchical, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Result is the outcome of a successful run. It is owned by the caller.
type Result struct {
	RunID       string
	Crew        string
	Mode        Mode
	Output      string
	TaskOutputs map[string]string
	Started     time.Time
	Finished    time.Time
}

type Crew struct {
	name      string
	agents    []*Agent
	tasks     []*Task
	mode      Mode
	final     string
	manager   *Agent
	retrier   *retry.Retrier
	delegator Delegator
	listeners []Listener
	logger    *slog.Logger
	runID     string

	started atomic.Bool
	params  map[string]string
}

type Option func(*Crew)

func WithName(name string) Option {
	return func(c *Crew) { c.name = name }
}

func WithMode(m Mode) Option {
	return func(c *Crew) { c.mode = m }
}

// WithFinal designates the task whose output is the pipeline result.
func WithFinal(task string) Option {
	return func(c *Crew) { c.final = task }
}

func WithManager(a *Agent) Option {
	return func(c *Crew) { c.manager = a }
}

func WithRetry(r *retry.Retrier) Option {
	return func(c *Crew) { c.retrier = r }
}

func WithDelegator(d Delegator) Option {
	return func(c *Crew) { c.delegator = d }
}

func WithListener(l Listener) Option {
	return func(c *Crew) { c.listeners = append(c.listeners, l) }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Crew) { c.logger = l }
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(c *Crew) { c.runID = id }
}

// New validates the roster and returns a crew ready to be kicked off once.
// The task graph itself is validated by Kickoff before anything executes.
func New(agents []*Agent, tasks []*Task, opts ...Option) (*Crew, error) {
	c := &Crew{
		name:   "crew",
		agents: agents,
		tasks:  tasks,
		mode:   Pipeline,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retrier == nil {
		c.retrier = retry.New(retry.DefaultPolicy)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.runID == "" {
		c.runID = uuid.New().String()
	}
	c.listeners = append([]Listener{LogListener{Logger: c.logger}}, c.listeners...)

	if len(tasks) == 0 {
		return nil, errors.New("crew has no tasks")
	}

	roles := make(map[string]bool, len(agents))
	for _, a := range agents {
		if a.Role == "" {
			return nil, errors.New("agent without role")
		}
		if roles[a.Role] {
			return nil, fmt.Errorf("duplicate agent role %q", a.Role)
		}
		if a.Provider == nil {
			return nil, fmt.Errorf("agent %q has no provider", a.Role)
		}
		roles[a.Role] = true
	}

	switch c.mode {
	case Pipeline:
		for _, t := range tasks {
			if t.Agent == nil {
				return nil, fmt.Errorf("task %q has no agent", t.Name)
			}
			if !roles[t.Agent.Role] {
				return nil, fmt.Errorf("task %q bound to agent %q outside the roster", t.Name, t.Agent.Role)
			}
		}
		if c.final != "" && c.task(c.final) == nil {
			return nil, &GraphError{Kind: ErrUnknownReference, Task: "final", Ref: c.final}
		}
	case Hierarchical:
		if c.manager == nil {
			for _, a := range agents {
				if a.Kind == Manager {
					c.manager = a
					break
				}
			}
		}
		if c.manager == nil || !c.manager.CanDelegate() {
			return nil, ErrNoManager
		}
		if c.manager.Provider == nil {
			return nil, fmt.Errorf("manager %q has no provider", c.manager.Role)
		}
		if len(c.workers()) == 0 {
			return nil, errors.New("hierarchical crew has no workers")
		}
		if c.delegator == nil {
			c.delegator = &ModelDelegator{Retrier: c.retrier}
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", c.mode)
	}

	return c, nil
}

func (c *Crew) Name() string { return c.name }
func (c *Crew) Mode() Mode   { return c.mode }
func (c *Crew) RunID() string {
	return c.runID
}

// Tasks returns the crew's tasks in declaration order.
func (c *Crew) Tasks() []*Task {
	return c.tasks
}

// Kickoff substitutes params into the task templates, resolves the graph
// and runs the crew in its configured mode. It returns either a complete
// Result or one error; a fatal task failure is reported as *AbortError.
func (c *Crew) Kickoff(ctx context.Context, params map[string]string) (*Result, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	c.params = params
	started := time.Now()

	c.emit(Event{Type: EventRunStarted, Data: map[string]any{
		"mode":  string(c.mode),
		"tasks": len(c.tasks),
	}})

	stages, err := Resolve(c.tasks)
	if err != nil {
		c.emit(Event{Type: EventRunFailed, Err: err})
		return nil, err
	}

	var out string
	switch c.mode {
	case Hierarchical:
		out, err = c.runHierarchical(ctx, stages, c.manager)
	default:
		out, err = c.runPipeline(ctx, stages)
	}
	if err == nil && out == "" {
		err = ErrEmptyResult
	}
	if err != nil {
		var ae *AbortError
		if errors.As(err, &ae) {
			ae.Outputs = c.outputs()
		}
		c.emit(Event{Type: EventRunFailed, Err: err})
		return nil, err
	}

	c.emit(Event{Type: EventRunCompleted, Output: out})
	return &Result{
		RunID:       c.runID,
		Crew:        c.name,
		Mode:        c.mode,
		Output:      out,
		TaskOutputs: c.outputs(),
		Started:     started,
		Finished:    time.Now(),
	}, nil
}

// runPipeline executes the stages in order with the statically bound agents.
func (c *Crew) runPipeline(ctx context.Context, stages []Stage) (string, error) {
	for _, st := range stages {
		if err := c.runStage(ctx, st, st.Tasks, func(t *Task) *Agent { return t.Agent }); err != nil {
			return "", err
		}
	}
	return c.finalOutput(stages)
}

func (c *Crew) finalOutput(stages []Stage) (string, error) {
	var t *Task
	switch {
	case c.final != "":
		t = c.task(c.final)
	case len(stages) > 0:
		last := stages[len(stages)-1].Tasks
		t = last[len(last)-1]
	}
	if t == nil {
		return "", ErrEmptyResult
	}
	out, ok := t.Output()
	if !ok {
		return "", fmt.Errorf("final task %q produced no output", t.Name)
	}
	return out, nil
}

func (c *Crew) task(name string) *Task {
	for _, t := range c.tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (c *Crew) workers() []*Agent {
	var out []*Agent
	for _, a := range c.agents {
		if a.Kind == Worker {
			out = append(out, a)
		}
	}
	return out
}

func (c *Crew) outputs() map[string]string {
	out := make(map[string]string, len(c.tasks))
	for _, t := range c.tasks {
		if v, ok := t.Output(); ok {
			out[t.Name] = v
		}
	}
	return out
}

func (c *Crew) emit(e Event) {
	e.RunID = c.runID
	e.Crew = c.name
	e.Time = time.Now()
	for _, l := range c.listeners {
		l.OnEvent(e)
	}
}

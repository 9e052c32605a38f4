package crew

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mtzanidakis/crew/internal/provider"
	"github.com/mtzanidakis/crew/internal/retry"
)

// Assignment binds one task to one worker role.
type Assignment struct {
	Task  string `json:"task"`
	Agent string `json:"agent"`
}

// DelegationRequest is what a manager sees when planning: every task with
// its rendered instruction and every candidate worker.
type DelegationRequest struct {
	Manager *Agent
	Tasks   []*Task
	Workers []*Agent
	Params  map[string]string
}

// Delegator decides which worker executes which task and in what order.
// The returned plan must cover every task exactly once.
type Delegator interface {
	Delegate(ctx context.Context, req DelegationRequest) ([]Assignment, error)
}

// DelegatorFunc adapts a function to the Delegator interface.
type DelegatorFunc func(ctx context.Context, req DelegationRequest) ([]Assignment, error)

func (f DelegatorFunc) Delegate(ctx context.Context, req DelegationRequest) ([]Assignment, error) {
	return f(ctx, req)
}

// ModelDelegator asks the manager's own model for a JSON assignment plan.
type ModelDelegator struct {
	Retrier *retry.Retrier
}

func (d *ModelDelegator) Delegate(ctx context.Context, req DelegationRequest) ([]Assignment, error) {
	r := d.Retrier
	if r == nil {
		r = retry.New(retry.DefaultPolicy)
	}
	preq := provider.Request{
		Role:        req.Manager.roleContext(req.Params),
		Instruction: buildDelegationPrompt(req),
	}
	raw, err := retry.Do(ctx, r, func(ctx context.Context) (string, error) {
		return req.Manager.Provider.Invoke(ctx, preq)
	})
	if err != nil {
		return nil, fmt.Errorf("manager planning: %w", err)
	}
	return parseAssignments(raw)
}

func buildDelegationPrompt(req DelegationRequest) string {
	var sb strings.Builder
	sb.WriteString("Assign every task below to exactly one worker of your team, in the order they should run.\n")
	sb.WriteString("Answer with a JSON array only, one object per task: ")
	sb.WriteString(`[{"task": "<task name>", "agent": "<worker role>"}]`)
	sb.WriteString("\n\n## Workers\n\n")
	for _, w := range req.Workers {
		fmt.Fprintf(&sb, "- %s", w.Role)
		if w.Goal != "" {
			fmt.Fprintf(&sb, ": %s", interpolate(w.Goal, req.Params))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n## Tasks\n\n")
	for _, t := range req.Tasks {
		fmt.Fprintf(&sb, "### %s\n\n%s\n", t.Name, t.instruction(req.Params))
		if len(t.Upstream) > 0 {
			fmt.Fprintf(&sb, "Depends on: %s\n", strings.Join(t.Upstream, ", "))
		}
		if len(t.Tools) > 0 {
			names := make([]string, len(t.Tools))
			for i, tool := range t.Tools {
				names[i] = tool.Name
			}
			fmt.Fprintf(&sb, "Tools: %s\n", strings.Join(names, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// parseAssignments extracts the JSON array from a model answer, tolerating
// surrounding prose and code fences.
func parseAssignments(raw string) ([]Assignment, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no assignment plan in manager answer", ErrIncompleteAssignment)
	}
	var plan []Assignment
	if err := json.Unmarshal([]byte(raw[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("%w: parse plan: %v", ErrIncompleteAssignment, err)
	}
	return plan, nil
}

// validateAssignments checks that plan covers every task exactly once and
// names only known workers. It returns the task to worker mapping and each
// task's position in the plan.
func validateAssignments(plan []Assignment, tasks []*Task, workers []*Agent) (map[string]*Agent, map[string]int, error) {
	byRole := make(map[string]*Agent, len(workers))
	for _, w := range workers {
		byRole[w.Role] = w
	}
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.Name] = true
	}

	assigned := make(map[string]*Agent, len(plan))
	position := make(map[string]int, len(plan))
	for i, a := range plan {
		if !known[a.Task] {
			return nil, nil, fmt.Errorf("%w: unknown task %q", ErrIncompleteAssignment, a.Task)
		}
		if _, dup := assigned[a.Task]; dup {
			return nil, nil, fmt.Errorf("%w: task %q assigned twice", ErrIncompleteAssignment, a.Task)
		}
		w, ok := byRole[a.Agent]
		if !ok {
			return nil, nil, fmt.Errorf("%w: task %q assigned to unknown worker %q", ErrIncompleteAssignment, a.Task, a.Agent)
		}
		assigned[a.Task] = w
		position[a.Task] = i
	}
	for _, t := range tasks {
		if _, ok := assigned[t.Name]; !ok {
			return nil, nil, fmt.Errorf("%w: task %q not assigned", ErrIncompleteAssignment, t.Name)
		}
	}
	return assigned, position, nil
}

// runHierarchical lets the manager plan the run, executes the plan stage by
// stage and has the manager synthesise the result from every worker output.
func (c *Crew) runHierarchical(ctx context.Context, stages []Stage, manager *Agent) (string, error) {
	workers := c.workers()
	plan, err := c.delegator.Delegate(ctx, DelegationRequest{
		Manager: manager,
		Tasks:   c.tasks,
		Workers: workers,
		Params:  c.params,
	})
	if err != nil {
		return "", &AbortError{Stage: 0, Task: "delegation", Err: err}
	}
	assigned, position, err := validateAssignments(plan, c.tasks, workers)
	if err != nil {
		return "", &AbortError{Stage: 0, Task: "delegation", Err: err}
	}

	summary := make([]string, len(plan))
	for i, a := range plan {
		summary[i] = a.Task + "=" + a.Agent
	}
	c.emit(Event{Type: EventDelegationPlanned, Agent: manager.Role, Data: map[string]any{"assignments": summary}})

	agentFor := func(t *Task) *Agent { return assigned[t.Name] }
	for _, st := range stages {
		order := make([]*Task, len(st.Tasks))
		copy(order, st.Tasks)
		sort.SliceStable(order, func(i, j int) bool {
			return position[order[i].Name] < position[order[j].Name]
		})
		if err := c.runStage(ctx, st, order, agentFor); err != nil {
			return "", err
		}
	}

	return c.synthesize(ctx, len(stages), manager)
}

const synthesisInstruction = "Your team completed the tasks below. Combine all of their results into one final, " +
	"coherent deliverable that fulfils every task. Do not leave out any result."

func (c *Crew) synthesize(ctx context.Context, stage int, manager *Agent) (string, error) {
	var sections []string
	var instruction strings.Builder
	instruction.WriteString(synthesisInstruction)
	instruction.WriteString("\n\n## Tasks\n\n")
	for _, t := range c.tasks {
		out, _ := t.Output()
		sections = append(sections, fmt.Sprintf("### %s\n%s", t.Name, out))
		fmt.Fprintf(&instruction, "- %s: %s\n", t.Name, interpolate(t.Description, c.params))
	}

	c.emit(Event{Type: EventTaskStarted, Stage: stage, Task: "synthesis", Agent: manager.Role})
	r := c.retrier.With(func(a retry.Attempt) {
		c.emit(Event{Type: EventTaskRetrying, Stage: stage, Task: "synthesis", Agent: manager.Role, Attempt: a.Number, Delay: a.Delay, Err: a.Err})
	})
	req := provider.Request{
		Role:        manager.roleContext(c.params),
		Instruction: instruction.String(),
		Context:     strings.Join(sections, contextSeparator),
	}
	out, err := retry.Do(ctx, r, func(ctx context.Context) (string, error) {
		return manager.Provider.Invoke(ctx, req)
	})
	if err != nil {
		c.emit(Event{Type: EventTaskFailed, Stage: stage, Task: "synthesis", Agent: manager.Role, Err: err})
		return "", &AbortError{Stage: stage, Task: "synthesis", Err: err}
	}
	c.emit(Event{Type: EventTaskCompleted, Stage: stage, Task: "synthesis", Agent: manager.Role, Output: out})
	return out, nil
}

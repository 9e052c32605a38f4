package crew

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mtzanidakis/crew/internal/provider"
	"github.com/mtzanidakis/crew/internal/retry"
)

const contextSeparator = "\n\n"

// runStage executes order, which holds the stage's tasks in the sequence
// the caller wants non-async tasks to run. Async tasks each get their own
// goroutine; the remaining tasks share one goroutine and run one after the
// other. The first failure cancels the rest of the stage.
func (c *Crew) runStage(ctx context.Context, st Stage, order []*Task, agentFor func(*Task) *Agent) error {
	c.emit(Event{Type: EventStageStarted, Stage: st.Index, Data: map[string]any{"tasks": st.Names()}})

	g, gctx := errgroup.WithContext(ctx)
	var sequential []*Task
	for _, t := range order {
		if !t.Async {
			sequential = append(sequential, t)
			continue
		}
		g.Go(func() error {
			return c.executeTask(gctx, st.Index, t, agentFor(t))
		})
	}
	if len(sequential) > 0 {
		g.Go(func() error {
			for _, t := range sequential {
				if err := c.executeTask(gctx, st.Index, t, agentFor(t)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.emit(Event{Type: EventStageCompleted, Stage: st.Index})
	return nil
}

func (c *Crew) executeTask(ctx context.Context, stage int, t *Task, agent *Agent) error {
	fail := func(err error) error {
		c.emit(Event{Type: EventTaskFailed, Stage: stage, Task: t.Name, Agent: roleOf(agent), Err: err})
		return &AbortError{Stage: stage, Task: t.Name, Err: err}
	}
	if agent == nil {
		return fail(errors.New("no agent assigned"))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	taskCtx, err := c.assembleContext(t)
	if err != nil {
		return fail(err)
	}

	c.emit(Event{Type: EventTaskStarted, Stage: stage, Task: t.Name, Agent: agent.Role})

	r := c.retrier.With(func(a retry.Attempt) {
		c.emit(Event{
			Type:    EventTaskRetrying,
			Stage:   stage,
			Task:    t.Name,
			Agent:   agent.Role,
			Attempt: a.Number,
			Delay:   a.Delay,
			Err:     a.Err,
		})
	})

	instruction := t.instruction(c.params)
	for _, tool := range t.Tools {
		if tool.Provider == nil {
			continue
		}
		res, err := c.useTool(ctx, r, tool)
		if err != nil {
			return fail(fmt.Errorf("tool %s: %w", tool.Name, err))
		}
		instruction += fmt.Sprintf("\n\n## %s results\n\n%s", tool.Name, res)
	}

	req := provider.Request{
		Role:        agent.roleContext(c.params),
		Instruction: instruction,
		Context:     taskCtx,
		Tools:       t.Tools,
	}
	out, err := retry.Do(ctx, r, func(ctx context.Context) (string, error) {
		return agent.Provider.Invoke(ctx, req)
	})
	if err != nil {
		return fail(err)
	}

	if err := t.setOutput(out); err != nil {
		return fail(err)
	}
	c.emit(Event{Type: EventTaskCompleted, Stage: stage, Task: t.Name, Agent: agent.Role, Output: out})
	return nil
}

func (c *Crew) useTool(ctx context.Context, r *retry.Retrier, tool provider.ToolRef) (string, error) {
	req := provider.Request{Instruction: interpolate(tool.Input, c.params)}
	return retry.Do(ctx, r, func(ctx context.Context) (string, error) {
		return tool.Provider.Invoke(ctx, req)
	})
}

// assembleContext concatenates the upstream outputs in upstream declaration
// order.
func (c *Crew) assembleContext(t *Task) (string, error) {
	if len(t.Upstream) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(t.Upstream))
	for _, name := range t.Upstream {
		up := c.task(name)
		if up == nil {
			return "", &GraphError{Kind: ErrUnknownReference, Task: t.Name, Ref: name}
		}
		out, ok := up.Output()
		if !ok {
			return "", fmt.Errorf("upstream task %q has no output", name)
		}
		parts = append(parts, out)
	}
	return strings.Join(parts, contextSeparator), nil
}

func roleOf(a *Agent) string {
	if a == nil {
		return ""
	}
	return a.Role
}

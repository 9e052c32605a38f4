package crew

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/mtzanidakis/crew/internal/provider"
)

// echoWorker answers with its role and the task instruction.
func echoWorker(role string) *Agent {
	return &Agent{Role: role, Provider: provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		return role + " handled " + strings.SplitN(req.Instruction, "\n", 2)[0], nil
	})}
}

// summarizingManager plans round-robin and synthesises by echoing its
// context, so the result depends on every worker output.
func summarizingManager(planned *[]string) *Agent {
	var mu sync.Mutex
	return &Agent{Role: "Event Manager", Kind: Manager, Provider: provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		if strings.Contains(req.Instruction, "Answer with a JSON array") {
			mu.Lock()
			*planned = append(*planned, req.Instruction)
			mu.Unlock()
			return "Here is the plan:\n```json\n" + `[
				{"task": "venue", "agent": "Venue Coordinator"},
				{"task": "logistics", "agent": "Logistics Manager"},
				{"task": "marketing", "agent": "Marketing Agent"},
				{"task": "catering", "agent": "Catering Agent"}
			]` + "\n```", nil
		}
		return "PLAN\n" + req.Context, nil
	})}
}

func eventTasks() []*Task {
	return []*Task{
		{Name: "venue", Description: "Find a venue in {city}", Async: true},
		{Name: "logistics", Description: "Arrange logistics", Async: true},
		{Name: "marketing", Description: "Promote the event", Async: true},
		{Name: "catering", Description: "Plan catering", Async: true},
	}
}

func eventWorkers() []*Agent {
	return []*Agent{
		echoWorker("Venue Coordinator"),
		echoWorker("Logistics Manager"),
		echoWorker("Marketing Agent"),
		echoWorker("Catering Agent"),
	}
}

func TestHierarchical_SynthesisUsesEveryOutput(t *testing.T) {
	var planned []string
	manager := summarizingManager(&planned)
	agents := append(eventWorkers(), manager)

	c, err := New(agents, eventTasks(), WithMode(Hierarchical), WithLogger(quiet), WithRetry(noSleep()))
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Kickoff(context.Background(), map[string]string{"city": "Athens"})
	if err != nil {
		t.Fatal(err)
	}

	if len(planned) != 1 {
		t.Fatalf("expected one planning call, got %d", len(planned))
	}
	if !strings.Contains(planned[0], "Find a venue in Athens") {
		t.Error("expected planning prompt to include rendered task descriptions")
	}
	for _, want := range []string{
		"### venue\nVenue Coordinator handled Find a venue in Athens",
		"### logistics\nLogistics Manager handled Arrange logistics",
		"### marketing\nMarketing Agent handled Promote the event",
		"### catering\nCatering Agent handled Plan catering",
	} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("expected synthesis to include %q, got %q", want, res.Output)
		}
	}
	if len(res.TaskOutputs) != 4 {
		t.Errorf("expected 4 task outputs, got %d", len(res.TaskOutputs))
	}
}

func TestHierarchical_DroppingAnOutputChangesResult(t *testing.T) {
	run := func(drop string) string {
		var planned []string
		manager := summarizingManager(&planned)
		inner := manager.Provider
		manager.Provider = provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
			if drop != "" && req.Context != "" {
				var kept []string
				for _, sec := range strings.Split(req.Context, contextSeparator) {
					if !strings.HasPrefix(sec, "### "+drop+"\n") {
						kept = append(kept, sec)
					}
				}
				req.Context = strings.Join(kept, contextSeparator)
			}
			return inner.Invoke(ctx, req)
		})
		c, err := New(append(eventWorkers(), manager), eventTasks(), WithMode(Hierarchical), WithLogger(quiet))
		if err != nil {
			t.Fatal(err)
		}
		res, err := c.Kickoff(context.Background(), map[string]string{"city": "Athens"})
		if err != nil {
			t.Fatal(err)
		}
		return res.Output
	}

	full := run("")
	for _, name := range []string{"venue", "logistics", "marketing", "catering"} {
		if run(name) == full {
			t.Errorf("removing %s output did not change the result", name)
		}
	}
}

func TestHierarchical_IncompleteAssignment(t *testing.T) {
	cases := map[string][]Assignment{
		"missing task": {
			{Task: "venue", Agent: "Venue Coordinator"},
			{Task: "logistics", Agent: "Logistics Manager"},
			{Task: "marketing", Agent: "Marketing Agent"},
		},
		"duplicate task": {
			{Task: "venue", Agent: "Venue Coordinator"},
			{Task: "venue", Agent: "Catering Agent"},
			{Task: "logistics", Agent: "Logistics Manager"},
			{Task: "marketing", Agent: "Marketing Agent"},
			{Task: "catering", Agent: "Catering Agent"},
		},
		"unknown worker": {
			{Task: "venue", Agent: "Venue Coordinator"},
			{Task: "logistics", Agent: "Logistics Manager"},
			{Task: "marketing", Agent: "Marketing Agent"},
			{Task: "catering", Agent: "Chef"},
		},
	}
	for name, plan := range cases {
		t.Run(name, func(t *testing.T) {
			var invoked bool
			workers := eventWorkers()
			for _, w := range workers {
				inner := w.Provider
				w.Provider = provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
					invoked = true
					return inner.Invoke(ctx, req)
				})
			}
			manager := &Agent{Role: "Event Manager", Kind: Manager, Provider: provider.Func(constant("unused"))}
			c, err := New(append(workers, manager), eventTasks(),
				WithMode(Hierarchical),
				WithLogger(quiet),
				WithDelegator(DelegatorFunc(func(ctx context.Context, req DelegationRequest) ([]Assignment, error) {
					return plan, nil
				})),
			)
			if err != nil {
				t.Fatal(err)
			}
			_, err = c.Kickoff(context.Background(), nil)
			if !errors.Is(err, ErrIncompleteAssignment) {
				t.Fatalf("expected ErrIncompleteAssignment, got %v", err)
			}
			if invoked {
				t.Error("no worker may run on an invalid plan")
			}
		})
	}
}

func TestHierarchical_RespectsDependencies(t *testing.T) {
	var mu sync.Mutex
	var order []string
	worker := &Agent{Role: "Writer", Provider: provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		mu.Lock()
		order = append(order, req.Instruction)
		mu.Unlock()
		return "out:" + req.Instruction + "|" + req.Context, nil
	})}
	manager := &Agent{Role: "Editor in chief", Kind: Manager, Provider: provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		return req.Context, nil
	})}
	ts := []*Task{
		{Name: "draft", Description: "draft", Upstream: []string{"research"}},
		{Name: "research", Description: "research"},
	}
	// The plan lists draft first; the graph must still run research first.
	plan := []Assignment{{Task: "draft", Agent: "Writer"}, {Task: "research", Agent: "Writer"}}
	c, err := New([]*Agent{worker, manager}, ts,
		WithMode(Hierarchical),
		WithLogger(quiet),
		WithDelegator(DelegatorFunc(func(ctx context.Context, req DelegationRequest) ([]Assignment, error) {
			return plan, nil
		})),
	)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Kickoff(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(order) != "[research draft]" {
		t.Fatalf("expected research before draft, got %v", order)
	}
	if res.TaskOutputs["draft"] != "out:draft|out:research|" {
		t.Errorf("expected draft context from research, got %q", res.TaskOutputs["draft"])
	}
}

func TestHierarchical_ManagerOrderWithinStage(t *testing.T) {
	var mu sync.Mutex
	var order []string
	worker := &Agent{Role: "w", Provider: provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		mu.Lock()
		order = append(order, req.Instruction)
		mu.Unlock()
		return req.Instruction, nil
	})}
	manager := &Agent{Role: "m", Kind: Manager, Provider: provider.Func(constant("summary"))}
	ts := []*Task{{Name: "a", Description: "a"}, {Name: "b", Description: "b"}, {Name: "c", Description: "c"}}
	plan := []Assignment{{Task: "c", Agent: "w"}, {Task: "a", Agent: "w"}, {Task: "b", Agent: "w"}}

	c, err := New([]*Agent{worker, manager}, ts,
		WithMode(Hierarchical),
		WithLogger(quiet),
		WithDelegator(DelegatorFunc(func(ctx context.Context, req DelegationRequest) ([]Assignment, error) {
			return plan, nil
		})),
	)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Kickoff(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(order) != "[c a b]" {
		t.Errorf("expected manager order [c a b], got %v", order)
	}
	if res.Output != "summary" {
		t.Errorf("expected manager synthesis, got %q", res.Output)
	}
}

func TestHierarchical_SynthesisFailureAborts(t *testing.T) {
	manager := &Agent{Role: "m", Kind: Manager, Provider: provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		if strings.Contains(req.Instruction, "JSON array") {
			return `[{"task":"t","agent":"w"}]`, nil
		}
		return "", provider.Fatal("quota disabled")
	})}
	worker := &Agent{Role: "w", Provider: provider.Func(constant("x"))}
	c, err := New([]*Agent{worker, manager}, []*Task{{Name: "t", Description: "t"}}, WithMode(Hierarchical), WithLogger(quiet))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Kickoff(context.Background(), nil)
	var ae *AbortError
	if !errors.As(err, &ae) || ae.Task != "synthesis" {
		t.Fatalf("expected synthesis abort, got %v", err)
	}
	if ae.Outputs["t"] != "x" {
		t.Errorf("expected worker output kept, got %v", ae.Outputs)
	}
}

func TestParseAssignments(t *testing.T) {
	plan, err := parseAssignments("Sure!\n[{\"task\":\"a\",\"agent\":\"w\"}]\nGood luck.")
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 1 || plan[0].Task != "a" || plan[0].Agent != "w" {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if _, err := parseAssignments("no plan here"); !errors.Is(err, ErrIncompleteAssignment) {
		t.Errorf("expected ErrIncompleteAssignment, got %v", err)
	}
	if _, err := parseAssignments("[not json]"); !errors.Is(err, ErrIncompleteAssignment) {
		t.Errorf("expected ErrIncompleteAssignment, got %v", err)
	}
}

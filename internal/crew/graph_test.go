package crew

import (
	"errors"
	"testing"
)

func tasks(specs ...[]string) []*Task {
	out := make([]*Task, len(specs))
	for i, s := range specs {
		out[i] = &Task{Name: s[0], Upstream: s[1:]}
	}
	return out
}

func stageOf(stages []Stage) map[string]int {
	m := make(map[string]int)
	for _, st := range stages {
		for _, t := range st.Tasks {
			m[t.Name] = st.Index
		}
	}
	return m
}

func TestResolve_Roots(t *testing.T) {
	stages, err := Resolve(tasks([]string{"a"}, []string{"b"}, []string{"c"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 1 {
		t.Fatalf("expected 1 stage, got %d", len(stages))
	}
	names := stages[0].Names()
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Fatalf("expected declaration order [a b c], got %v", names)
	}
}

func TestResolve_LinearChain(t *testing.T) {
	stages, err := Resolve(tasks([]string{"c", "b"}, []string{"b", "a"}, []string{"a"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}
	if stages[0].Tasks[0].Name != "a" || stages[1].Tasks[0].Name != "b" || stages[2].Tasks[0].Name != "c" {
		t.Fatalf("unexpected layering %v %v %v", stages[0].Names(), stages[1].Names(), stages[2].Names())
	}
}

func TestResolve_LongestPathWins(t *testing.T) {
	// d depends on a directly and through b -> c, so it must land after c.
	stages, err := Resolve(tasks(
		[]string{"a"},
		[]string{"b", "a"},
		[]string{"c", "b"},
		[]string{"d", "a", "c"},
	))
	if err != nil {
		t.Fatal(err)
	}
	got := stageOf(stages)
	if got["d"] != 3 {
		t.Fatalf("expected d in stage 3, got %d", got["d"])
	}
}

func TestResolve_UpstreamInEarlierStages(t *testing.T) {
	ts := tasks(
		[]string{"research"},
		[]string{"venue"},
		[]string{"outline", "research"},
		[]string{"draft", "outline", "venue"},
		[]string{"edit", "draft"},
		[]string{"summary", "research", "edit"},
	)
	stages, err := Resolve(ts)
	if err != nil {
		t.Fatal(err)
	}
	got := stageOf(stages)
	for _, task := range ts {
		for _, up := range task.Upstream {
			if got[up] >= got[task.Name] {
				t.Errorf("task %s (stage %d) not after upstream %s (stage %d)", task.Name, got[task.Name], up, got[up])
			}
		}
	}
	for i, st := range stages {
		if st.Index != i {
			t.Errorf("stage %d has index %d", i, st.Index)
		}
		if len(st.Tasks) == 0 {
			t.Errorf("stage %d is empty", i)
		}
	}
}

func TestResolve_Cycle(t *testing.T) {
	_, err := Resolve(tasks([]string{"a", "c"}, []string{"b", "a"}, []string{"c", "b"}))
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
	var ge *GraphError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GraphError, got %T", err)
	}
}

func TestResolve_SelfReference(t *testing.T) {
	_, err := Resolve(tasks([]string{"a"}, []string{"b", "b"}))
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestResolve_UnknownReference(t *testing.T) {
	_, err := Resolve(tasks([]string{"a"}, []string{"b", "ghost"}))
	if !errors.Is(err, ErrUnknownReference) {
		t.Fatalf("expected ErrUnknownReference, got %v", err)
	}
	var ge *GraphError
	if !errors.As(err, &ge) || ge.Task != "b" || ge.Ref != "ghost" {
		t.Fatalf("expected GraphError naming b and ghost, got %#v", err)
	}
}

func TestResolve_DuplicateTask(t *testing.T) {
	_, err := Resolve(tasks([]string{"a"}, []string{"a"}))
	if !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestResolve_RepeatedUpstream(t *testing.T) {
	stages, err := Resolve(tasks([]string{"a"}, []string{"b", "a", "a"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}
}

func TestResolve_Empty(t *testing.T) {
	stages, err := Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 0 {
		t.Fatalf("expected no stages, got %d", len(stages))
	}
}

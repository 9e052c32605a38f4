package crew

// Stage is one layer of the task graph. Every upstream task of a member lives
// in an earlier stage.
type Stage struct {
	Index int
	Tasks []*Task
}

// Names returns the task names of the stage in declaration order.
func (s Stage) Names() []string {
	names := make([]string, len(s.Tasks))
	for i, t := range s.Tasks {
		names[i] = t.Name
	}
	return names
}

// Resolve layers tasks topologically: roots go to stage 0 and every other task
// to one past the deepest of its upstream tasks. Members of a stage keep
// declaration order.
func Resolve(tasks []*Task) ([]Stage, error) {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if _, dup := index[t.Name]; dup {
			return nil, &GraphError{Kind: ErrDuplicateTask, Task: t.Name}
		}
		index[t.Name] = i
	}

	downstream := make(map[string][]string)
	inDegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		for _, up := range t.Upstream {
			if _, ok := index[up]; !ok {
				return nil, &GraphError{Kind: ErrUnknownReference, Task: t.Name, Ref: up}
			}
			downstream[up] = append(downstream[up], t.Name)
			inDegree[t.Name]++
		}
	}

	// Kahn's algorithm, tracking the longest path to each node.
	depth := make(map[string]int, len(tasks))
	queue := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if inDegree[t.Name] == 0 {
			queue = append(queue, t.Name)
		}
	}

	processed := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		processed++

		for _, next := range downstream[name] {
			inDegree[next]--
			if d := depth[name] + 1; d > depth[next] {
				depth[next] = d
			}
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed != len(tasks) {
		for _, t := range tasks {
			if inDegree[t.Name] > 0 {
				return nil, &GraphError{Kind: ErrCyclicDependency, Task: t.Name}
			}
		}
		return nil, &GraphError{Kind: ErrCyclicDependency}
	}

	maxDepth := -1
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	if len(tasks) > 0 && maxDepth < 0 {
		maxDepth = 0
	}

	stages := make([]Stage, maxDepth+1)
	for i := range stages {
		stages[i].Index = i
	}
	for _, t := range tasks {
		d := depth[t.Name]
		stages[d].Tasks = append(stages[d].Tasks, t)
	}
	return stages, nil
}

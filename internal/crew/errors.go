package crew

import (
	"errors"
	"fmt"
)

var (
	ErrCyclicDependency     = errors.New("cyclic dependency")
	ErrUnknownReference     = errors.New("unknown reference")
	ErrDuplicateTask        = errors.New("duplicate task")
	ErrOrchestrationAborted = errors.New("orchestration aborted")
	ErrIncompleteAssignment = errors.New("incomplete assignment")
	ErrOutputAlreadySet     = errors.New("task output already set")
	ErrAlreadyStarted       = errors.New("crew already kicked off")
	ErrNoManager            = errors.New("hierarchical mode requires a manager agent")
	ErrEmptyResult          = errors.New("empty result")
)

// GraphError reports an invalid task graph. Kind is one of
// ErrCyclicDependency, ErrUnknownReference or ErrDuplicateTask.
type GraphError struct {
	Kind error
	Task string
	Ref  string
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case ErrUnknownReference:
		return fmt.Sprintf("task %q depends on unknown task %q", e.Task, e.Ref)
	case ErrDuplicateTask:
		return fmt.Sprintf("duplicate task %q", e.Task)
	case ErrCyclicDependency:
		if e.Task != "" {
			return fmt.Sprintf("cyclic dependency involving task %q", e.Task)
		}
	}
	return e.Kind.Error()
}

func (e *GraphError) Unwrap() error {
	return e.Kind
}

// AbortError is returned when a task fails fatally. Outputs holds every task
// output produced before the abort, for diagnostics only.
type AbortError struct {
	Stage   int
	Task    string
	Err     error
	Outputs map[string]string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("orchestration aborted at stage %d, task %q: %v", e.Stage, e.Task, e.Err)
}

func (e *AbortError) Unwrap() []error {
	return []error{ErrOrchestrationAborted, e.Err}
}

package crew

import (
	"log/slog"
	"time"
)

type EventType string

const (
	EventRunStarted        EventType = "run_started"
	EventStageStarted      EventType = "stage_started"
	EventTaskStarted       EventType = "task_started"
	EventTaskRetrying      EventType = "task_retrying"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
	EventStageCompleted    EventType = "stage_completed"
	EventDelegationPlanned EventType = "delegation_planned"
	EventRunCompleted      EventType = "run_completed"
	EventRunFailed         EventType = "run_failed"
)

// Event is a lifecycle notification. Fields not relevant to Type are zero.
type Event struct {
	RunID   string
	Crew    string
	Type    EventType
	Stage   int
	Task    string
	Agent   string
	Attempt int
	Delay   time.Duration
	Output  string
	Err     error
	Time    time.Time
	Data    map[string]any
}

// Listener receives lifecycle events. OnEvent may be called from several
// goroutines at once and must not block for long.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) {
	f(e)
}

// LogListener writes events as structured log lines.
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) OnEvent(e Event) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("run", e.RunID, "crew", e.Crew)

	switch e.Type {
	case EventRunStarted:
		log.Info("run started", "mode", e.Data["mode"], "tasks", e.Data["tasks"])
	case EventStageStarted:
		log.Info("executing stage", "stage", e.Stage, "tasks", e.Data["tasks"])
	case EventTaskStarted:
		log.Debug("task started", "stage", e.Stage, "task", e.Task, "agent", e.Agent)
	case EventTaskRetrying:
		log.Warn("task rate limited, retrying", "task", e.Task, "attempt", e.Attempt, "delay", e.Delay, "error", e.Err)
	case EventTaskCompleted:
		log.Info("task completed", "stage", e.Stage, "task", e.Task, "agent", e.Agent, "bytes", len(e.Output))
	case EventTaskFailed:
		log.Error("task failed", "stage", e.Stage, "task", e.Task, "agent", e.Agent, "error", e.Err)
	case EventStageCompleted:
		log.Info("stage completed", "stage", e.Stage)
	case EventDelegationPlanned:
		log.Info("delegation planned", "assignments", e.Data["assignments"])
	case EventRunCompleted:
		log.Info("run completed", "bytes", len(e.Output))
	case EventRunFailed:
		log.Error("run failed", "error", e.Err)
	}
}

package coordinator

import (
	"time"

	"github.com/mtzanidakis/crew/internal/crew"
	"github.com/mtzanidakis/crew/internal/natsbus"
)

// EventMessage is the JSON form of a lifecycle event on the bus.
type EventMessage struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	Crew      string         `json:"crew"`
	Stage     int            `json:"stage"`
	Task      string         `json:"task,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	DelayMs   int64          `json:"delay_ms,omitempty"`
	Output    string         `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func newEventMessage(e crew.Event) EventMessage {
	m := EventMessage{
		Type:      string(e.Type),
		RunID:     e.RunID,
		Crew:      e.Crew,
		Stage:     e.Stage,
		Task:      e.Task,
		Agent:     e.Agent,
		Attempt:   e.Attempt,
		DelayMs:   e.Delay.Milliseconds(),
		Output:    e.Output,
		Data:      e.Data,
		Timestamp: e.Time.UTC().Format(time.RFC3339),
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return m
}

// busListener publishes every event on the run's subject.
type busListener struct {
	client *natsbus.Client
}

func (b busListener) OnEvent(e crew.Event) {
	_ = b.client.PublishJSON(natsbus.TopicEventsRun(e.RunID), newEventMessage(e))
}

// trackerListener keeps the tracked run's progress current.
type trackerListener struct {
	tracker *Tracker
}

func (l trackerListener) OnEvent(e crew.Event) {
	switch e.Type {
	case crew.EventStageStarted:
		l.tracker.Update(e.RunID, func(r *Run) { r.Stage = e.Stage })
	case crew.EventTaskCompleted:
		l.tracker.Update(e.RunID, func(r *Run) { r.TasksDone++ })
	case crew.EventTaskFailed:
		l.tracker.Update(e.RunID, func(r *Run) { r.FailedTask = e.Task })
	}
}

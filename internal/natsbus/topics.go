package natsbus

import "fmt"

// Subjects used between the gateway components.

// TopicEventsRun carries the lifecycle events of one crew run.
func TopicEventsRun(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

// TopicEventsSecret carries secret mutations (created, updated, deleted).
func TopicEventsSecret(action string) string {
	return fmt.Sprintf("events.secret.%s", action)
}

// TopicIPC is the request/reply subject for a host command.
func TopicIPC(command string) string {
	return fmt.Sprintf("host.ipc.%s", command)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsRuns     = "events.run.*"
	TopicEventsSchedule = "events.schedule.executed"
	TopicEventsConfig   = "events.config.reloaded"
	TopicEventsCrews    = "events.crews.reloaded"
)

var (
	// TopicIPCRun asks the coordinator to kick off a crew.
	TopicIPCRun = TopicIPC("run")
	// TopicIPCRuns lists the tracked runs.
	TopicIPCRuns = TopicIPC("runs")
	// TopicIPCStatus returns one run by ID.
	TopicIPCStatus = TopicIPC("status")
	// TopicIPCCrews lists the crews that can be run.
	TopicIPCCrews = TopicIPC("crews")
)

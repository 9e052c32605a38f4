package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/crew/internal/natsbus"
)

// IPCRequest is the payload of a run request on the bus. With Wait unset
// the reply is sent as soon as the run has started.
type IPCRequest struct {
	RunRequest
	Wait bool `json:"wait,omitempty"`
}

type IPCReply struct {
	RunID    string `json:"run_id,omitempty"`
	Status   Status `json:"status,omitempty"`
	Output   string `json:"output,omitempty"`
	Artifact string `json:"artifact,omitempty"`
	Error    string `json:"error,omitempty"`
}

// StatusRequest asks for one run on host.ipc.status.
type StatusRequest struct {
	ID string `json:"id"`
}

// StatusReply answers host.ipc.status.
type StatusReply struct {
	Run   *Run   `json:"run,omitempty"`
	Error string `json:"error,omitempty"`
}

// CrewInfo describes one runnable crew on host.ipc.crews.
type CrewInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Mode        string   `json:"mode"`
	Params      []string `json:"params,omitempty"`
}

// ServeIPC answers requests on the host.ipc subjects until ctx is done.
func (c *Coordinator) ServeIPC(ctx context.Context, client *natsbus.Client) error {
	handlers := map[string]nats.MsgHandler{
		natsbus.TopicIPCRun: func(msg *nats.Msg) {
			c.handleIPC(ctx, msg)
		},
		natsbus.TopicIPCRuns: func(msg *nats.Msg) {
			respondJSON(msg, c.Runs())
		},
		natsbus.TopicIPCStatus: c.handleIPCStatus,
		natsbus.TopicIPCCrews: func(msg *nats.Msg) {
			defs := c.registry.List()
			out := make([]CrewInfo, 0, len(defs))
			for _, d := range defs {
				out = append(out, CrewInfo{Name: d.Name, Description: d.Description, Mode: d.Mode, Params: d.Params()})
			}
			respondJSON(msg, out)
		},
	}

	var subs []*nats.Subscription
	for topic, h := range handlers {
		sub, err := client.Subscribe(topic, h)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}
	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	return nil
}

func (c *Coordinator) handleIPCStatus(msg *nats.Msg) {
	var req StatusRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		respondJSON(msg, StatusReply{Error: "invalid request"})
		return
	}
	run, ok := c.Get(req.ID)
	if !ok {
		respondJSON(msg, StatusReply{Error: fmt.Sprintf("run %q not found", req.ID)})
		return
	}
	respondJSON(msg, StatusReply{Run: &run})
}

func (c *Coordinator) handleIPC(ctx context.Context, msg *nats.Msg) {
	var req IPCRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		slog.Warn("invalid IPC run request", "error", err)
		respondIPC(msg, IPCReply{Error: "invalid request"})
		return
	}
	if req.Source == "" {
		req.Source = "ipc"
	}
	slog.Info("IPC run request received", "crew", req.Crew, "wait", req.Wait)

	if !req.Wait {
		run, err := c.Start(ctx, req.RunRequest)
		if err != nil {
			respondIPC(msg, IPCReply{Error: err.Error()})
			return
		}
		respondIPC(msg, IPCReply{RunID: run.ID, Status: run.Status})
		return
	}

	// Waiting runs must not hold up the subscription's dispatch goroutine.
	go func() {
		run, err := c.Run(ctx, req.RunRequest)
		reply := IPCReply{RunID: run.ID, Status: run.Status, Output: run.Output, Artifact: run.Artifact}
		if err != nil {
			reply.Error = err.Error()
		}
		respondIPC(msg, reply)
	}()
}

func respondIPC(msg *nats.Msg, reply IPCReply) {
	respondJSON(msg, reply)
}

func respondJSON(msg *nats.Msg, reply any) {
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Error("failed to marshal IPC response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error("failed to respond to IPC", "error", err)
	}
}

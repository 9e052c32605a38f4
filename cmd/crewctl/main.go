package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mtzanidakis/crew/internal/coordinator"
	"github.com/mtzanidakis/crew/internal/natsbus"
)

const (
	requestTimeout = 10 * time.Second
	waitTimeout    = 30 * time.Minute
)

type options struct {
	flags  map[string]string
	params map[string]string
	wait   bool
	export bool
}

// parseArgs reads "--name value" flags, repeatable "--param key=value"
// pairs and the boolean --wait and --export switches.
func parseArgs(args []string) options {
	opts := options{flags: make(map[string]string), params: make(map[string]string)}
	for i := 0; i < len(args); i++ {
		if len(args[i]) <= 2 || args[i][:2] != "--" {
			continue
		}
		name := args[i][2:]
		switch name {
		case "wait":
			opts.wait = true
			continue
		case "export":
			opts.export = true
			continue
		}
		if i+1 >= len(args) {
			continue
		}
		value := args[i+1]
		i++
		if name == "param" {
			if k, v, ok := strings.Cut(value, "="); ok && k != "" {
				opts.params[k] = v
			}
			continue
		}
		opts.flags[name] = value
	}
	return opts
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  crewctl run --crew <name> [--param key=value]... [--mode pipeline|hierarchical] [--wait] [--export]`)
	fmt.Fprintln(os.Stderr, "  crewctl crews")
	fmt.Fprintln(os.Stderr, "  crewctl runs")
	fmt.Fprintln(os.Stderr, `  crewctl status --id <run id>`)
	fmt.Fprintln(os.Stderr, `  crewctl events --id <run id>`)
	fmt.Fprintln(os.Stderr, "\nEnvironment:\n  NATS_URL  gateway bus address (default nats://localhost:4222)")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	client, err := natsbus.NewClientFromURL(natsURL, "crewctl")
	if err != nil {
		fatal("%v", err)
	}
	defer client.Close()

	if err := execute(client, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		client.Close()
		fatal("%v", err)
	}
}

func execute(client *natsbus.Client, command string, rest []string, out io.Writer) error {
	switch command {
	case "run":
		return runCrew(client, parseArgs(rest), out)
	case "crews":
		return listCrews(client, out)
	case "runs":
		return listRuns(client, out)
	case "status":
		return showStatus(client, parseArgs(rest), out)
	case "events":
		return showEvents(client, parseArgs(rest), out)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runCrew(client *natsbus.Client, opts options, out io.Writer) error {
	if opts.flags["crew"] == "" {
		return fmt.Errorf("--crew is required")
	}
	req := coordinator.IPCRequest{
		RunRequest: coordinator.RunRequest{
			Crew:   opts.flags["crew"],
			Mode:   opts.flags["mode"],
			Params: opts.params,
			Source: "crewctl",
			Export: opts.export,
		},
		Wait: opts.wait,
	}
	timeout := requestTimeout
	if opts.wait {
		timeout = waitTimeout
	}

	var reply coordinator.IPCReply
	if err := client.RequestJSON(natsbus.TopicIPCRun, req, &reply, timeout); err != nil {
		return fmt.Errorf("ipc request: %w", err)
	}
	if reply.Error != "" {
		if reply.RunID != "" {
			return fmt.Errorf("run %s %s: %s", reply.RunID, reply.Status, reply.Error)
		}
		return fmt.Errorf("%s", reply.Error)
	}

	if !opts.wait {
		fmt.Fprintf(out, "Run started: %s\n", reply.RunID)
		return nil
	}
	fmt.Fprintln(out, reply.Output)
	if reply.Artifact != "" {
		fmt.Fprintf(out, "\nArtifact: %s\n", reply.Artifact)
	}
	return nil
}

func listCrews(client *natsbus.Client, out io.Writer) error {
	var crews []coordinator.CrewInfo
	if err := client.RequestJSON(natsbus.TopicIPCCrews, struct{}{}, &crews, requestTimeout); err != nil {
		return fmt.Errorf("ipc request: %w", err)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODE\tPARAMS\tDESCRIPTION")
	for _, c := range crews {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, c.Mode, strings.Join(c.Params, ","), c.Description)
	}
	return w.Flush()
}

func listRuns(client *natsbus.Client, out io.Writer) error {
	var runs []coordinator.Run
	if err := client.RequestJSON(natsbus.TopicIPCRuns, struct{}{}, &runs, requestTimeout); err != nil {
		return fmt.Errorf("ipc request: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREW\tSTATUS\tTASKS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n", r.ID, r.Crew, r.Status, r.TasksDone, r.TasksTotal, r.StartedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func showStatus(client *natsbus.Client, opts options, out io.Writer) error {
	id := opts.flags["id"]
	if id == "" {
		return fmt.Errorf("--id is required")
	}
	var reply coordinator.StatusReply
	if err := client.RequestJSON(natsbus.TopicIPCStatus, coordinator.StatusRequest{ID: id}, &reply, requestTimeout); err != nil {
		return fmt.Errorf("ipc request: %w", err)
	}
	if reply.Error != "" {
		return fmt.Errorf("%s", reply.Error)
	}
	r := reply.Run
	fmt.Fprintf(out, "Run:    %s\nCrew:   %s (%s)\nStatus: %s\nTasks:  %d/%d, stage %d\n", r.ID, r.Crew, r.Mode, r.Status, r.TasksDone, r.TasksTotal, r.Stage)
	if r.FailedTask != "" {
		fmt.Fprintf(out, "Failed: %s\n", r.FailedTask)
	}
	if r.Error != "" {
		fmt.Fprintf(out, "Error:  %s\n", r.Error)
	}
	if r.Output != "" {
		fmt.Fprintf(out, "\n%s\n", r.Output)
	}
	return nil
}

// showEvents replays a run's stored lifecycle events, one per line.
func showEvents(client *natsbus.Client, opts options, out io.Writer) error {
	id := opts.flags["id"]
	if id == "" {
		return fmt.Errorf("--id is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	raw, err := client.RunHistory(ctx, id)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("no events for run %s", id)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME	EVENT	STAGE	TASK	AGENT	DETAIL")
	for _, data := range raw {
		var ev coordinator.EventMessage
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		detail := ev.Error
		if ev.Attempt > 0 {
			detail = fmt.Sprintf("attempt %d, wait %dms: %s", ev.Attempt, ev.DelayMs, ev.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", ev.Timestamp, ev.Type, ev.Stage, ev.Task, ev.Agent, detail)
	}
	return w.Flush()
}

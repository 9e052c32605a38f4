package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/registry"
	"github.com/mtzanidakis/crew/internal/schedule"
	"github.com/mtzanidakis/crew/internal/scheduler"
	"github.com/mtzanidakis/crew/internal/store"
)

func runSchedule(args []string) error {
	if len(args) == 0 {
		printScheduleUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := registry.New(cfg.Crews.Dir)
	if err != nil {
		return fmt.Errorf("load crews: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	return scheduleCommand(db, reg, args, os.Stdout, time.Now())
}

func scheduleCommand(db *store.Store, reg *registry.Registry, args []string, out io.Writer, now time.Time) error {
	switch args[0] {
	case "list":
		return scheduleList(db, out)
	case "add":
		return scheduleAdd(db, reg, args[1:], out, now)
	case "delete":
		return scheduleDelete(db, args[1:], out)
	case "pause":
		return scheduleSetStatus(db, args[1:], "paused", out, now)
	case "resume":
		return scheduleSetStatus(db, args[1:], "active", out, now)
	default:
		printScheduleUsage()
		return fmt.Errorf("unknown schedule command: %s", args[0])
	}
}

func printScheduleUsage() {
	fmt.Fprintf(os.Stderr, `Usage: crew schedule <command>

Commands:
  list                                      List all schedules
  add -crew <crew> -name <name> -schedule <rule> [-mode m] [-param k=v]...
                                            Add a schedule
  delete <id>                               Delete a schedule
  pause <id>                                Stop a schedule from firing
  resume <id>                               Re-activate a paused schedule

Rules:
  "0 9 * * *", "every 2h", "at 2030-01-01T09:00:00Z"
`)
}

func scheduleList(db *store.Store, out io.Writer) error {
	list, err := db.ListSchedules()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No schedules.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREW\tSCHEDULE\tSTATUS\tNEXT RUN\tLAST STATUS")
	for _, sc := range list {
		next := "-"
		if sc.NextRunAt != nil {
			next = sc.NextRunAt.Local().Format("2006-01-02 15:04")
		}
		last := sc.LastStatus
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sc.ID, sc.Name, sc.Crew, schedule.Describe(sc.Schedule), sc.Status, next, last)
	}
	return w.Flush()
}

// paramFlags collects repeated -param key=value flags.
type paramFlags []string

func (p *paramFlags) String() string { return fmt.Sprint(*p) }

func (p *paramFlags) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func scheduleAdd(db *store.Store, reg *registry.Registry, args []string, out io.Writer, now time.Time) error {
	fs := flag.NewFlagSet("schedule add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	crewName := fs.String("crew", "", "crew to run")
	name := fs.String("name", "", "schedule name")
	rule := fs.String("schedule", "", "schedule rule")
	mode := fs.String("mode", "", "override the crew's process mode")
	var params paramFlags
	fs.Var(&params, "param", "run parameter as key=value, repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	def, ok := reg.Get(*crewName)
	if !ok {
		return fmt.Errorf("unknown crew %q", *crewName)
	}
	p, err := parseParams(params)
	if err != nil {
		return err
	}
	if err := def.CheckParams(p); err != nil {
		return err
	}

	sc := &store.Schedule{Crew: *crewName, Name: *name, Schedule: *rule, Params: p, Mode: *mode}
	if err := scheduler.Prepare(sc, now); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if err := db.SaveSchedule(sc); err != nil {
		return err
	}
	fmt.Fprintf(out, "Schedule %s added, next run %s.\n", sc.ID, sc.NextRunAt.Local().Format(time.RFC3339))
	return nil
}

func lookupSchedule(db *store.Store, args []string) (*store.Schedule, error) {
	if len(args) < 1 {
		return nil, errors.New("schedule id is required")
	}
	sc, err := db.GetSchedule(args[0])
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, fmt.Errorf("schedule %q not found", args[0])
	}
	return sc, nil
}

func scheduleDelete(db *store.Store, args []string, out io.Writer) error {
	sc, err := lookupSchedule(db, args)
	if err != nil {
		return err
	}
	if err := db.DeleteSchedule(sc.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Schedule %s deleted.\n", sc.ID)
	return nil
}

func scheduleSetStatus(db *store.Store, args []string, status string, out io.Writer, now time.Time) error {
	sc, err := lookupSchedule(db, args)
	if err != nil {
		return err
	}
	if sc.Status == "completed" {
		return fmt.Errorf("schedule %s already completed", sc.ID)
	}
	sc.Status = status
	if status == "active" {
		sc.NextRunAt = schedule.Next(sc.Schedule, now)
		if sc.NextRunAt == nil {
			return fmt.Errorf("schedule %s never fires again", sc.ID)
		}
	}
	if err := db.SaveSchedule(sc); err != nil {
		return err
	}
	fmt.Fprintf(out, "Schedule %s %s.\n", sc.ID, status)
	return nil
}

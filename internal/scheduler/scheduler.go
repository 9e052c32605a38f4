// Package scheduler kicks off crews on stored schedules.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/coordinator"
	"github.com/mtzanidakis/crew/internal/natsbus"
	"github.com/mtzanidakis/crew/internal/schedule"
	"github.com/mtzanidakis/crew/internal/store"
)

// Runner executes a crew run to completion.
type Runner interface {
	Run(ctx context.Context, req coordinator.RunRequest) (coordinator.Run, error)
}

type Scheduler struct {
	store    *store.Store
	runner   Runner
	client   *natsbus.Client
	reloadCh chan struct{}
	now      func() time.Time

	mu           sync.Mutex
	pollInterval time.Duration
}

func New(s *store.Store, runner Runner, client *natsbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       runner,
		client:       client,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
		now:          time.Now,
	}
}

// UpdateConfig changes the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig) {
	s.mu.Lock()
	s.pollInterval = cfg.PollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		return 30 * time.Second
	}
	return s.pollInterval
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	now := s.now()
	if n, err := s.store.PruneCache(now); err != nil {
		slog.Warn("failed to prune page cache", "error", err)
	} else if n > 0 {
		slog.Debug("pruned page cache", "entries", n)
	}

	due, err := s.store.GetDueSchedules(now)
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}
	for _, sc := range due {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, sc)
	}
}

func (s *Scheduler) execute(ctx context.Context, sc store.Schedule) {
	slog.Info("executing scheduled crew", "id", sc.ID, "name", sc.Name, "crew", sc.Crew)

	run, err := s.runner.Run(ctx, coordinator.RunRequest{
		Crew:   sc.Crew,
		Mode:   sc.Mode,
		Params: sc.Params,
		Source: "scheduler",
		Export: true,
	})

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled crew failed", "id", sc.ID, "error", err)
	} else {
		lastStatus = "success"
	}

	next := schedule.Next(sc.Schedule, s.now())
	if err := s.store.UpdateScheduleRun(sc.ID, lastStatus, lastError, next); err != nil {
		slog.Error("failed to update schedule run", "id", sc.ID, "error", err)
	}
	if next == nil {
		slog.Info("no next run, schedule completed", "id", sc.ID, "name", sc.Name)
	}

	s.publishExecuted(sc, run.ID, lastStatus)
}

func (s *Scheduler) publishExecuted(sc store.Schedule, runID, status string) {
	if s.client == nil {
		return
	}
	_ = s.client.PublishNotice(natsbus.TopicEventsSchedule, "schedule_executed", map[string]any{
		"id":     sc.ID,
		"name":   sc.Name,
		"crew":   sc.Crew,
		"run_id": runID,
		"status": status,
	})
}

// Prepare normalizes a new schedule's rule, assigns an ID when missing and
// computes its first run.
func Prepare(sc *store.Schedule, now time.Time) error {
	if sc.Crew == "" || sc.Name == "" {
		return errors.New("crew and name are required")
	}
	normalized, err := schedule.Normalize(sc.Schedule)
	if err != nil {
		return err
	}
	sc.Schedule = normalized
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	sc.NextRunAt = schedule.Next(normalized, now)
	if sc.NextRunAt == nil {
		return errors.New("schedule never fires")
	}
	return nil
}

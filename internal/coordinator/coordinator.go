// Package coordinator runs crews by name on behalf of the service front
// ends: the CLI, the web API, Telegram, the scheduler and NATS clients.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mtzanidakis/crew/internal/crew"
	"github.com/mtzanidakis/crew/internal/export"
	"github.com/mtzanidakis/crew/internal/natsbus"
	"github.com/mtzanidakis/crew/internal/registry"
	"github.com/mtzanidakis/crew/internal/retry"
)

var ErrUnknownCrew = errors.New("unknown crew")

// finishedRetention is how long finished runs stay listed.
const finishedRetention = 24 * time.Hour

// RunRequest asks for one crew run.
type RunRequest struct {
	Crew   string            `json:"crew"`
	Mode   string            `json:"mode,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Source string            `json:"source,omitempty"`
	Export bool              `json:"export,omitempty"`
}

// Notifier is told about every finished run.
type Notifier func(Run)

type Coordinator struct {
	registry *registry.Registry
	exporter *export.Exporter
	client   *natsbus.Client
	tracker  *Tracker
	sem      *semaphore.Weighted
	logger   *slog.Logger

	mu        sync.RWMutex
	providers *registry.Providers
	policy    retry.Policy
	listeners []crew.Listener
	notifiers []Notifier
}

type Option func(*Coordinator)

func WithExporter(e *export.Exporter) Option {
	return func(c *Coordinator) { c.exporter = e }
}

// WithBus publishes lifecycle events to NATS.
func WithBus(client *natsbus.Client) Option {
	return func(c *Coordinator) { c.client = client }
}

func WithRetry(p retry.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithListener adds a listener to every crew the coordinator runs.
func WithListener(l crew.Listener) Option {
	return func(c *Coordinator) { c.listeners = append(c.listeners, l) }
}

// WithMaxConcurrent bounds the number of crews running at once.
func WithMaxConcurrent(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func New(reg *registry.Registry, providers *registry.Providers, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:  reg,
		providers: providers,
		tracker:   NewTracker(),
		policy:    retry.DefaultPolicy,
		sem:       semaphore.NewWeighted(4),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnFinished registers a notifier for finished runs.
func (c *Coordinator) OnFinished(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiers = append(c.notifiers, n)
}

// UpdateProviders swaps the providers used by runs started from now on.
func (c *Coordinator) UpdateProviders(p *registry.Providers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = p
}

// UpdateRetry swaps the retry policy used by runs started from now on.
func (c *Coordinator) UpdateRetry(p retry.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

func (c *Coordinator) Registry() *registry.Registry {
	return c.registry
}

// Runs lists tracked runs, newest first.
func (c *Coordinator) Runs() []Run {
	return c.tracker.List()
}

func (c *Coordinator) Get(id string) (Run, bool) {
	return c.tracker.Get(id)
}

// Run executes the request and waits for it. The returned run carries the
// outcome; err is set when the run could not start or failed.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) (Run, error) {
	cr, run, err := c.prepare(req)
	if err != nil {
		return Run{}, err
	}
	return c.execute(ctx, cr, run, req)
}

// Start validates the request and runs it in the background. The returned
// snapshot has status running.
func (c *Coordinator) Start(ctx context.Context, req RunRequest) (Run, error) {
	cr, run, err := c.prepare(req)
	if err != nil {
		return Run{}, err
	}
	snapshot, _ := c.tracker.Get(run.ID)
	go func() {
		_, _ = c.execute(context.WithoutCancel(ctx), cr, run, req)
	}()
	return snapshot, nil
}

// prepare resolves the crew definition and builds a fresh crew for the run.
func (c *Coordinator) prepare(req RunRequest) (*crew.Crew, *Run, error) {
	def, ok := c.registry.Get(req.Crew)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownCrew, req.Crew)
	}
	if req.Mode != "" && req.Mode != def.Mode {
		override := *def
		override.Mode = req.Mode
		if err := override.Validate(); err != nil {
			return nil, nil, err
		}
		def = &override
	}
	if err := def.CheckParams(req.Params); err != nil {
		return nil, nil, err
	}

	c.mu.RLock()
	providers := c.providers
	policy := c.policy
	listeners := append([]crew.Listener(nil), c.listeners...)
	c.mu.RUnlock()

	id := uuid.New().String()
	opts := []crew.Option{
		crew.WithRunID(id),
		crew.WithLogger(c.logger),
		crew.WithRetry(retry.New(policy)),
		crew.WithListener(trackerListener{tracker: c.tracker}),
	}
	if c.client != nil {
		opts = append(opts, crew.WithListener(busListener{client: c.client}))
	}
	for _, l := range listeners {
		opts = append(opts, crew.WithListener(l))
	}

	cr, err := registry.Build(def, providers, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build crew %s: %w", def.Name, err)
	}

	total := len(def.Tasks)
	if cr.Mode() == crew.Hierarchical {
		total++
	}
	run := &Run{
		ID:         id,
		Crew:       def.Name,
		Mode:       string(cr.Mode()),
		Source:     req.Source,
		Params:     req.Params,
		Status:     StatusRunning,
		TasksTotal: total,
		StartedAt:  time.Now(),
	}
	c.tracker.Prune(finishedRetention)
	c.tracker.Add(run)
	return cr, run, nil
}

func (c *Coordinator) execute(ctx context.Context, cr *crew.Crew, run *Run, req RunRequest) (Run, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.finish(run.ID, nil, err, "")
		return c.snapshot(run.ID), err
	}
	res, err := cr.Kickoff(ctx, req.Params)
	c.sem.Release(1)

	var artifact string
	if err == nil && req.Export && c.exporter != nil {
		artifact, err = c.exporter.Export(res, req.Params["url"])
		if err != nil {
			err = fmt.Errorf("export: %w", err)
		}
	}
	c.finish(run.ID, res, err, artifact)

	out := c.snapshot(run.ID)
	c.mu.RLock()
	notifiers := append([]Notifier(nil), c.notifiers...)
	c.mu.RUnlock()
	for _, n := range notifiers {
		n(out)
	}
	return out, err
}

func (c *Coordinator) finish(id string, res *crew.Result, err error, artifact string) {
	now := time.Now()
	c.tracker.Update(id, func(r *Run) {
		r.FinishedAt = &now
		r.Artifact = artifact
		if res != nil {
			r.Output = res.Output
		}
		if err != nil {
			r.Status = StatusFailed
			r.Error = err.Error()
			var ae *crew.AbortError
			if errors.As(err, &ae) {
				r.FailedTask = ae.Task
			}
			return
		}
		r.Status = StatusCompleted
	})
}

func (c *Coordinator) snapshot(id string) Run {
	r, _ := c.tracker.Get(id)
	return r
}

package coordinator

import (
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is the service-level view of one crew run.
type Run struct {
	ID         string            `json:"id"`
	Crew       string            `json:"crew"`
	Mode       string            `json:"mode"`
	Source     string            `json:"source,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Status     Status            `json:"status"`
	Stage      int               `json:"stage"`
	TasksDone  int               `json:"tasks_done"`
	TasksTotal int               `json:"tasks_total"`
	Output     string            `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	FailedTask string            `json:"failed_task,omitempty"`
	Artifact   string            `json:"artifact,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Tracker keeps the runs of this process in memory. Nothing survives a
// restart.
type Tracker struct {
	runs map[string]*Run
	mu   sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{
		runs: make(map[string]*Run),
	}
}

func (t *Tracker) Add(r *Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[r.ID] = r
}

// Get returns a copy of the run.
func (t *Tracker) Get(id string) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[id]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

// Update applies fn to the run under the tracker lock.
func (t *Tracker) Update(id string, fn func(*Run)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.runs[id]; ok {
		fn(r)
	}
}

// List returns copies of all runs, newest first.
func (t *Tracker) List() []Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Run, 0, len(t.runs))
	for _, r := range t.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Prune forgets finished runs older than maxAge and returns how many were
// dropped.
func (t *Tracker) Prune(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	cutoff := time.Now().Add(-maxAge)
	for id, r := range t.runs {
		if r.FinishedAt != nil && r.FinishedAt.Before(cutoff) {
			delete(t.runs, id)
			n++
		}
	}
	return n
}

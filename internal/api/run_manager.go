package api

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMaxConcurrency indicates the run limit has been reached.
var ErrMaxConcurrency = errors.New("maximum concurrent runs reached")

const maxRetainedRuns = 100

// RunManager tracks batch runs and bounds how many execute at once.
type RunManager struct {
	mu     sync.Mutex
	max    int
	active int
	runs   map[string]*RunSummary
	order  []string // newest last
}

// NewRunManager creates a manager allowing up to max concurrent runs.
func NewRunManager(max int) *RunManager {
	if max <= 0 {
		max = 1
	}
	return &RunManager{
		max:  max,
		runs: make(map[string]*RunSummary),
	}
}

// Begin registers a new run, enforcing the concurrency cap.
func (m *RunManager) Begin(requested int) (RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active >= m.max {
		return RunSummary{}, ErrMaxConcurrency
	}
	m.active++

	run := &RunSummary{
		ID:        uuid.NewString(),
		Status:    "running",
		Requested: requested,
		StartedAt: time.Now().UTC(),
	}
	m.runs[run.ID] = run
	m.order = append(m.order, run.ID)
	m.evictLocked()
	return *run, nil
}

// Finish records the outcome of a run and releases its slot.
func (m *RunManager) Finish(id string, checked, changed int, truncated bool, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active--
	run, ok := m.runs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	run.Checked = checked
	run.Changed = changed
	run.Truncated = truncated
	run.FinishedAt = &now
	if runErr != nil {
		run.Status = "failed"
		run.Error = runErr.Error()
	} else {
		run.Status = "done"
	}
}

// Get returns a snapshot of one run.
func (m *RunManager) Get(id string) (RunSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return RunSummary{}, false
	}
	return *run, true
}

// List returns snapshots of retained runs, newest first.
func (m *RunManager) List() []RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunSummary, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if run, ok := m.runs[m.order[i]]; ok {
			out = append(out, *run)
		}
	}
	return out
}

func (m *RunManager) evictLocked() {
	for len(m.order) > maxRetainedRuns {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.runs, oldest)
	}
}

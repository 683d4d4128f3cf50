package api

import (
	"time"

	"github.com/vHozang/CheckLink/pkg/types"
)

// CheckRequest captures the payload used to launch a batch run.
type CheckRequest struct {
	// URLs lists targets directly; Text is a newline-separated
	// alternative. Both may be supplied; they are concatenated.
	URLs []string `json:"urls,omitempty"`
	Text string   `json:"text,omitempty"`

	// TimeoutSeconds overrides the per-request timeout; values are
	// clamped to [1, 60] and bad values fall back to the configured
	// default.
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`

	// Workers overrides worker sizing when positive.
	Workers int `json:"workers,omitempty"`

	// DelaySeconds overrides the per-link delay. A value greater than
	// zero forces serial execution.
	DelaySeconds *float64 `json:"delay_seconds,omitempty"`

	// IntervalSeconds overrides the cooldown enforced between runs,
	// clamped to [1, 20].
	IntervalSeconds float64 `json:"interval_seconds,omitempty"`
}

// RunSummary describes one batch run.
type RunSummary struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"` // running | done | failed
	Requested  int        `json:"requested"`
	Checked    int        `json:"checked"`
	Changed    int        `json:"changed"`
	Truncated  bool       `json:"truncated,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// CheckResponse is returned from a completed run.
type CheckResponse struct {
	Run     RunSummary          `json:"run"`
	Results []types.ProbeResult `json:"results"`
}

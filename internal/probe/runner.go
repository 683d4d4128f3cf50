package probe

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vHozang/CheckLink/pkg/types"
)

// Environment overrides, kept for parity with existing deployments.
const (
	envWorkers    = "CHECKLINK_WORKERS"
	envWorkersAlt = "CHECKLINK_MAX_WORKERS"
	envDelay      = "CHECKLINK_PER_LINK_DELAY"
)

const defaultPerLinkDelay = 10 * time.Second

// Options configures a batch run. The value is immutable for the batch's
// duration; there is no process-wide mutable state.
type Options struct {
	Client ClientConfig

	// Workers overrides worker sizing when positive. Zero falls back to
	// CHECKLINK_WORKERS / CHECKLINK_MAX_WORKERS, then to a computed
	// default clamped to [4, 32] proportional to CPU parallelism.
	Workers int

	// PerLinkDelay is the wait between successive probes. nil resolves
	// from CHECKLINK_PER_LINK_DELAY (default 10s). Any delay greater than
	// zero forces serial execution; the environment variable, when set,
	// wins over an explicit value.
	PerLinkDelay *time.Duration

	// RateLimit optionally throttles the parallel pool globally.
	RateLimit RateLimit

	MaxBodyBytes int64
	Rules        *RuleSet
	Logger       *slog.Logger
}

// Runner executes probe batches against a fixed configuration.
type Runner struct {
	opts    Options
	rules   RuleSet
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRunner builds a batch runner from options.
func NewRunner(opts Options) *Runner {
	rules := DefaultRules()
	if opts.Rules != nil {
		rules = *opts.Rules
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		opts:    opts,
		rules:   rules,
		limiter: opts.RateLimit.newLimiter(),
		logger:  logger,
	}
}

// CheckLinks probes every URL and returns one result per input, in input
// order, regardless of execution mode or completion order. No failure
// escapes to the caller; every probe outcome is a classification.
func (r *Runner) CheckLinks(ctx context.Context, urls []string) []types.ProbeResult {
	if len(urls) == 0 {
		return nil
	}

	delay := r.resolveDelay()
	workers := r.resolveWorkers(len(urls), delay)

	r.logger.Info("starting batch",
		"urls", len(urls),
		"workers", workers,
		"per_link_delay", delay.String(),
		"use_proxy", r.opts.Client.UseProxy,
	)

	if workers == 1 {
		return r.runSerial(ctx, urls, delay)
	}
	return r.runParallel(ctx, urls, workers)
}

// runSerial probes one URL at a time in input order against a single client,
// sleeping the per-link delay between probes but never after the last one.
func (r *Runner) runSerial(ctx context.Context, urls []string, delay time.Duration) []types.ProbeResult {
	results := make([]types.ProbeResult, len(urls))
	var cache clientCache
	for i, u := range urls {
		results[i] = r.probeOne(ctx, &cache, u)
		if delay > 0 && i < len(urls)-1 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
	return results
}

// runParallel dispatches each URL as an independent task carrying its
// original index. Workers own their client exclusively, and results are
// written into a pre-sized slice by index, so completion order never affects
// output order.
func (r *Runner) runParallel(ctx context.Context, urls []string, workers int) []types.ProbeResult {
	results := make([]types.ProbeResult, len(urls))
	jobs := make(chan int, len(urls))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var cache clientCache
			for i := range jobs {
				results[i] = r.probeOne(ctx, &cache, urls[i])
			}
		}()
	}

	for i := range urls {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

func (r *Runner) probeOne(ctx context.Context, cache *clientCache, rawURL string) types.ProbeResult {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return types.ProbeResult{
				InputURL:       rawURL,
				NormalizedURL:  Normalize(rawURL),
				Classification: types.ClassUnreachable,
				Error:          err.Error(),
			}
		}
	}

	client, err := cache.get(r.opts.Client)
	if err != nil {
		return types.ProbeResult{
			InputURL:       rawURL,
			NormalizedURL:  Normalize(rawURL),
			Classification: types.ClassProxyFail,
			Error:          err.Error(),
		}
	}

	result := checkLink(ctx, client, r.rules, r.opts.MaxBodyBytes, rawURL)
	if result.Error != "" {
		r.logger.Debug("probe failed",
			"url", result.NormalizedURL,
			"classification", string(result.Classification),
			"error", result.Error,
		)
	}
	return result
}

func (r *Runner) resolveWorkers(batchSize int, delay time.Duration) int {
	workers := r.opts.Workers
	if workers <= 0 {
		workers = workersFromEnv()
	}
	if workers <= 0 {
		cpus := runtime.NumCPU()
		if cpus <= 0 {
			cpus = 4
		}
		workers = min(32, max(4, cpus*5))
	}
	workers = max(1, min(workers, batchSize))
	if delay > 0 {
		workers = 1
	}
	return workers
}

func (r *Runner) resolveDelay() time.Duration {
	if raw := os.Getenv(envDelay); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			return time.Duration(max(0.0, secs) * float64(time.Second))
		}
		// Unparsable values fall back to the default, never abort.
		return defaultPerLinkDelay
	}
	if r.opts.PerLinkDelay != nil {
		return max(0, *r.opts.PerLinkDelay)
	}
	return defaultPerLinkDelay
}

func workersFromEnv() int {
	for _, key := range []string{envWorkers, envWorkersAlt} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		return n
	}
	return 0
}

package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// backoffBase is the first rate-limit backoff interval.
	backoffBase = 30 * time.Second
	// backoffMax caps the exponential backoff.
	backoffMax = 300 * time.Second
)

// EngineRunner is the execution seam the fallback controller drives.
// *Runner satisfies it; tests substitute fakes.
type EngineRunner interface {
	Run(ctx context.Context, prompt, cwd string, timeout time.Duration, task TaskContext) *Result
	Variant() Variant
}

var _ EngineRunner = (*Runner)(nil)

// backoffState tracks one engine's rate-limit penalty.
type backoffState struct {
	until    time.Time
	attempts int
}

// FallbackController runs a prompt through an ordered engine chain. The
// primary engine is tried first; a rate-limited engine is put into
// exponential backoff and the next chain member takes over. Backoff state
// is shared across all runs managed by the controller, so concurrent slots
// collectively avoid a limited engine.
type FallbackController struct {
	chain   []Variant
	runners map[Variant]EngineRunner

	mu      sync.Mutex
	backoff map[Variant]*backoffState

	base time.Duration
	max  time.Duration
	now  func() time.Time
}

// NewFallbackController builds a controller over the given chain order.
// Each variant must be valid; runners are constructed from their specs.
func NewFallbackController(chain []Variant) (*FallbackController, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("engine chain is empty")
	}
	runners := make(map[Variant]EngineRunner, len(chain))
	for _, v := range chain {
		spec, err := SpecFor(v)
		if err != nil {
			return nil, err
		}
		runners[v] = NewRunner(spec)
	}
	return &FallbackController{
		chain:   chain,
		runners: runners,
		backoff: make(map[Variant]*backoffState),
		base:    backoffBase,
		max:     backoffMax,
		now:     time.Now,
	}, nil
}

// Chain returns the configured engine order.
func (f *FallbackController) Chain() []Variant { return f.chain }

// Run tries each chain member in order, skipping engines still in backoff.
// A rate-limited engine is penalized before the chain advances; other
// failures (crash, timeout) advance the chain too while members remain, and
// the final engine's result is returned as-is. If every engine is backed
// off or rate limited, a terminal rate_limit result referencing the primary
// is returned.
func (f *FallbackController) Run(ctx context.Context, prompt, cwd string, timeout time.Duration, task TaskContext) *Result {
	var last *Result
	for _, v := range f.chain {
		if wait := f.backoffRemaining(v); wait > 0 {
			log.Printf("[fallback] task #%d: %s backed off for %s, skipping",
				task.TaskNumber, v, wait.Round(time.Second))
			continue
		}

		result := f.runners[v].Run(ctx, prompt, cwd, timeout, task)
		last = result

		if result.Success {
			f.clear(v)
			return result
		}
		if ctx.Err() != nil {
			// Canceled mid-run; spawning the next engine would only create
			// another process to kill.
			return result
		}
		if result.ErrorKind == ErrorRateLimit {
			penalty := f.penalize(v)
			log.Printf("[fallback] task #%d: %s rate limited, backing off %s",
				task.TaskNumber, v, penalty.Round(time.Second))
			continue
		}
		log.Printf("[fallback] task #%d: %s failed (%s)", task.TaskNumber, v, result.ErrorKind)
	}

	if last != nil && last.ErrorKind != ErrorRateLimit {
		return last
	}
	return &Result{
		Engine:    f.chain[0],
		ExitCode:  -1,
		ErrorKind: ErrorRateLimit,
		Detail:    "all engines rate limited or in backoff",
	}
}

// backoffRemaining returns how long the variant is still penalized, or 0.
func (f *FallbackController) backoffRemaining(v Variant) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.backoff[v]
	if !ok {
		return 0
	}
	remaining := state.until.Sub(f.now())
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// penalize records a rate-limit hit and returns the new backoff interval:
// base doubled per consecutive hit, capped at max.
func (f *FallbackController) penalize(v Variant) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.backoff[v]
	if !ok {
		state = &backoffState{}
		f.backoff[v] = state
	}
	state.attempts++

	interval := f.base << uint(state.attempts-1)
	if interval > f.max || interval <= 0 {
		interval = f.max
	}
	state.until = f.now().Add(interval)
	return interval
}

// clear resets the variant's backoff after a successful run.
func (f *FallbackController) clear(v Variant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.backoff, v)
}

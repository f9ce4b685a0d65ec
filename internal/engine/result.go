// Package engine runs external coding-agent processes and classifies their
// outcomes. A Runner never returns a Go error from an engine invocation:
// every spawn or runtime failure is folded into a Result so the scheduler
// can treat all outcomes uniformly.
package engine

import "time"

// ErrorKind classifies why an engine run did not produce usable work.
type ErrorKind string

const (
	// ErrorNone indicates a clean, successful run.
	ErrorNone ErrorKind = "none"
	// ErrorTimeout indicates the run exceeded its wall-clock budget.
	ErrorTimeout ErrorKind = "timeout"
	// ErrorRateLimit indicates the engine reported a rate limit.
	ErrorRateLimit ErrorKind = "rate_limit"
	// ErrorCrash indicates a nonzero exit or a spawn failure.
	ErrorCrash ErrorKind = "crash"
	// ErrorStuck indicates a successful exit with no detectable code change.
	ErrorStuck ErrorKind = "stuck"
	// ErrorNoCodeChanges indicates the downstream diff check found no work.
	ErrorNoCodeChanges ErrorKind = "no_code_changes"
)

// Result is the outcome of one engine invocation. Immutable once produced.
type Result struct {
	// Success is true when the process exited zero without a rate-limit
	// signature. A Result can be Success and still carry ErrorStuck.
	Success bool
	// Output is the captured stdout, truncated at the capture ceiling.
	Output string
	// Stderr is the captured stderr, truncated at the capture ceiling.
	Stderr string
	// ToolsUsed is the set of tool names the engine invoked.
	ToolsUsed []string
	// FilesChanged is the set of file paths the engine reported touching.
	FilesChanged []string
	// Duration is the wall-clock time of the run.
	Duration time.Duration
	// Engine identifies which variant produced this result.
	Engine Variant
	// ErrorKind classifies the failure, or ErrorNone.
	ErrorKind ErrorKind
	// ExitCode is the raw process exit code (-1 if the process never ran).
	ExitCode int
	// Detail carries a human-readable failure description.
	Detail string
}

// Failed returns true if the result should count as a slot failure.
func (r *Result) Failed() bool {
	return !r.Success || r.ErrorKind != ErrorNone
}

// UsedTool returns true if the named tool appears in ToolsUsed.
func (r *Result) UsedTool(name string) bool {
	for _, t := range r.ToolsUsed {
		if t == name {
			return true
		}
	}
	return false
}

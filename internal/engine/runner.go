package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// maxCaptureBytes caps how much of each output stream is retained.
	// Streams keep being drained past the cap so the child never blocks on
	// a full pipe.
	maxCaptureBytes = 50 * 1024 * 1024
	// defaultGracePeriod is how long a timed-out process gets between
	// SIGTERM and SIGKILL.
	defaultGracePeriod = 5 * time.Second
)

// rateLimitSignatures are substrings that mark engine output as a
// rate-limit failure. Matched case-insensitively against stderr.
var rateLimitSignatures = []string{
	"rate limit",
	"rate_limit",
	"429",
	"overloaded_error",
	"usage limit",
}

// TaskContext carries task identity into a run for logging.
type TaskContext struct {
	TaskNumber int
	Domain     string
}

// Runner executes one engine variant as a subprocess.
type Runner struct {
	spec        *Spec
	gracePeriod time.Duration
	debugLog    func(format string, args ...interface{})
}

// NewRunner creates a Runner for the given variant spec.
func NewRunner(spec *Spec) *Runner {
	return &Runner{
		spec:        spec,
		gracePeriod: defaultGracePeriod,
		debugLog:    func(format string, args ...interface{}) {},
	}
}

// SetDebugLog installs a debug logging function.
func (r *Runner) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.debugLog = fn
	}
}

// Variant returns the variant this runner executes.
func (r *Runner) Variant() Variant { return r.spec.Variant }

// Run executes the engine against the prompt in the given working directory.
// It never returns a Go error: spawn failures, timeouts, crashes, and
// rate limits are all folded into the Result's ErrorKind.
func (r *Runner) Run(ctx context.Context, prompt, cwd string, timeout time.Duration, task TaskContext) *Result {
	start := time.Now()
	result := &Result{Engine: r.spec.Variant, ExitCode: -1}

	fail := func(kind ErrorKind, detail string) *Result {
		result.ErrorKind = kind
		result.Detail = detail
		result.Duration = time.Since(start)
		return result
	}

	var promptFile string
	if r.spec.Input == InputPromptFile {
		f, err := os.CreateTemp("", "herd-prompt-*.md")
		if err != nil {
			return fail(ErrorCrash, fmt.Sprintf("create prompt file: %v", err))
		}
		if _, err := f.WriteString(prompt); err != nil {
			f.Close()
			os.Remove(f.Name())
			return fail(ErrorCrash, fmt.Sprintf("write prompt file: %v", err))
		}
		f.Close()
		promptFile = f.Name()
		defer os.Remove(promptFile)
	}

	cmd := exec.Command(r.spec.Binary, r.spec.Args(promptFile)...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), r.spec.Env...)
	// Engines spawn their own subprocesses; a dedicated process group lets
	// terminate() reach all of them, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if r.spec.Input == InputStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(ErrorCrash, fmt.Sprintf("stdout pipe: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(ErrorCrash, fmt.Sprintf("stderr pipe: %v", err))
	}

	log.Printf("[engine] task #%d: starting %s in %s (timeout %s)",
		task.TaskNumber, r.spec.Variant, cwd, timeout)

	if err := cmd.Start(); err != nil {
		return fail(ErrorCrash, fmt.Sprintf("start %s: %v", r.spec.Binary, err))
	}

	outBuf := newCappedBuffer(maxCaptureBytes)
	errBuf := newCappedBuffer(maxCaptureBytes)
	parser := NewStreamParser()

	var drain sync.WaitGroup
	drain.Add(2)
	go func() {
		defer drain.Done()
		buf := make([]byte, 32*1024)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				outBuf.Write(buf[:n])
				if r.spec.Parser == ParserStreamJSON {
					parser.Feed(buf[:n])
				}
			}
			if readErr != nil {
				return
			}
		}
	}()
	go func() {
		defer drain.Done()
		buf := make([]byte, 32*1024)
		for {
			n, readErr := stderr.Read(buf)
			if n > 0 {
				errBuf.Write(buf[:n])
			}
			if readErr != nil {
				return
			}
		}
	}()

	waitCh := make(chan error, 1)
	go func() {
		drain.Wait()
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	canceled := false
	reaped := true

	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		timedOut = true
		waitErr, reaped = r.terminate(cmd, waitCh, task.TaskNumber)
	case <-ctx.Done():
		canceled = true
		waitErr, reaped = r.terminate(cmd, waitCh, task.TaskNumber)
	}

	result.Duration = time.Since(start)
	result.Output = outBuf.String()
	result.Stderr = errBuf.String()
	if reaped && cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch r.spec.Parser {
	case ParserStreamJSON:
		parser.Finish()
		result.ToolsUsed = parser.Tools()
		result.FilesChanged = parser.Files()
	case ParserSingleJSON:
		result.ToolsUsed, result.FilesChanged = ParseSingleDocument([]byte(result.Output))
	}

	switch {
	case timedOut:
		result.ErrorKind = ErrorTimeout
		result.Detail = fmt.Sprintf("exceeded %s budget", timeout)
	case canceled:
		result.ErrorKind = ErrorCrash
		result.Detail = "canceled"
	case waitErr != nil || result.ExitCode != 0:
		if hasRateLimitSignature(result.Stderr) {
			result.ErrorKind = ErrorRateLimit
			result.Detail = "rate limit reported"
		} else {
			result.ErrorKind = ErrorCrash
			result.Detail = fmt.Sprintf("exit code %d", result.ExitCode)
		}
	case hasRateLimitSignature(result.Stderr):
		// Some engines exit zero after hitting a limit mid-run.
		result.ErrorKind = ErrorRateLimit
		result.Detail = "rate limit reported"
	default:
		result.Success = true
		result.ErrorKind = ErrorNone
		if isStuck(result) {
			// Exit was clean but nothing was written and no shell ran.
			// The run counts as stuck; Success stays true so the caller
			// can distinguish this from a crash.
			result.ErrorKind = ErrorStuck
			result.Detail = "no tool wrote files and no shell command ran"
		}
	}

	r.debugLog("[engine] task #%d: %s finished in %s (exit %d, kind %s)",
		task.TaskNumber, r.spec.Variant, result.Duration.Round(time.Millisecond),
		result.ExitCode, result.ErrorKind)
	return result
}

// terminate signals the engine's process group to exit, escalating to
// SIGKILL after the grace period. It returns the wait error and whether the
// process was actually reaped. A descendant that survives in its own group
// can hold the inherited output pipes open past the kill; in that case the
// drain is abandoned rather than holding the slot forever.
func (r *Runner) terminate(cmd *exec.Cmd, waitCh <-chan error, taskNumber int) (error, bool) {
	if cmd.Process == nil {
		return <-waitCh, true
	}
	pid := cmd.Process.Pid
	log.Printf("[engine] task #%d: sending SIGTERM to process group %d", taskNumber, pid)
	signalGroup(pid, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err, true
	case <-time.After(r.gracePeriod):
	}

	log.Printf("[engine] task #%d: grace period expired, sending SIGKILL", taskNumber)
	signalGroup(pid, syscall.SIGKILL)

	select {
	case err := <-waitCh:
		return err, true
	case <-time.After(r.gracePeriod):
		log.Printf("[engine] task #%d: output pipes still open after SIGKILL, abandoning drain", taskNumber)
		go func() { <-waitCh }()
		return fmt.Errorf("killed, but output pipes were held open"), false
	}
}

// signalGroup signals the whole process group, falling back to the single
// process when the group is already gone.
func signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = syscall.Kill(pid, sig)
	}
}

// isStuck reports whether a successful run produced no detectable code
// change. Shell use defeats the check: the command may have written files
// the tool log cannot see, so the caller's diff check decides instead.
func isStuck(result *Result) bool {
	if len(result.FilesChanged) > 0 {
		return false
	}
	for _, tool := range result.ToolsUsed {
		if codeMutatingTools[tool] || shellTools[tool] {
			return false
		}
	}
	return true
}

// UsedShellTool reports whether the run invoked a shell-class tool. Such
// runs need a working-tree diff to confirm whether code actually changed.
func UsedShellTool(result *Result) bool {
	for _, tool := range result.ToolsUsed {
		if shellTools[tool] {
			return true
		}
	}
	return false
}

func hasRateLimitSignature(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, sig := range rateLimitSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// cappedBuffer stores up to limit bytes and silently discards the rest.
// Write always reports the full length so upstream io plumbing keeps
// draining.
type cappedBuffer struct {
	mu    sync.Mutex
	data  []byte
	limit int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := b.limit - len(b.data); remaining > 0 {
		if len(p) > remaining {
			b.data = append(b.data, p[:remaining]...)
		} else {
			b.data = append(b.data, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

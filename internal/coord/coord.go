// Package coord provides cross-process coordination through the filesystem.
// Two record kinds live under the coordination directory: instance locks
// (one per running scheduler process, named by pid) and issue claims (one
// per task number). Both are JSON files and both are crash-recoverable:
// records whose holder pid is no longer alive are treated as stale and
// removed by whoever observes them.
package coord

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// Claim is an exclusive reservation of a task number by one process.
type Claim struct {
	// HolderPID is the pid of the process that owns the claim.
	HolderPID int `json:"holder_pid"`
	// ClaimedAt is when the claim was created.
	ClaimedAt time.Time `json:"claimed_at"`
	// TaskNumber is filled in by ListClaims from the file name.
	TaskNumber int `json:"-"`
}

// InstanceLock identifies one running scheduler process.
type InstanceLock struct {
	PID       int       `json:"pid"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
	Hostname  string    `json:"hostname"`
}

// Coordinator manages claims and instance locks under a base directory.
type Coordinator struct {
	claimsDir string
	locksDir  string
	pid       int
	// alive reports whether a pid refers to a running process. Injectable
	// for tests.
	alive func(pid int) bool
}

// New creates a Coordinator rooted at baseDir, creating the claims and
// locks subdirectories if needed.
func New(baseDir string) (*Coordinator, error) {
	c := &Coordinator{
		claimsDir: filepath.Join(baseDir, "claims"),
		locksDir:  filepath.Join(baseDir, "locks"),
		pid:       os.Getpid(),
		alive:     pidAlive,
	}
	for _, dir := range []string{c.claimsDir, c.locksDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create coordination directory: %w", err)
		}
	}
	return c, nil
}

// ClaimsDir returns the directory holding claim files.
func (c *Coordinator) ClaimsDir() string { return c.claimsDir }

// LocksDir returns the directory holding instance lock files.
func (c *Coordinator) LocksDir() string { return c.locksDir }

func (c *Coordinator) claimPath(taskNumber int) string {
	return filepath.Join(c.claimsDir, strconv.Itoa(taskNumber)+".json")
}

func (c *Coordinator) lockPath(pid int) string {
	return filepath.Join(c.locksDir, strconv.Itoa(pid)+".json")
}

// AcquireClaim attempts to claim the given task number. It returns true if
// the claim was acquired, false if another live process holds it. The only
// contention signal is the outcome of the atomic exclusive create: if the
// file exists and its holder is dead, the stale claim is removed and the
// create is retried exactly once. Losing that second race is a normal
// denial, not an error.
func (c *Coordinator) AcquireClaim(taskNumber int) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		created, err := c.tryCreateClaim(taskNumber)
		if err != nil {
			return false, err
		}
		if created {
			return true, nil
		}

		holder, err := c.readClaimHolder(taskNumber)
		if err != nil {
			// Unreadable claim files are self-healing: remove and retry.
			if rmErr := os.Remove(c.claimPath(taskNumber)); rmErr != nil && !os.IsNotExist(rmErr) {
				return false, fmt.Errorf("remove corrupt claim: %w", rmErr)
			}
			continue
		}
		if c.alive(holder) {
			return false, nil
		}
		if err := os.Remove(c.claimPath(taskNumber)); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("remove stale claim: %w", err)
		}
	}
	return false, nil
}

// tryCreateClaim performs the atomic exclusive create of the claim file.
func (c *Coordinator) tryCreateClaim(taskNumber int) (bool, error) {
	f, err := os.OpenFile(c.claimPath(taskNumber), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create claim: %w", err)
	}
	defer f.Close()

	claim := Claim{HolderPID: c.pid, ClaimedAt: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(&claim); err != nil {
		os.Remove(c.claimPath(taskNumber))
		return false, fmt.Errorf("write claim: %w", err)
	}
	return true, nil
}

func (c *Coordinator) readClaimHolder(taskNumber int) (int, error) {
	data, err := os.ReadFile(c.claimPath(taskNumber))
	if err != nil {
		return 0, err
	}
	var claim Claim
	if err := json.Unmarshal(data, &claim); err != nil {
		return 0, fmt.Errorf("decode claim: %w", err)
	}
	if claim.HolderPID <= 0 {
		return 0, errors.New("claim missing holder pid")
	}
	return claim.HolderPID, nil
}

// ReleaseClaim removes the claim for a task, but only if this process is the
// recorded holder. Releasing a claim held by someone else is a no-op.
func (c *Coordinator) ReleaseClaim(taskNumber int) error {
	holder, err := c.readClaimHolder(taskNumber)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if holder != c.pid {
		return nil
	}
	if err := os.Remove(c.claimPath(taskNumber)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// ListClaims returns all live claims. Claims held by dead processes and
// unreadable claim files are removed opportunistically.
func (c *Coordinator) ListClaims() ([]Claim, error) {
	entries, err := os.ReadDir(c.claimsDir)
	if err != nil {
		return nil, fmt.Errorf("read claims directory: %w", err)
	}

	var claims []Claim
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		taskNumber, err := strconv.Atoi(trimJSONExt(name))
		if err != nil {
			continue
		}

		data, err := os.ReadFile(filepath.Join(c.claimsDir, name))
		if err != nil {
			continue
		}
		var claim Claim
		if err := json.Unmarshal(data, &claim); err != nil || claim.HolderPID <= 0 {
			_ = os.Remove(filepath.Join(c.claimsDir, name))
			continue
		}
		if !c.alive(claim.HolderPID) {
			_ = os.Remove(filepath.Join(c.claimsDir, name))
			continue
		}
		claim.TaskNumber = taskNumber
		claims = append(claims, claim)
	}
	return claims, nil
}

// AcquireInstanceLock writes this process's instance lock and returns it.
func (c *Coordinator) AcquireInstanceLock(label string) (*InstanceLock, error) {
	hostname, _ := os.Hostname()
	lock := &InstanceLock{
		PID:       c.pid,
		Label:     label,
		StartedAt: time.Now().UTC(),
		Hostname:  hostname,
	}

	data, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("encode instance lock: %w", err)
	}
	if err := os.WriteFile(c.lockPath(c.pid), data, 0644); err != nil {
		return nil, fmt.Errorf("write instance lock: %w", err)
	}
	return lock, nil
}

// ReleaseInstanceLock removes this process's instance lock.
func (c *Coordinator) ReleaseInstanceLock() error {
	if err := os.Remove(c.lockPath(c.pid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release instance lock: %w", err)
	}
	return nil
}

// LiveInstances scans all lock files and returns the ones whose holder is
// alive. Stale and corrupt lock files are removed as they are found.
func (c *Coordinator) LiveInstances() ([]InstanceLock, error) {
	entries, err := os.ReadDir(c.locksDir)
	if err != nil {
		return nil, fmt.Errorf("read locks directory: %w", err)
	}

	var locks []InstanceLock
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(c.locksDir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var lock InstanceLock
		if err := json.Unmarshal(data, &lock); err != nil || lock.PID <= 0 {
			_ = os.Remove(path)
			continue
		}
		if !c.alive(lock.PID) {
			_ = os.Remove(path)
			continue
		}
		locks = append(locks, lock)
	}
	return locks, nil
}

// ConflictingInstance returns a live lock with the same label but a
// different pid, or nil if none exists.
func (c *Coordinator) ConflictingInstance(label string) (*InstanceLock, error) {
	locks, err := c.LiveInstances()
	if err != nil {
		return nil, err
	}
	for i := range locks {
		if locks[i].Label == label && locks[i].PID != c.pid {
			return &locks[i], nil
		}
	}
	return nil, nil
}

func trimJSONExt(name string) string {
	if len(name) > 5 && name[len(name)-5:] == ".json" {
		return name[:len(name)-5]
	}
	return name
}

// pidAlive reports whether the given pid refers to a running process.
// Signal 0 performs the existence check without delivering anything; EPERM
// means the process exists but belongs to another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

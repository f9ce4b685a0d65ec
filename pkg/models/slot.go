package models

// SlotStatus represents the current state of a scheduling slot.
type SlotStatus string

const (
	// SlotPending indicates the slot holds a task but no engine run has started.
	SlotPending SlotStatus = "pending"
	// SlotRunning indicates an engine process is working on the task.
	SlotRunning SlotStatus = "running"
	// SlotMerging indicates the engine succeeded and the branch is being merged.
	SlotMerging SlotStatus = "merging"
	// SlotDone indicates the task completed and merged. Terminal.
	SlotDone SlotStatus = "done"
	// SlotFailed indicates the last attempt failed; the slot may still retry.
	SlotFailed SlotStatus = "failed"
	// SlotBlocked indicates retries are exhausted or manual intervention is
	// required. Terminal.
	SlotBlocked SlotStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s SlotStatus) Valid() bool {
	switch s {
	case SlotPending, SlotRunning, SlotMerging, SlotDone, SlotFailed, SlotBlocked:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from this status.
func (s SlotStatus) Terminal() bool {
	return s == SlotDone || s == SlotBlocked
}

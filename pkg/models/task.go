// Package models contains the shared types used across herd.
package models

// Task represents one unit of backlog work, sourced from a GitHub issue.
type Task struct {
	// Number is the GitHub issue number. It is the task's identity for
	// claims, branches, and the ledger.
	Number int `json:"number"`
	// Title is the issue title.
	Title string `json:"title"`
	// Body is the issue body, passed to the engine as task context.
	Body string `json:"body,omitempty"`
	// Labels are the issue's label names.
	Labels []string `json:"labels,omitempty"`
	// Domain is the classified work area, used for parallel-safety checks.
	Domain Domain `json:"domain,omitempty"`
}

// HasLabel returns true if the task carries the given label.
func (t *Task) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if l == name {
			return true
		}
	}
	return false
}

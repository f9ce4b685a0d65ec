// Package issues is the task-tracker gateway. It talks to GitHub through
// the gh CLI so the scheduler never needs API credentials of its own; gh's
// stored auth is reused.
package issues

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ShayCichocki/herd/pkg/models"
)

// attemptMarker is the prefix herd puts on the comments it posts after a
// failed attempt. DetectRepeatCycle counts these.
const attemptMarker = "herd: attempt"

// repeatCycleThreshold is how many attempt comments mark an issue as
// cycling.
const repeatCycleThreshold = 3

// Gateway fetches and updates GitHub issues via the gh CLI.
type Gateway struct {
	repo string
	// exec runs a command and returns its stdout. Injectable for tests.
	exec func(name string, args ...string) ([]byte, error)
}

// NewGateway creates a Gateway bound to owner/repo.
func NewGateway(repo string) *Gateway {
	return &Gateway{
		repo: repo,
		exec: func(name string, args ...string) ([]byte, error) {
			out, err := exec.Command(name, args...).Output()
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, exitErr.Stderr)
				}
				return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
			}
			return out, nil
		},
	}
}

// Repo returns the owner/repo this gateway targets.
func (g *Gateway) Repo() string { return g.repo }

type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// FetchOpenByLabel returns open issues carrying the given label, oldest
// first as gh lists them, up to limit.
func (g *Gateway) FetchOpenByLabel(label string, limit int) ([]models.Task, error) {
	out, err := g.exec("gh", "issue", "list",
		"--repo", g.repo,
		"--label", label,
		"--state", "open",
		"--json", "number,title,body,labels",
		"--limit", fmt.Sprintf("%d", limit))
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	var raw []ghIssue
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse gh output: %w", err)
	}

	tasks := make([]models.Task, 0, len(raw))
	for _, gi := range raw {
		labels := make([]string, len(gi.Labels))
		for i, l := range gi.Labels {
			labels[i] = l.Name
		}
		tasks = append(tasks, models.Task{
			Number: gi.Number,
			Title:  gi.Title,
			Body:   gi.Body,
			Labels: labels,
		})
	}
	return tasks, nil
}

// Close closes an issue as completed, posting a comment first when one is
// given.
func (g *Gateway) Close(number int, comment string) error {
	if comment != "" {
		if err := g.Comment(number, comment); err != nil {
			return err
		}
	}
	_, err := g.exec("gh", "issue", "close", fmt.Sprintf("%d", number),
		"--repo", g.repo, "--reason", "completed")
	if err != nil {
		return fmt.Errorf("close issue #%d: %w", number, err)
	}
	return nil
}

// Comment posts a comment on an issue.
func (g *Gateway) Comment(number int, body string) error {
	_, err := g.exec("gh", "issue", "comment", fmt.Sprintf("%d", number),
		"--repo", g.repo, "--body", body)
	if err != nil {
		return fmt.Errorf("comment on issue #%d: %w", number, err)
	}
	return nil
}

// AddLabel attaches a label to an issue.
func (g *Gateway) AddLabel(number int, label string) error {
	_, err := g.exec("gh", "issue", "edit", fmt.Sprintf("%d", number),
		"--repo", g.repo, "--add-label", label)
	if err != nil {
		return fmt.Errorf("label issue #%d: %w", number, err)
	}
	return nil
}

// CommentAttempt posts the standard failed-attempt comment.
func (g *Gateway) CommentAttempt(number, attempt int, reason string) error {
	return g.Comment(number, fmt.Sprintf("%s %d failed: %s", attemptMarker, attempt, reason))
}

// DetectRepeatCycle reports whether an issue has accumulated enough failed
// attempt comments to count as cycling. Such issues should be blocked
// rather than retried forever across runs.
func (g *Gateway) DetectRepeatCycle(number int) (bool, error) {
	out, err := g.exec("gh", "issue", "view", fmt.Sprintf("%d", number),
		"--repo", g.repo, "--json", "comments")
	if err != nil {
		return false, fmt.Errorf("view issue #%d: %w", number, err)
	}

	var payload struct {
		Comments []struct {
			Body string `json:"body"`
		} `json:"comments"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return false, fmt.Errorf("parse gh output: %w", err)
	}

	attempts := 0
	for _, c := range payload.Comments {
		if strings.HasPrefix(c.Body, attemptMarker) {
			attempts++
		}
	}
	return attempts >= repeatCycleThreshold, nil
}

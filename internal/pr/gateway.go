// Package pr opens pull requests for merged task branches through the gh
// CLI.
package pr

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ShayCichocki/herd/internal/git"
)

// PullRequest identifies a created pull request.
type PullRequest struct {
	Number int
	URL    string
}

// Gateway pushes branches and creates pull requests.
type Gateway struct {
	repo string
	git  git.RemoteOperations
	// exec runs a command in the repository directory and returns stdout.
	// Injectable for tests.
	exec func(name string, args ...string) ([]byte, error)
}

// NewGateway creates a Gateway for owner/repo, pushing through the given
// git runner. repoDir is where gh commands run.
func NewGateway(repo, repoDir string, g git.RemoteOperations) *Gateway {
	return &Gateway{
		repo: repo,
		git:  g,
		exec: func(name string, args ...string) ([]byte, error) {
			cmd := exec.Command(name, args...)
			cmd.Dir = repoDir
			out, err := cmd.CombinedOutput()
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, out)
			}
			return out, nil
		},
	}
}

// Push publishes the branch to origin, setting its upstream.
func (g *Gateway) Push(branch string) error {
	return g.git.Push(branch)
}

// Create opens a pull request from head into base and returns its number
// and URL. gh prints the PR URL on success; the number is its last path
// segment.
func (g *Gateway) Create(head, base, title, body string, draft bool) (*PullRequest, error) {
	args := []string{"pr", "create",
		"--repo", g.repo,
		"--head", head,
		"--base", base,
		"--title", title,
		"--body", body,
	}
	if draft {
		args = append(args, "--draft")
	}

	out, err := g.exec("gh", args...)
	if err != nil {
		return nil, fmt.Errorf("create pull request for %s: %w", head, err)
	}

	url := lastLine(string(out))
	number, err := numberFromURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse pull request url %q: %w", url, err)
	}
	return &PullRequest{Number: number, URL: url}, nil
}

// lastLine returns the final non-empty line of output. gh may print
// progress lines before the URL.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// numberFromURL extracts the PR number from an URL of the form
// https://github.com/owner/repo/pull/123.
func numberFromURL(url string) (int, error) {
	idx := strings.LastIndex(url, "/")
	if idx < 0 || idx == len(url)-1 {
		return 0, fmt.Errorf("no path segment")
	}
	return strconv.Atoi(url[idx+1:])
}

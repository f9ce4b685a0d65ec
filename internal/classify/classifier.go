// Package classify tags tasks with a work domain and decides which domains
// are safe to run in parallel. The tags are heuristic: they exist to keep
// agents that are likely to touch the same files out of the same scheduling
// window, not to be a precise ontology.
package classify

import (
	"strings"

	"github.com/ShayCichocki/herd/pkg/models"
)

// domainKeywords maps substrings found in titles, bodies, and labels to a
// domain. Earlier entries win: more specific areas are listed before broader
// ones so that "update CI docs" classifies as infra, not docs.
var domainKeywords = []struct {
	domain   models.Domain
	keywords []string
}{
	{models.DomainInfra, []string{
		"ci", "pipeline", "dockerfile", "docker", "deploy", "makefile",
		"go.mod", "package.json", "dependency", "dependencies", "build system",
		"github actions", "workflow",
	}},
	{models.DomainFrontend, []string{
		"frontend", "front-end", "ui", "css", "html", "template", "component",
		"react", "vue", "styling", "layout", "dashboard",
	}},
	{models.DomainBackend, []string{
		"backend", "back-end", "api", "endpoint", "handler", "database",
		"migration", "server", "service", "queue", "scheduler", "auth",
	}},
	{models.DomainTest, []string{
		"test", "tests", "coverage", "flaky", "testsuite",
	}},
	{models.DomainDocs, []string{
		"docs", "documentation", "readme", "changelog", "typo",
	}},
}

// Classifier tags tasks with domains and answers parallel-safety queries.
type Classifier struct {
	// unsafePairs lists domain pairs that must never run concurrently even
	// though they differ. Keys are normalized with pairKey.
	unsafePairs map[string]bool
}

// New creates a Classifier with the default unsafe pairs: backend/test work
// tends to touch the same packages, so the two are serialized by default.
func New() *Classifier {
	c := &Classifier{unsafePairs: make(map[string]bool)}
	c.MarkUnsafe(models.DomainBackend, models.DomainTest)
	return c
}

// MarkUnsafe records that two domains must not run concurrently.
func (c *Classifier) MarkUnsafe(a, b models.Domain) {
	c.unsafePairs[pairKey(a, b)] = true
}

// MarkSafe removes a pair from the unsafe set.
func (c *Classifier) MarkSafe(a, b models.Domain) {
	delete(c.unsafePairs, pairKey(a, b))
}

// Classify returns the domain for a task. Labels are checked first since
// they are explicit, then the title, then the body.
func (c *Classifier) Classify(task *models.Task) models.Domain {
	for _, label := range task.Labels {
		if d, ok := matchDomain(strings.ToLower(label)); ok {
			return d
		}
	}
	if d, ok := matchDomain(strings.ToLower(task.Title)); ok {
		return d
	}
	if d, ok := matchDomain(strings.ToLower(task.Body)); ok {
		return d
	}
	return models.DomainGeneral
}

// SafeParallel reports whether tasks in the two domains may occupy the
// scheduling window at the same time.
//
// Same-domain pairs are always unsafe. DomainGeneral is unsafe with
// everything because nothing is known about what it touches. DomainInfra is
// unsafe with everything because it touches root-level files every other
// domain depends on.
func (c *Classifier) SafeParallel(a, b models.Domain) bool {
	if a == b {
		return false
	}
	if a == models.DomainGeneral || b == models.DomainGeneral {
		return false
	}
	if a == models.DomainInfra || b == models.DomainInfra {
		return false
	}
	return !c.unsafePairs[pairKey(a, b)]
}

// matchDomain scans text for domain keywords using word-boundary-ish
// matching: the keyword must appear as a whole token to count. This avoids
// "category" matching "api".
func matchDomain(text string) (models.Domain, bool) {
	tokens := tokenize(text)
	for _, entry := range domainKeywords {
		for _, kw := range entry.keywords {
			if strings.ContainsRune(kw, ' ') {
				if strings.Contains(text, kw) {
					return entry.domain, true
				}
				continue
			}
			if tokens[kw] {
				return entry.domain, true
			}
		}
	}
	return "", false
}

// tokenize splits text into a set of lowercase word tokens.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', ',', ';', ':', '(', ')', '[', ']', '"', '\'', '`', '*', '#':
			return true
		}
		return false
	})
	for _, f := range fields {
		tokens[strings.Trim(f, ".!?")] = true
	}
	return tokens
}

func pairKey(a, b models.Domain) string {
	if a > b {
		a, b = b, a
	}
	return string(a) + "|" + string(b)
}

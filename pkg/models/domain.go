package models

// Domain is a heuristic classification of a task's working area.
// Two tasks in the same domain are assumed to touch overlapping files and
// are never run concurrently.
type Domain string

const (
	// DomainBackend covers server-side code, APIs, and business logic.
	DomainBackend Domain = "backend"
	// DomainFrontend covers UI code, templates, and styling.
	DomainFrontend Domain = "frontend"
	// DomainInfra covers build, CI, deployment, and dependency files.
	DomainInfra Domain = "infra"
	// DomainDocs covers documentation-only changes.
	DomainDocs Domain = "docs"
	// DomainTest covers test-only changes.
	DomainTest Domain = "test"
	// DomainGeneral is the fallback when no heuristic matches.
	DomainGeneral Domain = "general"
)

// Valid returns true if the domain is a known value.
func (d Domain) Valid() bool {
	switch d {
	case DomainBackend, DomainFrontend, DomainInfra, DomainDocs, DomainTest, DomainGeneral:
		return true
	default:
		return false
	}
}

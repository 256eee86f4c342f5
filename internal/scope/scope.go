package scope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Level is a knowledge visibility level.
type Level string

const (
	// Global is knowledge shared across all projects.
	Global Level = "global"
	// Project covers all datasets within one project.
	Project Level = "project"
	// Local is a single dataset within a project.
	Local Level = "local"
)

// GlobalCollection is the collection backing the global scope.
const GlobalCollection = "global_knowledge"

// AllProjects is the query-time sentinel meaning "every project the caller
// can see". It is matched case-insensitively and is reserved: no project may
// be created with this name.
const AllProjects = "all"

var (
	// ErrProjectRequired is returned when a scope needs a project name.
	ErrProjectRequired = errors.New("project name required")

	// ErrDatasetRequired is returned when a scope needs a dataset name.
	ErrDatasetRequired = errors.New("dataset name required")

	// ErrUnknownLevel is returned for an unrecognized scope level.
	ErrUnknownLevel = errors.New("unknown scope level")

	// ErrReservedName is returned when a reserved name is used for creation.
	ErrReservedName = errors.New("reserved name")
)

// ParseLevel parses a scope level string. Empty input resolves to Local.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Local, nil
	case string(Global):
		return Global, nil
	case string(Project):
		return Project, nil
	case string(Local):
		return Local, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// IsAllSentinel reports whether project is the case-insensitive "all"
// sentinel.
func IsAllSentinel(project string) bool {
	return strings.EqualFold(strings.TrimSpace(project), AllProjects)
}

// Sanitize normalizes a project or dataset name for use inside a collection
// name: lowercase, every non-alphanumeric run becomes a single underscore,
// leading/trailing underscores stripped. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

// CollectionName derives the collection name for a scope. It is a total,
// pure function of its inputs.
//
//	CollectionName(Local, "My-App.v2", "GitHub Main")
//	  -> "project_my_app_v2_dataset_github_main"
func CollectionName(level Level, project, dataset string) (string, error) {
	switch level {
	case Global:
		return GlobalCollection, nil
	case Project:
		if project == "" {
			return "", fmt.Errorf("%w for project scope", ErrProjectRequired)
		}
		return "project_" + Sanitize(project), nil
	case Local:
		if project == "" {
			return "", fmt.Errorf("%w for local scope", ErrProjectRequired)
		}
		if dataset == "" {
			return "", fmt.Errorf("%w for local scope", ErrDatasetRequired)
		}
		return "project_" + Sanitize(project) + "_dataset_" + Sanitize(dataset), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
}

// Resolve determines the scope level from the available context, mirroring
// how callers supply project/dataset pairs: both names mean local unless
// project scope is requested explicitly, a bare project means project scope,
// nothing means global.
func Resolve(project, dataset string, requested Level) Level {
	if requested == Global {
		return Global
	}
	switch {
	case project != "" && dataset != "":
		if requested == Project {
			return Project
		}
		return Local
	case project != "":
		return Project
	default:
		return Global
	}
}

// ValidateProjectName rejects names that cannot be created: empty after
// sanitization, or the reserved "all" sentinel.
func ValidateProjectName(name string) error {
	if Sanitize(name) == "" {
		return fmt.Errorf("project name %q sanitizes to empty", name)
	}
	if IsAllSentinel(name) {
		return fmt.Errorf("%w: %q is the all-projects sentinel", ErrReservedName, name)
	}
	return nil
}

// idNamespace seeds deterministic project/dataset UUIDs so that independent
// writers derive the same id for the same name.
var idNamespace = uuid.NameSpaceDNS

// ProjectID returns the deterministic UUID for a project name.
func ProjectID(project string) uuid.UUID {
	if project == "" {
		return uuid.NewSHA1(idNamespace, []byte("default"))
	}
	return uuid.NewSHA1(idNamespace, []byte(project))
}

// DatasetID returns the deterministic UUID for a dataset within a project.
func DatasetID(project, dataset string) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(project+"/"+dataset))
}

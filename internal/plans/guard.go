package plans

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrOutsidePlansDir marks a plan path that resolves outside the
// project's plans directory or lacks the .md suffix. Handlers map it
// to 403.
var ErrOutsidePlansDir = errors.New("path is outside the plans directory")

// ResolvePlanPath canonicalises a requested plan path against the
// project root and rejects anything that escapes
// <projectRoot>/docs/plans or is not a Markdown file.
func ResolvePlanPath(projectRoot, requested string) (string, error) {
	if requested == "" {
		return "", ErrOutsidePlansDir
	}

	plansDir, err := filepath.Abs(filepath.Join(projectRoot, PlansDirName))
	if err != nil {
		return "", err
	}

	path := requested
	if !filepath.IsAbs(path) {
		path = filepath.Join(projectRoot, path)
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved = filepath.Clean(resolved)

	if !strings.HasPrefix(resolved, plansDir+string(filepath.Separator)) {
		return "", ErrOutsidePlansDir
	}
	if !strings.HasSuffix(resolved, ".md") {
		return "", ErrOutsidePlansDir
	}
	return resolved, nil
}

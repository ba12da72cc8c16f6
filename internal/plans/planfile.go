// Package plans discovers and parses plan documents under a project's
// docs/plans directory and resolves the session's active plan.
package plans

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pilothq/recall/pkg/models"
)

// PlansDirName is the plan directory relative to a project root.
const PlansDirName = "docs/plans"

var (
	statusRe     = regexp.MustCompile(`(?m)^Status:\s*(\w+)`)
	approvedRe   = regexp.MustCompile(`(?mi)^Approved:\s*(Yes|No)`)
	iterationsRe = regexp.MustCompile(`(?m)^Iterations:\s*(\d+)`)
	taskDoneRe   = regexp.MustCompile(`(?m)^- \[x\] Task \d+:`)
	taskOpenRe   = regexp.MustCompile(`(?m)^- \[ \] Task \d+:`)
)

// ParsePlanContent extracts the header fields and task counts from a
// plan document. Missing headers leave zero values; parsing never
// fails.
func ParsePlanContent(content string) models.PlanFile {
	var plan models.PlanFile

	if m := statusRe.FindStringSubmatch(content); m != nil {
		plan.Status = strings.ToUpper(m[1])
	}
	if m := approvedRe.FindStringSubmatch(content); m != nil {
		plan.Approved = strings.EqualFold(m[1], "yes")
	}
	if m := iterationsRe.FindStringSubmatch(content); m != nil {
		plan.Iterations, _ = strconv.Atoi(m[1])
	}
	plan.TasksComplete = len(taskDoneRe.FindAllString(content, -1))
	plan.TasksRemaining = len(taskOpenRe.FindAllString(content, -1))

	return plan
}

// ReadPlanFile loads and parses one plan document.
func ReadPlanFile(path string) (*models.PlanFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	plan := ParsePlanContent(string(content))
	plan.Path = path
	plan.Name = strings.TrimSuffix(filepath.Base(path), ".md")
	plan.ModifiedAtMs = info.ModTime().UnixMilli()
	return &plan, nil
}

// DiscoverPlans lists the parsed plan documents under
// <projectRoot>/docs/plans, newest first. A missing directory yields an
// empty list, not an error.
func DiscoverPlans(projectRoot string) ([]*models.PlanFile, error) {
	dir := filepath.Join(projectRoot, PlansDirName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var plans []*models.PlanFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		plan, err := ReadPlanFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		plans = append(plans, plan)
	}

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].ModifiedAtMs > plans[j].ModifiedAtMs
	})
	return plans, nil
}

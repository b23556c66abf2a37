// Package batchplan implements C1, the Batch Planner: it parses a Markdown
// task document into an ordered sequence of batches, each batch's tasks
// ordered by a topological sort over intra-batch dependency annotations.
//
// Grounded on the teacher's line-by-line regex scanning in
// internal/state/state.go (LoadState/UpdateStateFile), generalized from
// parsing STATE.md/ROADMAP.md fields to parsing a task checklist.
package batchplan

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Batch is one entry of a BatchPlan: a named group of task IDs in execution order.
type Batch struct {
	Name         string
	TaskIDs      []string
	Dependencies map[string][]string // taskID -> IDs it depends on (includes out-of-batch refs)
}

// BatchPlan is the output of Plan: spec.md §4.1.
type BatchPlan struct {
	Batches            []Batch
	UsedFallback       bool
	FallbackSize       int
	TotalIncomplete    int
	DependencyWarnings []string
	// ManualTasks holds incomplete task IDs tagged [manual], in any section:
	// excluded from automatic batches, surfaced for a user gate instead
	// (SPEC_FULL.md §7 supplement #1).
	ManualTasks []string
}

var (
	sectionHeaderRE = regexp.MustCompile(`^##\s+(.+?)\s*$`)
	taskLineRE      = regexp.MustCompile(`^[-*]\s*\[([ xX])\]\s*(T\d{3})`)
	dependsAnnoRE   = regexp.MustCompile(`(?i)\[(?:depends|dep|after):\s*([^\]]+)\]`)
	manualAnnoRE    = regexp.MustCompile(`(?i)\[manual\]`)
)

type rawTask struct {
	id        string
	section   string
	deps      []string
	manual    bool
}

// Plan parses doc and builds the ordered batch plan. It never fails: an
// empty or malformed document yields an empty plan with TotalIncomplete == 0.
func Plan(doc string, fallbackBatchSize int) *BatchPlan {
	plan := &BatchPlan{}

	allTaskIDs := map[string]bool{} // every T### seen anywhere, complete or not
	sectionOrder := []string{}
	sectionSeen := map[string]bool{}
	bySection := map[string][]rawTask{}
	currentSection := "" // implicit default section for tasks before the first ##

	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimRight(line, "\r")

		if m := sectionHeaderRE.FindStringSubmatch(trimmed); m != nil {
			currentSection = strings.TrimSpace(m[1])
			continue
		}

		m := taskLineRE.FindStringSubmatch(trimmed)
		if m == nil {
			continue // task line without a recognizable ID pattern: silently skipped
		}
		checked := m[1] == "x" || m[1] == "X"
		id := m[2]
		allTaskIDs[id] = true

		if checked {
			continue // only incomplete tasks are retained
		}

		deps := parseDeps(trimmed)
		manual := manualAnnoRE.MatchString(trimmed)

		if !sectionSeen[currentSection] {
			sectionSeen[currentSection] = true
			sectionOrder = append(sectionOrder, currentSection)
		}
		bySection[currentSection] = append(bySection[currentSection], rawTask{
			id: id, section: currentSection, deps: deps, manual: manual,
		})
	}

	// Split out manual tasks and count incomplete totals across all sections.
	var flatAuto []rawTask
	for _, section := range sectionOrder {
		for _, t := range bySection[section] {
			plan.TotalIncomplete++
			if t.manual {
				plan.ManualTasks = append(plan.ManualTasks, t.id)
				continue
			}
			flatAuto = append(flatAuto, t)
		}
	}

	// Dependency-existence warnings: scan every retained incomplete task's
	// deps (manual or not) against the full document's ID universe.
	for _, section := range sectionOrder {
		for _, t := range bySection[section] {
			for _, dep := range t.deps {
				if !allTaskIDs[dep] {
					plan.DependencyWarnings = append(plan.DependencyWarnings,
						fmt.Sprintf("Task %s depends on %s, which doesn't exist", t.id, dep))
				}
			}
		}
	}

	// Did any explicit "##" section produce an incomplete automatic task?
	hasExplicitSection := false
	for _, section := range sectionOrder {
		if section == "" {
			continue
		}
		for _, t := range bySection[section] {
			if !t.manual {
				hasExplicitSection = true
				break
			}
		}
	}

	if len(flatAuto) == 0 {
		return plan
	}

	if !hasExplicitSection {
		plan.UsedFallback = true
		plan.FallbackSize = fallbackBatchSize
		plan.Batches = fallbackChunks(flatAuto, fallbackBatchSize, plan)
		return plan
	}

	for _, section := range sectionOrder {
		var tasks []rawTask
		for _, t := range bySection[section] {
			if !t.manual {
				tasks = append(tasks, t)
			}
		}
		if len(tasks) == 0 {
			continue // sections with zero incomplete tasks are omitted
		}
		batch := buildBatch(section, tasks, plan)
		plan.Batches = append(plan.Batches, batch)
	}

	return plan
}

// parseDeps extracts and normalizes the comma-separated IDs from a
// [depends: ...] / [dep: ...] / [after: ...] annotation, if present.
func parseDeps(line string) []string {
	m := dependsAnnoRE.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	var deps []string
	for _, raw := range strings.Split(m[1], ",") {
		id := strings.ToUpper(strings.TrimSpace(raw))
		if id != "" {
			deps = append(deps, id)
		}
	}
	return deps
}

// buildBatch orders tasks via Kahn's algorithm over intra-batch dependencies.
// Dependencies pointing outside the batch are recorded (for warnings/metadata)
// but do not constrain ordering. A cycle falls back to document order.
func buildBatch(name string, tasks []rawTask, plan *BatchPlan) Batch {
	inBatch := map[string]bool{}
	for _, t := range tasks {
		inBatch[t.id] = true
	}

	deps := map[string][]string{} // taskID -> all deps (including out-of-batch, for metadata)
	intraDeps := map[string][]string{}
	indegree := map[string]int{}
	for _, t := range tasks {
		deps[t.id] = t.deps
		indegree[t.id] = 0
	}
	for _, t := range tasks {
		for _, dep := range t.deps {
			if inBatch[dep] {
				intraDeps[t.id] = append(intraDeps[t.id], dep)
				indegree[t.id]++
			}
		}
	}

	order, err := kahn(tasks, intraDeps, indegree)
	if err != nil {
		plan.DependencyWarnings = append(plan.DependencyWarnings,
			fmt.Sprintf("Section %q has a dependency cycle; using document order", name))
		order = nil
		for _, t := range tasks {
			order = append(order, t.id)
		}
	}

	return Batch{Name: name, TaskIDs: order, Dependencies: deps}
}

// kahn runs Kahn's topological sort, breaking ties by document order to keep
// the result deterministic (P1: decide/plan must be referentially transparent).
func kahn(tasks []rawTask, intraDeps map[string][]string, indegree map[string]int) ([]string, error) {
	docOrder := map[string]int{}
	for i, t := range tasks {
		docOrder[t.id] = i
	}

	// reverse edges: dep -> dependents
	dependents := map[string][]string{}
	for id, ds := range intraDeps {
		for _, d := range ds {
			dependents[d] = append(dependents[d], id)
		}
	}

	var queue []string
	for _, t := range tasks {
		if indegree[t.id] == 0 {
			queue = append(queue, t.id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return docOrder[queue[i]] < docOrder[queue[j]] })

	remaining := map[string]int{}
	for k, v := range indegree {
		remaining[k] = v
	}

	var order []string
	for len(queue) > 0 {
		// pop smallest-doc-order to keep ties deterministic
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var freed []string
		for _, dependent := range dependents[id] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sort.Slice(freed, func(i, j int) bool { return docOrder[freed[i]] < docOrder[freed[j]] })
		queue = append(queue, freed...)
		sort.Slice(queue, func(i, j int) bool { return docOrder[queue[i]] < docOrder[queue[j]] })
	}

	if len(order) != len(tasks) {
		return nil, fmt.Errorf("dependency cycle detected")
	}
	return order, nil
}

// fallbackChunks splits the flat incomplete list into fixed-size batches
// named "Batch 1", "Batch 2", ... when no explicit section produced work.
func fallbackChunks(tasks []rawTask, size int, plan *BatchPlan) []Batch {
	if size <= 0 {
		size = 1
	}
	var batches []Batch
	for i := 0; i < len(tasks); i += size {
		end := i + size
		if end > len(tasks) {
			end = len(tasks)
		}
		chunk := tasks[i:end]
		batch := buildBatch("Batch "+strconv.Itoa(len(batches)+1), chunk, plan)
		batches = append(batches, batch)
	}
	return batches
}

// Render regenerates a Markdown checklist from a plan, marking every task
// in it as incomplete, for round-trip testing (spec.md R1).
func Render(plan *BatchPlan) string {
	var sb strings.Builder
	for _, batch := range plan.Batches {
		if !plan.UsedFallback {
			sb.WriteString("## " + batch.Name + "\n")
		}
		for _, id := range batch.TaskIDs {
			line := "- [ ] " + id
			if deps := batch.Dependencies[id]; len(deps) > 0 {
				line += " [depends: " + strings.Join(deps, ",") + "]"
			}
			sb.WriteString(line + "\n")
		}
	}
	for _, id := range plan.ManualTasks {
		sb.WriteString("- [ ] " + id + " [manual]\n")
	}
	return sb.String()
}

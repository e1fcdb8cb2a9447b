package dartle

import (
	"fmt"
	"sort"
)

// Plan is the outcome of expanding a set of invocations into their full
// dependency closure, deciding which of them must actually run, and
// grouping the runnable ones into parallel-safe, phase-respecting
// batches.
type Plan struct {
	// Groups holds the tasks to execute, in order; within a group, tasks
	// may run concurrently (unless Options.Parallel is false, in which
	// case every group has exactly one task).
	Groups [][]TaskInvocation

	Selected     int
	Dependencies int
	UpToDate     int

	// Header is the human-readable execution report (§4.6).
	Header string
}

// PlanExecution expands invocations into their transitive dependency closure,
// decides which of them should run, and groups them for execution.
func PlanExecution(graph *TaskGraph, invocations []TaskInvocation, opts Options) (*Plan, error) {
	origByName := map[string]TaskInvocation{}
	for _, inv := range invocations {
		if _, ok := origByName[inv.Name]; !ok {
			origByName[inv.Name] = inv
		}
	}
	selectedNames := map[string]bool{}
	for name := range origByName {
		selectedNames[name] = true
	}

	final := map[string]TaskInvocation{}
	queue := make([]string, 0, len(invocations))
	for _, inv := range invocations {
		if _, ok := final[inv.Name]; !ok {
			final[inv.Name] = inv
			queue = append(queue, inv.Name)
		}
	}
	for i := 0; i < len(queue); i++ {
		name := queue[i]
		task, ok := graph.Get(name)
		if !ok {
			return nil, fmt.Errorf("Task with name '%s' does not exist", name)
		}
		for _, dep := range task.DependsOn {
			if _, ok := final[dep]; ok {
				continue
			}
			if inv, ok := origByName[dep]; ok {
				final[dep] = inv
			} else {
				final[dep] = TaskInvocation{Name: dep}
			}
			queue = append(queue, dep)
		}
	}

	sorted := graph.SortedNames()
	combined := make([]string, 0, len(final))
	for _, name := range sorted {
		if _, ok := final[name]; ok {
			combined = append(combined, name)
		}
	}

	runnable := map[string]bool{}
	for _, name := range combined {
		inv := final[name]
		task, _ := graph.Get(name)
		mustRun := opts.Force && selectedNames[name]
		if !mustRun {
			should, err := task.RunCondition().ShouldRun(inv)
			if err != nil {
				return nil, fmt.Errorf("checking run condition for task '%s': %w", name, err)
			}
			mustRun = should
		}
		runnable[name] = mustRun
	}

	var runnableNames []string
	for _, name := range combined {
		if runnable[name] {
			runnableNames = append(runnableNames, name)
		}
	}

	groups := groupByLevel(graph, runnableNames, opts.Parallel)
	var outGroups [][]TaskInvocation
	for _, g := range groups {
		var batch []TaskInvocation
		for _, name := range g {
			batch = append(batch, final[name])
		}
		outGroups = append(outGroups, batch)
	}

	upToDate := len(combined) - len(runnableNames)
	plan := &Plan{
		Groups:       outGroups,
		Selected:     len(selectedNames),
		Dependencies: len(combined) - len(selectedNames),
		UpToDate:     upToDate,
		Header: fmt.Sprintf(
			"Executing %s out of a total of %s: %d selected, %d dependencies, %d up-to-date",
			pluralTasks(len(runnableNames)), pluralTasks(len(combined)),
			len(selectedNames), len(combined)-len(selectedNames), upToDate),
	}
	return plan, nil
}

func pluralTasks(n int) string {
	if n == 1 {
		return "1 task"
	}
	return fmt.Sprintf("%d tasks", n)
}

// groupByLevel assigns each runnable task a (phase, level) key - level 0
// meaning none of its runnable same-phase dependencies need to run first -
// and returns the tasks grouped by that key, in execution order. When
// parallel is false every task gets its own group instead, preserving the
// same relative order.
func groupByLevel(graph *TaskGraph, runnableNames []string, parallel bool) [][]string {
	if len(runnableNames) == 0 {
		return nil
	}
	runnableSet := map[string]bool{}
	for _, n := range runnableNames {
		runnableSet[n] = true
	}

	type key struct {
		phase int
		level int
	}
	levels := map[string]int{}
	var level func(name string) int
	level = func(name string) int {
		if l, ok := levels[name]; ok {
			return l
		}
		task, _ := graph.Get(name)
		max := -1
		for _, dep := range task.DependsOn {
			if !runnableSet[dep] {
				continue
			}
			depTask, _ := graph.Get(dep)
			if depTask.Phase().Priority != task.Phase().Priority {
				continue
			}
			if l := level(dep); l > max {
				max = l
			}
		}
		levels[name] = max + 1
		return levels[name]
	}

	order := make([]key, 0, len(runnableNames))
	seen := map[key]bool{}
	byKey := map[key][]string{}
	for _, name := range runnableNames {
		task, _ := graph.Get(name)
		k := key{phase: task.Phase().Priority, level: level(name)}
		if !seen[k] {
			seen[k] = true
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], name)
	}
	// Order groups by phase, then level, so a dependency's group always
	// precedes its dependents' groups whatever order runnableNames is in.
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].phase != order[j].phase {
			return order[i].phase < order[j].phase
		}
		return order[i].level < order[j].level
	})

	var groups [][]string
	for _, k := range order {
		names := byKey[k]
		if !parallel {
			for _, n := range names {
				groups = append(groups, []string{n})
			}
			continue
		}
		groups = append(groups, names)
	}
	return groups
}

package dartle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pyr-sh/dag"
)

// TaskWithDeps is a Task plus its transitive dependency closure, resolved
// once at graph-build time.
type TaskWithDeps struct {
	Task
	name         string
	runCondition RunCondition
	validator    ArgsValidator
	phase        Phase

	// transitiveDeps holds the names of every task (direct or indirect)
	// this task depends on.
	transitiveDeps map[string]bool
}

// Name is the task's resolved name.
func (t *TaskWithDeps) Name() string { return t.name }

// RunCondition is the task's resolved run condition (AlwaysRun if none was
// declared).
func (t *TaskWithDeps) RunCondition() RunCondition { return t.runCondition }

// Validator is the task's resolved argument validator.
func (t *TaskWithDeps) Validator() ArgsValidator { return t.validator }

// Phase is the task's resolved phase (Build if none was declared).
func (t *TaskWithDeps) Phase() Phase { return t.phase }

// DependsOnTransitively reports whether t transitively depends on other.
func (t *TaskWithDeps) DependsOnTransitively(other string) bool {
	return t.transitiveDeps[other]
}

// TaskGraph is the set of tasks plus their resolved dependency graph.
type TaskGraph struct {
	tasks map[string]*TaskWithDeps
	order []string // insertion order of names, for stable iteration
	dag   *dag.AcyclicGraph
	// DeletersOf maps a task name to the names of RunToDelete tasks whose
	// deletion targets intersect that task's declared inputs/outputs. It
	// is a side result of I/O consistency verification, used to warn when
	// replanning around a cleaning task.
	DeletersOf map[string][]string
}

// Get returns the named task, if present.
func (g *TaskGraph) Get(name string) (*TaskWithDeps, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Names returns every task name in the graph, in declaration order.
func (g *TaskGraph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// DefaultTasks returns the names of every task whose IsDefault flag is
// set.
func (g *TaskGraph) DefaultTasks() []string {
	var out []string
	for _, name := range g.order {
		if g.tasks[name].IsDefault {
			out = append(out, name)
		}
	}
	return out
}

// NewGraph builds a TaskGraph from tasks, validating dependency names,
// detecting cycles, and checking phase and I/O consistency.
func NewGraph(tasks []Task, phases *PhaseRegistry) (*TaskGraph, error) {
	if phases == nil {
		phases = NewPhaseRegistry()
	}

	byName := make(map[string]*TaskWithDeps, len(tasks))
	order := make([]string, 0, len(tasks))
	g := &dag.AcyclicGraph{}

	for _, t := range tasks {
		name, err := t.resolvedName()
		if err != nil {
			return nil, err
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("duplicate task name: '%s'", name)
		}
		twd := &TaskWithDeps{
			Task:         t,
			name:         name,
			runCondition: t.resolvedRunCondition(),
			validator:    t.resolvedValidator(),
			phase:        t.resolvedPhase(),
		}
		byName[name] = twd
		order = append(order, name)
		g.Add(name)
	}

	// Validate dependency names and self-dependency, then connect edges.
	var errs *multierror.Error
	for _, name := range order {
		t := byName[name]
		for _, dep := range t.DependsOn {
			if dep == name {
				errs = multierror.Append(errs, fmt.Errorf("task '%s' cannot depend on itself", name))
				continue
			}
			if _, ok := byName[dep]; !ok {
				errs = multierror.Append(errs, fmt.Errorf(
					"Task with name '%s' does not exist (dependency path: [%s])", dep, strings.Join([]string{name, dep}, " -> ")))
				continue
			}
			g.Connect(dag.BasicEdge(name, dep))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	if cycle := findCycle(byName); cycle != nil {
		return nil, fmt.Errorf("Task dependency cycle detected: [%s]", strings.Join(cycle, " -> "))
	}

	tg := &TaskGraph{tasks: byName, order: order, dag: g}

	for _, name := range order {
		closure, err := tg.ancestorNames(name)
		if err != nil {
			return nil, err
		}
		byName[name].transitiveDeps = closure
	}

	if err := verifyPhaseConsistency(tg); err != nil {
		return nil, err
	}

	deleters, err := verifyIOConsistency(tg)
	if err != nil {
		return nil, err
	}
	tg.DeletersOf = deleters

	return tg, nil
}

// findCycle runs a DFS from every task, returning the first cycle found as
// the full walk (e.g. ["e","f","g","h","e"]), or nil if the graph is
// acyclic.
func findCycle(tasks map[string]*TaskWithDeps) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	names := make([]string, 0, len(tasks))
	for n := range tasks {
		names = append(names, n)
	}
	sort.Strings(names)

	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		stack = append(stack, name)
		deps := append([]string{}, tasks[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found the cycle: the portion of stack from dep's first
				// occurrence to the end, plus dep again to close it.
				idx := indexOf(stack, dep)
				cycle = append(append([]string{}, stack[idx:]...), dep)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	for _, name := range names {
		if color[name] == white {
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// ancestorNames returns the names reachable by following dependency edges
// from name, i.e. its transitive dependency closure, backed by the
// underlying dag.AcyclicGraph.
func (g *TaskGraph) ancestorNames(name string) (map[string]bool, error) {
	ancestors, err := g.dag.Ancestors(name)
	if err != nil {
		return nil, fmt.Errorf("computing dependency closure of '%s': %w", name, err)
	}
	out := map[string]bool{}
	for _, v := range ancestors {
		out[v.(string)] = true
	}
	return out, nil
}

// Ancestors returns the transitive dependency closure of name (every task
// that must run, or be found up-to-date, before name runs).
func (g *TaskGraph) Ancestors(name string) (map[string]bool, error) {
	return g.ancestorNames(name)
}

// Less implements the total ordering used for stable execution scheduling:
// by phase priority ascending; within a phase, dependencies before
// dependents; otherwise alphabetical by name.
func (g *TaskGraph) Less(a, b string) bool {
	ta, tb := g.tasks[a], g.tasks[b]
	if ta.phase.Priority != tb.phase.Priority {
		return ta.phase.Priority < tb.phase.Priority
	}
	if tb.DependsOnTransitively(a) {
		return true
	}
	if ta.DependsOnTransitively(b) {
		return false
	}
	return a < b
}

// SortedNames returns every task name sorted according to Less.
func (g *TaskGraph) SortedNames() []string {
	names := g.Names()
	sort.Slice(names, func(i, j int) bool { return g.Less(names[i], names[j]) })
	return names
}

func verifyPhaseConsistency(g *TaskGraph) error {
	var errs *multierror.Error
	for _, name := range g.order {
		t := g.tasks[name]
		for _, dep := range t.DependsOn {
			d := g.tasks[dep]
			if t.phase.IsBefore(d.phase) {
				errs = multierror.Append(errs, fmt.Errorf(
					"task '%s' (phase %s) cannot depend on task '%s' (phase %s): a task may only depend on tasks in the same or an earlier phase",
					name, t.phase.Name, dep, d.phase.Name))
			}
		}
	}
	return errs.ErrorOrNil()
}

func verifyIOConsistency(g *TaskGraph) (map[string][]string, error) {
	var errs *multierror.Error
	deleters := map[string][]string{}

	for _, nameA := range g.order {
		a := g.tasks[nameA]
		roc, ok := a.runCondition.(RunOnChanges)
		if !ok {
			continue
		}
		for _, nameB := range g.order {
			if nameA == nameB {
				continue
			}
			b := g.tasks[nameB]
			rocB, ok := b.runCondition.(RunOnChanges)
			if !ok {
				continue
			}
			clashing := roc.Outputs.Intersection(rocB.Inputs)
			if len(clashing) == 0 {
				continue
			}
			if !b.DependsOnTransitively(nameA) {
				errs = multierror.Append(errs, fmt.Errorf(
					"Task '%s' must dependOn '%s' (clashing outputs: {%s})",
					nameB, nameA, strings.Join(clashing, ", ")))
			}
		}
	}

	for _, nameD := range g.order {
		d := g.tasks[nameD]
		rtd, ok := d.runCondition.(RunToDelete)
		if !ok {
			continue
		}
		for _, nameT := range g.order {
			if nameD == nameT {
				continue
			}
			t := g.tasks[nameT]
			var touched []string
			if roc, ok := t.runCondition.(RunOnChanges); ok {
				touched = append(touched, rtd.Targets.Intersection(roc.Inputs)...)
				touched = append(touched, rtd.Targets.Intersection(roc.Outputs)...)
			}
			if len(touched) == 0 {
				continue
			}
			deleters[nameT] = append(deleters[nameT], nameD)
			if !d.phase.IsBefore(t.phase) {
				errs = multierror.Append(errs, fmt.Errorf(
					"delete-task '%s' (phase %s) must run in a strictly earlier phase than task '%s' (phase %s), since it deletes paths task '%s' reads or writes",
					nameD, d.phase.Name, nameT, t.phase.Name, nameT))
			}
		}
	}

	return deleters, errs.ErrorOrNil()
}

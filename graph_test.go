package dartle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func noop(TaskArgs) error { return nil }

func taskNamed(name string, deps ...string) Task {
	return Task{Name: name, DependsOn: deps, Handler: noop}
}

func TestGraphDetectsCycle(t *testing.T) {
	tasks := []Task{
		taskNamed("e", "f"),
		taskNamed("f", "g"),
		taskNamed("g", "h"),
		taskNamed("h", "e"),
	}
	_, err := NewGraph(tasks, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Task dependency cycle detected")
}

func TestGraphRejectsSelfDependency(t *testing.T) {
	_, err := NewGraph([]Task{taskNamed("a", "a")}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cannot depend on itself")
}

func TestGraphRejectsUnknownDependency(t *testing.T) {
	_, err := NewGraph([]Task{taskNamed("a", "ghost")}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Task with name 'ghost' does not exist")
}

func TestGraphRejectsDuplicateNames(t *testing.T) {
	_, err := NewGraph([]Task{taskNamed("a"), taskNamed("a")}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task name")
}

func TestGraphOrdering(t *testing.T) {
	// a depends on {b, c}; b and c are independent; d depends on a.
	tasks := []Task{
		taskNamed("a", "b", "c"),
		taskNamed("b"),
		taskNamed("c"),
		taskNamed("d", "a"),
	}
	g, err := NewGraph(tasks, nil)
	assert.NoError(t, err)

	sorted := g.SortedNames()
	pos := map[string]int{}
	for i, n := range sorted {
		pos[n] = i
	}
	assert.Less(t, pos["b"], pos["a"])
	assert.Less(t, pos["c"], pos["a"])
	assert.Less(t, pos["a"], pos["d"])

	ancestorsOfA, err := g.Ancestors("a")
	assert.NoError(t, err)
	assert.True(t, ancestorsOfA["b"])
	assert.True(t, ancestorsOfA["c"])

	dTask, ok := g.Get("d")
	assert.True(t, ok)
	assert.True(t, dTask.DependsOnTransitively("a"))
	assert.True(t, dTask.DependsOnTransitively("b"))
}

func TestGraphPhaseConsistency(t *testing.T) {
	tasks := []Task{
		{Name: "early", Handler: noop, Phase: TearDown},
		{Name: "late", Handler: noop, Phase: Build, DependsOn: []string{"early"}},
	}
	_, err := NewGraph(tasks, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "same or an earlier phase")
}

func TestGraphIOConsistency(t *testing.T) {
	cch := newTestCache(t)
	inFoo := File("in.txt")
	outFoo := File("out.txt")
	outBar := File("out2.txt")

	tasks := []Task{
		{
			Name:         "foo",
			Handler:      noop,
			RunCondition: RunOnChanges{Inputs: inFoo, Outputs: outFoo, Cache: cch, Key: "foo"},
		},
		{
			Name:         "bar",
			Handler:      noop,
			RunCondition: RunOnChanges{Inputs: outFoo, Outputs: outBar, Cache: cch, Key: "bar"},
		},
	}
	_, err := NewGraph(tasks, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must dependOn 'foo'")

	tasks[1].DependsOn = []string{"foo"}
	_, err = NewGraph(tasks, nil)
	assert.NoError(t, err)
}

func TestTaskNameDerivedFromHandler(t *testing.T) {
	task := Task{Handler: sampleHandlerForNaming}
	name, err := task.resolvedName()
	assert.NoError(t, err)
	assert.Equal(t, "sampleHandlerForNaming", name)
}

func sampleHandlerForNaming(TaskArgs) error { return nil }

func TestTaskNameRequiredForAnonymousHandler(t *testing.T) {
	task := Task{Handler: func(TaskArgs) error { return nil }}
	_, err := task.resolvedName()
	assert.Error(t, err)
}

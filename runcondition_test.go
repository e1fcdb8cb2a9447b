package dartle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunOnChangesIncrementalCaching(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "encode/dartle.dart", "print('hi')")
	out := filepath.Join(dir, "encode/out.txt")

	c := newTestCache(t)
	cond := RunOnChanges{
		Inputs:  File(src),
		Outputs: File(out),
		Cache:   c,
		Key:     "encode",
	}
	inv := TaskInvocation{Name: "encode"}

	should, err := cond.ShouldRun(inv)
	assert.NoError(t, err)
	assert.True(t, should, "first run: output missing")

	assert.NoError(t, os.WriteFile(out, []byte("result"), 0o644))
	assert.NoError(t, cond.PostRun(TaskResult{Invocation: inv}))

	should, err = cond.ShouldRun(inv)
	assert.NoError(t, err)
	assert.False(t, should, "second run: nothing changed, output present")

	assert.NoError(t, os.WriteFile(src, []byte("print('changed')"), 0o644))
	should, err = cond.ShouldRun(inv)
	assert.NoError(t, err)
	assert.True(t, should, "input changed since last successful run")
}

func TestRunOnChangesEmptyNeverRuns(t *testing.T) {
	cond := RunOnChanges{Inputs: Empty, Outputs: Empty, Cache: newTestCache(t), Key: "x"}
	should, err := cond.ShouldRun(TaskInvocation{Name: "x"})
	assert.NoError(t, err)
	assert.False(t, should)
}

func TestRunOnChangesKeyedScopesAreIsolated(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "shared.txt", "v1")
	c := newTestCache(t)

	condA := RunOnChanges{Inputs: File(src), Outputs: Empty, Cache: c, Key: "taskA"}
	condB := RunOnChanges{Inputs: File(src), Outputs: Empty, Cache: c, Key: "taskB"}

	inv := TaskInvocation{Name: "shared"}
	assert.NoError(t, condA.PostRun(TaskResult{Invocation: inv}))

	// taskA has cached the file; taskB, a different scope, has not.
	shouldA, _ := condA.ShouldRun(inv)
	shouldB, _ := condB.ShouldRun(inv)
	assert.False(t, shouldA)
	assert.True(t, shouldB)
}

func TestRunAtMostEvery(t *testing.T) {
	c := newTestCache(t)
	now := time.Now()
	cond := RunAtMostEvery{Period: time.Hour, Cache: c, nowFn: func() time.Time { return now }}
	inv := TaskInvocation{Name: "ping"}

	should, err := cond.ShouldRun(inv)
	assert.NoError(t, err)
	assert.True(t, should, "never run before")

	assert.NoError(t, cond.PostRun(TaskResult{Invocation: inv}))
	should, err = cond.ShouldRun(inv)
	assert.NoError(t, err)
	assert.False(t, should, "ran moments ago, period not elapsed")

	cond.nowFn = func() time.Time { return now.Add(2 * time.Hour) }
	should, err = cond.ShouldRun(inv)
	assert.NoError(t, err)
	assert.True(t, should, "period elapsed")
}

func TestRunAtMostEveryFingerprintChange(t *testing.T) {
	c := newTestCache(t)
	now := time.Now()
	cond := RunAtMostEvery{Period: time.Hour, Cache: c, nowFn: func() time.Time { return now }}

	assert.NoError(t, cond.PostRun(TaskResult{Invocation: TaskInvocation{Name: "ping", Args: []string{"a"}}}))
	should, err := cond.ShouldRun(TaskInvocation{Name: "ping", Args: []string{"b"}})
	assert.NoError(t, err)
	assert.True(t, should, "different args changes the fingerprint")
}

func TestRunToDelete(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	cond := RunToDelete{Targets: File(target)}

	should, err := cond.ShouldRun(TaskInvocation{})
	assert.NoError(t, err)
	assert.False(t, should)

	assert.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	should, err = cond.ShouldRun(TaskInvocation{})
	assert.NoError(t, err)
	assert.True(t, should)
}

func TestAndOrConditions(t *testing.T) {
	alwaysTrue := AlwaysRun{}
	never := RunToDelete{Targets: Empty}

	and := AndCondition{alwaysTrue, never}
	should, err := and.ShouldRun(TaskInvocation{})
	assert.NoError(t, err)
	assert.False(t, should)

	or := OrCondition{alwaysTrue, never}
	should, err = or.ShouldRun(TaskInvocation{})
	assert.NoError(t, err)
	assert.True(t, should)
}

// Package dartle is a programmable, task-based build engine.
//
// A build is described as a set of named Task values, each with a handler
// function, optional dependencies on other tasks, an optional RunCondition
// governing when it may be skipped, and an optional Phase classifying it as
// setup, build or tear-down work. Run parses a command line selecting tasks
// (with per-task arguments), computes which tasks must actually execute,
// orders them into parallel-safe groups, runs them, and persists a
// content-addressed cache so later invocations can skip up-to-date work.
package dartle

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/renatoathaydes/dartle/cache"
)

// ChangeKind, Change and ChangeSet are re-exported from the cache package,
// which owns their definition so that it need not import this package.
type (
	ChangeKind = cache.ChangeKind
	Change     = cache.Change
	ChangeSet  = cache.ChangeSet
)

// Change kinds, re-exported for convenience.
const (
	Added    = cache.Added
	Modified = cache.Modified
	Deleted  = cache.Deleted
)

// TaskArgs is the argument list a task handler receives, together with the
// set of changes (if any) its RunCondition observed.
type TaskArgs struct {
	Args    []string
	Changes ChangeSet
}

// Handler is the function a Task runs. It receives the parsed args for the
// invocation and returns an error if the task failed.
type Handler func(args TaskArgs) error

// ArgsValidator checks whether a list of arguments is acceptable for a task.
// It returns a human-readable reason when args are rejected.
type ArgsValidator interface {
	Validate(args []string) error
}

// ArgsValidatorFunc adapts a function to the ArgsValidator interface.
type ArgsValidatorFunc func(args []string) error

// Validate implements ArgsValidator.
func (f ArgsValidatorFunc) Validate(args []string) error { return f(args) }

// AcceptAnyArgs accepts every argument list, including the empty one.
var AcceptAnyArgs ArgsValidator = ArgsValidatorFunc(func(args []string) error { return nil })

// noArgs is the default validator: a task that declares no validator only
// accepts zero arguments.
var noArgs ArgsValidator = ArgsCount(0)

// ArgsCount requires exactly n arguments.
func ArgsCount(n int) ArgsValidator {
	return ArgsValidatorFunc(func(args []string) error {
		if len(args) != n {
			return fmt.Errorf("exactly %s is expected", pluralArgs(n))
		}
		return nil
	})
}

// ArgsRange requires between min and max arguments (inclusive).
func ArgsRange(min, max int) ArgsValidator {
	return ArgsValidatorFunc(func(args []string) error {
		n := len(args)
		if n < min || n > max {
			return fmt.Errorf("between %d and %d arguments are expected", min, max)
		}
		return nil
	})
}

func pluralArgs(n int) string {
	if n == 1 {
		return "1 argument"
	}
	return fmt.Sprintf("%d arguments", n)
}

// Task is a named unit of work.
type Task struct {
	// Name is the task's unique identifier. If empty, it is derived from
	// Handler's function symbol; a handler with no determinable name
	// (e.g. a closure literal) causes NewGraph to fail.
	Name string
	// Description is a short, human-readable summary shown by -s/--show-tasks.
	Description string
	// Handler does the task's work.
	Handler Handler
	// DependsOn names tasks that must run (or be found up-to-date) before
	// this one runs.
	DependsOn []string
	// RunCondition decides whether the task actually executes. Defaults to
	// AlwaysRun.
	RunCondition RunCondition
	// ArgsValidator validates the arguments this task was invoked with.
	// Defaults to accepting zero arguments.
	ArgsValidator ArgsValidator
	// Phase classifies the task into an execution band. Defaults to Build.
	Phase Phase
	// IsDefault marks this task as one of the tasks run when the command
	// line selects none explicitly.
	IsDefault bool
}

func (t Task) resolvedName() (string, error) {
	if t.Name != "" {
		return t.Name, nil
	}
	if t.Handler == nil {
		return "", fmt.Errorf("task has no name and no handler from which to derive one")
	}
	ptr := reflect.ValueOf(t.Handler).Pointer()
	fn := runtime.FuncForPC(ptr)
	if fn == nil {
		return "", fmt.Errorf("task has no name and handler's symbol cannot be determined")
	}
	full := fn.Name()
	if idx := strings.LastIndexByte(full, '.'); idx >= 0 {
		full = full[idx+1:]
	}
	full = strings.TrimSuffix(full, "-fm")
	if full == "" || strings.Contains(full, "func") {
		return "", fmt.Errorf("task has no name and handler's symbol cannot be determined")
	}
	return full, nil
}

func (t Task) resolvedRunCondition() RunCondition {
	if t.RunCondition != nil {
		return t.RunCondition
	}
	return AlwaysRun{}
}

func (t Task) resolvedValidator() ArgsValidator {
	if t.ArgsValidator != nil {
		return t.ArgsValidator
	}
	return noArgs
}

func (t Task) resolvedPhase() Phase {
	if t.Phase == (Phase{}) {
		return Build
	}
	return t.Phase
}

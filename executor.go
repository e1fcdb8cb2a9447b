package dartle

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ActorID identifies the goroutine that ran a task, for logging. The main
// worker (which also serializes PostRun / cache writes) is always
// "Actor-0"; concurrent workers are "Actor-<n>" for n >= 1.
type ActorID string

const mainActor ActorID = "Actor-0"

// ExecutionEvent is emitted by Execute as the build progresses, so a UI
// layer can render lifecycle messages without polling task state.
type ExecutionEvent struct {
	Kind      string // "build-start", "group-start", "task-start", "task-end", "group-end", "build-end"
	TaskName  string
	Actor     ActorID
	GroupSize int
	Result    *TaskResult
}

// EventSink receives ExecutionEvents as they happen. nil is a valid,
// silent sink.
type EventSink func(ExecutionEvent)

func (s EventSink) emit(e ExecutionEvent) {
	if s != nil {
		s(e)
	}
}

// Execute runs every group in plan in order. Within a group, tasks run
// concurrently (one actor per task) unless the group has a single task.
// Every task of a group is started; if any of them fails, the whole group
// is still awaited, and the tasks of every later group are cancelled
// without running, except tasks in the tear-down phase, which always run
// regardless of an earlier non-tear-down failure. Once a tear-down group itself fails, later tear-down groups
// are cancelled the same way any other group would be.
func Execute(graph *TaskGraph, plan *Plan, sink EventSink) error {
	sink.emit(ExecutionEvent{Kind: "build-start"})

	var failures []*TaskFailureError
	var cancelled bool
	var tearDownFailed bool
	var mu sync.Mutex

	for _, group := range plan.Groups {
		if len(group) == 0 {
			continue
		}
		isTearDown := true
		for _, inv := range group {
			task, _ := graph.Get(inv.Name)
			if task.Phase() != TearDown {
				isTearDown = false
				break
			}
		}

		mu.Lock()
		// Tear-down groups still run after an earlier non-tear-down failure,
		// but once a tear-down group itself fails, later tear-down groups
		// are cancelled like any other group would be.
		stop := cancelled && (!isTearDown || tearDownFailed)
		mu.Unlock()

		sink.emit(ExecutionEvent{Kind: "group-start", GroupSize: len(group)})

		if stop {
			for _, inv := range group {
				r := TaskResult{Invocation: inv, Cancelled: true}
				sink.emit(ExecutionEvent{Kind: "task-end", TaskName: inv.Name, Result: &r})
				mu.Lock()
				failures = append(failures, &TaskFailureError{TaskName: inv.Name, Cancelled: true})
				mu.Unlock()
			}
			sink.emit(ExecutionEvent{Kind: "group-end"})
			continue
		}

		results := make([]TaskResult, len(group))
		if len(group) == 1 {
			results[0] = runOne(graph, group[0], mainActor, sink)
		} else {
			var eg errgroup.Group
			for i, inv := range group {
				i, inv := i, inv
				actor := ActorID(fmt.Sprintf("Actor-%d", i+1))
				eg.Go(func() error {
					results[i] = runOne(graph, inv, actor, sink)
					return nil
				})
			}
			_ = eg.Wait()
		}

		// Cache writes (PostRun) are serialized on the main worker, after
		// every task in the group has finished, so concurrent workers never
		// race on the on-disk cache.
		for i, inv := range group {
			task, _ := graph.Get(inv.Name)
			if err := task.RunCondition().PostRun(results[i]); err != nil {
				sink.emit(ExecutionEvent{Kind: "task-end", TaskName: inv.Name})
				mu.Lock()
				failures = append(failures, &TaskFailureError{TaskName: inv.Name, Cause: err})
				cancelled = true
				if isTearDown {
					tearDownFailed = true
				}
				mu.Unlock()
				continue
			}
			if !results[i].Succeeded() {
				mu.Lock()
				failures = append(failures, &TaskFailureError{TaskName: inv.Name, Cancelled: results[i].Cancelled, Cause: results[i].Err})
				cancelled = true
				if isTearDown {
					tearDownFailed = true
				}
				mu.Unlock()
			}
		}

		sink.emit(ExecutionEvent{Kind: "group-end"})
	}

	sink.emit(ExecutionEvent{Kind: "build-end"})

	if len(failures) == 0 {
		return nil
	}
	if len(failures) == 1 {
		return failures[0]
	}
	return &MultipleErrors{Errors: failures}
}

func runOne(graph *TaskGraph, inv TaskInvocation, actor ActorID, sink EventSink) TaskResult {
	task, _ := graph.Get(inv.Name)
	sink.emit(ExecutionEvent{Kind: "task-start", TaskName: inv.Name, Actor: actor})

	var changes ChangeSet
	if roc, ok := task.RunCondition().(RunOnChanges); ok {
		if cs, err := roc.Cache.FindChanges(roc.Inputs, roc.Key); err == nil {
			changes = cs
		}
	}

	start := time.Now()
	err := task.Handler(TaskArgs{Args: inv.Args, Changes: changes})
	result := TaskResult{
		Invocation: inv,
		ID:         uuid.NewString(),
		Err:        err,
		Duration:   time.Since(start),
	}
	sink.emit(ExecutionEvent{Kind: "task-end", TaskName: inv.Name, Actor: actor, Result: &result})
	return result
}

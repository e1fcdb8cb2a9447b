package dartle

import (
	"time"

	"github.com/renatoathaydes/dartle/cache"
)

// RunCondition decides whether a scheduled task actually executes, and
// updates the cache in PostRun when it succeeded.
type RunCondition interface {
	ShouldRun(invocation TaskInvocation) (bool, error)
	PostRun(result TaskResult) error
}

// AlwaysRun is the default RunCondition: the task always executes.
type AlwaysRun struct{}

// ShouldRun implements RunCondition.
func (AlwaysRun) ShouldRun(TaskInvocation) (bool, error) { return true, nil }

// PostRun implements RunCondition; AlwaysRun has no cache state to update.
func (AlwaysRun) PostRun(TaskResult) error { return nil }

// RunOnChanges runs a task iff its inputs or outputs changed since the
// last successful run, or a declared output is missing on disk.
type RunOnChanges struct {
	Inputs  FileCollection
	Outputs FileCollection
	Cache   *cache.Cache
	// Key namespaces the cache entries this condition reads/writes.
	Key string
}

// ShouldRun implements RunCondition.
func (r RunOnChanges) ShouldRun(TaskInvocation) (bool, error) {
	if r.Inputs.IsEmpty() && r.Outputs.IsEmpty() {
		return false, nil
	}
	if changed, err := r.Cache.HasChanged(r.Inputs, r.Key); err != nil {
		return false, err
	} else if changed {
		return true, nil
	}
	if changed, err := r.Cache.HasChanged(r.Outputs, r.Key); err != nil {
		return false, err
	} else if changed {
		return true, nil
	}
	for _, out := range r.Outputs.ResolveFiles() {
		if !pathExists(out) {
			return true, nil
		}
	}
	for _, out := range r.Outputs.ResolveDirectories() {
		if !pathExists(out) {
			return true, nil
		}
	}
	return false, nil
}

// PostRun re-hashes inputs and outputs on success; it leaves the cache
// untouched on failure so a subsequent run still sees the task as
// out-of-date.
func (r RunOnChanges) PostRun(result TaskResult) error {
	if !result.Succeeded() {
		return nil
	}
	if err := r.Cache.Call(r.Inputs, r.Key); err != nil {
		return err
	}
	return r.Cache.Call(r.Outputs, r.Key)
}

// RunAtMostEvery runs a task iff its invocation fingerprint changed since
// the last run, or at least period has elapsed since the last run, or it
// has never run.
type RunAtMostEvery struct {
	Period time.Duration
	Cache  *cache.Cache

	// nowFn is overridable in tests.
	nowFn func() time.Time
}

func (r RunAtMostEvery) now() time.Time {
	if r.nowFn != nil {
		return r.nowFn()
	}
	return time.Now()
}

// ShouldRun implements RunCondition.
func (r RunAtMostEvery) ShouldRun(invocation TaskInvocation) (bool, error) {
	changed, err := r.Cache.HasTaskInvocationChanged(invocation.Name, invocation.Args)
	if err != nil {
		return false, err
	}
	if changed {
		return true, nil
	}
	last, ok, err := r.Cache.GetLatestInvocationTime(invocation.Name)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return r.now().Sub(last) >= r.Period, nil
}

// PostRun re-records the invocation time only when the task succeeded; the
// executor also calls it for failed tasks, which leave the cache untouched.
func (r RunAtMostEvery) PostRun(result TaskResult) error {
	if !result.Succeeded() {
		return nil
	}
	return r.Cache.CacheTaskInvocation(result.Invocation.Name, result.Invocation.Args)
}

// RunToDelete runs a task iff any of its deletion targets still exist. The
// handler is expected to delete them; PostRun is therefore a no-op.
type RunToDelete struct {
	Targets FileCollection
}

// ShouldRun implements RunCondition.
func (r RunToDelete) ShouldRun(TaskInvocation) (bool, error) {
	for _, f := range r.Targets.ResolveFiles() {
		if pathExists(f) {
			return true, nil
		}
	}
	for _, d := range r.Targets.ResolveDirectories() {
		if pathExists(d) {
			return true, nil
		}
	}
	return false, nil
}

// PostRun implements RunCondition; deletion is the handler's job.
func (RunToDelete) PostRun(TaskResult) error { return nil }

// AndCondition runs iff every child condition would run; it short-circuits
// on the first false.
type AndCondition []RunCondition

// ShouldRun implements RunCondition.
func (a AndCondition) ShouldRun(invocation TaskInvocation) (bool, error) {
	for _, c := range a {
		should, err := c.ShouldRun(invocation)
		if err != nil {
			return false, err
		}
		if !should {
			return false, nil
		}
	}
	return true, nil
}

// PostRun fans out to every child condition.
func (a AndCondition) PostRun(result TaskResult) error {
	for _, c := range a {
		if err := c.PostRun(result); err != nil {
			return err
		}
	}
	return nil
}

// OrCondition runs iff any child condition would run; it short-circuits on
// the first true.
type OrCondition []RunCondition

// ShouldRun implements RunCondition.
func (o OrCondition) ShouldRun(invocation TaskInvocation) (bool, error) {
	for _, c := range o {
		should, err := c.ShouldRun(invocation)
		if err != nil {
			return false, err
		}
		if should {
			return true, nil
		}
	}
	return false, nil
}

// PostRun fans out to every child condition.
func (o OrCondition) PostRun(result TaskResult) error {
	for _, c := range o {
		if err := c.PostRun(result); err != nil {
			return err
		}
	}
	return nil
}

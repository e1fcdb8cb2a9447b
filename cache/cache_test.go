package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCollection is a minimal Collection for exercising Cache directly,
// without pulling in the root dartle package's FileCollection.
type fakeCollection []Entry

func (f fakeCollection) ResolveEntries() []Entry { return []Entry(f) }

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := New(t.TempDir())
	require.NoError(t, c.Init())
	return c
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestInitCreatesLayout(t *testing.T) {
	c := newTestCache(t)
	assert.DirExists(t, filepath.Join(c.Root(), hashesDirName))
	assert.DirExists(t, filepath.Join(c.Root(), tasksDirName))
	assert.FileExists(t, filepath.Join(c.Root(), versionFile))
}

func TestInitWipesMismatchedVersion(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	require.NoError(t, c.Init())

	stale := filepath.Join(dir, hashesDirName, "stale.txt")
	writeFile(t, stale, "leftover")
	require.NoError(t, os.WriteFile(filepath.Join(dir, versionFile), []byte("0"), 0o644))

	c2 := New(dir)
	require.NoError(t, c2.Init())
	assert.NoFileExists(t, stale)
}

func TestCallAndHasChangedFile(t *testing.T) {
	c := newTestCache(t)
	f := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, f, "hello")
	coll := fakeCollection{{Path: f}}

	changed, err := c.HasChanged(coll, "")
	require.NoError(t, err)
	assert.True(t, changed, "never-cached file reports changed")

	require.NoError(t, c.Call(coll, ""))

	changed, err = c.HasChanged(coll, "")
	require.NoError(t, err)
	assert.False(t, changed)

	writeFile(t, f, "goodbye")
	changed, err = c.HasChanged(coll, "")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestHasChangedEmptyCollectionNeverChanges(t *testing.T) {
	c := newTestCache(t)
	changed, err := c.HasChanged(fakeCollection{}, "")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCallAndHasChangedDir(t *testing.T) {
	c := newTestCache(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.txt"), "1")
	coll := fakeCollection{{Path: dir, IsDir: true}}

	require.NoError(t, c.Call(coll, ""))
	changed, err := c.HasChanged(coll, "")
	require.NoError(t, err)
	assert.False(t, changed)

	writeFile(t, filepath.Join(dir, "two.txt"), "2")
	changed, err = c.HasChanged(coll, "")
	require.NoError(t, err)
	assert.True(t, changed, "adding a child changes the directory fingerprint")
}

func TestFindChangesClassifiesKinds(t *testing.T) {
	c := newTestCache(t)
	dir := t.TempDir()
	kept := filepath.Join(dir, "kept.txt")
	removed := filepath.Join(dir, "removed.txt")
	writeFile(t, kept, "a")
	writeFile(t, removed, "b")

	coll := fakeCollection{{Path: kept}, {Path: removed}}
	require.NoError(t, c.Call(coll, ""))

	added := filepath.Join(dir, "added.txt")
	writeFile(t, added, "c")
	writeFile(t, kept, "a-modified")
	require.NoError(t, os.Remove(removed))

	next := fakeCollection{{Path: kept}, {Path: added}, {Path: removed}}
	changes, err := c.FindChanges(next, "")
	require.NoError(t, err)

	byEntity := map[string]ChangeKind{}
	for _, ch := range changes {
		byEntity[ch.Entity] = ch.Kind
	}
	assert.Equal(t, Modified, byEntity[kept])
	assert.Equal(t, Added, byEntity[added])
	assert.Equal(t, Deleted, byEntity[removed])
}

func TestKeyedScopesAreIsolated(t *testing.T) {
	c := newTestCache(t)
	f := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, f, "hello")
	coll := fakeCollection{{Path: f}}

	require.NoError(t, c.Call(coll, "scope-a"))

	changed, err := c.HasChanged(coll, "scope-b")
	require.NoError(t, err)
	assert.True(t, changed, "a different key scope must not see scope-a's recorded hash")

	changed, err = c.HasChanged(coll, "scope-a")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestContains(t *testing.T) {
	c := newTestCache(t)
	f := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, f, "hello")
	coll := fakeCollection{{Path: f}}

	assert.False(t, c.Contains(f, ""))
	require.NoError(t, c.Call(coll, ""))
	assert.True(t, c.Contains(f, ""))
}

func TestRemove(t *testing.T) {
	c := newTestCache(t)
	f := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, f, "hello")
	coll := fakeCollection{{Path: f}}

	require.NoError(t, c.Call(coll, ""))
	assert.True(t, c.Contains(f, ""))

	require.NoError(t, c.Remove(coll, ""))
	assert.False(t, c.Contains(f, ""))
}

func TestCleanSingleKeyPreservesOthers(t *testing.T) {
	c := newTestCache(t)
	fa := filepath.Join(t.TempDir(), "a.txt")
	fb := filepath.Join(t.TempDir(), "b.txt")
	writeFile(t, fa, "a")
	writeFile(t, fb, "b")

	require.NoError(t, c.Call(fakeCollection{{Path: fa}}, "keep"))
	require.NoError(t, c.Call(fakeCollection{{Path: fb}}, "wipe"))

	key := "wipe"
	require.NoError(t, c.Clean(CleanOptions{Key: &key}))

	assert.True(t, c.Contains(fa, "keep"))
	assert.False(t, c.Contains(fb, "wipe"))
}

func TestCleanAllWipesEveryScope(t *testing.T) {
	c := newTestCache(t)
	fa := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, fa, "a")
	require.NoError(t, c.Call(fakeCollection{{Path: fa}}, "scope"))

	require.NoError(t, c.Clean(CleanOptions{}))
	assert.False(t, c.Contains(fa, "scope"))
}

func TestCleanRespectsExclusions(t *testing.T) {
	c := newTestCache(t)
	fa := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, fa, "a")
	require.NoError(t, c.Call(fakeCollection{{Path: fa}}, ""))

	entryName := hashPath(fa)
	require.NoError(t, c.Clean(CleanOptions{Exclusions: []string{entryName}}))
	assert.True(t, c.Contains(fa, ""))
}

func TestTaskInvocationRoundTrip(t *testing.T) {
	c := newTestCache(t)

	changed, err := c.HasTaskInvocationChanged("build", []string{"--release"})
	require.NoError(t, err)
	assert.True(t, changed, "never-cached task reports changed")

	require.NoError(t, c.CacheTaskInvocation("build", []string{"--release"}))

	changed, err = c.HasTaskInvocationChanged("build", []string{"--release"})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = c.HasTaskInvocationChanged("build", []string{"--debug"})
	require.NoError(t, err)
	assert.True(t, changed, "different args fingerprint must differ")
}

func TestGetLatestInvocationTime(t *testing.T) {
	c := newTestCache(t)

	_, ok, err := c.GetLatestInvocationTime("build")
	require.NoError(t, err)
	assert.False(t, ok)

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	nowFn = func() time.Time { return fixed }
	defer func() { nowFn = time.Now }()

	require.NoError(t, c.CacheTaskInvocation("build", nil))
	when, ok, err := c.GetLatestInvocationTime("build")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, when.Equal(fixed))
}

func TestRemoveTaskInvocation(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.CacheTaskInvocation("build", []string{"x"}))

	changed, err := c.HasTaskInvocationChanged("build", []string{"x"})
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, c.RemoveTaskInvocation("build"))

	changed, err = c.HasTaskInvocationChanged("build", []string{"x"})
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestRemoveNotMatchingPrunesTasksAndScopes(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.CacheTaskInvocation("build", nil))
	require.NoError(t, c.CacheTaskInvocation("test", nil))

	f := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, f, "a")
	require.NoError(t, c.Call(fakeCollection{{Path: f}}, "keep-scope"))
	require.NoError(t, c.Call(fakeCollection{{Path: f}}, "stale-scope"))

	require.NoError(t, c.RemoveNotMatching([]string{"build"}, []string{"keep-scope"}))

	changed, err := c.HasTaskInvocationChanged("build", nil)
	require.NoError(t, err)
	assert.False(t, changed, "build's record must survive")

	changed, err = c.HasTaskInvocationChanged("test", nil)
	require.NoError(t, err)
	assert.True(t, changed, "test's record must be pruned")

	assert.True(t, c.Contains(f, "keep-scope"))
	assert.False(t, c.Contains(f, "stale-scope"))
}

func TestRemoveNotMatchingKeepsDefaultScope(t *testing.T) {
	c := newTestCache(t)
	f := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, f, "a")
	require.NoError(t, c.Call(fakeCollection{{Path: f}}, ""))

	require.NoError(t, c.RemoveNotMatching(nil, nil))
	assert.True(t, c.Contains(f, ""), "the default scope is never pruned")
}

func TestGetExecutablesLocation(t *testing.T) {
	c := newTestCache(t)
	got := c.GetExecutablesLocation("helper")
	assert.Equal(t, filepath.Join(c.Root(), binDirName, "helper"), got)
}

func TestDisabledCacheSkipsWrites(t *testing.T) {
	c := newTestCache(t)
	c.Disabled = true

	f := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, f, "a")
	coll := fakeCollection{{Path: f}}

	require.NoError(t, c.Call(coll, ""))
	changed, err := c.HasChanged(coll, "")
	require.NoError(t, err)
	assert.True(t, changed, "a disabled cache always reports changed and never persists")
	assert.False(t, c.Contains(f, ""), "Call on a disabled cache must not write an entry")
}

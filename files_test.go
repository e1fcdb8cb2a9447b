package dartle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	full := filepath.Join(dir, rel)
	assert.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	assert.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

func TestFileCollectionSingleFile(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "a.txt", "hello")
	fc := File(f)
	assert.Equal(t, []string{normalizePath(f)}, fc.ResolveFiles())
	assert.True(t, fc.Includes(f))
	assert.False(t, fc.Includes(filepath.Join(dir, "b.txt")))
}

func TestDirCollectionRecurseAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/a.go", "package a")
	writeFile(t, dir, "src/b.txt", "not go")
	writeFile(t, dir, "src/.hidden.go", "hidden")
	writeFile(t, dir, "src/sub/c.go", "package sub")

	fc := Dir(filepath.Join(dir, "src"), DirOptions{Recurse: true, Extensions: []string{".go"}})
	files := fc.ResolveFiles()

	assert.Contains(t, files, normalizePath(filepath.Join(dir, "src/a.go")))
	assert.Contains(t, files, normalizePath(filepath.Join(dir, "src/sub/c.go")))
	assert.NotContains(t, files, normalizePath(filepath.Join(dir, "src/b.txt")))
	assert.NotContains(t, files, normalizePath(filepath.Join(dir, "src/.hidden.go")))
}

func TestDirCollectionExclusions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/keep.go", "package a")
	writeFile(t, dir, "src/vendor/skip.go", "package vendor")

	fc := Dir(filepath.Join(dir, "src"), DirOptions{
		Recurse:    true,
		Extensions: []string{"go"},
		Exclusions: []string{"vendor"},
	})
	files := fc.ResolveFiles()
	assert.Contains(t, files, normalizePath(filepath.Join(dir, "src/keep.go")))
	assert.NotContains(t, files, normalizePath(filepath.Join(dir, "src/vendor/skip.go")))
}

func TestFileCollectionIntersection(t *testing.T) {
	// foo writes out.txt, bar reads out.txt: their intersection should
	// surface the clash without either file needing to exist on disk.
	outputs := File("out.txt")
	inputs := File("out.txt")
	clash := outputs.Intersection(inputs)
	assert.Equal(t, []string{normalizePath("out.txt")}, clash)

	disjoint := File("a.txt").Intersection(File("b.txt"))
	assert.Empty(t, disjoint)
}

func TestDirIntersectionWithFile(t *testing.T) {
	dirCollection := Dir("build", DirOptions{Recurse: true, Extensions: []string{"txt"}})
	fileCollection := File(filepath.Join("build", "report.txt"))
	clash := dirCollection.Intersection(fileCollection)
	assert.Equal(t, []string{normalizePath(filepath.Join("build", "report.txt"))}, clash)

	outsideFile := File(filepath.Join("other", "report.txt"))
	assert.Empty(t, dirCollection.Intersection(outsideFile))
}

func TestUnionCollection(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "a")
	b := writeFile(t, dir, "b.txt", "b")
	fc := Union(File(a), File(b))
	files := fc.ResolveFiles()
	assert.ElementsMatch(t, []string{normalizePath(a), normalizePath(b)}, files)
}

func TestEmptyCollection(t *testing.T) {
	assert.True(t, Empty.IsEmpty())
	assert.Empty(t, Empty.ResolveFiles())
	assert.False(t, Empty.Includes("whatever"))
}

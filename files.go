package dartle

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/renatoathaydes/dartle/cache"
	"github.com/spf13/afero"
)

// osFs is the filesystem FileCollection resolution runs against. It is a
// package variable (rather than threaded through every call) so that tests
// can substitute an in-memory afero.Fs without changing any FileCollection
// call site, the same trick the teacher's internal/globby package uses.
var osFs afero.Fs = afero.NewOsFs()

// Entry is one resolved filesystem entity.
type Entry struct {
	Path  string
	IsDir bool
}

// FileCollection is a tagged value describing a set of files and/or
// directories: either an explicit list of paths, a directory with filters,
// or a composition (union) of other collections.
type FileCollection struct {
	kind ccKind

	paths []string // kind == ccFiles

	root          string // kind == ccDir
	recurse       bool
	includeHidden bool
	extensions    []string
	exclusions    []string // basenames or glob patterns (doublestar)

	parts []FileCollection // kind == ccUnion
}

type ccKind int

const (
	ccEmpty ccKind = iota
	ccFiles
	ccDir
	ccUnion
)

// Empty is a FileCollection that resolves nothing.
var Empty = FileCollection{kind: ccEmpty}

// IsEmpty reports whether this collection is the Empty collection. A union
// of collections is never considered empty even if every part is.
func (c FileCollection) IsEmpty() bool { return c.kind == ccEmpty }

// File returns a FileCollection for a single path.
func File(path string) FileCollection {
	return FileCollection{kind: ccFiles, paths: []string{normalizePath(path)}}
}

// Files returns a FileCollection for an explicit list of paths.
func Files(paths []string) FileCollection {
	normalized := make([]string, len(paths))
	for i, p := range paths {
		normalized[i] = normalizePath(p)
	}
	return FileCollection{kind: ccFiles, paths: normalized}
}

// DirOptions configures a Dir FileCollection.
type DirOptions struct {
	Recurse       bool
	IncludeHidden bool
	// Extensions, when non-empty, restricts matched files to these
	// extensions (with or without a leading dot). Directories are never
	// filtered by extension.
	Extensions []string
	// Exclusions matches by basename, or as a doublestar glob pattern
	// when it contains a glob meta-character.
	Exclusions []string
}

// Dir returns a FileCollection rooted at root.
func Dir(root string, opts DirOptions) FileCollection {
	exts := make([]string, len(opts.Extensions))
	for i, e := range opts.Extensions {
		exts[i] = strings.TrimPrefix(e, ".")
	}
	return FileCollection{
		kind:          ccDir,
		root:          normalizePath(root),
		recurse:       opts.Recurse,
		includeHidden: opts.IncludeHidden,
		extensions:    exts,
		exclusions:    opts.Exclusions,
	}
}

// Dirs returns a union of Dir collections, one per root, all sharing opts.
func Dirs(roots []string, opts DirOptions) FileCollection {
	parts := make([]FileCollection, len(roots))
	for i, r := range roots {
		parts[i] = Dir(r, opts)
	}
	return Union(parts...)
}

// Union composes several collections into one.
func Union(parts ...FileCollection) FileCollection {
	return FileCollection{kind: ccUnion, parts: parts}
}

func normalizePath(p string) string {
	return filepath.Clean(filepath.FromSlash(p))
}

// pathExists reports whether path exists on the collection's filesystem.
func pathExists(path string) bool {
	_, err := osFs.Stat(path)
	return err == nil
}

func isHidden(basename string) bool {
	return strings.HasPrefix(basename, ".") && basename != "." && basename != ".."
}

func matchesExclusion(path, pattern string) bool {
	base := filepath.Base(path)
	if base == pattern {
		return true
	}
	if strings.ContainsAny(pattern, "*?[{") {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (c FileCollection) isExcluded(path string) bool {
	for _, pattern := range c.exclusions {
		if matchesExclusion(path, pattern) {
			return true
		}
	}
	return false
}

func (c FileCollection) acceptsExtension(path string) bool {
	if len(c.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, e := range c.extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// resolve walks the collection, invoking visit for every matching entry.
func (c FileCollection) resolve(visit func(Entry)) {
	switch c.kind {
	case ccEmpty:
		return
	case ccFiles:
		for _, p := range c.paths {
			isDir := false
			if info, err := osFs.Stat(p); err == nil {
				isDir = info.IsDir()
			}
			visit(Entry{Path: p, IsDir: isDir})
		}
	case ccDir:
		c.walkDir(c.root, visit)
	case ccUnion:
		for _, part := range c.parts {
			part.resolve(visit)
		}
	}
}

func (c FileCollection) walkDir(dir string, visit func(Entry)) {
	entries, err := afero.ReadDir(osFs, dir)
	if err != nil {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		name := e.Name()
		if !c.includeHidden && isHidden(name) {
			continue
		}
		full := filepath.Join(dir, name)
		if c.isExcluded(full) {
			continue
		}
		if e.IsDir() {
			visit(Entry{Path: full, IsDir: true})
			if c.recurse {
				c.walkDir(full, visit)
			}
			continue
		}
		if !c.acceptsExtension(full) {
			continue
		}
		visit(Entry{Path: full, IsDir: false})
	}
}

// ResolveFiles returns every file this collection resolves to, sorted.
func (c FileCollection) ResolveFiles() []string {
	var out []string
	c.resolve(func(e Entry) {
		if !e.IsDir {
			out = append(out, e.Path)
		}
	})
	sort.Strings(out)
	return out
}

// ResolveDirectories returns every directory this collection resolves to,
// sorted. For a Dir collection this includes its own root; the roots of
// Dir collections inside a Union are not included.
func (c FileCollection) ResolveDirectories() []string {
	var out []string
	if c.kind == ccDir {
		out = append(out, c.root)
	}
	c.resolve(func(e Entry) {
		if e.IsDir {
			out = append(out, e.Path)
		}
	})
	sort.Strings(out)
	return dedupSorted(out)
}

func dedupSorted(in []string) []string {
	out := in[:0]
	var last string
	first := true
	for _, v := range in {
		if first || v != last {
			out = append(out, v)
			last = v
			first = false
		}
	}
	return out
}

// Includes reports whether path would be resolved by this collection.
func (c FileCollection) Includes(path string) bool {
	path = normalizePath(path)
	found := false
	c.resolve(func(e Entry) {
		if !found && e.Path == path {
			found = true
		}
	})
	if found {
		return true
	}
	return c.accepts(path)
}

// accepts reports whether path would be admitted by this collection's own
// filters, without requiring it to actually exist on disk (used by
// Intersection, which must reason about paths that may belong to only one
// side's root).
func (c FileCollection) accepts(path string) bool {
	switch c.kind {
	case ccEmpty:
		return false
	case ccFiles:
		for _, p := range c.paths {
			if p == path {
				return true
			}
		}
		return false
	case ccUnion:
		for _, part := range c.parts {
			if part.accepts(path) {
				return true
			}
		}
		return false
	case ccDir:
		rel, err := filepath.Rel(c.root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return false
		}
		if rel == "." {
			return false
		}
		segments := strings.Split(filepath.ToSlash(rel), "/")
		if !c.recurse && len(segments) > 1 {
			return false
		}
		for i, seg := range segments {
			if !c.includeHidden && isHidden(seg) {
				return false
			}
			isLast := i == len(segments)-1
			partial := filepath.Join(append([]string{c.root}, segments[:i+1]...)...)
			if c.isExcluded(partial) {
				return false
			}
			if isLast && !c.acceptsExtension(partial) {
				return false
			}
		}
		return true
	}
	return false
}

// candidatePaths returns a small, finite set of concrete paths worth
// testing for Intersection: every path either side actually resolves, plus
// each side's explicit file paths. This keeps Intersection a pure,
// filter-based computation instead of requiring a full filesystem walk of
// an unrelated tree.
func (c FileCollection) candidatePaths() []string {
	set := map[string]struct{}{}
	c.resolve(func(e Entry) { set[e.Path] = struct{}{} })
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// ResolveEntries implements cache.Collection, giving the cache package a
// way to walk this collection without depending on the root dartle
// package.
func (c FileCollection) ResolveEntries() []cache.Entry {
	var out []cache.Entry
	c.resolve(func(e Entry) {
		out = append(out, cache.Entry{Path: e.Path, IsDir: e.IsDir})
	})
	return out
}

// Intersection returns the sorted set of paths that both c and other would
// resolve (by their own filters), regardless of which side actually
// enumerates them on disk.
func (c FileCollection) Intersection(other FileCollection) []string {
	seen := map[string]struct{}{}
	var out []string
	check := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		if c.accepts(p) && other.accepts(p) {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, p := range c.candidatePaths() {
		check(p)
	}
	for _, p := range other.candidatePaths() {
		check(p)
	}
	sort.Strings(out)
	return out
}

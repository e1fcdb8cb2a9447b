package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// version is bumped whenever the on-disk layout changes incompatibly; a
// mismatched version causes Init to wipe and recreate the cache root.
const version = "1"

const (
	hashesDirName = "hashes"
	tasksDirName  = "tasks"
	binDirName    = "bin"
	versionFile   = "version"
	lockFileName  = "lock"
	keyPrefix     = "D__"
	keySuffix     = "__D"
	dirSuffix     = ".dir"
)

// Cache is dartle's persisted, content-addressed cache. It is safe to
// delete the whole directory at any time; the next Init recreates it.
type Cache struct {
	root     string
	Disabled bool

	mu sync.Mutex
}

// New returns a Cache rooted at root. Call Init before using it.
func New(root string) *Cache {
	return &Cache{root: root}
}

// Root returns the cache's root directory.
func (c *Cache) Root() string { return c.root }

// Init creates the cache root if missing, wiping and recreating it if the
// on-disk version doesn't match this build's version.
func (c *Cache) Init() error {
	if c.Disabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return errors.Wrap(err, "creating cache root")
	}

	fl := flock.New(filepath.Join(c.root, lockFileName))
	if err := fl.Lock(); err != nil {
		return errors.Wrap(err, "locking cache root")
	}
	defer fl.Unlock()

	versionPath := filepath.Join(c.root, versionFile)
	existing, err := os.ReadFile(versionPath)
	if err == nil && strings.TrimSpace(string(existing)) == version {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "reading cache version")
	}

	// Version missing or mismatched: wipe everything except the lock file
	// itself (still held) and recreate.
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return errors.Wrap(err, "reading cache root")
	}
	for _, e := range entries {
		if e.Name() == lockFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return errors.Wrap(err, "wiping stale cache")
		}
	}
	if err := os.MkdirAll(filepath.Join(c.root, hashesDirName), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(c.root, tasksDirName), 0o755); err != nil {
		return err
	}
	return os.WriteFile(versionPath, []byte(version), 0o644)
}

func (c *Cache) scopeDir(key string) string {
	if key == "" {
		return filepath.Join(c.root, hashesDirName)
	}
	return filepath.Join(c.root, hashesDirName, keyPrefix+key+keySuffix)
}

func (c *Cache) fileHashEntryPath(key, path string) string {
	return filepath.Join(c.scopeDir(key), hashPath(path))
}

func (c *Cache) dirFingerprintEntryPath(key, path string) string {
	return filepath.Join(c.scopeDir(key), hashPath(path)+dirSuffix)
}

func (c *Cache) readEntry(path string) (string, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "reading cache entry")
	}
	return string(b), true, nil
}

func (c *Cache) writeEntry(path, value string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating cache scope dir")
	}
	return errors.Wrap(os.WriteFile(path, []byte(value), 0o644), "writing cache entry")
}

// Call hashes every file in the collection and records each directory's
// children fingerprint, all under the given key scope ("" for the default
// scope).
func (c *Cache) Call(collection Collection, key string) error {
	if c.Disabled {
		return nil
	}
	for _, e := range collection.ResolveEntries() {
		if e.IsDir {
			fp, ok, err := childFingerprint(e.Path)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := c.writeEntry(c.dirFingerprintEntryPath(key, e.Path), fp); err != nil {
				return err
			}
			continue
		}
		h, err := hashFile(e.Path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "hashing %s", e.Path)
		}
		if err := c.writeEntry(c.fileHashEntryPath(key, e.Path), h); err != nil {
			return err
		}
	}
	return nil
}

// HasChanged reports whether any entry in the collection differs from its
// last recorded value, is newly present with no recorded value, or was
// previously recorded and no longer exists. An empty collection reports
// unchanged, unless the cache is disabled: a disabled cache reports every
// collection as changed.
func (c *Cache) HasChanged(collection Collection, key string) (bool, error) {
	if c.Disabled {
		return true, nil
	}
	entries := collection.ResolveEntries()
	if len(entries) == 0 {
		return false, nil
	}
	for _, e := range entries {
		changed, err := c.entryChanged(e, key)
		if err != nil {
			return false, err
		}
		if changed {
			return true, nil
		}
	}
	return false, nil
}

func (c *Cache) entryChanged(e Entry, key string) (bool, error) {
	if e.IsDir {
		current, existsOnDisk, err := childFingerprint(e.Path)
		if err != nil {
			return false, err
		}
		stored, hadEntry, err := c.readEntry(c.dirFingerprintEntryPath(key, e.Path))
		if err != nil {
			return false, err
		}
		if !hadEntry {
			return existsOnDisk, nil
		}
		if !existsOnDisk {
			return true, nil
		}
		return stored != current, nil
	}

	current, err := hashFile(e.Path)
	existsOnDisk := err == nil
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	stored, hadEntry, err := c.readEntry(c.fileHashEntryPath(key, e.Path))
	if err != nil {
		return false, err
	}
	if !hadEntry {
		return existsOnDisk, nil
	}
	if !existsOnDisk {
		return true, nil
	}
	return stored != current, nil
}

// FindChanges enumerates the added/modified/deleted entries in the
// collection, sorted lexicographically by entity.
func (c *Cache) FindChanges(collection Collection, key string) (ChangeSet, error) {
	var changes ChangeSet
	for _, e := range collection.ResolveEntries() {
		kind, changed, err := c.classify(e, key)
		if err != nil {
			return nil, err
		}
		if changed {
			changes = append(changes, Change{Kind: kind, Entity: e.Path, IsDir: e.IsDir})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Entity < changes[j].Entity })
	return changes, nil
}

func (c *Cache) classify(e Entry, key string) (ChangeKind, bool, error) {
	var entryPath string
	var current string
	var existsOnDisk bool
	var err error

	if e.IsDir {
		entryPath = c.dirFingerprintEntryPath(key, e.Path)
		current, existsOnDisk, err = childFingerprint(e.Path)
		if err != nil {
			return 0, false, err
		}
	} else {
		entryPath = c.fileHashEntryPath(key, e.Path)
		current, err = hashFile(e.Path)
		existsOnDisk = err == nil
		if err != nil && !os.IsNotExist(err) {
			return 0, false, err
		}
	}

	stored, hadEntry, err := c.readEntry(entryPath)
	if err != nil {
		return 0, false, err
	}

	switch {
	case !hadEntry && existsOnDisk:
		return Added, true, nil
	case hadEntry && !existsOnDisk:
		return Deleted, true, nil
	case hadEntry && existsOnDisk && stored != current:
		return Modified, true, nil
	default:
		return 0, false, nil
	}
}

// Contains reports whether a cached hash/fingerprint exists for entity
// under key.
func (c *Cache) Contains(entity string, key string) bool {
	if _, ok, _ := c.readEntry(c.fileHashEntryPath(key, entity)); ok {
		return true
	}
	_, ok, _ := c.readEntry(c.dirFingerprintEntryPath(key, entity))
	return ok
}

// Remove deletes the cached entries for everything in the collection,
// under key.
func (c *Cache) Remove(collection Collection, key string) error {
	for _, e := range collection.ResolveEntries() {
		var path string
		if e.IsDir {
			path = c.dirFingerprintEntryPath(key, e.Path)
		} else {
			path = c.fileHashEntryPath(key, e.Path)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "removing cache entry")
		}
	}
	return nil
}

// CleanOptions configures Clean.
type CleanOptions struct {
	// Key, if non-nil, restricts the wipe to that single scope. A nil Key
	// wipes every scope.
	Key *string
	// Exclusions is a list of basenames to preserve.
	Exclusions []string
}

// Clean wipes the cache (or a single key scope), preserving any excluded
// basenames.
func (c *Cache) Clean(opts CleanOptions) error {
	var dirs []string
	if opts.Key != nil {
		dirs = []string{c.scopeDir(*opts.Key)}
	} else {
		base := filepath.Join(c.root, hashesDirName)
		entries, err := os.ReadDir(base)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			dirs = append(dirs, filepath.Join(base, e.Name()))
		}
		dirs = append(dirs, filepath.Join(c.root, tasksDirName))
	}

	excluded := map[string]bool{}
	for _, x := range opts.Exclusions {
		excluded[x] = true
	}

	for _, dir := range dirs {
		if excluded[filepath.Base(dir)] {
			continue
		}
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			// A default-scope hash entry, stored directly under hashes/.
			if err := os.Remove(dir); err != nil {
				return err
			}
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, e := range entries {
			if excluded[e.Name()] {
				continue
			}
			if opts.Key != nil && *opts.Key == "" && e.IsDir() {
				continue // keyed scopes nested under the default scope's dir
			}
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// invocationRecord is the persisted shape of a task's most recent
// successful invocation.
type invocationRecord struct {
	Args        []string `json:"args" mapstructure:"args"`
	Fingerprint string   `json:"fingerprint" mapstructure:"fingerprint"`
	Timestamp   int64    `json:"timestamp" mapstructure:"timestamp"`
}

func (c *Cache) taskRecordPath(name string) string {
	return filepath.Join(c.root, tasksDirName, hashPath(name))
}

// nowFn is overridable in tests.
var nowFn = func() time.Time { return time.Now() }

// CacheTaskInvocation stores (args, now()) as the latest invocation record
// for name.
func (c *Cache) CacheTaskInvocation(name string, args []string) error {
	if c.Disabled {
		return nil
	}
	record := invocationRecord{Args: args, Fingerprint: fingerprintArgs(args), Timestamp: nowFn().UnixNano()}
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	path := c.taskRecordPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, b, 0o644), "writing task invocation record")
}

func (c *Cache) readTaskRecord(name string) (*invocationRecord, error) {
	b, err := os.ReadFile(c.taskRecordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading task invocation record")
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing task invocation record")
	}
	var record invocationRecord
	if err := mapstructure.Decode(raw, &record); err != nil {
		return nil, errors.Wrap(err, "decoding task invocation record")
	}
	return &record, nil
}

// HasTaskInvocationChanged reports whether there is no prior record for
// name, or the stored argument fingerprint differs from args'.
func (c *Cache) HasTaskInvocationChanged(name string, args []string) (bool, error) {
	if c.Disabled {
		return true, nil
	}
	record, err := c.readTaskRecord(name)
	if err != nil {
		return false, err
	}
	if record == nil {
		return true, nil
	}
	return record.Fingerprint != fingerprintArgs(args), nil
}

// GetLatestInvocationTime returns the timestamp of the latest recorded
// invocation of name, if any.
func (c *Cache) GetLatestInvocationTime(name string) (time.Time, bool, error) {
	record, err := c.readTaskRecord(name)
	if err != nil {
		return time.Time{}, false, err
	}
	if record == nil {
		return time.Time{}, false, nil
	}
	return time.Unix(0, record.Timestamp), true, nil
}

// RemoveTaskInvocation deletes the invocation record for name.
func (c *Cache) RemoveTaskInvocation(name string) error {
	err := os.Remove(c.taskRecordPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveNotMatching garbage-collects invocation records whose task name is
// not in taskNames, and hash scopes whose key is not in keys. The default
// scope is never removed.
func (c *Cache) RemoveNotMatching(taskNames []string, keys []string) error {
	wantedTasks := map[string]bool{}
	for _, n := range taskNames {
		wantedTasks[hashPath(n)] = true
	}
	tasksDir := filepath.Join(c.root, tasksDirName)
	if entries, err := os.ReadDir(tasksDir); err == nil {
		for _, e := range entries {
			if !wantedTasks[e.Name()] {
				_ = os.Remove(filepath.Join(tasksDir, e.Name()))
			}
		}
	}

	wantedKeys := map[string]bool{}
	for _, k := range keys {
		wantedKeys[keyPrefix+k+keySuffix] = true
	}
	hashesDir := filepath.Join(c.root, hashesDirName)
	entries, err := os.ReadDir(hashesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() {
			continue // default-scope hash files live directly here; keep them
		}
		if strings.HasPrefix(name, keyPrefix) && strings.HasSuffix(name, keySuffix) && !wantedKeys[name] {
			if err := os.RemoveAll(filepath.Join(hashesDir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetExecutablesLocation returns the canonical path under the cache's
// bin/ directory for a compiled helper binary.
func (c *Cache) GetExecutablesLocation(file string) string {
	return filepath.Join(c.root, binDirName, file)
}

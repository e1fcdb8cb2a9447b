// Package cache implements dartle's persisted, content-addressed cache:
// file and directory hashing, keyed scopes, task-invocation fingerprints
// and change detection, as used by the run-condition implementations.
package cache

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// hashBytes returns the hex-encoded 64-bit xxhash of b.
func hashBytes(b []byte) string {
	sum := xxhash.Sum64(b)
	return fmt.Sprintf("%016x", sum)
}

// hashFile returns the hex-encoded content hash of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashPath returns the filename-safe hash used to name a cache entry for a
// normalized path.
func hashPath(path string) string {
	return hashBytes([]byte(normalizePath(path)))
}

// normalizePath converts path to the platform's canonical form, the same
// representation FileCollection normalizes to, so that path-derived hashes
// are stable regardless of how a caller spelled the separator.
func normalizePath(path string) string {
	return filepath.Clean(filepath.FromSlash(path))
}

// childFingerprint hashes the sorted list of a directory's direct children
// (name + kind), used as the "directory fingerprint" of §4.4. Renaming,
// adding, deleting, or changing a child's file/dir kind changes this value.
func childFingerprint(dir string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	names := make([]string, len(entries))
	kind := make(map[string]bool, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
		kind[e.Name()] = e.IsDir()
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, n := range names {
		sb.WriteString(n)
		if kind[n] {
			sb.WriteString("/d;")
		} else {
			sb.WriteString("/f;")
		}
	}
	return hashBytes([]byte(sb.String())), true, nil
}

// fingerprintArgs returns a stable, order-sensitive representation of a
// task invocation's arguments, used as the task-invocation fingerprint.
func fingerprintArgs(args []string) string {
	return hashBytes([]byte(strings.Join(args, "\x00")))
}

package dartle

import (
	"testing"

	"github.com/renatoathaydes/dartle/cache"
)

// newTestCache returns a Cache rooted at a fresh temp directory, already
// initialized.
func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c := cache.New(t.TempDir())
	if err := c.Init(); err != nil {
		t.Fatalf("initializing cache: %v", err)
	}
	return c
}

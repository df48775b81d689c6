package naming

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Claims tracks the output paths handed out during one run so two sources
// that derive the same name (same recording twice, same custom name) get
// distinct files. Duplicates become "<stem>_2.mp4", "<stem>_3.mp4", ....
// All methods are goroutine-safe.
type Claims struct {
	mu     sync.Mutex
	owners map[string]string // output path -> source that owns it
	next   map[string]int    // requested path -> next suffix to try
}

// NewClaims creates an empty claim set.
func NewClaims() *Claims {
	return &Claims{
		owners: make(map[string]string),
		next:   make(map[string]int),
	}
}

// Claim returns the output path source should write. The requested path is
// returned as-is when free or already owned by source.
func (c *Claims) Claim(source, requested string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if owner, taken := c.owners[requested]; !taken || owner == source {
		c.owners[requested] = source
		return requested
	}

	dir := filepath.Dir(requested)
	ext := filepath.Ext(requested)
	stem := strings.TrimSuffix(filepath.Base(requested), ext)

	n := c.next[requested]
	if n < 2 {
		n = 2
	}
	for {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
		if owner, taken := c.owners[candidate]; !taken || owner == source {
			c.next[requested] = n + 1
			c.owners[candidate] = source
			return candidate
		}
		n++
	}
}

package signer

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"sync"
	"time"
)

type cachedKey struct {
	key     ed25519.PrivateKey
	size    int64
	modTime time.Time
}

// KeyCache holds parsed private keys keyed by file path. An entry is
// reloaded when the file's size or modification time changes.
type KeyCache struct {
	mu      sync.Mutex
	entries map[string]cachedKey
}

func NewKeyCache() *KeyCache {
	return &KeyCache{entries: make(map[string]cachedKey)}
}

// Get returns the key at path, loading it on first use or after a change.
func (c *KeyCache) Get(path string) (ed25519.PrivateKey, error) {
	fi, err := os.Stat(path)
	if err != nil {
		c.Invalidate(path)
		return nil, fmt.Errorf("%w: stat key file: %v", ErrKeyLoad, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[path]; ok && e.size == fi.Size() && e.modTime.Equal(fi.ModTime()) {
		return e.key, nil
	}

	key, err := LoadPrivateKey(path)
	if err != nil {
		delete(c.entries, path)
		return nil, err
	}
	c.entries[path] = cachedKey{key: key, size: fi.Size(), modTime: fi.ModTime()}
	return key, nil
}

// Invalidate drops the cached key for path.
func (c *KeyCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

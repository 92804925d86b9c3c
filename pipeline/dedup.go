package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultDedupCacheSize bounds the in-process fingerprint cache.
const DefaultDedupCacheSize = 10000

// Fingerprint identifies a raw log for duplicate detection. Surrounding
// whitespace is ignored.
func Fingerprint(rawLog string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(rawLog)))
	return hex.EncodeToString(sum[:])
}

// LocalDedup keeps fingerprint claims in an expiring LRU. It only sees
// submissions to this process; use storage.RedisDedup across instances.
type LocalDedup struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, string]
}

// NewLocalDedup creates a cache holding up to size claims for window each.
func NewLocalDedup(size int, window time.Duration) *LocalDedup {
	if size <= 0 {
		size = DefaultDedupCacheSize
	}
	return &LocalDedup{cache: expirable.NewLRU[string, string](size, nil, window)}
}

// Claim implements Dedup.
func (d *LocalDedup) Claim(_ context.Context, fingerprint, incidentID string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.cache.Get(fingerprint); ok {
		return existing, false, nil
	}
	d.cache.Add(fingerprint, incidentID)
	return incidentID, true, nil
}

// Release implements Dedup.
func (d *LocalDedup) Release(_ context.Context, fingerprint string) error {
	d.cache.Remove(fingerprint)
	return nil
}

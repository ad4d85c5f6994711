package similarity

import (
	"sync"
	"time"

	"github.com/iamwavecut/ngguard/internal/fingerprint"
)

type (
	ImageEntry struct {
		Hash      fingerprint.Hash
		ChatID    int64
		MessageID int
		AddedAt   time.Time
	}

	// ImageCache keeps perceptual hashes of confirmed spam images in a FIFO
	// ring. Two hashes match when their Hamming distance is within maxDistance.
	ImageCache struct {
		mu          sync.RWMutex
		capacity    int
		maxDistance int
		entries     []ImageEntry
	}
)

func NewImageCache(capacity, maxDistance int) *ImageCache {
	if capacity <= 0 {
		capacity = 1
	}
	if maxDistance < 0 {
		maxDistance = 0
	}
	return &ImageCache{capacity: capacity, maxDistance: maxDistance}
}

func (c *ImageCache) IsSpamImage(hash fingerprint.Hash) bool {
	_, ok := c.Match(hash)
	return ok
}

// Match returns the closest cached entry within the distance bound.
func (c *ImageCache) Match(hash fingerprint.Hash) (ImageEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matchLocked(hash)
}

// AddSpamImage stores entry unless a near-equal hash is already cached.
func (c *ImageCache) AddSpamImage(entry ImageEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.matchLocked(entry.Hash); ok {
		return false
	}
	if len(c.entries) >= c.capacity {
		c.entries = append(c.entries[:0], c.entries[len(c.entries)-c.capacity+1:]...)
	}
	c.entries = append(c.entries, entry)
	return true
}

func (c *ImageCache) Load(entries []ImageEntry) int {
	added := 0
	for _, entry := range entries {
		if c.AddSpamImage(entry) {
			added++
		}
	}
	return added
}

func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ImageCache) matchLocked(hash fingerprint.Hash) (ImageEntry, bool) {
	best, bestDistance := -1, c.maxDistance+1
	for i := range c.entries {
		if d := fingerprint.Distance(c.entries[i].Hash, hash); d < bestDistance {
			best, bestDistance = i, d
		}
	}
	if best < 0 {
		return ImageEntry{}, false
	}
	return c.entries[best], true
}

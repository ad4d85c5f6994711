package impersonation

import (
	"context"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type (
	Clock interface {
		Now() time.Time
	}

	realClock struct{}

	adminLister interface {
		ListAdmins(ctx context.Context, chatID int64) ([]Identity, error)
	}

	adminEntry struct {
		admins   []Identity
		cachedAt time.Time
	}

	// AdminCache holds each chat's admin roster and refreshes it on demand
	// once it is older than the TTL.
	AdminCache struct {
		ttl    time.Duration
		lister adminLister
		clock  Clock

		mu      sync.RWMutex
		entries map[int64]adminEntry
		group   singleflight.Group
	}
)

func (realClock) Now() time.Time { return time.Now() }

func NewAdminCache(ttl time.Duration, lister adminLister, clock Clock) *AdminCache {
	if clock == nil {
		clock = realClock{}
	}
	return &AdminCache{
		ttl:     ttl,
		lister:  lister,
		clock:   clock,
		entries: make(map[int64]adminEntry),
	}
}

// EnsureAdminCache refreshes a stale roster and reports whether a roster is
// available. A failed or empty fetch keeps whatever roster is cached.
func (c *AdminCache) EnsureAdminCache(ctx context.Context, chatID int64) bool {
	now := c.clock.Now()
	c.mu.RLock()
	entry, ok := c.entries[chatID]
	c.mu.RUnlock()
	if ok && now.Sub(entry.cachedAt) < c.ttl {
		return true
	}

	entryLog := c.getLogEntry().WithField("method", "EnsureAdminCache").WithField("chat_id", chatID)
	res, err, _ := c.group.Do(strconv.FormatInt(chatID, 10), func() (any, error) {
		return c.lister.ListAdmins(ctx, chatID)
	})
	if err != nil {
		entryLog.WithField("error", err.Error()).Warn("cant fetch admins, keeping cached roster")
		return ok
	}
	admins, _ := res.([]Identity)
	if len(admins) == 0 {
		entryLog.Warn("admin fetch returned nothing, keeping cached roster")
		return ok
	}

	c.mu.Lock()
	c.entries[chatID] = adminEntry{admins: append([]Identity(nil), admins...), cachedAt: c.clock.Now()}
	c.mu.Unlock()
	entryLog.WithField("count", len(admins)).Debug("admin roster refreshed")
	return true
}

func (c *AdminCache) Admins(chatID int64) []Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Identity(nil), c.entries[chatID].admins...)
}

func (c *AdminCache) IsAdmin(chatID, userID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, admin := range c.entries[chatID].admins {
		if admin.UserID == userID {
			return true
		}
	}
	return false
}

// Invalidate forces the next EnsureAdminCache for chatID to refetch while
// keeping the current roster as a fallback.
func (c *AdminCache) Invalidate(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[chatID]; ok {
		entry.cachedAt = time.Time{}
		c.entries[chatID] = entry
	}
}

func (c *AdminCache) getLogEntry() *log.Entry {
	return log.WithField("object", "AdminCache")
}

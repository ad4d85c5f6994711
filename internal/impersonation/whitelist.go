package impersonation

import (
	"sync"
	"time"
)

type (
	WhitelistEntry struct {
		Reason    string
		Timestamp time.Time
	}

	whitelistKey struct {
		chatID int64
		userID int64
	}

	// Whitelist remembers subjects cleared by an avatar check for a TTL.
	Whitelist struct {
		ttl   time.Duration
		clock Clock

		mu      sync.Mutex
		entries map[whitelistKey]WhitelistEntry
	}
)

func NewWhitelist(ttl time.Duration, clock Clock) *Whitelist {
	if clock == nil {
		clock = realClock{}
	}
	return &Whitelist{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[whitelistKey]WhitelistEntry),
	}
}

// Lookup returns a valid entry, purging it first when expired.
func (w *Whitelist) Lookup(chatID, userID int64) (WhitelistEntry, bool) {
	key := whitelistKey{chatID, userID}
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.entries[key]
	if !ok {
		return WhitelistEntry{}, false
	}
	if now.Sub(entry.Timestamp) >= w.ttl {
		delete(w.entries, key)
		return WhitelistEntry{}, false
	}
	return entry, true
}

func (w *Whitelist) IsWhitelisted(chatID, userID int64) bool {
	_, ok := w.Lookup(chatID, userID)
	return ok
}

func (w *Whitelist) Add(chatID, userID int64, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[whitelistKey{chatID, userID}] = WhitelistEntry{Reason: reason, Timestamp: w.clock.Now()}
}

func (w *Whitelist) Remove(chatID, userID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, whitelistKey{chatID, userID})
}

// Sweep removes entries expired as of now.
func (w *Whitelist) Sweep(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	removed := 0
	for key, entry := range w.entries {
		if now.Sub(entry.Timestamp) >= w.ttl {
			delete(w.entries, key)
			removed++
		}
	}
	return removed
}

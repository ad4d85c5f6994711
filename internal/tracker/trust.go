package tracker

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
)

type trustStore interface {
	GetTrustRecord(ctx context.Context, chatID, userID int64) (*db.TrustRecord, error)
	UpsertTrustRecord(ctx context.Context, record *db.TrustRecord) error
	DeleteTrustRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type TrustTracker struct {
	threshold int
	ttl       time.Duration
	store     trustStore
	clock     Clock

	mu      sync.Mutex
	records map[subject]*db.TrustRecord
}

type TrustOption func(*TrustTracker)

func WithTrustClock(clock Clock) TrustOption {
	return func(t *TrustTracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewTrustTracker creates a tracker. store may be nil for memory-only use.
func NewTrustTracker(cfg config.Trust, store trustStore, opts ...TrustOption) *TrustTracker {
	t := &TrustTracker{
		threshold: cfg.Threshold,
		ttl:       cfg.TTL,
		store:     store,
		clock:     realClock{},
		records:   make(map[subject]*db.TrustRecord),
	}
	if t.threshold <= 0 {
		t.threshold = 1
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TrustTracker) IsTrusted(ctx context.Context, chatID, userID int64) bool {
	t.ensureLoaded(ctx, chatID, userID)

	t.mu.Lock()
	defer t.mu.Unlock()
	record := t.records[subject{chatID, userID}]
	if record == nil || t.expired(record, t.clock.Now()) {
		return false
	}
	return record.Trusted
}

// RecordNormalMessage counts one confirmed non-spam message. Trusted records
// only get their timestamp refreshed.
func (t *TrustTracker) RecordNormalMessage(ctx context.Context, chatID, userID int64) db.TrustRecord {
	t.ensureLoaded(ctx, chatID, userID)
	now := t.clock.Now()

	t.mu.Lock()
	key := subject{chatID, userID}
	record := t.records[key]
	if record == nil || t.expired(record, now) {
		record = &db.TrustRecord{ChatID: chatID, UserID: userID}
		t.records[key] = record
	}
	if !record.Trusted {
		record.Streak++
		if record.Streak >= t.threshold {
			record.Trusted = true
			t.getLogEntry().WithFields(log.Fields{
				"chat_id": chatID,
				"user_id": userID,
				"streak":  record.Streak,
			}).Info("user is now trusted")
		}
	}
	record.LastUpdated = now
	snapshot := *record
	t.mu.Unlock()

	t.persist(ctx, &snapshot)
	return snapshot
}

// ResetStreak drops the subject back to an untrusted zero streak.
func (t *TrustTracker) ResetStreak(ctx context.Context, chatID, userID int64) {
	now := t.clock.Now()

	t.mu.Lock()
	key := subject{chatID, userID}
	record := t.records[key]
	if record == nil {
		record = &db.TrustRecord{ChatID: chatID, UserID: userID}
		t.records[key] = record
	}
	wasTrusted := record.Trusted
	record.Streak = 0
	record.Trusted = false
	record.LastUpdated = now
	snapshot := *record
	t.mu.Unlock()

	if wasTrusted {
		t.getLogEntry().WithFields(log.Fields{"chat_id": chatID, "user_id": userID}).Info("trust revoked")
	}
	t.persist(ctx, &snapshot)
}

// Sweep drops records idle for at least the TTL as of now.
func (t *TrustTracker) Sweep(ctx context.Context, now time.Time) int {
	t.mu.Lock()
	removed := 0
	for key, record := range t.records {
		if t.expired(record, now) {
			delete(t.records, key)
			removed++
		}
	}
	t.mu.Unlock()

	if t.store != nil {
		if _, err := t.store.DeleteTrustRecordsBefore(ctx, now.Add(-t.ttl)); err != nil {
			t.getLogEntry().WithField("method", "Sweep").WithField("error", err.Error()).Error("cant purge trust records")
		}
	}
	return removed
}

func (t *TrustTracker) expired(record *db.TrustRecord, now time.Time) bool {
	return t.ttl > 0 && now.Sub(record.LastUpdated) >= t.ttl
}

func (t *TrustTracker) ensureLoaded(ctx context.Context, chatID, userID int64) {
	key := subject{chatID, userID}
	t.mu.Lock()
	_, ok := t.records[key]
	t.mu.Unlock()
	if ok || t.store == nil {
		return
	}

	stored, err := t.store.GetTrustRecord(ctx, chatID, userID)
	if err != nil {
		t.getLogEntry().WithField("method", "ensureLoaded").WithField("error", err.Error()).Warn("cant load trust record")
	}
	if stored == nil {
		stored = &db.TrustRecord{ChatID: chatID, UserID: userID}
	}

	t.mu.Lock()
	if _, ok := t.records[key]; !ok {
		t.records[key] = stored
	}
	t.mu.Unlock()
}

func (t *TrustTracker) persist(ctx context.Context, record *db.TrustRecord) {
	if t.store == nil {
		return
	}
	if err := t.store.UpsertTrustRecord(ctx, record); err != nil {
		t.getLogEntry().WithFields(log.Fields{
			"method":  "persist",
			"chat_id": record.ChatID,
			"user_id": record.UserID,
			"error":   err.Error(),
		}).Error("cant store trust record")
	}
}

func (t *TrustTracker) getLogEntry() *log.Entry {
	return log.WithField("object", "TrustTracker")
}

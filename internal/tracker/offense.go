package tracker

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
)

type offenseStore interface {
	GetOffenseRecord(ctx context.Context, userID int64) (*db.OffenseRecord, error)
	UpsertOffenseRecord(ctx context.Context, record *db.OffenseRecord) error
	DeleteOffenseRecord(ctx context.Context, userID int64) error
	DeleteOffenseRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type OffenseTracker struct {
	window time.Duration
	store  offenseStore
	clock  Clock

	mu      sync.Mutex
	records map[int64]*db.OffenseRecord
	loaded  map[int64]struct{}
}

type OffenseOption func(*OffenseTracker)

func WithOffenseClock(clock Clock) OffenseOption {
	return func(o *OffenseTracker) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewOffenseTracker creates a tracker. store may be nil for memory-only use.
func NewOffenseTracker(cfg config.Offense, store offenseStore, opts ...OffenseOption) *OffenseTracker {
	o := &OffenseTracker{
		window:  cfg.Window,
		store:   store,
		clock:   realClock{},
		records: make(map[int64]*db.OffenseRecord),
		loaded:  make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RecordOffense counts one confirmed spam event. The window restarts with a
// count of 1 once more than the window has passed since it started.
func (o *OffenseTracker) RecordOffense(ctx context.Context, userID int64) db.OffenseRecord {
	o.ensureLoaded(ctx, userID)
	now := o.clock.Now()

	o.mu.Lock()
	record := o.records[userID]
	if record == nil || o.elapsed(record, now) {
		record = &db.OffenseRecord{UserID: userID, WindowStartedAt: now}
		o.records[userID] = record
	}
	record.Count++
	snapshot := *record
	o.mu.Unlock()

	o.getLogEntry().WithFields(log.Fields{
		"user_id": userID,
		"count":   snapshot.Count,
	}).Debug("offense recorded")

	if o.store != nil {
		if err := o.store.UpsertOffenseRecord(ctx, &snapshot); err != nil {
			o.getLogEntry().WithField("method", "RecordOffense").WithField("error", err.Error()).Error("cant store offense record")
		}
	}
	return snapshot
}

// GetOffense returns the record for userID while its window is still open.
func (o *OffenseTracker) GetOffense(ctx context.Context, userID int64) (db.OffenseRecord, bool) {
	o.ensureLoaded(ctx, userID)

	o.mu.Lock()
	defer o.mu.Unlock()
	record := o.records[userID]
	if record == nil || o.elapsed(record, o.clock.Now()) {
		return db.OffenseRecord{}, false
	}
	return *record, true
}

func (o *OffenseTracker) ClearOffense(ctx context.Context, userID int64) {
	o.mu.Lock()
	delete(o.records, userID)
	o.loaded[userID] = struct{}{}
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.DeleteOffenseRecord(ctx, userID); err != nil {
			o.getLogEntry().WithField("method", "ClearOffense").WithField("error", err.Error()).Error("cant delete offense record")
		}
	}
}

// Sweep evicts records whose window has fully elapsed as of now.
func (o *OffenseTracker) Sweep(ctx context.Context, now time.Time) int {
	o.mu.Lock()
	removed := 0
	for userID, record := range o.records {
		if o.elapsed(record, now) {
			delete(o.records, userID)
			delete(o.loaded, userID)
			removed++
		}
	}
	for userID := range o.loaded {
		if _, ok := o.records[userID]; !ok {
			delete(o.loaded, userID)
		}
	}
	o.mu.Unlock()

	if o.store != nil {
		if _, err := o.store.DeleteOffenseRecordsBefore(ctx, now.Add(-o.window)); err != nil {
			o.getLogEntry().WithField("method", "Sweep").WithField("error", err.Error()).Error("cant purge offense records")
		}
	}
	return removed
}

func (o *OffenseTracker) elapsed(record *db.OffenseRecord, now time.Time) bool {
	return now.Sub(record.WindowStartedAt) > o.window
}

func (o *OffenseTracker) ensureLoaded(ctx context.Context, userID int64) {
	o.mu.Lock()
	_, ok := o.loaded[userID]
	o.mu.Unlock()
	if ok {
		return
	}
	if o.store == nil {
		o.mu.Lock()
		o.loaded[userID] = struct{}{}
		o.mu.Unlock()
		return
	}

	stored, err := o.store.GetOffenseRecord(ctx, userID)
	if err != nil {
		o.getLogEntry().WithField("method", "ensureLoaded").WithField("error", err.Error()).Warn("cant load offense record")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.loaded[userID]; ok {
		return
	}
	o.loaded[userID] = struct{}{}
	if stored != nil && o.records[userID] == nil {
		o.records[userID] = stored
	}
}

func (o *OffenseTracker) getLogEntry() *log.Entry {
	return log.WithField("object", "OffenseTracker")
}

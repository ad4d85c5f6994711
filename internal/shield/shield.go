// Package shield detects join floods. A chat's shield activates when more
// than the threshold of joins land inside the burst window and deactivates
// after a quiet period with no joins at all.
package shield

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/config"
)

type (
	Clock interface {
		Now() time.Time
	}

	realClock struct{}

	State struct {
		Active         bool
		JoinTimestamps []time.Time
		LastJoinAt     time.Time
	}

	// Verdict is the outcome of one join batch.
	Verdict struct {
		Active      bool
		JustEngaged bool
		RecentJoins int
	}

	Detector struct {
		threshold int
		window    time.Duration
		idleReset time.Duration
		clock     Clock

		mu     sync.Mutex
		states map[int64]*State
	}

	Option func(*Detector)
)

func (realClock) Now() time.Time { return time.Now() }

func WithClock(clock Clock) Option {
	return func(d *Detector) {
		if clock != nil {
			d.clock = clock
		}
	}
}

func NewDetector(cfg config.Shield, opts ...Option) *Detector {
	d := &Detector{
		threshold: cfg.JoinThreshold,
		window:    cfg.JoinWindow,
		idleReset: cfg.IdleReset,
		clock:     realClock{},
		states:    make(map[int64]*State),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RecordJoins registers a batch of k joins for chatID. The batch that pushes
// the window count over the threshold is already handled as active.
func (d *Detector) RecordJoins(chatID int64, k int) Verdict {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	state := d.states[chatID]
	if state == nil {
		state = &State{}
		d.states[chatID] = state
	}
	d.resetIfIdle(chatID, state, now)

	if k > 0 {
		state.JoinTimestamps = pruneBefore(state.JoinTimestamps, now.Add(-d.window))
		for i := 0; i < k; i++ {
			state.JoinTimestamps = append(state.JoinTimestamps, now)
		}
		state.LastJoinAt = now
	}

	verdict := Verdict{Active: state.Active, RecentJoins: len(state.JoinTimestamps)}
	if !state.Active && len(state.JoinTimestamps) > d.threshold {
		state.Active = true
		verdict.Active = true
		verdict.JustEngaged = true
		d.getLogEntry().WithFields(log.Fields{
			"chat_id": chatID,
			"joins":   len(state.JoinTimestamps),
		}).Warn("join flood detected, shield engaged")
	}
	return verdict
}

// IsActive reports the current state, applying the idle reset first.
func (d *Detector) IsActive(chatID int64) bool {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.states[chatID]
	if state == nil {
		return false
	}
	d.resetIfIdle(chatID, state, now)
	return state.Active
}

func (d *Detector) Snapshot(chatID int64) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.states[chatID]
	if state == nil {
		return State{}
	}
	return State{
		Active:         state.Active,
		JoinTimestamps: append([]time.Time(nil), state.JoinTimestamps...),
		LastJoinAt:     state.LastJoinAt,
	}
}

// Sweep applies idle resets as of now and forgets chats with nothing left
// to track.
func (d *Detector) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for chatID, state := range d.states {
		d.resetIfIdle(chatID, state, now)
		state.JoinTimestamps = pruneBefore(state.JoinTimestamps, now.Add(-d.window))
		if !state.Active && len(state.JoinTimestamps) == 0 {
			delete(d.states, chatID)
			removed++
		}
	}
	return removed
}

func (d *Detector) resetIfIdle(chatID int64, state *State, now time.Time) {
	if state.LastJoinAt.IsZero() || now.Sub(state.LastJoinAt) < d.idleReset {
		return
	}
	if state.Active {
		d.getLogEntry().WithField("chat_id", chatID).Info("join flood over, shield disengaged")
	}
	state.Active = false
	state.JoinTimestamps = nil
	state.LastJoinAt = time.Time{}
}

func (d *Detector) getLogEntry() *log.Entry {
	return log.WithField("object", "Shield")
}

func pruneBefore(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(timestamps) && !timestamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return timestamps
	}
	return append(timestamps[:0], timestamps[i:]...)
}

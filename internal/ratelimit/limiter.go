package ratelimit

import (
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/config"
)

type Reason string

const (
	ReasonNone     Reason = ""
	ReasonCooldown Reason = "cooldown"
	ReasonQuota    Reason = "quota"
)

type (
	Clock interface {
		Now() time.Time
	}

	Decision struct {
		Allowed      bool
		Reason       Reason
		SecondsLeft  int
		MsUntilReset int64
		Remaining    int
	}

	Option func(*Limiter)

	// Limiter enforces per-actor cooldown and rolling quota in front of a
	// bounded-concurrency task queue.
	Limiter struct {
		cooldown    time.Duration
		window      time.Duration
		dailyLimit  int
		concurrency int
		clock       Clock

		mu     sync.Mutex
		actors map[int64]*actorState

		queue *Queue
	}

	actorState struct {
		lastRequestAt time.Time
		requests      []time.Time
	}

	realClock struct{}
)

func (realClock) Now() time.Time { return time.Now() }

func WithClock(clock Clock) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func New(cfg config.Limiter, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cooldown:    cfg.Cooldown,
		window:      cfg.DailyWindow,
		dailyLimit:  cfg.DailyLimit,
		concurrency: cfg.Concurrency,
		clock:       realClock{},
		actors:      make(map[int64]*actorState),
		queue:       NewQueue(cfg.Concurrency),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// CheckAndConsume decides whether actorID may run a gated task now. An allowed
// call consumes a quota slot immediately; a denied call only prunes history.
func (l *Limiter) CheckAndConsume(actorID int64, bypass bool) Decision {
	if bypass {
		return Decision{Allowed: true, Remaining: l.dailyLimit}
	}

	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.actors[actorID]
	if !ok {
		state = &actorState{}
		l.actors[actorID] = state
	}

	if !state.lastRequestAt.IsZero() {
		if elapsed := now.Sub(state.lastRequestAt); elapsed < l.cooldown {
			left := l.cooldown - elapsed
			l.getLogEntry().WithField("actor_id", actorID).WithField("left", left.String()).Trace("cooldown")
			return Decision{
				Reason:      ReasonCooldown,
				SecondsLeft: int(math.Ceil(left.Seconds())),
				Remaining:   l.remaining(state),
			}
		}
	}

	state.requests = pruneBefore(state.requests, now.Add(-l.window))
	if len(state.requests) >= l.dailyLimit {
		reset := state.requests[0].Add(l.window).Sub(now)
		l.getLogEntry().WithField("actor_id", actorID).WithField("reset", reset.String()).Debug("quota exhausted")
		return Decision{
			Reason:       ReasonQuota,
			MsUntilReset: reset.Milliseconds(),
		}
	}

	state.lastRequestAt = now
	state.requests = append(state.requests, now)
	return Decision{Allowed: true, Remaining: l.remaining(state)}
}

func (l *Limiter) ClearUser(actorID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.actors, actorID)
}

// Sweep drops actors whose cooldown has passed and whose quota history is fully
// outside the rolling window. Returns the number of dropped actors.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for actorID, state := range l.actors {
		state.requests = pruneBefore(state.requests, now.Add(-l.window))
		if len(state.requests) > 0 {
			continue
		}
		if !state.lastRequestAt.IsZero() && now.Sub(state.lastRequestAt) < l.cooldown {
			continue
		}
		delete(l.actors, actorID)
		removed++
	}
	return removed
}

func (l *Limiter) Queue() *Queue {
	return l.queue
}

func (l *Limiter) QueueSize() int {
	return l.queue.Size()
}

func (l *Limiter) remaining(state *actorState) int {
	left := l.dailyLimit - len(state.requests)
	if left < 0 {
		return 0
	}
	return left
}

func (l *Limiter) getLogEntry() *log.Entry {
	return log.WithField("object", "Limiter")
}

// pruneBefore drops the chronological prefix older than or equal to cutoff.
func pruneBefore(requests []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(requests) && !requests[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return requests
	}
	return append(requests[:0], requests[i:]...)
}

package moderation

import (
	"context"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const kvKeyLastSweep = "last_sweep_at"

// Janitor periodically sweeps expired moderation state. It is a lifecycle
// component.
type Janitor struct {
	engine   *Engine
	kv       kvStore
	interval time.Duration
	clock    Clock

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

// NewJanitor creates a janitor. kv may be nil; when set, the time of the last
// sweep is recorded there.
func NewJanitor(engine *Engine, kv kvStore, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Janitor{
		engine:   engine,
		kv:       kv,
		interval: interval,
		clock:    engine.clock,
	}
}

func (j *Janitor) Start(ctx context.Context) error {
	j.runMutex.Lock()
	defer j.runMutex.Unlock()
	if j.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.runCancel = cancel

	j.workersWg.Add(1)
	go func() {
		defer j.workersWg.Done()
		if j.overdue(runCtx) {
			j.RunOnce(runCtx)
		}

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				j.RunOnce(runCtx)
			}
		}
	}()

	j.started = true
	return nil
}

func (j *Janitor) Stop(ctx context.Context) error {
	j.runMutex.Lock()
	if !j.started {
		j.runMutex.Unlock()
		return nil
	}
	j.started = false
	cancel := j.runCancel
	j.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		j.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// RunOnce performs a single sweep as of the current time.
func (j *Janitor) RunOnce(ctx context.Context) SweepReport {
	now := j.clock.Now()
	report := j.engine.Sweep(ctx, now)
	j.getLogEntry().WithFields(log.Fields{
		"trust":        report.Trust,
		"offenses":     report.Offenses,
		"whitelist":    report.Whitelist,
		"shields":      report.Shields,
		"limiter":      report.Limiter,
		"fingerprints": report.Fingerprints,
	}).Debug("sweep done")

	if j.kv != nil {
		if err := j.kv.SetKV(ctx, kvKeyLastSweep, strconv.FormatInt(now.Unix(), 10)); err != nil {
			j.getLogEntry().WithField("error", err.Error()).Warn("cant store last sweep time")
		}
	}
	return report
}

// overdue reports whether the previous process stopped without sweeping for
// longer than one interval.
func (j *Janitor) overdue(ctx context.Context) bool {
	if j.kv == nil {
		return true
	}
	raw, err := j.kv.GetKV(ctx, kvKeyLastSweep)
	if err != nil {
		j.getLogEntry().WithField("error", err.Error()).Warn("cant read last sweep time")
		return true
	}
	if raw == "" {
		return true
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	return j.clock.Now().Sub(time.Unix(unix, 0)) >= j.interval
}

func (j *Janitor) getLogEntry() *log.Entry {
	return log.WithField("object", "Janitor")
}

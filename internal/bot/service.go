package bot

import (
	"context"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/iamwavecut/ngguard/internal/infra"
)

const (
	pollTimeoutSeconds = 60
	pollRetryDelay     = 3 * time.Second
	defaultMaxInFlight = 16
)

var allowedUpdates = []string{"message", "edited_message"}

// Poller long-polls updates and hands each one to the processor on its own
// goroutine, bounded by maxInFlight. It is a lifecycle component.
type Poller struct {
	source     updatesSource
	processor  *UpdateProcessor
	inFlight   *semaphore.Weighted
	retryDelay time.Duration

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewPoller(source updatesSource, processor *UpdateProcessor, maxInFlight int) *Poller {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &Poller{
		source:     source,
		processor:  processor,
		inFlight:   semaphore.NewWeighted(int64(maxInFlight)),
		retryDelay: pollRetryDelay,
	}
}

func (p *Poller) Start(ctx context.Context) error {
	p.runMutex.Lock()
	defer p.runMutex.Unlock()
	if p.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.runCancel = cancel

	p.workersWg.Add(1)
	go func() {
		defer p.workersWg.Done()
		p.poll(runCtx)
	}()

	p.started = true
	return nil
}

func (p *Poller) Stop(ctx context.Context) error {
	p.runMutex.Lock()
	if !p.started {
		p.runMutex.Unlock()
		return nil
	}
	p.started = false
	cancel := p.runCancel
	p.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Poller) poll(ctx context.Context) {
	entry := p.getLogEntry().WithField("method", "poll")
	config := api.NewUpdate(0)
	config.Timeout = pollTimeoutSeconds
	config.AllowedUpdates = allowedUpdates

	for {
		updates, chErr := GetUpdatesChans(ctx, p.source, config)
		for update := range updates {
			config.Offset = update.UpdateID + 1
			p.dispatch(ctx, update)
		}
		err := <-chErr
		if ctx.Err() != nil {
			return
		}
		entry.WithError(err).Warn("polling failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.retryDelay):
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, update api.Update) {
	if err := p.inFlight.Acquire(ctx, 1); err != nil {
		return
	}
	p.workersWg.Add(1)
	go func() {
		defer p.workersWg.Done()
		defer p.inFlight.Release(1)
		defer infra.Recover("process update")

		if err := p.processor.Process(ctx, &update); err != nil && ctx.Err() == nil {
			p.getLogEntry().WithFields(log.Fields{
				"method":    "dispatch",
				"update_id": update.UpdateID,
			}).WithError(err).Error("update processing failed")
		}
	}()
}

func (p *Poller) getLogEntry() *log.Entry {
	return log.WithField("object", "Poller")
}

// GetUpdatesChans polls source until ctx is done or a request fails. The error
// channel receives exactly one value after the updates channel is closed.
func GetUpdatesChans(ctx context.Context, source updatesSource, config api.UpdateConfig) (<-chan api.Update, <-chan error) {
	ch := make(chan api.Update, 100)
	chErr := make(chan error, 1)

	go func() {
		var err error
		defer func() {
			close(ch)
			chErr <- err
			close(chErr)
		}()
		for {
			if err = ctx.Err(); err != nil {
				return
			}
			var updates []api.Update
			updates, err = source.GetUpdates(config)
			if err != nil {
				return
			}
			for _, update := range updates {
				if update.UpdateID < config.Offset {
					continue
				}
				config.Offset = update.UpdateID + 1
				select {
				case ch <- update:
				case <-ctx.Done():
					err = ctx.Err()
					return
				}
			}
		}
	}()

	return ch, chErr
}

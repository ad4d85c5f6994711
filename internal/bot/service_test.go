package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

type stubSource struct {
	mu      sync.Mutex
	batches [][]api.Update
	errs    []error
	offsets []int
}

func (s *stubSource) GetUpdates(config api.UpdateConfig) ([]api.Update, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, config.Offset)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
	}
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return batch, nil
	}
	s.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return nil, nil
}

func textUpdate(t *testing.T, updateID int, text string) api.Update {
	t.Helper()
	raw := fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":%d,"chat":{"id":-100,"type":"supergroup"},"from":{"id":7,"first_name":"A"},"text":%q}}`,
		updateID, updateID, time.Now().Unix(), text)
	return *parseUpdate(t, raw)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestPollerDispatchesUpdatesAndRecovers(t *testing.T) {
	t.Parallel()

	source := &stubSource{
		batches: [][]api.Update{
			{textUpdate(t, 1, "one"), textUpdate(t, 2, "two")},
			{textUpdate(t, 3, "three")},
		},
		errs: []error{nil, errors.New("network down")},
	}
	mod := &stubModerator{}
	up := NewUpdateProcessor(mod, stubPrivileges{}, nil, "en")
	poller := NewPoller(source, up, 2)
	poller.retryDelay = 10 * time.Millisecond

	ctx := context.Background()
	if err := poller.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := poller.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}

	waitFor(t, func() bool { return mod.messageCount() == 3 })

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := poller.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := poller.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	last := source.offsets[len(source.offsets)-1]
	if last != 4 {
		t.Fatalf("expected offset to advance past processed updates, got %d", last)
	}
}

func TestGetUpdatesChansReportsError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	source := &stubSource{
		batches: [][]api.Update{{textUpdate(t, 5, "x"), textUpdate(t, 4, "stale")}},
		errs:    []error{nil, boom},
	}
	config := api.NewUpdate(5)
	updates, chErr := GetUpdatesChans(context.Background(), source, config)

	var got []int
	for u := range updates {
		got = append(got, u.UpdateID)
	}
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("unexpected updates: %v", got)
	}
	if err := <-chErr; !errors.Is(err, boom) {
		t.Fatalf("expected polling error, got %v", err)
	}
}

package lifecycle

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type testComponent struct {
	name      string
	startErr  error
	stopErr   error
	mu        *sync.Mutex
	events    *[]string
	startCall int
	stopCall  int
}

func (c *testComponent) record(event string) {
	if c.events == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.events = append(*c.events, event+":"+c.name)
}

func (c *testComponent) Start(context.Context) error {
	c.startCall++
	c.record("start")
	return c.startErr
}

func (c *testComponent) Stop(context.Context) error {
	c.stopCall++
	c.record("stop")
	return c.stopErr
}

func newComponents(events *[]string, names ...string) []*testComponent {
	mu := &sync.Mutex{}
	out := make([]*testComponent, 0, len(names))
	for _, name := range names {
		out = append(out, &testComponent{name: name, events: events, mu: mu})
	}
	return out
}

func TestRuntimeStartStopOrder(t *testing.T) {
	t.Parallel()

	events := make([]string, 0, 6)
	components := newComponents(&events, "one", "two", "three")

	runtime := NewRuntime()
	for _, c := range components {
		runtime.Register(c.name, c)
	}
	runtime.Register("nil", nil)

	if err := runtime.Start(context.Background()); err != nil {
		t.Fatalf("start runtime: %v", err)
	}
	if err := runtime.Stop(context.Background()); err != nil {
		t.Fatalf("stop runtime: %v", err)
	}

	expected := []string{
		"start:one",
		"start:two",
		"start:three",
		"stop:three",
		"stop:two",
		"stop:one",
	}
	if !reflect.DeepEqual(events, expected) {
		t.Fatalf("unexpected order: got %v want %v", events, expected)
	}
}

func TestRuntimeStartFailureStopsStartedComponents(t *testing.T) {
	t.Parallel()

	events := make([]string, 0, 4)
	components := newComponents(&events, "one", "two", "three")
	startErr := errors.New("boom")
	components[1].startErr = startErr

	runtime := NewRuntime()
	for _, c := range components {
		runtime.Register(c.name, c)
	}
	err := runtime.Start(context.Background())
	if !errors.Is(err, startErr) {
		t.Fatalf("unexpected start error: %v", err)
	}

	if components[0].stopCall != 1 {
		t.Fatalf("expected started component to be stopped once, got %d", components[0].stopCall)
	}
	if components[1].stopCall != 0 || components[2].stopCall != 0 {
		t.Fatalf("unexpected stop calls: two=%d three=%d", components[1].stopCall, components[2].stopCall)
	}
}

func TestRuntimeStopJoinsErrors(t *testing.T) {
	t.Parallel()

	components := newComponents(nil, "one", "two")
	errOne := errors.New("one failed")
	errTwo := errors.New("two failed")
	components[0].stopErr = errOne
	components[1].stopErr = errTwo

	runtime := NewRuntime()
	for _, c := range components {
		runtime.Register(c.name, c)
	}
	err := runtime.Stop(context.Background())
	if !errors.Is(err, errOne) || !errors.Is(err, errTwo) {
		t.Fatalf("expected both stop errors, got %v", err)
	}
}

func TestRuntimeRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	events := make([]string, 0, 2)
	components := newComponents(&events, "only")
	runtime := NewRuntime()
	runtime.Register("only", components[0])

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return")
	}
	if components[0].startCall != 1 || components[0].stopCall != 1 {
		t.Fatalf("unexpected calls: start=%d stop=%d", components[0].startCall, components[0].stopCall)
	}
}

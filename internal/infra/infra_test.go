package infra

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetWorkDirCreatesNestedDir(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dir, err := GetWorkDir(base, "models", "zeroshot")
	if err != nil {
		t.Fatalf("get work dir: %v", err)
	}
	if dir != filepath.Join(base, "models", "zeroshot") {
		t.Fatalf("unexpected dir: %s", dir)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory to exist: %v", err)
	}
}

func TestGoRecoverableRestartsAfterPanic(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	done := make(chan struct{})
	GoRecoverable(2, "flaky", func() {
		if calls.Add(1) < 3 {
			panic("boom")
		}
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job was not restarted, calls=%d", calls.Load())
	}
}

func TestRecoverSwallowsPanic(t *testing.T) {
	t.Parallel()

	func() {
		defer Recover("panicky")
		panic("boom")
	}()
}

func TestMonitorExecutableClosesOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ch := MonitorExecutable(ctx, 10*time.Millisecond)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected change signal")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("monitor did not stop")
	}
}

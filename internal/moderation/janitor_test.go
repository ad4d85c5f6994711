package moderation

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/db/sqlite"
	"github.com/iamwavecut/ngguard/internal/fingerprint"
	"github.com/iamwavecut/ngguard/internal/impersonation"
)

func TestJanitorRecordsLastSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := sqlite.NewSQLiteClient(ctx, t.TempDir(), "janitor.db")
	if err != nil {
		t.Fatalf("NewSQLiteClient returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	engine, clock := newTestEngine(t, testConfig(), newStubGateway(), &stubClassifier{}, WithStore(store))
	janitor := NewJanitor(engine, store, time.Minute)

	if !janitor.overdue(ctx) {
		t.Fatalf("expected first run to be overdue")
	}
	janitor.RunOnce(ctx)

	raw, err := store.GetKV(ctx, kvKeyLastSweep)
	if err != nil || raw != strconv.FormatInt(clock.Now().Unix(), 10) {
		t.Fatalf("expected last sweep time to be stored, got %q %v", raw, err)
	}
	if janitor.overdue(ctx) {
		t.Fatalf("expected sweep not to be overdue right after a run")
	}
	clock.Advance(2 * time.Minute)
	if !janitor.overdue(ctx) {
		t.Fatalf("expected sweep to be overdue after the interval")
	}
}

func TestJanitorStartStop(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, testConfig(), newStubGateway(), &stubClassifier{})
	janitor := NewJanitor(engine, nil, time.Hour)

	if err := janitor.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := janitor.Start(context.Background()); err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := janitor.Stop(ctx); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := janitor.Stop(ctx); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
}

func TestWarmupRestoresFingerprints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := sqlite.NewSQLiteClient(ctx, t.TempDir(), "warmup.db")
	if err != nil {
		t.Fatalf("NewSQLiteClient returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	gateway := newStubGateway()
	gateway.images["pic"] = Image{MIMEType: "image/jpeg", Data: []byte{9}, Hash: fingerprint.Hash(0xABCD)}
	classifier := &stubClassifier{signals: spamSignals(), secondary: true}
	first, _ := newTestEngine(t, testConfig(), gateway, classifier, WithStore(store))

	event := message(7, 11, "buy cheap crypto now")
	event.ImageRefs = []string{"pic"}
	if outcome := first.OnMessage(ctx, event); outcome.Verdict != VerdictSpam {
		t.Fatalf("expected spam, got %+v", outcome)
	}

	restarted, _ := newTestEngine(t, testConfig(), gateway, classifier, WithStore(store))
	if err := restarted.Warmup(ctx); err != nil {
		t.Fatalf("Warmup returned error: %v", err)
	}
	if restarted.texts.Len() != 1 || restarted.images.Len() != 1 {
		t.Fatalf("expected caches to be restored, got texts=%d images=%d", restarted.texts.Len(), restarted.images.Len())
	}

	record, ok := restarted.OffenseTracker().GetOffense(ctx, 7)
	if !ok || record.Count != 1 {
		t.Fatalf("expected offense to survive restart, got %+v %v", record, ok)
	}

	repeat := message(8, 21, "")
	repeat.Sender = impersonation.Identity{UserID: 8, FullName: "Other User"}
	repeat.ImageRefs = []string{"pic"}
	if outcome := restarted.OnMessage(ctx, repeat); outcome.Source != "image_cache" {
		t.Fatalf("expected restored image fingerprint to match, got %+v", outcome)
	}
}

func TestJanitorTrimsStoredFingerprints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := sqlite.NewSQLiteClient(ctx, t.TempDir(), "trim.db")
	if err != nil {
		t.Fatalf("NewSQLiteClient returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig()
	cfg.Spam.TextCacheSize = 1
	engine, clock := newTestEngine(t, cfg, newStubGateway(), &stubClassifier{}, WithStore(store))
	for i, text := range []string{"old spam", "older spam", "newest spam"} {
		fp := &db.SpamFingerprint{Kind: db.FingerprintText, Text: text, CreatedAt: clock.Now().Add(time.Duration(i) * time.Second)}
		if err := store.AddSpamFingerprint(ctx, fp); err != nil {
			t.Fatalf("AddSpamFingerprint returned error: %v", err)
		}
	}

	report := NewJanitor(engine, store, time.Minute).RunOnce(ctx)
	if report.Fingerprints != 2 {
		t.Fatalf("expected two fingerprints trimmed, got %+v", report)
	}
	left, err := store.GetRecentSpamFingerprints(ctx, db.FingerprintText, 10)
	if err != nil || len(left) != 1 || left[0].Text != "newest spam" {
		t.Fatalf("expected only the newest fingerprint kept, got %+v %v", left, err)
	}
}

package impersonation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iamwavecut/ngguard/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubLister struct {
	mu     sync.Mutex
	admins []Identity
	err    error
	calls  int
}

func (s *stubLister) ListAdmins(ctx context.Context, chatID int64) ([]Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.admins, s.err
}

type stubAvatars struct {
	refs    map[int64]string
	errs    map[int64]error
	similar map[[2]string]bool
	cmpErr  error
}

func (s *stubAvatars) GetAvatarRef(ctx context.Context, userID int64) (string, error) {
	if err := s.errs[userID]; err != nil {
		return "", err
	}
	return s.refs[userID], nil
}

func (s *stubAvatars) CompareAvatars(ctx context.Context, a, b string) (bool, error) {
	if s.cmpErr != nil {
		return false, s.cmpErr
	}
	return s.similar[[2]string{a, b}] || s.similar[[2]string{b, a}], nil
}

func TestIsPotentialNameImpersonation(t *testing.T) {
	t.Parallel()

	admin := Identity{UserID: 1, Username: "boss", FullName: "Jane Doe"}
	tests := []struct {
		name    string
		subject Identity
		admin   Identity
		want    bool
	}{
		{name: "same name different account", subject: Identity{UserID: 2, FullName: "Jane Doe"}, admin: admin, want: true},
		{name: "same handle", subject: Identity{UserID: 2, Username: "BOSS", FullName: "Jane Doe"}, admin: admin, want: false},
		{name: "different handles", subject: Identity{UserID: 2, Username: "b0ss", FullName: "Jane Doe"}, admin: admin, want: true},
		{name: "case differs", subject: Identity{UserID: 2, FullName: "jane doe"}, admin: admin, want: false},
		{name: "same user", subject: Identity{UserID: 1, FullName: "Jane Doe"}, admin: admin, want: false},
		{name: "empty subject name", subject: Identity{UserID: 2, FullName: "  "}, admin: Identity{UserID: 1, FullName: "  "}, want: false},
		{name: "admin without handle", subject: Identity{UserID: 2, Username: "x", FullName: "Jane Doe"}, admin: Identity{UserID: 1, FullName: "Jane Doe"}, want: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsPotentialNameImpersonation(tc.subject, tc.admin); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDecideAfterAvatarCheck(t *testing.T) {
	t.Parallel()

	if d := DecideAfterAvatarCheck(true); !d.IsImpersonation || d.AddToWhitelist {
		t.Fatalf("similar avatars: %+v", d)
	}
	if d := DecideAfterAvatarCheck(false); d.IsImpersonation || !d.AddToWhitelist {
		t.Fatalf("dissimilar avatars: %+v", d)
	}
}

func TestAdminCacheRefreshAndEmptyFetch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	lister := &stubLister{}
	cache := NewAdminCache(time.Hour, lister, clock)

	if cache.EnsureAdminCache(ctx, -1) {
		t.Fatalf("empty first fetch must report no roster")
	}

	lister.admins = []Identity{{UserID: 1, FullName: "Jane Doe"}}
	if !cache.EnsureAdminCache(ctx, -1) || !cache.IsAdmin(-1, 1) {
		t.Fatalf("expected roster after fetch")
	}
	if !cache.EnsureAdminCache(ctx, -1) || lister.calls != 2 {
		t.Fatalf("fresh roster must not refetch, calls=%d", lister.calls)
	}

	clock.Advance(2 * time.Hour)
	lister.admins = nil
	if !cache.EnsureAdminCache(ctx, -1) || !cache.IsAdmin(-1, 1) {
		t.Fatalf("empty refresh must keep previous roster")
	}

	lister.err = errors.New("network")
	if !cache.EnsureAdminCache(ctx, -1) || len(cache.Admins(-1)) != 1 {
		t.Fatalf("failed refresh must keep previous roster")
	}

	lister.err = nil
	lister.admins = []Identity{{UserID: 2, FullName: "New Admin"}}
	if !cache.EnsureAdminCache(ctx, -1) || cache.IsAdmin(-1, 1) || !cache.IsAdmin(-1, 2) {
		t.Fatalf("successful refresh must replace roster")
	}

	if cache.IsAdmin(-2, 2) {
		t.Fatalf("rosters must not leak across chats")
	}
}

func TestWhitelistTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	w := NewWhitelist(time.Hour, clock)
	w.Add(-1, 5, ReasonAvatarMismatch)

	entry, ok := w.Lookup(-1, 5)
	if !ok || entry.Reason != ReasonAvatarMismatch {
		t.Fatalf("unexpected entry: %+v %v", entry, ok)
	}
	if w.IsWhitelisted(-2, 5) {
		t.Fatalf("whitelist must be scoped per chat")
	}

	clock.Advance(time.Hour)
	if w.IsWhitelisted(-1, 5) {
		t.Fatalf("expired entry must be purged on lookup")
	}

	w.Add(-1, 6, "manual")
	w.Add(-1, 7, "manual")
	if removed := w.Sweep(clock.Now().Add(30 * time.Minute)); removed != 0 {
		t.Fatalf("fresh entries must survive sweep")
	}
	if removed := w.Sweep(clock.Now().Add(time.Hour)); removed != 2 {
		t.Fatalf("expected two swept, got %d", removed)
	}
}

func newTestDetector(lister *stubLister, avatars *stubAvatars) (*Detector, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cfg := config.Impersonation{AdminTTL: time.Hour, WhitelistTTL: 24 * time.Hour, MinNameLength: 3}
	return NewDetector(cfg, lister, avatars, clock), clock
}

func TestDetectorSimilarAvatarIsImpersonation(t *testing.T) {
	t.Parallel()

	lister := &stubLister{admins: []Identity{{UserID: 1, Username: "boss", FullName: "Jane Doe"}}}
	avatars := &stubAvatars{
		refs:    map[int64]string{1: "a", 2: "b"},
		similar: map[[2]string]bool{{"a", "b"}: true},
	}
	d, _ := newTestDetector(lister, avatars)

	v := d.Check(context.Background(), -1, Identity{UserID: 2, Username: "b0ss", FullName: "Jane Doe"})
	if !v.Impersonation || v.Admin.UserID != 1 {
		t.Fatalf("expected impersonation, got %+v", v)
	}
	if d.Whitelist().IsWhitelisted(-1, 2) {
		t.Fatalf("impersonator must not be whitelisted")
	}
}

func TestDetectorDissimilarAvatarWhitelists(t *testing.T) {
	t.Parallel()

	lister := &stubLister{admins: []Identity{{UserID: 1, FullName: "Jane Doe"}}}
	avatars := &stubAvatars{refs: map[int64]string{1: "a", 2: "b"}}
	d, _ := newTestDetector(lister, avatars)

	subject := Identity{UserID: 2, FullName: "Jane Doe"}
	if v := d.Check(context.Background(), -1, subject); v.Impersonation {
		t.Fatalf("dissimilar avatars must not be impersonation")
	}
	if !d.Whitelist().IsWhitelisted(-1, 2) {
		t.Fatalf("expected subject whitelisted")
	}

	avatars.similar = map[[2]string]bool{{"a", "b"}: true}
	if v := d.Check(context.Background(), -1, subject); v.Impersonation {
		t.Fatalf("whitelisted subject must skip the pipeline")
	}
}

func TestDetectorTransientAvatarFailureSkips(t *testing.T) {
	t.Parallel()

	lister := &stubLister{admins: []Identity{{UserID: 1, FullName: "Jane Doe"}}}
	avatars := &stubAvatars{
		refs: map[int64]string{1: "a", 2: "b"},
		errs: map[int64]error{1: errors.New("timeout")},
	}
	d, _ := newTestDetector(lister, avatars)

	if v := d.Check(context.Background(), -1, Identity{UserID: 2, FullName: "Jane Doe"}); v.Impersonation {
		t.Fatalf("unavailable avatar must not escalate")
	}
	if d.Whitelist().IsWhitelisted(-1, 2) {
		t.Fatalf("skipped pair must not whitelist")
	}
}

func TestDetectorMissingAvatars(t *testing.T) {
	t.Parallel()

	lister := &stubLister{admins: []Identity{{UserID: 1, FullName: "Jane Doe"}}}
	d, _ := newTestDetector(lister, &stubAvatars{})

	if v := d.Check(context.Background(), -1, Identity{UserID: 2, FullName: "Jane Doe"}); !v.Impersonation {
		t.Fatalf("two placeholder avatars must count as similar")
	}

	lister2 := &stubLister{admins: []Identity{{UserID: 1, FullName: "Jane Doe"}}}
	d2, _ := newTestDetector(lister2, &stubAvatars{refs: map[int64]string{1: "a"}})
	if v := d2.Check(context.Background(), -1, Identity{UserID: 2, FullName: "Jane Doe"}); v.Impersonation {
		t.Fatalf("one missing avatar must not escalate")
	}
	if d2.Whitelist().IsWhitelisted(-1, 2) {
		t.Fatalf("one missing avatar must not whitelist")
	}
}

func TestDetectorRechecksAfterAvatarCopied(t *testing.T) {
	t.Parallel()

	lister := &stubLister{admins: []Identity{{UserID: 1, FullName: "Jane Doe"}}}
	avatars := &stubAvatars{
		refs:    map[int64]string{1: "a"},
		similar: map[[2]string]bool{{"a", "copy"}: true},
	}
	d, _ := newTestDetector(lister, avatars)

	subject := Identity{UserID: 2, FullName: "Jane Doe"}
	if v := d.Check(context.Background(), -1, subject); v.Impersonation {
		t.Fatalf("subject without avatar must not escalate")
	}

	avatars.refs[2] = "copy"
	if v := d.Check(context.Background(), -1, subject); !v.Impersonation {
		t.Fatalf("subject with copied avatar must be detected")
	}
}

func TestDetectorSkipsShortNamesAndAdmins(t *testing.T) {
	t.Parallel()

	lister := &stubLister{admins: []Identity{{UserID: 1, FullName: "Al"}, {UserID: 3, FullName: "Jane Doe"}}}
	d, _ := newTestDetector(lister, &stubAvatars{})

	if v := d.Check(context.Background(), -1, Identity{UserID: 2, FullName: "Al"}); v.Impersonation {
		t.Fatalf("short names must be skipped")
	}
	if v := d.Check(context.Background(), -1, Identity{UserID: 3, FullName: "Jane Doe"}); v.Impersonation {
		t.Fatalf("admins are never impersonators")
	}
}

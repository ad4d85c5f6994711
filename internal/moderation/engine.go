// Package moderation sequences the spam, impersonation and join-flood
// pipelines for every inbound chat event and applies the resulting action.
package moderation

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/fingerprint"
	"github.com/iamwavecut/ngguard/internal/impersonation"
	"github.com/iamwavecut/ngguard/internal/policy/spam"
	"github.com/iamwavecut/ngguard/internal/ratelimit"
	"github.com/iamwavecut/ngguard/internal/shield"
	"github.com/iamwavecut/ngguard/internal/similarity"
	"github.com/iamwavecut/ngguard/internal/tracker"
	"github.com/iamwavecut/ngguard/internal/utils/text"
)

type Verdict string

const (
	VerdictSkipped      Verdict = "skipped"
	VerdictTrusted      Verdict = "trusted"
	VerdictLimited      Verdict = "limited"
	VerdictInconclusive Verdict = "inconclusive"
	VerdictClean        Verdict = "clean"
	VerdictSpam         Verdict = "spam"
)

const (
	dedupeThreshold       = 90
	translationMinLetters = 12
	enforcementTimeout    = 15 * time.Second
)

type (
	// Outcome describes what OnMessage decided and did.
	Outcome struct {
		Verdict          Verdict
		Source           string
		Reason           ratelimit.Reason
		SecondaryChecked bool
		Action           spam.Action
		Enforced         bool
		Impersonation    bool
		IncidentID       string
	}

	Option func(*Engine)

	Engine struct {
		cfg        config.Config
		gateway    Gateway
		classifier Classifier
		secondary  SecondaryChecker
		translator Translator
		store      db.Client
		clock      Clock

		limiter       *ratelimit.Limiter
		texts         *similarity.TextCache
		images        *similarity.ImageCache
		trust         *tracker.TrustTracker
		offenses      *tracker.OffenseTracker
		impersonation *impersonation.Detector
		shield        *shield.Detector

		subjects *keyedMutex
	}

	realClock struct{}
)

func (realClock) Now() time.Time { return time.Now() }

func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithSecondary replaces the classifier's own confirmation check.
func WithSecondary(checker SecondaryChecker) Option {
	return func(e *Engine) {
		if checker != nil {
			e.secondary = checker
		}
	}
}

func WithTranslator(translator Translator) Option {
	return func(e *Engine) {
		e.translator = translator
	}
}

// WithStore enables write-through persistence of trackers and fingerprints.
func WithStore(store db.Client) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// NewEngine wires the moderation components. Invalid limiter settings are
// reported as ErrInvalidConfig.
func NewEngine(cfg config.Config, gateway Gateway, classifier Classifier, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:        cfg,
		gateway:    gateway,
		classifier: classifier,
		secondary:  classifier,
		clock:      realClock{},
		subjects:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}

	limiter, err := ratelimit.New(cfg.Limiter, ratelimit.WithClock(e.clock))
	if err != nil {
		return nil, fmt.Errorf("create limiter: %w", err)
	}
	e.limiter = limiter
	e.texts = similarity.NewTextCache(cfg.Spam.TextCacheSize, dedupeThreshold)
	e.images = similarity.NewImageCache(cfg.Spam.ImageCacheSize, cfg.Spam.ImageDistance)

	var trustStore interface {
		GetTrustRecord(ctx context.Context, chatID, userID int64) (*db.TrustRecord, error)
		UpsertTrustRecord(ctx context.Context, record *db.TrustRecord) error
		DeleteTrustRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}
	var offenseStore interface {
		GetOffenseRecord(ctx context.Context, userID int64) (*db.OffenseRecord, error)
		UpsertOffenseRecord(ctx context.Context, record *db.OffenseRecord) error
		DeleteOffenseRecord(ctx context.Context, userID int64) error
		DeleteOffenseRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}
	if e.store != nil {
		trustStore, offenseStore = e.store, e.store
	}
	e.trust = tracker.NewTrustTracker(cfg.Trust, trustStore, tracker.WithTrustClock(e.clock))
	e.offenses = tracker.NewOffenseTracker(cfg.Offense, offenseStore, tracker.WithOffenseClock(e.clock))
	e.impersonation = impersonation.NewDetector(cfg.Impersonation, gateway, gateway, e.clock)
	e.shield = shield.NewDetector(cfg.Shield, shield.WithClock(e.clock))

	return e, nil
}

// OnMessage runs the spam, impersonation and translation pipelines for one
// message. The pipelines are independent and run concurrently.
func (e *Engine) OnMessage(ctx context.Context, event MessageEvent) Outcome {
	if event.Sender.UserID == e.gateway.SelfID() {
		return Outcome{Verdict: VerdictSkipped}
	}

	var (
		outcome       Outcome
		impersonating bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		impersonating = e.checkImpersonation(gctx, event)
		return nil
	})
	g.Go(func() error {
		outcome = e.checkSpam(gctx, event)
		return nil
	})
	g.Go(func() error {
		e.triggerTranslation(gctx, event)
		return nil
	})
	_ = g.Wait()

	outcome.Impersonation = impersonating
	return outcome
}

// Warmup fills the similarity caches from the newest stored fingerprints.
func (e *Engine) Warmup(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	entry := e.getLogEntry().WithField("method", "Warmup")

	texts, err := e.store.GetRecentSpamFingerprints(ctx, db.FingerprintText, e.cfg.Spam.TextCacheSize)
	if err != nil {
		return fmt.Errorf("load text fingerprints: %w", err)
	}
	bodies := make([]string, 0, len(texts))
	for _, fp := range texts {
		bodies = append(bodies, fp.Text)
	}
	loadedTexts := e.texts.Load(bodies)

	images, err := e.store.GetRecentSpamFingerprints(ctx, db.FingerprintImage, e.cfg.Spam.ImageCacheSize)
	if err != nil {
		return fmt.Errorf("load image fingerprints: %w", err)
	}
	entries := make([]similarity.ImageEntry, 0, len(images))
	for _, fp := range images {
		hash, err := fingerprint.Parse(fp.ImageHash)
		if err != nil {
			entry.WithField("id", fp.ID).Warn("skipping malformed image fingerprint")
			continue
		}
		entries = append(entries, similarity.ImageEntry{
			Hash:      hash,
			ChatID:    fp.ChatID,
			MessageID: fp.MessageID,
			AddedAt:   fp.CreatedAt,
		})
	}
	loadedImages := e.images.Load(entries)

	entry.WithFields(log.Fields{"texts": loadedTexts, "images": loadedImages}).Info("similarity caches warmed up")
	return nil
}

// SweepReport counts the entries dropped by one Sweep.
type SweepReport struct {
	Trust        int
	Offenses     int
	Whitelist    int
	Shields      int
	Limiter      int
	Fingerprints int
}

// Sweep drops expired state as of now. Only entries past their TTL are removed.
func (e *Engine) Sweep(ctx context.Context, now time.Time) SweepReport {
	return SweepReport{
		Trust:        e.trust.Sweep(ctx, now),
		Offenses:     e.offenses.Sweep(ctx, now),
		Whitelist:    e.impersonation.Whitelist().Sweep(now),
		Shields:      e.shield.Sweep(now),
		Limiter:      e.limiter.Sweep(now),
		Fingerprints: e.trimFingerprints(ctx),
	}
}

// trimFingerprints bounds the stored fingerprints to what Warmup can load.
func (e *Engine) trimFingerprints(ctx context.Context) int {
	if e.store == nil {
		return 0
	}
	limits := []struct {
		kind db.FingerprintKind
		keep int
	}{
		{kind: db.FingerprintText, keep: e.cfg.Spam.TextCacheSize},
		{kind: db.FingerprintImage, keep: e.cfg.Spam.ImageCacheSize},
	}
	var total int64
	for _, limit := range limits {
		removed, err := e.store.TrimSpamFingerprints(ctx, limit.kind, limit.keep)
		if err != nil {
			e.getLogEntry().WithFields(log.Fields{
				"method": "trimFingerprints",
				"kind":   limit.kind,
				"error":  err.Error(),
			}).Warn("cant trim stored fingerprints")
			continue
		}
		total += removed
	}
	return int(total)
}

func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

func (e *Engine) TrustTracker() *tracker.TrustTracker {
	return e.trust
}

func (e *Engine) OffenseTracker() *tracker.OffenseTracker {
	return e.offenses
}

func (e *Engine) Shield() *shield.Detector {
	return e.shield
}

func (e *Engine) triggerTranslation(ctx context.Context, event MessageEvent) {
	if e.translator == nil || event.Text == "" {
		return
	}
	event.Language = e.language(event)
	if !text.NeedsTranslation(event.Text, event.Language, translationMinLetters) {
		return
	}
	if err := e.translator.Translate(ctx, event); err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"method":  "triggerTranslation",
			"chat_id": event.ChatID,
			"error":   err.Error(),
		}).Warn("translation failed")
	}
}

func (e *Engine) language(event MessageEvent) string {
	if event.Language != "" {
		return event.Language
	}
	return e.cfg.DefaultLanguage
}

func (e *Engine) getLogEntry() *log.Entry {
	return log.WithField("object", "Engine")
}

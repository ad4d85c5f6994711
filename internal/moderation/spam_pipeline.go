package moderation

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iamwavecut/ngguard/internal/adapters/llm"
	"github.com/iamwavecut/ngguard/internal/db"
	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/observability"
	"github.com/iamwavecut/ngguard/internal/policy/spam"
	"github.com/iamwavecut/ngguard/internal/ratelimit"
	"github.com/iamwavecut/ngguard/internal/similarity"
)

func (e *Engine) checkSpam(ctx context.Context, event MessageEvent) Outcome {
	ctx, span := observability.Tracer().Start(ctx, "moderation.checkSpam")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", event.ChatID),
		attribute.Int64("user_id", event.Sender.UserID),
	)

	entry := e.getLogEntry().WithFields(log.Fields{
		"method":  "checkSpam",
		"chat_id": event.ChatID,
		"user_id": event.Sender.UserID,
	})

	// check, classify and update happen under one per-subject lock
	unlock := e.subjects.Lock(subjectKey{event.ChatID, event.Sender.UserID})
	defer unlock()

	if e.trust.IsTrusted(ctx, event.ChatID, event.Sender.UserID) {
		return Outcome{Verdict: VerdictTrusted}
	}
	if e.isChatAdmin(ctx, event.ChatID, event.Sender.UserID) {
		return Outcome{Verdict: VerdictTrusted}
	}

	images := e.fetchImages(ctx, event)
	if event.Text == "" && len(images) == 0 {
		return Outcome{Verdict: VerdictSkipped}
	}

	if source, ok := e.matchKnownSpam(event.Text, images); ok {
		entry.WithField("source", source).Debug("near-duplicate of known spam")
		return e.enforce(ctx, event, images, source)
	}

	decision := e.limiter.CheckAndConsume(event.Sender.UserID, e.cfg.Limiter.IsPrivileged(event.Sender.UserID))
	if !decision.Allowed {
		observability.RecordLimiterRejection(string(decision.Reason))
		entry.WithFields(log.Fields{
			"reason":       decision.Reason,
			"seconds_left": decision.SecondsLeft,
			"ms_reset":     decision.MsUntilReset,
		}).Debug("classification rate limited")
		return Outcome{Verdict: VerdictLimited, Reason: decision.Reason}
	}

	signals, err := e.classify(ctx, event, images)
	if err != nil {
		entry.WithField("error", err.Error()).Info("primary classification inconclusive")
		return Outcome{Verdict: VerdictInconclusive}
	}

	isSpam := spam.IsSpamMessage(
		signals.Spam,
		signals.Score(),
		e.cfg.Spam.ScoreThreshold,
		event.Text,
		e.cfg.Spam.Keywords,
		e.cfg.Spam.MinWordCount,
	)
	entry.WithFields(log.Fields{"score": signals.Score(), "flag": signals.Spam, "spam": isSpam}).Trace("primary verdict")

	if !spam.DecideSecondarySpamCheck(isSpam) {
		e.trust.RecordNormalMessage(ctx, event.ChatID, event.Sender.UserID)
		return Outcome{Verdict: VerdictClean}
	}

	confirmed, err := e.confirm(ctx, event)
	if err != nil {
		entry.WithField("error", err.Error()).Info("secondary check inconclusive")
		return Outcome{Verdict: VerdictInconclusive, SecondaryChecked: true}
	}
	if !confirmed {
		entry.Info("primary spam verdict not confirmed")
		return Outcome{Verdict: VerdictClean, SecondaryChecked: true}
	}

	outcome := e.enforce(ctx, event, images, observability.SourceClassifier)
	outcome.SecondaryChecked = true
	return outcome
}

func (e *Engine) matchKnownSpam(text string, images []Image) (string, bool) {
	if text != "" && e.texts.IsSimilarToSpam(text, e.cfg.Spam.SimilarityThreshold) {
		return observability.SourceTextCache, true
	}
	for _, img := range images {
		if e.images.IsSpamImage(img.Hash) {
			return observability.SourceImageCache, true
		}
	}
	return "", false
}

func (e *Engine) classify(ctx context.Context, event MessageEvent, images []Image) (spam.Signals, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Spam.ClassifyTimeout)
	defer cancel()

	done := observability.StartClassification()
	signals, err := ratelimit.Enqueue(ctx, e.limiter.Queue(), func(ctx context.Context) (spam.Signals, error) {
		if len(images) == 0 {
			return e.classifier.Analyze(ctx, event.Text, event.Sender.UserID)
		}
		refs := make([]llm.Image, 0, len(images))
		for _, img := range images {
			refs = append(refs, llm.Image{MIMEType: img.MIMEType, Data: img.Data})
		}
		return e.classifier.AnalyzeWithImages(ctx, event.Text, refs, event.Sender.UserID)
	})
	if err != nil {
		done("inconclusive")
		if !errors.Is(err, ngerrors.ErrInconclusive) {
			err = errors.Join(ngerrors.ErrInconclusive, err)
		}
		return spam.Signals{}, err
	}
	done("ok")
	return signals, nil
}

func (e *Engine) confirm(ctx context.Context, event MessageEvent) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Spam.ClassifyTimeout)
	defer cancel()

	done := observability.StartClassification()
	confirmed, err := ratelimit.Enqueue(ctx, e.limiter.Queue(), func(ctx context.Context) (bool, error) {
		return e.secondary.SecondaryCheck(ctx, event.Text, event.Sender.UserID)
	})
	if err != nil {
		done("inconclusive")
		return false, err
	}
	done("ok")
	return confirmed, nil
}

func (e *Engine) fetchImages(ctx context.Context, event MessageEvent) []Image {
	if len(event.ImageRefs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Spam.AnalysisTimeout)
	defer cancel()

	images := make([]Image, 0, len(event.ImageRefs))
	for _, ref := range event.ImageRefs {
		img, err := e.gateway.FetchImage(ctx, ref)
		if err != nil {
			e.getLogEntry().WithFields(log.Fields{
				"method":  "fetchImages",
				"chat_id": event.ChatID,
				"error":   err.Error(),
			}).Warn("cant fetch image")
			continue
		}
		images = append(images, img)
	}
	return images
}

// enforce applies the disciplinary action for confirmed spam. The offense is
// recorded before the privilege check so escalation survives failed actions.
func (e *Engine) enforce(ctx context.Context, event MessageEvent, images []Image, source string) Outcome {
	entry := e.getLogEntry().WithFields(log.Fields{
		"method":  "enforce",
		"chat_id": event.ChatID,
		"user_id": event.Sender.UserID,
		"source":  source,
	})

	e.trust.ResetStreak(ctx, event.ChatID, event.Sender.UserID)
	record := e.offenses.RecordOffense(ctx, event.Sender.UserID)
	action := spam.DecideDisciplinaryAction(record.Count)
	observability.RecordSpamVerdict(source)
	e.rememberSpam(ctx, event, images)

	incidentID := observability.Audit("spam_confirmed",
		zap.Int64("chat_id", event.ChatID),
		zap.Int64("user_id", event.Sender.UserID),
		zap.Int("message_id", event.MessageID),
		zap.String("source", source),
		zap.Int("offense_count", record.Count),
		zap.String("action", string(action)),
	)
	entry = entry.WithFields(log.Fields{"incident_id": incidentID, "action": action, "offenses": record.Count})

	outcome := Outcome{
		Verdict:    VerdictSpam,
		Source:     source,
		Action:     action,
		IncidentID: incidentID,
	}
	defer func(ctx context.Context) {
		e.forwardToLogChannel(ctx, event, outcome)
	}(ctx)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enforcementTimeout)
	defer cancel()

	if !e.botIsPrivileged(ctx, event.ChatID) {
		entry.Warn("no privileges to enforce")
		observability.RecordEnforcement(string(action), "no_privileges")
		e.notifyManualIntervention(ctx, event)
		return outcome
	}

	if err := e.gateway.DeleteMessage(ctx, event.ChatID, event.MessageID); err != nil {
		entry.WithField("error", err.Error()).Warn("cant delete spam message")
	}

	err := e.punish(ctx, event.ChatID, event.Sender.UserID, action)
	switch {
	case errors.Is(err, ngerrors.ErrNoPrivileges):
		entry.Warn("ban rejected for lack of privileges")
		observability.RecordEnforcement(string(action), "no_privileges")
		observability.Audit("enforcement_failed", zap.String("incident_id", incidentID), zap.Error(err))
		e.notifyManualIntervention(ctx, event)
		return outcome
	case err != nil:
		entry.WithField("error", err.Error()).Error("enforcement failed")
		observability.RecordEnforcement(string(action), "error")
		observability.Audit("enforcement_failed", zap.String("incident_id", incidentID), zap.Error(err))
		return outcome
	}

	outcome.Enforced = true
	observability.RecordEnforcement(string(action), "ok")
	e.notifyPunishment(ctx, event, action)
	entry.Info("spam enforced")
	return outcome
}

// punish bans the user. A warning is a ban immediately lifted so the user can
// rejoin.
func (e *Engine) punish(ctx context.Context, chatID, userID int64, action spam.Action) error {
	if action == spam.ActionNone {
		return nil
	}
	if err := e.gateway.Ban(ctx, chatID, userID); err != nil {
		return err
	}
	if action == spam.ActionWarn {
		return e.gateway.Unban(ctx, chatID, userID)
	}
	return nil
}

func (e *Engine) rememberSpam(ctx context.Context, event MessageEvent, images []Image) {
	now := e.clock.Now()
	if event.Text != "" && e.texts.AddSpamMessage(event.Text) {
		e.persistFingerprint(ctx, &db.SpamFingerprint{
			Kind:      db.FingerprintText,
			Text:      event.Text,
			ChatID:    event.ChatID,
			MessageID: event.MessageID,
			CreatedAt: now,
		})
	}
	for _, img := range images {
		added := e.images.AddSpamImage(similarity.ImageEntry{
			Hash:      img.Hash,
			ChatID:    event.ChatID,
			MessageID: event.MessageID,
			AddedAt:   now,
		})
		if !added {
			continue
		}
		e.persistFingerprint(ctx, &db.SpamFingerprint{
			Kind:      db.FingerprintImage,
			ImageHash: img.Hash.String(),
			ChatID:    event.ChatID,
			MessageID: event.MessageID,
			CreatedAt: now,
		})
	}
}

func (e *Engine) persistFingerprint(ctx context.Context, fp *db.SpamFingerprint) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.AddSpamFingerprint(ctx, fp); err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"method": "persistFingerprint",
			"kind":   fp.Kind,
			"error":  err.Error(),
		}).Error("cant store spam fingerprint")
	}
}

func (e *Engine) botIsPrivileged(ctx context.Context, chatID int64) bool {
	ok, err := e.gateway.IsActorPrivileged(ctx, chatID, e.gateway.SelfID())
	if err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"method":  "botIsPrivileged",
			"chat_id": chatID,
			"error":   err.Error(),
		}).Warn("cant check bot privileges")
		return false
	}
	return ok
}

func (e *Engine) isChatAdmin(ctx context.Context, chatID, userID int64) bool {
	cache := e.impersonation.AdminCache()
	if !cache.EnsureAdminCache(ctx, chatID) {
		return false
	}
	return cache.IsAdmin(chatID, userID)
}

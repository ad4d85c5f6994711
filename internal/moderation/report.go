package moderation

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/observability"
)

// ReportSpam handles an admin's manual spam report: the message is removed,
// the sender's trust is reset and the content is remembered as spam. No
// offense is recorded.
func (e *Engine) ReportSpam(ctx context.Context, reporterID int64, event MessageEvent) error {
	entry := e.getLogEntry().WithFields(log.Fields{
		"method":      "ReportSpam",
		"chat_id":     event.ChatID,
		"user_id":     event.Sender.UserID,
		"reporter_id": reporterID,
	})
	if !e.canReport(ctx, event.ChatID, reporterID) {
		return fmt.Errorf("reporter %d: %w", reporterID, ngerrors.ErrNoPrivileges)
	}

	unlock := e.subjects.Lock(subjectKey{event.ChatID, event.Sender.UserID})
	defer unlock()

	images := e.fetchImages(ctx, event)
	e.trust.ResetStreak(ctx, event.ChatID, event.Sender.UserID)
	e.impersonation.Whitelist().Remove(event.ChatID, event.Sender.UserID)
	e.rememberSpam(ctx, event, images)
	observability.RecordSpamVerdict(observability.SourceReport)
	incidentID := observability.Audit("spam_reported",
		zap.Int64("chat_id", event.ChatID),
		zap.Int64("user_id", event.Sender.UserID),
		zap.Int64("reporter_id", reporterID),
		zap.Int("message_id", event.MessageID),
	)
	entry = entry.WithField("incident_id", incidentID)

	if err := e.gateway.DeleteMessage(ctx, event.ChatID, event.MessageID); err != nil {
		entry.WithField("error", err.Error()).Warn("cant delete reported message")
		return fmt.Errorf("delete reported message: %w", err)
	}
	e.notifyReport(ctx, event)
	e.forwardToLogChannel(ctx, event, Outcome{Verdict: VerdictSpam, Source: observability.SourceReport, IncidentID: incidentID})
	entry.Info("reported spam removed")
	return nil
}

// canReport falls back to a live member lookup when the cached roster does
// not list the reporter; a confirmed moderator invalidates the stale roster.
func (e *Engine) canReport(ctx context.Context, chatID, reporterID int64) bool {
	if e.cfg.Limiter.IsPrivileged(reporterID) || e.isChatAdmin(ctx, chatID, reporterID) {
		return true
	}
	ok, err := e.gateway.IsActorPrivileged(ctx, chatID, reporterID)
	if err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"method":  "canReport",
			"chat_id": chatID,
			"user_id": reporterID,
			"error":   err.Error(),
		}).Warn("cant check reporter privileges")
		return false
	}
	if ok {
		e.impersonation.AdminCache().Invalidate(chatID)
	}
	return ok
}

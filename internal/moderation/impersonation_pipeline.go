package moderation

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/iamwavecut/ngguard/internal/impersonation"
	"github.com/iamwavecut/ngguard/internal/observability"
)

func (e *Engine) checkImpersonation(ctx context.Context, event MessageEvent) bool {
	verdict := e.impersonation.Check(ctx, event.ChatID, event.Sender)
	if !verdict.Impersonation {
		return false
	}
	e.punishImpersonator(ctx, event.ChatID, event.MessageID, event.Sender, verdict.Admin, e.language(event))
	return true
}

// punishImpersonator permanently bans a user posing as an admin. messageID
// is zero for join events.
func (e *Engine) punishImpersonator(ctx context.Context, chatID int64, messageID int, subject, admin impersonation.Identity, lang string) bool {
	entry := e.getLogEntry().WithFields(log.Fields{
		"method":   "punishImpersonator",
		"chat_id":  chatID,
		"user_id":  subject.UserID,
		"admin_id": admin.UserID,
	})
	observability.RecordImpersonation("confirmed")
	incidentID := observability.Audit("impersonation_confirmed",
		zap.Int64("chat_id", chatID),
		zap.Int64("user_id", subject.UserID),
		zap.Int64("admin_id", admin.UserID),
		zap.String("full_name", subject.FullName),
	)
	entry = entry.WithField("incident_id", incidentID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enforcementTimeout)
	defer cancel()

	if !e.botIsPrivileged(ctx, chatID) {
		entry.Warn("no privileges to remove impersonator")
		observability.RecordEnforcement("impersonation", "no_privileges")
		return false
	}
	if messageID != 0 {
		if err := e.gateway.DeleteMessage(ctx, chatID, messageID); err != nil {
			entry.WithField("error", err.Error()).Warn("cant delete impersonator message")
		}
	}
	if err := e.gateway.Ban(ctx, chatID, subject.UserID); err != nil {
		entry.WithField("error", err.Error()).Error("cant ban impersonator")
		observability.RecordEnforcement("impersonation", "error")
		return false
	}

	observability.RecordEnforcement("impersonation", "ok")
	e.notifyImpersonation(ctx, chatID, subject, admin, lang)
	entry.Info("impersonator removed")
	return true
}

package moderation

import (
	"context"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/iamwavecut/ngguard/internal/impersonation"
	"github.com/iamwavecut/ngguard/internal/observability"
)

const joinWorkers = 4

// OnMembersJoined feeds the join-flood shield and screens each joiner for
// admin impersonation. It returns how many joiners were removed.
func (e *Engine) OnMembersJoined(ctx context.Context, chatID int64, lang string, members []impersonation.Identity) int {
	if len(members) == 0 {
		return 0
	}
	if lang == "" {
		lang = e.cfg.DefaultLanguage
	}
	entry := e.getLogEntry().WithFields(log.Fields{
		"method":  "OnMembersJoined",
		"chat_id": chatID,
		"joined":  len(members),
	})

	verdict := e.shield.RecordJoins(chatID, len(members))
	if verdict.JustEngaged {
		observability.RecordShieldActivation()
		incidentID := observability.Audit("shield_engaged",
			zap.Int64("chat_id", chatID),
			zap.Int("recent_joins", verdict.RecentJoins),
		)
		entry.WithFields(log.Fields{"incident_id": incidentID, "recent_joins": verdict.RecentJoins}).Warn("join flood shield engaged")
		e.notifyShield(ctx, chatID, lang)
	}

	var rejected atomic.Int64
	p := pool.New().WithMaxGoroutines(joinWorkers)
	for _, member := range members {
		member := member
		if member.UserID == e.gateway.SelfID() {
			continue
		}
		p.Go(func() {
			if e.screenJoiner(ctx, chatID, lang, member, verdict.Active) {
				rejected.Add(1)
			}
		})
	}
	p.Wait()

	if n := rejected.Load(); n > 0 {
		entry.WithField("rejected", n).Info("joiners rejected")
	}
	return int(rejected.Load())
}

func (e *Engine) screenJoiner(ctx context.Context, chatID int64, lang string, member impersonation.Identity, shieldActive bool) bool {
	if shieldActive {
		return e.kickJoiner(ctx, chatID, member.UserID)
	}
	verdict := e.impersonation.Check(ctx, chatID, member)
	if !verdict.Impersonation {
		return false
	}
	return e.punishImpersonator(ctx, chatID, 0, member, verdict.Admin, lang)
}

// kickJoiner removes a joiner while letting them come back later.
func (e *Engine) kickJoiner(ctx context.Context, chatID, userID int64) bool {
	entry := e.getLogEntry().WithFields(log.Fields{
		"method":  "kickJoiner",
		"chat_id": chatID,
		"user_id": userID,
	})
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enforcementTimeout)
	defer cancel()

	if err := e.gateway.Ban(ctx, chatID, userID); err != nil {
		entry.WithField("error", err.Error()).Warn("cant reject joiner")
		observability.RecordEnforcement("shield", "error")
		return false
	}
	if err := e.gateway.Unban(ctx, chatID, userID); err != nil {
		entry.WithField("error", err.Error()).Warn("cant lift joiner ban")
	}
	observability.RecordShieldRejection()
	observability.RecordEnforcement("shield", "ok")
	return true
}

package moderation

import (
	"context"
	"strings"

	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/impersonation"
	"github.com/iamwavecut/ngguard/internal/policy/spam"
)

func displayName(identity impersonation.Identity) string {
	if name := strings.TrimSpace(identity.FullName); name != "" {
		return name
	}
	if identity.Username != "" {
		return "@" + identity.Username
	}
	return "user"
}

func (e *Engine) notifyPunishment(ctx context.Context, event MessageEvent, action spam.Action) {
	lang := e.language(event)
	var tpl string
	switch action {
	case spam.ActionWarn:
		tpl = i18n.Get("{{ .user_name }} sent spam and was removed. They can rejoin after reading the rules.", lang)
	case spam.ActionKick:
		tpl = i18n.Get("{{ .user_name }} was banned for repeated spam.", lang)
	default:
		return
	}
	e.send(ctx, event.ChatID, tool.ExecTemplate(tpl, map[string]any{
		"user_name": displayName(event.Sender),
	}), SendOptions{})
}

func (e *Engine) notifyManualIntervention(ctx context.Context, event MessageEvent) {
	tpl := i18n.Get("Spam from {{ .user_name }} was detected, but I lack admin rights to act. Admins, please handle it manually.", e.language(event))
	e.send(ctx, event.ChatID, tool.ExecTemplate(tpl, map[string]any{
		"user_name": displayName(event.Sender),
	}), SendOptions{ReplyTo: event.MessageID})
}

func (e *Engine) notifyImpersonation(ctx context.Context, chatID int64, subject, admin impersonation.Identity, lang string) {
	tpl := i18n.Get("{{ .user_name }} was removed for impersonating {{ .admin_name }}.", lang)
	e.send(ctx, chatID, tool.ExecTemplate(tpl, map[string]any{
		"user_name":  displayName(subject),
		"admin_name": displayName(admin),
	}), SendOptions{})
}

func (e *Engine) notifyShield(ctx context.Context, chatID int64, lang string) {
	e.send(ctx, chatID, i18n.Get("Join flood detected. New members are rejected for a while.", lang), SendOptions{})
}

func (e *Engine) notifyReport(ctx context.Context, event MessageEvent) {
	tpl := i18n.Get("Message from {{ .user_name }} was removed as spam.", e.language(event))
	e.send(ctx, event.ChatID, tool.ExecTemplate(tpl, map[string]any{
		"user_name": displayName(event.Sender),
	}), SendOptions{})
}

// forwardToLogChannel posts a summary of confirmed spam for admin review.
func (e *Engine) forwardToLogChannel(ctx context.Context, event MessageEvent, outcome Outcome) {
	if e.cfg.Spam.LogChannelID == 0 {
		return
	}
	summary := tool.ExecTemplate(`Spam {{ .source }} in {{ .chat_id }} from {{ .user_name }} ({{ .user_id }})
Action: {{ .action }}{{ if .enforced }} (done){{ end }}
Incident: {{ .incident_id }}

{{ .text }}`, map[string]any{
		"source":      outcome.Source,
		"chat_id":     event.ChatID,
		"user_name":   displayName(event.Sender),
		"user_id":     event.Sender.UserID,
		"action":      outcome.Action,
		"enforced":    outcome.Enforced,
		"incident_id": outcome.IncidentID,
		"text":        event.Text,
	})
	e.send(ctx, e.cfg.Spam.LogChannelID, summary, SendOptions{DisableLinkPreview: true})
}

func (e *Engine) send(ctx context.Context, chatID int64, text string, opts SendOptions) {
	if err := e.gateway.SendMessage(context.WithoutCancel(ctx), chatID, text, opts); err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"method":  "send",
			"chat_id": chatID,
			"error":   err.Error(),
		}).Warn("cant send notification")
	}
}

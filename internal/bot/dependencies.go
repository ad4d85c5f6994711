package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngguard/internal/impersonation"
	"github.com/iamwavecut/ngguard/internal/moderation"
)

type (
	// Moderator receives chat events mapped from updates.
	Moderator interface {
		OnMessage(ctx context.Context, event moderation.MessageEvent) moderation.Outcome
		OnMembersJoined(ctx context.Context, chatID int64, lang string, members []impersonation.Identity) int
		ReportSpam(ctx context.Context, reporterID int64, event moderation.MessageEvent) error
	}

	// Privileges answers whether a member may moderate a chat.
	Privileges interface {
		IsActorPrivileged(ctx context.Context, chatID, actorID int64) (bool, error)
	}

	// Languages stores the per-chat language override.
	Languages interface {
		GetKV(ctx context.Context, key string) (string, error)
		SetKV(ctx context.Context, key string, value string) error
	}

	updatesSource interface {
		GetUpdates(config api.UpdateConfig) ([]api.Update, error)
	}
)

package moderation

import (
	"context"
	"time"

	"github.com/iamwavecut/ngguard/internal/adapters/llm"
	"github.com/iamwavecut/ngguard/internal/fingerprint"
	"github.com/iamwavecut/ngguard/internal/impersonation"
	"github.com/iamwavecut/ngguard/internal/policy/spam"
)

type (
	Clock interface {
		Now() time.Time
	}

	// Gateway is the chat transport.
	Gateway interface {
		SelfID() int64
		ListAdmins(ctx context.Context, chatID int64) ([]impersonation.Identity, error)
		// GetAvatarRef returns "" when the user has no avatar.
		GetAvatarRef(ctx context.Context, userID int64) (string, error)
		CompareAvatars(ctx context.Context, refA, refB string) (bool, error)
		IsActorPrivileged(ctx context.Context, chatID, actorID int64) (bool, error)
		Ban(ctx context.Context, chatID, userID int64) error
		Unban(ctx context.Context, chatID, userID int64) error
		DeleteMessage(ctx context.Context, chatID int64, messageID int) error
		SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) error
		FetchImage(ctx context.Context, ref string) (Image, error)
	}

	// Classifier scores messages. Failures and malformed answers are reported
	// as errors wrapping ErrInconclusive.
	Classifier interface {
		Analyze(ctx context.Context, text string, actorID int64) (spam.Signals, error)
		AnalyzeWithImages(ctx context.Context, text string, images []llm.Image, actorID int64) (spam.Signals, error)
		SecondaryCheck(ctx context.Context, text string, actorID int64) (bool, error)
	}

	SecondaryChecker interface {
		SecondaryCheck(ctx context.Context, text string, actorID int64) (bool, error)
	}

	// Translator is invoked for messages written in a script foreign to the chat.
	Translator interface {
		Translate(ctx context.Context, event MessageEvent) error
	}

	kvStore interface {
		GetKV(ctx context.Context, key string) (string, error)
		SetKV(ctx context.Context, key string, value string) error
	}
)

type (
	MessageEvent struct {
		ChatID    int64
		MessageID int
		Language  string
		Sender    impersonation.Identity
		Text      string
		// ImageRefs are gateway file references of attached images.
		ImageRefs []string
	}

	Image struct {
		MIMEType string
		Data     []byte
		Hash     fingerprint.Hash
	}

	SendOptions struct {
		ReplyTo            int
		DisableLinkPreview bool
	}
)

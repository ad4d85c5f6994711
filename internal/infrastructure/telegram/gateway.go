// Package telegram implements the moderation gateway over the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/fingerprint"
	"github.com/iamwavecut/ngguard/internal/impersonation"
	"github.com/iamwavecut/ngguard/internal/moderation"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
)

const (
	avatarCacheSize = 4096
	avatarCacheTTL  = 6 * time.Hour
	maxReadRetries  = 3
)

var privilegeErrorMarkers = []string{
	"not enough rights",
	"CHAT_ADMIN_REQUIRED",
	"need administrator rights",
	"have no rights",
}

type botAPI interface {
	Request(c api.Chattable) (*api.APIResponse, error)
	Send(c api.Chattable) (api.Message, error)
	GetChatAdministrators(config api.ChatAdministratorsConfig) ([]api.ChatMember, error)
	GetChatMember(config api.GetChatMemberConfig) (api.ChatMember, error)
	GetUserProfilePhotos(config api.UserProfilePhotosConfig) (api.UserProfilePhotos, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Gateway performs chat operations for the moderation engine. Every API call
// passes through a shared rate limiter.
type Gateway struct {
	bot            botAPI
	selfID         int64
	limiter        *rate.Limiter
	downloader     *downloader
	avatarHashes   *expirable.LRU[string, fingerprint.Hash]
	avatarDistance int
}

var _ moderation.Gateway = (*Gateway)(nil)

func NewGateway(bot *api.BotAPI, rps float64, avatarDistance int) *Gateway {
	return newGateway(bot, bot.Self.ID, rps, avatarDistance, newDownloader(nil))
}

func newGateway(bot botAPI, selfID int64, rps float64, avatarDistance int, dl *downloader) *Gateway {
	if rps <= 0 {
		rps = 25
	}
	return &Gateway{
		bot:            bot,
		selfID:         selfID,
		limiter:        rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		downloader:     dl,
		avatarHashes:   expirable.NewLRU[string, fingerprint.Hash](avatarCacheSize, nil, avatarCacheTTL),
		avatarDistance: avatarDistance,
	}
}

func (g *Gateway) SelfID() int64 {
	return g.selfID
}

func (g *Gateway) ListAdmins(ctx context.Context, chatID int64) ([]impersonation.Identity, error) {
	members, err := retryRead(ctx, func() ([]api.ChatMember, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		return g.bot.GetChatAdministrators(api.ChatAdministratorsConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
		})
	})
	if err != nil {
		return nil, withPrivilegeError(err, "list admins")
	}

	admins := make([]impersonation.Identity, 0, len(members))
	for _, member := range members {
		if member.User == nil {
			continue
		}
		admins = append(admins, impersonation.Identity{
			UserID:   member.User.ID,
			Username: member.User.UserName,
			FullName: GetFullName(member.User),
		})
	}
	g.getLogEntry().WithFields(log.Fields{
		"method":  "ListAdmins",
		"chat_id": chatID,
		"count":   len(admins),
	}).Debug("fetched chat admins")
	return admins, nil
}

// GetAvatarRef returns the file id of the smallest size of the current
// profile photo, or "" when there is none.
func (g *Gateway) GetAvatarRef(ctx context.Context, userID int64) (string, error) {
	photos, err := retryRead(ctx, func() (api.UserProfilePhotos, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return api.UserProfilePhotos{}, backoff.Permanent(err)
		}
		return g.bot.GetUserProfilePhotos(api.UserProfilePhotosConfig{UserID: userID, Limit: 1})
	})
	if err != nil {
		return "", fmt.Errorf("%w: get profile photos: %v", ngerrors.ErrTransient, err)
	}
	if photos.TotalCount == 0 || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return "", nil
	}

	smallest := photos.Photos[0][0]
	for _, size := range photos.Photos[0][1:] {
		if size.Width*size.Height < smallest.Width*smallest.Height {
			smallest = size
		}
	}
	return smallest.FileID, nil
}

func (g *Gateway) CompareAvatars(ctx context.Context, refA, refB string) (bool, error) {
	if refA == refB {
		return true, nil
	}
	hashA, err := g.avatarHash(ctx, refA)
	if err != nil {
		return false, err
	}
	hashB, err := g.avatarHash(ctx, refB)
	if err != nil {
		return false, err
	}
	return fingerprint.Similar(hashA, hashB, g.avatarDistance), nil
}

func (g *Gateway) avatarHash(ctx context.Context, fileID string) (fingerprint.Hash, error) {
	if hash, ok := g.avatarHashes.Get(fileID); ok {
		return hash, nil
	}
	img, err := g.FetchImage(ctx, fileID)
	if err != nil {
		g.getLogEntry().WithField("method", "avatarHash").WithError(err).Warn("avatar fetch failed")
		return 0, err
	}
	g.avatarHashes.Add(fileID, img.Hash)
	return img.Hash, nil
}

func (g *Gateway) IsActorPrivileged(ctx context.Context, chatID, actorID int64) (bool, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return false, err
	}
	member, err := g.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     actorID,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to get chat member: %w", redactURL(err))
	}
	return permissions.CanEnforce(&member), nil
}

func (g *Gateway) Ban(ctx context.Context, chatID, userID int64) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		RevokeMessages: true,
	}
	if _, err := g.bot.Request(config); err != nil {
		return withPrivilegeError(err, "ban user")
	}
	return nil
}

func (g *Gateway) Unban(ctx context.Context, chatID, userID int64) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	config := api.UnbanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		OnlyIfBanned: true,
	}
	if _, err := g.bot.Request(config); err != nil {
		return withPrivilegeError(err, "unban user")
	}
	return nil
}

func (g *Gateway) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := g.bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		return withPrivilegeError(err, "delete message")
	}
	return nil
}

func (g *Gateway) SendMessage(ctx context.Context, chatID int64, text string, opts moderation.SendOptions) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := api.NewMessage(chatID, text)
	msg.LinkPreviewOptions.IsDisabled = opts.DisableLinkPreview
	if opts.ReplyTo != 0 {
		msg.ReplyParameters = api.ReplyParameters{
			ChatID:                   chatID,
			MessageID:                opts.ReplyTo,
			AllowSendingWithoutReply: true,
		}
	}
	if _, err := g.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", redactURL(err))
	}
	return nil
}

// FetchImage downloads a file by id and fingerprints it.
func (g *Gateway) FetchImage(ctx context.Context, ref string) (moderation.Image, error) {
	url, err := retryRead(ctx, func() (string, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(err)
		}
		return g.bot.GetFileDirectURL(ref)
	})
	if err != nil {
		return moderation.Image{}, fmt.Errorf("%w: resolve file: %v", ngerrors.ErrTransient, err)
	}

	data, err := retryRead(ctx, func() ([]byte, error) {
		return g.downloader.Download(ctx, url)
	})
	if errors.Is(err, ngerrors.ErrNotFound) {
		return moderation.Image{}, fmt.Errorf("download file: %w", err)
	}
	if err != nil {
		return moderation.Image{}, fmt.Errorf("%w: download file: %v", ngerrors.ErrTransient, err)
	}

	hash, mime, err := decodeImage(data)
	if err != nil {
		return moderation.Image{}, err
	}
	return moderation.Image{MIMEType: mime, Data: data, Hash: hash}, nil
}

func retryRead[T any](ctx context.Context, op func() (T, error)) (T, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(300*time.Millisecond)), maxReadRetries),
		ctx,
	)
	return backoff.RetryWithData(func() (T, error) {
		result, err := op()
		err = redactURL(err)
		if err != nil && (isPrivilegeError(err) || errors.Is(err, ngerrors.ErrNotFound)) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, policy)
}

func isPrivilegeError(err error) bool {
	for _, marker := range privilegeErrorMarkers {
		if strings.Contains(err.Error(), marker) {
			return true
		}
	}
	return false
}

func withPrivilegeError(err error, operation string) error {
	if isPrivilegeError(err) {
		return fmt.Errorf("%s: %w", operation, ngerrors.ErrNoPrivileges)
	}
	return fmt.Errorf("failed to %s: %w", operation, redactURL(err))
}

func (g *Gateway) getLogEntry() *log.Entry {
	return log.WithField("object", "TelegramGateway")
}

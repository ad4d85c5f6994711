// Package bot maps Telegram updates onto moderation entry points.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/impersonation"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/moderation"
)

const (
	UpdateTimeout = 5 * time.Minute

	commandReport   = "spam"
	commandLanguage = "lang"

	languageKeyPrefix = "chat_language:"
)

type (
	UpdateProcessor struct {
		moderator       Moderator
		privileges      Privileges
		languages       Languages
		defaultLanguage string
		now             func() time.Time
	}

	MessageType string
)

const (
	MessageTypeText      MessageType = "text"
	MessageTypeAnimation MessageType = "animation"
	MessageTypeAudio     MessageType = "audio"
	MessageTypeContact   MessageType = "contact"
	MessageTypeDice      MessageType = "dice"
	MessageTypeDocument  MessageType = "document"
	MessageTypeGame      MessageType = "game"
	MessageTypeInvoice   MessageType = "invoice"
	MessageTypeLocation  MessageType = "location"
	MessageTypePhoto     MessageType = "photo"
	MessageTypePoll      MessageType = "poll"
	MessageTypeSticker   MessageType = "sticker"
	MessageTypeStory     MessageType = "story"
	MessageTypeVenue     MessageType = "venue"
	MessageTypeVideo     MessageType = "video"
	MessageTypeVideoNote MessageType = "video_note"
	MessageTypeVoice     MessageType = "voice"
)

// NewUpdateProcessor creates a processor. languages may be nil, in which case
// every chat uses defaultLanguage.
func NewUpdateProcessor(moderator Moderator, privileges Privileges, languages Languages, defaultLanguage string) *UpdateProcessor {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &UpdateProcessor{
		moderator:       moderator,
		privileges:      privileges,
		languages:       languages,
		defaultLanguage: defaultLanguage,
		now:             time.Now,
	}
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil {
		return nil
	}

	entry := up.getLogEntry().WithFields(log.Fields{
		"method":  "Process",
		"chat_id": msg.Chat.ID,
	})

	updateTime := time.Unix(int64(msg.Date), 0)
	if age := up.now().Sub(updateTime); age > UpdateTimeout {
		entry.WithFields(log.Fields{
			"update_time": updateTime,
			"age":         age,
		}).Debug("skipping outdated update")
		return nil
	}
	if !msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup() {
		entry.Trace("not a group chat")
		return nil
	}

	lang := up.chatLanguage(ctx, msg.Chat.ID)

	if len(msg.NewChatMembers) > 0 {
		members := make([]impersonation.Identity, 0, len(msg.NewChatMembers))
		for i := range msg.NewChatMembers {
			if msg.NewChatMembers[i].IsBot {
				continue
			}
			members = append(members, identity(&msg.NewChatMembers[i]))
		}
		if len(members) == 0 {
			return nil
		}
		rejected := up.moderator.OnMembersJoined(ctx, msg.Chat.ID, lang, members)
		entry.WithFields(log.Fields{
			"joined":   len(members),
			"rejected": rejected,
		}).Debug("processed joins")
		return nil
	}

	if msg.From == nil {
		return nil
	}

	if msg.IsCommand() && u.Message != nil {
		switch msg.Command() {
		case commandReport:
			return up.handleReport(ctx, msg, lang)
		case commandLanguage:
			return up.handleLanguage(ctx, msg)
		}
	}

	outcome := up.moderator.OnMessage(ctx, up.toEvent(msg, lang))
	entry.WithFields(log.Fields{
		"user_id": msg.From.ID,
		"verdict": outcome.Verdict,
	}).Trace("message processed")
	return nil
}

func (up *UpdateProcessor) handleReport(ctx context.Context, msg *api.Message, lang string) error {
	reported := msg.ReplyToMessage
	if reported == nil || reported.From == nil {
		return nil
	}
	err := up.moderator.ReportSpam(ctx, msg.From.ID, up.toEvent(reported, lang))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ngerrors.ErrNoPrivileges):
		up.getLogEntry().WithFields(log.Fields{
			"method":  "handleReport",
			"chat_id": msg.Chat.ID,
			"user_id": msg.From.ID,
		}).Debug("report from unprivileged member ignored")
		return nil
	default:
		return fmt.Errorf("report spam: %w", err)
	}
}

func (up *UpdateProcessor) handleLanguage(ctx context.Context, msg *api.Message) error {
	if up.languages == nil {
		return nil
	}
	code := strings.ToLower(strings.TrimSpace(msg.CommandArguments()))
	if !i18n.IsKnownLanguage(code) {
		return nil
	}
	privileged, err := up.privileges.IsActorPrivileged(ctx, msg.Chat.ID, msg.From.ID)
	if err != nil {
		return fmt.Errorf("check privileges: %w", err)
	}
	if !privileged {
		return nil
	}
	if err := up.languages.SetKV(ctx, languageKey(msg.Chat.ID), code); err != nil {
		return fmt.Errorf("store chat language: %w", err)
	}
	up.getLogEntry().WithFields(log.Fields{
		"method":  "handleLanguage",
		"chat_id": msg.Chat.ID,
		"lang":    code,
	}).Info("chat language changed")
	return nil
}

func (up *UpdateProcessor) chatLanguage(ctx context.Context, chatID int64) string {
	if up.languages == nil {
		return up.defaultLanguage
	}
	lang, err := up.languages.GetKV(ctx, languageKey(chatID))
	if err != nil {
		up.getLogEntry().WithField("method", "chatLanguage").WithError(err).Warn("cant read chat language")
		return up.defaultLanguage
	}
	if lang == "" {
		return up.defaultLanguage
	}
	return lang
}

func (up *UpdateProcessor) toEvent(msg *api.Message, lang string) moderation.MessageEvent {
	return moderation.MessageEvent{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Language:  lang,
		Sender:    identity(msg.From),
		Text:      ExtractContentFromMessage(msg),
		ImageRefs: ImageRefs(msg),
	}
}

func (up *UpdateProcessor) getLogEntry() *log.Entry {
	return log.WithField("object", "UpdateProcessor")
}

func languageKey(chatID int64) string {
	return fmt.Sprintf("%s%d", languageKeyPrefix, chatID)
}

func identity(user *api.User) impersonation.Identity {
	return impersonation.Identity{
		UserID:   user.ID,
		Username: user.UserName,
		FullName: telegram.GetFullName(user),
	}
}

// ImageRefs returns file ids of still images attached to msg: the largest
// photo size, image documents and static stickers.
func ImageRefs(msg *api.Message) []string {
	var refs []string
	if n := len(msg.Photo); n > 0 {
		refs = append(refs, msg.Photo[n-1].FileID)
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		refs = append(refs, msg.Document.FileID)
	}
	if msg.Sticker != nil && !msg.Sticker.IsAnimated && !msg.Sticker.IsVideo {
		refs = append(refs, msg.Sticker.FileID)
	}
	return refs
}

// ExtractContentFromMessage flattens the text, caption, media descriptions and
// inline button labels of msg into one string.
func ExtractContentFromMessage(msg *api.Message) string {
	parts := []string{strings.TrimSpace(msg.Text + " " + msg.Caption)}

	messageType := GetMessageType(msg)
	switch messageType {
	case MessageTypeAudio:
		parts = append(parts, fmt.Sprintf("[%s] %s", messageType, msg.Audio.Title))
	case MessageTypeContact:
		parts = append(parts, fmt.Sprintf("[%s] %s", messageType, msg.Contact.PhoneNumber))
	case MessageTypeDice:
		parts = append(parts, fmt.Sprintf("[%s] %s (%d)", messageType, msg.Dice.Emoji, msg.Dice.Value))
	case MessageTypeGame:
		parts = append(parts, fmt.Sprintf("[%s] %s %s", messageType, msg.Game.Title, msg.Game.Description))
	case MessageTypeInvoice:
		parts = append(parts, fmt.Sprintf("[%s] %s %s", messageType, msg.Invoice.Title, msg.Invoice.Description))
	case MessageTypeLocation:
		parts = append(parts, fmt.Sprintf("[%s] %f,%f", messageType, msg.Location.Latitude, msg.Location.Longitude))
	case MessageTypePoll:
		parts = append(parts, fmt.Sprintf("[%s] %s", messageType, msg.Poll.Question))
	case MessageTypeVenue:
		parts = append(parts, fmt.Sprintf("[%s] %s %s", messageType, msg.Venue.Title, msg.Venue.Address))
	case MessageTypeAnimation, MessageTypeDocument, MessageTypeStory,
		MessageTypeVideo, MessageTypeVideoNote, MessageTypeVoice:
		parts = append(parts, fmt.Sprintf("[%s]", messageType))
	}

	if msg.ReplyMarkup != nil {
		for _, row := range msg.ReplyMarkup.InlineKeyboard {
			for _, button := range row {
				if button.Text != "" {
					parts = append(parts, button.Text)
				}
			}
		}
	}

	return strings.TrimSpace(strings.Join(strings.Fields(strings.Join(parts, " ")), " "))
}

func GetMessageType(msg *api.Message) MessageType {
	switch {
	case msg.Animation != nil:
		return MessageTypeAnimation
	case msg.Audio != nil:
		return MessageTypeAudio
	case msg.Contact != nil:
		return MessageTypeContact
	case msg.Dice != nil:
		return MessageTypeDice
	case msg.Document != nil:
		return MessageTypeDocument
	case msg.Game != nil:
		return MessageTypeGame
	case msg.Invoice != nil:
		return MessageTypeInvoice
	case msg.Location != nil:
		return MessageTypeLocation
	case msg.Photo != nil:
		return MessageTypePhoto
	case msg.Poll != nil:
		return MessageTypePoll
	case msg.Sticker != nil:
		return MessageTypeSticker
	case msg.Story != nil:
		return MessageTypeStory
	case msg.Venue != nil:
		return MessageTypeVenue
	case msg.Video != nil:
		return MessageTypeVideo
	case msg.VideoNote != nil:
		return MessageTypeVideoNote
	case msg.Voice != nil:
		return MessageTypeVoice
	default:
		return MessageTypeText
	}
}

// Package translator replies to foreign-script messages with a translation
// into the chat language.
package translator

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/adapters"
	"github.com/iamwavecut/ngguard/internal/adapters/llm"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/moderation"
)

const promptTemplate = `Translate the user's message into %s.
Keep names, links and formatting as they are.
Answer with the translation only, no quotes or commentary.`

type sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts moderation.SendOptions) error
}

type Translator struct {
	model  adapters.LLM
	sender sender
}

var _ moderation.Translator = (*Translator)(nil)

func New(model adapters.LLM, sender sender) *Translator {
	return &Translator{model: model, sender: sender}
}

func (t *Translator) Translate(ctx context.Context, event moderation.MessageEvent) error {
	entry := t.getLogEntry().WithFields(log.Fields{
		"method":  "Translate",
		"chat_id": event.ChatID,
		"lang":    event.Language,
	})

	resp, err := t.model.ChatCompletion(ctx, []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(promptTemplate, i18n.GetLanguageName(event.Language))},
		{Role: llm.RoleUser, Content: event.Text},
	})
	if err != nil {
		return fmt.Errorf("translation request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("translation request: empty response")
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" || strings.EqualFold(translated, strings.TrimSpace(event.Text)) {
		entry.Trace("nothing to translate")
		return nil
	}

	return t.sender.SendMessage(ctx, event.ChatID, translated, moderation.SendOptions{
		ReplyTo:            event.MessageID,
		DisableLinkPreview: true,
	})
}

func (t *Translator) getLogEntry() *log.Entry {
	return log.WithField("object", "Translator")
}

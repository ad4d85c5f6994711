package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/adapters"
	"github.com/iamwavecut/ngguard/internal/adapters/llm"
	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/policy/spam"
)

// LLM classifies messages with a chat-completion model.
type LLM struct {
	primary   adapters.LLM
	secondary adapters.LLM
	examples  []string
	logger    *log.Entry
}

// NewLLM builds a classifier. The secondary model may be the same adapter as
// the primary one.
func NewLLM(primary, secondary adapters.LLM, logger *log.Entry) *LLM {
	if secondary == nil {
		secondary = primary
	}
	return &LLM{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

// WithExamples adds known spam samples to the confirmation prompt.
func (c *LLM) WithExamples(examples []string) *LLM {
	c.examples = nil
	for _, example := range examples {
		if strings.TrimSpace(example) == "" {
			continue
		}
		c.examples = append(c.examples, example)
	}
	return c
}

func (c *LLM) Analyze(ctx context.Context, text string, actorID int64) (spam.Signals, error) {
	return c.AnalyzeWithImages(ctx, text, nil, actorID)
}

func (c *LLM) AnalyzeWithImages(ctx context.Context, text string, images []llm.Image, actorID int64) (spam.Signals, error) {
	entry := c.getLogEntry().WithField("method", "AnalyzeWithImages").WithField("user_id", actorID)

	resp, err := c.primary.ChatCompletion(ctx, []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: analysisPrompt},
		{Role: llm.RoleUser, Content: text, Images: images},
	})
	if err != nil {
		entry.WithError(err).Debug("analysis request failed")
		return spam.Signals{}, fmt.Errorf("%w: %v", ngerrors.ErrInconclusive, err)
	}
	if len(resp.Choices) == 0 {
		return spam.Signals{}, fmt.Errorf("%w: empty response", ngerrors.ErrInconclusive)
	}

	signals, err := ParseSignals(resp.Choices[0].Message.Content)
	if err != nil {
		entry.WithField("raw", resp.Choices[0].Message.Content).Debug("malformed analysis")
		return spam.Signals{}, err
	}
	entry.WithField("signals", signals).Trace("analysis done")
	return signals, nil
}

func (c *LLM) SecondaryCheck(ctx context.Context, text string, actorID int64) (bool, error) {
	messages := []llm.ChatCompletionMessage{{Role: llm.RoleSystem, Content: confirmationPrompt}}
	for _, example := range c.examples {
		messages = append(messages,
			llm.ChatCompletionMessage{Role: llm.RoleUser, Content: example},
			llm.ChatCompletionMessage{Role: llm.RoleAssistant, Content: "1"},
		)
	}
	messages = append(messages, llm.ChatCompletionMessage{Role: llm.RoleUser, Content: text})

	resp, err := c.secondary.ChatCompletion(ctx, messages)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ngerrors.ErrInconclusive, err)
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("%w: empty response", ngerrors.ErrInconclusive)
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	switch answer {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	c.getLogEntry().WithField("method", "SecondaryCheck").WithField("user_id", actorID).WithField("raw", answer).Debug("unexpected answer")
	return false, fmt.Errorf("%w: unexpected answer %q", ngerrors.ErrInconclusive, answer)
}

type rawSignals struct {
	Spam       *bool    `json:"spam"`
	Deviation  *float64 `json:"deviation"`
	Suspicion  *float64 `json:"suspicion"`
	Inducement *float64 `json:"inducement"`
}

// ParseSignals extracts the first JSON object from a model answer. A missing
// or non-boolean spam flag, a missing score or a negative score make the
// answer inconclusive.
func ParseSignals(content string) (spam.Signals, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return spam.Signals{}, fmt.Errorf("%w: no json object", ngerrors.ErrInconclusive)
	}

	var raw rawSignals
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return spam.Signals{}, fmt.Errorf("%w: %v", ngerrors.ErrInconclusive, err)
	}
	if raw.Spam == nil {
		return spam.Signals{}, fmt.Errorf("%w: spam flag missing", ngerrors.ErrInconclusive)
	}

	signals := spam.Signals{Spam: *raw.Spam}
	for _, pair := range []struct {
		src *float64
		dst *float64
	}{
		{raw.Deviation, &signals.Deviation},
		{raw.Suspicion, &signals.Suspicion},
		{raw.Inducement, &signals.Inducement},
	} {
		if pair.src == nil {
			return spam.Signals{}, fmt.Errorf("%w: score missing", ngerrors.ErrInconclusive)
		}
		if *pair.src < 0 {
			return spam.Signals{}, fmt.Errorf("%w: negative score", ngerrors.ErrInconclusive)
		}
		*pair.dst = *pair.src
	}
	return signals, nil
}

func (c *LLM) getLogEntry() *log.Entry {
	if c.logger != nil {
		return c.logger.WithField("object", "LLMClassifier")
	}
	return log.WithField("object", "LLMClassifier")
}

const analysisPrompt = `You are a moderation assistant for public group chats. Messages may be in any language.
Rate the user message on three independent scales from 0 to 10:
- "deviation": how far the message is from normal conversation in a community chat;
- "suspicion": how likely the message is an advertisement, scam, phishing or a bot post;
- "inducement": how hard the message pushes readers to act (write in private, follow a link, join a channel, send money).
Set "spam" to true only when the message is unsolicited promotion, fraud or mass mailing.
Attached images are part of the message.
Answer with exactly one JSON object and nothing else:
{"spam": true|false, "deviation": number, "suspicion": number, "inducement": number}`

const confirmationPrompt = `You confirm spam verdicts in public group chats. Messages may be in any language.
Spam is unsolicited promotion, job or earnings offers from strangers, crypto schemes, adult content,
phishing and invitations to private messages or third-party channels.
Questions, opinions, jokes, and discussions of the chat topic are not spam, even if rude.
Answer "1" if the message is spam and "0" otherwise. Answer with a single digit.`

package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/nlpodyssey/cybertron/pkg/tasks/zeroshotclassifier"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/adapters/llm"
	"github.com/iamwavecut/ngguard/internal/db"
	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
)

type stubLLM struct {
	lastMessages []llm.ChatCompletionMessage
	content      string
	err          error
}

func (s *stubLLM) ChatCompletion(_ context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	s.lastMessages = append([]llm.ChatCompletionMessage{}, messages...)
	if s.err != nil {
		return llm.ChatCompletionResponse{}, s.err
	}
	return llm.ChatCompletionResponse{
		Choices: []llm.ChatCompletionChoice{
			{Message: llm.ChatCompletionMessage{Role: llm.RoleAssistant, Content: s.content}},
		},
	}, nil
}

func testLogger() *log.Entry {
	return log.New().WithField("test", "classifier")
}

func TestParseSignals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		content      string
		wantSpam     bool
		wantScore    float64
		inconclusive bool
	}{
		{name: "plain", content: `{"spam":true,"deviation":5,"suspicion":5,"inducement":5}`, wantSpam: true, wantScore: 15},
		{name: "wrapped in prose", content: "Sure:\n```json\n{\"spam\": false, \"deviation\": 1.5, \"suspicion\": 0, \"inducement\": 0}\n```", wantScore: 1.5},
		{name: "missing score", content: `{"spam":true,"deviation":5,"suspicion":5}`, inconclusive: true},
		{name: "string flag", content: `{"spam":"yes","deviation":5}`, inconclusive: true},
		{name: "missing flag", content: `{"deviation":5}`, inconclusive: true},
		{name: "negative score", content: `{"spam":true,"deviation":1,"suspicion":-1,"inducement":0}`, inconclusive: true},
		{name: "no json", content: "SPAM", inconclusive: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			signals, err := ParseSignals(tt.content)
			if tt.inconclusive {
				if !errors.Is(err, ngerrors.ErrInconclusive) {
					t.Fatalf("expected inconclusive error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if signals.Spam != tt.wantSpam || signals.Score() != tt.wantScore {
				t.Fatalf("unexpected signals: %+v", signals)
			}
		})
	}
}

func TestAnalyzeWithImagesPassesImages(t *testing.T) {
	t.Parallel()

	stub := &stubLLM{content: `{"spam":true,"deviation":3,"suspicion":4,"inducement":5}`}
	c := NewLLM(stub, nil, testLogger())

	images := []llm.Image{{MIMEType: "image/png", Data: []byte{1}}}
	signals, err := c.AnalyzeWithImages(context.Background(), "buy now", images, 42)
	if err != nil {
		t.Fatalf("AnalyzeWithImages returned error: %v", err)
	}
	if !signals.Spam || signals.Score() != 12 {
		t.Fatalf("unexpected signals: %+v", signals)
	}
	if len(stub.lastMessages) != 2 || stub.lastMessages[0].Role != llm.RoleSystem {
		t.Fatalf("unexpected prompt: %#v", stub.lastMessages)
	}
	if len(stub.lastMessages[1].Images) != 1 || stub.lastMessages[1].Content != "buy now" {
		t.Fatalf("expected user message with image, got %#v", stub.lastMessages[1])
	}
}

func TestAnalyzeFailureIsInconclusive(t *testing.T) {
	t.Parallel()

	c := NewLLM(&stubLLM{err: context.DeadlineExceeded}, nil, testLogger())
	if _, err := c.Analyze(context.Background(), "text", 1); !errors.Is(err, ngerrors.ErrInconclusive) {
		t.Fatalf("expected inconclusive error, got %v", err)
	}
}

func TestSecondaryCheckIncludesExamples(t *testing.T) {
	t.Parallel()

	stub := &stubLLM{content: " 1\n"}
	c := NewLLM(nil, stub, testLogger()).WithExamples([]string{"custom spam example", " ", ""})

	confirmed, err := c.SecondaryCheck(context.Background(), "candidate message", 7)
	if err != nil {
		t.Fatalf("SecondaryCheck returned error: %v", err)
	}
	if !confirmed {
		t.Fatalf("expected confirmation")
	}

	tail := stub.lastMessages[len(stub.lastMessages)-3:]
	if tail[0].Role != llm.RoleUser || tail[0].Content != "custom spam example" {
		t.Fatalf("expected example user message, got %#v", tail[0])
	}
	if tail[1].Role != llm.RoleAssistant || tail[1].Content != "1" {
		t.Fatalf("expected example answer, got %#v", tail[1])
	}
	if tail[2].Content != "candidate message" {
		t.Fatalf("expected candidate at tail, got %#v", tail[2])
	}
}

func TestSecondaryCheckRejectsUnexpectedAnswer(t *testing.T) {
	t.Parallel()

	c := NewLLM(&stubLLM{content: "maybe"}, nil, testLogger())
	if _, err := c.SecondaryCheck(context.Background(), "text", 1); !errors.Is(err, ngerrors.ErrInconclusive) {
		t.Fatalf("expected inconclusive error, got %v", err)
	}

	c = NewLLM(&stubLLM{content: "0"}, nil, testLogger())
	confirmed, err := c.SecondaryCheck(context.Background(), "text", 1)
	if err != nil || confirmed {
		t.Fatalf("expected clean negative, got %v %v", confirmed, err)
	}
}

type stubZeroShot struct {
	response zeroshotclassifier.Response
	err      error
}

func (s *stubZeroShot) Classify(_ context.Context, _ string, _ zeroshotclassifier.Parameters) (zeroshotclassifier.Response, error) {
	return s.response, s.err
}

func TestZeroShotSecondaryCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		response     zeroshotclassifier.Response
		err          error
		want         bool
		inconclusive bool
	}{
		{name: "spam", response: zeroshotclassifier.Response{Labels: []string{labelSpam, labelRegular}, Scores: []float64{0.9, 0.1}}, want: true},
		{name: "low score", response: zeroshotclassifier.Response{Labels: []string{labelSpam, labelRegular}, Scores: []float64{0.4, 0.35}}},
		{name: "regular", response: zeroshotclassifier.Response{Labels: []string{labelRegular, labelSpam}, Scores: []float64{0.8, 0.2}}},
		{name: "empty", inconclusive: true},
		{name: "error", err: errors.New("boom"), inconclusive: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			z := newZeroShot(&stubZeroShot{response: tt.response, err: tt.err}, testLogger())
			got, err := z.SecondaryCheck(context.Background(), "text", 1)
			if tt.inconclusive {
				if !errors.Is(err, ngerrors.ErrInconclusive) {
					t.Fatalf("expected inconclusive error, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

type stubExampleSource struct {
	fps   []*db.SpamFingerprint
	err   error
	kind  db.FingerprintKind
	limit int
}

func (s *stubExampleSource) GetRecentSpamFingerprints(_ context.Context, kind db.FingerprintKind, limit int) ([]*db.SpamFingerprint, error) {
	s.kind, s.limit = kind, limit
	return s.fps, s.err
}

func TestLoadExamples(t *testing.T) {
	t.Parallel()

	source := &stubExampleSource{fps: []*db.SpamFingerprint{{Text: "buy crypto now"}, {Text: "free followers"}}}
	examples, err := LoadExamples(context.Background(), source, 5)
	if err != nil {
		t.Fatalf("LoadExamples returned error: %v", err)
	}
	if source.kind != db.FingerprintText || source.limit != 5 {
		t.Fatalf("unexpected query kind=%v limit=%d", source.kind, source.limit)
	}
	if len(examples) != 2 || examples[0] != "buy crypto now" {
		t.Fatalf("unexpected examples %v", examples)
	}

	failing := &stubExampleSource{err: errors.New("disk")}
	if _, err := LoadExamples(context.Background(), failing, 5); err == nil {
		t.Fatalf("expected store error")
	}
}

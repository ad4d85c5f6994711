package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/iamwavecut/ngguard/internal/adapters/llm"
)

func TestToPartsWithImages(t *testing.T) {
	t.Parallel()

	parts := toParts(llm.ChatCompletionMessage{
		Role:    llm.RoleUser,
		Content: "look",
		Images: []llm.Image{
			{MIMEType: "image/png", Data: []byte{1}},
			{Data: []byte{2}},
		},
	})
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if text, ok := parts[0].(genai.Text); !ok || string(text) != "look" {
		t.Fatalf("unexpected text part: %#v", parts[0])
	}
	png, ok := parts[1].(genai.Blob)
	if !ok || png.MIMEType != "image/png" {
		t.Fatalf("unexpected png part: %#v", parts[1])
	}
	jpeg, ok := parts[2].(genai.Blob)
	if !ok || jpeg.MIMEType != "image/jpeg" {
		t.Fatalf("expected jpeg default, got %#v", parts[2])
	}
}

func TestRoleFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role string
		want string
	}{
		{role: llm.RoleAssistant, want: "model"},
		{role: llm.RoleUser, want: "user"},
		{role: "", want: "user"},
	}
	for _, tt := range tests {
		if got := roleFor(tt.role); got != tt.want {
			t.Fatalf("roleFor(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

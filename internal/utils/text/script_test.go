package text

import "testing"

func TestDominantScript(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    Script
	}{
		{name: "latin", content: "hello there, friends", want: ScriptLatin},
		{name: "cyrillic", content: "привет всем, как дела? ok", want: ScriptCyrillic},
		{name: "han", content: "你好世界朋友们", want: ScriptHan},
		{name: "too short", content: "ok", want: ScriptUnknown},
		{name: "no letters", content: "12345 !!!", want: ScriptUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DominantScript(tt.content, 5); got != tt.want {
				t.Fatalf("DominantScript(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestNeedsTranslation(t *testing.T) {
	t.Parallel()

	if !NeedsTranslation("привет всем участникам", "en", 5) {
		t.Fatalf("expected cyrillic text in english chat to need translation")
	}
	if NeedsTranslation("hello everyone here", "en", 5) {
		t.Fatalf("expected latin text in english chat to pass")
	}
	if NeedsTranslation("hello everyone here", "xx", 5) {
		t.Fatalf("unknown chat language never triggers translation")
	}
}

package similarity

import (
	"reflect"
	"testing"

	"github.com/iamwavecut/ngguard/internal/fingerprint"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "punctuation dropped", in: "Hello, WORLD!!! 42", want: []string{"hello", "world", "42"}},
		{name: "diacritics folded", in: "Café crème", want: []string{"cafe", "creme"}},
		{name: "cjk run separated", in: "earn抽奖活动now", want: []string{"earn", "抽奖活动", "now"}},
		{name: "cyrillic kept", in: "Заработок без вложений", want: []string{"заработок", "без", "вложении"}},
		{name: "empty", in: " ... ", want: nil},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Tokenize(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Tokenize(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestTextCacheExactMatchScoresHundred(t *testing.T) {
	t.Parallel()

	c := NewTextCache(10, 95)
	spam := "Earn $500 daily!!! Write me in DM"
	if !c.AddSpamMessage(spam) {
		t.Fatalf("expected entry to be added")
	}
	for _, threshold := range []float64{1, 50, 95, 100} {
		if !c.IsSimilarToSpam("earn 500 daily write me in dm", threshold) {
			t.Fatalf("normalized duplicate must match at threshold %v", threshold)
		}
	}
}

func TestTextCacheCosineThreshold(t *testing.T) {
	t.Parallel()

	c := NewTextCache(10, 95)
	c.AddSpamMessage("crypto signals join channel now free profit")

	if !c.IsSimilarToSpam("crypto signals join channel now free profit today", 80) {
		t.Fatalf("expected near-duplicate to match at 80")
	}
	if c.IsSimilarToSpam("crypto signals join channel now free profit today", 99) {
		t.Fatalf("expected near-duplicate to miss at 99")
	}
	if c.IsSimilarToSpam("does anyone know how to configure nginx", 10) {
		t.Fatalf("unrelated text must not match")
	}
	if c.IsSimilarToSpam("", 0.5) {
		t.Fatalf("empty text must not match")
	}
}

func TestTextCacheSkipsNearDuplicatesButRemembersThem(t *testing.T) {
	t.Parallel()

	c := NewTextCache(10, 80)
	c.AddSpamMessage("crypto signals join channel now free profit")
	variant := "crypto signals join channel now free profit today"
	if c.AddSpamMessage(variant) {
		t.Fatalf("near-duplicate must not create a new entry")
	}
	if c.Len() != 1 {
		t.Fatalf("unexpected cache size %d", c.Len())
	}
	if !c.IsSimilarToSpam(variant, 100) {
		t.Fatalf("reported variant must match exactly afterwards")
	}
}

func TestTextCacheFIFOEviction(t *testing.T) {
	t.Parallel()

	c := NewTextCache(2, 95)
	c.AddSpamMessage("alpha bravo charlie")
	c.AddSpamMessage("delta echo foxtrot")
	c.AddSpamMessage("golf hotel india")

	if c.Len() != 2 {
		t.Fatalf("unexpected cache size %d", c.Len())
	}
	if c.IsSimilarToSpam("alpha bravo charlie", 95) {
		t.Fatalf("oldest entry must be evicted")
	}
	if !c.IsSimilarToSpam("golf hotel india", 95) || !c.IsSimilarToSpam("delta echo foxtrot", 95) {
		t.Fatalf("newer entries must survive")
	}
}

func TestImageCache(t *testing.T) {
	t.Parallel()

	c := NewImageCache(2, 3)
	base := fingerprint.Hash(0xff00ff00ff00ff00)
	if !c.AddSpamImage(ImageEntry{Hash: base, ChatID: -100, MessageID: 7}) {
		t.Fatalf("expected add")
	}
	if c.AddSpamImage(ImageEntry{Hash: base ^ 0b11}) {
		t.Fatalf("near-equal hash must be skipped")
	}

	entry, ok := c.Match(base ^ 0b111)
	if !ok || entry.MessageID != 7 || entry.ChatID != -100 {
		t.Fatalf("unexpected match: %+v %v", entry, ok)
	}
	if c.IsSpamImage(base ^ 0b1111) {
		t.Fatalf("distance 4 must not match")
	}

	c.AddSpamImage(ImageEntry{Hash: 0x0123456789abcdef})
	c.AddSpamImage(ImageEntry{Hash: 0xfedcba9876543210})
	if c.IsSpamImage(base) {
		t.Fatalf("oldest image must be evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("unexpected size %d", c.Len())
	}
}

package text

import "unicode"

type Script string

const (
	ScriptUnknown  Script = ""
	ScriptLatin    Script = "latin"
	ScriptCyrillic Script = "cyrillic"
	ScriptArabic   Script = "arabic"
	ScriptHan      Script = "han"
	ScriptOther    Script = "other"
)

var languageScripts = map[string]Script{
	"en": ScriptLatin, "de": ScriptLatin, "es": ScriptLatin, "fr": ScriptLatin, "it": ScriptLatin,
	"pt": ScriptLatin, "pl": ScriptLatin, "tr": ScriptLatin, "id": ScriptLatin, "uz": ScriptLatin,
	"ru": ScriptCyrillic, "uk": ScriptCyrillic, "be": ScriptCyrillic, "bg": ScriptCyrillic,
	"sr": ScriptCyrillic, "kk": ScriptCyrillic,
	"ar": ScriptArabic, "fa": ScriptArabic,
	"zh": ScriptHan, "ja": ScriptHan,
}

// LanguageScript returns the writing system of a two-letter language code.
func LanguageScript(lang string) Script {
	return languageScripts[lang]
}

// DominantScript returns the script most letters of content belong to.
// Content with fewer than minLetters letters yields ScriptUnknown.
func DominantScript(content string, minLetters int) Script {
	counts := map[Script]int{}
	total := 0
	for _, r := range content {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		switch {
		case unicode.Is(unicode.Latin, r):
			counts[ScriptLatin]++
		case unicode.Is(unicode.Cyrillic, r):
			counts[ScriptCyrillic]++
		case unicode.Is(unicode.Arabic, r):
			counts[ScriptArabic]++
		case unicode.Is(unicode.Han, r), unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			counts[ScriptHan]++
		default:
			counts[ScriptOther]++
		}
	}
	if total == 0 || total < minLetters {
		return ScriptUnknown
	}

	best, bestCount := ScriptUnknown, 0
	for _, script := range []Script{ScriptLatin, ScriptCyrillic, ScriptArabic, ScriptHan, ScriptOther} {
		if counts[script] > bestCount {
			best, bestCount = script, counts[script]
		}
	}
	return best
}

// NeedsTranslation reports whether content is written in a script foreign to
// the chat language.
func NeedsTranslation(content, chatLanguage string, minLetters int) bool {
	want := LanguageScript(chatLanguage)
	if want == ScriptUnknown {
		return false
	}
	got := DominantScript(content, minLetters)
	return got != ScriptUnknown && got != want
}

package spam

import "strings"

type Action string

const (
	ActionNone Action = "none"
	// ActionWarn removes the user but lets them rejoin (ban then unban).
	ActionWarn Action = "warn"
	// ActionKick is a permanent ban.
	ActionKick Action = "kick"
)

// Signals are the classifier scores for one message.
type Signals struct {
	Spam       bool
	Deviation  float64
	Suspicion  float64
	Inducement float64
}

func (s Signals) Score() float64 {
	return CalculateSpamScore(s.Deviation, s.Suspicion, s.Inducement)
}

func CalculateSpamScore(deviation, suspicion, inducement float64) float64 {
	return deviation + suspicion + inducement
}

// IsSpamMessage requires the spam flag, a score strictly above threshold, at
// least minWordCount words and no relevant keyword in text.
func IsSpamMessage(spamFlag bool, score, spamThreshold float64, text string, relevantKeywords []string, minWordCount int) bool {
	if !spamFlag || score <= spamThreshold {
		return false
	}
	if len(strings.Fields(text)) < minWordCount {
		return false
	}
	return !ContainsKeyword(text, relevantKeywords)
}

func ContainsKeyword(text string, keywords []string) bool {
	lowered := strings.ToLower(text)
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func DecideSecondarySpamCheck(isPrimarySpam bool) bool {
	return isPrimarySpam
}

func DecideDisciplinaryAction(offenseCountInWindow int) Action {
	switch {
	case offenseCountInWindow <= 0:
		return ActionNone
	case offenseCountInWindow == 1:
		return ActionWarn
	default:
		return ActionKick
	}
}

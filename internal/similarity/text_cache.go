package similarity

import (
	"math"
	"sync"
)

const maxAliases = 16

type (
	// TextCache keeps token-frequency vectors of confirmed spam bodies in a
	// FIFO ring bounded by capacity.
	TextCache struct {
		mu              sync.RWMutex
		capacity        int
		dedupeThreshold float64
		entries         []textEntry
	}

	textEntry struct {
		normalized string
		aliases    []string
		vector     map[string]float64
		magnitude  float64
	}
)

// NewTextCache creates a cache that treats additions scoring at least
// dedupeThreshold against an existing entry as duplicates.
func NewTextCache(capacity int, dedupeThreshold float64) *TextCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &TextCache{
		capacity:        capacity,
		dedupeThreshold: dedupeThreshold,
	}
}

func newTextEntry(tokens []string) textEntry {
	vector := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		vector[token]++
	}
	var sum float64
	for _, v := range vector {
		sum += v * v
	}
	return textEntry{
		normalized: joinTokens(tokens),
		vector:     vector,
		magnitude:  math.Sqrt(sum),
	}
}

// IsSimilarToSpam reports whether text scores at least thresholdPercent
// against any cached entry.
func (c *TextCache) IsSimilarToSpam(text string, thresholdPercent float64) bool {
	score, _ := c.bestMatch(text)
	return score >= thresholdPercent
}

// AddSpamMessage appends text unless it is empty or a near-duplicate of a
// cached entry. Returns true when a new entry was stored.
func (c *TextCache) AddSpamMessage(text string) bool {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return false
	}
	candidate := newTextEntry(tokens)

	c.mu.Lock()
	defer c.mu.Unlock()

	bestIdx, bestScore := -1, 0.0
	for i := range c.entries {
		score := c.entries[i].score(&candidate)
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestIdx >= 0 && bestScore >= c.dedupeThreshold {
		entry := &c.entries[bestIdx]
		if !entry.matchesExactly(candidate.normalized) && len(entry.aliases) < maxAliases {
			entry.aliases = append(entry.aliases, candidate.normalized)
		}
		return false
	}

	if len(c.entries) >= c.capacity {
		c.entries = append(c.entries[:0], c.entries[len(c.entries)-c.capacity+1:]...)
	}
	c.entries = append(c.entries, candidate)
	return true
}

// Load appends texts in order, oldest first.
func (c *TextCache) Load(texts []string) int {
	added := 0
	for _, text := range texts {
		if c.AddSpamMessage(text) {
			added++
		}
	}
	return added
}

func (c *TextCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TextCache) bestMatch(text string) (float64, int) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0, -1
	}
	candidate := newTextEntry(tokens)

	c.mu.RLock()
	defer c.mu.RUnlock()

	bestIdx, best := -1, 0.0
	for i := range c.entries {
		score := c.entries[i].score(&candidate)
		if score > best {
			bestIdx, best = i, score
		}
		if best >= 100 {
			break
		}
	}
	return best, bestIdx
}

func (e *textEntry) matchesExactly(normalized string) bool {
	if e.normalized == normalized {
		return true
	}
	for _, alias := range e.aliases {
		if alias == normalized {
			return true
		}
	}
	return false
}

func (e *textEntry) score(other *textEntry) float64 {
	if e.matchesExactly(other.normalized) {
		return 100
	}
	if e.magnitude == 0 || other.magnitude == 0 {
		return 0
	}
	small, large := e.vector, other.vector
	if len(small) > len(large) {
		small, large = large, small
	}
	var dot float64
	for token, v := range small {
		dot += v * large[token]
	}
	return math.Min(100, dot/(e.magnitude*other.magnitude)*100)
}

func joinTokens(tokens []string) string {
	n := 0
	for _, t := range tokens {
		n += len(t) + 1
	}
	buf := make([]byte, 0, n)
	for i, t := range tokens {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, t...)
	}
	return string(buf)
}

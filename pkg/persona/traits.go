package persona

import (
	"regexp"
	"sort"
	"strings"
)

var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), // SSN-like
	regexp.MustCompile(`\b\d{10}\b`),            // 10-digit numbers
}

var linkPattern = regexp.MustCompile(`https?://\S+`)

var greetingWords = []string{"hey", "heyy", "hi", "hii", "hello", "yo", "sup", "hiya", "howdy"}

// hasElongatedWord reports stretched words like "soooo" or "yesss",
// meaning three or more identical letters in a row.
func hasElongatedWord(text string) bool {
	var prev rune
	run := 1
	for _, r := range text {
		isLetter := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
		if isLetter && r == prev {
			run++
			if run >= 3 {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}

// ScrubPII replaces PII-looking substrings before anything is stored
// or embedded.
func ScrubPII(text string) string {
	out := text
	for _, pat := range piiPatterns {
		out = pat.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}

// CleanTexts trims, scrubs and drops empty entries.
func CleanTexts(texts []string) []string {
	cleaned := make([]string, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		t = ScrubPII(t)
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return cleaned
}

var emojiSet = func() map[rune]bool {
	set := map[rune]bool{}
	for _, r := range "😀😃😄😁😆😅😂🙂😉😊😍😘🤔🙃😭🤣✨🔥💯👍🙏❤💀😬😎😜😇😏🥲😤😢" {
		set[r] = true
	}
	return set
}()

var slangWords = []string{
	"bruh", "ngl", "lowkey", "highkey", "fr", "ong", "tbh", "idk", "ikr", "btw",
	"lol", "lmao", "rofl", "smh", "af", "jk", "imo", "imho", "yeet", "sus",
	"cap", "bet", "rip", "brb", "gg",
}

var topicLexicon = map[string][]string{
	"media":      {"anime", "manga", "movie", "show", "season", "episode", "game", "gaming", "music", "song", "meme", "memes"},
	"lifestyle":  {"gym", "workout", "travel", "trip", "food", "snack", "coffee", "tea", "run", "hike", "bike"},
	"technology": {"ai", "gpt", "llm", "python", "javascript", "crypto", "gpu", "server", "dev", "code"},
	"community":  {"school", "work", "job", "team", "fandom", "discord", "guild", "clan"},
	"events":     {"news", "politics", "election", "war", "update", "launch", "release"},
}

// ExtractTraits computes style metrics over cleaned texts. Empty input
// yields a zero summary with MessageCount 0.
func ExtractTraits(texts []string) TraitSummary {
	var t TraitSummary
	t.TopTopics = []string{}
	t.TopEmoji = []string{}
	t.TopSlang = []string{}
	if len(texts) == 0 {
		return t
	}

	n := float64(len(texts))
	var totalChars, totalWords, upperWords int
	var emojiHits, slangMsgs, questionMsgs, exclaimMsgs, linkMsgs int
	var elongatedMsgs, greetingMsgs int
	emojiCounts := map[string]int{}
	slangCounts := map[string]int{}
	topicCounts := map[string]int{}

	for _, text := range texts {
		totalChars += len(text)
		lower := strings.ToLower(text)
		words := strings.Fields(text)
		totalWords += len(words)
		for _, w := range words {
			if len(w) > 1 && w == strings.ToUpper(w) && w != strings.ToLower(w) {
				upperWords++
			}
		}
		for _, r := range text {
			if emojiSet[r] {
				emojiHits++
				emojiCounts[string(r)]++
			}
		}
		hadSlang := false
		for _, s := range slangWords {
			if containsWord(lower, s) {
				slangCounts[s]++
				hadSlang = true
			}
		}
		if hadSlang {
			slangMsgs++
		}
		if strings.Contains(text, "?") {
			questionMsgs++
		}
		if strings.Contains(text, "!") {
			exclaimMsgs++
		}
		if linkPattern.MatchString(text) {
			linkMsgs++
		}
		if hasElongatedWord(text) {
			elongatedMsgs++
		}
		if len(words) > 0 && isGreeting(strings.ToLower(strings.Trim(words[0], ".,!?"))) {
			greetingMsgs++
		}
		for topic, vocab := range topicLexicon {
			for _, w := range vocab {
				if containsWord(lower, w) {
					topicCounts[topic]++
					break
				}
			}
		}
	}

	t.MessageCount = len(texts)
	t.AvgMessageLen = float64(totalChars) / n
	t.EmojiFrequency = float64(emojiHits) / n
	t.SlangFrequency = float64(slangMsgs) / n
	t.QuestionRatio = float64(questionMsgs) / n
	t.ExclamationRatio = float64(exclaimMsgs) / n
	t.LinkFrequency = float64(linkMsgs) / n
	t.ElongationRatio = float64(elongatedMsgs) / n
	t.GreetingRatio = float64(greetingMsgs) / n
	if totalWords > 0 {
		t.CapsRatio = float64(upperWords) / float64(totalWords)
	}
	t.TopTopics = topRanked(topicCounts, 5)
	t.TopEmoji = topRanked(emojiCounts, 5)
	t.TopSlang = topRanked(slangCounts, 8)
	return t
}

func containsWord(lower, word string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(lower[start-1])
		afterOK := end == len(lower) || !isWordChar(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isGreeting(word string) bool {
	for _, g := range greetingWords {
		if word == g {
			return true
		}
	}
	return false
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

func topRanked(counts map[string]int, limit int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

// MergeTraitSummaries combines an existing summary with a new batch,
// weighting numeric metrics by message counts. Ranked sets merge by
// alternating positions with duplicates removed. Pure function, no
// clock or store access.
func MergeTraitSummaries(old, fresh TraitSummary) TraitSummary {
	if old.MessageCount == 0 {
		return fresh
	}
	if fresh.MessageCount == 0 {
		return old
	}

	oldN := float64(old.MessageCount)
	newN := float64(fresh.MessageCount)
	total := oldN + newN

	weighted := func(a, b float64) float64 {
		return (a*oldN + b*newN) / total
	}

	return TraitSummary{
		AvgMessageLen:    weighted(old.AvgMessageLen, fresh.AvgMessageLen),
		EmojiFrequency:   weighted(old.EmojiFrequency, fresh.EmojiFrequency),
		SlangFrequency:   weighted(old.SlangFrequency, fresh.SlangFrequency),
		QuestionRatio:    weighted(old.QuestionRatio, fresh.QuestionRatio),
		ExclamationRatio: weighted(old.ExclamationRatio, fresh.ExclamationRatio),
		CapsRatio:        weighted(old.CapsRatio, fresh.CapsRatio),
		LinkFrequency:    weighted(old.LinkFrequency, fresh.LinkFrequency),
		ElongationRatio:  weighted(old.ElongationRatio, fresh.ElongationRatio),
		GreetingRatio:    weighted(old.GreetingRatio, fresh.GreetingRatio),
		TopTopics:        mergeRanked(old.TopTopics, fresh.TopTopics, 5),
		TopEmoji:         mergeRanked(old.TopEmoji, fresh.TopEmoji, 5),
		TopSlang:         mergeRanked(old.TopSlang, fresh.TopSlang, 8),
		MessageCount:     old.MessageCount + fresh.MessageCount,
	}
}

// mergeRanked interleaves two ranked lists position by position,
// deduplicating while preserving rank order.
func mergeRanked(a, b []string, limit int) []string {
	seen := map[string]bool{}
	out := []string{}
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) && !seen[a[i]] {
			seen[a[i]] = true
			out = append(out, a[i])
		}
		if i < len(b) && !seen[b[i]] {
			seen[b[i]] = true
			out = append(out, b[i])
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Descriptive labels derived from the numeric metrics. These feed the
// style prompt and are never stored, so merging stays numeric.

func (t TraitSummary) ResponseStyle() string {
	if t.AvgMessageLen < 80 {
		return "concise"
	}
	return "detailed"
}

func (t TraitSummary) Tone() string {
	if t.MessageCount == 0 {
		return "neutral"
	}
	if t.SlangFrequency > 0.1 || t.EmojiFrequency > 0.3 {
		return "casual"
	}
	return "neutral"
}

func (t TraitSummary) Expressiveness() string {
	if t.EmojiFrequency > 0.5 || t.ExclamationRatio > 0.5 {
		return "expressive"
	}
	return "reserved"
}

func (t TraitSummary) Capitalization() string {
	if t.CapsRatio > 0.05 {
		return "frequent ALL CAPS"
	}
	return "mixed"
}

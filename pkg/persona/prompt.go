package persona

import (
	"fmt"
	"strings"
)

// StyleFromTraits renders a TraitSummary into the bullet style guide
// stored on the persona document. Output is capped at maxChars.
func StyleFromTraits(displayName string, t TraitSummary, maxChars int) string {
	emojiDesc := "rare"
	if t.EmojiFrequency >= 0.5 {
		emojiDesc = "frequent"
	} else if t.EmojiFrequency >= 0.05 {
		emojiDesc = "occasional"
	}

	lengthDesc := "short (1-2 sentences)"
	if t.AvgMessageLen >= 180 {
		lengthDesc = "long (4+ sentences)"
	} else if t.AvgMessageLen >= 80 {
		lengthDesc = "medium (2-4 sentences)"
	}

	slangDesc := "minimal slang"
	if len(t.TopSlang) > 0 {
		slangDesc = strings.Join(capSlice(t.TopSlang, 6), ", ")
	}
	topicsDesc := "varied server topics"
	if len(t.TopTopics) > 0 {
		topicsDesc = strings.Join(capSlice(t.TopTopics, 6), ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Style guide for @%s:\n", displayName)
	fmt.Fprintf(&b, "- Tone: %s\n", t.Tone())
	fmt.Fprintf(&b, "- Emoji: %s", emojiDesc)
	if len(t.TopEmoji) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(t.TopEmoji, " "))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- Length: %s\n", lengthDesc)
	fmt.Fprintf(&b, "- Slang: %s\n", slangDesc)
	fmt.Fprintf(&b, "- Topics: %s\n", topicsDesc)
	fmt.Fprintf(&b, "- Capitalization: %s\n", t.Capitalization())
	fmt.Fprintf(&b, "- Expressiveness: %s; questions in %.0f%% of messages\n", t.Expressiveness(), t.QuestionRatio*100)
	if quirks := quirkList(t); len(quirks) > 0 {
		fmt.Fprintf(&b, "- Quirks: %s\n", strings.Join(quirks, "; "))
	}
	fmt.Fprintf(&b, "- Response style: %s", t.ResponseStyle())

	return truncate(b.String(), maxChars)
}

func quirkList(t TraitSummary) []string {
	var quirks []string
	if t.ElongationRatio >= 0.1 {
		quirks = append(quirks, "stretches words for emphasis (soooo, yesss)")
	}
	if t.GreetingRatio >= 0.15 {
		quirks = append(quirks, "often opens with a greeting")
	}
	if t.LinkFrequency >= 0.2 {
		quirks = append(quirks, "shares links often")
	}
	return quirks
}

func capSlice(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// truncate cuts s at max bytes on a rune boundary.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !isRuneStart(s[len(cut)]) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// BuildSpeakSystemPrompt is the system message for persona speech.
func BuildSpeakSystemPrompt(displayName string, assembled AssembledContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "System style for @%s:\n%s\n\n", displayName, assembled.StyleBlock)
	fmt.Fprintf(&b, "You are writing as the AI persona of @%s. Keep responses natural and in their style.\n", displayName)
	b.WriteString("Avoid copying training snippets; paraphrase when referencing past content.")

	if len(assembled.Examples) > 0 {
		b.WriteString("\n\n[Example exchanges]\n")
		for _, ex := range assembled.Examples {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n---\n", ex.Prompt, ex.Response)
		}
	}
	if len(assembled.Snippets) > 0 {
		b.WriteString("\n[Relevant snippets]\n")
		b.WriteString(strings.Join(assembled.Snippets, "\n---\n"))
	}
	return b.String()
}

// BuildRetrySystemPrompt adds the diversification instruction used
// after a guard rejection.
func BuildRetrySystemPrompt(displayName string, assembled AssembledContext) string {
	return BuildSpeakSystemPrompt(displayName, assembled) +
		"\n\nYour previous answer copied source material too closely. " +
		"Rephrase entirely in your own words; do not reuse sentences from the snippets."
}

// BuildSummarizeSystemPrompt frames summarization with the persona's
// assembled context, so the model knows whose voice the messages are
// in and what they usually talk about.
func BuildSummarizeSystemPrompt(displayName string, assembled AssembledContext) string {
	var b strings.Builder
	b.WriteString("You summarize chat history accurately and concisely.\n\n")
	fmt.Fprintf(&b, "Context about @%s:\n%s", displayName, assembled.StyleBlock)

	if len(assembled.Examples) > 0 {
		b.WriteString("\n\n[Example exchanges]\n")
		for _, ex := range assembled.Examples {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n---\n", ex.Prompt, ex.Response)
		}
	}
	if len(assembled.Snippets) > 0 {
		b.WriteString("\n[Related past messages]\n")
		b.WriteString(strings.Join(assembled.Snippets, "\n---\n"))
	}
	return b.String()
}

// BuildSummarizePrompt asks for a content-focused summary of messages,
// most recent last. Captions of attached images ride along.
func BuildSummarizePrompt(displayName string, messages []string, captions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are summarizing the last %d messages from @%s.\n", len(messages), displayName)
	b.WriteString("Produce a concise, content-focused summary that captures what they actually said or asked.\n")
	b.WriteString("Prioritize: key points, questions/requests, decisions, action items, links/references, and any concrete info shared.\n")
	b.WriteString("Avoid describing tone, style, or personality traits. Do not invent details.\n\n")
	b.WriteString("Output format:\n")
	b.WriteString("- Key points: 3-6 bullets\n")
	b.WriteString("- Questions/requests: bullets (if any)\n")
	b.WriteString("- Action items: bullets (if any)\n\n")
	b.WriteString("Messages (most recent last):\n")
	b.WriteString(strings.Join(messages, "\n"))
	if len(captions) > 0 {
		b.WriteString("\n\n[Images]\n")
		for _, c := range captions {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

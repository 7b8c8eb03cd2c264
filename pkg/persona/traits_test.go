package persona

import (
	"math"
	"strings"
	"testing"
)

func TestScrubPII(t *testing.T) {
	cases := map[string]string{
		"my ssn is 123-45-6789 ok":  "my ssn is [REDACTED] ok",
		"call me at 5551234567 pls": "call me at [REDACTED] pls",
		"nothing sensitive here":    "nothing sensitive here",
	}
	for in, want := range cases {
		if got := ScrubPII(in); got != want {
			t.Errorf("ScrubPII(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanTexts_DropsEmpty(t *testing.T) {
	out := CleanTexts([]string{"  hello  ", "", "   ", "world"})
	if len(out) != 2 || out[0] != "hello" || out[1] != "world" {
		t.Fatalf("unexpected cleaned texts: %v", out)
	}
}

func TestExtractTraits_Empty(t *testing.T) {
	tr := ExtractTraits(nil)
	if tr.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0", tr.MessageCount)
	}
	if tr.AvgMessageLen != 0 {
		t.Errorf("AvgMessageLen = %v, want 0", tr.AvgMessageLen)
	}
	if tr.TopSlang == nil || tr.TopTopics == nil {
		t.Error("ranked slices should be empty, not nil")
	}
}

func TestExtractTraits_Signals(t *testing.T) {
	texts := []string{
		"lol that anime episode was wild",
		"idk, what do you think?",
		"check this out https://example.com/post",
		"BIG NEWS today!!",
	}
	tr := ExtractTraits(texts)

	if tr.MessageCount != 4 {
		t.Fatalf("MessageCount = %d, want 4", tr.MessageCount)
	}
	if tr.SlangFrequency != 0.5 {
		t.Errorf("SlangFrequency = %v, want 0.5 (lol, idk)", tr.SlangFrequency)
	}
	if tr.QuestionRatio != 0.25 {
		t.Errorf("QuestionRatio = %v, want 0.25", tr.QuestionRatio)
	}
	if tr.ExclamationRatio != 0.25 {
		t.Errorf("ExclamationRatio = %v, want 0.25", tr.ExclamationRatio)
	}
	if tr.LinkFrequency != 0.25 {
		t.Errorf("LinkFrequency = %v, want 0.25", tr.LinkFrequency)
	}

	foundMedia := false
	for _, topic := range tr.TopTopics {
		if topic == "media" {
			foundMedia = true
		}
	}
	if !foundMedia {
		t.Errorf("TopTopics = %v, want to include media", tr.TopTopics)
	}
}

func TestHasElongatedWord(t *testing.T) {
	cases := map[string]bool{
		"soooo good":        true,
		"yesss":             true,
		"AHHH":              true,
		"so good":           false,
		"coffee":            false,
		"aa bb cc":          false,
		"1111 digits":       false,
		"":                  false,
		"mixed aAa case":    false,
		"ends on a runnnnn": true,
	}
	for in, want := range cases {
		if got := hasElongatedWord(in); got != want {
			t.Errorf("hasElongatedWord(%q) = %t, want %t", in, got, want)
		}
	}
}

func TestExtractTraits_Quirks(t *testing.T) {
	texts := []string{
		"hey whats up",
		"yo did you see that",
		"that was soooo good",
		"normal message here",
	}
	tr := ExtractTraits(texts)

	if tr.GreetingRatio != 0.5 {
		t.Errorf("GreetingRatio = %v, want 0.5 (hey, yo)", tr.GreetingRatio)
	}
	if tr.ElongationRatio != 0.25 {
		t.Errorf("ElongationRatio = %v, want 0.25 (soooo)", tr.ElongationRatio)
	}

	style := StyleFromTraits("alice", tr, 1000)
	if !strings.Contains(style, "Quirks:") {
		t.Errorf("style guide missing quirks line:\n%s", style)
	}
	if !strings.Contains(style, "greeting") {
		t.Errorf("style guide missing greeting quirk:\n%s", style)
	}
}

func TestMergeTraitSummaries_Weighted(t *testing.T) {
	old := TraitSummary{AvgMessageLen: 100, MessageCount: 30}
	fresh := TraitSummary{AvgMessageLen: 40, MessageCount: 10}

	merged := MergeTraitSummaries(old, fresh)
	want := (100.0*30 + 40.0*10) / 40
	if math.Abs(merged.AvgMessageLen-want) > 1e-9 {
		t.Errorf("AvgMessageLen = %v, want %v", merged.AvgMessageLen, want)
	}
	if merged.MessageCount != 40 {
		t.Errorf("MessageCount = %d, want 40", merged.MessageCount)
	}
}

func TestMergeTraitSummaries_ZeroSides(t *testing.T) {
	fresh := TraitSummary{AvgMessageLen: 50, MessageCount: 5}

	if got := MergeTraitSummaries(TraitSummary{}, fresh); got.AvgMessageLen != 50 {
		t.Errorf("merge with empty old should return fresh, got %+v", got)
	}
	if got := MergeTraitSummaries(fresh, TraitSummary{}); got.AvgMessageLen != 50 {
		t.Errorf("merge with empty fresh should return old, got %+v", got)
	}
}

func TestMergeRanked_DedupesAndCaps(t *testing.T) {
	got := mergeRanked([]string{"a", "b", "c"}, []string{"b", "d", "e"}, 4)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4: %v", len(got), got)
	}
	seen := map[string]bool{}
	for _, s := range got {
		if seen[s] {
			t.Fatalf("duplicate %q in %v", s, got)
		}
		seen[s] = true
	}
	if got[0] != "a" {
		t.Errorf("first element = %q, want a", got[0])
	}
}

func TestStyleFromTraits_Capped(t *testing.T) {
	tr := ExtractTraits([]string{strings.Repeat("gym travel coffee anime python ", 20)})
	style := StyleFromTraits("alice", tr, 120)
	if len(style) > 120 {
		t.Errorf("style length = %d, want <= 120", len(style))
	}
	if !strings.HasPrefix(style, "Style guide for @alice:") {
		t.Errorf("unexpected style header: %q", style)
	}
}

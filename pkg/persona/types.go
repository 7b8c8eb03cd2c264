// Package persona implements the persona lifecycle for the bot:
// building style profiles from a user's message history, indexing the
// corpus for retrieval, and assembling generation context on demand.
package persona

import "time"

// SubjectKey identifies a persona subject within a guild scope.
type SubjectKey struct {
	Scope   string // guild or workspace identifier
	Subject string // user identifier the persona mimics
}

func (k SubjectKey) String() string {
	return k.Scope + ":" + k.Subject
}

// RawItem is one unit of corpus input. Text items carry Content;
// image items carry ImageURL and get captioned before indexing.
type RawItem struct {
	ID        string
	Author    string
	Content   string
	ImageURL  string
	Timestamp time.Time
}

// TraitSummary captures the measurable style signals of a corpus.
type TraitSummary struct {
	AvgMessageLen    float64  `json:"avg_message_len"`
	EmojiFrequency   float64  `json:"emoji_frequency"`
	SlangFrequency   float64  `json:"slang_frequency"`
	QuestionRatio    float64  `json:"question_ratio"`
	ExclamationRatio float64  `json:"exclamation_ratio"`
	CapsRatio        float64  `json:"caps_ratio"`
	LinkFrequency    float64  `json:"link_frequency"`
	ElongationRatio  float64  `json:"elongation_ratio"`
	GreetingRatio    float64  `json:"greeting_ratio"`
	TopTopics        []string `json:"top_topics"`
	TopEmoji         []string `json:"top_emoji"`
	TopSlang         []string `json:"top_slang"`
	MessageCount     int      `json:"message_count"`
}

// ExampleTuple is a short prompt/response pair kept as a few-shot
// style exemplar. Source is the id of the message the response came
// from, so an exemplar can be traced back to its corpus item.
type ExampleTuple struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Source   string `json:"source"`
}

// Document is the versioned persona record. Writing a new version
// archives the previous one; history is append-only.
type Document struct {
	Key         SubjectKey     `json:"-"`
	DisplayName string         `json:"display_name"`
	Version     int            `json:"version"`
	Traits      TraitSummary   `json:"traits"`
	Examples    []ExampleTuple `json:"examples"`
	StylePrompt string         `json:"style_prompt"`
	SourceItems int            `json:"source_items"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Chunk is one indexed corpus snippet with its embedding.
type Chunk struct {
	ID        string
	Key       SubjectKey
	Text      string
	Vector    []float32
	CreatedAt time.Time
}

// ScoredChunk is a retrieval result.
type ScoredChunk struct {
	Chunk
	Score float64
}

// AssembledContext is the retrieval output handed to the generator,
// sections in fixed order with their own character caps.
type AssembledContext struct {
	StyleBlock string
	Examples   []ExampleTuple
	Snippets   []string
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	ItemsSeen    int
	ItemsIndexed int
	ItemsSkipped int
	Version      int
}

// FreshnessVerdict is the freshness policy decision for a persona.
type FreshnessVerdict int

const (
	ServeCached FreshnessVerdict = iota
	MustRefresh
)

func (v FreshnessVerdict) String() string {
	if v == MustRefresh {
		return "must_refresh"
	}
	return "serve_cached"
}

// Freshness carries the verdict plus a staleness advisory.
type Freshness struct {
	Verdict FreshnessVerdict
	Age     time.Duration
	Stale   bool
}

package persona

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Stevenl1221/discord-ai-agent/pkg/backends"
	"github.com/Stevenl1221/discord-ai-agent/pkg/logger"
)

// Pipeline turns raw corpus items into an indexed persona document.
// Text and image items converge on the same path: images get captioned
// first, then everything is scrubbed, embedded and indexed.
type Pipeline struct {
	embedder        backends.Embedder
	vision          backends.Vision
	captions        CaptionCache
	captionTTL      time.Duration
	exampleCapacity int
	styleMaxChars   int
}

type PipelineConfig struct {
	CaptionTTL      time.Duration
	ExampleCapacity int
	StyleMaxChars   int
}

func NewPipeline(embedder backends.Embedder, vision backends.Vision, captions CaptionCache, cfg PipelineConfig) *Pipeline {
	if cfg.ExampleCapacity <= 0 {
		cfg.ExampleCapacity = 6
	}
	if cfg.StyleMaxChars <= 0 {
		cfg.StyleMaxChars = 1000
	}
	if cfg.CaptionTTL <= 0 {
		cfg.CaptionTTL = 24 * time.Hour
	}
	return &Pipeline{
		embedder:        embedder,
		vision:          vision,
		captions:        captions,
		captionTTL:      cfg.CaptionTTL,
		exampleCapacity: cfg.ExampleCapacity,
		styleMaxChars:   cfg.StyleMaxChars,
	}
}

type corpusItem struct {
	text      string
	createdAt time.Time
}

// resolveItem produces the indexable text for a raw item, captioning
// image items through the cache. Empty text after scrubbing means the
// item is skipped.
func (p *Pipeline) resolveItem(ctx context.Context, item RawItem) (string, error) {
	if item.ImageURL != "" {
		caption, err := p.captionFor(ctx, item.ImageURL)
		if err != nil {
			return "", err
		}
		return "[image] " + caption, nil
	}
	return ScrubPII(strings.TrimSpace(item.Content)), nil
}

func (p *Pipeline) captionFor(ctx context.Context, url string) (string, error) {
	if p.captions != nil {
		if cached, ok, err := p.captions.GetCaption(ctx, url); err == nil && ok {
			return cached, nil
		}
	}
	if p.vision == nil {
		return "", fmt.Errorf("caption %s: no vision backend", url)
	}
	caption, err := p.vision.Caption(ctx, url)
	if err != nil {
		return "", fmt.Errorf("caption %s: %w", url, err)
	}
	caption = ScrubPII(caption)
	if p.captions != nil {
		if err := p.captions.PutCaption(ctx, url, caption, p.captionTTL); err != nil {
			logger.WarnCF("ingest", "caption cache write failed", map[string]any{"error": err.Error()})
		}
	}
	return caption, nil
}

// Run builds a persona document draft and its index chunks from items.
// Items authored by others are only used as example prompts. When
// existing is non-nil the run is incremental: traits merge with the
// stored summary and new examples replace the oldest ones up to
// capacity. Per-item failures are skipped and counted; a run where no
// subject item survives returns ErrIngestionExhausted.
func (p *Pipeline) Run(ctx context.Context, key SubjectKey, displayName string, items []RawItem, existing *Document) (*Document, []Chunk, IngestReport, error) {
	report := IngestReport{ItemsSeen: len(items)}

	corpus := make([]corpusItem, 0, len(items))
	examples := []ExampleTuple{}
	var pendingPrompt string

	for _, item := range items {
		if item.Author != key.Subject {
			pendingPrompt = ScrubPII(strings.TrimSpace(item.Content))
			continue
		}

		text, err := p.resolveItem(ctx, item)
		if err != nil {
			report.ItemsSkipped++
			logger.DebugCF("ingest", "item skipped", map[string]any{
				"item":  item.ID,
				"error": err.Error(),
			})
			continue
		}
		if text == "" {
			report.ItemsSkipped++
			continue
		}

		createdAt := item.Timestamp
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		corpus = append(corpus, corpusItem{text: text, createdAt: createdAt})

		if pendingPrompt != "" {
			examples = append(examples, ExampleTuple{Prompt: pendingPrompt, Response: text, Source: item.ID})
			pendingPrompt = ""
		}
	}

	if len(corpus) == 0 {
		return nil, nil, report, fmt.Errorf("%w: %d items seen, %d skipped", ErrIngestionExhausted, report.ItemsSeen, report.ItemsSkipped)
	}

	chunks := make([]Chunk, 0, len(corpus))
	texts := make([]string, 0, len(corpus))
	for _, c := range corpus {
		vec, err := p.embedder.Embed(ctx, c.text)
		if err != nil {
			report.ItemsSkipped++
			logger.DebugCF("ingest", "embed skipped", map[string]any{"error": err.Error()})
			continue
		}
		chunks = append(chunks, Chunk{
			ID:        uuid.NewString(),
			Key:       key,
			Text:      c.text,
			Vector:    vec,
			CreatedAt: c.createdAt,
		})
		texts = append(texts, c.text)
	}

	if len(chunks) == 0 {
		return nil, nil, report, fmt.Errorf("%w: all embeddings failed", ErrIngestionExhausted)
	}
	report.ItemsIndexed = len(chunks)

	traits := ExtractTraits(texts)
	mergedExamples := examples
	if existing != nil {
		traits = MergeTraitSummaries(existing.Traits, traits)
		mergedExamples = append(append([]ExampleTuple{}, existing.Examples...), examples...)
	}
	// Keep the newest tuples once capacity is exceeded.
	if len(mergedExamples) > p.exampleCapacity {
		mergedExamples = mergedExamples[len(mergedExamples)-p.exampleCapacity:]
	}

	if displayName == "" && existing != nil {
		displayName = existing.DisplayName
	}

	doc := &Document{
		Key:         key,
		DisplayName: displayName,
		Traits:      traits,
		Examples:    mergedExamples,
		StylePrompt: StyleFromTraits(displayName, traits, p.styleMaxChars),
		SourceItems: traits.MessageCount,
	}

	return doc, chunks, report, nil
}

package persona

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/Stevenl1221/discord-ai-agent/pkg/backends"
	"github.com/Stevenl1221/discord-ai-agent/pkg/logger"
)

// Retriever embeds the incoming prompt, pulls the top-K corpus
// snippets for the active persona and assembles the generation
// context. Assembled results are memoized briefly so repeated prompts
// in quick succession skip the embedding round trip.
type Retriever struct {
	index    Index
	embedder backends.Embedder
	cache    *ristretto.Cache
	cacheTTL time.Duration

	k          int
	snippetMax int
	styleMax   int
	contextMax int
}

type RetrieverConfig struct {
	K               int
	SnippetMaxChars int
	StyleMaxChars   int
	ContextMaxChars int
	CacheTTL        time.Duration
}

func NewRetriever(index Index, embedder backends.Embedder, cfg RetrieverConfig) (*Retriever, error) {
	if cfg.K <= 0 {
		return nil, fmt.Errorf("%w: retrieval k must be positive, got %d", ErrConfiguration, cfg.K)
	}
	if cfg.SnippetMaxChars <= 0 {
		cfg.SnippetMaxChars = 240
	}
	if cfg.StyleMaxChars <= 0 {
		cfg.StyleMaxChars = 1000
	}
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = 4000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 20 * time.Second
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     10 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create retrieval cache: %w", err)
	}

	return &Retriever{
		index:      index,
		embedder:   embedder,
		cache:      cache,
		cacheTTL:   cfg.CacheTTL,
		k:          cfg.K,
		snippetMax: cfg.SnippetMaxChars,
		styleMax:   cfg.StyleMaxChars,
		contextMax: cfg.ContextMaxChars,
	}, nil
}

func (r *Retriever) cacheKey(key SubjectKey, prompt string) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d", key.String(), prompt, r.k)))
	return hex.EncodeToString(h[:])
}

// Assemble builds the generation context for prompt against doc's
// corpus. An embedding failure here is fatal; retrieval never degrades
// to unscoped or style-only context.
func (r *Retriever) Assemble(ctx context.Context, doc *Document, prompt string) (AssembledContext, error) {
	ck := r.cacheKey(doc.Key, prompt)
	if cached, ok := r.cache.Get(ck); ok {
		if out, ok := cached.(AssembledContext); ok {
			logger.DebugCF("retriever", "cache hit", map[string]any{"subject": doc.Key.Subject})
			return out, nil
		}
	}

	snippets, err := r.retrieve(ctx, doc.Key, prompt, r.k, 0)
	if err != nil {
		return AssembledContext{}, err
	}

	out := r.assemble(doc, snippets)
	r.cache.SetWithTTL(ck, out, int64(len(prompt)+1), r.cacheTTL)
	return out, nil
}

// AssembleDiversified re-retrieves with the top-ranked snippet dropped.
// Used for the guard retry; never cached.
func (r *Retriever) AssembleDiversified(ctx context.Context, doc *Document, prompt string) (AssembledContext, error) {
	snippets, err := r.retrieve(ctx, doc.Key, prompt, r.k, 1)
	if err != nil {
		return AssembledContext{}, err
	}
	return r.assemble(doc, snippets), nil
}

func (r *Retriever) retrieve(ctx context.Context, key SubjectKey, prompt string, k, skip int) ([]string, error) {
	vec, err := r.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("embed prompt: %w", err)
	}

	scored, err := r.index.TopK(ctx, key, vec, k+skip)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if skip > 0 && len(scored) > skip {
		scored = scored[skip:]
	}

	snippets := make([]string, 0, len(scored))
	for _, sc := range scored {
		snippets = append(snippets, truncate(sc.Text, r.snippetMax))
	}
	return snippets, nil
}

// assemble applies the fixed section order with per-section caps and
// the overall context budget. Sections that overflow the budget are
// trimmed from the back, snippets first within their section.
func (r *Retriever) assemble(doc *Document, snippets []string) AssembledContext {
	out := AssembledContext{
		StyleBlock: truncate(doc.StylePrompt, r.styleMax),
	}
	budget := r.contextMax - len(out.StyleBlock)

	for _, ex := range doc.Examples {
		cost := len(ex.Prompt) + len(ex.Response) + 16
		if cost > budget {
			break
		}
		out.Examples = append(out.Examples, ex)
		budget -= cost
	}

	for _, snip := range snippets {
		cost := len(snip) + 8
		if cost > budget {
			break
		}
		out.Snippets = append(out.Snippets, snip)
		budget -= cost
	}

	return out
}

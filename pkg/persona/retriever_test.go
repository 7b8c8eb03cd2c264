package persona

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestRetriever(t *testing.T, cfg RetrieverConfig) (*Retriever, *SQLiteStore, *stubEmbedder) {
	t.Helper()
	store := newTestIndex(t, 8)
	embedder := newStubEmbedder(8)
	r, err := NewRetriever(store, embedder, cfg)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	return r, store, embedder
}

func seedCorpus(t *testing.T, store *SQLiteStore, embedder *stubEmbedder, texts []string) {
	t.Helper()
	ctx := context.Background()
	chunks := make([]Chunk, 0, len(texts))
	for i, text := range texts {
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		chunks = append(chunks, Chunk{
			ID:        string(rune('a' + i)),
			Key:       testKey(),
			Text:      text,
			Vector:    vec,
			CreatedAt: time.Now(),
		})
	}
	if err := store.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
}

func testDoc() *Document {
	return &Document{
		Key:         testKey(),
		DisplayName: "alice",
		StylePrompt: "Style guide for @alice:\n- Tone: casual",
		Examples: []ExampleTuple{
			{Prompt: "how are you", Response: "doing great honestly"},
		},
	}
}

func TestRetriever_InvalidK(t *testing.T) {
	store := newTestIndex(t, 8)
	if _, err := NewRetriever(store, newStubEmbedder(8), RetrieverConfig{K: 0}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestRetriever_AssembleOrderAndCaps(t *testing.T) {
	r, store, embedder := newTestRetriever(t, RetrieverConfig{
		K:               2,
		SnippetMaxChars: 20,
		StyleMaxChars:   1000,
		ContextMaxChars: 4000,
	})
	seedCorpus(t, store, embedder, []string{
		"the gym session today was absolutely brutal but worth every minute",
		"coffee first, everything else later",
	})

	out, err := r.Assemble(context.Background(), testDoc(), "gym session today")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if !strings.HasPrefix(out.StyleBlock, "Style guide for @alice") {
		t.Errorf("style block wrong: %q", out.StyleBlock)
	}
	if len(out.Examples) != 1 {
		t.Errorf("examples = %d, want 1", len(out.Examples))
	}
	if len(out.Snippets) == 0 {
		t.Fatal("no snippets retrieved")
	}
	for _, s := range out.Snippets {
		if len(s) > 20 {
			t.Errorf("snippet exceeds cap: %d chars", len(s))
		}
	}
}

func TestRetriever_EmbedFailureIsFatal(t *testing.T) {
	r, store, embedder := newTestRetriever(t, RetrieverConfig{K: 2})
	seedCorpus(t, store, embedder, []string{"some corpus text here"})

	embedder.fail = true
	if _, err := r.Assemble(context.Background(), testDoc(), "anything"); err == nil {
		t.Fatal("expected embedding failure to be fatal, got nil")
	}
}

func TestRetriever_EmptyCorpusYieldsNoSnippets(t *testing.T) {
	r, _, _ := newTestRetriever(t, RetrieverConfig{K: 3})
	out, err := r.Assemble(context.Background(), testDoc(), "anything at all")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(out.Snippets) != 0 {
		t.Errorf("snippets = %v, want none", out.Snippets)
	}
	if out.StyleBlock == "" {
		t.Error("style block should still be present")
	}
}

func TestRetriever_CacheSkipsEmbedding(t *testing.T) {
	r, store, embedder := newTestRetriever(t, RetrieverConfig{K: 2, CacheTTL: time.Minute})
	seedCorpus(t, store, embedder, []string{"the gym session today was brutal"})
	before := embedder.calls

	if _, err := r.Assemble(context.Background(), testDoc(), "gym today"); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	r.cache.Wait()

	if _, err := r.Assemble(context.Background(), testDoc(), "gym today"); err != nil {
		t.Fatalf("second Assemble: %v", err)
	}
	if embedder.calls != before+1 {
		t.Errorf("embed calls = %d, want %d (second call cached)", embedder.calls, before+1)
	}
}

func TestRetriever_DiversifiedDropsTopSnippet(t *testing.T) {
	r, store, embedder := newTestRetriever(t, RetrieverConfig{K: 2, SnippetMaxChars: 240})
	seedCorpus(t, store, embedder, []string{
		"gym gym gym gym gym",
		"coffee first, everything else later",
		"lol idk what to watch tonight",
	})

	prompt := "gym gym gym"
	normal, err := r.Assemble(context.Background(), testDoc(), prompt)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	diversified, err := r.AssembleDiversified(context.Background(), testDoc(), prompt)
	if err != nil {
		t.Fatalf("AssembleDiversified: %v", err)
	}

	if len(normal.Snippets) == 0 || normal.Snippets[0] != "gym gym gym gym gym" {
		t.Fatalf("expected gym snippet ranked first, got %v", normal.Snippets)
	}
	for _, s := range diversified.Snippets {
		if s == "gym gym gym gym gym" {
			t.Errorf("diversified retrieval still contains top snippet")
		}
	}
}

package persona

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T, gen *stubGenerator) (*Service, *SQLiteStore) {
	t.Helper()
	svc, store, _ := newTestServiceWith(t, gen, nil)
	return svc, store
}

func newTestServiceWith(t *testing.T, gen *stubGenerator, vision *stubVision) (*Service, *SQLiteStore, *stubEmbedder) {
	t.Helper()
	store := newTestIndex(t, 8)
	embedder := newStubEmbedder(8)

	pipeline := newTestPipeline(embedder, vision, store)
	retriever, err := NewRetriever(store, embedder, RetrieverConfig{
		K:               3,
		SnippetMaxChars: 240,
		StyleMaxChars:   1000,
		ContextMaxChars: 4000,
		CacheTTL:        time.Second,
	})
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	svc := NewService(store, store, store, pipeline, retriever, gen, ServiceConfig{
		TTL:            168 * time.Hour,
		GuardThreshold: 0.80,
		SummarizeLastN: 2,
	})
	t.Cleanup(svc.Stop)
	return svc, store, embedder
}

func TestService_CreateActivatesAndIndexes(t *testing.T) {
	svc, store := newTestService(t, &stubGenerator{})
	ctx := context.Background()

	doc, report, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if report.Version != 1 {
		t.Errorf("version = %d, want 1", report.Version)
	}
	if doc.Traits.MessageCount != 3 {
		t.Errorf("message count = %d, want 3", doc.Traits.MessageCount)
	}

	active, err := svc.Active(ctx, "guild-1")
	if err != nil || active != "alice" {
		t.Fatalf("Active = %q, %v, want alice", active, err)
	}
	n, _ := store.ChunkCount(ctx, testKey())
	if n != 3 {
		t.Errorf("indexed chunks = %d, want 3", n)
	}
}

func TestService_CreateReplacesCorpus(t *testing.T) {
	svc, store := newTestService(t, &stubGenerator{})
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, report, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")[:2])
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if report.Version != 2 {
		t.Errorf("version = %d, want 2 (recreate still increments)", report.Version)
	}

	n, _ := store.ChunkCount(ctx, testKey())
	if n != 1 {
		t.Errorf("chunks = %d, want 1 (old corpus replaced)", n)
	}
}

func TestService_UpdateAppends(t *testing.T) {
	svc, store := newTestService(t, &stubGenerator{})
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	more := []RawItem{{ID: "m9", Author: "alice", Content: "late night coding session went great", Timestamp: time.Now()}}
	doc, report, err := svc.Update(ctx, "guild-1", "alice", "", more)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if report.Version != 2 {
		t.Errorf("version = %d, want 2", report.Version)
	}
	if doc.Traits.MessageCount != 4 {
		t.Errorf("merged count = %d, want 4", doc.Traits.MessageCount)
	}
	n, _ := store.ChunkCount(ctx, testKey())
	if n != 4 {
		t.Errorf("chunks = %d, want 4 (append, not replace)", n)
	}
}

func TestService_UpdateUnknownSubject(t *testing.T) {
	svc, _ := newTestService(t, &stubGenerator{})
	_, _, err := svc.Update(context.Background(), "guild-1", "ghost", "", testItems("ghost"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestService_SpeakAddsDisclosurePrefix(t *testing.T) {
	gen := &stubGenerator{outputs: []string{"sure, sounds like a plan, see you there"}}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := svc.Speak(ctx, "guild-1", "want to hit the gym tomorrow?")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if !strings.HasPrefix(out, "Persona Bot (@alice) [AI] ") {
		t.Errorf("missing disclosure prefix: %q", out)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
	if !strings.Contains(gen.lastSys, "Style guide for @alice") {
		t.Errorf("system prompt missing style block")
	}
}

func TestService_SpeakWithoutActivePersona(t *testing.T) {
	gen := &stubGenerator{}
	svc, _ := newTestService(t, gen)

	_, err := svc.Speak(context.Background(), "guild-1", "hello?")
	if !errors.Is(err, ErrNoActivePersona) {
		t.Fatalf("err = %v, want ErrNoActivePersona", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator invoked %d times without active persona", gen.calls)
	}
}

func TestService_SpeakGuardRetrySucceeds(t *testing.T) {
	verbatim := "honestly the gym session today was brutal but worth it"
	gen := &stubGenerator{outputs: []string{verbatim, "nah it went fine, nothing special happened"}}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := svc.Speak(ctx, "guild-1", "how was the gym session today")
	if err != nil {
		t.Fatalf("Speak after retry: %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want 2 (one retry)", gen.calls)
	}
	if strings.Contains(out, verbatim) {
		t.Errorf("verbatim copy leaked: %q", out)
	}
	if !strings.Contains(gen.lastSys, "Rephrase entirely in your own words") {
		t.Errorf("retry prompt missing diversification instruction")
	}
}

func TestService_SpeakGuardRejectsAfterRetry(t *testing.T) {
	verbatim := "honestly the gym session today was brutal but worth it"
	gen := &stubGenerator{outputs: []string{verbatim}}
	svc, _ := newTestService(t, gen)
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := svc.Speak(ctx, "guild-1", "how was the gym session today")
	if !errors.Is(err, ErrContentSafetyRejected) {
		t.Fatalf("err = %v, want ErrContentSafetyRejected", err)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want exactly 2", gen.calls)
	}
}

func TestService_SwitchAndErase(t *testing.T) {
	svc, store := newTestService(t, &stubGenerator{})
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create alice: %v", err)
	}
	if _, _, err := svc.Create(ctx, "guild-1", "bob", "bob", testItems("bob")); err != nil {
		t.Fatalf("Create bob: %v", err)
	}

	if _, err := svc.Switch(ctx, "guild-1", "alice"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if active, _ := svc.Active(ctx, "guild-1"); active != "alice" {
		t.Fatalf("active = %q, want alice", active)
	}

	if _, err := svc.Switch(ctx, "guild-1", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Switch to missing persona: err = %v, want ErrNotFound", err)
	}

	if err := svc.Erase(ctx, "guild-1", "alice"); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if _, _, err := svc.Load(ctx, "guild-1", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("document survived erase: %v", err)
	}
	n, _ := store.ChunkCount(ctx, testKey())
	if n != 0 {
		t.Errorf("chunks = %d after erase, want 0", n)
	}
	if _, err := svc.Active(ctx, "guild-1"); !errors.Is(err, ErrNoActivePersona) {
		t.Errorf("binding survived erase of bound persona: %v", err)
	}

	// bob is untouched
	if _, _, err := svc.Load(ctx, "guild-1", "bob"); err != nil {
		t.Errorf("Load bob after alice erase: %v", err)
	}
}

func TestService_EraseUnknownSubject(t *testing.T) {
	svc, _ := newTestService(t, &stubGenerator{})
	if err := svc.Erase(context.Background(), "guild-1", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestService_SummarizeUsesTail(t *testing.T) {
	gen := &stubGenerator{outputs: []string{"- Key points: stuff"}}
	svc, _, embedder := newTestServiceWith(t, gen, nil)
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	embedsBefore := embedder.callCount()

	items := []RawItem{
		{ID: "s1", Author: "alice", Content: "oldest message", Timestamp: time.Now().Add(-3 * time.Minute)},
		{ID: "s2", Author: "alice", Content: "middle message", Timestamp: time.Now().Add(-2 * time.Minute)},
		{ID: "s3", Author: "alice", Content: "newest message", Timestamp: time.Now().Add(-time.Minute)},
	}
	if _, err := svc.Summarize(ctx, "guild-1", "", items); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	// SummarizeLastN is 2 in the test service.
	if strings.Contains(gen.lastUsr, "oldest message") {
		t.Errorf("summary prompt included messages beyond the tail")
	}
	if !strings.Contains(gen.lastUsr, "newest message") {
		t.Errorf("summary prompt missing newest message")
	}
	if !strings.Contains(gen.lastUsr, "last 2 messages from @alice") {
		t.Errorf("summary prompt header wrong: %q", gen.lastUsr)
	}
	if !strings.Contains(gen.lastSys, "Style guide for @alice") {
		t.Errorf("summary system prompt missing persona context: %q", gen.lastSys)
	}
	if embedder.callCount() <= embedsBefore {
		t.Errorf("summarize did not embed the message window for retrieval")
	}
}

func TestService_SummarizeExplicitSubject(t *testing.T) {
	gen := &stubGenerator{outputs: []string{"summary"}}
	svc, _, _ := newTestServiceWith(t, gen, nil)
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := svc.Create(ctx, "guild-1", "bob", "bob", testItems("bob")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// bob is now the active persona, but the summary targets alice.
	items := []RawItem{{ID: "s1", Author: "alice", Content: "planning the trip for saturday"}}
	if _, err := svc.Summarize(ctx, "guild-1", "alice", items); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(gen.lastUsr, "from @alice") {
		t.Errorf("summary prompt targeted wrong subject: %q", gen.lastUsr)
	}

	if _, err := svc.Summarize(ctx, "guild-1", "nobody", items); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown subject: got %v, want ErrNotFound", err)
	}
}

func TestService_SummarizeCaptionsImages(t *testing.T) {
	gen := &stubGenerator{outputs: []string{"summary"}}
	vision := &stubVision{caption: "a whiteboard full of diagrams"}
	svc, _, _ := newTestServiceWith(t, gen, vision)
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	items := []RawItem{
		{ID: "s1", Author: "alice", Content: "check out the planning session"},
		{ID: "s2", Author: "alice", ImageURL: "https://cdn.example/board.png"},
	}
	if _, err := svc.Summarize(ctx, "guild-1", "", items); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.Contains(gen.lastUsr, "[Images]") {
		t.Errorf("summary prompt missing image section: %q", gen.lastUsr)
	}
	if !strings.Contains(gen.lastUsr, "a whiteboard full of diagrams") {
		t.Errorf("summary prompt missing caption: %q", gen.lastUsr)
	}
}

func TestService_SummarizeEmptyWindow(t *testing.T) {
	gen := &stubGenerator{}
	svc, _, _ := newTestServiceWith(t, gen, nil)
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := svc.Summarize(ctx, "guild-1", "", nil)
	if !errors.Is(err, ErrNoMessages) {
		t.Errorf("empty window: got %v, want ErrNoMessages", err)
	}
	if errors.Is(err, ErrConfiguration) {
		t.Errorf("empty window misreported as a configuration error")
	}
}

func TestService_ListScoped(t *testing.T) {
	svc, _ := newTestService(t, &stubGenerator{})
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := svc.Create(ctx, "guild-2", "carol", "carol", testItems("carol")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	docs, err := svc.List(ctx, "guild-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 || docs[0].Key.Subject != "alice" {
		t.Fatalf("List leaked across scopes: %+v", docs)
	}
}

func TestService_LoadReportsStaleness(t *testing.T) {
	svc, store := newTestService(t, &stubGenerator{})
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "guild-1", "alice", "alice", testItems("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, fresh, err := svc.Load(ctx, "guild-1", "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fresh.Stale {
		t.Error("freshly created persona reported stale")
	}
	if fresh.Verdict != ServeCached {
		t.Errorf("Verdict = %v, want ServeCached", fresh.Verdict)
	}
	_ = store
}

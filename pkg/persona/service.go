package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/Stevenl1221/discord-ai-agent/pkg/backends"
	"github.com/Stevenl1221/discord-ai-agent/pkg/logger"
)

// DisclosurePrefix marks every persona utterance as synthetic. The
// prefix survives all formatting and is applied after the guard passes.
const DisclosurePrefix = "Persona Bot (@%s) [AI] "

// ServiceConfig carries the persona tunables. Zero values get
// defaulted in NewService.
type ServiceConfig struct {
	TTL               time.Duration
	GuardThreshold    float64
	MaintenanceCron   string
	SummarizeLastN    int
	SummarizeMsgChars int
	SummarizeMaxChars int
}

// Service orchestrates the persona lifecycle. All mutating operations
// for one subject serialize on a per-subject lock.
type Service struct {
	store     Store
	index     Index
	captions  CaptionCache
	pipeline  *Pipeline
	retriever *Retriever
	generator backends.Generator
	guard     *Guard
	cfg       ServiceConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	stopMaint chan struct{}
	maintOnce sync.Once
}

func NewService(store Store, index Index, captions CaptionCache, pipeline *Pipeline, retriever *Retriever, generator backends.Generator, cfg ServiceConfig) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 168 * time.Hour
	}
	if cfg.MaintenanceCron == "" {
		cfg.MaintenanceCron = "*/10 * * * *"
	}
	if cfg.SummarizeLastN <= 0 {
		cfg.SummarizeLastN = 50
	}
	if cfg.SummarizeMsgChars <= 0 {
		cfg.SummarizeMsgChars = 160
	}
	if cfg.SummarizeMaxChars <= 0 {
		cfg.SummarizeMaxChars = 3000
	}
	return &Service{
		store:     store,
		index:     index,
		captions:  captions,
		pipeline:  pipeline,
		retriever: retriever,
		generator: generator,
		guard:     NewGuard(cfg.GuardThreshold),
		cfg:       cfg,
		locks:     map[string]*sync.Mutex{},
		stopMaint: make(chan struct{}),
	}
}

func (s *Service) lockFor(key SubjectKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key.String()]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key.String()] = l
	}
	return l
}

// Create builds a persona from scratch. Any previously indexed corpus
// for the subject is replaced, the document version still increments,
// and the new persona becomes active for the scope.
func (s *Service) Create(ctx context.Context, scope, subject, displayName string, items []RawItem) (*Document, IngestReport, error) {
	key := SubjectKey{Scope: scope, Subject: subject}
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	doc, chunks, report, err := s.pipeline.Run(ctx, key, displayName, items, nil)
	if err != nil {
		return nil, report, err
	}

	// Document installs before its chunks. A reader may briefly see the
	// new document with a not-yet-reindexed corpus, never new chunks
	// under an old document.
	version, err := s.store.PutDocument(ctx, doc)
	if err != nil {
		return nil, report, fmt.Errorf("store persona: %w", err)
	}
	report.Version = version

	if err := s.index.EraseChunks(ctx, key); err != nil {
		return nil, report, fmt.Errorf("replace corpus: %w", err)
	}
	if err := s.index.InsertChunks(ctx, chunks); err != nil {
		return nil, report, fmt.Errorf("index corpus: %w", err)
	}

	if err := s.store.SetActive(ctx, scope, subject); err != nil {
		return nil, report, fmt.Errorf("activate persona: %w", err)
	}

	logger.InfoCF("persona", "persona created", map[string]any{
		"scope":   scope,
		"subject": subject,
		"version": version,
		"indexed": report.ItemsIndexed,
		"skipped": report.ItemsSkipped,
	})
	return doc, report, nil
}

// Update ingests new items incrementally into an existing persona.
// Traits merge weighted by message counts; new chunks append to the
// index; the document version increments.
func (s *Service) Update(ctx context.Context, scope, subject, displayName string, items []RawItem) (*Document, IngestReport, error) {
	key := SubjectKey{Scope: scope, Subject: subject}
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	existing, err := s.store.GetDocument(ctx, key)
	if err != nil {
		return nil, IngestReport{}, err
	}

	doc, chunks, report, err := s.pipeline.Run(ctx, key, displayName, items, existing)
	if err != nil {
		return nil, report, err
	}

	version, err := s.store.PutDocument(ctx, doc)
	if err != nil {
		return nil, report, fmt.Errorf("store persona: %w", err)
	}
	report.Version = version

	if err := s.index.InsertChunks(ctx, chunks); err != nil {
		return nil, report, fmt.Errorf("index corpus: %w", err)
	}

	logger.InfoCF("persona", "persona updated", map[string]any{
		"scope":   scope,
		"subject": subject,
		"version": version,
		"indexed": report.ItemsIndexed,
	})
	return doc, report, nil
}

// activeDocument resolves the scope's bound persona. A binding that
// points at an erased persona is cleared and reported as no active
// persona.
func (s *Service) activeDocument(ctx context.Context, scope string) (*Document, error) {
	subject, err := s.store.GetActive(ctx, scope)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, SubjectKey{Scope: scope, Subject: subject})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = s.store.ClearActive(ctx, scope)
			return nil, fmt.Errorf("bound persona %s gone: %w", subject, ErrNoActivePersona)
		}
		return nil, err
	}
	return doc, nil
}

// Speak generates an utterance in the active persona's voice. The
// generator is never invoked without an active persona. Output that
// fails the anti-regurgitation guard gets exactly one diversified
// retry before ErrContentSafetyRejected.
func (s *Service) Speak(ctx context.Context, scope, prompt string) (string, error) {
	doc, err := s.activeDocument(ctx, scope)
	if err != nil {
		return "", err
	}

	fresh := EvaluateFreshness(doc.UpdatedAt, s.cfg.TTL, false, time.Now())
	if fresh.Stale {
		logger.WarnCF("persona", "serving stale persona", map[string]any{
			"subject": doc.Key.Subject,
			"age":     fresh.Age.String(),
		})
	}

	assembled, err := s.retriever.Assemble(ctx, doc, prompt)
	if err != nil {
		return "", err
	}

	output, err := s.generator.Generate(ctx, BuildSpeakSystemPrompt(doc.DisplayName, assembled), prompt)
	if err != nil {
		return "", err
	}

	ok, sim := s.guard.Check(output, assembled.Snippets)
	if !ok {
		logger.WarnCF("persona", "guard rejected output, retrying diversified", map[string]any{
			"subject":    doc.Key.Subject,
			"similarity": sim,
		})
		retried, err := s.retriever.AssembleDiversified(ctx, doc, prompt)
		if err != nil {
			return "", err
		}
		output, err = s.generator.Generate(ctx, BuildRetrySystemPrompt(doc.DisplayName, retried), prompt)
		if err != nil {
			return "", err
		}
		// The retry is checked against both retrievals; dropping the top
		// snippet must not open a window to copy it.
		combined := append(append([]string{}, retried.Snippets...), assembled.Snippets...)
		if ok, sim = s.guard.Check(output, combined); !ok {
			return "", fmt.Errorf("%w: similarity %.2f after retry", ErrContentSafetyRejected, sim)
		}
	}

	return fmt.Sprintf(DisclosurePrefix, doc.DisplayName) + output, nil
}

// Summarize produces a content-focused summary over a subject's recent
// items. An empty subject resolves to the scope's active persona. Image
// items are captioned through the pipeline's cache; caption failures
// skip the item. The kept messages double as the retrieval query, so
// the summary carries the persona's assembled context.
func (s *Service) Summarize(ctx context.Context, scope, subject string, items []RawItem) (string, error) {
	var doc *Document
	var err error
	if subject == "" {
		doc, err = s.activeDocument(ctx, scope)
	} else {
		doc, err = s.store.GetDocument(ctx, SubjectKey{Scope: scope, Subject: subject})
	}
	if err != nil {
		return "", err
	}

	messages := []string{}
	captions := []string{}
	for _, item := range items {
		if item.ImageURL != "" {
			caption, err := s.pipeline.captionFor(ctx, item.ImageURL)
			if err != nil {
				logger.DebugCF("persona", "summarize caption skipped", map[string]any{"error": err.Error()})
				continue
			}
			captions = append(captions, caption)
			continue
		}
		if strings.TrimSpace(item.Content) != "" {
			messages = append(messages, item.Content)
		}
	}

	if len(messages) == 0 {
		return "", fmt.Errorf("%w: empty window for %s", ErrNoMessages, doc.Key.Subject)
	}
	if len(messages) > s.cfg.SummarizeLastN {
		messages = messages[len(messages)-s.cfg.SummarizeLastN:]
	}

	cleaned := CleanTexts(messages)
	total := 0
	capped := make([]string, 0, len(cleaned))
	// Walk newest-first so the total budget drops the oldest messages.
	for i := len(cleaned) - 1; i >= 0; i-- {
		msg := truncate(cleaned[i], s.cfg.SummarizeMsgChars)
		if total+len(msg) > s.cfg.SummarizeMaxChars {
			break
		}
		total += len(msg)
		capped = append(capped, msg)
	}
	for i, j := 0, len(capped)-1; i < j; i, j = i+1, j-1 {
		capped[i], capped[j] = capped[j], capped[i]
	}

	assembled, err := s.retriever.Assemble(ctx, doc, strings.Join(capped, "\n"))
	if err != nil {
		return "", err
	}

	prompt := BuildSummarizePrompt(doc.DisplayName, capped, captions)
	return s.generator.Generate(ctx, BuildSummarizeSystemPrompt(doc.DisplayName, assembled), prompt)
}

// Switch binds the scope to an existing persona.
func (s *Service) Switch(ctx context.Context, scope, subject string) (*Document, error) {
	key := SubjectKey{Scope: scope, Subject: subject}
	doc, err := s.store.GetDocument(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetActive(ctx, scope, subject); err != nil {
		return nil, err
	}
	logger.InfoCF("persona", "persona switched", map[string]any{"scope": scope, "subject": subject})
	return doc, nil
}

// Load returns the stored document plus a freshness advisory without
// touching any backend.
func (s *Service) Load(ctx context.Context, scope, subject string) (*Document, Freshness, error) {
	doc, err := s.store.GetDocument(ctx, SubjectKey{Scope: scope, Subject: subject})
	if err != nil {
		return nil, Freshness{}, err
	}
	return doc, EvaluateFreshness(doc.UpdatedAt, s.cfg.TTL, false, time.Now()), nil
}

func (s *Service) List(ctx context.Context, scope string) ([]*Document, error) {
	return s.store.ListDocuments(ctx, scope)
}

func (s *Service) History(ctx context.Context, scope, subject string) ([]*Document, error) {
	return s.store.History(ctx, SubjectKey{Scope: scope, Subject: subject})
}

// Active returns the subject currently bound to the scope.
func (s *Service) Active(ctx context.Context, scope string) (string, error) {
	return s.store.GetActive(ctx, scope)
}

// Erase removes the persona record, its history and its indexed
// corpus, and clears the binding if it pointed at the subject. When
// the record is gone but derived state removal fails, the error wraps
// ErrPartialErase so callers can surface the inconsistency.
func (s *Service) Erase(ctx context.Context, scope, subject string) error {
	key := SubjectKey{Scope: scope, Subject: subject}
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	if _, err := s.store.GetDocument(ctx, key); err != nil {
		return err
	}

	if err := s.store.EraseDocuments(ctx, key); err != nil {
		return err
	}
	if err := s.index.EraseChunks(ctx, key); err != nil {
		return fmt.Errorf("%w: record removed, chunks remain: %v", ErrPartialErase, err)
	}

	if bound, err := s.store.GetActive(ctx, scope); err == nil && bound == subject {
		if err := s.store.ClearActive(ctx, scope); err != nil {
			return fmt.Errorf("%w: record removed, binding remains: %v", ErrPartialErase, err)
		}
	}

	logger.InfoCF("persona", "persona erased", map[string]any{"scope": scope, "subject": subject})
	return nil
}

// ClearBinding drops the scope's active persona without touching data.
func (s *Service) ClearBinding(ctx context.Context, scope string) error {
	return s.store.ClearActive(ctx, scope)
}

// StartMaintenance runs the cron-gated sweeper until Stop. Currently
// it purges expired vision captions.
func (s *Service) StartMaintenance(ctx context.Context) {
	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopMaint:
				return
			case now := <-ticker.C:
				due, err := gron.IsDue(s.cfg.MaintenanceCron, now)
				if err != nil {
					logger.ErrorCF("persona", "bad maintenance cron", map[string]any{"expr": s.cfg.MaintenanceCron, "error": err.Error()})
					return
				}
				if !due {
					continue
				}
				if s.captions == nil {
					continue
				}
				n, err := s.captions.PurgeExpiredCaptions(ctx)
				if err != nil {
					logger.WarnCF("persona", "caption purge failed", map[string]any{"error": err.Error()})
					continue
				}
				if n > 0 {
					logger.DebugCF("persona", "purged expired captions", map[string]any{"count": n})
				}
			}
		}
	}()
}

// Stop halts background maintenance.
func (s *Service) Stop() {
	s.maintOnce.Do(func() { close(s.stopMaint) })
}

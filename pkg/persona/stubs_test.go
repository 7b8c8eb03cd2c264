package persona

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// stubEmbedder hashes tokens into a fixed-dimension bag-of-words
// vector, so similar texts get similar vectors deterministically.
type stubEmbedder struct {
	dim   int
	fail  bool
	calls int
	mu    sync.Mutex
}

func newStubEmbedder(dim int) *stubEmbedder { return &stubEmbedder{dim: dim} }

func (e *stubEmbedder) Dim() int { return e.dim }

func (e *stubEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail {
		return nil, errors.New("stub embed failure")
	}
	vec := make([]float32, e.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		var h uint32
		for i := 0; i < len(tok); i++ {
			h = h*31 + uint32(tok[i])
		}
		vec[int(h)%e.dim]++
	}
	return vec, nil
}

// stubGenerator replays a queue of outputs and records prompts.
type stubGenerator struct {
	outputs []string
	calls   int
	lastSys string
	lastUsr string
	err     error
	mu      sync.Mutex
}

func (g *stubGenerator) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastSys = systemPrompt
	g.lastUsr = userPrompt
	if g.err != nil {
		return "", g.err
	}
	if len(g.outputs) == 0 {
		return "stub output", nil
	}
	out := g.outputs[0]
	if len(g.outputs) > 1 {
		g.outputs = g.outputs[1:]
	}
	return out, nil
}

// stubVision captions every image with a fixed string.
type stubVision struct {
	caption string
	err     error
	calls   int
}

func (v *stubVision) Caption(_ context.Context, _ string) (string, error) {
	v.calls++
	if v.err != nil {
		return "", v.err
	}
	return v.caption, nil
}

package backends

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Stevenl1221/discord-ai-agent/pkg/config"
	"github.com/Stevenl1221/discord-ai-agent/pkg/logger"
)

// Client talks to any OpenAI-compatible endpoint. A local Ollama or
// vLLM server works the same as the hosted API.
type Client struct {
	api           *openai.Client
	textModel     string
	embedModel    string
	visionModel   string
	embedDim      int
	genTimeout    time.Duration
	embedTimeout  time.Duration
	visionTimeout time.Duration
	maxTokens     int
	temperature   float32
}

func NewClient(cfg config.BackendsConfig) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:           openai.NewClientWithConfig(clientCfg),
		textModel:     cfg.TextModel,
		embedModel:    cfg.EmbedModel,
		visionModel:   cfg.VisionModel,
		embedDim:      cfg.EmbedDim,
		genTimeout:    secondsOr(cfg.GenTimeoutSec, 60),
		embedTimeout:  secondsOr(cfg.EmbedTimeout, 30),
		visionTimeout: secondsOr(cfg.VisionTimeout, 45),
		maxTokens:     cfg.SpeakMaxTokens,
		temperature:   float32(cfg.Temperature),
	}
}

func secondsOr(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func (c *Client) Dim() int {
	return c.embedDim
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.embedTimeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, classify("embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: %w: empty response", ErrUnavailable)
	}

	vec := resp.Data[0].Embedding
	if c.embedDim > 0 && len(vec) != c.embedDim {
		return nil, fmt.Errorf("embed: model returned %d dims, configured %d", len(vec), c.embedDim)
	}
	return vec, nil
}

func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.genTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.textModel,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify("generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate: %w: no choices", ErrUnavailable)
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	logger.DebugCF("backends", "generation complete", map[string]any{
		"model": c.textModel,
		"chars": len(out),
	})
	return out, nil
}

func (c *Client) Caption(ctx context.Context, imageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.visionTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     c.visionModel,
		MaxTokens: 120,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Describe this image in one short sentence.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: imageURL,
						},
					},
				},
			},
		},
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify("caption", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("caption: %w: no choices", ErrUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

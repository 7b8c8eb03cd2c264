package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Workspace string         `json:"workspace" env:"PERSONABOT_WORKSPACE"`
	Channels  ChannelsConfig `json:"channels"`
	Backends  BackendsConfig `json:"backends"`
	Persona   PersonaConfig  `json:"persona"`
	mu        sync.RWMutex
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"PERSONABOT_CHANNELS_DISCORD_TOKEN"`
	GuildID   string              `json:"guild_id" env:"PERSONABOT_CHANNELS_DISCORD_GUILD_ID"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"PERSONABOT_CHANNELS_DISCORD_ALLOW_FROM"`
}

// BackendsConfig points at an OpenAI-compatible endpoint (a local
// Ollama-style server works) for text, embedding and vision models.
type BackendsConfig struct {
	BaseURL        string  `json:"base_url" env:"PERSONABOT_BACKENDS_BASE_URL"`
	APIKey         string  `json:"api_key" env:"PERSONABOT_BACKENDS_API_KEY"`
	TextModel      string  `json:"text_model" env:"PERSONABOT_BACKENDS_TEXT_MODEL"`
	EmbedModel     string  `json:"embed_model" env:"PERSONABOT_BACKENDS_EMBED_MODEL"`
	VisionModel    string  `json:"vision_model" env:"PERSONABOT_BACKENDS_VISION_MODEL"`
	EmbedDim       int     `json:"embed_dim" env:"PERSONABOT_BACKENDS_EMBED_DIM"`
	GenTimeoutSec  int     `json:"gen_timeout_seconds" env:"PERSONABOT_BACKENDS_GEN_TIMEOUT_SECONDS"`
	EmbedTimeout   int     `json:"embed_timeout_seconds" env:"PERSONABOT_BACKENDS_EMBED_TIMEOUT_SECONDS"`
	VisionTimeout  int     `json:"vision_timeout_seconds" env:"PERSONABOT_BACKENDS_VISION_TIMEOUT_SECONDS"`
	SpeakMaxTokens int     `json:"speak_max_tokens" env:"PERSONABOT_BACKENDS_SPEAK_MAX_TOKENS"`
	Temperature    float64 `json:"temperature" env:"PERSONABOT_BACKENDS_TEMPERATURE"`
}

type PersonaConfig struct {
	TTLHours              int     `json:"ttl_hours" env:"PERSONABOT_PERSONA_TTL_HOURS"`
	RagK                  int     `json:"rag_k" env:"PERSONABOT_PERSONA_RAG_K"`
	SnippetMaxChars       int     `json:"snippet_max_chars" env:"PERSONABOT_PERSONA_SNIPPET_MAX_CHARS"`
	StyleMaxChars         int     `json:"style_max_chars" env:"PERSONABOT_PERSONA_STYLE_MAX_CHARS"`
	ContextMaxChars       int     `json:"context_max_chars" env:"PERSONABOT_PERSONA_CONTEXT_MAX_CHARS"`
	ExampleCapacity       int     `json:"example_capacity" env:"PERSONABOT_PERSONA_EXAMPLE_CAPACITY"`
	GuardThreshold        float64 `json:"guard_threshold" env:"PERSONABOT_PERSONA_GUARD_THRESHOLD"`
	RetrievalCacheSeconds int     `json:"retrieval_cache_seconds" env:"PERSONABOT_PERSONA_RETRIEVAL_CACHE_SECONDS"`
	CaptionTTLSeconds     int     `json:"caption_ttl_seconds" env:"PERSONABOT_PERSONA_CAPTION_TTL_SECONDS"`
	MaintenanceCron       string  `json:"maintenance_cron" env:"PERSONABOT_PERSONA_MAINTENANCE_CRON"`
	CreateFetchLimit      int     `json:"create_fetch_limit" env:"PERSONABOT_PERSONA_CREATE_FETCH_LIMIT"`
	UpdateSinceDays       int     `json:"update_since_days" env:"PERSONABOT_PERSONA_UPDATE_SINCE_DAYS"`
	SummarizeMsgMaxChars  int     `json:"summarize_msg_max_chars" env:"PERSONABOT_PERSONA_SUMMARIZE_MSG_MAX_CHARS"`
	SummarizeTotalChars   int     `json:"summarize_total_max_chars" env:"PERSONABOT_PERSONA_SUMMARIZE_TOTAL_MAX_CHARS"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.personabot/workspace",
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				GuildID:   "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Backends: BackendsConfig{
			BaseURL:        "http://localhost:11434/v1",
			APIKey:         "",
			TextModel:      "local-llm",
			EmbedModel:     "local-embed",
			VisionModel:    "local-vision",
			EmbedDim:       768,
			GenTimeoutSec:  60,
			EmbedTimeout:   30,
			VisionTimeout:  45,
			SpeakMaxTokens: 256,
			Temperature:    0.7,
		},
		Persona: PersonaConfig{
			TTLHours:              168,
			RagK:                  3,
			SnippetMaxChars:       240,
			StyleMaxChars:         1000,
			ContextMaxChars:       4000,
			ExampleCapacity:       6,
			GuardThreshold:        0.80,
			RetrievalCacheSeconds: 20,
			CaptionTTLSeconds:     86400,
			MaintenanceCron:       "*/10 * * * *",
			CreateFetchLimit:      400,
			UpdateSinceDays:       7,
			SummarizeMsgMaxChars:  160,
			SummarizeTotalChars:   3000,
		},
	}
}

// LoadConfig reads config from path, falling back to defaults when the
// file does not exist. Environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// WorkspacePath returns the workspace directory with ~ expanded.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Workspace)
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) == 1 {
		return home
	}
	if path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}

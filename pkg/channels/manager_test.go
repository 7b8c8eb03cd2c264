package channels

import (
	"strings"
	"testing"

	"github.com/Stevenl1221/discord-ai-agent/pkg/config"
)

func managerTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Channels.Discord.Token = "test-token"
	return cfg
}

func TestNewManager_RequiresToken(t *testing.T) {
	_, err := NewManager(&config.Config{}, nil)
	if err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("missing token: got %v, want token error", err)
	}
}

func TestManager_GetChannel(t *testing.T) {
	m, err := NewManager(managerTestConfig(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ch, ok := m.GetChannel("discord")
	if !ok || ch == nil {
		t.Fatal("discord channel not registered")
	}
	if ch.Name() != "discord" {
		t.Errorf("channel name = %q, want discord", ch.Name())
	}
	if _, ok := m.GetChannel("irc"); ok {
		t.Error("unknown channel reported as present")
	}
}

func TestManager_GetStatus(t *testing.T) {
	m, err := NewManager(managerTestConfig(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	status := m.GetStatus()
	entry, ok := status["discord"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing discord status entry: %v", status)
	}
	if entry["enabled"] != true {
		t.Errorf("enabled = %v, want true", entry["enabled"])
	}
	if entry["running"] != false {
		t.Errorf("running = %v before start, want false", entry["running"])
	}

	enabled := m.GetEnabledChannels()
	if len(enabled) != 1 || enabled[0] != "discord" {
		t.Errorf("enabled channels = %v, want [discord]", enabled)
	}
}

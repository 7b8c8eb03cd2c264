package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/Stevenl1221/discord-ai-agent/pkg/backends"
	"github.com/Stevenl1221/discord-ai-agent/pkg/channels"
	"github.com/Stevenl1221/discord-ai-agent/pkg/config"
	"github.com/Stevenl1221/discord-ai-agent/pkg/logger"
	"github.com/Stevenl1221/discord-ai-agent/pkg/persona"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "personabot"

// consoleScope is the persona scope used by local CLI sessions so
// they never collide with a guild.
const consoleScope = "console"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "onboard":
		onboard()
	case "console":
		consoleCmd()
	case "gateway":
		gatewayCmd()
	case "status":
		statusCmd()
	case "persona":
		personaCmd()
	case "version", "--version", "-v":
		printVersion()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s - Discord persona bot v%s\n\n", appName, version)
	fmt.Println("Usage: personabot <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  onboard     Initialize personabot configuration and workspace")
	fmt.Println("  console     Talk to the active persona locally")
	fmt.Println("  gateway     Start the Discord gateway")
	fmt.Println("  status      Show personabot status")
	fmt.Println("  persona     Inspect stored personas (list, show, history, erase)")
	fmt.Println("  version     Show version information")
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".personabot", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func personaDBPath(cfg *config.Config) string {
	return filepath.Join(cfg.WorkspacePath(), "state", "persona.db")
}

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Printf("Error reading input: %v\n", readErr)
			fmt.Println("Aborted.")
			return
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Join(cfg.WorkspacePath(), "state"), 0o755); err != nil {
		fmt.Printf("Error creating workspace: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Point backends.base_url at an OpenAI-compatible endpoint in", configPath)
	fmt.Println("  2. Add your Discord bot token to channels.discord.token")
	fmt.Println("  3. Run gateway: personabot gateway")
	fmt.Println("  4. In Discord: /persona create user:@someone")
	fmt.Println("  5. Check readiness: personabot status")
}

func validateRuntimeConfig(cfg *config.Config, requireDiscord bool) error {
	configPath := getConfigPath()
	if strings.TrimSpace(cfg.Backends.BaseURL) == "" {
		return fmt.Errorf("backends.base_url is required in %s or PERSONABOT_BACKENDS_BASE_URL", configPath)
	}
	if requireDiscord && strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return fmt.Errorf("channels.discord.token is required in %s or PERSONABOT_CHANNELS_DISCORD_TOKEN", configPath)
	}
	return nil
}

// buildService wires the store, backends, pipeline and retriever into
// a persona service. The returned closer releases the store.
func buildService(cfg *config.Config) (*persona.Service, func(), error) {
	store, err := persona.NewSQLiteStore(personaDBPath(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("open persona store: %w", err)
	}
	store.SetEmbedDim(cfg.Backends.EmbedDim)

	client := backends.NewClient(cfg.Backends)

	pipeline := persona.NewPipeline(client, client, store, persona.PipelineConfig{
		CaptionTTL:      time.Duration(cfg.Persona.CaptionTTLSeconds) * time.Second,
		ExampleCapacity: cfg.Persona.ExampleCapacity,
		StyleMaxChars:   cfg.Persona.StyleMaxChars,
	})

	retriever, err := persona.NewRetriever(store, client, persona.RetrieverConfig{
		K:               cfg.Persona.RagK,
		SnippetMaxChars: cfg.Persona.SnippetMaxChars,
		StyleMaxChars:   cfg.Persona.StyleMaxChars,
		ContextMaxChars: cfg.Persona.ContextMaxChars,
		CacheTTL:        time.Duration(cfg.Persona.RetrievalCacheSeconds) * time.Second,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	svc := persona.NewService(store, store, store, pipeline, retriever, client, persona.ServiceConfig{
		TTL:               time.Duration(cfg.Persona.TTLHours) * time.Hour,
		GuardThreshold:    cfg.Persona.GuardThreshold,
		MaintenanceCron:   cfg.Persona.MaintenanceCron,
		SummarizeMsgChars: cfg.Persona.SummarizeMsgMaxChars,
		SummarizeMaxChars: cfg.Persona.SummarizeTotalChars,
	})

	closer := func() {
		svc.Stop()
		_ = store.Close()
	}
	return svc, closer, nil
}

func consoleCmd() {
	args := os.Args[2:]
	for _, arg := range args {
		if arg == "--debug" || arg == "-d" {
			logger.SetLevel(logger.DEBUG)
			fmt.Println("Debug mode enabled")
			break
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := validateRuntimeConfig(cfg, false); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	svc, closer, err := buildService(cfg)
	if err != nil {
		fmt.Printf("Error initializing persona service: %v\n", err)
		os.Exit(1)
	}
	defer closer()

	fmt.Printf("%s console (Ctrl+C to exit)\n", appName)
	fmt.Println("Commands: /switch <subject>, /list, /load <subject>, /erase <subject>, anything else speaks to the active persona")
	fmt.Println()
	interactiveMode(svc)
}

func interactiveMode(svc *persona.Service) {
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".personabot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(svc)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		fmt.Println(handleConsoleInput(svc, input))
		fmt.Println()
	}
}

func simpleInteractiveMode(svc *persona.Service) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		fmt.Println(handleConsoleInput(svc, input))
		fmt.Println()
	}
}

func handleConsoleInput(svc *persona.Service, input string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if strings.HasPrefix(input, "/") {
		fields := strings.Fields(input)
		switch fields[0] {
		case "/switch":
			if len(fields) < 2 {
				return "Usage: /switch <subject>"
			}
			doc, err := svc.Switch(ctx, consoleScope, fields[1])
			if err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			return fmt.Sprintf("Active persona is now @%s (v%d)", doc.DisplayName, doc.Version)
		case "/list":
			docs, err := svc.List(ctx, consoleScope)
			if err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			if len(docs) == 0 {
				return "No personas in the console scope. Build one from Discord first, or /switch in a guild scope."
			}
			var b strings.Builder
			for _, doc := range docs {
				fmt.Fprintf(&b, "- @%s v%d (%d messages)\n", doc.DisplayName, doc.Version, doc.Traits.MessageCount)
			}
			return strings.TrimRight(b.String(), "\n")
		case "/load":
			if len(fields) < 2 {
				return "Usage: /load <subject>"
			}
			doc, fresh, err := svc.Load(ctx, consoleScope, fields[1])
			if err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			note := "fresh"
			if fresh.Stale {
				note = "stale"
			}
			return fmt.Sprintf("@%s v%d (%s, age %s)\n%s", doc.DisplayName, doc.Version, note, fresh.Age.Round(time.Minute), doc.StylePrompt)
		case "/erase":
			if len(fields) < 2 {
				return "Usage: /erase <subject>"
			}
			if err := svc.Erase(ctx, consoleScope, fields[1]); err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			return "Erased."
		default:
			return fmt.Sprintf("Unknown command %s", fields[0])
		}
	}

	out, err := svc.Speak(ctx, consoleScope, input)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

func gatewayCmd() {
	args := os.Args[2:]
	for _, arg := range args {
		if arg == "--debug" || arg == "-d" {
			logger.SetLevel(logger.DEBUG)
			fmt.Println("Debug mode enabled")
			break
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := validateRuntimeConfig(cfg, true); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	svc, closer, err := buildService(cfg)
	if err != nil {
		fmt.Printf("Error initializing persona service: %v\n", err)
		os.Exit(1)
	}
	defer closer()

	channelManager, err := channels.NewManager(cfg, svc)
	if err != nil {
		fmt.Printf("Error creating channel manager: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartMaintenance(ctx)
	fmt.Println("✓ Maintenance sweeper started")

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
		os.Exit(1)
	}

	enabledChannels := channelManager.GetEnabledChannels()
	fmt.Printf("✓ Channels enabled: %s\n", strings.Join(enabledChannels, ", "))
	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	_ = channelManager.StopAll(context.Background())
	fmt.Println("✓ Gateway stopped")
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	workspace := cfg.WorkspacePath()
	if _, err := os.Stat(workspace); err == nil {
		fmt.Println("Workspace:", workspace, "✓")
	} else {
		fmt.Println("Workspace:", workspace, "✗")
	}
	dbPath := personaDBPath(cfg)
	if _, err := os.Stat(dbPath); err == nil {
		fmt.Println("Persona DB:", dbPath, "✓")
	} else {
		fmt.Println("Persona DB:", dbPath, "not initialized")
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Text model: %s\n", cfg.Backends.TextModel)
		fmt.Printf("Embed model: %s (dim %d)\n", cfg.Backends.EmbedModel, cfg.Backends.EmbedDim)
		fmt.Printf("Vision model: %s\n", cfg.Backends.VisionModel)

		status := func(enabled bool) string {
			if enabled {
				return "✓"
			}
			return "not set"
		}
		backendReady := strings.TrimSpace(cfg.Backends.BaseURL) != ""
		discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""

		fmt.Println("Backend endpoint:", status(backendReady))
		fmt.Println("Discord token:", status(discordReady))
		fmt.Println("Console ready:", status(backendReady))
		fmt.Println("Gateway ready:", status(backendReady && discordReady))
	}
}

func personaCmd() {
	if len(os.Args) < 3 {
		personaHelp()
		return
	}

	subcommand := os.Args[2]
	scope := consoleScope
	rest := []string{}
	for i := 3; i < len(os.Args); i++ {
		if (os.Args[i] == "-g" || os.Args[i] == "--guild") && i+1 < len(os.Args) {
			scope = os.Args[i+1]
			i++
			continue
		}
		rest = append(rest, os.Args[i])
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	store, err := persona.NewSQLiteStore(personaDBPath(cfg))
	if err != nil {
		fmt.Printf("Error opening persona store: %v\n", err)
		return
	}
	defer store.Close()

	ctx := context.Background()
	ttl := time.Duration(cfg.Persona.TTLHours) * time.Hour

	switch subcommand {
	case "list":
		docs, err := store.ListDocuments(ctx, scope)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if len(docs) == 0 {
			fmt.Println("No personas stored for scope", scope)
			return
		}
		active, _ := store.GetActive(ctx, scope)
		for _, doc := range docs {
			marker := ""
			if doc.Key.Subject == active {
				marker = " (active)"
			}
			fmt.Printf("@%s  subject=%s  v%d  %d messages%s\n",
				doc.DisplayName, doc.Key.Subject, doc.Version, doc.Traits.MessageCount, marker)
		}
	case "show":
		if len(rest) < 1 {
			fmt.Println("Usage: personabot persona show <subject> [-g guild]")
			return
		}
		doc, err := store.GetDocument(ctx, persona.SubjectKey{Scope: scope, Subject: rest[0]})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fresh := persona.EvaluateFreshness(doc.UpdatedAt, ttl, false, time.Now())
		fmt.Printf("@%s v%d, updated %s ago (stale=%t)\n\n%s\n",
			doc.DisplayName, doc.Version, fresh.Age.Round(time.Minute), fresh.Stale, doc.StylePrompt)
	case "history":
		if len(rest) < 1 {
			fmt.Println("Usage: personabot persona history <subject> [-g guild]")
			return
		}
		history, err := store.History(ctx, persona.SubjectKey{Scope: scope, Subject: rest[0]})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if len(history) == 0 {
			fmt.Println("No archived versions.")
			return
		}
		for _, doc := range history {
			fmt.Printf("v%d  %d messages  updated %s\n",
				doc.Version, doc.Traits.MessageCount, doc.UpdatedAt.Format(time.RFC3339))
		}
	case "erase":
		if len(rest) < 1 {
			fmt.Println("Usage: personabot persona erase <subject> [-g guild]")
			return
		}
		key := persona.SubjectKey{Scope: scope, Subject: rest[0]}
		if err := store.EraseDocuments(ctx, key); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if err := store.EraseChunks(ctx, key); err != nil {
			fmt.Printf("Warning: record removed but chunks remain: %v\n", err)
			return
		}
		if bound, err := store.GetActive(ctx, scope); err == nil && bound == rest[0] {
			_ = store.ClearActive(ctx, scope)
		}
		fmt.Println("Erased.")
	default:
		fmt.Printf("Unknown persona command: %s\n", subcommand)
		personaHelp()
	}
}

func personaHelp() {
	fmt.Println("\nPersona commands:")
	fmt.Println("  list                 List stored personas")
	fmt.Println("  show <subject>       Show a persona's style guide and freshness")
	fmt.Println("  history <subject>    List archived versions")
	fmt.Println("  erase <subject>      Remove a persona, its history and corpus")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -g, --guild <id>     Scope to a guild (default: console)")
}

package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Stevenl1221/discord-ai-agent/pkg/config"
	"github.com/Stevenl1221/discord-ai-agent/pkg/logger"
	"github.com/Stevenl1221/discord-ai-agent/pkg/persona"
)

const (
	opTimeout       = 120 * time.Second
	historyPageSize = 100
	discordMsgLimit = 1500 // Discord caps at 2000, leave headroom for splits
)

type DiscordChannel struct {
	*BaseChannel
	session    *discordgo.Session
	config     config.DiscordConfig
	personaCfg config.PersonaConfig
	svc        *persona.Service
	registered []*discordgo.ApplicationCommand
}

func NewDiscordChannel(cfg config.DiscordConfig, personaCfg config.PersonaConfig, svc *persona.Service) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	// MessageContent is required to read history bodies during ingestion.
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", cfg.AllowFrom),
		session:     session,
		config:      cfg,
		personaCfg:  personaCfg,
		svc:         svc,
	}, nil
}

func commandDefinition() *discordgo.ApplicationCommand {
	userOpt := func(required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: "Target user",
			Required:    required,
		}
	}

	return &discordgo.ApplicationCommand{
		Name:        "persona",
		Description: "Persona bot commands",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Build a persona from a user's channel history",
				Options:     []*discordgo.ApplicationCommandOption{userOpt(true)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "update",
				Description: "Incrementally refresh a persona with recent messages",
				Options: []*discordgo.ApplicationCommandOption{
					userOpt(true),
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "days",
						Description: "How many days back to ingest",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "switch",
				Description: "Make an existing persona the active one",
				Options:     []*discordgo.ApplicationCommandOption{userOpt(true)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "speak",
				Description: "Have the active persona answer a prompt",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "prompt",
						Description: "What to say to the persona",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "summarize",
				Description: "Summarize a user's recent messages (default: active persona)",
				Options: []*discordgo.ApplicationCommandOption{
					userOpt(false),
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "last",
						Description: "Number of recent messages",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List personas known in this server",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "load",
				Description: "Show a stored persona and its freshness",
				Options:     []*discordgo.ApplicationCommandOption{userOpt(true)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "erase",
				Description: "Erase a persona, its history and its corpus",
				Options:     []*discordgo.ApplicationCommandOption{userOpt(true)},
			},
		},
	}
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleInteraction)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}

	cmd, err := c.session.ApplicationCommandCreate(botUser.ID, c.config.GuildID, commandDefinition())
	if err != nil {
		return fmt.Errorf("failed to register persona command: %w", err)
	}
	c.registered = append(c.registered, cmd)

	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
		"guild_id": c.config.GuildID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)

	if c.session.State != nil && c.session.State.User != nil {
		for _, cmd := range c.registered {
			if err := c.session.ApplicationCommandDelete(c.session.State.User.ID, c.config.GuildID, cmd.ID); err != nil {
				logger.WarnCF("discord", "failed to delete command", map[string]any{"error": err.Error()})
			}
		}
	}

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

// scopeFor keys personas by guild, or by channel for DMs.
func scopeFor(i *discordgo.InteractionCreate) string {
	if i.GuildID != "" {
		return i.GuildID
	}
	return "dm:" + i.ChannelID
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.Interaction.User
}

func (c *DiscordChannel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != "persona" || len(data.Options) == 0 {
		return
	}

	caller := interactionUser(i)
	if caller == nil {
		return
	}
	if !c.IsAllowed(caller.ID + "|" + caller.Username) {
		c.replyEphemeral(s, i, "You are not allowed to use persona commands.")
		return
	}

	// Every subcommand may take a while; acknowledge first.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		logger.ErrorCF("discord", "failed to defer interaction", map[string]any{"error": err.Error()})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		sub := data.Options[0]
		reply, err := c.dispatch(ctx, s, i, sub)
		if err != nil {
			reply = friendlyError(err)
		}
		c.followUp(s, i, reply)
	}()
}

func (c *DiscordChannel) dispatch(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	scope := scopeFor(i)

	switch sub.Name {
	case "create":
		return c.cmdCreate(ctx, s, i, sub, scope)
	case "update":
		return c.cmdUpdate(ctx, s, i, sub, scope)
	case "switch":
		target := optionUser(s, sub)
		if target == nil {
			return "", errors.New("user option missing")
		}
		doc, err := c.svc.Switch(ctx, scope, target.ID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Switched active persona to **@%s** (v%d).", doc.DisplayName, doc.Version), nil
	case "speak":
		prompt := optionString(sub, "prompt")
		if prompt == "" {
			return "", errors.New("prompt option missing")
		}
		return c.svc.Speak(ctx, scope, prompt)
	case "summarize":
		return c.cmdSummarize(ctx, s, i, sub, scope)
	case "list":
		return c.cmdList(ctx, scope)
	case "load":
		target := optionUser(s, sub)
		if target == nil {
			return "", errors.New("user option missing")
		}
		doc, fresh, err := c.svc.Load(ctx, scope, target.ID)
		if err != nil {
			return "", err
		}
		return formatLoaded(doc, fresh), nil
	case "erase":
		target := optionUser(s, sub)
		if target == nil {
			return "", errors.New("user option missing")
		}
		if err := c.svc.Erase(ctx, scope, target.ID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Erased persona, history and corpus for **@%s**.", target.Username), nil
	default:
		return "", fmt.Errorf("unknown subcommand %q", sub.Name)
	}
}

func (c *DiscordChannel) cmdCreate(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption, scope string) (string, error) {
	target := optionUser(s, sub)
	if target == nil {
		return "", errors.New("user option missing")
	}

	items, err := c.fetchHistory(i.ChannelID, c.personaCfg.CreateFetchLimit, time.Time{})
	if err != nil {
		return "", err
	}

	doc, report, err := c.svc.Create(ctx, scope, target.ID, target.Username, items)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"Created persona **@%s** (v%d) from %d messages: %d indexed, %d skipped. It is now active.",
		doc.DisplayName, report.Version, report.ItemsSeen, report.ItemsIndexed, report.ItemsSkipped), nil
}

func (c *DiscordChannel) cmdUpdate(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption, scope string) (string, error) {
	target := optionUser(s, sub)
	if target == nil {
		return "", errors.New("user option missing")
	}

	days := int(optionInt(sub, "days"))
	if days <= 0 {
		days = c.personaCfg.UpdateSinceDays
	}
	since := time.Now().AddDate(0, 0, -days)

	items, err := c.fetchHistory(i.ChannelID, c.personaCfg.CreateFetchLimit, since)
	if err != nil {
		return "", err
	}

	doc, report, err := c.svc.Update(ctx, scope, target.ID, target.Username, items)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"Updated persona **@%s** to v%d: %d new messages indexed, %d skipped.",
		doc.DisplayName, report.Version, report.ItemsIndexed, report.ItemsSkipped), nil
}

func (c *DiscordChannel) cmdSummarize(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption, scope string) (string, error) {
	subject := ""
	if target := optionUser(s, sub); target != nil {
		subject = target.ID
	}

	author := subject
	if author == "" {
		active, err := c.svc.Active(ctx, scope)
		if err != nil {
			return "", err
		}
		author = active
	}

	last := int(optionInt(sub, "last"))
	if last <= 0 {
		last = 50
	}

	items, err := c.fetchHistory(i.ChannelID, historyPageSize*2, time.Time{})
	if err != nil {
		return "", err
	}

	// Keep the author's text and image items; captions come from the
	// service's caption cache.
	own := []persona.RawItem{}
	for _, item := range items {
		if item.Author == author {
			own = append(own, item)
		}
	}
	if len(own) > last {
		own = own[len(own)-last:]
	}

	return c.svc.Summarize(ctx, scope, subject, own)
}

func (c *DiscordChannel) cmdList(ctx context.Context, scope string) (string, error) {
	docs, err := c.svc.List(ctx, scope)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "No personas exist in this server yet. Use `/persona create` first.", nil
	}

	active, _ := c.svc.Active(ctx, scope)
	var b strings.Builder
	b.WriteString("Known personas:\n")
	for _, doc := range docs {
		marker := ""
		if doc.Key.Subject == active {
			marker = " (active)"
		}
		fmt.Fprintf(&b, "- **@%s** v%d, %d messages%s\n", doc.DisplayName, doc.Version, doc.Traits.MessageCount, marker)
	}
	return b.String(), nil
}

func formatLoaded(doc *persona.Document, fresh persona.Freshness) string {
	staleNote := "fresh"
	if fresh.Stale {
		staleNote = "stale, consider `/persona update`"
	}
	return fmt.Sprintf(
		"**@%s** v%d, %d source messages, updated %s ago (%s).\n\n%s",
		doc.DisplayName, doc.Version, doc.SourceItems,
		fresh.Age.Round(time.Minute), staleNote, doc.StylePrompt)
}

// fetchHistory pages backwards through the channel collecting raw
// items oldest-first. Image attachments become image items.
func (c *DiscordChannel) fetchHistory(channelID string, limit int, since time.Time) ([]persona.RawItem, error) {
	if limit <= 0 {
		limit = historyPageSize
	}

	collected := []persona.RawItem{}
	beforeID := ""

	for len(collected) < limit {
		page := historyPageSize
		if remaining := limit - len(collected); remaining < page {
			page = remaining
		}
		msgs, err := c.session.ChannelMessages(channelID, page, beforeID, "", "")
		if err != nil {
			return nil, fmt.Errorf("fetch channel history: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		done := false
		for _, m := range msgs {
			if m.Author == nil || m.Author.Bot {
				continue
			}
			if !since.IsZero() && m.Timestamp.Before(since) {
				done = true
				break
			}
			if m.Content != "" {
				collected = append(collected, persona.RawItem{
					ID:        m.ID,
					Author:    m.Author.ID,
					Content:   m.Content,
					Timestamp: m.Timestamp,
				})
			}
			for _, att := range m.Attachments {
				if strings.HasPrefix(att.ContentType, "image/") {
					collected = append(collected, persona.RawItem{
						ID:        m.ID + ":" + att.ID,
						Author:    m.Author.ID,
						ImageURL:  att.URL,
						Timestamp: m.Timestamp,
					})
				}
			}
		}
		if done {
			break
		}
		beforeID = msgs[len(msgs)-1].ID
	}

	// Discord returns newest-first; the pipeline wants oldest-first.
	for l, r := 0, len(collected)-1; l < r; l, r = l+1, r-1 {
		collected[l], collected[r] = collected[r], collected[l]
	}
	return collected, nil
}

func friendlyError(err error) string {
	switch {
	case errors.Is(err, persona.ErrNoActivePersona):
		return "No active persona. Use `/persona create` or `/persona switch` first."
	case errors.Is(err, persona.ErrNotFound):
		return "No persona exists for that user. Use `/persona create` first."
	case errors.Is(err, persona.ErrContentSafetyRejected):
		return "The persona's reply copied its source material too closely and was withheld."
	case errors.Is(err, persona.ErrIngestionExhausted):
		return "Could not build anything usable from that user's messages."
	case errors.Is(err, persona.ErrNoMessages):
		return "No recent messages from that user to summarize."
	default:
		logger.ErrorCF("discord", "command failed", map[string]any{"error": err.Error()})
		return "Something went wrong: " + err.Error()
	}
}

func (c *DiscordChannel) replyEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func (c *DiscordChannel) followUp(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if content == "" {
		content = "Done."
	}
	chunks := splitMessage(content, discordMsgLimit)
	for _, chunk := range chunks {
		if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
			Content: chunk,
		}); err != nil {
			logger.ErrorCF("discord", "failed to send follow-up", map[string]any{"error": err.Error()})
			return
		}
	}
}

func optionString(sub *discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, opt := range sub.Options {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}

func optionInt(sub *discordgo.ApplicationCommandInteractionDataOption, name string) int64 {
	for _, opt := range sub.Options {
		if opt.Name == name {
			return opt.IntValue()
		}
	}
	return 0
}

func optionUser(s *discordgo.Session, sub *discordgo.ApplicationCommandInteractionDataOption) *discordgo.User {
	for _, opt := range sub.Options {
		if opt.Type == discordgo.ApplicationCommandOptionUser {
			return opt.UserValue(s)
		}
	}
	return nil
}

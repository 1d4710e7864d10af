package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"counselor/models"
	"counselor/utils"
)

const (
	discordMessageLimit = 2000
	discordChunkSize    = 1900
)

// Asker answers a question; *Chatbot implements it.
type Asker interface {
	Ask(ctx context.Context, in AskInput) (*models.AskResponse, error)
}

// DiscordService handles Discord bot interactions
type DiscordService struct {
	session       *discordgo.Session
	asker         Asker
	commandPrefix string
	historyLimit  int
	enabled       bool
	startTime     time.Time
}

// NewDiscordService creates a new Discord service instance. Without a token
// the service stays disabled.
func NewDiscordService(cfg models.DiscordConfig, asker Asker) *DiscordService {
	prefix := cfg.CommandPrefix
	if strings.TrimSpace(prefix) == "" {
		prefix = "!ask "
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 10
	}

	service := &DiscordService{
		asker:         asker,
		commandPrefix: prefix,
		historyLimit:  limit,
		startTime:     time.Now(),
	}

	if !cfg.Enabled() {
		zap.L().Info("discord bot disabled: DISCORD_BOT_TOKEN not set")
		return service
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		zap.L().Error("create discord session", zap.Error(err))
		return service
	}
	service.session = session

	session.AddHandler(func(s *discordgo.Session, event *discordgo.Ready) {
		zap.L().Info("discord bot online", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
	})
	session.AddHandler(service.messageCreate)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	service.enabled = true
	zap.L().Info("discord service initialized", zap.String("prefix", prefix))
	return service
}

// Start begins the Discord bot service
func (d *DiscordService) Start() error {
	if !d.enabled {
		return fmt.Errorf("discord service not enabled (missing bot token)")
	}
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("error opening Discord connection: %w", err)
	}
	zap.L().Info("discord bot started", zap.String("usage", d.commandPrefix+"<question>"))
	return nil
}

// Stop closes the Discord bot connection
func (d *DiscordService) Stop() error {
	if d.session != nil && d.enabled {
		return d.session.Close()
	}
	return nil
}

// parseCommand returns the question after prefix, and whether content was a
// command at all.
func parseCommand(content, prefix string) (string, bool) {
	if !strings.HasPrefix(content, prefix) {
		trimmed := strings.TrimSpace(prefix)
		if content != trimmed {
			return "", false
		}
		return "", true
	}
	return strings.TrimSpace(content[len(prefix):]), true
}

func (d *DiscordService) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	question, ok := parseCommand(m.Content, d.commandPrefix)
	if !ok {
		return
	}
	if question == "" {
		d.sendMessage(s, m.ChannelID, fmt.Sprintf("Please provide a question after `%s`", strings.TrimSpace(d.commandPrefix)))
		return
	}

	logger := zap.L().With(
		zap.String("request_id", uuid.NewString()),
		zap.String("transport", "discord"),
		zap.String("channel", m.ChannelID),
		zap.String("user", m.Author.Username))
	ctx := utils.WithLogger(context.Background(), logger)

	if err := s.ChannelTyping(m.ChannelID); err != nil {
		logger.Debug("typing indicator failed", zap.Error(err))
	}

	var history []models.HistoryTurn
	recent, err := s.ChannelMessages(m.ChannelID, d.historyLimit, m.ID, "", "")
	if err != nil {
		logger.Warn("failed to get recent messages for context", zap.Error(err))
	} else {
		history = d.convertMessagesToHistory(recent)
	}

	d.sendMessage(s, m.ChannelID, d.answer(ctx, question, history))
}

// answer runs the pipeline and renders the reply text.
func (d *DiscordService) answer(ctx context.Context, question string, history []models.HistoryTurn) string {
	resp, err := d.asker.Ask(ctx, AskInput{Question: question, History: history})
	if err != nil {
		failure := ClassifyFailure(err)
		utils.GetLogger(ctx).Error("discord ask failed", zap.Int("status", failure.Status), zap.Error(err))
		return failure.Message
	}
	return formatReply(resp)
}

// convertMessagesToHistory turns newest-first channel messages into
// chronological turns, skipping commands and near-empty chatter.
func (d *DiscordService) convertMessagesToHistory(messages []*discordgo.Message) []models.HistoryTurn {
	var turns []models.HistoryTurn
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg == nil || msg.Author == nil {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if strings.HasPrefix(content, strings.TrimSpace(d.commandPrefix)) && !msg.Author.Bot {
			if q, ok := parseCommand(content, d.commandPrefix); ok && q != "" {
				turns = append(turns, models.HistoryTurn{Role: models.RoleUser, Content: q})
			}
			continue
		}
		if len(content) < 10 {
			continue
		}
		role := models.RoleUser
		if msg.Author.Bot {
			role = models.RoleAssistant
		}
		turns = append(turns, models.HistoryTurn{Role: role, Content: content})
	}
	return turns
}

func formatReply(resp *models.AskResponse) string {
	var b strings.Builder
	b.WriteString(resp.Answer)

	var web []string
	for _, src := range resp.Sources {
		switch src.Type {
		case models.SourceWeb:
			web = append(web, fmt.Sprintf("- %s <%s>", src.Title, src.URL))
		case models.SourceDocument:
			web = append(web, "- "+src.Filename)
		}
	}
	if len(web) > 0 {
		b.WriteString("\n\nSources:\n")
		b.WriteString(strings.Join(web, "\n"))
	}
	if len(resp.FollowUps) > 0 {
		b.WriteString("\n\nYou might also ask:\n")
		for _, f := range resp.FollowUps {
			b.WriteString("- " + f + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// sendMessage sends a message to Discord, handling length limits
func (d *DiscordService) sendMessage(s *discordgo.Session, channelID, message string) {
	if len(message) <= discordMessageLimit {
		if _, err := s.ChannelMessageSend(channelID, message); err != nil {
			zap.L().Error("send discord message", zap.Error(err))
		}
		return
	}

	chunks := splitMessage(message, discordChunkSize)
	for i, chunk := range chunks {
		if i > 0 {
			chunk = "...continued:\n" + chunk
		}
		if i < len(chunks)-1 {
			chunk += "\n..."
		}
		if _, err := s.ChannelMessageSend(channelID, chunk); err != nil {
			zap.L().Error("send discord message chunk", zap.Int("chunk", i), zap.Error(err))
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// splitMessage splits a message into chunks respecting word boundaries
func splitMessage(message string, maxLength int) []string {
	if len(message) <= maxLength {
		return []string{message}
	}

	var chunks []string
	for len(message) > maxLength {
		splitIndex := maxLength
		if spaceIndex := strings.LastIndex(message[:maxLength], " "); spaceIndex > maxLength/2 {
			splitIndex = spaceIndex
		}
		chunks = append(chunks, message[:splitIndex])
		message = strings.TrimPrefix(message[splitIndex:], " ")
	}
	if len(message) > 0 {
		chunks = append(chunks, message)
	}
	return chunks
}

// IsEnabled returns whether the Discord service is enabled
func (d *DiscordService) IsEnabled() bool {
	return d.enabled
}

// GetStatus returns the current status of the Discord service
func (d *DiscordService) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"enabled":        d.enabled,
		"command_prefix": d.commandPrefix,
		"uptime":         time.Since(d.startTime).String(),
	}

	switch {
	case d.enabled && d.session != nil && d.session.State != nil && d.session.State.User != nil:
		status["status"] = "connected"
		status["user"] = d.session.State.User.Username
		status["guilds"] = len(d.session.State.Guilds)
	case d.enabled:
		status["status"] = "initialized_not_started"
	default:
		status["status"] = "disabled"
		status["note"] = "Set DISCORD_BOT_TOKEN environment variable to enable"
	}
	return status
}

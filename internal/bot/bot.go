package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/flowsend/flowsend/internal/logger"
	"github.com/flowsend/flowsend/internal/models"
	"github.com/flowsend/flowsend/internal/service/pendingbatch"
	"github.com/flowsend/flowsend/internal/service/tipping"
)

type Config struct {
	Token     string
	BotName   string
	PointName string
}

type tipService interface {
	// Read both balances, lazily creating the tip account
	Balance(ctx context.Context, userID string) (tipping.BalanceView, error)

	// Move points between the external balance and the tip balance
	Deposit(ctx context.Context, userID string, amount int64) (tipping.BalanceView, error)
	Withdraw(ctx context.Context, userID string, amount int64) (tipping.BalanceView, error)

	// Distribute points to many recipients at once
	// Insufficient tip balance must return apperrors.ErrInsufficientTipBalance
	BulkTip(ctx context.Context, userID string, entries []models.TipEntry) (tipping.BulkTipResult, error)

	// Pending broadcast state, all return apperrors.ErrBatchNotFound when
	// the batch is gone or never existed
	PendingBroadcast(userID string) (pendingbatch.Batch, error)
	ConfirmBroadcast(userID string) (pendingbatch.Batch, error)
	DeclineBroadcast(userID string) error

	// Newest-first audit rows
	History(ctx context.Context, userID string, limit int) ([]models.TipTransaction, error)
}

// Bot owns the Discord session and routes chat-platform events to the
// tipping service.
type Bot struct {
	session   *discordgo.Session
	service   tipService
	presenter *Presenter
	http      *http.Client
	logger    logger.Logger
}

func New(cfg Config, service tipService, l logger.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("bot: discord token is required")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bot: can't create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	b := &Bot{
		session:   session,
		service:   service,
		presenter: NewPresenter(cfg.BotName, cfg.PointName),
		http:      &http.Client{},
		logger:    l,
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onInteractionCreate)

	return b, nil
}

// Run opens the gateway connection and closes it on context cancellation.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("bot: can't open session: %w", err)
	}
	b.logger.Info("Discord session opened")

	<-ctx.Done()

	b.logger.Info("Closing Discord session")
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("Logged in", "user", r.User.Username, "guilds", len(r.Guilds))

	command := &discordgo.ApplicationCommand{
		Name:        "bulktip",
		Description: "Bulk tip to users using CSV file",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        "file",
				Description: "CSV file",
				Required:    true,
			},
		},
	}

	for _, guild := range r.Guilds {
		if _, err := s.ApplicationCommandCreate(r.User.ID, guild.ID, command); err != nil {
			b.logger.Error("Failed to register slash command", "guild_id", guild.ID, "error", err)
			continue
		}
		b.logger.Info("Slash command registered", "guild_id", guild.ID)
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	if m.Content == "!show" {
		embed, components := b.presenter.Menu()
		_, err := s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: components,
		})
		if err != nil {
			b.logger.Error("Failed to send menu", "channel_id", m.ChannelID, "error", err)
		}
	}
}

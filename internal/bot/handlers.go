package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/flowsend/flowsend/internal/apperrors"
)

// Discord caps select menus at 25 options
const maxChannelOptions = 25

// onInteractionCreate routes inbound interactions. Component custom IDs
// go through an explicit table; an unknown ID is logged and dropped
// instead of silently falling through.
func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if i.ApplicationCommandData().Name == "bulktip" {
			b.handleBulkTipCommand(s, i)
			return
		}
		b.logger.Warn("Unknown slash command", "name", i.ApplicationCommandData().Name)

	case discordgo.InteractionModalSubmit:
		b.handleAmountSubmit(s, i)

	case discordgo.InteractionMessageComponent:
		b.routeComponent(s, i)
	}
}

func (b *Bot) routeComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.MessageComponentData().CustomID {
	case idBalance:
		b.handleBalance(s, i)
	case idHistory:
		b.handleHistory(s, i)
	case idDeposit, idWithdraw:
		b.showAmountModal(s, i)
	case idYesBroadcast:
		b.handleBroadcastConfirm(s, i)
	case idNoBroadcast:
		b.handleBroadcastDecline(s, i)
	case idChannelSelect:
		b.handleChannelSelected(s, i)
	default:
		b.logger.Warn("Component interaction out of context", "custom_id", i.MessageComponentData().CustomID)
	}
}

func (b *Bot) handleBalance(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.deferEphemeral(s, i) {
		return
	}
	user := interactionUser(i)

	view, err := b.service.Balance(context.Background(), user.ID)
	if err != nil {
		b.logger.Error("Balance lookup failed", "user_id", user.ID, "error", err)
		b.editWithEmbed(s, i, b.presenter.ErrorCard("Balance Failed", err), nil)
		return
	}

	embed, components := b.presenter.BalanceCard(user.Username, user.AvatarURL(""), view)
	b.editWithEmbed(s, i, embed, components)
}

func (b *Bot) handleHistory(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.deferEphemeral(s, i) {
		return
	}
	user := interactionUser(i)

	history, err := b.service.History(context.Background(), user.ID, 10)
	if err != nil {
		b.logger.Error("History lookup failed", "user_id", user.ID, "error", err)
		b.editWithEmbed(s, i, b.presenter.ErrorCard("History Failed", err), nil)
		return
	}

	if len(history) == 0 {
		b.editWithContent(s, i, "You have no transaction history.")
		return
	}

	b.editWithEmbed(s, i, b.presenter.HistoryCard(history), nil)
}

func (b *Bot) showAmountModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	action := i.MessageComponentData().CustomID

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: b.presenter.AmountModal(action),
	})
	if err != nil {
		b.logger.Error("Failed to show amount modal", "action", action, "error", err)
	}
}

func (b *Bot) handleAmountSubmit(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.deferEphemeral(s, i) {
		return
	}
	user := interactionUser(i)
	data := i.ModalSubmitData()
	action := data.CustomID

	amount, err := modalAmount(data)
	if err != nil {
		b.editWithEmbed(s, i, b.presenter.ErrorCard(actionTitle(action)+" Failed", err), nil)
		return
	}

	switch action {
	case idDeposit:
		result, err := b.service.Deposit(context.Background(), user.ID, amount)
		if err != nil {
			b.editWithEmbed(s, i, b.presenter.ErrorCard("Deposit Failed", err), nil)
			return
		}
		b.editWithEmbed(s, i, b.presenter.TransferCard(idDeposit, amount, result), nil)

	case idWithdraw:
		result, err := b.service.Withdraw(context.Background(), user.ID, amount)
		if err != nil {
			b.editWithEmbed(s, i, b.presenter.ErrorCard("Withdraw Failed", err), nil)
			return
		}
		b.editWithEmbed(s, i, b.presenter.TransferCard(idWithdraw, amount, result), nil)

	default:
		b.logger.Warn("Modal submit out of context", "custom_id", action)
		b.editWithEmbed(s, i, b.presenter.ErrorCard("Error", errors.New("unknown action")), nil)
	}
}

func (b *Bot) handleBulkTipCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	attachment, err := commandAttachment(i)
	if err != nil || !strings.HasSuffix(strings.ToLower(attachment.Filename), ".csv") {
		b.respondEphemeralContent(s, i, "❌ Please upload a valid CSV file!")
		return
	}

	if !b.deferEphemeral(s, i) {
		return
	}
	user := interactionUser(i)

	body, err := downloadAttachment(context.Background(), b.http, attachment.URL)
	if err != nil {
		b.logger.Error("CSV download failed", "user_id", user.ID, "error", err)
		b.editWithEmbed(s, i, b.presenter.ErrorCard("Bulk Tip Failed", err), nil)
		return
	}
	defer body.Close() // nolint:errcheck

	entries, err := ParseTipEntries(body)
	if err != nil {
		b.editWithEmbed(s, i, b.presenter.ErrorCard("Bulk Tip Failed", err), nil)
		return
	}

	result, err := b.service.BulkTip(context.Background(), user.ID, entries)
	switch {
	case err == nil:
		embed, components := b.presenter.BulkTipCard(result)
		b.editWithEmbed(s, i, embed, components)

	case errors.Is(err, apperrors.ErrInsufficientTipBalance):
		embed := b.presenter.ErrorCard("Bulk Tip Failed", err)
		components := []discordgo.MessageComponent{discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{CustomID: idBalance, Label: "💰 Balance", Style: discordgo.PrimaryButton},
			},
		}}
		b.editWithEmbed(s, i, embed, components)

	default:
		b.logger.Error("Bulk tip failed", "user_id", user.ID, "error", err)
		b.editWithEmbed(s, i, b.presenter.ErrorCard("Bulk Tip Failed", err), nil)
	}
}

// handleBroadcastConfirm checks the confirmation is still in context
// before offering channels; the batch itself is consumed only when a
// channel is picked.
func (b *Bot) handleBroadcastConfirm(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.deferEphemeral(s, i) {
		return
	}
	user := interactionUser(i)

	if _, err := b.service.PendingBroadcast(user.ID); err != nil {
		b.editWithEmbed(s, i, b.presenter.ErrorCard("Error", err), nil)
		return
	}

	channels, err := b.textChannels(s, i.GuildID)
	if err != nil {
		b.logger.Error("Failed to list channels", "guild_id", i.GuildID, "error", err)
		b.editWithEmbed(s, i, b.presenter.ErrorCard("Error", err), nil)
		return
	}
	if len(channels) == 0 {
		b.editWithContent(s, i, "❌ No available text channels!")
		return
	}

	content := "🔽 Select a channel below:"
	_, err = s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content:    &content,
		Components: componentsPtr(b.presenter.ChannelSelect(channels)),
	})
	if err != nil {
		b.logger.Error("Failed to show channel selection", "error", err)
	}
}

func (b *Bot) handleBroadcastDecline(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)

	err := b.service.DeclineBroadcast(user.ID)
	if errors.Is(err, apperrors.ErrBatchNotFound) {
		b.respondEphemeralContent(s, i, "Nothing to decline, the bulk tip is no longer pending.")
		return
	}

	b.respondEphemeralContent(s, i, "Okie")
}

// handleChannelSelected consumes the pending batch and posts the public
// announcement. The record is gone once taken, a failed send is not
// retriable on purpose.
func (b *Bot) handleChannelSelected(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	values := i.MessageComponentData().Values
	if len(values) == 0 {
		b.respondEphemeralContent(s, i, "❌ No channel selected!")
		return
	}
	channelID := values[0]

	batch, err := b.service.ConfirmBroadcast(user.ID)
	if errors.Is(err, apperrors.ErrBatchNotFound) {
		b.respondEphemeralEmbed(s, i, b.presenter.ErrorCard("Error", err))
		return
	}

	embed := b.presenter.Announcement(user.Username, user.AvatarURL(""), batch)
	if _, err := s.ChannelMessageSendEmbed(channelID, embed); err != nil {
		b.logger.Error("Broadcast send failed", "channel_id", channelID, "batch_id", batch.ID, "error", err)
		b.respondEphemeralContent(s, i, "❌ Failed to broadcast the message.")
		return
	}

	b.respondEphemeralContent(s, i, fmt.Sprintf("✅ Message Broadcasted to: <#%s>", channelID))
}

// textChannels lists broadcastable guild channels, capped for the select menu
func (b *Bot) textChannels(s *discordgo.Session, guildID string) ([]*discordgo.Channel, error) {
	channels, err := s.GuildChannels(guildID)
	if err != nil {
		return nil, err
	}

	var text []*discordgo.Channel
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		text = append(text, ch)
		if len(text) == maxChannelOptions {
			break
		}
	}
	return text, nil
}

// --- small response helpers ---

func (b *Bot) deferEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.logger.Error("Failed to defer interaction", "error", err)
		return false
	}
	return true
}

func (b *Bot) editWithEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) {
	edit := &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	}
	if components != nil {
		edit.Components = componentsPtr(components)
	}

	if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
		b.logger.Error("Failed to edit interaction response", "error", err)
	}
}

func (b *Bot) editWithContent(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		b.logger.Error("Failed to edit interaction response", "error", err)
	}
}

func (b *Bot) respondEphemeralContent(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.logger.Error("Failed to respond to interaction", "error", err)
	}
}

func (b *Bot) respondEphemeralEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.logger.Error("Failed to respond to interaction", "error", err)
	}
}

func componentsPtr(components []discordgo.MessageComponent) *[]discordgo.MessageComponent {
	return &components
}

// interactionUser works for both guild and DM interactions
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// commandAttachment resolves the single attachment option of /bulktip
func commandAttachment(i *discordgo.InteractionCreate) (*discordgo.MessageAttachment, error) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return nil, errors.New("file option is missing")
	}

	id, ok := data.Options[0].Value.(string)
	if !ok {
		return nil, errors.New("file option has unexpected type")
	}

	attachment, ok := data.Resolved.Attachments[id]
	if !ok {
		return nil, errors.New("attachment not resolved")
	}
	return attachment, nil
}

// modalAmount extracts and validates the amount text input
func modalAmount(data discordgo.ModalSubmitInteractionData) (int64, error) {
	for _, row := range data.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, component := range actionsRow.Components {
			input, ok := component.(*discordgo.TextInput)
			if !ok || input.CustomID != idAmountInput {
				continue
			}

			amount, err := strconv.ParseInt(strings.TrimSpace(input.Value), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("amount %q is not an integer", input.Value)
			}
			if amount <= 0 {
				return 0, apperrors.ErrAmountNotPositive
			}
			return amount, nil
		}
	}

	return 0, errors.New("amount input is missing")
}

func actionTitle(action string) string {
	if action == idWithdraw {
		return "Withdraw"
	}
	return "Deposit"
}

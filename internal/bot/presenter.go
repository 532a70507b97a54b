package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/flowsend/flowsend/internal/models"
	"github.com/flowsend/flowsend/internal/service/pendingbatch"
	"github.com/flowsend/flowsend/internal/service/tipping"
)

// Component custom IDs. The dispatcher only routes IDs from this set,
// everything else is rejected as out of context.
const (
	idBalance       = "balance"
	idHistory       = "history"
	idDeposit       = "deposit"
	idWithdraw      = "withdraw"
	idYesBroadcast  = "ybroadcast"
	idNoBroadcast   = "nbroadcast"
	idChannelSelect = "channel_select"
	idAmountInput   = "amount"
)

// Presenter builds user-facing message payloads from ledger state. It
// holds no state besides the display names.
type Presenter struct {
	botName   string
	pointName string
}

func NewPresenter(botName, pointName string) *Presenter {
	return &Presenter{botName: botName, pointName: pointName}
}

// Menu is the entry card with the balance and history buttons.
func (p *Presenter) Menu() (*discordgo.MessageEmbed, []discordgo.MessageComponent) {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Welcome To %s!", p.botName),
		Description: fmt.Sprintf(
			"**%s** is a Discord bot that allows users to easily tip in bulk.\n\n"+
				"**Get Started!**\n"+
				"- 💰 **Balance** – Check your current account balance\n"+
				"- 📄 **History** – View your transaction history\n"+
				"- 💸 `/bulktip` – Start a bulk tip transaction",
			p.botName,
		),
	}

	components := []discordgo.MessageComponent{discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{CustomID: idBalance, Label: "💰 Balance", Style: discordgo.PrimaryButton},
			discordgo.Button{CustomID: idHistory, Label: "📄 History", Style: discordgo.SecondaryButton},
		},
	}}

	return embed, components
}

// BalanceCard shows both balances with deposit/withdraw buttons.
func (p *Presenter) BalanceCard(username, avatarURL string, view tipping.BalanceView) (*discordgo.MessageEmbed, []discordgo.MessageComponent) {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s's Balance", username),
		Description: fmt.Sprintf(
			"💰 **Balance:** %s %s\n💸 **Tip Balance:** %d %s",
			view.External.String(), p.pointName, view.TipBalance, p.pointName,
		),
		Thumbnail: &discordgo.MessageEmbedThumbnail{URL: avatarURL},
	}

	components := []discordgo.MessageComponent{discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{CustomID: idDeposit, Label: "▲ Deposit", Style: discordgo.SuccessButton},
			discordgo.Button{CustomID: idWithdraw, Label: "▼ Withdraw", Style: discordgo.DangerButton},
		},
	}}

	return embed, components
}

// TransferCard confirms a completed deposit or withdraw with fresh balances.
func (p *Presenter) TransferCard(action string, amount int64, view tipping.BalanceView) *discordgo.MessageEmbed {
	balanceSign, tipSign := "-", "+"
	title := "✅ Deposit Success"
	if action == idWithdraw {
		balanceSign, tipSign = "+", "-"
		title = "✅ Withdraw Success"
	}

	return &discordgo.MessageEmbed{
		Title: title,
		Description: fmt.Sprintf(
			"- 💰 %s%d Balance\n- 💸 %s%d Tip Balance\n\n"+
				"**Current Balance**\n- 💰 **Balance:** %s %s\n- 💸 **Tip Balance:** %d %s",
			balanceSign, amount, tipSign, amount,
			view.External.String(), p.pointName, view.TipBalance, p.pointName,
		),
	}
}

// BulkTipCard reports a finished bulk tip and asks for the broadcast
// decision. Failed recipients are listed instead of being swallowed.
func (p *Presenter) BulkTipCard(result tipping.BulkTipResult) (*discordgo.MessageEmbed, []discordgo.MessageComponent) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Total Users: %d\nTip Spend: %d", len(result.Batch.Entries), result.Total)

	if !result.Report.AllSucceeded() {
		fmt.Fprintf(&sb, "\n\n⚠️ %d of %d updates failed:\n", result.Report.Failed, len(result.Report.Outcomes))
		for _, o := range result.Report.FailedOutcomes() {
			fmt.Fprintf(&sb, "- <@%s>: %s (status %d)\n", o.UserID, o.Message, o.Status)
		}
	}

	sb.WriteString("\n\n**Do you want to broadcast it?**")

	title := "✅ Bulk Tip Success"
	if !result.Report.AllSucceeded() {
		title = "⚠️ Bulk Tip Partially Completed"
	}

	embed := &discordgo.MessageEmbed{Title: title, Description: sb.String()}
	components := []discordgo.MessageComponent{discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{CustomID: idYesBroadcast, Label: "✓", Style: discordgo.SuccessButton},
			discordgo.Button{CustomID: idNoBroadcast, Label: "𐄂", Style: discordgo.DangerButton},
		},
	}}

	return embed, components
}

// Announcement renders the public broadcast of a confirmed batch.
func (p *Presenter) Announcement(username, avatarURL string, batch pendingbatch.Batch) *discordgo.MessageEmbed {
	var sb strings.Builder
	for _, entry := range batch.Entries {
		fmt.Fprintf(&sb, "<@%s> - %d **%s**\n_Note_: %s\n\n", entry.UserID, entry.Amount, p.pointName, entry.Note)
	}

	return &discordgo.MessageEmbed{
		Author:      &discordgo.MessageEmbedAuthor{Name: "@" + username, IconURL: avatarURL},
		Title:       "Transaction: Tip",
		Description: sb.String(),
	}
}

// HistoryCard lists the recent bulk tips, newest first.
func (p *Presenter) HistoryCard(history []models.TipTransaction) *discordgo.MessageEmbed {
	var sb strings.Builder
	for _, tr := range history {
		fmt.Fprintf(&sb,
			"```md\n# Transaction on %s\n> Amount: %d %s\n> Recipients: %d users```\n",
			tr.CreatedAt.Format("2006-01-02 15:04:05"), tr.Amount, p.pointName, tr.RecipientCount,
		)
	}

	return &discordgo.MessageEmbed{
		Color:       0x0099ff,
		Title:       "📋 Transaction History",
		Description: sb.String(),
		Footer:      &discordgo.MessageEmbedFooter{Text: p.botName + " Bulk Tipping"},
	}
}

// ChannelSelect asks where to broadcast.
func (p *Presenter) ChannelSelect(channels []*discordgo.Channel) []discordgo.MessageComponent {
	options := make([]discordgo.SelectMenuOption, 0, len(channels))
	for _, ch := range channels {
		options = append(options, discordgo.SelectMenuOption{
			Label: "#" + ch.Name,
			Value: ch.ID,
		})
	}

	return []discordgo.MessageComponent{discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				CustomID:    idChannelSelect,
				Placeholder: "Select a channel...",
				Options:     options,
			},
		},
	}}
}

// AmountModal is the deposit/withdraw amount prompt. The modal custom ID
// carries the action so the submit handler knows which way to move points.
func (p *Presenter) AmountModal(action string) *discordgo.InteractionResponseData {
	title := "Deposit Tip Balance"
	if action == idWithdraw {
		title = "Withdraw Tip Balance"
	}

	return &discordgo.InteractionResponseData{
		CustomID: action,
		Title:    title,
		Components: []discordgo.MessageComponent{discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID: idAmountInput,
					Label:    "Amount",
					Style:    discordgo.TextInputShort,
					Required: true,
				},
			},
		}},
	}
}

// ErrorCard renders any failure as a user-facing card. Remote ledger
// errors keep their status and message, everything else is shown verbatim.
func (p *Presenter) ErrorCard(title string, err error) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "❌ " + title,
		Description: fmt.Sprintf("```\nError: %v\n```", err),
	}
}

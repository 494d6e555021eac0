package bot

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/daohub-labs/consensusbot/src/bot/components/funding"
	"github.com/daohub-labs/consensusbot/src/bot/components/proposal"
	"github.com/daohub-labs/consensusbot/src/types"
)

const (
	proposeCommand = "!propose"
	tipCommand     = "!tip"
)

var (
	// mentions, amount, description
	financialRe = regexp.MustCompile(`^!\w+\s+((?:<@!?\d+>\s+)+)([\d.]+)\s+([\s\S]+)$`)
	mentionRe   = regexp.MustCompile(`<@!?(\d+)>`)
)

// handleMessage is the thin command front end. Unexpected failures are caught
// at this boundary: the user gets a best-effort apology and the error is
// logged with full context, never swallowed.
func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("CRITICAL: panic handling command, channel=%s message=%s user=%s: %v",
				m.ChannelID, m.ID, m.Author.ID, r)
			b.reply(m, "An unexpected error occurred while handling your command. The operators have been notified.")
		}
	}()

	switch {
	case strings.HasPrefix(m.Content, proposeCommand+" "):
		b.handlePropose(m)
	case m.Content == tipCommand || strings.HasPrefix(m.Content, tipCommand+" "):
		b.handleTip(m)
	}
}

func (b *Bot) handlePropose(m *discordgo.MessageCreate) {
	req := proposal.Request{
		AuthorID:          m.Author.ID,
		ChannelID:         m.ChannelID,
		MessageID:         m.ID,
		ThresholdNegative: b.cfg.DefaultNegativeThreshold,
		ThresholdPositive: b.cfg.DefaultPositiveThreshold,
		Anonymity:         types.AnonymityOpen,
	}

	if match := financialRe.FindStringSubmatch(m.Content); match != nil {
		ids := mentionIDs(match[1])
		amount, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			b.reply(m, "I couldn't parse the amount.")
			return
		}
		nicks := make([]string, len(ids))
		for i, id := range ids {
			nicks[i] = b.chat.Nickname(id)
		}
		req.Description = strings.TrimSpace(match[3])
		req.TotalAmount = amount * float64(len(ids))
		req.Recipients = []proposal.RecipientGroup{{IDs: ids, Nicknames: nicks, Amount: req.TotalAmount}}
	} else {
		req.Description = strings.TrimSpace(strings.TrimPrefix(m.Content, proposeCommand))
	}

	p, err := b.submitter.Submit(req)
	if err != nil {
		b.replySubmitError(m, err)
		return
	}
	log.Printf("Proposal submitted via command: voting_message_id=%s", p.VotingMessageID)
}

func (b *Bot) handleTip(m *discordgo.MessageCreate) {
	if b.gate.InProgress() {
		b.reply(m, "The bot has just restarted and is catching up. Please retry in a minute.")
		return
	}
	if b.cfg.TipsPaused() {
		b.reply(m, "Tips are paused at the moment.")
		return
	}
	if !b.chat.HasRole(m.Author.ID, b.cfg.GovernanceRoleID) {
		b.reply(m, "You don't have permission to use this command.")
		return
	}

	// Bare command: report the remaining balance.
	if strings.TrimSpace(m.Content) == tipCommand {
		bal, err := b.ledger.Balance(m.Author.ID, b.chat.Nickname(m.Author.ID))
		if err != nil {
			log.Printf("Failed to load balance for %s: %v", m.Author.ID, err)
			b.reply(m, "Failed to look up your balance. Please try again.")
			return
		}
		b.reply(m, fmt.Sprintf("Your remaining balance this season is %g.", bal.Balance))
		return
	}

	match := financialRe.FindStringSubmatch(m.Content)
	if match == nil {
		b.reply(m, "Usage: !tip @recipient [...@recipient] amount description")
		return
	}
	ids := mentionIDs(match[1])
	amount, err := strconv.ParseFloat(match[2], 64)
	if err != nil {
		b.reply(m, "I couldn't parse the amount.")
		return
	}
	nicks := make([]string, len(ids))
	for i, id := range ids {
		nicks[i] = b.chat.Nickname(id)
	}

	// Publish the transfer after the debit commits: if the grant message
	// failed we could revert nothing downstream, so the balance goes first.
	txn, err := b.ledger.Debit(m.Author.ID, b.chat.Nickname(m.Author.ID), ids, nicks,
		amount, strings.TrimSpace(match[3]), b.chat.MessageURL(m.ChannelID, m.ID))
	if err != nil {
		var verr *funding.ValidationError
		switch {
		case errors.As(err, &verr):
			b.reply(m, verr.Reason)
		case errors.Is(err, funding.ErrInsufficientBalance):
			b.reply(m, "You don't have enough balance left this season for that tip.")
		default:
			log.Printf("CRITICAL: tip failed for %s: %v", m.Author.ID, err)
			b.reply(m, "Failed to process the tip. Please try again.")
		}
		return
	}

	mentions := make([]string, len(ids))
	for i, id := range ids {
		mentions[i] = "<@" + id + ">"
	}
	grantMsg := fmt.Sprintf("!grant %s %s %s (tip by <@%s>, ref %s)",
		strings.Join(mentions, " "), match[2], txn.Description, m.Author.ID, txn.Ref)
	if _, err := b.chat.SendMessage(b.cfg.GrantChannelID, grantMsg); err != nil {
		log.Printf("CRITICAL: debited tip %s but failed to publish the transfer: %v", txn.Ref, err)
		b.reply(m, "Your balance was debited but publishing the transfer failed. The operators have been notified.")
		if b.cfg.OperatorChannelID != "" {
			_, _ = b.chat.SendMessage(b.cfg.OperatorChannelID,
				fmt.Sprintf("Tip %s was debited but the transfer message failed to publish: %v", txn.Ref, err))
		}
		return
	}
	b.reply(m, "Tip sent! 🎉")
}

func (b *Bot) replySubmitError(m *discordgo.MessageCreate, err error) {
	var verr *proposal.ValidationError
	switch {
	case errors.As(err, &verr):
		b.reply(m, verr.Reason)
	case errors.Is(err, proposal.ErrRecoveryInProgress):
		b.reply(m, "The bot has just restarted and is catching up. Please retry in a minute.")
	case errors.Is(err, proposal.ErrPaused):
		b.reply(m, "New proposals are paused at the moment.")
	default:
		log.Printf("CRITICAL: proposal submission failed, channel=%s message=%s user=%s: %v",
			m.ChannelID, m.ID, m.Author.ID, err)
		b.reply(m, "An unexpected error occurred while adding your proposal. The operators have been notified.")
	}
}

func (b *Bot) reply(m *discordgo.MessageCreate, content string) {
	if _, err := b.chat.SendMessage(m.ChannelID, content); err != nil {
		log.Printf("CRITICAL: unable to reply in channel %s: %v", m.ChannelID, err)
	}
}

func mentionIDs(raw string) []string {
	matches := mentionRe.FindAllStringSubmatch(raw, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

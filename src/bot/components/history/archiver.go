package history

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/discord"
	"github.com/daohub-labs/consensusbot/src/types"
)

// Archiver promotes a resolved proposal into its immutable history record and
// deletes the live rows, in one durable transaction. If anything fails the
// live proposal is kept: a stuck-but-recoverable proposal beats a silently
// lost one.
type Archiver struct {
	db                *gorm.DB
	chat              discord.Service
	votingChannelID   string
	operatorChannelID string
}

func NewArchiver(db *gorm.DB, chat discord.Service, votingChannelID, operatorChannelID string) *Archiver {
	return &Archiver{
		db:                db,
		chat:              chat,
		votingChannelID:   votingChannelID,
		operatorChannelID: operatorChannelID,
	}
}

// Archive writes the history record and removes the live proposal from the
// store. Nicknames are captured now so the record stays meaningful if the
// underlying accounts later change or disappear. The caller removes the
// proposal from the registry only after Archive returns nil.
func (a *Archiver) Archive(p *types.Proposal, outcome types.Outcome) error {
	// Resolve everything that needs chat I/O before opening the transaction.
	authorNickname := a.chat.Nickname(p.AuthorID)
	votingURL := a.chat.MessageURL(a.votingChannelID, p.VotingMessageID)

	voterNicknames := make(map[string]string, len(p.Voters))
	for _, v := range p.Voters {
		if v.Nickname != "" {
			voterNicknames[v.UserID] = v.Nickname
		} else {
			voterNicknames[v.UserID] = a.chat.Nickname(v.UserID)
		}
	}

	nicknameByID := make(map[string]string)
	recipients := make([]types.HistoryRecipient, 0, len(p.FinanceRecipients))
	for _, fr := range p.FinanceRecipients {
		ids := splitList(fr.RecipientIDs)
		nicks := splitList(fr.RecipientNicknames)
		for i, id := range ids {
			if i < len(nicks) && nicks[i] != "" {
				nicknameByID[id] = nicks[i]
			} else {
				nick := a.chat.Nickname(id)
				nicks = append(nicks, nick)
				nicknameByID[id] = nick
			}
		}
		recipients = append(recipients, types.HistoryRecipient{
			RecipientIDs:       fr.RecipientIDs,
			RecipientNicknames: strings.Join(nicks, types.RecipientSeparator),
			Amount:             fr.Amount,
		})
	}

	hist := types.ProposalHistory{
		ProposalID:        p.ID,
		MessageID:         p.MessageID,
		ChannelID:         p.ChannelID,
		AuthorID:          p.AuthorID,
		AuthorNickname:    authorNickname,
		VotingMessageID:   p.VotingMessageID,
		VotingMessageURL:  votingURL,
		Description:       RewriteMentions(p.Description, nicknameByID),
		Financial:         p.Financial,
		TotalAmount:       p.TotalAmount,
		ThresholdNegative: p.ThresholdNegative,
		ThresholdPositive: p.ThresholdPositive,
		Anonymity:         p.Anonymity,
		Outcome:           outcome,
		SubmittedAt:       p.SubmittedAt,
		ClosedAt:          time.Now().UTC(),
	}
	for _, v := range p.Voters {
		hist.Voters = append(hist.Voters, types.HistoryVoter{
			UserID:   v.UserID,
			Nickname: voterNicknames[v.UserID],
			Value:    v.Value,
			VotedAt:  v.CreatedAt,
		})
	}
	hist.Recipients = recipients

	err := a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("create history record: %w", err)
		}
		if err := tx.Where("proposal_id = ?", p.ID).Delete(&types.Voter{}).Error; err != nil {
			return fmt.Errorf("delete live voters: %w", err)
		}
		if err := tx.Where("proposal_id = ?", p.ID).Delete(&types.FinanceRecipient{}).Error; err != nil {
			return fmt.Errorf("delete live recipients: %w", err)
		}
		if err := tx.Delete(&types.Proposal{}, p.ID).Error; err != nil {
			return fmt.Errorf("delete live proposal: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Printf("CRITICAL: archive failed for voting_message_id=%s, live proposal kept: %v", p.VotingMessageID, err)
		a.notifyOperator(fmt.Sprintf("Archival failed for proposal %s (outcome %s); the live proposal was kept. Error: %v",
			votingURL, outcome, err))
		return err
	}

	log.Printf("Archived proposal voting_message_id=%s outcome=%s", p.VotingMessageID, outcome)
	return nil
}

func (a *Archiver) notifyOperator(msg string) {
	if a.operatorChannelID == "" {
		return
	}
	if _, err := a.chat.SendMessage(a.operatorChannelID, msg); err != nil {
		log.Printf("CRITICAL: unable to notify operator channel: %v", err)
	}
}

// RewriteMentions replaces raw <@id> / <@!id> placeholders in text with the
// display nickname, so the archived record no longer depends on the live user
// directory.
func RewriteMentions(text string, nicknames map[string]string) string {
	if len(nicknames) == 0 {
		return text
	}
	pairs := make([]string, 0, len(nicknames)*4)
	for id, nick := range nicknames {
		pairs = append(pairs,
			"<@!"+id+">", "@"+nick,
			"<@"+id+">", "@"+nick,
		)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, types.RecipientSeparator)
}

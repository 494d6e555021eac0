package proposal

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/daohub-labs/consensusbot/src/bot/components/registry"
	"github.com/daohub-labs/consensusbot/src/bot/components/voting"
	"github.com/daohub-labs/consensusbot/src/config"
	"github.com/daohub-labs/consensusbot/src/discord"
	"github.com/daohub-labs/consensusbot/src/metrics"
	"github.com/daohub-labs/consensusbot/src/types"
)

// ErrRecoveryInProgress rejects submissions while the startup reconciliation
// holds the gate.
var ErrRecoveryInProgress = errors.New("recovery in progress, please retry shortly")

// ErrPaused rejects submissions while the stopcock file is present.
var ErrPaused = errors.New("new proposals are currently paused")

// ValidationError is a bad submission: reported to the user, nothing
// recorded.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Gate reports whether startup recovery is still reconciling state.
type Gate interface {
	InProgress() bool
}

// DescriptionValidator is the external validation collaborator.
type DescriptionValidator interface {
	// ValidateDescription returns ok, or the reason the text was rejected.
	ValidateDescription(text string) (bool, string)
}

// RecipientGroup is one set of recipients sharing an amount.
type RecipientGroup struct {
	IDs       []string
	Nicknames []string
	Amount    float64
}

// Request carries everything needed to open a proposal for voting.
type Request struct {
	AuthorID          string
	ChannelID         string
	MessageID         string
	Description       string
	Recipients        []RecipientGroup // empty for grantless proposals
	TotalAmount       float64
	ThresholdNegative int
	ThresholdPositive int // types.ThresholdDisabled when not required
	Anonymity         uint8
}

const newProposalTemplate = "New proposal by %s - closes %s.\n\n%s\n\nObject with %s. %d objection(s) cancel it.%s"
const supportRequiredNote = " At least %d %s reaction(s) are required for it to pass."

// Submitter validates a submission, posts it for voting and schedules its
// close.
type Submitter struct {
	reg       *registry.Registry
	chat      discord.Service
	sched     *voting.Scheduler
	gate      Gate
	validator DescriptionValidator
	cfg       config.Config
}

func NewSubmitter(reg *registry.Registry, chat discord.Service, sched *voting.Scheduler, gate Gate, validator DescriptionValidator, cfg config.Config) *Submitter {
	return &Submitter{reg: reg, chat: chat, sched: sched, gate: gate, validator: validator, cfg: cfg}
}

// Submit runs the full submission path: preconditions, voting post, template
// reactions, store/registry insert, scheduler attach.
func (s *Submitter) Submit(req Request) (*types.Proposal, error) {
	if s.gate.InProgress() {
		return nil, ErrRecoveryInProgress
	}
	if s.cfg.ProposalsPaused() {
		return nil, ErrPaused
	}
	if !s.chat.HasRole(req.AuthorID, s.cfg.GovernanceRoleID) {
		return nil, &ValidationError{Reason: "you don't have permission to submit proposals"}
	}
	if ok, reason := s.validator.ValidateDescription(req.Description); !ok {
		return nil, &ValidationError{Reason: reason}
	}
	if req.ThresholdNegative <= 0 {
		return nil, &ValidationError{Reason: "negative threshold must be positive"}
	}
	if req.ThresholdPositive != types.ThresholdDisabled && req.ThresholdPositive <= 0 {
		return nil, &ValidationError{Reason: "positive threshold must be positive or disabled"}
	}

	financial := len(req.Recipients) > 0
	if financial {
		if req.TotalAmount <= 0 {
			return nil, &ValidationError{Reason: "amount must be positive"}
		}
		var sum float64
		for _, g := range req.Recipients {
			if len(g.IDs) == 0 {
				return nil, &ValidationError{Reason: "recipient group without recipients"}
			}
			if g.Amount <= 0 {
				return nil, &ValidationError{Reason: "recipient amount must be positive"}
			}
			sum += g.Amount
		}
		if math.Abs(sum-req.TotalAmount) > 1e-9 {
			return nil, &ValidationError{Reason: "recipient amounts must sum to the proposal total"}
		}
	}

	now := time.Now().UTC()
	closesAt := now.Add(s.cfg.ProposalWindow)

	supportNote := ""
	if req.ThresholdPositive != types.ThresholdDisabled {
		supportNote = fmt.Sprintf(supportRequiredNote, req.ThresholdPositive, s.cfg.EmojiFor)
	}
	content := fmt.Sprintf(newProposalTemplate,
		"<@"+req.AuthorID+">",
		fmt.Sprintf("<t:%d:R>", closesAt.Unix()),
		req.Description,
		s.cfg.EmojiAgainst,
		req.ThresholdNegative,
		supportNote,
	)

	votingMsg, err := s.chat.SendMessage(s.cfg.VotingChannelID, content)
	if err != nil {
		return nil, fmt.Errorf("post voting message: %w", err)
	}

	// Seed template reactions so members can vote with one click. The bot's
	// own reactions are filtered out of vote handling.
	if err := s.chat.AddReaction(s.cfg.VotingChannelID, votingMsg.ID, s.cfg.EmojiAgainst); err != nil {
		log.Printf("Failed to seed %s reaction on %s: %v", s.cfg.EmojiAgainst, votingMsg.ID, err)
	}
	if req.ThresholdPositive != types.ThresholdDisabled {
		if err := s.chat.AddReaction(s.cfg.VotingChannelID, votingMsg.ID, s.cfg.EmojiFor); err != nil {
			log.Printf("Failed to seed %s reaction on %s: %v", s.cfg.EmojiFor, votingMsg.ID, err)
		}
	}

	// Acknowledge in the submission channel unless the proposal was submitted
	// in the voting channel itself.
	botResponseID := ""
	if req.ChannelID != s.cfg.VotingChannelID {
		votingURL := s.chat.MessageURL(s.cfg.VotingChannelID, votingMsg.ID)
		ack, err := s.chat.SendMessage(req.ChannelID,
			fmt.Sprintf("Got it, <@%s>! Your proposal is up for voting here: %s", req.AuthorID, votingURL))
		if err != nil {
			log.Printf("Failed to acknowledge proposal in channel %s: %v", req.ChannelID, err)
		} else {
			botResponseID = ack.ID
		}
	}

	p := &types.Proposal{
		MessageID:            req.MessageID,
		ChannelID:            req.ChannelID,
		AuthorID:             req.AuthorID,
		VotingMessageID:      votingMsg.ID,
		BotResponseMessageID: botResponseID,
		Description:          req.Description,
		Financial:            financial,
		TotalAmount:          req.TotalAmount,
		ThresholdNegative:    req.ThresholdNegative,
		ThresholdPositive:    req.ThresholdPositive,
		Anonymity:            req.Anonymity,
		SubmittedAt:          now,
		ClosesAt:             closesAt,
	}
	for _, g := range req.Recipients {
		p.FinanceRecipients = append(p.FinanceRecipients, types.FinanceRecipient{
			RecipientIDs:       strings.Join(g.IDs, types.RecipientSeparator),
			RecipientNicknames: strings.Join(g.Nicknames, types.RecipientSeparator),
			Amount:             g.Amount,
		})
	}

	if err := s.reg.Insert(p); err != nil {
		return nil, err
	}
	s.sched.Watch(p.VotingMessageID)
	metrics.ProposalsSubmitted.Inc()
	log.Printf("Submitted proposal voting_message_id=%s author=%s financial=%v closes_at=%s",
		p.VotingMessageID, p.AuthorID, financial, closesAt.Format(time.RFC3339))
	return p, nil
}

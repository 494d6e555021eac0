package voting

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daohub-labs/consensusbot/src/bot/components/history"
	"github.com/daohub-labs/consensusbot/src/bot/components/registry"
	"github.com/daohub-labs/consensusbot/src/config"
	"github.com/daohub-labs/consensusbot/src/data"
	"github.com/daohub-labs/consensusbot/src/discord"
	"github.com/daohub-labs/consensusbot/src/metrics"
	"github.com/daohub-labs/consensusbot/src/types"
)

// TransferError marks a failed fund-transfer publish. The resolver aborts on
// it before archival so the transfer is never silently half-applied and never
// retried automatically.
type TransferError struct {
	VotingMessageID string
	Err             error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("fund transfer failed for proposal %s: %v", e.VotingMessageID, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Resolver applies a proposal's terminal outcome exactly once. The timer path
// (scheduler) and the vote path (handler) both funnel into it; the resolution
// lock plus the registry re-check linearize them.
type Resolver struct {
	reg      *registry.Registry
	chat     discord.Service
	archiver *history.Archiver
	rdb      *redis.Client
	cfg      config.Config

	mu sync.Mutex
}

func NewResolver(reg *registry.Registry, chat discord.Service, archiver *history.Archiver, rdb *redis.Client, cfg config.Config) *Resolver {
	return &Resolver{reg: reg, chat: chat, archiver: archiver, rdb: rdb, cfg: cfg}
}

// Resolve acquires the resolution lock and applies the outcome. If another
// caller resolved the proposal first, it returns without side effects.
func (r *Resolver) Resolve(votingMessageID string, outcome types.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(votingMessageID, outcome)
}

// lock exposes the resolution lock to the vote handler, which must serialize
// its own store mutations against resolution.
func (r *Resolver) lock()   { r.mu.Lock() }
func (r *Resolver) unlock() { r.mu.Unlock() }

// resolveLocked requires the resolution lock to be held.
func (r *Resolver) resolveLocked(votingMessageID string, outcome types.Outcome) error {
	if !r.reg.IsActive(votingMessageID) {
		log.Printf("Proposal %s no longer active, skipping outcome %s", votingMessageID, outcome)
		return nil
	}
	p := r.reg.Lookup(votingMessageID)

	var err error
	if outcome == types.OutcomeAccepted {
		err = r.accept(p)
	} else {
		err = r.cancel(p, outcome)
	}
	if err != nil {
		return err
	}

	// Archival must succeed before the live proposal disappears; a failure
	// leaves the proposal stuck but recoverable.
	if err := r.archiver.Archive(p, outcome); err != nil {
		return err
	}
	r.reg.Remove(votingMessageID)

	metrics.ProposalsResolved.WithLabelValues(outcome.String()).Inc()
	r.publish(p, outcome)
	log.Printf("Resolved proposal voting_message_id=%s outcome=%s voters=%d", votingMessageID, outcome, len(p.Voters))
	return nil
}

func (r *Resolver) accept(p *types.Proposal) error {
	votingURL := r.chat.MessageURL(r.cfg.VotingChannelID, p.VotingMessageID)

	// Apply the grant first: if it cannot be published, nothing else may
	// happen - a transfer must not be attempted twice.
	if p.Financial {
		for _, recipient := range p.FinanceRecipients {
			ids := strings.Split(recipient.RecipientIDs, types.RecipientSeparator)
			mentions := make([]string, 0, len(ids))
			for _, id := range ids {
				mentions = append(mentions, mention(id))
			}
			grantMsg := fmt.Sprintf(msgGrantCommand,
				strings.Join(mentions, " "),
				amountToPrint(recipient.Amount),
				mention(p.AuthorID),
				votingURL,
			)
			if _, err := r.chat.SendMessage(r.cfg.GrantChannelID, grantMsg); err != nil {
				log.Printf("CRITICAL: failed to publish grant for voting_message_id=%s: %v", p.VotingMessageID, err)
				r.notifyOperator(fmt.Sprintf("Failed to apply the grant for accepted proposal %s; resolution aborted, proposal kept live. Error: %v", votingURL, err))
				return &TransferError{VotingMessageID: p.VotingMessageID, Err: err}
			}
		}
	}

	supporters := r.reg.VotersWithValue(p, types.VoteFor)
	supportedBy := ""
	if len(supporters) > 0 {
		supportedBy = fmt.Sprintf(msgSupportedBy, mentionList(supporters))
	}
	originalURL := r.chat.MessageURL(p.ChannelID, p.MessageID)

	var edit string
	if p.Financial {
		edit = fmt.Sprintf(msgAcceptedFinancial, amountToPrint(p.TotalAmount), mention(p.AuthorID), p.Description, supportedBy, originalURL)
	} else {
		edit = fmt.Sprintf(msgAcceptedGrantless, mention(p.AuthorID), p.Description, supportedBy, originalURL)
	}
	if err := r.chat.EditMessage(r.cfg.VotingChannelID, p.VotingMessageID, edit); err != nil {
		log.Printf("CRITICAL: failed to edit voting message %s: %v", p.VotingMessageID, err)
		r.notifyOperator(fmt.Sprintf("Failed to publish the result of accepted proposal %s: %v", votingURL, err))
	}

	r.react(p.ChannelID, p.MessageID, reactionAccepted)
	r.react(r.cfg.VotingChannelID, p.VotingMessageID, reactionAccepted)
	r.react(r.cfg.VotingChannelID, p.VotingMessageID, reactionHooray)

	// Reply to the proposer unless the proposal was submitted in the voting
	// channel itself (avoids flooding it).
	if p.ChannelID != r.cfg.VotingChannelID {
		reply := fmt.Sprintf(msgGrantlessReplyAccepted, mention(p.AuthorID))
		if p.Financial {
			reply = fmt.Sprintf(msgProposerReplyAccepted, mention(p.AuthorID))
		}
		if _, err := r.chat.SendMessage(p.ChannelID, reply); err != nil {
			log.Printf("Failed to reply to proposer for %s: %v", p.VotingMessageID, err)
		}
	}

	r.clearVoteReactions(p)
	return nil
}

func (r *Resolver) cancel(p *types.Proposal, outcome types.Outcome) error {
	votingURL := r.chat.MessageURL(r.cfg.VotingChannelID, p.VotingMessageID)
	originalURL := r.chat.MessageURL(p.ChannelID, p.MessageID)
	objectors := r.reg.VotersWithValue(p, types.VoteAgainst)
	supporters := r.reg.VotersWithValue(p, types.VoteFor)

	var edit, reply string
	switch outcome {
	case types.OutcomeCancelledByProposer:
		edit = fmt.Sprintf(msgProposerCancelled, mention(p.AuthorID), originalURL)
		reply = fmt.Sprintf(msgProposerReplyWithdrawn, mention(p.AuthorID))
	case types.OutcomeCancelledByNegativeThreshold:
		edit = fmt.Sprintf(msgThresholdCancelled, p.ThresholdNegative, mentionList(objectors), originalURL)
		reply = fmt.Sprintf(msgProposerReplyThreshold, mention(p.AuthorID), p.ThresholdNegative, votingURL)
	case types.OutcomeCancelledByInsufficientSupport:
		supportersList := ""
		if len(supporters) > 0 {
			supportersList = " (" + mentionList(supporters) + ")"
		}
		edit = fmt.Sprintf(msgNoSupportCancelled, len(supporters), supportersList, p.ThresholdPositive, originalURL)
		reply = fmt.Sprintf(msgProposerReplyNoSupport, mention(p.AuthorID))
	default:
		return fmt.Errorf("unsupported cancellation outcome %v", outcome)
	}

	if err := r.chat.EditMessage(r.cfg.VotingChannelID, p.VotingMessageID, edit); err != nil {
		log.Printf("CRITICAL: failed to edit voting message %s: %v", p.VotingMessageID, err)
		r.notifyOperator(fmt.Sprintf("Failed to publish the result of cancelled proposal %s: %v", votingURL, err))
	}
	r.react(p.ChannelID, p.MessageID, reactionCancelled)
	if p.ChannelID != r.cfg.VotingChannelID {
		if _, err := r.chat.SendMessage(p.ChannelID, reply); err != nil {
			log.Printf("Failed to reply to proposer for %s: %v", p.VotingMessageID, err)
		}
	}

	r.clearVoteReactions(p)
	return nil
}

func (r *Resolver) react(channelID, messageID, emoji string) {
	if err := r.chat.AddReaction(channelID, messageID, emoji); err != nil {
		log.Printf("Failed to add %s reaction to %s: %v", emoji, messageID, err)
	}
}

// clearVoteReactions removes the voting emojis to keep the channel clean.
func (r *Resolver) clearVoteReactions(p *types.Proposal) {
	for _, emoji := range []string{r.cfg.EmojiAgainst, r.cfg.EmojiFor} {
		if err := r.chat.RemoveAllReactions(r.cfg.VotingChannelID, p.VotingMessageID, emoji); err != nil {
			log.Printf("Failed to clear %s reactions on %s: %v", emoji, p.VotingMessageID, err)
		}
	}
}

func (r *Resolver) publish(p *types.Proposal, outcome types.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := data.PublishResolution(ctx, r.rdb, map[string]interface{}{
		"voting_message_id": p.VotingMessageID,
		"author_id":         p.AuthorID,
		"outcome":           outcome.String(),
		"financial":         p.Financial,
		"total_amount":      p.TotalAmount,
		"closed_at":         time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("Failed to publish resolution event for %s: %v", p.VotingMessageID, err)
	}
}

func (r *Resolver) notifyOperator(msg string) {
	if r.cfg.OperatorChannelID == "" {
		return
	}
	if _, err := r.chat.SendMessage(r.cfg.OperatorChannelID, msg); err != nil {
		log.Printf("CRITICAL: unable to notify operator channel: %v", err)
	}
}

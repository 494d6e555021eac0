package voting

import (
	"fmt"
	"log"

	"github.com/daohub-labs/consensusbot/src/bot/components/registry"
	"github.com/daohub-labs/consensusbot/src/config"
	"github.com/daohub-labs/consensusbot/src/discord"
	"github.com/daohub-labs/consensusbot/src/metrics"
	"github.com/daohub-labs/consensusbot/src/types"
)

// Gate reports whether startup recovery is still reconciling state. While it
// is, vote events are rejected rather than queued.
type Gate interface {
	InProgress() bool
}

// Event is a normalized reaction event on a message.
type Event struct {
	UserID    string
	ChannelID string
	MessageID string
	Emoji     string
}

// Handler validates and applies individual vote-add / vote-remove events.
type Handler struct {
	reg  *registry.Registry
	res  *Resolver
	chat discord.Service
	gate Gate
	cfg  config.Config
}

func NewHandler(reg *registry.Registry, res *Resolver, chat discord.Service, gate Gate, cfg config.Config) *Handler {
	return &Handler{reg: reg, res: res, chat: chat, gate: gate, cfg: cfg}
}

func (h *Handler) voteFromEmoji(emoji string) (types.Vote, bool) {
	switch emoji {
	case h.cfg.EmojiFor:
		return types.VoteFor, true
	case h.cfg.EmojiAgainst:
		return types.VoteAgainst, true
	}
	return 0, false
}

// validAdd runs the preconditions shared by add events and reports whether
// processing should continue.
func (h *Handler) validAdd(ev Event) bool {
	if ev.UserID == h.chat.BotUserID() {
		// The bot seeds each voting post with template reactions.
		return false
	}
	if !h.chat.HasRole(ev.UserID, h.cfg.GovernanceRoleID) {
		return false
	}

	// Reacting to the proposer's message or the bot's acknowledgement instead
	// of the voting post: retract and redirect privately. No vote recorded.
	if p := h.reg.LookupByOrigin(ev.MessageID); p != nil {
		if err := h.chat.RemoveReaction(ev.ChannelID, ev.MessageID, ev.Emoji, ev.UserID); err != nil {
			log.Printf("Failed to retract stray reaction on %s: %v", ev.MessageID, err)
		}
		votingURL := h.chat.MessageURL(h.cfg.VotingChannelID, p.VotingMessageID)
		h.dm(ev.UserID, fmt.Sprintf(msgVotedIncorrectly, votingURL))
		return false
	}

	if ev.ChannelID != h.cfg.VotingChannelID {
		return false
	}
	if !h.reg.IsActive(ev.MessageID) {
		return false
	}
	return true
}

// HandleAdd processes a reaction-add event.
func (h *Handler) HandleAdd(ev Event) {
	value, ok := h.voteFromEmoji(ev.Emoji)
	if !ok {
		return
	}
	if !h.validAdd(ev) {
		return
	}

	if h.gate.InProgress() {
		h.retract(ev, msgRecoveryInPause)
		log.Printf("Rejecting vote from %s: recovery in progress", ev.UserID)
		return
	}

	h.res.lock()
	defer h.res.unlock()

	// Re-check: the proposal may have resolved while waiting for the lock.
	if !h.reg.IsActive(ev.MessageID) {
		log.Printf("Proposal %s became inactive while waiting for the lock", ev.MessageID)
		return
	}
	p := h.reg.Lookup(ev.MessageID)
	votingURL := h.chat.MessageURL(h.cfg.VotingChannelID, p.VotingMessageID)

	if prior := h.reg.FindVoter(p, ev.UserID); prior != nil {
		if prior.Value == value {
			// Duplicate vote (possible with anonymous voting): idempotent no-op.
			h.retract(ev, fmt.Sprintf(msgAlreadyVoted, ev.Emoji, votingURL))
			log.Printf("User %s already voted %s on %s", ev.UserID, value, ev.MessageID)
			return
		}
		// Vote flip: drop the previous vote, then record the new one.
		if p.Anonymity == types.AnonymityOpen {
			priorEmoji := h.cfg.EmojiAgainst
			if prior.Value == types.VoteFor {
				priorEmoji = h.cfg.EmojiFor
			}
			if err := h.chat.RemoveReaction(ev.ChannelID, ev.MessageID, priorEmoji, ev.UserID); err != nil {
				log.Printf("Failed to retract prior reaction of %s on %s: %v", ev.UserID, ev.MessageID, err)
			}
		}
		if err := h.reg.RemoveVoter(p, ev.UserID); err != nil {
			log.Printf("Failed to remove prior vote of %s on %s: %v", ev.UserID, ev.MessageID, err)
			return
		}
	}

	// Authors cannot support their own proposal.
	if value == types.VoteFor && ev.UserID == p.AuthorID {
		h.retract(ev, msgAuthorSelfVote)
		log.Printf("Author %s attempted to upvote own proposal %s", ev.UserID, ev.MessageID)
		return
	}

	voter := &types.Voter{
		UserID:   ev.UserID,
		Nickname: h.chat.Nickname(ev.UserID),
		Value:    value,
	}
	if err := h.reg.AddVoter(p, voter); err != nil {
		log.Printf("Failed to record vote of %s on %s: %v", ev.UserID, ev.MessageID, err)
		return
	}
	metrics.VotesProcessed.WithLabelValues(value.String(), "add").Inc()
	log.Printf("Recorded %s vote of %s on %s, %d voters total", value, ev.UserID, ev.MessageID, len(p.Voters))

	// Anonymous voting: retract the reaction so public tallies stay hidden
	// until resolution. The resulting remove event is ignored (HandleRemove).
	if p.Anonymity == types.AnonymityRevealAtClose {
		if err := h.chat.RemoveReaction(ev.ChannelID, ev.MessageID, ev.Emoji, ev.UserID); err != nil {
			log.Printf("Failed to retract anonymous reaction of %s on %s: %v", ev.UserID, ev.MessageID, err)
		}
	}

	if value == types.VoteFor {
		h.dm(ev.UserID, fmt.Sprintf(msgVotedFor, mention(p.AuthorID), countdown(p.ClosesAt), votingURL))
		return
	}

	// The author withdrawing their own proposal is immediate and unconditional.
	if ev.UserID == p.AuthorID {
		if err := h.res.resolveLocked(ev.MessageID, types.OutcomeCancelledByProposer); err != nil {
			log.Printf("Failed to cancel proposal %s by proposer: %v", ev.MessageID, err)
		}
		return
	}

	if len(h.reg.VotersWithValue(p, types.VoteAgainst)) >= p.ThresholdNegative {
		if err := h.res.resolveLocked(ev.MessageID, types.OutcomeCancelledByNegativeThreshold); err != nil {
			log.Printf("Failed to cancel proposal %s by threshold: %v", ev.MessageID, err)
		}
		return
	}

	h.dm(ev.UserID, fmt.Sprintf(msgVotedAgainst, mention(p.AuthorID), countdown(p.ClosesAt), votingURL))
}

// HandleRemove processes a reaction-remove event.
func (h *Handler) HandleRemove(ev Event) {
	if _, ok := h.voteFromEmoji(ev.Emoji); !ok {
		return
	}
	if ev.UserID == h.chat.BotUserID() {
		return
	}
	if ev.ChannelID != h.cfg.VotingChannelID || !h.reg.IsActive(ev.MessageID) {
		return
	}

	h.res.lock()
	defer h.res.unlock()

	if !h.reg.IsActive(ev.MessageID) {
		return
	}
	p := h.reg.Lookup(ev.MessageID)

	// In anonymous mode every recorded vote is followed by a programmatic
	// retraction; those remove events are artifacts, not withdrawals.
	if p.Anonymity == types.AnonymityRevealAtClose {
		return
	}

	voter := h.reg.FindVoter(p, ev.UserID)
	if voter == nil {
		log.Printf("Reaction removed by %s on %s but no matching vote stored", ev.UserID, ev.MessageID)
		return
	}
	value := voter.Value
	if err := h.reg.RemoveVoter(p, ev.UserID); err != nil {
		log.Printf("Failed to remove vote of %s on %s: %v", ev.UserID, ev.MessageID, err)
		return
	}
	metrics.VotesProcessed.WithLabelValues(value.String(), "remove").Inc()
	log.Printf("Removed %s vote of %s on %s", value, ev.UserID, ev.MessageID)
}

// retract removes the user's reaction and explains why in a DM.
func (h *Handler) retract(ev Event, reason string) {
	if err := h.chat.RemoveReaction(ev.ChannelID, ev.MessageID, ev.Emoji, ev.UserID); err != nil {
		log.Printf("Failed to retract reaction of %s on %s: %v", ev.UserID, ev.MessageID, err)
	}
	h.dm(ev.UserID, reason)
}

func (h *Handler) dm(userID, content string) {
	if err := h.chat.SendDM(userID, content); err != nil {
		log.Printf("Failed to DM %s: %v", userID, err)
	}
}

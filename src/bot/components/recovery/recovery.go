package recovery

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/daohub-labs/consensusbot/src/bot/components/registry"
	"github.com/daohub-labs/consensusbot/src/bot/components/voting"
	"github.com/daohub-labs/consensusbot/src/config"
	"github.com/daohub-labs/consensusbot/src/discord"
	"github.com/daohub-labs/consensusbot/src/metrics"
	"github.com/daohub-labs/consensusbot/src/types"
)

// Gate is the coarse startup lock: while held, new proposals and votes are
// rejected with a retry-shortly response rather than queued. Ordinary
// operation only ever performs the non-blocking InProgress check.
type Gate struct {
	held atomic.Bool
}

func (g *Gate) InProgress() bool { return g.held.Load() }

func (g *Gate) enter() { g.held.Store(true) }
func (g *Gate) leave() { g.held.Store(false) }

// Reconciler resynchronizes the registry and store with the authoritative
// reaction state on the voting posts. It runs exactly once per process start,
// before normal traffic resumes.
type Reconciler struct {
	reg   *registry.Registry
	chat  discord.Service
	res   *voting.Resolver
	sched *voting.Scheduler
	gate  *Gate
	cfg   config.Config
}

func NewReconciler(reg *registry.Registry, chat discord.Service, res *voting.Resolver, sched *voting.Scheduler, gate *Gate, cfg config.Config) *Reconciler {
	return &Reconciler{reg: reg, chat: chat, res: res, sched: sched, gate: gate, cfg: cfg}
}

// Run reconciles every proposal loaded at boot, then reattaches the scheduler
// to the survivors. A failure on one proposal is isolated: it is logged and
// skipped, and never blocks the rest or the release of the gate.
func (r *Reconciler) Run(ctx context.Context) {
	r.gate.enter()
	defer r.gate.leave()

	active := r.reg.Active()
	if len(active) == 0 {
		log.Println("Recovery: no pending proposals, nothing to reconcile")
		return
	}
	log.Printf("Recovery: reconciling %d pending proposals", len(active))

	for _, p := range active {
		if ctx.Err() != nil {
			log.Println("Recovery interrupted by shutdown")
			return
		}
		if err := r.reconcile(p); err != nil {
			metrics.RecoveryFailures.Inc()
			log.Printf("Recovery failed for voting_message_id=%s, skipping: %v", p.VotingMessageID, err)
			continue
		}
		metrics.RecoverySynced.Inc()
		if r.reg.IsActive(p.VotingMessageID) {
			r.sched.Watch(p.VotingMessageID)
			log.Printf("Recovery: reattached approval task for voting_message_id=%s", p.VotingMessageID)
		}
	}

	log.Println("Recovery has finished")
}

// reconcile brings one proposal's voter set in line with the reactions
// currently on its voting post. Objections are synced before support: if a
// user somehow voted both ways during the downtime, the objection wins.
func (r *Reconciler) reconcile(p *types.Proposal) error {
	if err := r.syncVoters(p, types.VoteAgainst, r.cfg.EmojiAgainst); err != nil {
		return err
	}
	if !r.reg.IsActive(p.VotingMessageID) {
		// Cancelled by the proposer's own objection found during sync.
		return nil
	}

	if p.ThresholdPositive != types.ThresholdDisabled {
		if err := r.syncVoters(p, types.VoteFor, r.cfg.EmojiFor); err != nil {
			return err
		}
	}
	if !r.reg.IsActive(p.VotingMessageID) {
		return nil
	}

	if len(r.reg.VotersWithValue(p, types.VoteAgainst)) >= p.ThresholdNegative {
		log.Printf("Recovery: negative threshold reached for voting_message_id=%s, cancelling", p.VotingMessageID)
		return r.res.Resolve(p.VotingMessageID, types.OutcomeCancelledByNegativeThreshold)
	}
	return nil
}

// syncVoters makes the stored voters with the given value match the present,
// authorized reactions: stale or unauthorized voters are removed, untracked
// reactions are added. The author's own objection cancels immediately; the
// author's own support is never counted.
func (r *Reconciler) syncVoters(p *types.Proposal, value types.Vote, emoji string) error {
	reactors, err := r.chat.ReactionUsers(r.cfg.VotingChannelID, p.VotingMessageID, emoji)
	if err != nil {
		return fmt.Errorf("enumerate %s reactions: %w", emoji, err)
	}

	present := make(map[string]bool, len(reactors))
	for _, u := range reactors {
		if u.ID == r.chat.BotUserID() {
			continue
		}
		present[u.ID] = true
	}

	// Remove voters whose reaction disappeared or whose authorization was
	// revoked while the bot was down.
	for _, voter := range r.reg.VotersWithValue(p, value) {
		if present[voter.UserID] && r.chat.HasRole(voter.UserID, r.cfg.GovernanceRoleID) {
			continue
		}
		log.Printf("Recovery: removing voter %s from voting_message_id=%s", voter.UserID, p.VotingMessageID)
		if err := r.reg.RemoveVoter(p, voter.UserID); err != nil {
			return err
		}
	}

	// Add authorized reactors that are not yet stored.
	for _, u := range reactors {
		if u.ID == r.chat.BotUserID() || !r.chat.HasRole(u.ID, r.cfg.GovernanceRoleID) {
			continue
		}
		if value == types.VoteAgainst && u.ID == p.AuthorID {
			log.Printf("Recovery: proposer objection found on voting_message_id=%s, cancelling", p.VotingMessageID)
			return r.res.Resolve(p.VotingMessageID, types.OutcomeCancelledByProposer)
		}
		if value == types.VoteFor && u.ID == p.AuthorID {
			continue
		}
		if r.reg.FindVoter(p, u.ID) != nil {
			continue
		}
		log.Printf("Recovery: adding voter %s to voting_message_id=%s", u.ID, p.VotingMessageID)
		err := r.reg.AddVoter(p, &types.Voter{
			UserID:   u.ID,
			Nickname: r.chat.Nickname(u.ID),
			Value:    value,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

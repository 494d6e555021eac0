package registry

import (
	"fmt"
	"log"
	"sync"

	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/types"
)

// Registry is the process-local index of active proposals, keyed by the public
// voting message id. It mirrors the durable store 1:1: every mutation goes to
// the database first, then to the map. Once a proposal is removed, any task
// observing IsActive == false must stop without side effects.
type Registry struct {
	db *gorm.DB

	mu        sync.RWMutex
	proposals map[string]*types.Proposal
}

// Load rebuilds the registry from the store: all non-resolved proposals with
// their voters and finance recipients. This is the startup path the recovery
// reconciler operates on.
func Load(db *gorm.DB) (*Registry, error) {
	var proposals []*types.Proposal
	if err := db.Preload("Voters").Preload("FinanceRecipients").Find(&proposals).Error; err != nil {
		return nil, fmt.Errorf("load proposals: %w", err)
	}

	r := &Registry{
		db:        db,
		proposals: make(map[string]*types.Proposal, len(proposals)),
	}
	for _, p := range proposals {
		r.proposals[p.VotingMessageID] = p
	}
	if len(proposals) > 0 {
		log.Printf("Registry loaded %d pending proposals from store", len(proposals))
	}
	return r, nil
}

// Insert persists a new proposal and indexes it.
func (r *Registry) Insert(p *types.Proposal) error {
	if err := r.db.Create(p).Error; err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	r.mu.Lock()
	r.proposals[p.VotingMessageID] = p
	r.mu.Unlock()
	return nil
}

// Lookup returns the active proposal for a voting message id, or nil.
func (r *Registry) Lookup(votingMessageID string) *types.Proposal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.proposals[votingMessageID]
}

// IsActive is the cooperative-cancellation signal consumed by the scheduler
// and long-running reconciliation loops.
func (r *Registry) IsActive(votingMessageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.proposals[votingMessageID]
	return ok
}

// LookupByOrigin finds a proposal by the original proposer message or the
// bot's acknowledgement message. Used to redirect members who reacted to the
// wrong post.
func (r *Registry) LookupByOrigin(messageID string) *types.Proposal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.proposals {
		if p.MessageID == messageID || (p.BotResponseMessageID != "" && p.BotResponseMessageID == messageID) {
			return p
		}
	}
	return nil
}

// Remove drops the proposal from the index. The durable rows are deleted by
// the archiver; Remove is only called after that commit (or before any
// externally visible resolution side effect).
func (r *Registry) Remove(votingMessageID string) {
	r.mu.Lock()
	delete(r.proposals, votingMessageID)
	r.mu.Unlock()
}

// Active returns a snapshot of all active proposals.
func (r *Registry) Active() []*types.Proposal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Proposal, 0, len(r.proposals))
	for _, p := range r.proposals {
		out = append(out, p)
	}
	return out
}

// Count reports the number of active proposals.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.proposals)
}

// FindVoter returns the user's live vote on the proposal, or nil. A user holds
// at most one live vote per proposal.
func (r *Registry) FindVoter(p *types.Proposal, userID string) *types.Voter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range p.Voters {
		if p.Voters[i].UserID == userID {
			return &p.Voters[i]
		}
	}
	return nil
}

// VotersWithValue returns the live votes holding the given value.
func (r *Registry) VotersWithValue(p *types.Proposal, v types.Vote) []types.Voter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Voter
	for _, voter := range p.Voters {
		if voter.Value == v {
			out = append(out, voter)
		}
	}
	return out
}

// AddVoter persists the vote and attaches it to the proposal.
func (r *Registry) AddVoter(p *types.Proposal, v *types.Voter) error {
	v.ProposalID = p.ID
	if err := r.db.Create(v).Error; err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	r.mu.Lock()
	p.Voters = append(p.Voters, *v)
	r.mu.Unlock()
	return nil
}

// RemoveVoter deletes the vote from the store and the proposal.
func (r *Registry) RemoveVoter(p *types.Proposal, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range p.Voters {
		if p.Voters[i].UserID != userID {
			continue
		}
		if err := r.db.Delete(&types.Voter{}, p.Voters[i].ID).Error; err != nil {
			return fmt.Errorf("remove voter: %w", err)
		}
		p.Voters = append(p.Voters[:i], p.Voters[i+1:]...)
		return nil
	}
	return nil
}

package voting

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/daohub-labs/consensusbot/src/bot/components/registry"
	"github.com/daohub-labs/consensusbot/src/types"
)

// Scheduler runs one lightweight task per active proposal. Each task sleeps in
// small increments rather than one long sleep: on every wake it re-checks the
// registry, so a proposal resolved by a vote-triggered path makes the task
// exit silently without side effects.
type Scheduler struct {
	reg  *registry.Registry
	res  *Resolver
	tick time.Duration

	ctx context.Context
	wg  sync.WaitGroup
}

func NewScheduler(ctx context.Context, reg *registry.Registry, res *Resolver, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Scheduler{ctx: ctx, reg: reg, res: res, tick: tick}
}

// Watch starts the approval task for a proposal. Called at submission and at
// post-recovery reattachment.
func (s *Scheduler) Watch(votingMessageID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(votingMessageID)
	}()
}

// Wait blocks until all proposal tasks have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(votingMessageID string) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		// Removal from the registry is the only cancellation signal.
		if !s.reg.IsActive(votingMessageID) {
			return
		}
		p := s.reg.Lookup(votingMessageID)
		if p == nil {
			return
		}
		if time.Now().Before(p.ClosesAt) {
			continue
		}

		s.close(p)
		return
	}
}

// close applies the scheduled-close decision: insufficient support when a
// positive threshold is enabled and unmet, accepted otherwise. Insufficient
// support is only ever produced here, never from a live vote event.
func (s *Scheduler) close(p *types.Proposal) {
	outcome := types.OutcomeAccepted
	if p.ThresholdPositive != types.ThresholdDisabled &&
		len(s.reg.VotersWithValue(p, types.VoteFor)) < p.ThresholdPositive {
		outcome = types.OutcomeCancelledByInsufficientSupport
	}
	if err := s.res.Resolve(p.VotingMessageID, outcome); err != nil {
		log.Printf("Failed to resolve proposal %s at close time: %v", p.VotingMessageID, err)
	}
}

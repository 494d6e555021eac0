package voting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daohub-labs/consensusbot/src/types"
)

func TestHandleAddRecordsObjectionBelowThreshold(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{ThresholdNegative: 2}, "alice")

	env.handler.HandleAdd(env.addEvent("alice", p.VotingMessageID, "❌"))

	require.True(t, env.reg.IsActive(p.VotingMessageID))
	voter := env.reg.FindVoter(p, "alice")
	require.NotNil(t, voter)
	assert.Equal(t, types.VoteAgainst, voter.Value)
	assert.NotEmpty(t, env.chat.DMs["alice"], "objector should get a confirmation DM")
}

func TestHandleAddCancelsAtNegativeThreshold(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{ThresholdNegative: 2}, "alice", "bob")

	env.handler.HandleAdd(env.addEvent("alice", p.VotingMessageID, "❌"))
	require.True(t, env.reg.IsActive(p.VotingMessageID))

	env.handler.HandleAdd(env.addEvent("bob", p.VotingMessageID, "❌"))

	assert.False(t, env.reg.IsActive(p.VotingMessageID))
	records := env.historyRecords(t)
	require.Len(t, records, 1)
	assert.Equal(t, types.OutcomeCancelledByNegativeThreshold, records[0].Outcome)
	assert.Len(t, records[0].Voters, 2)
	assert.Contains(t, env.chat.Edits[p.VotingMessageID], "cancelled")
}

func TestHandleAddOneBelowThresholdStaysOpen(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{ThresholdNegative: 3}, "alice", "bob")

	env.handler.HandleAdd(env.addEvent("alice", p.VotingMessageID, "❌"))
	env.handler.HandleAdd(env.addEvent("bob", p.VotingMessageID, "❌"))

	assert.True(t, env.reg.IsActive(p.VotingMessageID))
	assert.Empty(t, env.historyRecords(t))
}

func TestHandleAddDuplicateVoteIsIdempotent(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{ThresholdNegative: 2}, "alice")

	env.handler.HandleAdd(env.addEvent("alice", p.VotingMessageID, "❌"))
	env.handler.HandleAdd(env.addEvent("alice", p.VotingMessageID, "❌"))

	require.True(t, env.reg.IsActive(p.VotingMessageID))
	assert.Len(t, env.reg.VotersWithValue(p, types.VoteAgainst), 1)
	// The duplicate reaction is retracted and explained privately.
	assert.NotEmpty(t, env.chat.RemovedReactions)
	assert.GreaterOrEqual(t, len(env.chat.DMs["alice"]), 2)
}

func TestHandleAddFlipReplacesPriorVote(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{ThresholdNegative: 2, ThresholdPositive: 3}, "alice")

	env.handler.HandleAdd(env.addEvent("alice", p.VotingMessageID, "❌"))
	env.handler.HandleAdd(env.addEvent("alice", p.VotingMessageID, "✅"))

	voter := env.reg.FindVoter(p, "alice")
	require.NotNil(t, voter)
	assert.Equal(t, types.VoteFor, voter.Value)
	assert.Empty(t, env.reg.VotersWithValue(p, types.VoteAgainst))
	// The stale objection reaction is removed from the voting post.
	assert.Contains(t, env.chat.RemovedReactions, "voting/"+p.VotingMessageID+"/❌/alice")
}

func TestHandleAddAuthorCannotSupportOwnProposal(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{AuthorID: "author"})

	env.handler.HandleAdd(env.addEvent("author", p.VotingMessageID, "✅"))

	assert.Nil(t, env.reg.FindVoter(p, "author"))
	assert.Contains(t, env.chat.RemovedReactions, "voting/"+p.VotingMessageID+"/✅/author")
	assert.NotEmpty(t, env.chat.DMs["author"])
	assert.True(t, env.reg.IsActive(p.VotingMessageID))
}

func TestHandleAddAuthorObjectionCancelsImmediately(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{AuthorID: "author", ThresholdNegative: 5})

	env.handler.HandleAdd(env.addEvent("author", p.VotingMessageID, "❌"))

	assert.False(t, env.reg.IsActive(p.VotingMessageID))
	records := env.historyRecords(t)
	require.Len(t, records, 1)
	assert.Equal(t, types.OutcomeCancelledByProposer, records[0].Outcome)
}

func TestHandleAddWrongPostRedirectsPrivately(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{MessageID: "orig1", ChannelID: "general", BotResponseMessageID: "ack1"}, "alice")

	env.handler.HandleAdd(Event{UserID: "alice", ChannelID: "general", MessageID: "orig1", Emoji: "❌"})
	env.handler.HandleAdd(Event{UserID: "alice", ChannelID: "general", MessageID: "ack1", Emoji: "❌"})

	assert.Nil(t, env.reg.FindVoter(p, "alice"))
	assert.Contains(t, env.chat.RemovedReactions, "general/orig1/❌/alice")
	assert.Contains(t, env.chat.RemovedReactions, "general/ack1/❌/alice")
	require.Len(t, env.chat.DMs["alice"], 2)
	assert.Contains(t, env.chat.DMs["alice"][0], p.VotingMessageID)
}

func TestHandleAddIgnoresUnauthorizedAndBot(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{})

	env.handler.HandleAdd(env.addEvent("stranger", p.VotingMessageID, "❌"))
	env.handler.HandleAdd(env.addEvent(env.chat.BotID, p.VotingMessageID, "❌"))

	assert.Nil(t, env.reg.FindVoter(p, "stranger"))
	assert.Empty(t, p.Voters)
}

func TestHandleAddRejectedWhileRecoveryHoldsGate(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{}, "alice")
	env.handler = NewHandler(env.reg, env.res, env.chat, stubGate(true), env.cfg)

	env.handler.HandleAdd(env.addEvent("alice", p.VotingMessageID, "❌"))

	assert.Nil(t, env.reg.FindVoter(p, "alice"))
	assert.Contains(t, env.chat.RemovedReactions, "voting/"+p.VotingMessageID+"/❌/alice")
	assert.NotEmpty(t, env.chat.DMs["alice"])
}

func TestHandleAddAnonymousModeRetractsReaction(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{Anonymity: types.AnonymityRevealAtClose, ThresholdPositive: 3}, "alice")

	env.handler.HandleAdd(env.addEvent("alice", p.VotingMessageID, "✅"))

	voter := env.reg.FindVoter(p, "alice")
	require.NotNil(t, voter)
	assert.Equal(t, types.VoteFor, voter.Value)
	assert.Contains(t, env.chat.RemovedReactions, "voting/"+p.VotingMessageID+"/✅/alice")

	// The programmatic retraction produces a remove event; it must not undo
	// the recorded vote.
	env.handler.HandleRemove(env.addEvent("alice", p.VotingMessageID, "✅"))
	assert.NotNil(t, env.reg.FindVoter(p, "alice"))
}

func TestHandleRemoveWithdrawsVote(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{ThresholdNegative: 2}, "alice")

	env.handler.HandleAdd(env.addEvent("alice", p.VotingMessageID, "❌"))
	require.NotNil(t, env.reg.FindVoter(p, "alice"))

	env.handler.HandleRemove(env.addEvent("alice", p.VotingMessageID, "❌"))
	assert.Nil(t, env.reg.FindVoter(p, "alice"))

	// Withdrawing reduces the count: a later second objection must not cancel.
	env.chat.GrantRole("bob", env.cfg.GovernanceRoleID)
	env.handler.HandleAdd(env.addEvent("bob", p.VotingMessageID, "❌"))
	assert.True(t, env.reg.IsActive(p.VotingMessageID))
}

func TestHandleRemoveIgnoresUnknownVoter(t *testing.T) {
	env := newVotingEnv(t)
	p := env.seedProposal(t, &types.Proposal{}, "alice")

	env.handler.HandleRemove(env.addEvent("alice", p.VotingMessageID, "❌"))
	assert.True(t, env.reg.IsActive(p.VotingMessageID))
}

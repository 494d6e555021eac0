package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/data"
	"github.com/daohub-labs/consensusbot/src/discord/discordtest"
	"github.com/daohub-labs/consensusbot/src/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := data.ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))
	return db
}

func storedProposal(t *testing.T, db *gorm.DB) *types.Proposal {
	t.Helper()
	p := &types.Proposal{
		MessageID:         "orig1",
		ChannelID:         "general",
		AuthorID:          "author",
		VotingMessageID:   "vm1",
		Description:       "pay <@u1> for the server bill",
		Financial:         true,
		TotalAmount:       120,
		ThresholdNegative: 2,
		ThresholdPositive: types.ThresholdDisabled,
		SubmittedAt:       time.Now().UTC().Add(-time.Hour),
		ClosesAt:          time.Now().UTC(),
		Voters: []types.Voter{
			{UserID: "alice", Nickname: "Alice", Value: types.VoteFor, CreatedAt: time.Now().UTC()},
			{UserID: "bob", Value: types.VoteAgainst, CreatedAt: time.Now().UTC()},
		},
		FinanceRecipients: []types.FinanceRecipient{
			{RecipientIDs: "u1", RecipientNicknames: "ServerGuy", Amount: 120},
		},
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func TestArchiveCopiesProposalAndDeletesLiveRows(t *testing.T) {
	db := testDB(t)
	chat := discordtest.New()
	chat.Nicks["author"] = "TheAuthor"
	chat.Nicks["bob"] = "Bob"
	a := NewArchiver(db, chat, "voting", "ops")
	p := storedProposal(t, db)

	require.NoError(t, a.Archive(p, types.OutcomeAccepted))

	var hist types.ProposalHistory
	require.NoError(t, db.Preload("Voters").Preload("Recipients").First(&hist).Error)
	assert.Equal(t, p.ID, hist.ProposalID)
	assert.Equal(t, "TheAuthor", hist.AuthorNickname)
	assert.Equal(t, types.OutcomeAccepted, hist.Outcome)
	assert.Equal(t, 120.0, hist.TotalAmount)
	assert.Contains(t, hist.VotingMessageURL, "vm1")
	// Mentions are rewritten so the record survives account changes.
	assert.Equal(t, "pay @ServerGuy for the server bill", hist.Description)

	require.Len(t, hist.Voters, 2)
	byUser := map[string]types.HistoryVoter{}
	for _, v := range hist.Voters {
		byUser[v.UserID] = v
	}
	assert.Equal(t, "Alice", byUser["alice"].Nickname, "stored nickname wins")
	assert.Equal(t, "Bob", byUser["bob"].Nickname, "missing nickname resolved at archive time")
	require.Len(t, hist.Recipients, 1)
	assert.Equal(t, 120.0, hist.Recipients[0].Amount)

	for _, model := range []interface{}{&types.Proposal{}, &types.Voter{}, &types.FinanceRecipient{}} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		assert.Zero(t, count)
	}
}

func TestArchiveFailureKeepsLiveProposal(t *testing.T) {
	db, err := data.ConnectSQLite(":memory:")
	require.NoError(t, err)
	// History tables missing: the transaction cannot commit.
	require.NoError(t, db.AutoMigrate(&types.Proposal{}, &types.Voter{}, &types.FinanceRecipient{}))

	chat := discordtest.New()
	a := NewArchiver(db, chat, "voting", "ops")
	p := storedProposal(t, db)

	require.Error(t, a.Archive(p, types.OutcomeAccepted))

	var count int64
	require.NoError(t, db.Model(&types.Proposal{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "a failed archive must not lose the live proposal")

	// The operator channel is told about the stuck proposal.
	require.NotEmpty(t, chat.Sent)
	assert.Equal(t, "ops", chat.Sent[0].ChannelID)
}

func TestRewriteMentions(t *testing.T) {
	nicknames := map[string]string{"1": "alice", "2": "bob"}
	assert.Equal(t, "thanks @alice and @bob",
		RewriteMentions("thanks <@1> and <@!2>", nicknames))
	assert.Equal(t, "no mentions here", RewriteMentions("no mentions here", nil))
	assert.Equal(t, "<@3> unknown stays", RewriteMentions("<@3> unknown stays", nicknames))
}

package proposal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daohub-labs/consensusbot/src/bot/components/history"
	"github.com/daohub-labs/consensusbot/src/bot/components/registry"
	"github.com/daohub-labs/consensusbot/src/bot/components/voting"
	"github.com/daohub-labs/consensusbot/src/config"
	"github.com/daohub-labs/consensusbot/src/data"
	"github.com/daohub-labs/consensusbot/src/discord/discordtest"
	"github.com/daohub-labs/consensusbot/src/types"
)

type stubGate struct {
	held bool
}

func (g *stubGate) InProgress() bool { return g.held }

type submitEnv struct {
	chat      *discordtest.Fake
	reg       *registry.Registry
	gate      *stubGate
	submitter *Submitter
	cfg       config.Config
}

func newSubmitEnv(t *testing.T) *submitEnv {
	t.Helper()

	db, err := data.ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))

	reg, err := registry.Load(db)
	require.NoError(t, err)

	chat := discordtest.New()
	cfg := config.Config{
		VotingChannelID:  "voting",
		GrantChannelID:   "grant",
		GovernanceRoleID: "gov",
		EmojiFor:         "✅",
		EmojiAgainst:     "❌",
		ProposalWindow:   time.Hour,
		SchedulerTick:    time.Minute,
		DataDir:          t.TempDir(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	archiver := history.NewArchiver(db, chat, cfg.VotingChannelID, "")
	res := voting.NewResolver(reg, chat, archiver, nil, cfg)
	sched := voting.NewScheduler(ctx, reg, res, cfg.SchedulerTick)
	gate := &stubGate{}
	sub := NewSubmitter(reg, chat, sched, gate, BasicValidator{}, cfg)

	t.Cleanup(func() {
		cancel()
		sched.Wait()
	})

	chat.GrantRole("author", cfg.GovernanceRoleID)
	return &submitEnv{chat: chat, reg: reg, gate: gate, submitter: sub, cfg: cfg}
}

func grantlessRequest() Request {
	return Request{
		AuthorID:          "author",
		ChannelID:         "general",
		MessageID:         "orig1",
		Description:       "repaint the bikeshed",
		ThresholdNegative: 2,
		ThresholdPositive: types.ThresholdDisabled,
	}
}

func TestSubmitGrantlessProposal(t *testing.T) {
	env := newSubmitEnv(t)

	p, err := env.submitter.Submit(grantlessRequest())
	require.NoError(t, err)

	require.True(t, env.reg.IsActive(p.VotingMessageID))
	assert.False(t, p.Financial)
	assert.Equal(t, time.Hour, p.ClosesAt.Sub(p.SubmittedAt))

	// Voting post in the voting channel, acknowledgement in the origin channel.
	require.Len(t, env.chat.Sent, 2)
	assert.Equal(t, "voting", env.chat.Sent[0].ChannelID)
	assert.Contains(t, env.chat.Sent[0].Content, "repaint the bikeshed")
	assert.Contains(t, env.chat.Sent[0].Content, "2 objection(s)")
	assert.Equal(t, "general", env.chat.Sent[1].ChannelID)
	assert.Equal(t, env.chat.Sent[1].ID, p.BotResponseMessageID)

	// Only the objection emoji is seeded when no support is required.
	assert.Equal(t, []string{"voting/" + p.VotingMessageID + "/❌"}, env.chat.AddedReactions)
}

func TestSubmitWithPositiveThresholdSeedsBothEmojis(t *testing.T) {
	env := newSubmitEnv(t)

	req := grantlessRequest()
	req.ThresholdPositive = 3
	p, err := env.submitter.Submit(req)
	require.NoError(t, err)

	assert.Contains(t, env.chat.Sent[0].Content, "At least 3")
	assert.Contains(t, env.chat.AddedReactions, "voting/"+p.VotingMessageID+"/❌")
	assert.Contains(t, env.chat.AddedReactions, "voting/"+p.VotingMessageID+"/✅")
}

func TestSubmitFinancialProposalStoresRecipients(t *testing.T) {
	env := newSubmitEnv(t)

	req := grantlessRequest()
	req.Description = "server bill"
	req.TotalAmount = 120
	req.Recipients = []RecipientGroup{
		{IDs: []string{"u1"}, Nicknames: []string{"One"}, Amount: 70},
		{IDs: []string{"u2", "u3"}, Nicknames: []string{"Two", "Three"}, Amount: 50},
	}

	p, err := env.submitter.Submit(req)
	require.NoError(t, err)
	assert.True(t, p.Financial)
	require.Len(t, p.FinanceRecipients, 2)
	assert.Equal(t, "u2,u3", p.FinanceRecipients[1].RecipientIDs)
}

func TestSubmitNoAckWhenPostedInVotingChannel(t *testing.T) {
	env := newSubmitEnv(t)

	req := grantlessRequest()
	req.ChannelID = env.cfg.VotingChannelID
	p, err := env.submitter.Submit(req)
	require.NoError(t, err)

	assert.Empty(t, p.BotResponseMessageID)
	require.Len(t, env.chat.Sent, 1)
}

func TestSubmitValidationFailures(t *testing.T) {
	env := newSubmitEnv(t)

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty description", func(r *Request) { r.Description = "  " }},
		{"no role", func(r *Request) { r.AuthorID = "stranger" }},
		{"zero negative threshold", func(r *Request) { r.ThresholdNegative = 0 }},
		{"bad positive threshold", func(r *Request) { r.ThresholdPositive = -3 }},
		{"financial without amount", func(r *Request) {
			r.Recipients = []RecipientGroup{{IDs: []string{"u1"}, Amount: 10}}
		}},
		{"amounts do not sum", func(r *Request) {
			r.TotalAmount = 100
			r.Recipients = []RecipientGroup{{IDs: []string{"u1"}, Amount: 60}}
		}},
		{"empty recipient group", func(r *Request) {
			r.TotalAmount = 50
			r.Recipients = []RecipientGroup{{Amount: 50}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := grantlessRequest()
			tc.mutate(&req)
			_, err := env.submitter.Submit(req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	assert.Zero(t, env.reg.Count(), "rejected submissions record nothing")
	assert.Empty(t, env.chat.Sent)
}

func TestSubmitRejectedDuringRecovery(t *testing.T) {
	env := newSubmitEnv(t)
	env.gate.held = true

	_, err := env.submitter.Submit(grantlessRequest())
	require.ErrorIs(t, err, ErrRecoveryInProgress)
	assert.Zero(t, env.reg.Count())
	assert.Empty(t, env.chat.Sent)

	// Once the gate is released, submission works again.
	env.gate.held = false
	_, err = env.submitter.Submit(grantlessRequest())
	require.NoError(t, err)
}

func TestSubmitRejectedWhileStopcockPresent(t *testing.T) {
	env := newSubmitEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.DataDir, "stopcock"), nil, 0o644))

	_, err := env.submitter.Submit(grantlessRequest())
	require.ErrorIs(t, err, ErrPaused)
	assert.Zero(t, env.reg.Count())
}

func TestBasicValidator(t *testing.T) {
	v := BasicValidator{}

	ok, _ := v.ValidateDescription("a perfectly fine proposal")
	assert.True(t, ok)

	ok, reason := v.ValidateDescription("")
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	long := make([]byte, MaxDescriptionLength+1)
	for i := range long {
		long[i] = 'x'
	}
	ok, _ = v.ValidateDescription(string(long))
	assert.False(t, ok)
}

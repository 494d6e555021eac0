package voting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/bot/components/history"
	"github.com/daohub-labs/consensusbot/src/bot/components/registry"
	"github.com/daohub-labs/consensusbot/src/config"
	"github.com/daohub-labs/consensusbot/src/data"
	"github.com/daohub-labs/consensusbot/src/discord/discordtest"
	"github.com/daohub-labs/consensusbot/src/types"
)

type stubGate bool

func (g stubGate) InProgress() bool { return bool(g) }

type votingEnv struct {
	db      *gorm.DB
	chat    *discordtest.Fake
	reg     *registry.Registry
	res     *Resolver
	handler *Handler
	cfg     config.Config
}

func testConfig() config.Config {
	return config.Config{
		VotingChannelID:   "voting",
		GrantChannelID:    "grant",
		OperatorChannelID: "ops",
		GovernanceRoleID:  "gov",
		EmojiFor:          "✅",
		EmojiAgainst:      "❌",
		ProposalWindow:    time.Hour,
		SchedulerTick:     10 * time.Millisecond,
	}
}

func newVotingEnv(t *testing.T) *votingEnv {
	t.Helper()

	db, err := data.ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))

	reg, err := registry.Load(db)
	require.NoError(t, err)

	chat := discordtest.New()
	cfg := testConfig()
	archiver := history.NewArchiver(db, chat, cfg.VotingChannelID, cfg.OperatorChannelID)
	res := NewResolver(reg, chat, archiver, nil, cfg)
	h := NewHandler(reg, res, chat, stubGate(false), cfg)

	return &votingEnv{db: db, chat: chat, reg: reg, res: res, handler: h, cfg: cfg}
}

// seedProposal inserts an active proposal and authorizes the author plus the
// given voters.
func (e *votingEnv) seedProposal(t *testing.T, p *types.Proposal, voterIDs ...string) *types.Proposal {
	t.Helper()

	if p.AuthorID == "" {
		p.AuthorID = "author"
	}
	if p.VotingMessageID == "" {
		p.VotingMessageID = "vm1"
	}
	if p.MessageID == "" {
		p.MessageID = "orig1"
	}
	if p.ChannelID == "" {
		p.ChannelID = "general"
	}
	if p.ThresholdNegative == 0 {
		p.ThresholdNegative = 2
	}
	if p.ThresholdPositive == 0 {
		p.ThresholdPositive = types.ThresholdDisabled
	}
	if p.SubmittedAt.IsZero() {
		p.SubmittedAt = time.Now().UTC()
	}
	if p.ClosesAt.IsZero() {
		p.ClosesAt = time.Now().UTC().Add(time.Hour)
	}

	require.NoError(t, e.reg.Insert(p))
	e.chat.GrantRole(p.AuthorID, e.cfg.GovernanceRoleID)
	for _, id := range voterIDs {
		e.chat.GrantRole(id, e.cfg.GovernanceRoleID)
	}
	return p
}

func (e *votingEnv) addEvent(userID, messageID, emoji string) Event {
	return Event{UserID: userID, ChannelID: e.cfg.VotingChannelID, MessageID: messageID, Emoji: emoji}
}

func (e *votingEnv) historyRecords(t *testing.T) []types.ProposalHistory {
	t.Helper()
	var out []types.ProposalHistory
	require.NoError(t, e.db.Preload("Voters").Preload("Recipients").Find(&out).Error)
	return out
}

func (e *votingEnv) newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(ctx, e.reg, e.res, e.cfg.SchedulerTick)
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	return s
}

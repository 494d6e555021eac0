package bot

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/bot/components/funding"
	"github.com/daohub-labs/consensusbot/src/bot/components/history"
	"github.com/daohub-labs/consensusbot/src/bot/components/proposal"
	"github.com/daohub-labs/consensusbot/src/bot/components/recovery"
	"github.com/daohub-labs/consensusbot/src/bot/components/registry"
	"github.com/daohub-labs/consensusbot/src/bot/components/voting"
	"github.com/daohub-labs/consensusbot/src/config"
	"github.com/daohub-labs/consensusbot/src/discord"
)

// Bot is the composition root: it owns the registry, the consensus engine
// components and the Discord session, and routes platform events into them.
type Bot struct {
	session *discordgo.Session
	chat    discord.Service
	db      *gorm.DB
	rdb     *redis.Client
	cfg     config.Config

	reg        *registry.Registry
	gate       *recovery.Gate
	resolver   *voting.Resolver
	handler    *voting.Handler
	sched      *voting.Scheduler
	reconciler *recovery.Reconciler
	submitter  *proposal.Submitter
	ledger     *funding.Ledger

	ctx         context.Context
	cancel      context.CancelFunc
	recoverOnce sync.Once
}

func New(cfg config.Config, db *gorm.DB, rdb *redis.Client) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent |
		discordgo.IntentsDirectMessages

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bot{
		session: dg,
		chat:    discord.NewSession(dg, cfg.GuildID),
		db:      db,
		rdb:     rdb,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
	if err := b.initializeComponents(); err != nil {
		cancel()
		return nil, err
	}
	b.registerHandlers()
	return b, nil
}

func (b *Bot) initializeComponents() error {
	reg, err := registry.Load(b.db)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	b.reg = reg
	b.gate = &recovery.Gate{}

	archiver := history.NewArchiver(b.db, b.chat, b.cfg.VotingChannelID, b.cfg.OperatorChannelID)
	b.resolver = voting.NewResolver(b.reg, b.chat, archiver, b.rdb, b.cfg)
	b.sched = voting.NewScheduler(b.ctx, b.reg, b.resolver, b.cfg.SchedulerTick)
	b.handler = voting.NewHandler(b.reg, b.resolver, b.chat, b.gate, b.cfg)
	b.reconciler = recovery.NewReconciler(b.reg, b.chat, b.resolver, b.sched, b.gate, b.cfg)
	b.submitter = proposal.NewSubmitter(b.reg, b.chat, b.sched, b.gate, proposal.BasicValidator{}, b.cfg)
	b.ledger = funding.NewLedger(b.db, b.cfg.SeasonLimit, b.cfg.MaxTip)
	return nil
}

func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleReactionAdd)
	b.session.AddHandler(b.handleReactionRemove)
	b.session.AddHandler(b.handleMessage)
}

// Ledger exposes the funding ledger to the web server's admin surface.
func (b *Bot) Ledger() *funding.Ledger { return b.ledger }

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	return nil
}

func (b *Bot) Stop() {
	b.cancel()
	b.sched.Wait()
	if b.session != nil {
		b.session.Close()
	}
}

func (b *Bot) handleReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Discord bot logged in as %s", event.User.Username)

	// Recovery runs once, ahead of all new commands and vote events. The gate
	// it holds makes the entry points reject traffic until it finishes.
	b.recoverOnce.Do(func() {
		go b.reconciler.Run(b.ctx)
	})
}

func (b *Bot) handleReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	b.handler.HandleAdd(voting.Event{
		UserID:    r.UserID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     r.Emoji.Name,
	})
}

func (b *Bot) handleReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	b.handler.HandleRemove(voting.Event{
		UserID:    r.UserID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     r.Emoji.Name,
	})
}

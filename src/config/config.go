package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/data"
)

// Stopcock file names. Their mere presence in DataDir disables acceptance of
// new proposals / new tips; content is ignored.
const (
	proposalsStopcock = "stopcock"
	tipsStopcock      = "stopcock-tips"
)

type Config struct {
	Token             string
	GuildID           string
	VotingChannelID   string
	GrantChannelID    string
	OperatorChannelID string
	GovernanceRoleID  string

	EmojiFor     string
	EmojiAgainst string

	ProposalWindow time.Duration
	SchedulerTick  time.Duration

	// Defaults applied by the command front end; the submit operation itself
	// takes thresholds per proposal.
	DefaultNegativeThreshold int
	DefaultPositiveThreshold int

	SeasonLimit float64
	MaxTip      float64

	DataDir    string
	MySQLDSN   string
	RedisURL   string
	ListenAddr string
	JWTSecret  string
}

// Load reads configuration from the settings table with environment variable
// fallbacks, then applies defaults.
func Load(db *gorm.DB) Config {
	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	cfg := Config{
		Token:             setting("discord_token", "DISCORD_TOKEN", ""),
		GuildID:           setting("guild_id", "GUILD_ID", ""),
		VotingChannelID:   setting("voting_channel_id", "VOTING_CHANNEL_ID", ""),
		GrantChannelID:    setting("grant_channel_id", "GRANT_CHANNEL_ID", ""),
		OperatorChannelID: setting("operator_channel_id", "OPERATOR_CHANNEL_ID", ""),
		GovernanceRoleID:  setting("governance_role_id", "GOVERNANCE_ROLE_ID", ""),
		EmojiFor:          setting("emoji_for", "EMOJI_FOR", "✅"),
		EmojiAgainst:      setting("emoji_against", "EMOJI_AGAINST", "❌"),
		ProposalWindow:    durationSetting("proposal_window_hours", "PROPOSAL_WINDOW_HOURS", 72),
		SchedulerTick:     5 * time.Second,

		DefaultNegativeThreshold: intSetting("threshold_negative", "THRESHOLD_NEGATIVE", 2),
		DefaultPositiveThreshold: intSetting("threshold_positive", "THRESHOLD_POSITIVE", -1),
		SeasonLimit:       floatSetting("season_limit", "SEASON_LIMIT", 500),
		MaxTip:            floatSetting("max_tip", "MAX_TIP", 100),
		DataDir:           getenv("DATA_DIR", "."),
		MySQLDSN:          os.Getenv("MYSQL_DSN"),
		RedisURL:          getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		ListenAddr:        getenv("LISTEN_ADDR", ":8080"),
		JWTSecret:         setting("jwt_secret", "JWT_SECRET", ""),
	}
	return cfg
}

// ProposalsPaused reports whether the proposals stopcock file is present.
func (c Config) ProposalsPaused() bool {
	return fileExists(filepath.Join(c.DataDir, proposalsStopcock))
}

// TipsPaused reports whether the tips stopcock file is present.
func (c Config) TipsPaused() bool {
	return fileExists(filepath.Join(c.DataDir, tipsStopcock))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func setting(name, env, def string) string {
	if v := data.GetSetting(name); v != "" {
		return v
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func floatSetting(name, env string, def float64) float64 {
	raw := setting(name, env, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("Invalid value for %s: %q", name, raw)
		return def
	}
	return v
}

func intSetting(name, env string, def int) int {
	raw := setting(name, env, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Invalid value for %s: %q", name, raw)
		return def
	}
	return v
}

func durationSetting(name, env string, defHours int) time.Duration {
	raw := setting(name, env, "")
	if raw == "" {
		return time.Duration(defHours) * time.Hour
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("Invalid value for %s: %q", name, raw)
		return time.Duration(defHours) * time.Hour
	}
	return time.Duration(v) * time.Hour
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

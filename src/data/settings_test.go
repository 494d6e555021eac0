package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daohub-labs/consensusbot/src/types"
)

func TestSettingsCache(t *testing.T) {
	db, err := ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	require.NoError(t, db.Create(&types.Setting{Name: "guild_id", Value: "g1"}).Error)
	require.NoError(t, LoadSettings(db))

	assert.Equal(t, "g1", GetSetting("guild_id"))
	assert.Empty(t, GetSetting("missing"))

	// Reload picks up changes and drops removed entries.
	require.NoError(t, db.Where("name = ?", "guild_id").Delete(&types.Setting{}).Error)
	require.NoError(t, db.Create(&types.Setting{Name: "emoji_for", Value: "✔"}).Error)
	require.NoError(t, LoadSettings(db))

	assert.Empty(t, GetSetting("guild_id"))
	assert.Equal(t, "✔", GetSetting("emoji_for"))
}

func TestEnsureParam(t *testing.T) {
	assert.Equal(t, "user:pw@/db?parseTime=true", ensureParam("user:pw@/db", "parseTime", "true"))
	assert.Equal(t, "user:pw@/db?a=1&parseTime=true", ensureParam("user:pw@/db?a=1", "parseTime", "true"))
	assert.Equal(t, "user:pw@/db?parseTime=false", ensureParam("user:pw@/db?parseTime=false", "parseTime", "true"))
}

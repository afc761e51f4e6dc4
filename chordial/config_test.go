package chordial

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := DefaultTestConfig(t)
	require.NoError(t, structValidator.Struct(cfg))
}

func TestValidateConfigRejectsBadDatabaseType(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "mysql"
	require.Error(t, structValidator.Struct(cfg))
}

func TestValidateConfigRequiresDiscordToken(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Discord.Token = ""
	require.Error(t, structValidator.Struct(cfg))
}

func DefaultTestConfig(t testing.TB) *Config {
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second

	cfg.Discord.Token = "test-discord-token"
	cfg.Discord.ApplicationID = "test-application-id"

	cfg.API.Secret = "aksdfjakjsfdajfefIJHShi sfEISHSIDF HSIHDF"
	cfg.API.CORS.AllowOrigins = []string{"*"}

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.Lavalink.LogLevel.Set(logLevel)
	cfg.Chat.LogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}

// testWriteDB creates a temporary sqlite-backed [DBI] with all models
// migrated.
func testWriteDB(t testing.TB) DBI {
	t.Helper()
	db, err := CreateDB(
		context.Background(),
		dbTypeSQLite,
		filepath.Join(t.TempDir(), fmt.Sprintf("%s.sqlite3", t.Name())),
	)
	require.NoError(t, err)
	return NewDatabase(db, slog.Default(), false)
}

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/chordial-bot/chordial/chordial"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

CHORDIAL_DATABASE=/home/foo/chordial.sqlite3
CHORDIAL_DATABASE_TYPE=sqlite
CHORDIAL_DATABASE_LOG_LEVEL=INFO
CHORDIAL_DATABASE_SLOW_THRESHOLD=200ms
CHORDIAL_LOG_LEVEL=INFO
CHORDIAL_STARTUP_TIMEOUT=30s
CHORDIAL_SHUTDOWN_TIMEOUT=60s

# Discord bot config

CHORDIAL_DISCORD_TOKEN=your-discord-bot-token
CHORDIAL_DISCORD_APPLICATION_ID=your-discord-bot-app-id
CHORDIAL_DISCORD_GUILD_ID=
CHORDIAL_DISCORD_LOG_LEVEL=WARN
CHORDIAL_DISCORD_DISCORDGO_LOG_LEVEL=WARN
CHORDIAL_DISCORD_STARTUP_MESSAGE="I'm here!"
CHORDIAL_DISCORD_GATEWAY_INTENTS=3243773

# Lavalink node config

CHORDIAL_LAVALINK_NAME=main
CHORDIAL_LAVALINK_ADDRESS=127.0.0.1:2333
CHORDIAL_LAVALINK_PASSWORD=youshallnotpass
CHORDIAL_LAVALINK_SECURE=false
CHORDIAL_LAVALINK_CONNECT_TIMEOUT=15s
CHORDIAL_LAVALINK_LOG_LEVEL=INFO

# Chat backend config

CHORDIAL_CHAT_TOKEN=your-chat-token
CHORDIAL_CHAT_BASE_URL=
CHORDIAL_CHAT_LOG_LEVEL=INFO
CHORDIAL_CHAT_MAX_REQUESTS_PER_SECOND=1
CHORDIAL_CHAT_REQUEST_TIMEOUT=2m
CHORDIAL_CHAT_COOLDOWN=3s
CHORDIAL_CHAT_HISTORY_LENGTH=10

# Player config

CHORDIAL_PLAYER_MAX_QUEUE_SIZE=250
CHORDIAL_PLAYER_HISTORY_SIZE=50
CHORDIAL_PLAYER_AUTO_DISCONNECT_AFTER=5m
CHORDIAL_PLAYER_COMMAND_COOLDOWN=3s
CHORDIAL_PLAYER_SEARCH_TYPE=ytsearch

# API server

CHORDIAL_API_LISTEN=127.0.0.1:5000
CHORDIAL_API_SSL_CERT=/etc/ssl/cert.pem
CHORDIAL_API_SSL_KEY=/etc/ssl/key.pem
CHORDIAL_API_SSL_TLS_MIN_VERSION=771
CHORDIAL_API_SECRET=your-api-secret
CHORDIAL_API_LOG_LEVEL=DEBUG
CHORDIAL_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
CHORDIAL_API_CORS_ALLOW_METHODS=GET POST PATCH OPTIONS HEAD
CHORDIAL_API_CORS_ALLOW_HEADERS=Origin Content-Length Content-Type Accept Authorization X-Requested-With Cache-Control
CHORDIAL_API_CORS_EXPOSE_HEADERS=Content-Type Content-Length Accept-Encoding X-Request-ID Location ETag Last-Modified
CHORDIAL_API_CORS_ALLOW_CREDENTIALS=true
CHORDIAL_API_CORS_MAX_AGE=12h
CHORDIAL_API_READ_TIMEOUT=5s
CHORDIAL_API_READ_HEADER_TIMEOUT=5s
CHORDIAL_API_WRITE_TIMEOUT=10s
CHORDIAL_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/chordial.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/chordial.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(t, "your-discord-bot-app-id", viper.GetString("discord.application_id"))
	assert.Equal(t, "", viper.GetString("discord.guild_id"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))
	assert.Equal(t, "I'm here!", viper.GetString("discord.startup_message"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))

	assert.Equal(t, "main", viper.GetString("lavalink.name"))
	assert.Equal(t, "127.0.0.1:2333", viper.GetString("lavalink.address"))
	assert.Equal(t, "youshallnotpass", viper.GetString("lavalink.password"))
	assert.False(t, viper.GetBool("lavalink.secure"))
	assert.Equal(t, 15*time.Second, viper.GetDuration("lavalink.connect_timeout"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("lavalink.log_level"))

	assert.Equal(t, "your-chat-token", viper.GetString("chat.token"))
	assert.Equal(t, "", viper.GetString("chat.base_url"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("chat.log_level"))
	assert.Equal(t, 1, viper.GetInt("chat.max_requests_per_second"))
	assert.Equal(t, 2*time.Minute, viper.GetDuration("chat.request_timeout"))
	assert.Equal(t, 3*time.Second, viper.GetDuration("chat.cooldown"))
	assert.Equal(t, 10, viper.GetInt("chat.history_length"))

	assert.Equal(t, 250, viper.GetInt("player.max_queue_size"))
	assert.Equal(t, 50, viper.GetInt("player.history_size"))
	assert.Equal(t, 5*time.Minute, viper.GetDuration("player.auto_disconnect_after"))
	assert.Equal(t, 3*time.Second, viper.GetDuration("player.command_cooldown"))
	assert.Equal(t, "ytsearch", viper.GetString("player.search_type"))

	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assert.Equal(t, "/etc/ssl/cert.pem", viper.GetString("api.ssl.cert"))
	assert.Equal(t, "/etc/ssl/key.pem", viper.GetString("api.ssl.key"))
	assert.Equal(t, 771, viper.GetInt("api.ssl.tls_min_version"))
	assert.Equal(t, "your-api-secret", viper.GetString("api.secret"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PATCH", "OPTIONS", "HEAD"},
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PATCH", "OPTIONS", "HEAD"},
		cfg.API.CORS.AllowMethods,
	)
	assert.Equal(
		t,
		[]string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Requested-With",
			"Cache-Control",
		},
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	assert.Equal(
		t,
		[]string{
			"Content-Type",
			"Content-Length",
			"Accept-Encoding",
			"X-Request-ID",
			"Location",
			"ETag",
			"Last-Modified",
		},
		viper.GetStringSlice("api.cors.expose_headers"),
	)
	assert.True(t, viper.GetBool("api.cors.allow_credentials"))
	assert.Equal(t, 12*time.Hour, viper.GetDuration("api.cors.max_age"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_timeout"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_header_timeout"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("api.write_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("api.idle_timeout"))

	// Unmarshal the configuration into a chordial.Config struct
	var config chordial.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, "/home/foo/chordial.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "", config.Discord.GuildID)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, "I'm here!", config.Discord.StartupMessage)
	assert.Equal(t, discordgo.Intent(3243773), config.Discord.GatewayIntents)

	assert.Equal(t, "main", config.Lavalink.Name)
	assert.Equal(t, "127.0.0.1:2333", config.Lavalink.Address)
	assert.Equal(t, "youshallnotpass", config.Lavalink.Password)
	assert.False(t, config.Lavalink.Secure)
	assert.Equal(t, 15*time.Second, config.Lavalink.ConnectTimeout)
	assert.Equal(t, slog.LevelInfo, config.Lavalink.LogLevel.Level())

	assert.Equal(t, "your-chat-token", config.Chat.Token)
	assert.Equal(t, slog.LevelInfo, config.Chat.LogLevel.Level())
	assert.Equal(t, 1, config.Chat.MaxRequestsPerSecond)
	assert.Equal(t, 2*time.Minute, config.Chat.RequestTimeout)
	assert.Equal(t, 3*time.Second, config.Chat.Cooldown)
	assert.Equal(t, 10, config.Chat.HistoryLength)

	assert.Equal(t, 250, config.Player.MaxQueueSize)
	assert.Equal(t, 50, config.Player.HistorySize)
	assert.Equal(t, 5*time.Minute, config.Player.AutoDisconnectAfter)
	assert.Equal(t, "ytsearch", config.Player.SearchType)

	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, "/etc/ssl/cert.pem", config.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", config.API.SSL.Key)
	assert.Equal(t, uint16(771), config.API.SSL.TLSMinVersion)
	assert.Equal(t, "your-api-secret", config.API.Secret)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		config.API.CORS.AllowOrigins,
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PATCH", "OPTIONS", "HEAD"},
		config.API.CORS.AllowMethods,
	)
	assert.Equal(
		t,
		[]string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Requested-With",
			"Cache-Control",
		},
		config.API.CORS.AllowHeaders,
	)
}

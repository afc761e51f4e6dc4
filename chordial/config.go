//nolint:lll // struct tags can't be split
package chordial

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix     = "CHORDIAL_ENV_PREFIX"
	DefaultEnvPrefix       = "CHORDIAL"
	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "chordial.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultLavalinkAddress        = "127.0.0.1:2333"
	DefaultLavalinkPassword       = "youshallnotpass"
	DefaultLavalinkNodeName       = "main"
	DefaultLavalinkConnectTimeout = 15 * time.Second

	DefaultChatModel                = "gpt-4o-mini"
	DefaultChatMaxRequestsPerSecond = 1
	DefaultChatHistoryLength        = 10
	DefaultChatRequestTimeout       = 2 * time.Minute
	DefaultChatCooldown             = 3 * time.Second
	DefaultChatPersona              = "You are a friendly music companion who loves talking about songs and artists."

	DefaultMaxQueueSize        = 500
	DefaultPlayHistorySize     = 100
	DefaultAutoDisconnectAfter = 5 * time.Minute
	DefaultCommandCooldown     = 3 * time.Second
	DefaultPlayerVolume        = 100
	DefaultSearchType          = "ytsearch"
	DefaultMaxTracksPerLoad    = 100

	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentGuildVoiceStates |
		discordgo.IntentMessageContent
	DefaultDiscordErrorMessage     = "sorry, something went wrong!"
	DefaultDiscordRateLimitMessage = "I'm still thinking about your last message!"
	DefaultDiscordPausedMessage    = "I'm taking a break right now - try again later!"
	DefaultDiscordCustomStatus     = "music in /play channels"
	DefaultDiscordStartupMessage   = "I'm here!"
	discordMaxMessageLength        = 2000

	DefaultAPIListen        = "127.0.0.1:5000"
	DefaultAPITLSMinVersion = tls.VersionTLS12
	defaultListenNetwork    = "tcp"

	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelInfo
	DefaultDiscordgoLogLevel       = slog.LevelWarn
	DefaultDiscordLogLevel         = slog.LevelWarn
	DefaultLavalinkLogLevel        = slog.LevelInfo
	DefaultChatLogLevel            = slog.LevelInfo
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultAPICORSAllowCredentials = true
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPatch,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Location",
		"ETag",
		"Last-Modified",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// Config is the static configuration for the bot, loaded once at startup.
// Settings that can change while the bot is running live in [RuntimeConfig].
type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Discord configures the Discord session and command registration
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Lavalink identifies the audio-relay node the bot streams through
	Lavalink *LavalinkConfig `yaml:"lavalink" mapstructure:"lavalink" json:"lavalink"`

	// Chat configures the conversational-AI backend
	Chat *ChatConfig `yaml:"chat" mapstructure:"chat" json:"chat"`

	// Player configures queue capacity and playback behavior
	Player *PlayerConfig `yaml:"player" mapstructure:"player" json:"player"`

	// API configures the backend status/admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is exceeded, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID to use when registering slash commands.
	// If empty, commands are registered globally.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If set, and [RuntimeConfig.NotificationChannelID] is also set, the bot
	// sends this message to that channel whenever it connects to the gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// LavalinkConfig identifies the audio-relay node used for playback. The node
// is a separate process - the bot speaks its REST/websocket protocol and
// never touches audio frames itself.
type LavalinkConfig struct {
	// Node label, used in logs and the status API
	Name string `yaml:"name" mapstructure:"name" json:"name"`

	// host:port of the node
	Address string `yaml:"address" mapstructure:"address" json:"address" binding:"required"`

	// Node password
	Password string `yaml:"password" mapstructure:"password" json:"password" log:"[redacted]"`

	// Use wss/https when connecting to the node
	Secure bool `yaml:"secure" mapstructure:"secure" json:"secure"`

	// ConnectTimeout bounds the initial node connection attempt
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout" json:"connect_timeout"`

	// LogLevel sets the log level for node and player events
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// ChatConfig configures the conversational-AI backend used for mention-based
// character replies. The persona and model are runtime-configurable; this
// holds the connection settings.
type ChatConfig struct {
	// API token for the chat backend
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// BaseURL overrides the API endpoint, for OpenAI-compatible hosts.
	// Leave empty for the default.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`

	// Chat base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// MaxRequestsPerSecond caps outbound requests to the chat backend
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// RequestTimeout bounds a single completion request
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout"`

	// Cooldown is the minimum time between replies to the same user
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown"`

	// HistoryLength is the number of previous exchanges included as
	// conversation context
	HistoryLength int `yaml:"history_length" mapstructure:"history_length" json:"history_length"`
}

// PlayerConfig configures queue capacity and playback behavior.
type PlayerConfig struct {
	// Maximum number of tracks queued per guild. 0=unlimited
	MaxQueueSize int `yaml:"max_queue_size" mapstructure:"max_queue_size" json:"max_queue_size" binding:"min=0"`

	// Number of entries kept in the per-guild play history
	HistorySize int `yaml:"history_size" mapstructure:"history_size" json:"history_size" binding:"min=1"`

	// Disconnect from the voice channel after playback has been idle this long
	AutoDisconnectAfter time.Duration `yaml:"auto_disconnect_after" mapstructure:"auto_disconnect_after" json:"auto_disconnect_after"`

	// CommandCooldown is the minimum time between commands from the same user
	CommandCooldown time.Duration `yaml:"command_cooldown" mapstructure:"command_cooldown" json:"command_cooldown"`

	// Search prefix sent to the node for non-URL queries (e.g. 'ytsearch')
	SearchType string `yaml:"search_type" mapstructure:"search_type" json:"search_type"`
}

// APIConfig configures the backend status/admin API server
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"oneof=tcp tcp4 tcp6 unix"`

	// Secret used as the bearer token for the /api endpoints. If empty,
	// only /health is served.
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	lavalinkLogLevel := &slog.LevelVar{}
	chatLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	lavalinkLogLevel.Set(DefaultLavalinkLogLevel)
	chatLogLevel.Set(DefaultChatLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
		},
		Lavalink: &LavalinkConfig{
			Name:           DefaultLavalinkNodeName,
			Address:        DefaultLavalinkAddress,
			Password:       DefaultLavalinkPassword,
			ConnectTimeout: DefaultLavalinkConnectTimeout,
			LogLevel:       lavalinkLogLevel,
		},
		Chat: &ChatConfig{
			LogLevel:             chatLogLevel,
			MaxRequestsPerSecond: DefaultChatMaxRequestsPerSecond,
			RequestTimeout:       DefaultChatRequestTimeout,
			Cooldown:             DefaultChatCooldown,
			HistoryLength:        DefaultChatHistoryLength,
		},
		Player: &PlayerConfig{
			MaxQueueSize:        DefaultMaxQueueSize,
			HistorySize:         DefaultPlayHistorySize,
			AutoDisconnectAfter: DefaultAutoDisconnectAfter,
			CommandCooldown:     DefaultCommandCooldown,
			SearchType:          DefaultSearchType,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}

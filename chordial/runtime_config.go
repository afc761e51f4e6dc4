package chordial

import (
	"github.com/bwmarrin/discordgo"
)

var (
	columnRuntimeConfigPaused = "paused"
)

// RuntimeConfig stores settings that can be modified while the bot is
// running, persisted across restarts as a single database row. This covers
// the 'live' application state we want to keep across restarts (e.g.,
// being paused), as opposed to [Config], which is fixed at startup.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused indicates whether the bot is currently paused. While paused,
	// play commands and chat mentions get a friendly brush-off instead of
	// being executed.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// DiscordCustomStatus is the custom status message displayed for the bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string"`

	// NotificationChannelID is the channel startup messages are sent to,
	// if set
	NotificationChannelID string `json:"notification_channel_id" gorm:"type:string"`

	// ChatEnabled toggles mention-based character replies
	ChatEnabled bool `json:"chat_enabled" gorm:"not null;default:true"`

	// ChatPersona is the character description sent as the system prompt
	// for mention-based replies
	ChatPersona string `json:"chat_persona" gorm:"type:string" binding:"omitempty,max=4000"`

	// ChatModel is the model name requested from the chat backend
	ChatModel string `json:"chat_model" gorm:"type:string" binding:"omitempty,min=1,max=100"`

	// RecommendationsEnabled toggles /recommend and autoplay-driven
	// recommendations
	RecommendationsEnabled bool `json:"recommendations_enabled" gorm:"not null;default:true"`

	// DefaultVolume is the player volume applied when a guild player is
	// created (0-1000)
	DefaultVolume int `json:"default_volume" gorm:"default:100" binding:"omitempty,min=0,max=1000"`

	// MaxTracksPerLoad caps how many tracks a single /library load or
	// playlist URL may enqueue. 0=unlimited
	MaxTracksPerLoad int `json:"max_tracks_per_load" gorm:"default:100" binding:"omitempty,min=0"`

	// DiscordErrorMessage is the generic response sent when a command fails
	DiscordErrorMessage string `json:"discord_error_message" gorm:"type:string" binding:"omitempty,min=1,max=2000"`

	// DiscordRateLimitMessage is the response sent when a user is rate-limited
	DiscordRateLimitMessage string `json:"discord_rate_limit_message" gorm:"type:string" binding:"omitempty,min=1,max=2000"`

	// LogLevel is the general logging level for the application.
	LogLevel DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// ChatLogLevel is the logging level for chat backend operations.
	ChatLogLevel DBLogLevel `gorm:"default:INFO;column:chat_log_level;type:string;check:chat_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"chat_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordLogLevel is the logging level for Discord-related operations.
	DiscordLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordGoLogLevel is the logging level for the DiscordGo library.
	DiscordGoLogLevel DBLogLevel `gorm:"default:INFO;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// LavalinkLogLevel is the logging level for audio node operations.
	LavalinkLogLevel DBLogLevel `gorm:"default:INFO;column:lavalink_log_level;type:string;check:lavalink_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"lavalink_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DatabaseLogLevel is the logging level for database operations.
	DatabaseLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// APILogLevel is the logging level for API operations.
	APILogLevel DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DiscordCustomStatus:     DefaultDiscordCustomStatus,
		ChatEnabled:             true,
		ChatPersona:             DefaultChatPersona,
		ChatModel:               DefaultChatModel,
		RecommendationsEnabled:  true,
		DefaultVolume:           DefaultPlayerVolume,
		MaxTracksPerLoad:        DefaultMaxTracksPerLoad,
		DiscordErrorMessage:     DefaultDiscordErrorMessage,
		DiscordRateLimitMessage: DefaultDiscordRateLimitMessage,
		LogLevel:                DBLogLevelInfo,
		ChatLogLevel:            DBLogLevelInfo,
		DiscordLogLevel:         DBLogLevelInfo,
		DiscordGoLogLevel:       DBLogLevelWarn,
		LavalinkLogLevel:        DBLogLevelInfo,
		DatabaseLogLevel:        DBLogLevelInfo,
		APILogLevel:             DBLogLevelInfo,
	}
}

// RuntimeConfigUpdate is the PATCH payload for runtime config updates via
// the admin API. Nil fields are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused *bool `json:"paused,omitempty"`

	DiscordCustomStatus   *string `json:"discord_custom_status,omitempty" binding:"omitnil,max=128"`
	NotificationChannelID *string `json:"notification_channel_id,omitempty"`

	ChatEnabled *bool   `json:"chat_enabled,omitempty"`
	ChatPersona *string `json:"chat_persona,omitempty" binding:"omitnil,max=4000"`
	ChatModel   *string `json:"chat_model,omitempty" binding:"omitnil,min=1,max=100"`

	RecommendationsEnabled *bool `json:"recommendations_enabled,omitempty"`
	DefaultVolume          *int  `json:"default_volume,omitempty" binding:"omitnil,min=0,max=1000"`
	MaxTracksPerLoad       *int  `json:"max_tracks_per_load,omitempty" binding:"omitnil,min=0"`

	DiscordErrorMessage     *string `json:"discord_error_message,omitempty" binding:"omitnil,min=1,max=2000"`
	DiscordRateLimitMessage *string `json:"discord_rate_limit_message,omitempty" binding:"omitnil,min=1,max=2000"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	ChatLogLevel      *DBLogLevel `json:"chat_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	LavalinkLogLevel  *DBLogLevel `json:"lavalink_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (b RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(b)
}

func getDiscordPresenceStatusUpdate(config RuntimeConfig) discordgo.GatewayStatusUpdate {
	if config.Paused {
		return discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	return discordgo.GatewayStatusUpdate{Status: config.DiscordCustomStatus}
}

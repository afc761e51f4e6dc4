package chordial

import (
	"log/slog"
)

// PlayHistory records a track that began playing in a guild. Rows feed
// the recommendation engine and the status API; the in-memory play
// history ring on [GuildQueue] is rebuilt from these at startup.
//
//nolint:lll // struct tags can't be split
type PlayHistory struct {
	ModelUintID
	ModelUnixTime

	GuildID string `json:"guild_id" gorm:"index;type:string"`

	// UserID is the Discord ID of the user who requested the track, empty
	// for tracks the bot queued itself (replay, autoplay)
	UserID string `json:"user_id" gorm:"index;type:string"`

	Title      string `json:"title" gorm:"type:string"`
	Author     string `json:"author" gorm:"type:string"`
	URI        string `json:"uri" gorm:"type:string"`
	Identifier string `json:"identifier" gorm:"type:string"`
	SourceName string `json:"source_name" gorm:"type:string"`

	// DurationMS is the track length in milliseconds
	DurationMS int64 `json:"duration_ms"`

	// Recommended indicates the track was queued by the recommendation
	// engine rather than a user
	Recommended bool `json:"recommended" gorm:"default:false"`
}

func (p PlayHistory) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", p.GuildID),
		slog.String("title", p.Title),
		slog.String("author", p.Author),
		slog.Bool("recommended", p.Recommended),
	)
}

// ChatExchange records a single mention-based chat round trip: the user's
// prompt, the character's reply, and what it cost.
//
//nolint:lll // struct tags can't be split
type ChatExchange struct {
	ModelUintID
	ModelUnixTime

	UserID    string `json:"user_id" gorm:"index;type:string"`
	GuildID   string `json:"guild_id" gorm:"type:string"`
	ChannelID string `json:"channel_id" gorm:"index;type:string"`
	MessageID string `json:"message_id" gorm:"type:string"`

	// Prompt is the message content sent to the chat backend, with the
	// bot mention stripped and the author's display name prefixed
	Prompt string `json:"prompt" gorm:"type:string"`

	// Response is the reply from the chat backend (empty on error)
	Response string `json:"response" gorm:"type:string"`

	// Model actually used for the completion
	Model string `json:"model" gorm:"type:string"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Error holds the backend error, if the exchange failed
	Error string `json:"error" gorm:"type:string"`
}

func (c ChatExchange) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", c.UserID),
		slog.String("channel_id", c.ChannelID),
		slog.Int("total_tokens", c.TotalTokens),
		slog.String("error", c.Error),
	)
}

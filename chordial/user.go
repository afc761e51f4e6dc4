package chordial

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

var (
	columnUserID         = "id"
	columnUserIgnored    = "ignored"
	columnUserUsername   = "username"
	columnUserGlobalName = "global_name"
	columnUserLastSeen   = "last_seen"
)

// User is a record of a Discord user, and their current state.
// See: https://discord.com/developers/docs/resources/user
//
//nolint:lll // struct tags can't be split
type User struct {
	//
	// The first set of fields are set from the Discord user object
	//

	// ID is the Discord user ID
	ID string `json:"id" gorm:"primaryKey;unique;type:string"`

	// Username, not unique
	Username string `json:"username" gorm:"type:string"`

	// User's display name - for bots, the application name
	GlobalName string `json:"global_name" gorm:"type:string"`

	// Indicates this user is a Discord bot user. Bots will be ignored
	// by default.
	Bot bool `json:"bot" gorm:"type:bool"`

	// JSON content of the discord user object
	Content string `json:"content" gorm:"type:string"`

	//
	// The fields below are bot-specific
	//

	// If true, commands and chat mentions from this user will be ignored
	Ignored bool `json:"ignored" gorm:"type:bool;default:false"`

	// LastSeen is the last time this user was seen in a Discord interaction
	// or chat mention
	LastSeen int64 `json:"last_seen" gorm:"column:last_seen"`

	ModelUnixTime
}

func NewUser(u discordgo.User) *User {
	content, _ := json.Marshal(u)
	user := User{
		ID:         u.ID,
		Username:   u.Username,
		Ignored:    false,
		Content:    string(content),
		GlobalName: u.GlobalName,
		Bot:        u.Bot,
		LastSeen:   time.Now().UTC().UnixMilli(),
	}
	if u.Bot {
		user.Ignored = true
	}

	return &user
}

func (u *User) String() string {
	return fmt.Sprintf("%s [%s]", u.Username, u.ID)
}

// DisplayName returns the name shown in chat prompts and embeds - the
// user's global display name when set, otherwise their username
func (u *User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// ChatExchangesSince returns the user's chat exchanges created at or
// after the given time, oldest first
func (u *User) ChatExchangesSince(
	db *gorm.DB,
	since time.Time,
) ([]ChatExchange, error) {
	var exchanges []ChatExchange
	err := db.Model(&ChatExchange{}).Where(
		"user_id = ? AND created_at >= ?",
		u.ID,
		since.UTC().UnixMilli(),
	).Order("created_at asc").Find(&exchanges).Error
	return exchanges, err
}

func (u *User) LogValue() slog.Value {
	if u == nil {
		return slog.Value{}
	}
	attrs := []slog.Attr{
		slog.String(columnUserID, u.ID),
		slog.String("username", u.Username),
		slog.String("global_name", u.GlobalName),
		slog.Bool("ignored", u.Ignored),
	}

	return slog.GroupValue(attrs...)
}

// userChangedDiscordUsername compares [User.Username] and [User.GlobalName]
// with the given discordgo.User, and returns a bool indicating whether either
// field has changed (true) or not (false). This helps avoid 'drift'
// if the user updates their Discord profile.
func (u *User) userChangedDiscordUsername(du discordgo.User) bool {
	return u.Username != du.Username || u.GlobalName != du.GlobalName
}

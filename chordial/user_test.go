package chordial

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	user := NewUser(
		discordgo.User{
			ID:         "12345",
			Username:   "someuser",
			GlobalName: "Some User",
		},
	)
	assert.Equal(t, "12345", user.ID)
	assert.Equal(t, "someuser", user.Username)
	assert.Equal(t, "Some User", user.GlobalName)
	assert.False(t, user.Ignored)
	assert.NotZero(t, user.LastSeen)
	assert.NotEmpty(t, user.Content)

	bot := NewUser(discordgo.User{ID: "6789", Username: "botuser", Bot: true})
	assert.True(t, bot.Bot)
	assert.True(t, bot.Ignored, "bot users should be ignored by default")
}

func TestUserDisplayName(t *testing.T) {
	user := User{Username: "someuser", GlobalName: "Some User"}
	assert.Equal(t, "Some User", user.DisplayName())

	user.GlobalName = ""
	assert.Equal(t, "someuser", user.DisplayName())
}

func TestGetOrCreateUser(t *testing.T) {
	ctx := context.Background()
	db := testWriteDB(t)

	discordUser := discordgo.User{
		ID:         "12345",
		Username:   "someuser",
		GlobalName: "Some User",
	}

	user, created, err := db.GetOrCreateUser(ctx, discordUser)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "12345", user.ID)

	again, created, err := db.GetOrCreateUser(ctx, discordUser)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, again.ID)

	// picking up a username change
	discordUser.Username = "renamed"
	discordUser.GlobalName = "Renamed User"
	updated, created, err := db.GetOrCreateUser(ctx, discordUser)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "renamed", updated.Username)
	assert.Equal(t, "Renamed User", updated.GlobalName)

	var stored User
	require.NoError(t, db.DB().Where("id = ?", "12345").First(&stored).Error)
	assert.Equal(t, "renamed", stored.Username)
}

func TestReloadUser(t *testing.T) {
	ctx := context.Background()
	db := testWriteDB(t)

	_, _, err := db.GetOrCreateUser(ctx, discordgo.User{ID: "12345"})
	require.NoError(t, err)

	user := db.GetUser("12345")
	require.NotNil(t, user)

	_, err = db.Update(ctx, user, columnUserIgnored, true)
	require.NoError(t, err)

	reloaded := db.ReloadUser("12345")
	require.NotNil(t, reloaded)
	assert.True(t, reloaded.Ignored)

	assert.Nil(t, db.ReloadUser("does-not-exist"))
}

func TestChatExchangesSince(t *testing.T) {
	ctx := context.Background()
	db := testWriteDB(t)
	user := &User{ID: "12345"}
	_, err := db.Create(ctx, user)
	require.NoError(t, err)

	old := &ChatExchange{UserID: user.ID, Prompt: "old"}
	old.CreatedAt = time.Now().Add(-48 * time.Hour).UnixMilli()
	_, err = db.Create(ctx, old)
	require.NoError(t, err)

	recent := &ChatExchange{UserID: user.ID, Prompt: "recent"}
	recent.CreatedAt = time.Now().Add(-time.Hour).UnixMilli()
	_, err = db.Create(ctx, recent)
	require.NoError(t, err)

	exchanges, err := user.ChatExchangesSince(
		db.DB(), time.Now().Add(-24*time.Hour),
	)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, "recent", exchanges[0].Prompt)
}

func TestUserChangedDiscordUsername(t *testing.T) {
	user := User{Username: "someuser", GlobalName: "Some User"}
	assert.False(
		t, user.userChangedDiscordUsername(
			discordgo.User{Username: "someuser", GlobalName: "Some User"},
		),
	)
	assert.True(
		t, user.userChangedDiscordUsername(
			discordgo.User{Username: "renamed", GlobalName: "Some User"},
		),
	)
}

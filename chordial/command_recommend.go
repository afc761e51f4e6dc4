package chordial

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleRecommend implements /recommend: pick tracks from the guild's
// play history and queue them up.
func (c *Chordial) handleRecommend(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *User,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}

	if !c.RuntimeConfig().RecommendationsEnabled {
		c.editInteractionContent(ctx, i, "Recommendations are disabled right now.")
		return
	}

	count := 1
	options := discordInteractionOptions(i)
	if countOpt, found := options["count"]; found {
		count = int(countOpt.IntValue())
	}

	voiceChannelID := c.requireVoiceChannel(ctx, i, user.ID)
	if voiceChannelID == "" {
		return
	}

	queue := c.queues.Get(i.GuildID)
	queue.SetChannelID(i.ChannelID)

	tracks, err := c.recommender.Recommend(ctx, queue, count)
	if err != nil {
		if errors.Is(err, ErrNoHistory) {
			c.editInteractionContent(
				ctx, i,
				"I don't know your taste yet - play some songs first, then ask me again!",
			)
			return
		}
		log.ErrorContext(ctx, "error finding recommendations", tint.Err(err))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}

	added := 0
	for _, track := range tracks {
		if addErr := queue.Add(track); addErr != nil {
			break
		}
		added++
	}
	if added == 0 {
		c.editInteractionContent(
			ctx, i, fmt.Sprintf(
				"The queue is full (max %d songs)!", c.config.Player.MaxQueueSize,
			),
		)
		return
	}

	if joinErr := c.discord.joinVoiceChannel(i.GuildID, voiceChannelID); joinErr != nil {
		log.ErrorContext(ctx, "error joining voice channel", tint.Err(joinErr))
		c.editInteractionContent(ctx, i, "I couldn't join your voice channel!")
		return
	}
	if _, startErr := c.players.StartPlayback(ctx, i.GuildID, user.ID); startErr != nil {
		log.ErrorContext(ctx, "error starting playback", tint.Err(startErr))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}

	lines := make([]string, 0, added)
	for _, track := range tracks[:added] {
		lines = append(lines, fmt.Sprintf("- %s", trackLink(track)))
	}
	c.editInteractionContent(
		ctx, i, fmt.Sprintf(
			"Based on what you've been listening to, I queued:\n%s",
			strings.Join(lines, "\n"),
		),
	)
}

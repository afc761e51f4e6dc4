package chordial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const guildOnlyMessage = "That only works in a server!"

// editInteractionContent replaces the deferred interaction response with
// plain text content.
func (c *Chordial) editInteractionContent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	if _, err := c.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		log.ErrorContext(
			ctx,
			"error editing interaction response",
			tint.Err(err),
			slog.Group("interaction", interactionLogAttrs(*i)...),
		)
	}
}

// editInteractionEmbed replaces the deferred interaction response with
// an embed.
func (c *Chordial) editInteractionEmbed(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := c.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Embeds: &embeds},
	); err != nil {
		log.ErrorContext(
			ctx,
			"error editing interaction response",
			tint.Err(err),
			slog.Group("interaction", interactionLogAttrs(*i)...),
		)
	}
}

// requireVoiceChannel resolves the caller's voice channel, and verifies
// the bot isn't already busy in a different one. Returns the channel ID,
// or empty after replying with the reason.
func (c *Chordial) requireVoiceChannel(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	userID string,
) string {
	channelID := c.discord.userVoiceChannelID(i.GuildID, userID)
	if channelID == "" {
		c.editInteractionContent(ctx, i, "Join a voice channel first!")
		return ""
	}
	botUser := c.discord.session.BotUser()
	if botUser != nil {
		botChannelID := c.discord.userVoiceChannelID(i.GuildID, botUser.ID)
		if botChannelID != "" && botChannelID != channelID {
			player := c.lavalink.ExistingPlayer(i.GuildID)
			if player != nil && player.Track() != nil {
				c.editInteractionContent(
					ctx, i, "I'm already playing in another voice channel!",
				)
				return ""
			}
		}
	}
	return channelID
}

// handlePlay implements /play and /playnext: resolve the query, queue
// the result, join voice, and start playback if idle.
func (c *Chordial) handlePlay(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *User,
	next bool,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}

	options := discordInteractionOptions(i)
	query := options[playCommandQueryOption].StringValue()

	voiceChannelID := c.requireVoiceChannel(ctx, i, user.ID)
	if voiceChannelID == "" {
		return
	}

	tracks, playlistName, err := c.lavalink.LoadTracks(ctx, query)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoResults):
			c.editInteractionContent(
				ctx, i, fmt.Sprintf("No results found for **%s**", query),
			)
		default:
			log.ErrorContext(ctx, "error loading tracks", tint.Err(err), "query", query)
			c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		}
		return
	}

	if maxLoad := c.RuntimeConfig().MaxTracksPerLoad; maxLoad > 0 && len(tracks) > maxLoad {
		tracks = tracks[:maxLoad]
	}

	queue := c.queues.Get(i.GuildID)
	queue.SetChannelID(i.ChannelID)

	var added int
	var addErr error
	if next {
		added, addErr = queue.AddAllNext(tracks)
	} else {
		added, addErr = queue.AddAll(tracks)
	}
	if addErr != nil && added == 0 {
		c.editInteractionContent(
			ctx, i, fmt.Sprintf("The queue is full (max %d songs)!", c.config.Player.MaxQueueSize),
		)
		return
	}

	if joinErr := c.discord.joinVoiceChannel(i.GuildID, voiceChannelID); joinErr != nil {
		log.ErrorContext(ctx, "error joining voice channel", tint.Err(joinErr))
		c.editInteractionContent(ctx, i, "I couldn't join your voice channel!")
		return
	}

	started, startErr := c.players.StartPlayback(ctx, i.GuildID, user.ID)
	if startErr != nil {
		log.ErrorContext(ctx, "error starting playback", tint.Err(startErr))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}

	switch {
	case playlistName != "":
		msg := fmt.Sprintf("Queued **%d** tracks from **%s**", added, playlistName)
		if addErr != nil {
			msg += " (queue is now full)"
		}
		c.editInteractionContent(ctx, i, msg)
	case started:
		c.editInteractionContent(
			ctx, i, fmt.Sprintf("Now playing %s", trackLink(tracks[0])),
		)
	default:
		position := queue.Len()
		if next {
			position = 1
		}
		c.editInteractionEmbed(ctx, i, newTrackAddedEmbed(tracks[0], position, next))
	}
}

func (c *Chordial) handlePause(ctx context.Context, i *discordgo.InteractionCreate) {
	if err := c.players.Pause(ctx, i.GuildID, true); err != nil {
		c.editInteractionContent(ctx, i, "Nothing is playing!")
		return
	}
	c.editInteractionContent(ctx, i, "Paused ⏸️")
}

func (c *Chordial) handleResume(ctx context.Context, i *discordgo.InteractionCreate) {
	if err := c.players.Pause(ctx, i.GuildID, false); err != nil {
		c.editInteractionContent(ctx, i, "Nothing is playing!")
		return
	}
	c.editInteractionContent(ctx, i, "Resumed ▶️")
}

func (c *Chordial) handleSkip(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *User,
) {
	player := c.lavalink.ExistingPlayer(i.GuildID)
	if player == nil || player.Track() == nil {
		c.editInteractionContent(ctx, i, "Nothing is playing!")
		return
	}
	current := player.Track()
	if err := c.players.Skip(ctx, i.GuildID, user.ID); err != nil {
		c.editInteractionContent(ctx, i, "Nothing is playing!")
		return
	}
	c.editInteractionContent(
		ctx, i, fmt.Sprintf("Skipped **%s**", current.Info.Title),
	)
}

func (c *Chordial) handleStop(ctx context.Context, i *discordgo.InteractionCreate) {
	if err := c.players.Stop(ctx, i.GuildID); err != nil {
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	c.editInteractionContent(ctx, i, "Stopped playback and cleared the queue. 👋")
}

func (c *Chordial) handleQueue(ctx context.Context, i *discordgo.InteractionCreate) {
	queue := c.queues.Get(i.GuildID)
	current := queue.Current()
	if current == nil && queue.Len() == 0 {
		c.editInteractionContent(ctx, i, "The queue is empty. Add songs with `/play`!")
		return
	}
	var position time.Duration
	if player := c.lavalink.ExistingPlayer(i.GuildID); player != nil {
		position = time.Duration(player.Position()) * time.Millisecond
	}
	embed := newQueueEmbed(
		current,
		durationToLavalink(position),
		queue.List(),
		queue.TotalDuration(),
		queue.Replay(),
	)
	c.editInteractionEmbed(ctx, i, embed)
}

func (c *Chordial) handleShuffle(ctx context.Context, i *discordgo.InteractionCreate) {
	queue := c.queues.Get(i.GuildID)
	if queue.Len() < 2 {
		c.editInteractionContent(ctx, i, "Not enough songs in the queue to shuffle!")
		return
	}
	queue.Shuffle()
	c.editInteractionContent(
		ctx, i, fmt.Sprintf("Shuffled **%d** songs 🔀", queue.Len()),
	)
}

func (c *Chordial) handleClear(ctx context.Context, i *discordgo.InteractionCreate) {
	queue := c.queues.Get(i.GuildID)
	removed := queue.Clear()
	if removed == 0 {
		c.editInteractionContent(ctx, i, "The queue is already empty!")
		return
	}
	c.editInteractionContent(
		ctx, i, fmt.Sprintf("Cleared **%d** songs from the queue", removed),
	)
}

func (c *Chordial) handleVolume(ctx context.Context, i *discordgo.InteractionCreate) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	options := discordInteractionOptions(i)
	level := int(options["level"].IntValue())
	if err := c.players.SetVolume(ctx, i.GuildID, level); err != nil {
		log.ErrorContext(ctx, "error setting volume", tint.Err(err), "level", level)
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	c.editInteractionContent(ctx, i, fmt.Sprintf("Volume set to **%d** 🔊", level))
}

func (c *Chordial) handleNowPlaying(ctx context.Context, i *discordgo.InteractionCreate) {
	player := c.lavalink.ExistingPlayer(i.GuildID)
	if player == nil || player.Track() == nil {
		c.editInteractionContent(ctx, i, "Nothing is playing!")
		return
	}
	queue := c.queues.Get(i.GuildID)
	embed := newNowPlayingEmbed(*player.Track(), player.Position(), queue.Replay())
	c.editInteractionEmbed(ctx, i, embed)
}

func (c *Chordial) handleReplay(ctx context.Context, i *discordgo.InteractionCreate) {
	queue := c.queues.Get(i.GuildID)
	if queue.ToggleReplay() {
		c.editInteractionContent(ctx, i, "Replay is **on** - the current song will repeat 🔁")
	} else {
		c.editInteractionContent(ctx, i, "Replay is **off**")
	}
}

func (c *Chordial) handleRemove(ctx context.Context, i *discordgo.InteractionCreate) {
	options := discordInteractionOptions(i)
	position := int(options["position"].IntValue())
	queue := c.queues.Get(i.GuildID)
	track, err := queue.RemoveAt(position - 1)
	if err != nil {
		c.editInteractionContent(
			ctx, i, fmt.Sprintf(
				"There's no song at position %d (the queue has %d)",
				position, queue.Len(),
			),
		)
		return
	}
	c.editInteractionContent(
		ctx, i, fmt.Sprintf("Removed **%s** from the queue", track.Info.Title),
	)
}

func (c *Chordial) handleMove(ctx context.Context, i *discordgo.InteractionCreate) {
	options := discordInteractionOptions(i)
	from := int(options["from"].IntValue())
	to := int(options["to"].IntValue())
	queue := c.queues.Get(i.GuildID)
	track, err := queue.Move(from-1, to-1)
	if err != nil {
		c.editInteractionContent(
			ctx, i, fmt.Sprintf(
				"Invalid positions (the queue has %d songs)", queue.Len(),
			),
		)
		return
	}
	c.editInteractionContent(
		ctx, i, fmt.Sprintf(
			"Moved **%s** to position %d", track.Info.Title, to,
		),
	)
}

func (c *Chordial) handleAutoplay(ctx context.Context, i *discordgo.InteractionCreate) {
	if !c.RuntimeConfig().RecommendationsEnabled {
		c.editInteractionContent(ctx, i, "Recommendations are disabled right now.")
		return
	}
	queue := c.queues.Get(i.GuildID)
	if queue.ToggleAutoplay() {
		c.editInteractionContent(
			ctx, i,
			"Autoplay is **on** - I'll keep the music going with recommendations when the queue runs out 🎶",
		)
	} else {
		c.editInteractionContent(ctx, i, "Autoplay is **off**")
	}
}

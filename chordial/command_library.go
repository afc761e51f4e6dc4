package chordial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleLibrary dispatches /library subcommands.
func (c *Chordial) handleLibrary(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *User,
) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	sub := data.Options[0]
	switch sub.Name {
	case "create":
		c.handleLibraryCreate(ctx, i, user, sub)
	case "list":
		c.handleLibraryList(ctx, i)
	case "view":
		c.handleLibraryView(ctx, i, sub)
	case "add":
		c.handleLibraryAdd(ctx, i, user, sub)
	case "save":
		c.handleLibrarySave(ctx, i, user, sub)
	case "load":
		c.handleLibraryLoad(ctx, i, user, sub)
	case "remove":
		c.handleLibraryRemove(ctx, i, sub)
	case "delete":
		c.handleLibraryDelete(ctx, i, sub)
	default:
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
	}
}

func (c *Chordial) handleLibraryCreate(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *User,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	options := subcommandOptions(sub)
	name := strings.TrimSpace(options["name"].StringValue())
	if name == "" {
		c.editInteractionContent(ctx, i, "Library names can't be empty!")
		return
	}

	library, err := c.libraries.Create(ctx, i.GuildID, name, user.ID)
	if err != nil {
		if errors.Is(err, ErrLibraryExists) {
			c.editInteractionContent(
				ctx, i, fmt.Sprintf("A library named **%s** already exists!", name),
			)
			return
		}
		log.ErrorContext(ctx, "error creating library", tint.Err(err))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	c.editInteractionContent(
		ctx, i, fmt.Sprintf(
			"Created library **%s**. Add songs with `/library add`!", library.Name,
		),
	)
}

func (c *Chordial) handleLibraryList(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	summaries, err := c.libraries.List(ctx, i.GuildID)
	if err != nil {
		log.ErrorContext(ctx, "error listing libraries", tint.Err(err))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	if len(summaries) == 0 {
		c.editInteractionContent(
			ctx, i, "No libraries yet. Create one with `/library create`!",
		)
		return
	}

	lines := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		noun := "songs"
		if summary.TrackCount == 1 {
			noun = "song"
		}
		lines = append(
			lines, fmt.Sprintf(
				"**%s** (%d %s)", summary.Name, summary.TrackCount, noun,
			),
		)
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Libraries",
		Description: strings.Join(lines, "\n"),
		Color:       embedColor,
	}
	c.editInteractionEmbed(ctx, i, embed)
}

func (c *Chordial) handleLibraryView(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	options := subcommandOptions(sub)
	name := options["name"].StringValue()
	page := 1
	if pageOpt, found := options["page"]; found {
		page = int(pageOpt.IntValue())
	}

	library, err := c.libraries.Get(ctx, i.GuildID, name)
	if err != nil {
		c.replyLibraryError(ctx, i, log, name, err)
		return
	}
	tracks, err := c.libraries.Tracks(ctx, library)
	if err != nil {
		log.ErrorContext(ctx, "error loading library tracks", tint.Err(err))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	if len(tracks) == 0 {
		c.editInteractionContent(
			ctx, i, fmt.Sprintf("**%s** is empty. Add songs with `/library add`!", library.Name),
		)
		return
	}

	pages := (len(tracks) + libraryViewPageSize - 1) / libraryViewPageSize
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * libraryViewPageSize
	end := start + libraryViewPageSize
	if end > len(tracks) {
		end = len(tracks)
	}

	var sb strings.Builder
	for n, track := range tracks[start:end] {
		duration := formatDuration(
			time.Duration(track.DurationMS) * time.Millisecond,
		)
		fmt.Fprintf(
			&sb,
			"`%d.` %s - %s `[%s]`\n",
			start+n+1,
			track.Title,
			track.Author,
			duration,
		)
	}
	embed := &discordgo.MessageEmbed{
		Title:       library.Name,
		Description: sb.String(),
		Color:       embedColor,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"Page %d/%d • %d songs", page, pages, len(tracks),
			),
		},
	}
	c.editInteractionEmbed(ctx, i, embed)
}

func (c *Chordial) handleLibraryAdd(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *User,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	options := subcommandOptions(sub)
	name := options["name"].StringValue()
	query := options["query"].StringValue()

	library, err := c.libraries.Get(ctx, i.GuildID, name)
	if err != nil {
		c.replyLibraryError(ctx, i, log, name, err)
		return
	}

	tracks, playlistName, err := c.lavalink.LoadTracks(ctx, query)
	if err != nil {
		if errors.Is(err, ErrNoResults) {
			c.editInteractionContent(
				ctx, i, fmt.Sprintf("No results found for **%s**", query),
			)
			return
		}
		log.ErrorContext(ctx, "error loading tracks", tint.Err(err), "query", query)
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}

	if playlistName != "" {
		added, addErr := c.libraries.AddAll(ctx, library, tracks, user.ID)
		if addErr != nil {
			log.ErrorContext(ctx, "error adding tracks to library", tint.Err(addErr))
			c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
			return
		}
		c.editInteractionContent(
			ctx, i, fmt.Sprintf(
				"Added **%d** songs from **%s** to **%s**",
				added, playlistName, library.Name,
			),
		)
		return
	}

	track := tracks[0]
	if err = c.libraries.AddTrack(ctx, library, track, user.ID); err != nil {
		if errors.Is(err, ErrTrackExists) {
			c.editInteractionContent(
				ctx, i, fmt.Sprintf(
					"**%s** is already in **%s**!", track.Info.Title, library.Name,
				),
			)
			return
		}
		log.ErrorContext(ctx, "error adding track to library", tint.Err(err))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	c.editInteractionContent(
		ctx, i, fmt.Sprintf(
			"Added **%s** to **%s**", track.Info.Title, library.Name,
		),
	)
}

func (c *Chordial) handleLibrarySave(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *User,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	options := subcommandOptions(sub)
	name := options["name"].StringValue()

	queue := c.queues.Get(i.GuildID)
	current := queue.Current()
	pending := queue.List()
	if current == nil && len(pending) == 0 {
		c.editInteractionContent(ctx, i, "There's nothing playing or queued to save!")
		return
	}

	library, err := c.libraries.Get(ctx, i.GuildID, name)
	if errors.Is(err, ErrLibraryNotFound) {
		library, err = c.libraries.Create(ctx, i.GuildID, name, user.ID)
	}
	if err != nil {
		log.ErrorContext(ctx, "error saving queue to library", tint.Err(err))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}

	added, err := c.libraries.SaveQueue(ctx, library, current, pending, user.ID)
	if err != nil {
		log.ErrorContext(ctx, "error saving queue to library", tint.Err(err))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	c.editInteractionContent(
		ctx, i, fmt.Sprintf(
			"Saved **%d** songs to **%s**", added, library.Name,
		),
	)
}

func (c *Chordial) handleLibraryLoad(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *User,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	options := subcommandOptions(sub)
	name := options["name"].StringValue()
	shuffle := false
	if shuffleOpt, found := options["shuffle"]; found {
		shuffle = shuffleOpt.BoolValue()
	}

	voiceChannelID := c.requireVoiceChannel(ctx, i, user.ID)
	if voiceChannelID == "" {
		return
	}

	library, err := c.libraries.Get(ctx, i.GuildID, name)
	if err != nil {
		c.replyLibraryError(ctx, i, log, name, err)
		return
	}
	saved, err := c.libraries.Tracks(ctx, library)
	if err != nil {
		log.ErrorContext(ctx, "error loading library tracks", tint.Err(err))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	if len(saved) == 0 {
		c.editInteractionContent(
			ctx, i, fmt.Sprintf("**%s** is empty!", library.Name),
		)
		return
	}

	tracks := c.libraries.Resolve(
		ctx, saved, shuffle, c.RuntimeConfig().MaxTracksPerLoad,
	)
	if len(tracks) == 0 {
		c.editInteractionContent(
			ctx, i, fmt.Sprintf(
				"I couldn't resolve any songs from **%s** right now.", library.Name,
			),
		)
		return
	}

	queue := c.queues.Get(i.GuildID)
	queue.SetChannelID(i.ChannelID)
	added, addErr := queue.AddAll(tracks)
	if addErr != nil && added == 0 {
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

	msg := fmt.Sprintf("Queued **%d** songs from **%s**", added, library.Name)
	if shuffle {
		msg += " 🔀"
	}
	if addErr != nil {
		msg += " (queue is now full)"
	}
	c.editInteractionContent(ctx, i, msg)
}

func (c *Chordial) handleLibraryRemove(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	options := subcommandOptions(sub)
	name := options["name"].StringValue()
	position := int(options["position"].IntValue())

	library, err := c.libraries.Get(ctx, i.GuildID, name)
	if err != nil {
		c.replyLibraryError(ctx, i, log, name, err)
		return
	}
	track, err := c.libraries.RemoveTrack(ctx, library, position)
	if err != nil {
		if errors.Is(err, ErrIndexOutOfRange) {
			c.editInteractionContent(
				ctx, i, fmt.Sprintf(
					"There's no song at position %d in **%s**", position, library.Name,
				),
			)
			return
		}
		log.ErrorContext(ctx, "error removing library track", tint.Err(err))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	c.editInteractionContent(
		ctx, i, fmt.Sprintf(
			"Removed **%s** from **%s**", track.Title, library.Name,
		),
	)
}

func (c *Chordial) handleLibraryDelete(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = c.logger
	}
	options := subcommandOptions(sub)
	name := options["name"].StringValue()

	library, err := c.libraries.Get(ctx, i.GuildID, name)
	if err != nil {
		c.replyLibraryError(ctx, i, log, name, err)
		return
	}
	if err = c.libraries.Delete(ctx, library); err != nil {
		log.ErrorContext(ctx, "error deleting library", tint.Err(err))
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
		return
	}
	c.editInteractionContent(
		ctx, i, fmt.Sprintf("Deleted library **%s**", library.Name),
	)
}

func (c *Chordial) replyLibraryError(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	log *slog.Logger,
	name string,
	err error,
) {
	if errors.Is(err, ErrLibraryNotFound) {
		c.editInteractionContent(
			ctx, i, fmt.Sprintf("There's no library named **%s**!", name),
		)
		return
	}
	log.ErrorContext(ctx, "library lookup failed", tint.Err(err), "name", name)
	c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
}

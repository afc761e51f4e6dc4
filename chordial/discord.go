package chordial

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandPlay       = "play"
	DiscordSlashCommandPlayNext   = "playnext"
	DiscordSlashCommandPause      = "pause"
	DiscordSlashCommandResume     = "resume"
	DiscordSlashCommandSkip       = "skip"
	DiscordSlashCommandStop       = "stop"
	DiscordSlashCommandQueue      = "queue"
	DiscordSlashCommandShuffle    = "shuffle"
	DiscordSlashCommandClear      = "clear"
	DiscordSlashCommandVolume     = "volume"
	DiscordSlashCommandNowPlaying = "nowplaying"
	DiscordSlashCommandReplay     = "replay"
	DiscordSlashCommandRemove     = "remove"
	DiscordSlashCommandMove       = "move"
	DiscordSlashCommandRecommend  = "recommend"
	DiscordSlashCommandAutoplay   = "autoplay"
	DiscordSlashCommandLibrary    = "library"

	playCommandQueryOption = "query"

	// embedColor is the accent color used on bot embeds
	embedColor = 0x5865f2

	queueEmbedPageSize = 10
)

// Discord manages the gateway session: connection lifecycle, slash
// command registration, and the event handlers that feed interactions,
// chat mentions, and voice updates into the rest of the bot.
//
// Fields:
//   - session: The Discord session handler (wraps discordgo.Session).
//   - connected: Atomic boolean indicating if the gateway connection is active.
//   - discordgoRemoveHandlerFuncs: Slice of functions to remove gateway event handlers.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	c                           *Chordial
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes a new Discord session for the Discord struct.
// It sets up the session with the appropriate logger, token, and configuration.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	// state tracking is needed to resolve voice channel membership
	disc.StateEnabled = true
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level())
	if err != nil {
		return session, err
	}

	return session, nil
}

// channelMessageSend sends the given message to the given discord channel ID
func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	if d.session == nil {
		return nil, nil
	}
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

// channelMessageSendEmbed sends the given embed to the given channel ID
func (d *Discord) channelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	if d.session == nil {
		return nil, nil
	}
	return d.session.ChannelMessageSendEmbed(channelID, embed, opts...)
}

// joinVoiceChannel asks the gateway to move the bot into the given voice
// channel (muted=false, deafened=true). The resulting voice state and
// voice server updates are forwarded to the audio node client.
func (d *Discord) joinVoiceChannel(guildID string, channelID string) error {
	return d.session.ChannelVoiceJoinManual(guildID, channelID, false, true)
}

// leaveVoiceChannel disconnects the bot from voice in the given guild.
func (d *Discord) leaveVoiceChannel(guildID string) error {
	if d.session == nil {
		return nil
	}
	return d.session.ChannelVoiceJoinManual(guildID, "", false, true)
}

// userVoiceChannelID returns the voice channel the given user is in, or
// empty if they aren't in one.
func (d *Discord) userVoiceChannelID(guildID string, userID string) string {
	vs, err := d.session.UserVoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, _ *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			columnUserID, s.State.User.ID,
			"username", s.State.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
		config := d.c.RuntimeConfig()
		if config.NotificationChannelID != "" && d.config.StartupMessage != "" {
			if _, sendErr := d.channelMessageSend(
				config.NotificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

// handlerVoiceServerUpdate forwards voice server updates to the audio
// node client, which needs them to stream into the voice channel.
func (d *Discord) handlerVoiceServerUpdate() func(
	s *discordgo.Session,
	e *discordgo.VoiceServerUpdate,
) {
	return func(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
		d.logger.Debug(
			"voice server update",
			"guild_id", e.GuildID,
			"endpoint", e.Endpoint,
		)
		d.c.lavalink.OnVoiceServerUpdate(
			context.Background(), e.GuildID, e.Token, e.Endpoint,
		)
	}
}

// handlerVoiceStateUpdate forwards the bot's own voice state to the audio
// node client, and watches for the bot being left alone in a channel.
func (d *Discord) handlerVoiceStateUpdate() func(
	s *discordgo.Session,
	e *discordgo.VoiceStateUpdate,
) {
	return func(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		botID := ""
		if s.State != nil && s.State.User != nil {
			botID = s.State.User.ID
		}
		if e.UserID == botID {
			d.c.lavalink.OnVoiceStateUpdate(
				context.Background(), e.GuildID, e.ChannelID, e.SessionID,
			)
			return
		}
		d.c.checkAloneInVoice(e.GuildID)
	}
}

// handlerGuildDelete cleans up queue and player state when the bot is
// removed from a guild.
func (d *Discord) handlerGuildDelete() func(
	s *discordgo.Session,
	e *discordgo.GuildDelete,
) {
	return func(_ *discordgo.Session, e *discordgo.GuildDelete) {
		if e.Unavailable {
			// outage, not a removal
			return
		}
		d.logger.Info("removed from guild", "guild_id", e.ID)
		d.c.cleanupGuild(context.Background(), e.ID)
	}
}

func (d *Discord) updateCustomStatus(status string) error {
	if d.session == nil {
		return nil
	}
	return d.session.UpdateCustomStatus(status)
}

func (d *Discord) updateStatusComplex(data discordgo.UpdateStatusData) error {
	if d.session == nil {
		return nil
	}
	return d.session.UpdateStatusComplex(data)
}

// appCommands returns the full slash command set, built against the
// current runtime config.
func (d *Discord) appCommands(_ RuntimeConfig) []*discordgo.ApplicationCommand {
	minQueryLength := 1
	positionMin := float64(1)
	volumeMin := float64(0)
	recommendCountMin := float64(1)
	pageMin := float64(1)

	queryOption := func(description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        playCommandQueryOption,
			Description: description,
			Required:    true,
			MinLength:   &minQueryLength,
		}
	}
	libraryNameOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "name",
		Description: "Library name",
		Required:    true,
		MinLength:   &minQueryLength,
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandPlay,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Play a song or playlist (URL or search)",
			Options: []*discordgo.ApplicationCommandOption{
				queryOption("Song URL, playlist URL, or search terms"),
			},
		},
		{
			Name:        DiscordSlashCommandPlayNext,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Add a song to the front of the queue",
			Options: []*discordgo.ApplicationCommandOption{
				queryOption("Song URL, playlist URL, or search terms"),
			},
		},
		{
			Name:        DiscordSlashCommandPause,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Pause the current song",
		},
		{
			Name:        DiscordSlashCommandResume,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Resume the current song",
		},
		{
			Name:        DiscordSlashCommandSkip,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Skip to the next song in the queue",
		},
		{
			Name:        DiscordSlashCommandStop,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Stop playback, clear the queue and leave the voice channel",
		},
		{
			Name:        DiscordSlashCommandQueue,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Show the current queue",
		},
		{
			Name:        DiscordSlashCommandShuffle,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Shuffle the queue",
		},
		{
			Name:        DiscordSlashCommandClear,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Clear the queue (keeps the current song playing)",
		},
		{
			Name:        DiscordSlashCommandVolume,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Set the player volume",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "level",
					Description: "Volume level (0-1000)",
					Required:    true,
					MinValue:    &volumeMin,
					MaxValue:    1000,
				},
			},
		},
		{
			Name:        DiscordSlashCommandNowPlaying,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Show the current song and playback position",
		},
		{
			Name:        DiscordSlashCommandReplay,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Toggle replaying the current song on repeat",
		},
		{
			Name:        DiscordSlashCommandRemove,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Remove a song from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "position",
					Description: "Queue position to remove (1 = next up)",
					Required:    true,
					MinValue:    &positionMin,
				},
			},
		},
		{
			Name:        DiscordSlashCommandMove,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Move a song to a different queue position",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "from",
					Description: "Current position",
					Required:    true,
					MinValue:    &positionMin,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "to",
					Description: "New position",
					Required:    true,
					MinValue:    &positionMin,
				},
			},
		},
		{
			Name:        DiscordSlashCommandRecommend,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Queue recommendations based on this server's listening history",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "count",
					Description: "Number of recommendations (1-10)",
					Required:    false,
					MinValue:    &recommendCountMin,
					MaxValue:    10,
				},
			},
		},
		{
			Name:        DiscordSlashCommandAutoplay,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Toggle autoplaying recommendations when the queue runs out",
		},
		{
			Name:        DiscordSlashCommandLibrary,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Manage saved track libraries",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "create",
					Description: "Create a new library",
					Options: []*discordgo.ApplicationCommandOption{
						libraryNameOption,
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List this server's libraries",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "view",
					Description: "View the tracks in a library",
					Options: []*discordgo.ApplicationCommandOption{
						libraryNameOption,
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "page",
							Description: "Page number",
							Required:    false,
							MinValue:    &pageMin,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Add a song or playlist to a library",
					Options: []*discordgo.ApplicationCommandOption{
						libraryNameOption,
						queryOption("Song URL, playlist URL, or search terms"),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "save",
					Description: "Save the current song and queue to a library",
					Options: []*discordgo.ApplicationCommandOption{
						libraryNameOption,
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "load",
					Description: "Queue all tracks from a library",
					Options: []*discordgo.ApplicationCommandOption{
						libraryNameOption,
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "shuffle",
							Description: "Shuffle the tracks before queueing",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove a track from a library",
					Options: []*discordgo.ApplicationCommandOption{
						libraryNameOption,
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "position",
							Description: "Track number (as shown by /library view)",
							Required:    true,
							MinValue:    &positionMin,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "delete",
					Description: "Delete a library",
					Options: []*discordgo.ApplicationCommandOption{
						libraryNameOption,
					},
				},
			},
		},
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	runtimeConfig RuntimeConfig,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := d.appCommands(runtimeConfig)

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command_name", c.Name)
	}

	return created, nil
}

func (*Discord) ackResponse() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}
}

// newNowPlayingEmbed renders the now-playing card with a progress bar.
func newNowPlayingEmbed(
	track lavalink.Track,
	position lavalink.Duration,
	replay bool,
) *discordgo.MessageEmbed {
	title := "Now Playing"
	if replay {
		title = "Now Playing (on repeat)"
	}
	embed := &discordgo.MessageEmbed{
		Title: title,
		Color: embedColor,
		Description: fmt.Sprintf(
			"%s\n```%s```",
			trackLink(track),
			progressBar(
				time.Duration(position)*time.Millisecond,
				time.Duration(track.Info.Length)*time.Millisecond,
			),
		),
	}
	if thumbnail := trackThumbnailURL(track); thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: thumbnail}
	}
	return embed
}

// newQueueEmbed renders the queue overview: the current track, the next
// page of pending tracks, and totals.
func newQueueEmbed(
	current *lavalink.Track,
	position lavalink.Duration,
	tracks []lavalink.Track,
	totalDuration time.Duration,
	replay bool,
) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Queue",
		Color: embedColor,
	}

	if current != nil {
		nowPlaying := trackLink(*current)
		if replay {
			nowPlaying += " 🔁"
		}
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name: "Now Playing",
				Value: fmt.Sprintf(
					"%s\n```%s```",
					nowPlaying,
					progressBar(
						time.Duration(position)*time.Millisecond,
						time.Duration(current.Info.Length)*time.Millisecond,
					),
				),
			},
		)
	}

	if len(tracks) == 0 {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  "Up Next",
				Value: "Nothing queued",
			},
		)
	} else {
		upNext := ""
		for i, track := range tracks {
			if i >= queueEmbedPageSize {
				break
			}
			upNext += fmt.Sprintf(
				"`%d.` %s `%s`\n",
				i+1,
				trackLink(track),
				formatDuration(time.Duration(track.Info.Length)*time.Millisecond),
			)
		}
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  "Up Next",
				Value: upNext,
			},
		)
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"%d songs in queue • %s total",
				len(tracks),
				formatDuration(totalDuration),
			),
		}
	}
	return embed
}

// newTrackAddedEmbed renders the confirmation for a queued track.
func newTrackAddedEmbed(
	track lavalink.Track,
	queuePosition int,
	next bool,
) *discordgo.MessageEmbed {
	title := "Added to Queue"
	if next {
		title = "Playing Next"
	}
	embed := &discordgo.MessageEmbed{
		Title: title,
		Color: embedColor,
		Description: fmt.Sprintf(
			"%s `%s`",
			trackLink(track),
			formatDuration(time.Duration(track.Info.Length)*time.Millisecond),
		),
	}
	if queuePosition > 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Position %d in queue", queuePosition),
		}
	}
	if thumbnail := trackThumbnailURL(track); thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: thumbnail}
	}
	return embed
}

// DiscordSessionHandler defines the interface for handling Discord
// sessions. This basically defines methods from `discordgo.Session`
// which are used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSend sends a message to a specified channel.
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendEmbed sends an embed to a specified channel.
	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendReply sends a message to the given channel, as a
	// reply to the referenced message
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelVoiceJoinManual sends a voice state update to the gateway,
	// moving the bot into (or, with an empty channel ID, out of) a voice
	// channel. The resulting events are consumed by the audio node client.
	ChannelVoiceJoinManual(
		guildID string,
		channelID string,
		mute bool,
		deaf bool,
	) error

	// UserVoiceState returns the cached voice state for a user in a guild
	UserVoiceState(guildID string, userID string) (*discordgo.VoiceState, error)

	// GuildVoiceStates returns all cached voice states for a guild
	GuildVoiceStates(guildID string) []*discordgo.VoiceState

	// ApplicationCommandBulkOverwrite overwrites Discord application
	// commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	// If empty, sets the bot user to active and removes any existing
	// custom status.
	UpdateCustomStatus(status string) error

	// UpdateStatusComplex sends the given status update, untouched
	UpdateStatusComplex(data discordgo.UpdateStatusData) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionResponseDelete deletes the given interaction
	InteractionResponseDelete(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) error

	// BotUser returns the bot's own user from session state, nil before
	// the gateway connection is established
	BotUser() *discordgo.User

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	GatewayBot(options ...discordgo.RequestOption) (st *discordgo.GatewayBotResponse, err error)
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) GatewayBot(options ...discordgo.RequestOption) (
	st *discordgo.GatewayBotResponse,
	err error,
) {
	gb, err := d.session.GatewayBot(options...)
	if err != nil {
		d.logger.Error("error retrieving gateway bot", tint.Err(err))
	}
	return gb, err
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(
		channelID, content, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelVoiceJoinManual(
	guildID string,
	channelID string,
	mute bool,
	deaf bool,
) error {
	return d.session.ChannelVoiceJoinManual(guildID, channelID, mute, deaf)
}

func (d DiscordSession) UserVoiceState(
	guildID string,
	userID string,
) (*discordgo.VoiceState, error) {
	return d.session.State.VoiceState(guildID, userID)
}

func (d DiscordSession) GuildVoiceStates(guildID string) []*discordgo.VoiceState {
	guild, err := d.session.State.Guild(guildID)
	if err != nil || guild == nil {
		return nil
	}
	return guild.VoiceStates
}

func (d DiscordSession) BotUser() *discordgo.User {
	if d.session.State == nil {
		return nil
	}
	return d.session.State.User
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) InteractionResponseDelete(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionResponseDelete(interaction, options...)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendEmbed(channelID, embed, opts...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command_name", c.Name)
	}

	return created, nil
}

func (d DiscordSession) UpdateCustomStatus(
	status string,
) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) UpdateStatusComplex(
	data discordgo.UpdateStatusData,
) error {
	return d.session.UpdateStatusComplex(data)
}

package chordial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/chordial-bot/chordial/chordial.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout

	// chatRequestSendTimeout bounds how long the message handler waits to
	// hand a mention to a busy chat worker before dropping it
	chatRequestSendTimeout = time.Second
)

// Chordial is the main application struct: a Discord music bot that
// plays audio through a Lavalink node, with per-guild queues, saved
// libraries, play-history recommendations, and mention chat.
type Chordial struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. When using
	// sqlite, a mutex serializes writes.
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Connection to the Lavalink audio node
	lavalink *Lavalink

	// Per-guild track queues
	queues *QueueManager

	// Per-guild playback workers
	players *PlayerManager

	// Saved per-guild track libraries
	libraries *LibraryManager

	// Play-history based track recommendations
	recommender *Recommender

	// Persona chat via the OpenAI API. Nil when no chat token is
	// configured.
	chat *Chat

	// Provides the back-end status/admin API
	api *API

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished
	// initializing: database open, state loaded, node connected,
	// discord session open, commands registered
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// If true, the bot replies to commands with the paused message
	// instead of executing them
	paused atomic.Bool

	// The time Run was called
	startedAt time.Time

	// A map of user IDs to chat workers
	chatWorkers   map[string]*chatWorker
	chatWorkersMu sync.Mutex

	chatRequestsInProgress atomic.Int64
	commandsInProgress     atomic.Int64

	// commandLimiters holds the per-user slash command cooldown limiters
	commandLimiters   map[string]*rate.Limiter
	commandLimitersMu sync.Mutex

	// Runtime-configurable settings - things you may want to
	// change without restarting the bot.
	runtimeConfig *RuntimeConfig

	// protecc the runtime config
	cfgMu sync.RWMutex
}

// New creates and initializes a new Chordial instance. Run must be
// called on the returned instance to start the bot.
func New(config *Config) (*Chordial, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	c := &Chordial{
		config:          config,
		signalReady:     make(chan struct{}, 1),
		eventShutdown:   make(chan struct{}, 1),
		chatWorkers:     map[string]*chatWorker{},
		commandLimiters: map[string]*rate.Limiter{},
	}

	c.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	c.logger = slog.New(c.logHandler)
	slog.SetDefault(c.logger)

	c.config.Discord.httpClient = config.HTTPClient

	disc, err := newDiscord(config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.c = c
		c.discord = disc
	}

	c.lavalink = NewLavalink(
		config.Lavalink,
		config.Player.SearchType,
		slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.Lavalink.LogLevel,
					AddSource: true,
				},
			),
		),
	)

	api, err := newAPI(c, config.API)
	errs = append(errs, err)
	c.api = api

	return c, errors.Join(errs...)
}

func (c *Chordial) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = c.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// RuntimeConfig returns a copy of the current runtime configuration
func (c *Chordial) RuntimeConfig() RuntimeConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return *c.runtimeConfig
}

func (c *Chordial) ValidateConfig() error {
	return structValidator.Struct(c.config)
}

// GetOrCreateUser returns the cached/persisted record for a discord user.
func (c *Chordial) GetOrCreateUser(
	ctx context.Context,
	u discordgo.User,
) (*User, bool, error) {
	return c.writeDB.GetOrCreateUser(ctx, u)
}

// RegisterSlashCommands bulk-overwrites the bot's application commands.
func (c *Chordial) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return c.discord.registerCommands(c.RuntimeConfig(), options...)
}

// Run starts the bot: opens the database, loads state, connects to the
// Lavalink node and Discord, registers commands, and serves the API.
// It blocks until the context is canceled or a stop signal is received,
// then shuts down gracefully.
func (c *Chordial) Run(ctx context.Context) error {
	// prevents concurrent runs
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.signalStop = make(chan struct{}, 1)
	c.startedAt = time.Now()
	logger := c.logger

	if err := c.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(
		ctx,
		slog.LevelInfo,
		"starting",
		slog.Any("config", c.config),
	)

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.signalStop:
			c.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			c.logger.Warn("context canceled, sending stop signal")
			c.signalStop <- struct{}{}
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	startCtx, startCancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- c.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	go func() {
		httpErr := c.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			c.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	if err := c.initDiscordSession(ctx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "error starting discord session", tint.Err(err))
		return err
	}

	botUser := c.discord.session.BotUser()
	if botUser == nil {
		return errors.New("no bot user after discord session opened")
	}

	if err := c.lavalink.Connect(
		startCtx,
		botUser.ID,
		disgolink.NewListenerFunc(c.players.HandleTrackStart),
		disgolink.NewListenerFunc(c.players.HandleTrackEnd),
		disgolink.NewListenerFunc(c.players.HandleTrackException),
		disgolink.NewListenerFunc(c.players.HandleTrackStuck),
		disgolink.NewListenerFunc(c.players.HandleWebSocketClosed),
	); err != nil {
		logger.ErrorContext(ctx, "error connecting to lavalink node", tint.Err(err))
		return fmt.Errorf("error connecting to lavalink node: %w", err)
	}

	if _, err := c.RegisterSlashCommands(); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
		return fmt.Errorf("error registering commands: %w", err)
	}

	go c.applyPresence(c.RuntimeConfig())

	c.signalReady <- struct{}{}
	c.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context
	<-ctx.Done()

	return c.shutdown(ctx, runtimeWG)
}

// initRun opens the database, loads runtime state, the user cache and
// play history, and wires up the components that need the database.
func (c *Chordial) initRun(ctx context.Context) error {
	c.logger.Debug("initializing DB...")
	db, err := CreateDB(ctx, c.config.DatabaseType, c.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	c.db = db
	c.writeDB = NewDatabase(
		db,
		c.logger.With(loggerNameKey, "database"),
		c.config.DatabaseType != dbTypeSQLite,
	)
	c.logger.Debug("finished initializing DB")

	// load or create the runtime config - this tells the bot whether it
	// should start in a 'paused' state (to avoid a potential scenario
	// where we want to keep it paused, but it crashes and restarts in
	// an active state)
	var botState RuntimeConfig
	getStateErr := c.db.Last(&botState).Error
	if getStateErr != nil {
		if !errors.Is(getStateErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error getting config: %w", getStateErr)
		}
		botState = DefaultRuntimeConfig()
		if _, createErr := c.writeDB.Create(ctx, &botState); createErr != nil {
			return fmt.Errorf("error creating config: %w", createErr)
		}
	}
	if validationErr := structValidator.Struct(botState); validationErr != nil {
		return fmt.Errorf("invalid runtime config: %w", validationErr)
	}
	c.paused.Store(botState.Paused)
	c.setRuntimeLevels(botState)
	c.runtimeConfig = &botState

	c.writeDB.UserCacheLock()
	users := c.writeDB.LoadUsers()
	c.writeDB.UserCacheUnlock()
	c.logger.Info("loaded user cache", "count", len(users))

	c.queues = NewQueueManager(
		c.config.Player,
		c.writeDB,
		c.logger,
	)
	if historyErr := c.queues.LoadPlayHistory(ctx); historyErr != nil {
		c.logger.Warn("error loading play history", tint.Err(historyErr))
	}
	c.players = newPlayerManager(c, c.logger)
	c.libraries = NewLibraryManager(c.writeDB, c.lavalink, c.logger)
	c.recommender = NewRecommender(c.lavalink, c.logger)

	if c.config.Chat.Token != "" {
		chat, chatErr := NewChat(
			c.config.Chat,
			c.writeDB,
			slog.New(
				tint.NewHandler(
					defaultLogWriter, &tint.Options{
						Level:     c.config.Chat.LogLevel,
						AddSource: true,
					},
				),
			),
		)
		if chatErr != nil {
			return fmt.Errorf("error initializing chat: %w", chatErr)
		}
		c.chat = chat
	} else {
		c.logger.Warn("no chat token set, mention chat disabled")
	}

	return nil
}

// initDiscordSession opens the gateway connection and registers the
// event handlers.
func (c *Chordial) initDiscordSession(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	logger := c.logger.With(loggerNameKey, "discord_session")

	if c.discord.session == nil {
		session, err := c.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		c.discord.session = session
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range c.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	identify := discordgo.Identify{
		Intents:  c.config.Discord.GatewayIntents,
		Presence: getDiscordPresenceStatusUpdate(c.RuntimeConfig()),
	}
	c.discord.session.SetIdentify(identify)

	c.discord.discordgoRemoveHandlerFuncs = []func(){
		c.discord.session.AddHandler(c.discord.handlerReady()),
		c.discord.session.AddHandler(c.discord.handlerConnect()),
		c.discord.session.AddHandler(c.discord.handlerDisconnect()),
		c.discord.session.AddHandler(c.discord.handlerVoiceServerUpdate()),
		c.discord.session.AddHandler(c.discord.handlerVoiceStateUpdate()),
		c.discord.session.AddHandler(c.discord.handlerGuildDelete()),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					c.handleInteraction(ctx, i)
				}()
			},
		),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					c.handleDiscordMessage(ctx, m)
				}()
			},
		),
	}

	logger.InfoContext(ctx, "connecting to discord")
	if err := c.discord.session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	return nil
}

// commandAllowed enforces the per-user slash command cooldown.
func (c *Chordial) commandAllowed(userID string) bool {
	cooldown := c.config.Player.CommandCooldown
	if cooldown <= 0 {
		return true
	}
	c.commandLimitersMu.Lock()
	defer c.commandLimitersMu.Unlock()
	limiter := c.commandLimiters[userID]
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(cooldown), 1)
		c.commandLimiters[userID] = limiter
	}
	return limiter.Allow()
}

// handleInteraction dispatches an incoming slash command: resolves the
// user, applies the ignore/pause/cooldown gates, acknowledges the
// interaction, and runs the matching handler.
func (c *Chordial) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	c.commandsInProgress.Add(1)
	defer c.commandsInProgress.Add(-1)

	commandName := i.ApplicationCommandData().Name
	logger := c.logger.With(
		slog.Group("interaction", interactionLogAttrs(*i)...),
		"command_name", commandName,
	)
	ctx = WithLogger(ctx, logger)

	discordUser := i.User
	if i.Member != nil {
		discordUser = i.Member.User
	}
	if discordUser == nil {
		logger.WarnContext(ctx, "no user on interaction")
		return
	}

	user, isNew, err := c.GetOrCreateUser(ctx, *discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error getting/creating user", tint.Err(err))
		return
	}
	if isNew {
		logger.InfoContext(ctx, "new user", slog.Group("user", userLogAttrs(*user)...))
	}
	if user.Ignored {
		logger.WarnContext(ctx, "ignoring command from ignored user")
		return
	}

	if i.GuildID == "" {
		c.respondToInteraction(ctx, i, guildOnlyMessage)
		return
	}

	if c.paused.Load() {
		c.respondToInteraction(ctx, i, DefaultDiscordPausedMessage)
		return
	}

	if !c.commandAllowed(user.ID) {
		logger.InfoContext(ctx, "command rate limited")
		c.respondToInteraction(ctx, i, c.RuntimeConfig().DiscordRateLimitMessage)
		return
	}

	if err = c.discord.session.InteractionRespond(
		i.Interaction, c.discord.ackResponse(),
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	switch commandName {
	case DiscordSlashCommandPlay:
		c.handlePlay(ctx, i, user, false)
	case DiscordSlashCommandPlayNext:
		c.handlePlay(ctx, i, user, true)
	case DiscordSlashCommandPause:
		c.handlePause(ctx, i)
	case DiscordSlashCommandResume:
		c.handleResume(ctx, i)
	case DiscordSlashCommandSkip:
		c.handleSkip(ctx, i, user)
	case DiscordSlashCommandStop:
		c.handleStop(ctx, i)
	case DiscordSlashCommandQueue:
		c.handleQueue(ctx, i)
	case DiscordSlashCommandShuffle:
		c.handleShuffle(ctx, i)
	case DiscordSlashCommandClear:
		c.handleClear(ctx, i)
	case DiscordSlashCommandVolume:
		c.handleVolume(ctx, i)
	case DiscordSlashCommandNowPlaying:
		c.handleNowPlaying(ctx, i)
	case DiscordSlashCommandReplay:
		c.handleReplay(ctx, i)
	case DiscordSlashCommandRemove:
		c.handleRemove(ctx, i)
	case DiscordSlashCommandMove:
		c.handleMove(ctx, i)
	case DiscordSlashCommandRecommend:
		c.handleRecommend(ctx, i, user)
	case DiscordSlashCommandAutoplay:
		c.handleAutoplay(ctx, i)
	case DiscordSlashCommandLibrary:
		c.handleLibrary(ctx, i, user)
	default:
		logger.WarnContext(ctx, "unknown command")
		c.editInteractionContent(ctx, i, c.RuntimeConfig().DiscordErrorMessage)
	}
}

// respondToInteraction sends an immediate (non-deferred) text response.
func (c *Chordial) respondToInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	_, logger := c.getLogger(ctx)
	if err := c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	); err != nil {
		logger.ErrorContext(
			ctx,
			"error responding to interaction",
			tint.Err(err),
			slog.Group("interaction", interactionLogAttrs(*i)...),
		)
	}
}

// handleDiscordMessage processes incoming Discord messages. Messages
// that mention only the bot are answered in the chat persona (when chat
// is enabled); everything else is ignored.
func (c *Chordial) handleDiscordMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := c.getLogger(ctx)

	if m.MentionEveryone || len(m.Mentions) == 0 {
		return
	}

	user := m.Author
	if user == nil && m.Member != nil {
		user = m.Member.User
	}
	if user == nil {
		logger.WarnContext(ctx, "couldn't find user in discord message")
		return
	}
	if user.Bot {
		return
	}

	botUser := c.discord.session.BotUser()
	if botUser == nil {
		return
	}
	mentionsBot := false
	for _, mention := range m.Mentions {
		if mention.ID == botUser.ID {
			mentionsBot = true
			break
		}
	}
	if !mentionsBot || len(m.Mentions) != 1 {
		return
	}

	if c.chat == nil || !c.RuntimeConfig().ChatEnabled {
		logger.DebugContext(ctx, "chat disabled, ignoring mention")
		return
	}
	if c.paused.Load() {
		return
	}

	content := strings.TrimSpace(stripBotMention(m.Content, botUser.ID))
	if content == "" {
		return
	}

	u, _, err := c.GetOrCreateUser(ctx, *user)
	if err != nil {
		logger.ErrorContext(ctx, "error getting or creating user", tint.Err(err))
		return
	}
	if u.Ignored {
		logger.WarnContext(ctx, "ignoring mention from ignored user", "user", u)
		return
	}

	worker := c.getChatWorker(ctx, u)
	req := &chatRequest{user: u, message: m, content: content}
	select {
	case worker.requestCh <- req:
	//
	case <-time.After(chatRequestSendTimeout):
		logger.WarnContext(
			ctx,
			"chat worker busy, dropping mention",
			slog.Group("user", userLogAttrs(*u)...),
		)
	case <-ctx.Done():
	}
}

// stripBotMention removes the bot's mention token(s) from message content.
func stripBotMention(content string, botID string) string {
	content = strings.ReplaceAll(content, fmt.Sprintf("<@%s>", botID), "")
	return strings.ReplaceAll(content, fmt.Sprintf("<@!%s>", botID), "")
}

// checkAloneInVoice disconnects from a guild's voice channel when no
// non-bot users remain in it.
func (c *Chordial) checkAloneInVoice(guildID string) {
	botUser := c.discord.session.BotUser()
	if botUser == nil {
		return
	}
	botChannelID := c.discord.userVoiceChannelID(guildID, botUser.ID)
	if botChannelID == "" {
		return
	}
	for _, vs := range c.discord.session.GuildVoiceStates(guildID) {
		if vs.ChannelID != botChannelID || vs.UserID == botUser.ID {
			continue
		}
		cached := c.writeDB.GetUser(vs.UserID)
		if cached != nil && cached.Bot {
			continue
		}
		return
	}
	c.logger.Info(
		"alone in voice channel, disconnecting",
		"guild_id", guildID,
		"channel_id", botChannelID,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.players.Disconnect(ctx, guildID)
}

// cleanupGuild discards all state for a guild, for when the bot is
// removed from it.
func (c *Chordial) cleanupGuild(ctx context.Context, guildID string) {
	c.players.Disconnect(ctx, guildID)
	c.queues.Remove(guildID)
}

// Pause pauses the bot: slash commands and mentions get the paused
// message until Resume. Returns false if already paused.
func (c *Chordial) Pause(ctx context.Context) bool {
	prev := c.paused.Swap(true)
	if prev {
		return false
	}

	if err := c.discord.updateStatusComplex(
		discordgo.UpdateStatusData{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		},
	); err != nil {
		c.logger.ErrorContext(ctx, "unable to update afk status", tint.Err(err))
	}

	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if !c.runtimeConfig.Paused {
		if _, err := c.writeDB.Update(
			ctx, c.runtimeConfig, columnRuntimeConfigPaused, true,
		); err != nil {
			c.logger.ErrorContext(ctx, "unable to set paused in db", tint.Err(err))
		}
	}
	return true
}

// Resume resumes command processing. It returns a bool indicating
// whether the bot was paused at the time the function was called.
func (c *Chordial) Resume(ctx context.Context) bool {
	prev := c.paused.Swap(false)
	if !prev {
		c.logger.Warn("bot not paused")
		return false
	}
	c.logger.InfoContext(ctx, "bot resumed")

	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()

	if err := c.discord.updateCustomStatus(
		c.runtimeConfig.DiscordCustomStatus,
	); err != nil {
		c.logger.ErrorContext(ctx, "unable to update online status", tint.Err(err))
	}

	if c.runtimeConfig.Paused {
		if _, err := c.writeDB.Update(
			ctx, c.runtimeConfig, columnRuntimeConfigPaused, false,
		); err != nil {
			c.logger.ErrorContext(ctx, "unable to set resumed in db", tint.Err(err))
		}
	}
	return true
}

// Stop sends an explicit stop signal, triggering a graceful shutdown.
func (c *Chordial) Stop() {
	if c.signalStop != nil {
		select {
		case c.signalStop <- struct{}{}:
		default:
		}
	}
}

// applyPresence sets the bot's Discord presence to match the runtime
// configuration: do-not-disturb while paused, the custom status
// otherwise.
func (c *Chordial) applyPresence(cfg RuntimeConfig) {
	var err error
	if cfg.Paused {
		err = c.discord.updateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    true,
				Status: string(discordgo.StatusDoNotDisturb),
			},
		)
	} else {
		err = c.discord.updateCustomStatus(cfg.DiscordCustomStatus)
	}
	if err != nil {
		c.logger.Error("error updating discord presence", tint.Err(err))
	}
}

// setRuntimeLevels applies the runtime configuration's log levels.
func (c *Chordial) setRuntimeLevels(state RuntimeConfig) {
	c.config.LogLevel.Set(state.LogLevel.Level())
	c.config.Chat.LogLevel.Set(state.ChatLogLevel.Level())
	c.config.Discord.LogLevel.Set(state.DiscordLogLevel.Level())
	c.config.Discord.DiscordGoLogLevel.Set(state.DiscordGoLogLevel.Level())
	c.config.Lavalink.LogLevel.Set(state.LavalinkLogLevel.Level())
	c.config.DatabaseLogLevel.Set(state.DatabaseLogLevel.Level())
	c.config.API.LogLevel.Set(state.APILogLevel.Level())
}

// shutdown stops the player workers, chat workers, node connection,
// discord session and API server, waiting up to ShutdownTimeout.
func (c *Chordial) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	c.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if c.eventShutdown != nil {
			go func() {
				c.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownTimeout := c.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		c.logger.Warn("immediate shutdown")
		go func() {
			_ = c.api.httpServer.Close()
		}()
		return fmt.Errorf("shutdown timed out")
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		c.logger.InfoContext(ctx, "finished handling in-flight requests")

		stopWG := &sync.WaitGroup{}

		stopWG.Add(1)
		go func() {
			defer stopWG.Done()
			c.logger.InfoContext(ctx, "stopping player workers")
			c.players.StopAll(closeCtx)
			c.logger.InfoContext(ctx, "player workers stopped")
		}()

		stopWG.Add(1)
		go func() {
			defer stopWG.Done()

			c.chatWorkersMu.Lock()
			workers := make([]*chatWorker, 0, len(c.chatWorkers))
			for _, worker := range c.chatWorkers {
				workers = append(workers, worker)
			}
			c.chatWorkers = map[string]*chatWorker{}
			c.chatWorkersMu.Unlock()

			for _, worker := range workers {
				stopWG.Add(1)
				go func(w *chatWorker) {
					defer stopWG.Done()
					w.signalStop <- struct{}{}
					select {
					case <-w.stopped:
					case <-closeCtx.Done():
					}
				}(worker)
			}
		}()

		stopWG.Add(1)
		go func() {
			defer stopWG.Done()
			c.logger.InfoContext(ctx, "closing lavalink client")
			c.lavalink.Close()
			c.logger.InfoContext(ctx, "lavalink client closed")
		}()

		stopWG.Add(1)
		go func() {
			defer stopWG.Done()
			c.logger.InfoContext(ctx, "stopping http server")
			_ = c.api.Shutdown(closeCtx)
			c.logger.InfoContext(ctx, "http server stopped")
		}()

		if c.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				c.logger.InfoContext(ctx, "closing discord session")
				_ = c.discord.session.Close()
				c.logger.InfoContext(ctx, "discord session closed")
				for _, h := range c.discord.discordgoRemoveHandlerFuncs {
					h()
				}
			}()
		}

		stopWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-gracefulShutdownCh:
		shutdownEnded := time.Now()
		c.logger.InfoContext(
			ctx,
			"shutdown complete",
			"shutdown_duration", shutdownEnded.Sub(shutdownStart),
		)
		return nil
	case <-closeCtx.Done():
		c.logger.Warn("shutdown did not finish in time, forcing close")
		go func() {
			_ = c.api.httpServer.Close()
		}()
		return fmt.Errorf("shutdown timed out")
	}
}

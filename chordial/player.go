package chordial

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/lmittmann/tint"
)

var playerIdleCheckInterval = 30 * time.Second

// playerIdleLimiter tracks playback activity for a guild player, to
// decide when the bot should leave the voice channel.
type playerIdleLimiter struct {
	// IdleTimeout is the duration after which an inactive player is
	// disconnected
	IdleTimeout time.Duration

	// LastActiveAt is the last time playback activity was seen (a track
	// started, a command was handled)
	LastActiveAt time.Time

	mu sync.Mutex
}

func newPlayerIdleLimiter(idleTimeout time.Duration) *playerIdleLimiter {
	return &playerIdleLimiter{
		IdleTimeout:  idleTimeout,
		LastActiveAt: time.Now(),
	}
}

// Expired returns the time the player becomes idle, and whether that
// time has passed.
func (p *playerIdleLimiter) Expired() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	expiresAt := p.LastActiveAt.Add(p.IdleTimeout)
	return expiresAt, time.Now().After(expiresAt)
}

// Touch marks the player as active now.
func (p *playerIdleLimiter) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LastActiveAt = time.Now()
}

// advanceRequest asks a guild player to move to the next track.
type advanceRequest struct {
	// requesterID is the user who triggered the advance (e.g. /skip),
	// empty for automatic transitions
	requesterID string
}

// trackEndSignal carries a node track-end event into the player worker.
type trackEndSignal struct {
	track  lavalink.Track
	reason lavalink.TrackEndReason
}

// guildPlayer serializes playback transitions for one guild. Track ends,
// skips and stops all flow through its Run loop, so there's never a race
// between the node's events and user commands over what plays next.
//
// The worker exits when playback has been idle (empty queue, nothing
// playing) for the configured auto-disconnect period, taking the bot out
// of the voice channel.
type guildPlayer struct {
	guildID string

	// trackEndCh receives node track-end events for this guild
	trackEndCh chan trackEndSignal

	// advanceCh receives skip requests
	advanceCh chan advanceRequest

	// signalStop is a channel for sending a stop signal to the worker
	signalStop chan struct{}

	// stopped is a channel for receiving a notification when the worker
	// has stopped, and the time it stopped
	stopped chan time.Time

	limiter *playerIdleLimiter

	idleCheckInterval time.Duration

	c *Chordial
}

func newGuildPlayer(c *Chordial, guildID string) *guildPlayer {
	return &guildPlayer{
		guildID:           guildID,
		trackEndCh:        make(chan trackEndSignal, 1),
		advanceCh:         make(chan advanceRequest, 1),
		signalStop:        make(chan struct{}, 1),
		stopped:           make(chan time.Time, 1),
		limiter:           newPlayerIdleLimiter(c.config.Player.AutoDisconnectAfter),
		idleCheckInterval: playerIdleCheckInterval,
		c:                 c,
	}
}

// Run processes playback transitions for the guild until the context is
// canceled, a stop signal arrives, or playback has been idle past the
// auto-disconnect period.
func (gp *guildPlayer) Run(ctx context.Context, startCh chan struct{}) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = slog.Default()
	}
	log = log.With("guild_id", gp.guildID)
	ctx = WithLogger(ctx, log)

	defer func() {
		stopSignalCtx, stopSignalCancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		select {
		case gp.stopped <- time.Now():
			log.Info("sent stop notification")
		case <-stopSignalCtx.Done():
			log.Warn("timed out sending stop signal")
		}
		stopSignalCancel()
	}()

	log.InfoContext(ctx, "starting guild player")
	startedAt := time.Now()
	ticker := time.NewTicker(gp.idleCheckInterval)

	defer func() {
		ticker.Stop()
		endedAt := time.Now()
		log.InfoContext(
			ctx,
			"stopped guild player",
			"started_at", startedAt,
			"stopped_at", endedAt,
			"runtime", endedAt.Sub(startedAt),
		)
	}()

	startCh <- struct{}{}
	close(startCh)

	gp.limiter.Touch()
	for {
		select {
		case <-ctx.Done():
			log.WarnContext(ctx, "context canceled")
			return
		case <-gp.signalStop:
			log.WarnContext(ctx, "got stop signal")
			return
		case <-ticker.C:
			if gp.idleExpired(ctx, log) {
				return
			}
		case sig := <-gp.trackEndCh:
			gp.handleTrackEnd(ctx, log, sig)
		case req := <-gp.advanceCh:
			gp.limiter.Touch()
			gp.advance(ctx, log, req.requesterID)
		}
	}
}

// idleExpired checks whether the player should disconnect: nothing
// playing, empty queue, past the idle deadline.
func (gp *guildPlayer) idleExpired(ctx context.Context, log *slog.Logger) bool {
	expiresAt, expired := gp.limiter.Expired()
	if !expired {
		return false
	}
	queue := gp.c.queues.Get(gp.guildID)
	player := gp.c.lavalink.ExistingPlayer(gp.guildID)
	if queue.Len() > 0 || (player != nil && player.Track() != nil) {
		gp.limiter.Touch()
		return false
	}
	log.InfoContext(
		ctx,
		"playback idle, disconnecting",
		"idle_since", expiresAt.Add(-gp.limiter.IdleTimeout),
	)
	gp.c.players.disconnect(ctx, gp.guildID)
	return true
}

// handleTrackEnd reacts to a node track-end event: restart the track in
// replay mode, otherwise advance to the next queued track.
func (gp *guildPlayer) handleTrackEnd(
	ctx context.Context,
	log *slog.Logger,
	sig trackEndSignal,
) {
	log.InfoContext(
		ctx,
		"track ended",
		"reason", string(sig.reason),
		slog.Group("track", trackLogAttrs(sig.track)...),
	)
	if !sig.reason.MayStartNext() {
		// stopped or replaced - whoever caused it decides what's next
		return
	}
	gp.limiter.Touch()

	queue := gp.c.queues.Get(gp.guildID)
	if queue.Replay() {
		current := queue.Current()
		if current != nil {
			if err := gp.c.players.play(ctx, gp.guildID, *current, "", false); err != nil {
				log.ErrorContext(ctx, "error replaying track", tint.Err(err))
				gp.advance(ctx, log, "")
			}
			return
		}
	}
	gp.advance(ctx, log, "")
}

// advance plays the next queued track. With an empty queue and autoplay
// enabled, it asks the recommendation engine for a track instead. If
// nothing can be played, the queue's current track is cleared and the
// idle countdown begins.
func (gp *guildPlayer) advance(
	ctx context.Context,
	log *slog.Logger,
	requesterID string,
) {
	queue := gp.c.queues.Get(gp.guildID)

	next, ok := queue.Next()
	if ok {
		if err := gp.c.players.play(ctx, gp.guildID, next, requesterID, false); err != nil {
			log.ErrorContext(
				ctx,
				"error playing next track",
				tint.Err(err),
				slog.Group("track", trackLogAttrs(next)...),
			)
		}
		return
	}

	if queue.Autoplay() && gp.c.RuntimeConfig().RecommendationsEnabled {
		track, err := gp.c.recommender.RecommendOne(ctx, queue)
		if err == nil {
			log.InfoContext(
				ctx,
				"queue empty, autoplaying recommendation",
				slog.Group("track", trackLogAttrs(track)...),
			)
			if playErr := gp.c.players.play(ctx, gp.guildID, track, "", true); playErr == nil {
				return
			} else {
				log.ErrorContext(ctx, "error autoplaying track", tint.Err(playErr))
			}
		} else {
			log.WarnContext(ctx, "no autoplay recommendation available", tint.Err(err))
		}
	}

	queue.ClearCurrent()
	if player := gp.c.lavalink.ExistingPlayer(gp.guildID); player != nil && player.Track() != nil {
		// nothing left to play, but the current track is still going
		// (e.g. /skip on the last track) - stop it so the idle
		// countdown can disconnect
		if err := player.Update(ctx, lavalink.WithNullTrack()); err != nil {
			log.WarnContext(ctx, "error stopping track", tint.Err(err))
		}
	}
	if channelID := queue.ChannelID(); channelID != "" {
		_, _ = gp.c.discord.channelMessageSend(
			channelID,
			"Queue finished! Add more songs with `/play`.",
		)
	}
}

// PlayerManager owns the per-guild player workers and provides the
// playback operations commands call into. Workers are started on demand
// and stop themselves after the idle period.
type PlayerManager struct {
	mu      sync.Mutex
	players map[string]*guildPlayer

	playersRunning atomic.Int64

	c      *Chordial
	logger *slog.Logger
}

func newPlayerManager(c *Chordial, logger *slog.Logger) *PlayerManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlayerManager{
		players: map[string]*guildPlayer{},
		c:       c,
		logger:  logger.With(loggerNameKey, "player_manager"),
	}
}

// Running returns the number of player workers currently running.
func (m *PlayerManager) Running() int64 {
	return m.playersRunning.Load()
}

// Get returns the running worker for a guild, starting one if needed.
func (m *PlayerManager) Get(ctx context.Context, guildID string) *guildPlayer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gp, ok := m.players[guildID]; ok {
		return gp
	}

	gp := newGuildPlayer(m.c, guildID)
	m.players[guildID] = gp
	startCh := make(chan struct{}, 1)
	go func() {
		m.playersRunning.Add(1)
		defer m.playersRunning.Add(-1)
		gp.Run(WithLogger(ctx, m.logger), startCh)

		m.mu.Lock()
		if m.players[guildID] == gp {
			delete(m.players, guildID)
		}
		m.mu.Unlock()
	}()
	<-startCh
	return gp
}

// Existing returns the running worker for a guild, or nil.
func (m *PlayerManager) Existing(guildID string) *guildPlayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.players[guildID]
}

// player returns the guild's node-side player, applying the configured
// default volume when the player is first created.
func (m *PlayerManager) player(
	ctx context.Context,
	guildID string,
) (disgolink.Player, error) {
	created := m.c.lavalink.ExistingPlayer(guildID) == nil
	player, err := m.c.lavalink.Player(guildID)
	if err != nil {
		return nil, err
	}
	if created {
		if volume := m.c.RuntimeConfig().DefaultVolume; volume > 0 {
			if updateErr := player.Update(
				ctx, lavalink.WithVolume(volume),
			); updateErr != nil {
				m.logger.WarnContext(
					ctx,
					"error applying default volume",
					tint.Err(updateErr),
					"guild_id", guildID,
					"volume", volume,
				)
			}
		}
	}
	return player, nil
}

// play pushes a track to the node player and records it as current.
func (m *PlayerManager) play(
	ctx context.Context,
	guildID string,
	track lavalink.Track,
	requesterID string,
	recommended bool,
) error {
	player, err := m.player(ctx, guildID)
	if err != nil {
		return err
	}
	if updateErr := player.Update(ctx, lavalink.WithTrack(track)); updateErr != nil {
		return fmt.Errorf("error starting track: %w", updateErr)
	}
	queue := m.c.queues.Get(guildID)
	queue.SetCurrent(ctx, track, requesterID, recommended)
	if gp := m.Existing(guildID); gp != nil {
		gp.limiter.Touch()
	}
	return nil
}

// StartPlayback begins playback in a guild if nothing is currently
// playing, popping the first track from the queue. Returns true if a
// track was started.
func (m *PlayerManager) StartPlayback(
	ctx context.Context,
	guildID string,
	requesterID string,
) (bool, error) {
	player, err := m.player(ctx, guildID)
	if err != nil {
		return false, err
	}
	if player.Track() != nil {
		return false, nil
	}
	queue := m.c.queues.Get(guildID)
	next, ok := queue.Next()
	if !ok {
		return false, nil
	}
	// make sure the worker is running so track-end events are handled
	m.Get(ctx, guildID)
	if playErr := m.play(ctx, guildID, next, requesterID, false); playErr != nil {
		return false, playErr
	}
	return true, nil
}

// Skip advances to the next track. The node reports the replaced track's
// end with a non-advancing reason, so the transition happens exactly once.
func (m *PlayerManager) Skip(
	ctx context.Context,
	guildID string,
	requesterID string,
) error {
	gp := m.Existing(guildID)
	if gp == nil {
		return ErrNothingPlaying
	}
	select {
	case gp.advanceCh <- advanceRequest{requesterID: requesterID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts playback entirely: clears the queue, resets replay, stops
// the current track and leaves the voice channel.
func (m *PlayerManager) Stop(ctx context.Context, guildID string) error {
	queue := m.c.queues.Get(guildID)
	queue.Clear()
	queue.SetReplay(false)
	queue.ClearCurrent()

	if player := m.c.lavalink.ExistingPlayer(guildID); player != nil {
		if err := player.Update(ctx, lavalink.WithNullTrack()); err != nil {
			m.logger.WarnContext(
				ctx,
				"error stopping track",
				tint.Err(err),
				"guild_id", guildID,
			)
		}
	}
	m.disconnect(ctx, guildID)
	return nil
}

// Pause pauses or resumes the current track.
func (m *PlayerManager) Pause(
	ctx context.Context,
	guildID string,
	paused bool,
) error {
	player := m.c.lavalink.ExistingPlayer(guildID)
	if player == nil || player.Track() == nil {
		return ErrNothingPlaying
	}
	return player.Update(ctx, lavalink.WithPaused(paused))
}

// SetVolume sets the player volume (0-1000).
func (m *PlayerManager) SetVolume(
	ctx context.Context,
	guildID string,
	volume int,
) error {
	player, err := m.c.lavalink.Player(guildID)
	if err != nil {
		return err
	}
	return player.Update(ctx, lavalink.WithVolume(volume))
}

// disconnect leaves the voice channel, destroys the node player, and
// stops the worker if running.
func (m *PlayerManager) disconnect(ctx context.Context, guildID string) {
	m.c.lavalink.RemovePlayer(ctx, guildID)
	if err := m.c.discord.leaveVoiceChannel(guildID); err != nil {
		m.logger.WarnContext(
			ctx,
			"error leaving voice channel",
			tint.Err(err),
			"guild_id", guildID,
		)
	}
	m.c.queues.Get(guildID).ClearCurrent()

	m.mu.Lock()
	gp, ok := m.players[guildID]
	if ok {
		delete(m.players, guildID)
	}
	m.mu.Unlock()
	if ok {
		select {
		case gp.signalStop <- struct{}{}:
		default:
		}
	}
}

// Disconnect is the exported form of disconnect, used by voice-state
// watchers and guild-leave cleanup.
func (m *PlayerManager) Disconnect(ctx context.Context, guildID string) {
	m.disconnect(ctx, guildID)
}

// StopAll stops every running player worker, for shutdown.
func (m *PlayerManager) StopAll(ctx context.Context) {
	m.mu.Lock()
	players := make([]*guildPlayer, 0, len(m.players))
	for _, gp := range m.players {
		players = append(players, gp)
	}
	m.players = map[string]*guildPlayer{}
	m.mu.Unlock()

	for _, gp := range players {
		select {
		case gp.signalStop <- struct{}{}:
		default:
		}
	}
	for _, gp := range players {
		select {
		case <-gp.stopped:
		case <-ctx.Done():
			return
		}
	}
}

// HandleTrackStart announces the new track in the guild's bound text
// channel. Registered as a node event listener.
func (m *PlayerManager) HandleTrackStart(
	p disgolink.Player,
	e lavalink.TrackStartEvent,
) {
	guildID := p.GuildID().String()
	m.logger.Info(
		"track started",
		"guild_id", guildID,
		slog.Group("track", trackLogAttrs(e.Track)...),
	)
	queue := m.c.queues.Get(guildID)
	if gp := m.Existing(guildID); gp != nil {
		gp.limiter.Touch()
	}
	channelID := queue.ChannelID()
	if channelID == "" {
		return
	}
	embed := newNowPlayingEmbed(e.Track, p.Position(), queue.Replay())
	if _, err := m.c.discord.channelMessageSendEmbed(channelID, embed); err != nil {
		m.logger.Warn(
			"error announcing track",
			tint.Err(err),
			"guild_id", guildID,
			"channel_id", channelID,
		)
	}
}

// HandleTrackEnd forwards node track-end events to the guild's worker.
func (m *PlayerManager) HandleTrackEnd(
	p disgolink.Player,
	e lavalink.TrackEndEvent,
) {
	guildID := p.GuildID().String()
	gp := m.Existing(guildID)
	if gp == nil {
		m.logger.Debug("track ended with no player worker", "guild_id", guildID)
		return
	}
	select {
	case gp.trackEndCh <- trackEndSignal{track: e.Track, reason: e.Reason}:
	default:
		m.logger.Warn("dropped track end event", "guild_id", guildID)
	}
}

// HandleTrackException logs playback failures and lets the normal
// track-end flow advance the queue.
func (m *PlayerManager) HandleTrackException(
	p disgolink.Player,
	e lavalink.TrackExceptionEvent,
) {
	guildID := p.GuildID().String()
	m.logger.Error(
		"track exception",
		"guild_id", guildID,
		"message", e.Exception.Message,
		"severity", string(e.Exception.Severity),
		slog.Group("track", trackLogAttrs(e.Track)...),
	)
	queue := m.c.queues.Get(guildID)
	if channelID := queue.ChannelID(); channelID != "" {
		_, _ = m.c.discord.channelMessageSend(
			channelID,
			fmt.Sprintf("Something went wrong playing **%s**, skipping it.", e.Track.Info.Title),
		)
	}
}

// HandleTrackStuck skips a track the node reports as stuck.
func (m *PlayerManager) HandleTrackStuck(
	p disgolink.Player,
	e lavalink.TrackStuckEvent,
) {
	guildID := p.GuildID().String()
	m.logger.Warn(
		"track stuck",
		"guild_id", guildID,
		"threshold_ms", int64(e.Threshold),
		slog.Group("track", trackLogAttrs(e.Track)...),
	)
	if gp := m.Existing(guildID); gp != nil {
		select {
		case gp.advanceCh <- advanceRequest{}:
		default:
		}
	}
}

// HandleWebSocketClosed logs voice websocket closures from the node.
func (m *PlayerManager) HandleWebSocketClosed(
	p disgolink.Player,
	e lavalink.WebSocketClosedEvent,
) {
	m.logger.Warn(
		"voice websocket closed",
		"guild_id", p.GuildID().String(),
		"code", e.Code,
		"reason", e.Reason,
		"by_remote", e.ByRemote,
	)
}

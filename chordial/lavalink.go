package chordial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"
	"github.com/lmittmann/tint"
)

var (
	// ErrNoResults indicates the audio node found nothing for a query
	ErrNoResults = errors.New("no results found")

	// ErrNotConnected indicates no audio node connection is available
	ErrNotConnected = errors.New("not connected to an audio node")
)

const nodeConnectRetryInterval = 5 * time.Second

// Lavalink wraps the audio node client. The node does all the actual
// audio work (loading sources, transcoding, streaming to Discord voice);
// this component speaks its REST/websocket protocol and routes its events
// to the per-guild players.
//
// Fields:
//   - client: The underlying node client, created on Connect (it needs
//     the bot's user ID, which is only known after the gateway session opens).
//   - searchType: Prefix applied to non-URL queries (e.g. "ytsearch").
type Lavalink struct {
	config     *LavalinkConfig
	searchType lavalink.SearchType
	logger     *slog.Logger

	mu     sync.RWMutex
	client disgolink.Client
}

func NewLavalink(
	config *LavalinkConfig,
	searchType string,
	logger *slog.Logger,
) *Lavalink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lavalink{
		config:     config,
		searchType: lavalink.SearchType(searchType + ":"),
		logger:     logger.With(loggerNameKey, "lavalink"),
	}
}

// Connect creates the node client for the given bot user and establishes
// the node connection, retrying until ctx is canceled. The given listeners
// receive player events (track start/end, exceptions, websocket closes).
func (l *Lavalink) Connect(
	ctx context.Context,
	botUserID string,
	listeners ...disgolink.EventListener,
) error {
	userID, err := snowflake.Parse(botUserID)
	if err != nil {
		return fmt.Errorf("invalid bot user ID %q: %w", botUserID, err)
	}

	client := disgolink.New(userID)
	client.AddListeners(listeners...)

	l.mu.Lock()
	l.client = client
	l.mu.Unlock()

	nodeConfig := disgolink.NodeConfig{
		Name:     l.config.Name,
		Address:  l.config.Address,
		Password: l.config.Password,
		Secure:   l.config.Secure,
	}

	for {
		connectCtx, cancel := context.WithTimeout(ctx, l.config.ConnectTimeout)
		_, err = client.AddNode(connectCtx, nodeConfig)
		cancel()
		if err == nil {
			l.logger.InfoContext(
				ctx,
				"connected to audio node",
				"node", l.config.Name,
				"address", l.config.Address,
			)
			return nil
		}
		l.logger.ErrorContext(
			ctx,
			"error connecting to audio node, retrying",
			tint.Err(err),
			"node", l.config.Name,
			"address", l.config.Address,
			"retry_in", nodeConnectRetryInterval,
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("audio node connection aborted: %w", ctx.Err())
		case <-time.After(nodeConnectRetryInterval):
		}
	}
}

// Client returns the underlying node client, nil before Connect.
func (l *Lavalink) Client() disgolink.Client {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.client
}

// Player returns (creating if needed) the node-side player for a guild.
func (l *Lavalink) Player(guildID string) (disgolink.Player, error) {
	client := l.Client()
	if client == nil {
		return nil, ErrNotConnected
	}
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return nil, fmt.Errorf("invalid guild ID %q: %w", guildID, err)
	}
	return client.Player(id), nil
}

// ExistingPlayer returns the node-side player for a guild, or nil if
// none exists.
func (l *Lavalink) ExistingPlayer(guildID string) disgolink.Player {
	client := l.Client()
	if client == nil {
		return nil
	}
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return nil
	}
	return client.ExistingPlayer(id)
}

// RemovePlayer destroys and discards the node-side player for a guild.
func (l *Lavalink) RemovePlayer(ctx context.Context, guildID string) {
	client := l.Client()
	if client == nil {
		return
	}
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return
	}
	if player := client.ExistingPlayer(id); player != nil {
		if destroyErr := player.Destroy(ctx); destroyErr != nil {
			l.logger.WarnContext(
				ctx,
				"error destroying player",
				tint.Err(destroyErr),
				"guild_id", guildID,
			)
		}
	}
	client.RemovePlayer(id)
}

// NodeStatus returns the session ID and status of the best available
// node, for the status API.
func (l *Lavalink) NodeStatus() (sessionID string, status string) {
	client := l.Client()
	if client == nil {
		return "", "disconnected"
	}
	node := client.BestNode()
	if node == nil {
		return "", "disconnected"
	}
	return node.SessionID(), string(node.Status())
}

// Close destroys all players and closes the node connection.
func (l *Lavalink) Close() {
	client := l.Client()
	if client == nil {
		return
	}
	client.Close()
}

// OnVoiceServerUpdate forwards a Discord voice server update to the node
// client, which needs it to establish the voice connection.
func (l *Lavalink) OnVoiceServerUpdate(
	ctx context.Context,
	guildID string,
	token string,
	endpoint string,
) {
	client := l.Client()
	if client == nil {
		return
	}
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return
	}
	client.OnVoiceServerUpdate(ctx, id, token, endpoint)
}

// OnVoiceStateUpdate forwards the bot's own voice state update to the
// node client. channelID is nil when the bot left the channel.
func (l *Lavalink) OnVoiceStateUpdate(
	ctx context.Context,
	guildID string,
	channelID string,
	sessionID string,
) {
	client := l.Client()
	if client == nil {
		return
	}
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return
	}
	var chID *snowflake.ID
	if channelID != "" {
		parsed, chErr := snowflake.Parse(channelID)
		if chErr == nil {
			chID = &parsed
		}
	}
	client.OnVoiceStateUpdate(ctx, id, chID, sessionID)
}

// LoadTracks resolves a play query into tracks. URLs are passed to the
// node as-is and may yield a playlist; anything else is prefixed with
// the configured search type, returning the single top result.
// The returned playlistName is non-empty when a playlist was loaded.
func (l *Lavalink) LoadTracks(
	ctx context.Context,
	query string,
) (tracks []lavalink.Track, playlistName string, err error) {
	client := l.Client()
	if client == nil {
		return nil, "", ErrNotConnected
	}
	node := client.BestNode()
	if node == nil {
		return nil, "", ErrNotConnected
	}

	identifier := query
	if !isURL(query) {
		identifier = l.searchType.Apply(query)
	}

	var loadErr error
	node.LoadTracksHandler(
		ctx, identifier, disgolink.NewResultHandler(
			func(track lavalink.Track) {
				tracks = []lavalink.Track{track}
			},
			func(playlist lavalink.Playlist) {
				tracks = playlist.Tracks
				playlistName = playlist.Info.Name
			},
			func(searchTracks []lavalink.Track) {
				if len(searchTracks) > 0 {
					tracks = searchTracks[:1]
				}
			},
			func() {
				loadErr = ErrNoResults
			},
			func(e error) {
				loadErr = e
			},
		),
	)
	if loadErr != nil {
		return nil, "", loadErr
	}
	if len(tracks) == 0 {
		return nil, "", ErrNoResults
	}
	return tracks, playlistName, nil
}

// SearchTrack runs a source search for the query and returns the top
// result. Used by the recommendation engine and library load fallbacks.
func (l *Lavalink) SearchTrack(
	ctx context.Context,
	query string,
) (lavalink.Track, error) {
	client := l.Client()
	if client == nil {
		return lavalink.Track{}, ErrNotConnected
	}
	node := client.BestNode()
	if node == nil {
		return lavalink.Track{}, ErrNotConnected
	}

	var (
		result  lavalink.Track
		found   bool
		loadErr error
	)
	node.LoadTracksHandler(
		ctx, l.searchType.Apply(query), disgolink.NewResultHandler(
			func(track lavalink.Track) {
				result = track
				found = true
			},
			func(playlist lavalink.Playlist) {
				if len(playlist.Tracks) > 0 {
					result = playlist.Tracks[0]
					found = true
				}
			},
			func(searchTracks []lavalink.Track) {
				if len(searchTracks) > 0 {
					result = searchTracks[0]
					found = true
				}
			},
			func() {},
			func(e error) {
				loadErr = e
			},
		),
	)
	if loadErr != nil {
		return lavalink.Track{}, loadErr
	}
	if !found {
		return lavalink.Track{}, ErrNoResults
	}
	return result, nil
}

// LoadByIdentifier attempts to load a single track directly by its
// source identifier (no search prefix).
func (l *Lavalink) LoadByIdentifier(
	ctx context.Context,
	identifier string,
) (lavalink.Track, error) {
	client := l.Client()
	if client == nil {
		return lavalink.Track{}, ErrNotConnected
	}
	node := client.BestNode()
	if node == nil {
		return lavalink.Track{}, ErrNotConnected
	}
	var (
		result  lavalink.Track
		found   bool
		loadErr error
	)
	node.LoadTracksHandler(
		ctx, identifier, disgolink.NewResultHandler(
			func(track lavalink.Track) {
				result = track
				found = true
			},
			func(playlist lavalink.Playlist) {
				if len(playlist.Tracks) > 0 {
					result = playlist.Tracks[0]
					found = true
				}
			},
			func(searchTracks []lavalink.Track) {
				if len(searchTracks) > 0 {
					result = searchTracks[0]
					found = true
				}
			},
			func() {},
			func(e error) {
				loadErr = e
			},
		),
	)
	if loadErr != nil {
		return lavalink.Track{}, loadErr
	}
	if !found {
		return lavalink.Track{}, ErrNoResults
	}
	return result, nil
}

package chordial

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPlayerGuildID = "12345"

// fakeNodePlayer is an in-memory [disgolink.Player] that records every
// update it receives and mirrors the track/volume/paused state a real
// node player would hold.
type fakeNodePlayer struct {
	mu        sync.Mutex
	guildID   snowflake.ID
	track     *lavalink.Track
	volume    int
	paused    bool
	updates   []*lavalink.PlayerUpdate
	destroyed bool
}

func (p *fakeNodePlayer) Update(
	_ context.Context,
	opts ...lavalink.PlayerUpdateOpt,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	update := lavalink.DefaultPlayerUpdate()
	update.Apply(opts)
	p.updates = append(p.updates, update)
	if update.Track != nil && update.Track.Encoded != nil {
		if update.Track.Encoded.IsNull() {
			p.track = nil
		} else {
			p.track = &lavalink.Track{Encoded: update.Track.Encoded.Value()}
		}
	}
	if update.Volume != nil {
		p.volume = *update.Volume
	}
	if update.Paused != nil {
		p.paused = *update.Paused
	}
	return nil
}

func (p *fakeNodePlayer) setTrack(track *lavalink.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track = track
}

func (p *fakeNodePlayer) volumeUpdateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, update := range p.updates {
		if update.Volume != nil {
			count++
		}
	}
	return count
}

func (p *fakeNodePlayer) nullTrackUpdateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, update := range p.updates {
		if update.Track != nil && update.Track.Encoded != nil &&
			update.Track.Encoded.IsNull() {
			count++
		}
	}
	return count
}

func (p *fakeNodePlayer) GuildID() snowflake.ID { return p.guildID }

func (p *fakeNodePlayer) ChannelID() *snowflake.ID { return nil }

func (p *fakeNodePlayer) Track() *lavalink.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

func (p *fakeNodePlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakeNodePlayer) Position() lavalink.Duration { return 0 }

func (p *fakeNodePlayer) State() lavalink.PlayerState {
	return lavalink.PlayerState{}
}

func (p *fakeNodePlayer) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *fakeNodePlayer) Filters() lavalink.Filters { return lavalink.Filters{} }

func (p *fakeNodePlayer) Destroy(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	return nil
}

func (p *fakeNodePlayer) Lavalink() disgolink.Client { return nil }

func (p *fakeNodePlayer) Node() disgolink.Node { return nil }

func (p *fakeNodePlayer) Restore(lavalink.Player) {}

func (p *fakeNodePlayer) OnEvent(lavalink.Event) {}

func (p *fakeNodePlayer) OnPlayerUpdate(lavalink.PlayerState) {}

func (p *fakeNodePlayer) OnVoiceServerUpdate(
	context.Context, string, string,
) {
}

func (p *fakeNodePlayer) OnVoiceStateUpdate(
	context.Context, *snowflake.ID, string,
) {
}

// fakeNodeClient is an in-memory [disgolink.Client] that hands out
// [fakeNodePlayer] instances, with no node connection behind it.
type fakeNodeClient struct {
	mu      sync.Mutex
	players map[snowflake.ID]disgolink.Player
}

func newFakeNodeClient() *fakeNodeClient {
	return &fakeNodeClient{players: map[snowflake.ID]disgolink.Player{}}
}

func (c *fakeNodeClient) Player(guildID snowflake.ID) disgolink.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	if player, ok := c.players[guildID]; ok {
		return player
	}
	player := &fakeNodePlayer{guildID: guildID, volume: 100}
	c.players[guildID] = player
	return player
}

func (c *fakeNodeClient) PlayerOnNode(
	_ disgolink.Node,
	guildID snowflake.ID,
) disgolink.Player {
	return c.Player(guildID)
}

func (c *fakeNodeClient) ExistingPlayer(guildID snowflake.ID) disgolink.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.players[guildID]
}

func (c *fakeNodeClient) RemovePlayer(guildID snowflake.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.players, guildID)
}

func (c *fakeNodeClient) ForPlayers(playerFunc func(player disgolink.Player)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, player := range c.players {
		playerFunc(player)
	}
}

func (c *fakeNodeClient) AddNode(
	context.Context,
	disgolink.NodeConfig,
) (disgolink.Node, error) {
	return nil, nil
}

func (c *fakeNodeClient) ForNodes(func(node disgolink.Node)) {}

func (c *fakeNodeClient) Node(string) disgolink.Node { return nil }

func (c *fakeNodeClient) BestNode() disgolink.Node { return nil }

func (c *fakeNodeClient) RemoveNode(string) {}

func (c *fakeNodeClient) EmitEvent(disgolink.Player, lavalink.Message) {}

func (c *fakeNodeClient) AddListeners(...disgolink.EventListener) {}

func (c *fakeNodeClient) RemoveListeners(...disgolink.EventListener) {}

func (c *fakeNodeClient) AddPlugins(...disgolink.Plugin) {}

func (c *fakeNodeClient) ForPlugins(func(plugin disgolink.Plugin)) {}

func (c *fakeNodeClient) RemovePlugins(...disgolink.Plugin) {}

func (c *fakeNodeClient) UserID() snowflake.ID { return 0 }

func (c *fakeNodeClient) Close() {}

func (c *fakeNodeClient) OnVoiceServerUpdate(
	context.Context, snowflake.ID, string, string,
) {
}

func (c *fakeNodeClient) OnVoiceStateUpdate(
	context.Context, snowflake.ID, *snowflake.ID, string,
) {
}

// newTestPlayerChordial builds a bot instance whose audio node client is
// the in-memory fake, with no gateway connection.
func newTestPlayerChordial(t testing.TB) (*Chordial, *fakeNodeClient) {
	t.Helper()
	cfg := DefaultTestConfig(t)
	db := testWriteDB(t)

	runtimeConfig := DefaultRuntimeConfig()
	c := &Chordial{
		config:        cfg,
		writeDB:       db,
		logger:        slog.Default(),
		discord:       &Discord{config: cfg.Discord},
		lavalink:      NewLavalink(cfg.Lavalink, cfg.Player.SearchType, nil),
		runtimeConfig: &runtimeConfig,
	}
	client := newFakeNodeClient()
	c.lavalink.client = client
	c.queues = NewQueueManager(cfg.Player, db, nil)
	c.players = newPlayerManager(c, nil)
	c.recommender = NewRecommender(c.lavalink, nil)
	return c, client
}

func fakePlayerFor(
	t testing.TB,
	client *fakeNodeClient,
	guildID string,
) *fakeNodePlayer {
	t.Helper()
	id, err := snowflake.Parse(guildID)
	require.NoError(t, err)
	player := client.ExistingPlayer(id)
	require.NotNil(t, player)
	fp, ok := player.(*fakeNodePlayer)
	require.True(t, ok)
	return fp
}

func TestPlayerManagerStartPlayback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c, client := newTestPlayerChordial(t)

	queue := c.queues.Get(testPlayerGuildID)
	require.NoError(t, queue.Add(newTestTrack("one", "artist")))
	require.NoError(t, queue.Add(newTestTrack("two", "artist")))

	started, err := c.players.StartPlayback(ctx, testPlayerGuildID, "user-1")
	require.NoError(t, err)
	assert.True(t, started)

	fp := fakePlayerFor(t, client, testPlayerGuildID)
	require.NotNil(t, fp.Track())
	assert.Equal(t, "encoded-one", fp.Track().Encoded)
	assert.Equal(t, 1, queue.Len())

	current := queue.Current()
	require.NotNil(t, current)
	assert.Equal(t, "one", current.Info.Title)

	// the worker is running so track-end events advance the queue
	assert.NotNil(t, c.players.Existing(testPlayerGuildID))

	// nothing happens while a track is already playing
	started, err = c.players.StartPlayback(ctx, testPlayerGuildID, "user-1")
	require.NoError(t, err)
	assert.False(t, started)
}

func TestPlayerManagerAppliesDefaultVolume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c, client := newTestPlayerChordial(t)

	runtimeConfig := c.RuntimeConfig()
	runtimeConfig.DefaultVolume = 30
	c.runtimeConfig = &runtimeConfig

	queue := c.queues.Get(testPlayerGuildID)
	require.NoError(t, queue.Add(newTestTrack("one", "artist")))

	started, err := c.players.StartPlayback(ctx, testPlayerGuildID, "user-1")
	require.NoError(t, err)
	require.True(t, started)

	fp := fakePlayerFor(t, client, testPlayerGuildID)
	assert.Equal(t, 30, fp.Volume())
	assert.Equal(t, 1, fp.volumeUpdateCount())

	// the default is only applied when the player is created, not on
	// every track
	require.NoError(
		t,
		c.players.play(
			ctx, testPlayerGuildID, newTestTrack("two", "artist"), "", false,
		),
	)
	assert.Equal(t, 1, fp.volumeUpdateCount())
	assert.Equal(t, 30, fp.Volume())
}

func TestPlayerManagerSkipAdvances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c, client := newTestPlayerChordial(t)

	queue := c.queues.Get(testPlayerGuildID)
	require.NoError(t, queue.Add(newTestTrack("one", "artist")))
	require.NoError(t, queue.Add(newTestTrack("two", "artist")))

	started, err := c.players.StartPlayback(ctx, testPlayerGuildID, "user-1")
	require.NoError(t, err)
	require.True(t, started)
	fp := fakePlayerFor(t, client, testPlayerGuildID)

	require.NoError(t, c.players.Skip(ctx, testPlayerGuildID, "user-1"))
	require.Eventually(
		t,
		func() bool {
			current := queue.Current()
			return current != nil && current.Info.Title == "two"
		},
		5*time.Second,
		10*time.Millisecond,
	)
	assert.Equal(t, 0, queue.Len())
	require.NotNil(t, fp.Track())
	assert.Equal(t, "encoded-two", fp.Track().Encoded)
}

func TestPlayerManagerSkipLastTrackStopsPlayback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c, client := newTestPlayerChordial(t)

	queue := c.queues.Get(testPlayerGuildID)
	require.NoError(t, queue.Add(newTestTrack("one", "artist")))

	started, err := c.players.StartPlayback(ctx, testPlayerGuildID, "user-1")
	require.NoError(t, err)
	require.True(t, started)
	fp := fakePlayerFor(t, client, testPlayerGuildID)
	require.NotNil(t, fp.Track())

	// skipping with nothing left must stop the node-side track, so the
	// idle countdown can disconnect instead of seeing it play forever
	require.NoError(t, c.players.Skip(ctx, testPlayerGuildID, "user-1"))
	require.Eventually(
		t,
		func() bool { return fp.Track() == nil },
		5*time.Second,
		10*time.Millisecond,
	)
	assert.Equal(t, 1, fp.nullTrackUpdateCount())
	assert.Nil(t, queue.Current())
}

func TestGuildPlayerTrackEndReasons(t *testing.T) {
	ctx := context.Background()
	c, client := newTestPlayerChordial(t)

	queue := c.queues.Get(testPlayerGuildID)
	require.NoError(t, queue.Add(newTestTrack("two", "artist")))

	gp := newGuildPlayer(c, testPlayerGuildID)
	ended := newTestTrack("one", "artist")

	// stopped/replaced tracks don't advance the queue - whoever caused
	// the stop decides what plays next
	gp.handleTrackEnd(
		ctx, slog.Default(),
		trackEndSignal{track: ended, reason: lavalink.TrackEndReasonStopped},
	)
	assert.Equal(t, 1, queue.Len())

	gp.handleTrackEnd(
		ctx, slog.Default(),
		trackEndSignal{track: ended, reason: lavalink.TrackEndReasonReplaced},
	)
	assert.Equal(t, 1, queue.Len())

	gp.handleTrackEnd(
		ctx, slog.Default(),
		trackEndSignal{track: ended, reason: lavalink.TrackEndReasonFinished},
	)
	assert.Equal(t, 0, queue.Len())
	fp := fakePlayerFor(t, client, testPlayerGuildID)
	require.NotNil(t, fp.Track())
	assert.Equal(t, "encoded-two", fp.Track().Encoded)
}

func TestGuildPlayerReplay(t *testing.T) {
	ctx := context.Background()
	c, client := newTestPlayerChordial(t)

	queue := c.queues.Get(testPlayerGuildID)
	track := newTestTrack("one", "artist")
	queue.SetCurrent(ctx, track, "user-1", false)
	queue.SetReplay(true)

	gp := newGuildPlayer(c, testPlayerGuildID)
	gp.handleTrackEnd(
		ctx, slog.Default(),
		trackEndSignal{track: track, reason: lavalink.TrackEndReasonFinished},
	)

	fp := fakePlayerFor(t, client, testPlayerGuildID)
	require.NotNil(t, fp.Track())
	assert.Equal(t, "encoded-one", fp.Track().Encoded)

	current := queue.Current()
	require.NotNil(t, current)
	assert.Equal(t, "one", current.Info.Title)
}

func TestGuildPlayerIdleDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c, _ := newTestPlayerChordial(t)

	gp := newGuildPlayer(c, testPlayerGuildID)
	gp.idleCheckInterval = 10 * time.Millisecond
	gp.limiter.IdleTimeout = -time.Second

	startCh := make(chan struct{}, 1)
	go gp.Run(ctx, startCh)
	<-startCh

	select {
	case <-gp.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("player worker did not stop after going idle")
	}
}

func TestGuildPlayerIdleWaitsForPlayback(t *testing.T) {
	ctx := context.Background()
	c, client := newTestPlayerChordial(t)

	id, err := snowflake.Parse(testPlayerGuildID)
	require.NoError(t, err)
	fp, ok := client.Player(id).(*fakeNodePlayer)
	require.True(t, ok)
	track := newTestTrack("one", "artist")
	fp.setTrack(&track)

	gp := newGuildPlayer(c, testPlayerGuildID)
	gp.limiter.IdleTimeout = -time.Second

	// past the idle deadline, but a track is still playing
	assert.False(t, gp.idleExpired(ctx, slog.Default()))

	fp.setTrack(nil)
	assert.True(t, gp.idleExpired(ctx, slog.Default()))
	assert.True(t, fp.destroyed)
	assert.Nil(t, client.ExistingPlayer(id))
}

func TestPlayerManagerStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c, client := newTestPlayerChordial(t)

	queue := c.queues.Get(testPlayerGuildID)
	require.NoError(t, queue.Add(newTestTrack("one", "artist")))
	require.NoError(t, queue.Add(newTestTrack("two", "artist")))

	started, err := c.players.StartPlayback(ctx, testPlayerGuildID, "user-1")
	require.NoError(t, err)
	require.True(t, started)
	fp := fakePlayerFor(t, client, testPlayerGuildID)

	require.NoError(t, c.players.Stop(ctx, testPlayerGuildID))
	assert.Equal(t, 0, queue.Len())
	assert.Nil(t, queue.Current())
	assert.False(t, queue.Replay())
	assert.Equal(t, 1, fp.nullTrackUpdateCount())
	assert.True(t, fp.destroyed)
	assert.Nil(t, c.players.Existing(testPlayerGuildID))
}

func TestPlayerManagerPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c, client := newTestPlayerChordial(t)

	err := c.players.Pause(ctx, testPlayerGuildID, true)
	require.ErrorIs(t, err, ErrNothingPlaying)

	queue := c.queues.Get(testPlayerGuildID)
	require.NoError(t, queue.Add(newTestTrack("one", "artist")))
	started, err := c.players.StartPlayback(ctx, testPlayerGuildID, "user-1")
	require.NoError(t, err)
	require.True(t, started)

	fp := fakePlayerFor(t, client, testPlayerGuildID)
	require.NoError(t, c.players.Pause(ctx, testPlayerGuildID, true))
	assert.True(t, fp.Paused())
	require.NoError(t, c.players.Pause(ctx, testPlayerGuildID, false))
	assert.False(t, fp.Paused())
}

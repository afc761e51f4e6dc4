package chordial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/lmittmann/tint"
)

var (
	// ErrQueueFull indicates the guild queue is at its configured capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrIndexOutOfRange indicates a queue position that doesn't exist
	ErrIndexOutOfRange = errors.New("queue position out of range")

	// ErrNothingPlaying indicates an operation that requires a current track
	ErrNothingPlaying = errors.New("nothing is playing")
)

// recommendationKey identifies a track for recommendation dedupe purposes
type recommendationKey struct {
	Title  string
	Author string
}

// GuildQueue holds the playback state for a single guild: the pending
// tracks, the current track, the play history used for recommendations,
// and the per-guild toggles (replay, autoplay). All methods are safe for
// concurrent use.
//
// Fields:
//   - tracks: Pending tracks, in play order.
//   - current: The track currently playing, nil when idle.
//   - playHistory: Authors of recently played tracks, capped at historySize.
//   - recommended: Recently recommended tracks, used to avoid repeats.
type GuildQueue struct {
	guildID string

	mu      sync.Mutex
	tracks  []lavalink.Track
	current *lavalink.Track

	// channelID is the text channel playback announcements are sent to,
	// set from the most recent play command
	channelID string

	replay   bool
	autoplay bool

	playHistory      []string
	recommended      []recommendationKey
	recommendedIndex map[recommendationKey]struct{}

	maxSize     int
	historySize int

	logger *slog.Logger
	db     DBI
}

// QueueManager tracks a [GuildQueue] per guild, creating them on demand.
type QueueManager struct {
	mu     sync.RWMutex
	queues map[string]*GuildQueue

	maxSize     int
	historySize int

	logger *slog.Logger
	db     DBI
}

func NewQueueManager(
	cfg *PlayerConfig,
	db DBI,
	logger *slog.Logger,
) *QueueManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueManager{
		queues:      map[string]*GuildQueue{},
		maxSize:     cfg.MaxQueueSize,
		historySize: cfg.HistorySize,
		logger:      logger.With(loggerNameKey, "queue_manager"),
		db:          db,
	}
}

// Get returns the queue for the given guild, creating it if necessary.
func (m *QueueManager) Get(guildID string) *GuildQueue {
	m.mu.RLock()
	q, ok := m.queues[guildID]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok = m.queues[guildID]; ok {
		return q
	}
	q = &GuildQueue{
		guildID:          guildID,
		maxSize:          m.maxSize,
		historySize:      m.historySize,
		recommendedIndex: map[recommendationKey]struct{}{},
		logger:           m.logger.With("guild_id", guildID),
		db:               m.db,
	}
	m.queues[guildID] = q
	return q
}

// Existing returns the queue for the given guild, or nil if none has
// been created.
func (m *QueueManager) Existing(guildID string) *GuildQueue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queues[guildID]
}

// Remove discards all queue state for a guild. Called when the bot
// leaves a guild.
func (m *QueueManager) Remove(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[guildID]; ok {
		delete(m.queues, guildID)
		m.logger.Info("removed guild queue", "guild_id", guildID)
	}
}

// GuildIDs returns the IDs of all guilds with queue state.
func (m *QueueManager) GuildIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	return ids
}

// LoadPlayHistory seeds each guild's in-memory play history ring from the
// most recent PlayHistory rows, so recommendations survive restarts.
func (m *QueueManager) LoadPlayHistory(ctx context.Context) error {
	var rows []PlayHistory
	err := m.db.DB().WithContext(ctx).
		Order("created_at desc").
		Limit(m.historySize * 10).
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("error loading play history: %w", err)
	}

	// rows are newest-first; walk backwards so each guild's ring ends up
	// oldest-first
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		q := m.Get(row.GuildID)
		q.mu.Lock()
		q.appendHistoryLocked(row.Author)
		q.mu.Unlock()
	}
	m.logger.InfoContext(ctx, "loaded play history", "rows", len(rows))
	return nil
}

func (q *GuildQueue) GuildID() string {
	return q.guildID
}

// Add appends a track to the end of the queue.
func (q *GuildQueue) Add(track lavalink.Track) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxSize > 0 && len(q.tracks) >= q.maxSize {
		return ErrQueueFull
	}
	q.tracks = append(q.tracks, track)
	return nil
}

// AddNext inserts a track at the front of the queue.
func (q *GuildQueue) AddNext(track lavalink.Track) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxSize > 0 && len(q.tracks) >= q.maxSize {
		return ErrQueueFull
	}
	q.tracks = append([]lavalink.Track{track}, q.tracks...)
	return nil
}

// AddAll appends tracks in order, stopping at capacity. It returns the
// number of tracks actually added, and ErrQueueFull if any were dropped.
func (q *GuildQueue) AddAll(tracks []lavalink.Track) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	added := 0
	for _, track := range tracks {
		if q.maxSize > 0 && len(q.tracks) >= q.maxSize {
			return added, ErrQueueFull
		}
		q.tracks = append(q.tracks, track)
		added++
	}
	return added, nil
}

// AddAllNext inserts tracks at the front of the queue, preserving their
// order (the first given track plays first).
func (q *GuildQueue) AddAllNext(tracks []lavalink.Track) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	added := 0
	for i := len(tracks) - 1; i >= 0; i-- {
		if q.maxSize > 0 && len(q.tracks) >= q.maxSize {
			return added, ErrQueueFull
		}
		q.tracks = append([]lavalink.Track{tracks[i]}, q.tracks...)
		added++
	}
	return added, nil
}

// Next pops the track at the front of the queue. The boolean is false
// when the queue is empty.
func (q *GuildQueue) Next() (lavalink.Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return lavalink.Track{}, false
	}
	track := q.tracks[0]
	q.tracks = q.tracks[1:]
	return track, true
}

// Peek returns the track at the given zero-based position without
// removing it.
func (q *GuildQueue) Peek(i int) (lavalink.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.tracks) {
		return lavalink.Track{}, ErrIndexOutOfRange
	}
	return q.tracks[i], nil
}

// RemoveAt removes and returns the track at the given zero-based position.
func (q *GuildQueue) RemoveAt(i int) (lavalink.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.tracks) {
		return lavalink.Track{}, ErrIndexOutOfRange
	}
	track := q.tracks[i]
	q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
	return track, nil
}

// Move relocates the track at position `from` to position `to`.
func (q *GuildQueue) Move(from int, to int) (lavalink.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if from < 0 || from >= len(q.tracks) || to < 0 || to >= len(q.tracks) {
		return lavalink.Track{}, ErrIndexOutOfRange
	}
	track := q.tracks[from]
	q.tracks = append(q.tracks[:from], q.tracks[from+1:]...)
	rest := append([]lavalink.Track{}, q.tracks[to:]...)
	q.tracks = append(append(q.tracks[:to], track), rest...)
	return track, nil
}

// Shuffle randomizes the order of pending tracks.
func (q *GuildQueue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	rand.Shuffle(
		len(q.tracks), func(i, j int) {
			q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
		},
	)
}

// Clear removes all pending tracks. The current track is unaffected.
func (q *GuildQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tracks)
	q.tracks = nil
	return n
}

// List returns a copy of the pending tracks.
func (q *GuildQueue) List() []lavalink.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	tracks := make([]lavalink.Track, len(q.tracks))
	copy(tracks, q.tracks)
	return tracks
}

// Len returns the number of pending tracks.
func (q *GuildQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// TotalDuration sums the length of all pending tracks. Streams count
// as zero.
func (q *GuildQueue) TotalDuration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total time.Duration
	for _, track := range q.tracks {
		if track.Info.IsStream {
			continue
		}
		total += time.Duration(track.Info.Length) * time.Millisecond
	}
	return total
}

// Current returns the currently playing track, or nil when idle.
func (q *GuildQueue) Current() *lavalink.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return nil
	}
	track := *q.current
	return &track
}

// SetCurrent records the track now playing, appends its author to the
// play history ring, and persists a PlayHistory row. requesterID may be
// empty for tracks the bot queued itself.
func (q *GuildQueue) SetCurrent(
	ctx context.Context,
	track lavalink.Track,
	requesterID string,
	recommended bool,
) {
	q.mu.Lock()
	t := track
	q.current = &t
	q.appendHistoryLocked(track.Info.Author)
	q.mu.Unlock()

	row := &PlayHistory{
		GuildID:     q.guildID,
		UserID:      requesterID,
		Title:       track.Info.Title,
		Author:      track.Info.Author,
		URI:         stringPointerValue(track.Info.URI),
		Identifier:  track.Info.Identifier,
		SourceName:  track.Info.SourceName,
		DurationMS:  int64(track.Info.Length),
		Recommended: recommended,
	}
	if _, err := q.db.Create(ctx, row); err != nil {
		q.logger.ErrorContext(
			ctx,
			"error saving play history",
			tint.Err(err),
			"play_history", row,
		)
	}
}

// ClearCurrent unsets the current track.
func (q *GuildQueue) ClearCurrent() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = nil
}

func (q *GuildQueue) appendHistoryLocked(author string) {
	if author == "" {
		return
	}
	q.playHistory = append(q.playHistory, author)
	if q.historySize > 0 && len(q.playHistory) > q.historySize {
		q.playHistory = q.playHistory[len(q.playHistory)-q.historySize:]
	}
}

// PlayHistoryAuthors returns a copy of the author history ring,
// oldest first.
func (q *GuildQueue) PlayHistoryAuthors() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	authors := make([]string, len(q.playHistory))
	copy(authors, q.playHistory)
	return authors
}

// SetChannelID binds the text channel playback announcements go to.
func (q *GuildQueue) SetChannelID(channelID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.channelID = channelID
}

// ChannelID returns the bound announcement channel, empty if none.
func (q *GuildQueue) ChannelID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.channelID
}

// ToggleReplay flips replay mode and returns the new state.
func (q *GuildQueue) ToggleReplay() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.replay = !q.replay
	return q.replay
}

// Replay reports whether replay mode is on.
func (q *GuildQueue) Replay() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.replay
}

// SetReplay sets replay mode directly.
func (q *GuildQueue) SetReplay(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.replay = on
}

// ToggleAutoplay flips autoplay (recommend-on-empty-queue) and returns
// the new state.
func (q *GuildQueue) ToggleAutoplay() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.autoplay = !q.autoplay
	return q.autoplay
}

// Autoplay reports whether autoplay is on.
func (q *GuildQueue) Autoplay() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.autoplay
}

// MarkRecommended records a track in the recommendation dedupe set.
// The set is capped at historySize entries, oldest evicted first.
func (q *GuildQueue) MarkRecommended(title string, author string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := recommendationKey{Title: title, Author: author}
	if _, ok := q.recommendedIndex[key]; ok {
		return
	}
	q.recommended = append(q.recommended, key)
	q.recommendedIndex[key] = struct{}{}
	if q.historySize > 0 && len(q.recommended) > q.historySize {
		evicted := q.recommended[0]
		q.recommended = q.recommended[1:]
		delete(q.recommendedIndex, evicted)
	}
}

// WasRecommended reports whether a track was recently recommended.
func (q *GuildQueue) WasRecommended(title string, author string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.recommendedIndex[recommendationKey{Title: title, Author: author}]
	return ok
}

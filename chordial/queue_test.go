package chordial

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrack(title string, author string) lavalink.Track {
	uri := fmt.Sprintf("https://example.com/%s", title)
	return lavalink.Track{
		Encoded: fmt.Sprintf("encoded-%s", title),
		Info: lavalink.TrackInfo{
			Identifier: fmt.Sprintf("id-%s", title),
			Title:      title,
			Author:     author,
			URI:        &uri,
			SourceName: "youtube",
			Length:     durationToLavalink(3 * time.Minute),
		},
	}
}

func newTestQueueManager(t testing.TB) *QueueManager {
	t.Helper()
	return NewQueueManager(
		&PlayerConfig{
			MaxQueueSize: 5,
			HistorySize:  3,
		},
		testWriteDB(t),
		nil,
	)
}

func TestQueueAddAndNext(t *testing.T) {
	q := newTestQueueManager(t).Get("guild-1")

	require.NoError(t, q.Add(newTestTrack("one", "artist")))
	require.NoError(t, q.Add(newTestTrack("two", "artist")))
	require.NoError(t, q.AddNext(newTestTrack("zero", "artist")))

	assert.Equal(t, 3, q.Len())

	track, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, "zero", track.Info.Title)

	track, ok = q.Next()
	require.True(t, ok)
	assert.Equal(t, "one", track.Info.Title)

	track, ok = q.Next()
	require.True(t, ok)
	assert.Equal(t, "two", track.Info.Title)

	_, ok = q.Next()
	assert.False(t, ok)
}

func TestQueueCapacity(t *testing.T) {
	q := newTestQueueManager(t).Get("guild-1")

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Add(newTestTrack(fmt.Sprintf("track-%d", i), "a")))
	}
	assert.ErrorIs(t, q.Add(newTestTrack("overflow", "a")), ErrQueueFull)
	assert.ErrorIs(t, q.AddNext(newTestTrack("overflow", "a")), ErrQueueFull)

	q.Clear()
	added, err := q.AddAll(
		[]lavalink.Track{
			newTestTrack("1", "a"),
			newTestTrack("2", "a"),
			newTestTrack("3", "a"),
			newTestTrack("4", "a"),
			newTestTrack("5", "a"),
			newTestTrack("6", "a"),
		},
	)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 5, added)
}

func TestQueueAddAllNextPreservesOrder(t *testing.T) {
	q := newTestQueueManager(t).Get("guild-1")
	require.NoError(t, q.Add(newTestTrack("last", "a")))

	added, err := q.AddAllNext(
		[]lavalink.Track{
			newTestTrack("first", "a"),
			newTestTrack("second", "a"),
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	tracks := q.List()
	require.Len(t, tracks, 3)
	assert.Equal(t, "first", tracks[0].Info.Title)
	assert.Equal(t, "second", tracks[1].Info.Title)
	assert.Equal(t, "last", tracks[2].Info.Title)
}

func TestQueueRemoveAtAndMove(t *testing.T) {
	q := newTestQueueManager(t).Get("guild-1")
	for _, title := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Add(newTestTrack(title, "artist")))
	}

	track, err := q.RemoveAt(1)
	require.NoError(t, err)
	assert.Equal(t, "b", track.Info.Title)
	assert.Equal(t, 3, q.Len())

	_, err = q.RemoveAt(10)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = q.RemoveAt(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	// queue is now [a, c, d]; move d to the front
	track, err = q.Move(2, 0)
	require.NoError(t, err)
	assert.Equal(t, "d", track.Info.Title)

	tracks := q.List()
	assert.Equal(t, "d", tracks[0].Info.Title)
	assert.Equal(t, "a", tracks[1].Info.Title)
	assert.Equal(t, "c", tracks[2].Info.Title)

	_, err = q.Move(0, 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestQueuePeekAndClear(t *testing.T) {
	q := newTestQueueManager(t).Get("guild-1")
	require.NoError(t, q.Add(newTestTrack("a", "artist")))
	require.NoError(t, q.Add(newTestTrack("b", "artist")))

	track, err := q.Peek(1)
	require.NoError(t, err)
	assert.Equal(t, "b", track.Info.Title)
	assert.Equal(t, 2, q.Len())

	_, err = q.Peek(2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
}

func TestQueueTotalDuration(t *testing.T) {
	q := newTestQueueManager(t).Get("guild-1")
	require.NoError(t, q.Add(newTestTrack("a", "artist")))
	require.NoError(t, q.Add(newTestTrack("b", "artist")))

	stream := newTestTrack("live", "artist")
	stream.Info.IsStream = true
	require.NoError(t, q.Add(stream))

	assert.Equal(t, 6*time.Minute, q.TotalDuration())
}

func TestQueueSetCurrentPersistsHistory(t *testing.T) {
	ctx := context.Background()
	db := testWriteDB(t)
	m := NewQueueManager(
		&PlayerConfig{MaxQueueSize: 5, HistorySize: 3}, db, nil,
	)
	q := m.Get("guild-1")

	assert.Nil(t, q.Current())

	q.SetCurrent(ctx, newTestTrack("song", "some artist"), "user-1", false)

	current := q.Current()
	require.NotNil(t, current)
	assert.Equal(t, "song", current.Info.Title)

	var rows []PlayHistory
	require.NoError(t, db.DB().Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "guild-1", rows[0].GuildID)
	assert.Equal(t, "user-1", rows[0].UserID)
	assert.Equal(t, "some artist", rows[0].Author)
	assert.False(t, rows[0].Recommended)

	assert.Equal(t, []string{"some artist"}, q.PlayHistoryAuthors())

	q.ClearCurrent()
	assert.Nil(t, q.Current())
}

func TestQueueHistoryRingCapped(t *testing.T) {
	ctx := context.Background()
	q := newTestQueueManager(t).Get("guild-1")

	for i := 0; i < 5; i++ {
		q.SetCurrent(
			ctx,
			newTestTrack(fmt.Sprintf("t%d", i), fmt.Sprintf("artist-%d", i)),
			"",
			false,
		)
	}

	authors := q.PlayHistoryAuthors()
	assert.Equal(t, []string{"artist-2", "artist-3", "artist-4"}, authors)
}

func TestQueueToggles(t *testing.T) {
	q := newTestQueueManager(t).Get("guild-1")

	assert.False(t, q.Replay())
	assert.True(t, q.ToggleReplay())
	assert.True(t, q.Replay())
	assert.False(t, q.ToggleReplay())

	q.SetReplay(true)
	assert.True(t, q.Replay())

	assert.False(t, q.Autoplay())
	assert.True(t, q.ToggleAutoplay())
	assert.False(t, q.ToggleAutoplay())
}

func TestQueueRecommendedDedupe(t *testing.T) {
	q := newTestQueueManager(t).Get("guild-1")

	assert.False(t, q.WasRecommended("song", "artist"))
	q.MarkRecommended("song", "artist")
	assert.True(t, q.WasRecommended("song", "artist"))

	// historySize is 3 - marking three more evicts the oldest
	q.MarkRecommended("song2", "artist")
	q.MarkRecommended("song3", "artist")
	q.MarkRecommended("song4", "artist")
	assert.False(t, q.WasRecommended("song", "artist"))
	assert.True(t, q.WasRecommended("song4", "artist"))
}

func TestQueueManager(t *testing.T) {
	m := newTestQueueManager(t)

	assert.Nil(t, m.Existing("guild-1"))
	q := m.Get("guild-1")
	require.NotNil(t, q)
	assert.Same(t, q, m.Get("guild-1"))
	assert.Same(t, q, m.Existing("guild-1"))
	assert.Equal(t, "guild-1", q.GuildID())

	m.Get("guild-2")
	assert.ElementsMatch(t, []string{"guild-1", "guild-2"}, m.GuildIDs())

	m.Remove("guild-1")
	assert.Nil(t, m.Existing("guild-1"))
}

func TestQueueManagerLoadPlayHistory(t *testing.T) {
	ctx := context.Background()
	db := testWriteDB(t)

	base := time.Now().Add(-time.Minute).UnixMilli()
	for i := 0; i < 2; i++ {
		row := &PlayHistory{
			GuildID: "guild-1",
			Title:   fmt.Sprintf("t%d", i),
			Author:  fmt.Sprintf("artist-%d", i),
		}
		row.CreatedAt = base + int64(i*1000)
		_, err := db.Create(ctx, row)
		require.NoError(t, err)
	}

	m := NewQueueManager(
		&PlayerConfig{MaxQueueSize: 5, HistorySize: 3}, db, nil,
	)
	require.NoError(t, m.LoadPlayHistory(ctx))

	q := m.Existing("guild-1")
	require.NotNil(t, q)
	assert.Equal(t, []string{"artist-0", "artist-1"}, q.PlayHistoryAuthors())
}

func TestQueueChannelID(t *testing.T) {
	q := newTestQueueManager(t).Get("guild-1")
	assert.Equal(t, "", q.ChannelID())
	q.SetChannelID("channel-1")
	assert.Equal(t, "channel-1", q.ChannelID())
}

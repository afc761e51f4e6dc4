package chordial

import (
	"context"
	"fmt"
	"testing"

	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLibraryManager(t testing.TB) *LibraryManager {
	t.Helper()
	return NewLibraryManager(testWriteDB(t), nil, nil)
}

func TestLibraryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := newTestLibraryManager(t)

	library, err := m.Create(ctx, "guild-1", "Road Trip", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Road Trip", library.Name)
	assert.Equal(t, "road trip", library.NormalizedName)
	assert.Equal(t, "user-1", library.CreatedBy)

	// lookups match on the normalized name
	found, err := m.Get(ctx, "guild-1", "  ROAD TRIP ")
	require.NoError(t, err)
	assert.Equal(t, library.ID, found.ID)

	_, err = m.Get(ctx, "guild-1", "nonexistent")
	assert.ErrorIs(t, err, ErrLibraryNotFound)

	// names are unique per guild, not globally
	_, err = m.Create(ctx, "guild-1", "road trip", "user-2")
	assert.ErrorIs(t, err, ErrLibraryExists)

	_, err = m.Create(ctx, "guild-2", "Road Trip", "user-2")
	assert.NoError(t, err)
}

func TestLibraryAddTrack(t *testing.T) {
	ctx := context.Background()
	m := newTestLibraryManager(t)

	library, err := m.Create(ctx, "guild-1", "chill", "user-1")
	require.NoError(t, err)

	trackA := newTestTrack("a", "artist")
	trackB := newTestTrack("b", "artist")
	require.NoError(t, m.AddTrack(ctx, library, trackA, "user-1"))
	require.NoError(t, m.AddTrack(ctx, library, trackB, "user-2"))

	// same URI is rejected
	assert.ErrorIs(
		t, m.AddTrack(ctx, library, trackA, "user-3"), ErrTrackExists,
	)

	tracks, err := m.Tracks(ctx, library)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "a", tracks[0].Title)
	assert.Equal(t, 1, tracks[0].Position)
	assert.Equal(t, "b", tracks[1].Title)
	assert.Equal(t, 2, tracks[1].Position)
	assert.Equal(t, "user-2", tracks[1].AddedBy)
}

func TestLibraryAddAllSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	m := newTestLibraryManager(t)

	library, err := m.Create(ctx, "guild-1", "mix", "user-1")
	require.NoError(t, err)

	added, err := m.AddAll(
		ctx, library, []lavalink.Track{
			newTestTrack("a", "artist"),
			newTestTrack("b", "artist"),
			newTestTrack("a", "artist"),
		}, "user-1",
	)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
}

func TestLibraryRemoveTrack(t *testing.T) {
	ctx := context.Background()
	m := newTestLibraryManager(t)

	library, err := m.Create(ctx, "guild-1", "mix", "user-1")
	require.NoError(t, err)
	for _, title := range []string{"a", "b", "c"} {
		require.NoError(
			t, m.AddTrack(ctx, library, newTestTrack(title, "artist"), "u"),
		)
	}

	// positions are 1-based, as shown by /library view
	removed, err := m.RemoveTrack(ctx, library, 2)
	require.NoError(t, err)
	assert.Equal(t, "b", removed.Title)

	_, err = m.RemoveTrack(ctx, library, 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = m.RemoveTrack(ctx, library, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	tracks, err := m.Tracks(ctx, library)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "a", tracks[0].Title)
	assert.Equal(t, "c", tracks[1].Title)
}

func TestLibraryDelete(t *testing.T) {
	ctx := context.Background()
	db := testWriteDB(t)
	m := NewLibraryManager(db, nil, nil)

	library, err := m.Create(ctx, "guild-1", "mix", "user-1")
	require.NoError(t, err)
	require.NoError(
		t, m.AddTrack(ctx, library, newTestTrack("a", "artist"), "u"),
	)

	require.NoError(t, m.Delete(ctx, library))

	_, err = m.Get(ctx, "guild-1", "mix")
	assert.ErrorIs(t, err, ErrLibraryNotFound)

	var count int64
	require.NoError(
		t,
		db.DB().Model(&LibraryTrack{}).Where(
			"library_id = ?", library.ID,
		).Count(&count).Error,
	)
	assert.Zero(t, count)
}

func TestLibraryList(t *testing.T) {
	ctx := context.Background()
	m := newTestLibraryManager(t)

	first, err := m.Create(ctx, "guild-1", "first", "user-1")
	require.NoError(t, err)
	_, err = m.Create(ctx, "guild-1", "second", "user-1")
	require.NoError(t, err)
	_, err = m.Create(ctx, "guild-2", "other guild", "user-1")
	require.NoError(t, err)

	require.NoError(
		t, m.AddTrack(ctx, first, newTestTrack("a", "artist"), "u"),
	)

	summaries, err := m.List(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "first", summaries[0].Name)
	assert.Equal(t, 1, summaries[0].TrackCount)
	assert.Equal(t, "second", summaries[1].Name)
	assert.Equal(t, 0, summaries[1].TrackCount)
}

func TestLibrarySaveQueue(t *testing.T) {
	ctx := context.Background()
	m := newTestLibraryManager(t)

	library, err := m.Create(ctx, "guild-1", "snapshot", "user-1")
	require.NoError(t, err)

	current := newTestTrack("current", "artist")
	pending := []lavalink.Track{
		newTestTrack("next", "artist"),
		newTestTrack("current", "artist"), // dupe of the current track
	}

	added, err := m.SaveQueue(ctx, library, &current, pending, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	tracks, err := m.Tracks(ctx, library)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "current", tracks[0].Title)
	assert.Equal(t, "next", tracks[1].Title)
}

func TestNewLibraryTrack(t *testing.T) {
	track := newTestTrack("song", "artist")
	lt := newLibraryTrack(track, "user-1")
	assert.Equal(t, "song", lt.Title)
	assert.Equal(t, "artist", lt.Author)
	assert.Equal(t, fmt.Sprintf("https://example.com/%s", "song"), lt.URI)
	assert.Equal(t, "id-song", lt.Identifier)
	assert.Equal(t, "youtube", lt.SourceName)
	assert.Equal(t, int64(180000), lt.DurationMS)
	assert.Equal(t, "user-1", lt.AddedBy)
}

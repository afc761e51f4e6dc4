package chordial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// ErrLibraryExists indicates a library with the same (normalized)
	// name already exists in the guild
	ErrLibraryExists = errors.New("library already exists")

	// ErrLibraryNotFound indicates no library matched the given name
	ErrLibraryNotFound = errors.New("library not found")

	// ErrTrackExists indicates the track (by URI) is already in the library
	ErrTrackExists = errors.New("track is already in the library")
)

const libraryViewPageSize = 10

// Library is a named, per-guild collection of saved tracks.
//
//nolint:lll // struct tags can't be split
type Library struct {
	ModelUintID
	ModelUnixTime

	GuildID string `json:"guild_id" gorm:"index:idx_library_guild_name,unique;type:string"`

	// Name as the user entered it, for display
	Name string `json:"name" gorm:"type:string"`

	// NormalizedName is the NFC-normalized, case-folded form of Name,
	// used for lookups so visually identical names match
	NormalizedName string `json:"normalized_name" gorm:"index:idx_library_guild_name,unique;type:string"`

	// CreatedBy is the Discord ID of the user who created the library
	CreatedBy string `json:"created_by" gorm:"type:string"`

	Tracks []LibraryTrack `json:"tracks,omitempty" gorm:"foreignKey:LibraryID"`
}

func (l Library) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(l.ID)),
		slog.String("guild_id", l.GuildID),
		slog.String("name", l.Name),
	)
}

// LibraryTrack is a track saved in a [Library]. Enough source metadata
// is kept to re-resolve the track through the audio node later.
//
//nolint:lll // struct tags can't be split
type LibraryTrack struct {
	ModelUintID
	ModelUnixTime

	LibraryID uint `json:"library_id" gorm:"index"`

	// Position orders tracks within the library
	Position int `json:"position"`

	Title      string `json:"title" gorm:"type:string"`
	Author     string `json:"author" gorm:"type:string"`
	URI        string `json:"uri" gorm:"type:string"`
	Identifier string `json:"identifier" gorm:"type:string"`
	SourceName string `json:"source_name" gorm:"type:string"`
	DurationMS int64  `json:"duration_ms"`

	// AddedBy is the Discord ID of the user who added the track
	AddedBy string `json:"added_by" gorm:"type:string"`
}

func newLibraryTrack(track lavalink.Track, addedBy string) LibraryTrack {
	return LibraryTrack{
		Title:      track.Info.Title,
		Author:     track.Info.Author,
		URI:        stringPointerValue(track.Info.URI),
		Identifier: track.Info.Identifier,
		SourceName: track.Info.SourceName,
		DurationMS: int64(track.Info.Length),
		AddedBy:    addedBy,
	}
}

// LibraryManager persists named per-guild track libraries.
type LibraryManager struct {
	db       DBI
	lavalink *Lavalink
	logger   *slog.Logger
}

func NewLibraryManager(
	db DBI,
	lava *Lavalink,
	logger *slog.Logger,
) *LibraryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LibraryManager{
		db:       db,
		lavalink: lava,
		logger:   logger.With(loggerNameKey, "library"),
	}
}

// Get returns the library with the given name in the guild, matching on
// the normalized form.
func (m *LibraryManager) Get(
	ctx context.Context,
	guildID string,
	name string,
) (*Library, error) {
	var library Library
	err := m.db.DB().WithContext(ctx).Where(
		"guild_id = ? AND normalized_name = ?",
		guildID,
		normalizeName(name),
	).First(&library).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLibraryNotFound
		}
		return nil, err
	}
	return &library, nil
}

// Create makes a new empty library. Names are unique per guild after
// normalization.
func (m *LibraryManager) Create(
	ctx context.Context,
	guildID string,
	name string,
	createdBy string,
) (*Library, error) {
	if _, err := m.Get(ctx, guildID, name); err == nil {
		return nil, ErrLibraryExists
	} else if !errors.Is(err, ErrLibraryNotFound) {
		return nil, err
	}

	library := &Library{
		GuildID:        guildID,
		Name:           name,
		NormalizedName: normalizeName(name),
		CreatedBy:      createdBy,
	}
	if _, err := m.db.Create(ctx, library); err != nil {
		return nil, fmt.Errorf("error creating library: %w", err)
	}
	m.logger.InfoContext(ctx, "created library", "library", library)
	return library, nil
}

// LibrarySummary pairs a library with its track count, for /library list.
type LibrarySummary struct {
	Name       string `json:"name"`
	TrackCount int    `json:"track_count"`
}

// List returns the guild's libraries with track counts, oldest first.
func (m *LibraryManager) List(
	ctx context.Context,
	guildID string,
) ([]LibrarySummary, error) {
	var libraries []Library
	err := m.db.DB().WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("created_at asc").Find(&libraries).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]LibrarySummary, 0, len(libraries))
	for _, library := range libraries {
		var count int64
		if countErr := m.db.DB().WithContext(ctx).Model(&LibraryTrack{}).Where(
			"library_id = ?", library.ID,
		).Count(&count).Error; countErr != nil {
			return nil, countErr
		}
		summaries = append(
			summaries, LibrarySummary{
				Name:       library.Name,
				TrackCount: int(count),
			},
		)
	}
	return summaries, nil
}

// Tracks returns a library's tracks in saved order.
func (m *LibraryManager) Tracks(
	ctx context.Context,
	library *Library,
) ([]LibraryTrack, error) {
	var tracks []LibraryTrack
	err := m.db.DB().WithContext(ctx).Where(
		"library_id = ?", library.ID,
	).Order("position asc, id asc").Find(&tracks).Error
	return tracks, err
}

// AddTrack appends a track, deduplicating by URI. Returns ErrTrackExists
// if the URI is already saved.
func (m *LibraryManager) AddTrack(
	ctx context.Context,
	library *Library,
	track lavalink.Track,
	addedBy string,
) error {
	uri := stringPointerValue(track.Info.URI)
	if uri != "" {
		var count int64
		err := m.db.DB().WithContext(ctx).Model(&LibraryTrack{}).Where(
			"library_id = ? AND uri = ?", library.ID, uri,
		).Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrTrackExists
		}
	}

	position, err := m.nextPosition(ctx, library)
	if err != nil {
		return err
	}
	lt := newLibraryTrack(track, addedBy)
	lt.LibraryID = library.ID
	lt.Position = position
	if _, err = m.db.Create(ctx, &lt); err != nil {
		return fmt.Errorf("error saving library track: %w", err)
	}
	return nil
}

// AddAll appends multiple tracks, skipping duplicates. Returns the
// number actually added.
func (m *LibraryManager) AddAll(
	ctx context.Context,
	library *Library,
	tracks []lavalink.Track,
	addedBy string,
) (int, error) {
	added := 0
	for _, track := range tracks {
		err := m.AddTrack(ctx, library, track, addedBy)
		if err != nil {
			if errors.Is(err, ErrTrackExists) {
				continue
			}
			return added, err
		}
		added++
	}
	return added, nil
}

func (m *LibraryManager) nextPosition(
	ctx context.Context,
	library *Library,
) (int, error) {
	var maxPosition *int
	err := m.db.DB().WithContext(ctx).Model(&LibraryTrack{}).Where(
		"library_id = ?", library.ID,
	).Select("max(position)").Scan(&maxPosition).Error
	if err != nil {
		return 0, err
	}
	if maxPosition == nil {
		return 1, nil
	}
	return *maxPosition + 1, nil
}

// RemoveTrack deletes the track at the given 1-based position (as shown
// by /library view). Returns the removed track.
func (m *LibraryManager) RemoveTrack(
	ctx context.Context,
	library *Library,
	position int,
) (*LibraryTrack, error) {
	tracks, err := m.Tracks(ctx, library)
	if err != nil {
		return nil, err
	}
	if position < 1 || position > len(tracks) {
		return nil, ErrIndexOutOfRange
	}
	track := tracks[position-1]
	if _, err = m.db.Delete(&LibraryTrack{}, "id = ?", track.ID); err != nil {
		return nil, fmt.Errorf("error removing library track: %w", err)
	}
	return &track, nil
}

// Delete removes a library and all its tracks.
func (m *LibraryManager) Delete(ctx context.Context, library *Library) error {
	return m.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if err := tx.Delete(
				&LibraryTrack{}, "library_id = ?", library.ID,
			).Error; err != nil {
				return err
			}
			return tx.Delete(&Library{}, "id = ?", library.ID).Error
		},
	)
}

// SaveQueue snapshots the current track and pending queue into a library,
// deduplicating by URI against what's already saved. Returns the number
// of tracks added.
func (m *LibraryManager) SaveQueue(
	ctx context.Context,
	library *Library,
	current *lavalink.Track,
	pending []lavalink.Track,
	savedBy string,
) (int, error) {
	tracks := make([]lavalink.Track, 0, len(pending)+1)
	if current != nil {
		tracks = append(tracks, *current)
	}
	tracks = append(tracks, pending...)
	return m.AddAll(ctx, library, tracks, savedBy)
}

// Resolve turns saved library tracks back into playable tracks through
// the audio node: by identifier first, then URI, then a title+author
// search. Unresolvable tracks are skipped (and logged).
func (m *LibraryManager) Resolve(
	ctx context.Context,
	saved []LibraryTrack,
	shuffle bool,
	limit int,
) []lavalink.Track {
	if shuffle {
		shuffled := make([]LibraryTrack, len(saved))
		copy(shuffled, saved)
		rand.Shuffle(
			len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			},
		)
		saved = shuffled
	}

	tracks := make([]lavalink.Track, 0, len(saved))
	for _, lt := range saved {
		if limit > 0 && len(tracks) >= limit {
			break
		}
		track, err := m.resolveOne(ctx, lt)
		if err != nil {
			m.logger.WarnContext(
				ctx,
				"could not resolve library track",
				tint.Err(err),
				"title", lt.Title,
				"author", lt.Author,
			)
			continue
		}
		tracks = append(tracks, track)
	}
	return tracks
}

func (m *LibraryManager) resolveOne(
	ctx context.Context,
	lt LibraryTrack,
) (lavalink.Track, error) {
	if lt.Identifier != "" {
		track, err := m.lavalink.LoadByIdentifier(ctx, lt.Identifier)
		if err == nil {
			return track, nil
		}
	}
	if lt.URI != "" {
		tracks, _, err := m.lavalink.LoadTracks(ctx, lt.URI)
		if err == nil && len(tracks) > 0 {
			return tracks[0], nil
		}
	}
	return m.lavalink.SearchTrack(
		ctx, fmt.Sprintf("%s %s", lt.Title, lt.Author),
	)
}

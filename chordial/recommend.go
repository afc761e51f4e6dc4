package chordial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/disgoorg/disgolink/v3/lavalink"
)

// ErrNoHistory indicates there's no play history to recommend from.
var ErrNoHistory = errors.New("no play history to recommend from")

// recommendSearchAttempts bounds how many author searches a single
// recommendation will try before giving up.
const recommendSearchAttempts = 5

// Recommender suggests new tracks based on a guild's play history:
// artists that were played more often are more likely to be picked,
// and tracks already recommended (or just played) are skipped.
type Recommender struct {
	lavalink *Lavalink
	logger   *slog.Logger
}

func NewRecommender(lava *Lavalink, logger *slog.Logger) *Recommender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recommender{
		lavalink: lava,
		logger:   logger.With(loggerNameKey, "recommender"),
	}
}

// authorWeights tallies play counts per author from the history ring.
func authorWeights(authors []string) (map[string]int, int) {
	weights := make(map[string]int, len(authors))
	total := 0
	for _, author := range authors {
		if author == "" {
			continue
		}
		weights[author]++
		total++
	}
	return weights, total
}

// pickAuthor draws a weighted random author: an artist played three
// times is three times as likely as one played once.
func pickAuthor(weights map[string]int, total int) string {
	if total <= 0 {
		return ""
	}
	n := rand.Intn(total)
	for author, weight := range weights {
		n -= weight
		if n < 0 {
			return author
		}
	}
	return ""
}

// RecommendOne finds a single track the guild hasn't heard recently.
func (r *Recommender) RecommendOne(
	ctx context.Context,
	queue *GuildQueue,
) (lavalink.Track, error) {
	tracks, err := r.Recommend(ctx, queue, 1)
	if err != nil {
		return lavalink.Track{}, err
	}
	return tracks[0], nil
}

// Recommend finds up to count tracks based on the guild's play history.
// Fewer than count may be returned when searches come up dry.
func (r *Recommender) Recommend(
	ctx context.Context,
	queue *GuildQueue,
	count int,
) ([]lavalink.Track, error) {
	weights, total := authorWeights(queue.PlayHistoryAuthors())
	if total == 0 {
		return nil, ErrNoHistory
	}

	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = r.logger
	}

	recommended := make([]lavalink.Track, 0, count)
	seen := map[recommendationKey]bool{}
	for len(recommended) < count {
		track, found := r.findTrack(ctx, log, queue, weights, total, seen)
		if !found {
			break
		}
		seen[recommendationKey{
			Title:  track.Info.Title,
			Author: track.Info.Author,
		}] = true
		queue.MarkRecommended(track.Info.Title, track.Info.Author)
		recommended = append(recommended, track)
	}
	if len(recommended) == 0 {
		return nil, ErrNoHistory
	}
	return recommended, nil
}

func (r *Recommender) findTrack(
	ctx context.Context,
	log *slog.Logger,
	queue *GuildQueue,
	weights map[string]int,
	total int,
	seen map[recommendationKey]bool,
) (lavalink.Track, bool) {
	for attempt := 0; attempt < recommendSearchAttempts; attempt++ {
		author := pickAuthor(weights, total)
		if author == "" {
			return lavalink.Track{}, false
		}
		track, err := r.lavalink.SearchTrack(
			ctx, fmt.Sprintf("%s music", author),
		)
		if err != nil {
			log.DebugContext(
				ctx,
				"recommendation search came up empty",
				"author", author,
				"attempt", attempt,
			)
			continue
		}
		key := recommendationKey{
			Title:  track.Info.Title,
			Author: track.Info.Author,
		}
		if seen[key] || queue.WasRecommended(track.Info.Title, track.Info.Author) {
			continue
		}
		return track, true
	}
	return lavalink.Track{}, false
}

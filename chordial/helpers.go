package chordial

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"golang.org/x/text/unicode/norm"
)

const loggerContextKey contextKey = "logger"

type contextKey string

// WithLogger returns a new context with the given logger added.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	var ctxLogger *slog.Logger
	if logger == nil {
		ctxLogger = slog.Default()
	} else {
		ctxLogger = logger
	}
	return context.WithValue(ctx, loggerContextKey, ctxLogger)
}

// ContextLogger returns a logger from the given context if one
// is present, and a boolean indicating whether a logger was found.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

var youTubeURLPattern = regexp.MustCompile(
	`^(https?://)?(www\.|music\.)?(youtube\.com|youtu\.be)/.+$`,
)

// isURL reports whether the given play query is a URL (loaded directly by
// the audio node) rather than a search term
func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isYouTubeURL(s string) bool {
	return youTubeURLPattern.MatchString(s)
}

// trackThumbnailURL returns the artwork for a track, falling back to the
// YouTube thumbnail endpoint when the node didn't supply any.
func trackThumbnailURL(track lavalink.Track) string {
	if track.Info.ArtworkURL != nil && *track.Info.ArtworkURL != "" {
		return *track.Info.ArtworkURL
	}
	if track.Info.URI != nil && isYouTubeURL(*track.Info.URI) {
		return fmt.Sprintf(
			"https://img.youtube.com/vi/%s/hqdefault.jpg",
			track.Info.Identifier,
		)
	}
	return ""
}

// formatDuration renders a track duration as m:ss, or h:mm:ss for tracks
// an hour or longer
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalSeconds := int(d / time.Second)
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// durationToLavalink converts a time.Duration to the node's
// millisecond-based duration type
func durationToLavalink(d time.Duration) lavalink.Duration {
	return lavalink.Duration(d / time.Millisecond)
}

const progressBarWidth = 20

// progressBar renders a textual playback position bar, e.g.:
//
//	▓▓▓▓▓▓░░░░░░░░░░░░░░ 1:02 / 3:45
func progressBar(position time.Duration, length time.Duration) string {
	if length <= 0 {
		return fmt.Sprintf("%s 🔴 LIVE", strings.Repeat("▓", progressBarWidth))
	}
	if position > length {
		position = length
	}
	filled := int(float64(progressBarWidth) * float64(position) / float64(length))
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	return fmt.Sprintf(
		"%s%s %s / %s",
		strings.Repeat("▓", filled),
		strings.Repeat("░", progressBarWidth-filled),
		formatDuration(position),
		formatDuration(length),
	)
}

// trackLink renders a track as a markdown link when it has a URI,
// otherwise as plain "title - author" text
func trackLink(t lavalink.Track) string {
	label := fmt.Sprintf("%s - %s", t.Info.Title, t.Info.Author)
	if t.Info.URI == nil || *t.Info.URI == "" {
		return label
	}
	return fmt.Sprintf("[%s](%s)", label, *t.Info.URI)
}

func trackLogAttrs(t lavalink.Track) []any {
	return []any{
		"title", t.Info.Title,
		"author", t.Info.Author,
		"identifier", t.Info.Identifier,
		"source", t.Info.SourceName,
	}
}

// normalizeName canonicalizes a user-supplied library name so that
// visually identical names compare equal (NFC normalization, trimmed,
// case-folded)
func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

// splitMessage breaks content into chunks that fit within Discord's
// message length limit, preferring to split on newlines, then spaces
func splitMessage(content string, limit int) []string {
	if content == "" {
		return nil
	}
	var chunks []string
	for utf8.RuneCountInString(content) > limit {
		runes := []rune(content)
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		if cut == limit {
			for i := limit - 1; i > limit/2; i-- {
				if runes[i] == ' ' {
					cut = i
					break
				}
			}
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		content = strings.TrimSpace(string(runes[cut:]))
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// discordInteractionOptions extracts the interaction options from a
// Discord interaction into a map keyed by option name.
func discordInteractionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}

// subcommandOptions extracts the options of a subcommand interaction
// (e.g. `/library add name:... query:...`) into a map keyed by option name.
func subcommandOptions(
	sub *discordgo.ApplicationCommandInteractionDataOption,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(sub.Options),
	)
	for _, option := range sub.Options {
		optionMap[option.Name] = option
	}
	return optionMap
}

func tlsConfig(certfile string, keyfile string, minVersion uint16) (
	*tls.Config,
	error,
) {
	certs := make([]tls.Certificate, 1)

	cert, err := tls.LoadX509KeyPair(
		certfile,
		keyfile,
	)
	if err != nil {
		return nil, err
	}
	certs[0] = cert
	return &tls.Config{
		Certificates: certs,
		MinVersion:   minVersion,
		ClientAuth:   tls.NoClientCert,
	}, nil
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"REDACTED"` will cause "REDACTED" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		logTag := field.Tag.Get("log")
		if logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip struct values that are nil or empty
		skip := false
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				skip = true
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				skip = true
			}
		case reflect.String:
			if fv.String() == "" || fv.Len() == 0 {
				skip = true
			}
		}

		if skip {
			continue
		}

		fieldValue := fv.Interface()
		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fieldValue)},
		)
	}
	rv := slog.GroupValue(groupAttrs...)

	return rv
}

func interactionLogAttrs(i discordgo.InteractionCreate) []any {
	logAttrs := []any{
		"id", i.ID,
		"type", i.Type.String(),
	}
	if i.ChannelID != "" {
		logAttrs = append(logAttrs, "channel_id", i.ChannelID)
	}
	if i.GuildID != "" {
		logAttrs = append(logAttrs, "guild_id", i.GuildID)
	}
	if i.AppID != "" {
		logAttrs = append(logAttrs, "app_id", i.AppID)
	}

	return logAttrs
}

func userLogAttrs(u User) []any {
	return []any{
		"id", u.ID,
		"username", u.Username,
		"global_name", u.GlobalName,
	}
}

// chunkItems splits the input items into chunks of maxRowLength
func chunkItems[T any](maxRowLength int, items ...T) [][]T {
	var result [][]T
	for len(items) > 0 {
		end := maxRowLength
		if len(items) < maxRowLength {
			end = len(items)
		}
		result = append(result, items[:end])
		items = items[end:]
	}
	return result
}

func stringPointerValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

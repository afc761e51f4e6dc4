package chordial

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAPI builds an API server backed by a minimal bot instance
// (no gateway or audio node connection).
func newTestAPI(t testing.TB) (*API, *Chordial) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := DefaultTestConfig(t)
	db := testWriteDB(t)

	runtimeConfig := DefaultRuntimeConfig()
	c := &Chordial{
		config:        cfg,
		writeDB:       db,
		logger:        slog.Default(),
		discord:       &Discord{config: cfg.Discord},
		lavalink:      NewLavalink(cfg.Lavalink, cfg.Player.SearchType, nil),
		startedAt:     time.Now(),
		runtimeConfig: &runtimeConfig,
	}
	c.queues = NewQueueManager(cfg.Player, db, nil)
	c.players = newPlayerManager(c, nil)

	api, err := newAPI(c, cfg.API)
	require.NoError(t, err)
	return api, c
}

func apiRequest(
	t testing.TB,
	api *API,
	method string,
	path string,
	body string,
	authorized bool,
) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authorized {
		req.Header.Set(
			"Authorization", fmt.Sprintf("Bearer %s", api.config.Secret),
		)
	}
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

func TestAPIHealthCheckIsPublic(t *testing.T) {
	api, _ := newTestAPI(t)

	w := apiRequest(t, api, http.MethodGet, apiHealthCheck, "", false)
	require.Equal(t, http.StatusOK, w.Code)

	var response healthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Paused)
	assert.False(t, response.DiscordGatewayConnected)

	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))
}

func TestAPIRequiresBearerToken(t *testing.T) {
	api, _ := newTestAPI(t)

	w := apiRequest(t, api, http.MethodGet, "/api/status", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	w = httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = apiRequest(t, api, http.MethodGet, "/api/status", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIWithoutSecretOnlyServesHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultTestConfig(t)
	cfg.API.Secret = ""
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
	c.queues = NewQueueManager(cfg.Player, db, nil)
	c.players = newPlayerManager(c, nil)

	api, err := newAPI(c, cfg.API)
	require.NoError(t, err)

	w := apiRequest(t, api, http.MethodGet, apiHealthCheck, "", false)
	assert.Equal(t, http.StatusOK, w.Code)

	w = apiRequest(t, api, http.MethodGet, "/api/status", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIGetStatus(t *testing.T) {
	api, c := newTestAPI(t)
	c.queues.Get("123456789")

	w := apiRequest(t, api, http.MethodGet, "/api/status", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "disconnected", status.LavalinkStatus)
	assert.Equal(t, 1, status.ActiveQueues)
	assert.Zero(t, status.PlayersRunning)
}

func TestAPIGetGuildQueue(t *testing.T) {
	api, c := newTestAPI(t)

	w := apiRequest(
		t, api, http.MethodGet, "/api/guilds/123456789/queue", "", true,
	)
	assert.Equal(t, http.StatusNotFound, w.Code)

	queue := c.queues.Get("123456789")
	require.NoError(t, queue.Add(newTestTrack("pending", "artist")))
	queue.SetCurrent(
		context.Background(), newTestTrack("current", "artist"), "user-1", false,
	)

	w = apiRequest(
		t, api, http.MethodGet, "/api/guilds/123456789/queue", "", true,
	)
	require.Equal(t, http.StatusOK, w.Code)

	var response queueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "123456789", response.GuildID)
	require.NotNil(t, response.Current)
	assert.Equal(t, "current", response.Current.Title)
	require.Len(t, response.Tracks, 1)
	assert.Equal(t, "pending", response.Tracks[0].Title)
	assert.Equal(t, "3:00", response.Tracks[0].Duration)
}

func TestAPIGetGuildPlayHistory(t *testing.T) {
	api, c := newTestAPI(t)

	queue := c.queues.Get("123456789")
	queue.SetCurrent(
		context.Background(), newTestTrack("played", "artist"), "user-1", false,
	)

	w := apiRequest(
		t, api, http.MethodGet, "/api/guilds/123456789/history", "", true,
	)
	require.Equal(t, http.StatusOK, w.Code)

	var history []PlayHistory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "played", history[0].Title)
}

func TestAPIPauseResume(t *testing.T) {
	api, c := newTestAPI(t)
	// no gateway session: presence updates are skipped, but the pause
	// state is still toggled and persisted
	_, err := c.writeDB.Create(context.Background(), c.runtimeConfig)
	require.NoError(t, err)

	w := apiRequest(t, api, http.MethodPost, "/api/resume", "", true)
	assert.Equal(t, http.StatusConflict, w.Code, "bot isn't paused yet")

	w = apiRequest(t, api, http.MethodPost, "/api/pause", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, c.paused.Load())

	w = apiRequest(t, api, http.MethodPost, "/api/pause", "", true)
	assert.Equal(t, http.StatusConflict, w.Code, "already paused")

	w = apiRequest(t, api, http.MethodPost, "/api/resume", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, c.paused.Load())
}

func TestAPIGetConfig(t *testing.T) {
	api, _ := newTestAPI(t)

	w := apiRequest(t, api, http.MethodGet, "/api/config", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var config RuntimeConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &config))
	assert.Equal(t, DefaultChatModel, config.ChatModel)
}

func TestAPIUpdateRuntimeConfig(t *testing.T) {
	api, c := newTestAPI(t)
	_, err := c.writeDB.Create(context.Background(), c.runtimeConfig)
	require.NoError(t, err)

	w := apiRequest(
		t, api, http.MethodPatch, "/api/config",
		`{"chat_model": "some-other-model", "default_volume": 50}`,
		true,
	)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	updated := c.RuntimeConfig()
	assert.Equal(t, "some-other-model", updated.ChatModel)
	assert.Equal(t, 50, updated.DefaultVolume)

	// invalid values are rejected before hitting the database
	w = apiRequest(
		t, api, http.MethodPatch, "/api/config",
		`{"default_volume": 5000}`,
		true,
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 50, c.RuntimeConfig().DefaultVolume)
}

func TestAPIUsers(t *testing.T) {
	api, c := newTestAPI(t)

	_, _, err := c.writeDB.GetOrCreateUser(
		context.Background(), discordgo.User{ID: "12345", Username: "someuser"},
	)
	require.NoError(t, err)

	w := apiRequest(t, api, http.MethodGet, "/api/users", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var users []User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.False(t, users[0].Ignored)

	w = apiRequest(
		t, api, http.MethodPatch, "/api/users/12345",
		`{"ignored": true}`,
		true,
	)
	require.Equal(t, http.StatusAccepted, w.Code)

	var updated User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.True(t, updated.Ignored)

	w = apiRequest(
		t, api, http.MethodPatch, "/api/users/does-not-exist",
		`{"ignored": true}`,
		true,
	)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerateRandomHexString(t *testing.T) {
	s, err := generateRandomHexString(32)
	require.NoError(t, err)
	assert.Len(t, s, 32)

	other, err := generateRandomHexString(32)
	require.NoError(t, err)
	assert.NotEqual(t, s, other)
}

package chordial

import (
	"context"
	cryprand "crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const (
	apiPrefix          = "/api"
	apiHealthCheck     = "/health"
	apiPathStatus      = "/status"
	apiPathGuildQueue  = "/guilds/:guild_id/queue"
	apiPathPause       = "/pause"
	apiPathResume      = "/resume"
	apiPathConfig      = "/config"
	apiPathGuildStop   = "/guilds/:guild_id/stop"
	apiPathUsers       = "/users"
	apiPathUpdateUser  = "/users/:id"
	apiPathPlayHistory = "/guilds/:guild_id/history"

	xRequestIDHeader = "X-Request-ID"
)

var structValidator = validator.New()

//nolint:gochecknoinits // gotta register the validator tag
func init() {
	structValidator.SetTagName("binding")
}

type httpError struct {
	Error string `json:"error"`
}

type httpReply struct {
	Message string `json:"message"`
}

// API is the backend status/admin HTTP server. All /api routes require
// the configured bearer secret; /health is public.
type API struct {
	config           *APIConfig
	httpServer       *http.Server
	listener         net.Listener
	engine           *gin.Engine
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
	logger           *slog.Logger

	handlers *APIHandlers
}

// newAPI initializes the HTTP server, middleware and routes.
func newAPI(c *Chordial, config *APIConfig) (*API, error) {
	logger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	r := gin.New()
	api := &API{
		config:         config,
		engine:         r,
		requestMetrics: map[string]int{},
		logger:         logger,
	}
	api.handlers = &APIHandlers{c: c, logger: logger}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	if config.SSL.Cert != "" {
		tlsCfg, err := tlsConfig(
			config.SSL.Cert,
			config.SSL.Key,
			config.SSL.TLSMinVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(api),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.handlers.healthCheck)

	if config.Secret == "" {
		api.logger.Warn("api secret not set, only serving /health")
		return api, nil
	}

	protected := r.Group(apiPrefix)
	protected.Use(bearerAuthMiddleware(config.Secret, api.logger))

	protected.GET(apiPathStatus, api.handlers.getStatus)
	protected.GET(apiPathGuildQueue, api.handlers.getGuildQueue)
	protected.GET(apiPathPlayHistory, api.handlers.getGuildPlayHistory)
	protected.POST(apiPathGuildStop, api.handlers.stopGuildPlayback)
	protected.POST(apiPathPause, api.handlers.botPause)
	protected.POST(apiPathResume, api.handlers.botResume)
	protected.GET(apiPathConfig, api.handlers.getConfig)
	protected.PATCH(apiPathConfig, api.handlers.updateRuntimeConfig)
	protected.GET(apiPathUsers, api.handlers.getUsers)
	protected.PATCH(apiPathUpdateUser, api.handlers.updateUser)

	return api, nil
}

// Serve listens and serves until the server is shut down.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(
			ctx, a.config.ListenNetwork, a.config.Listen,
		)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	return a.httpServer.Serve(a.listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

// APIHandlers contains the handlers for the API endpoints.
type APIHandlers struct {
	c      *Chordial
	logger *slog.Logger
}

type healthCheckResponse struct {
	Paused                  bool `json:"paused"`
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.c.paused.Load(),
			DiscordGatewayConnected: h.c.discord.connected.Load(),
		},
	)
}

type statusResponse struct {
	Uptime                  string `json:"uptime"`
	Paused                  bool   `json:"paused"`
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	LavalinkSessionID       string `json:"lavalink_session_id"`
	LavalinkStatus          string `json:"lavalink_status"`
	PlayersRunning          int64  `json:"players_running"`
	ActiveQueues            int    `json:"active_queues"`
	ChatRequestsInProgress  int64  `json:"chat_requests_in_progress"`
}

func (h *APIHandlers) getStatus(c *gin.Context) {
	sessionID, nodeStatus := h.c.lavalink.NodeStatus()
	c.JSON(
		http.StatusOK, statusResponse{
			Uptime:                  time.Since(h.c.startedAt).Round(time.Second).String(),
			Paused:                  h.c.paused.Load(),
			DiscordGatewayConnected: h.c.discord.connected.Load(),
			LavalinkSessionID:       sessionID,
			LavalinkStatus:          nodeStatus,
			PlayersRunning:          h.c.players.Running(),
			ActiveQueues:            len(h.c.queues.GuildIDs()),
			ChatRequestsInProgress:  h.c.chatRequestsInProgress.Load(),
		},
	)
}

type queueTrackResponse struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	URI      string `json:"uri,omitempty"`
	Duration string `json:"duration"`
}

type queueResponse struct {
	GuildID  string               `json:"guild_id"`
	Current  *queueTrackResponse  `json:"current,omitempty"`
	Position string               `json:"position,omitempty"`
	Replay   bool                 `json:"replay"`
	Autoplay bool                 `json:"autoplay"`
	Tracks   []queueTrackResponse `json:"tracks"`
}

func (h *APIHandlers) getGuildQueue(c *gin.Context) {
	guildID := c.Param("guild_id")
	queue := h.c.queues.Existing(guildID)
	if queue == nil {
		c.JSON(http.StatusNotFound, httpError{Error: "no queue for guild"})
		return
	}

	response := queueResponse{
		GuildID:  guildID,
		Replay:   queue.Replay(),
		Autoplay: queue.Autoplay(),
		Tracks:   []queueTrackResponse{},
	}
	if current := queue.Current(); current != nil {
		response.Current = &queueTrackResponse{
			Title:    current.Info.Title,
			Author:   current.Info.Author,
			URI:      stringPointerValue(current.Info.URI),
			Duration: formatDuration(time.Duration(current.Info.Length) * time.Millisecond),
		}
		if player := h.c.lavalink.ExistingPlayer(guildID); player != nil {
			response.Position = formatDuration(
				time.Duration(player.Position()) * time.Millisecond,
			)
		}
	}
	for _, track := range queue.List() {
		response.Tracks = append(
			response.Tracks, queueTrackResponse{
				Title:    track.Info.Title,
				Author:   track.Info.Author,
				URI:      stringPointerValue(track.Info.URI),
				Duration: formatDuration(time.Duration(track.Info.Length) * time.Millisecond),
			},
		)
	}
	c.JSON(http.StatusOK, response)
}

func (h *APIHandlers) getGuildPlayHistory(c *gin.Context) {
	guildID := c.Param("guild_id")
	var history []PlayHistory
	err := h.c.writeDB.DB().Where(
		"guild_id = ?", guildID,
	).Order("created_at desc").Limit(
		h.c.config.Player.HistorySize,
	).Find(&history).Error
	if err != nil {
		ginContextLogger(c).Error("error loading play history", tint.Err(err))
		ginReplyError(c, "error loading play history")
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *APIHandlers) stopGuildPlayback(c *gin.Context) {
	guildID := c.Param("guild_id")
	if h.c.queues.Existing(guildID) == nil {
		c.JSON(http.StatusNotFound, httpError{Error: "no queue for guild"})
		return
	}
	if err := h.c.players.Stop(c.Request.Context(), guildID); err != nil {
		ginContextLogger(c).Error("error stopping playback", tint.Err(err))
		ginReplyError(c, "error stopping playback")
		return
	}
	ginReplyMessage(c, "playback stopped")
}

func (h *APIHandlers) botPause(c *gin.Context) {
	log := ginContextLogger(c)
	if h.c.Pause(c.Request.Context()) {
		log.Info("bot paused")
		ginReplyMessage(c, "bot paused")
		return
	}
	c.AbortWithStatusJSON(
		http.StatusConflict,
		httpError{Error: "bot already paused"},
	)
}

func (h *APIHandlers) botResume(c *gin.Context) {
	log := ginContextLogger(c)
	if h.c.Resume(c.Request.Context()) {
		log.Info("bot resumed")
		ginReplyMessage(c, "bot resumed")
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "bot not paused"})
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.c.RuntimeConfig())
}

// updateRuntimeConfig handles PATCH /api/config: validates the payload,
// applies the updates in a transaction, and rolls back on validation
// failure. Log levels, pause state and Discord presence are refreshed
// to match the new configuration.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	d := h.c
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()

	logger := ginContextLogger(c)

	var updateRequest RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&updateRequest); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if err := updateRequest.validate(); err != nil {
		logger.Error("invalid payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	existingConfig := d.runtimeConfig
	rollbackConfig := *existingConfig

	updateData, err := json.Marshal(updateRequest)
	if err != nil {
		logger.Error("error marshaling update request", tint.Err(err))
		ginReplyError(c, "error marshaling update request")
		return
	}
	var updates map[string]any
	if err = json.Unmarshal(updateData, &updates); err != nil {
		logger.Error("error unmarshalling update request", tint.Err(err))
		ginReplyError(c, "error unmarshalling update request")
		return
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, existingConfig)
		return
	}
	logger.Info("applying updates", "updates", updates)

	var updateError error
	var statusCode int
	var ginResponse httpError

	_ = d.writeDB.Transaction(
		c.Request.Context(), func(tx *gorm.DB) error {
			updateError = tx.Model(existingConfig).Updates(updates).Error
			if updateError != nil {
				statusCode = http.StatusInternalServerError
				ginResponse = httpError{Error: "error updating config"}
				return updateError
			}
			updateError = structValidator.Struct(existingConfig)
			if updateError != nil {
				statusCode = http.StatusBadRequest
				ginResponse = httpError{Error: "error validating config"}
				return updateError
			}
			return nil
		},
	)
	if updateError != nil {
		d.runtimeConfig = &rollbackConfig
		logger.Error("error updating config", tint.Err(updateError))
		c.JSON(statusCode, ginResponse)
		return
	}

	d.setRuntimeLevels(*existingConfig)

	wasPaused := d.paused.Swap(existingConfig.Paused)
	switch {
	case wasPaused && !existingConfig.Paused:
		logger.Info("unpaused bot")
	case existingConfig.Paused && !wasPaused:
		logger.Warn("paused bot")
	}

	if rollbackConfig.DiscordCustomStatus != existingConfig.DiscordCustomStatus ||
		rollbackConfig.Paused != existingConfig.Paused {
		go d.applyPresence(*existingConfig)
	}

	c.JSON(http.StatusAccepted, existingConfig)
}

func (h *APIHandlers) getUsers(c *gin.Context) {
	var users []User
	err := h.c.writeDB.DB().Order("last_seen desc").Find(&users).Error
	if err != nil {
		ginContextLogger(c).Error("error loading users", tint.Err(err))
		ginReplyError(c, "error loading users")
		return
	}
	c.JSON(http.StatusOK, users)
}

// apiPatchUser is the PATCH /api/users/:id payload.
type apiPatchUser struct {
	Ignored *bool `json:"ignored,omitempty"`
}

func (h *APIHandlers) updateUser(c *gin.Context) {
	log := ginContextLogger(c)

	var update apiPatchUser
	if err := c.ShouldBindJSON(&update); err != nil {
		log.Warn("bad request", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	userID := c.Param("id")
	user := h.c.writeDB.GetUser(userID)
	if user == nil {
		log.Warn("user not found", "user_id", userID)
		c.JSON(http.StatusNotFound, httpError{Error: "user not found"})
		return
	}

	if update.Ignored == nil {
		c.JSON(http.StatusAccepted, user)
		return
	}

	log.Info("updating user", "user", user, "ignored", *update.Ignored)
	if _, err := h.c.writeDB.Update(
		c.Request.Context(), user, columnUserIgnored, *update.Ignored,
	); err != nil {
		log.Error("error updating user", tint.Err(err))
		_ = h.c.writeDB.ReloadUser(userID)
		ginReplyError(c, "error updating user")
		return
	}
	c.JSON(http.StatusAccepted, h.c.writeDB.ReloadUser(userID))
}

// bearerAuthMiddleware rejects requests whose Authorization header isn't
// `Bearer <secret>`.
func bearerAuthMiddleware(secret string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token != secret {
			logger.Warn(
				"unauthorized request",
				"path", c.Request.URL.Path,
				"remote_ip", c.RemoteIP(),
			)
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, set in the gin context and the response headers.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs the request method, path, duration and
// response status once the request finishes.
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		if _, exists := c.Get(string(loggerContextKey)); !exists {
			c.Set(string(loggerContextKey), logger)
		}
		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware tracks request counts per method and path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		a.requestMetrics[key]++
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with an error message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

func generateRandomHexString(n int) (string, error) {
	bytes := make([]byte, n/2)
	if _, err := cryprand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

package chordial

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	chatWorkerIdleTimeout   = 2 * time.Minute
	chatWorkerCheckInterval = time.Minute
)

// chatLimiter manages the per-user chat cooldown and the worker's idle
// timeout.
type chatLimiter struct {
	// LastRequestAt is the last time this user mentioned the bot, used
	// for both the cooldown and the idle timeout
	LastRequestAt time.Time

	// Cooldown is the minimum time between answered mentions
	Cooldown time.Duration

	// IdleTimeout is the duration after which the worker is considered
	// idle and can be stopped
	IdleTimeout time.Duration

	mu sync.Mutex
}

func newChatLimiter(cooldown time.Duration) *chatLimiter {
	return &chatLimiter{
		Cooldown:    cooldown,
		IdleTimeout: chatWorkerIdleTimeout,
	}
}

// Expired reports whether the worker has been idle past its timeout, and
// the time it expires.
func (w *chatLimiter) Expired() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	expiresAt := w.LastRequestAt.Add(w.IdleTimeout)
	return expiresAt, time.Now().After(expiresAt)
}

// Allow reports whether the cooldown has passed since the last answered
// mention, recording the request time either way.
func (w *chatLimiter) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	allowed := w.LastRequestAt.IsZero() ||
		now.Sub(w.LastRequestAt) >= w.Cooldown
	w.LastRequestAt = now
	return allowed
}

func (w *chatLimiter) SetLastRequest(ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.LastRequestAt = ts
}

// chatRequest is one @-mention awaiting an answer.
type chatRequest struct {
	user    *User
	message *discordgo.MessageCreate

	// content is the message text with the bot mention stripped
	content string
}

// chatWorker serializes chat requests for a single user, so one user
// can't have multiple completions in flight at once. Workers stop
// themselves after sitting idle.
type chatWorker struct {
	user   *User
	userMu *sync.Mutex

	// requestCh is the channel for receiving mention messages
	requestCh chan *chatRequest

	// signalStop is a channel for sending a stop signal to the worker
	signalStop chan struct{}

	// stopped receives a notification when the worker has stopped, and
	// the time it stopped
	stopped chan time.Time

	limiter *chatLimiter

	// idleTimeoutCheckInterval is the interval at which the worker checks
	// whether it has been idle for longer than the idle timeout
	idleTimeoutCheckInterval time.Duration

	c *Chordial
}

func (w *chatWorker) User() User {
	w.userMu.Lock()
	defer w.userMu.Unlock()
	return *w.user
}

func newChatWorker(c *Chordial, u *User) *chatWorker {
	return &chatWorker{
		user:                     u,
		userMu:                   &sync.Mutex{},
		requestCh:                make(chan *chatRequest),
		signalStop:               make(chan struct{}, 1),
		stopped:                  make(chan time.Time, 1),
		limiter:                  newChatLimiter(c.config.Chat.Cooldown),
		idleTimeoutCheckInterval: chatWorkerCheckInterval,
		c:                        c,
	}
}

// Run starts the worker loop, listening on requestCh for mentions. To
// stop the run, cancel the provided context or send on signalStop; the
// worker also exits on its own after sitting idle past the timeout.
func (w *chatWorker) Run(ctx context.Context, startCh chan struct{}) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = slog.Default()
	}
	log = log.With(slog.Group("user", userLogAttrs(w.User())...))
	ctx = WithLogger(ctx, log)

	defer func() {
		stopSignalCtx, stopSignalCancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		select {
		case w.stopped <- time.Now():
			log.Info("sent stop notification")
		case <-stopSignalCtx.Done():
			log.Warn("timed out sending stop signal")
		}
		stopSignalCancel()
	}()

	log.InfoContext(ctx, "starting chat worker")
	startedAt := time.Now()
	ticker := time.NewTicker(w.idleTimeoutCheckInterval)

	defer func() {
		ticker.Stop()
		endedAt := time.Now()
		log.InfoContext(
			ctx,
			"stopped chat worker",
			"stopped_at", endedAt,
			"runtime", endedAt.Sub(startedAt),
		)
	}()

	startCh <- struct{}{}
	close(startCh)

	w.limiter.SetLastRequest(time.Now())
	for {
		select {
		case <-ctx.Done():
			log.WarnContext(ctx, "context canceled")
			return
		case <-w.signalStop:
			log.WarnContext(ctx, "got stop signal")
			return
		case <-ticker.C:
			expiresAt, isExpired := w.limiter.Expired()
			if isExpired {
				log.InfoContext(
					ctx,
					"no mentions seen recently, stopping worker",
					"worker_expired", expiresAt,
				)
				return
			}
		case req := <-w.requestCh:
			w.handleRequest(ctx, log, req)
			ticker.Reset(w.idleTimeoutCheckInterval)
		}
	}
}

// handleRequest answers a single mention, enforcing the per-user
// cooldown and splitting long replies across messages.
func (w *chatWorker) handleRequest(
	ctx context.Context,
	log *slog.Logger,
	req *chatRequest,
) {
	c := w.c
	c.chatRequestsInProgress.Add(1)
	defer c.chatRequestsInProgress.Add(-1)

	if !w.limiter.Allow() {
		log.InfoContext(ctx, "chat request rate limited")
		if _, err := c.discord.session.ChannelMessageSendReply(
			req.message.ChannelID,
			c.RuntimeConfig().DiscordRateLimitMessage,
			req.message.Reference(),
		); err != nil {
			log.ErrorContext(
				ctx, "error sending rate limit reply", tint.Err(err),
			)
		}
		return
	}

	runtimeConfig := c.RuntimeConfig()
	response, err := c.chat.Respond(
		ctx, chatPrompt{
			User:      req.user,
			GuildID:   req.message.GuildID,
			ChannelID: req.message.ChannelID,
			MessageID: req.message.ID,
			Content:   req.content,
			Persona:   runtimeConfig.ChatPersona,
			Model:     runtimeConfig.ChatModel,
		},
	)
	if err != nil {
		log.ErrorContext(ctx, "error answering mention", tint.Err(err))
		if _, sendErr := c.discord.session.ChannelMessageSendReply(
			req.message.ChannelID,
			runtimeConfig.DiscordErrorMessage,
			req.message.Reference(),
		); sendErr != nil {
			log.ErrorContext(ctx, "error sending error reply", tint.Err(sendErr))
		}
		return
	}

	chunks := splitMessage(response, discordMaxMessageLength)
	for n, chunk := range chunks {
		var sendErr error
		if n == 0 {
			_, sendErr = c.discord.session.ChannelMessageSendReply(
				req.message.ChannelID, chunk, req.message.Reference(),
			)
		} else {
			_, sendErr = c.discord.session.ChannelMessageSend(
				req.message.ChannelID, chunk,
			)
		}
		if sendErr != nil {
			log.ErrorContext(
				ctx,
				"error sending chat reply",
				tint.Err(sendErr),
				"chunk", fmt.Sprintf("%d/%d", n+1, len(chunks)),
			)
			return
		}
	}
}

// getChatWorker returns the running chat worker for the given user,
// starting one if needed.
func (c *Chordial) getChatWorker(ctx context.Context, u *User) *chatWorker {
	c.chatWorkersMu.Lock()
	defer c.chatWorkersMu.Unlock()

	worker := c.chatWorkers[u.ID]
	if worker != nil {
		return worker
	}

	worker = newChatWorker(c, u)
	c.chatWorkers[u.ID] = worker
	startCh := make(chan struct{}, 1)
	go func() {
		defer func() {
			c.chatWorkersMu.Lock()
			defer c.chatWorkersMu.Unlock()
			delete(c.chatWorkers, u.ID)
		}()
		worker.Run(ctx, startCh)
	}()
	<-startCh
	return worker
}

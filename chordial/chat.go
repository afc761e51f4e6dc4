package chordial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrChatDisabled indicates chat is switched off in the runtime config.
var ErrChatDisabled = errors.New("chat is disabled")

// ChatClient is the subset of the OpenAI client the bot uses, so tests
// can substitute a mock.
type ChatClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// Chat answers @-mention messages in the bot's persona, carrying a short
// per-user conversation history and recording every exchange.
type Chat struct {
	config  *ChatConfig
	client  ChatClient
	limiter *rate.Limiter
	db      DBI
	logger  *slog.Logger
}

func NewChat(
	config *ChatConfig,
	db DBI,
	logger *slog.Logger,
) (*Chat, error) {
	if config == nil || config.Token == "" {
		return nil, errors.New("chat token not set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := openai.DefaultConfig(config.Token)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	maxRPS := config.MaxRequestsPerSecond
	if maxRPS <= 0 {
		maxRPS = 1
	}
	return &Chat{
		config:  config,
		client:  openai.NewClientWithConfig(clientConfig),
		limiter: rate.NewLimiter(rate.Limit(maxRPS), 1),
		db:      db,
		logger:  logger.With(loggerNameKey, "chat"),
	}, nil
}

// chatPrompt is everything needed to answer one mention.
type chatPrompt struct {
	User      *User
	GuildID   string
	ChannelID string
	MessageID string
	Content   string
	Persona   string
	Model     string
}

// Respond sends the prompt (with the user's recent exchanges as context)
// to the model and returns the reply. The exchange is persisted whether
// or not the request succeeded.
func (ch *Chat) Respond(ctx context.Context, prompt chatPrompt) (
	string,
	error,
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = ch.logger
	}

	if err := ch.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("error waiting for rate limiter: %w", err)
	}

	// prompts are stored and sent prefixed with who's speaking, so
	// replayed history reads as a conversation
	prompt.Content = fmt.Sprintf(
		"%s: %s", prompt.User.DisplayName(), prompt.Content,
	)

	messages := ch.buildMessages(ctx, log, prompt)

	requestCtx := ctx
	if ch.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, ch.config.RequestTimeout)
		defer cancel()
	}

	started := time.Now()
	response, err := ch.client.CreateChatCompletion(
		requestCtx,
		openai.ChatCompletionRequest{
			Model:    prompt.Model,
			Messages: messages,
		},
	)
	log.InfoContext(
		ctx,
		"chat completion finished",
		"duration", time.Since(started),
		"model", prompt.Model,
		"user_id", prompt.User.ID,
	)

	exchange := &ChatExchange{
		UserID:    prompt.User.ID,
		GuildID:   prompt.GuildID,
		ChannelID: prompt.ChannelID,
		MessageID: prompt.MessageID,
		Prompt:    prompt.Content,
		Model:     prompt.Model,
	}
	if err != nil {
		exchange.Error = err.Error()
	} else if len(response.Choices) > 0 {
		exchange.Response = response.Choices[0].Message.Content
		exchange.PromptTokens = response.Usage.PromptTokens
		exchange.CompletionTokens = response.Usage.CompletionTokens
		exchange.TotalTokens = response.Usage.TotalTokens
	}
	if _, createErr := ch.db.Create(ctx, exchange); createErr != nil {
		log.ErrorContext(
			ctx, "error saving chat exchange", tint.Err(createErr),
		)
	}

	if err != nil {
		return "", fmt.Errorf("error creating chat completion: %w", err)
	}
	if exchange.Response == "" {
		return "", errors.New("empty chat completion response")
	}
	return exchange.Response, nil
}

// buildMessages assembles the persona system prompt, the user's recent
// exchanges (oldest first), and the new message.
func (ch *Chat) buildMessages(
	ctx context.Context,
	log *slog.Logger,
	prompt chatPrompt,
) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.Persona,
		},
	}

	historyLength := ch.config.HistoryLength
	if historyLength > 0 {
		since := time.Now().Add(-24 * time.Hour)
		exchanges, err := prompt.User.ChatExchangesSince(ch.db.DB(), since)
		if err != nil {
			log.WarnContext(
				ctx, "error loading chat history", tint.Err(err),
			)
		} else {
			if len(exchanges) > historyLength {
				exchanges = exchanges[len(exchanges)-historyLength:]
			}
			for _, exchange := range exchanges {
				if exchange.Response == "" {
					continue
				}
				messages = append(
					messages,
					openai.ChatCompletionMessage{
						Role:    openai.ChatMessageRoleUser,
						Content: exchange.Prompt,
					},
					openai.ChatCompletionMessage{
						Role:    openai.ChatMessageRoleAssistant,
						Content: exchange.Response,
					},
				)
			}
		}
	}

	return append(
		messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt.Content,
		},
	)
}

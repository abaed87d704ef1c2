// -----------------------------------------------------------------------
// Telegram Client - Push channel for job results
// -----------------------------------------------------------------------

package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"golang.org/x/time/rate"
)

const (
	// MaxCaptionLength is Telegram's limit for photo captions
	MaxCaptionLength = 1024
	// MaxMessageLength is Telegram's limit for text messages
	MaxMessageLength = 4096
)

// Client sends Markdown messages and photos to a single chat.
// The bot is created on first use so an unreachable API does not block startup.
type Client struct {
	token    string
	chatID   int64
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	logger   arbor.ILogger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewClient creates a Telegram client. Proxy, when set, is used for every API call.
func NewClient(config common.TelegramConfig, logger arbor.ILogger) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.Proxy != "" {
		proxyURL, err := url.Parse(config.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram proxy %q: %w", config.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return newClient(config, tgbotapi.APIEndpoint, &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}, logger), nil
}

func newClient(config common.TelegramConfig, endpoint string, httpClient *http.Client, logger arbor.ILogger) *Client {
	limit := rate.Inf
	if d := config.RateLimit.D(); d > 0 {
		limit = rate.Every(d)
	}

	return &Client{
		token:    config.BotToken,
		chatID:   config.ChatID,
		endpoint: endpoint,
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// IsConfigured reports whether both token and chat are set
func (c *Client) IsConfigured() bool {
	return c.token != "" && c.chatID != 0
}

// SendText sends a Markdown message
func (c *Client) SendText(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, Truncate(text, MaxMessageLength))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	return c.send(ctx, "sendMessage", msg)
}

// SendPhoto sends a photo by URL with a Markdown caption
func (c *Client) SendPhoto(ctx context.Context, photoURL, caption string) error {
	photo := tgbotapi.NewPhoto(c.chatID, tgbotapi.FileURL(photoURL))
	photo.Caption = Truncate(caption, MaxCaptionLength)
	photo.ParseMode = tgbotapi.ModeMarkdown
	return c.send(ctx, "sendPhoto", photo)
}

func (c *Client) send(ctx context.Context, method string, chattable tgbotapi.Chattable) error {
	if !c.IsConfigured() {
		return fmt.Errorf("telegram not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	bot, err := c.getBot()
	if err != nil {
		return err
	}

	// The bot API has no context support; honour ctx before and after the call
	done := make(chan error, 1)
	go func() {
		_, sendErr := bot.Send(chattable)
		done <- sendErr
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram %s failed: %w", method, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("telegram %s: %w", method, ctx.Err())
	}

	c.logger.Debug().Str("method", method).Int64("chat_id", c.chatID).Msg("Telegram message sent")
	return nil
}

func (c *Client) getBot() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bot != nil {
		return c.bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(c.token, c.endpoint, c.http)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}

	c.logger.Info().Str("bot", bot.Self.UserName).Msg("Telegram bot initialized")
	c.bot = bot
	return bot, nil
}

// Escape escapes Markdown control characters in user-supplied text
func Escape(text string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, text)
}

// Truncate cuts s to at most max runes, marking the cut with an ellipsis
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

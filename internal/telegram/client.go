// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tailwatch/tailwatch/internal/models"
)

// Client handles Telegram notifications. It satisfies the engine's
// Dispatcher interface.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// Send delivers one alert or recovery notice.
func (c *Client) Send(ctx context.Context, msg models.AlertMessage) error {
	return c.sendMarkdownV2(ctx, FormatMessage(msg))
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendServiceRecovery sends a notification after consecutive cycle failures end.
func (c *Client) SendServiceRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(ctx, text)
}

// FormatMessage renders one alert as Telegram MarkdownV2.
func FormatMessage(msg models.AlertMessage) string {
	var b strings.Builder

	title := msg.Question
	if title == "" {
		title = msg.MarketID
	}
	var titleLine string
	if msg.URL != "" {
		titleLine = fmt.Sprintf("[%s](%s)", escapeMarkdownV2(title), msg.URL)
	} else {
		titleLine = escapeMarkdownV2(title)
	}

	pricePct := escapeMarkdownV2(fmt.Sprintf("%.1f%%", msg.YesPrice*100))

	if msg.Recovery {
		b.WriteString("✅ *Condition cleared*\n\n")
		b.WriteString(titleLine + "\n")
		fmt.Fprintf(&b, "   %s no longer holds \\(YES %s\\)\n", kindLabel(msg.Kind), pricePct)
	} else {
		b.WriteString("🚨 *Extreme market odds*\n\n")
		b.WriteString(titleLine + "\n")
		fmt.Fprintf(&b, "   %s: YES at *%s*\n", kindLabel(msg.Kind), pricePct)
		fmt.Fprintf(&b, "   💧 Liquidity: %s\n", escapeMarkdownV2(fmt.Sprintf("$%.0f", msg.Liquidity)))
		fmt.Fprintf(&b, "   📊 Volume 24h: %s\n", escapeMarkdownV2(fmt.Sprintf("$%.0f", msg.Volume24h)))
	}
	fmt.Fprintf(&b, "\n📅 %s", escapeMarkdownV2(msg.At.Format("2006-01-02 15:04:05")))

	return b.String()
}

func kindLabel(kind models.ConditionKind) string {
	switch kind {
	case models.ExtremeLow:
		return "📉 Extreme low"
	case models.ExtremeHigh:
		return "📈 Extreme high"
	default:
		return escapeMarkdownV2(string(kind))
	}
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

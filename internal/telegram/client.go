// Package telegram provides the Telegram Bot API surface of the advisor: replies to
// user commands, the proactive value-bet digest, and operational alerts.
//
// Replies are plain text so the fixed advice templates reach users byte for byte.
// The digest and alerts use MarkdownV2 and escape everything they interpolate.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/maxadvisor/internal/format"
	"github.com/rewired-gh/maxadvisor/internal/metrics"
	"github.com/rewired-gh/maxadvisor/internal/models"
)

// ParseModeMarkdownV2 is the Telegram parse mode used for digests and alerts.
const ParseModeMarkdownV2 = "MarkdownV2"

// sender is the part of *tgbotapi.BotAPI the client needs to deliver messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles message delivery with retry.
type Client struct {
	bot            *tgbotapi.BotAPI
	sender         sender
	digestChatID   int64
	maxRetries     int
	retryDelayBase time.Duration
	metrics        *metrics.Metrics
}

// NewClient creates a new Telegram client. digestChatID may be empty, which turns
// the digest and alerts off.
func NewClient(botToken, digestChatID string, maxRetries int, retryDelayBase time.Duration, m *metrics.Metrics) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	var chatID int64
	if digestChatID != "" {
		chatID, err = strconv.ParseInt(digestChatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat ID: %w", err)
		}
	}

	c := newClient(bot, chatID, maxRetries, retryDelayBase, m)
	c.bot = bot
	return c, nil
}

func newClient(s sender, digestChatID int64, maxRetries int, retryDelayBase time.Duration, m *metrics.Metrics) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		sender:         s,
		digestChatID:   digestChatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		metrics:        m,
	}
}

// Send delivers text to chatID, retrying with linear backoff.
func (c *Client) Send(chatID int64, text, parseMode string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.sender.Send(msg)
		if err == nil {
			c.recordMessage("sent")
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	c.recordMessage("failed")
	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) recordMessage(status string) {
	if c.metrics != nil {
		c.metrics.RecordMessage(status)
	}
}

// SendDigest posts newly detected value bets to the digest chat. It is a no-op
// without a digest chat or without bets.
func (c *Client) SendDigest(bets []models.ValueBet, predictions []models.MatchPrediction) error {
	if c.digestChatID == 0 || len(bets) == 0 {
		return nil
	}
	return c.Send(c.digestChatID, formatDigest(bets, predictions, time.Now()), ParseModeMarkdownV2)
}

// SendError alerts the digest chat that a refresh cycle failed.
func (c *Client) SendError(err error) error {
	if c.digestChatID == 0 {
		return nil
	}
	message := "⚠️ *Feed refresh failed*\n\n" + escapeMarkdownV2(err.Error())
	return c.Send(c.digestChatID, message, ParseModeMarkdownV2)
}

// SendRecovery tells the digest chat that refreshes work again after failures.
func (c *Client) SendRecovery(failures int, downtime time.Duration) error {
	if c.digestChatID == 0 {
		return nil
	}
	message := fmt.Sprintf("✅ *Feed refresh recovered* after %d failed %s \\(%s\\)",
		failures, plural(failures, "cycle", "cycles"), escapeMarkdownV2(formatDuration(downtime)))
	return c.Send(c.digestChatID, message, ParseModeMarkdownV2)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// formatDigest formats new value bets into a MarkdownV2 message
func formatDigest(bets []models.ValueBet, predictions []models.MatchPrediction, now time.Time) string {
	var b strings.Builder
	b.WriteString("🎯 *New Value Bets*\n")
	b.WriteString(escapeMarkdownV2("📅 " + now.UTC().Format("2006-01-02 15:04") + " UTC"))
	b.WriteString("\n\n")
	b.WriteString(escapeMarkdownV2(format.ValueBets(bets, predictions)))
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d >= 24*time.Hour {
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/maxadvisor/internal/format"
	"github.com/rewired-gh/maxadvisor/internal/logger"
	"github.com/rewired-gh/maxadvisor/internal/metrics"
	"github.com/rewired-gh/maxadvisor/internal/storage"
)

const channel = "telegram"

const helpText = `I'm M.A.X., your match advisor. Commands:
/safest [n] - today's safest picks (Safe tier, 70%+)
/acca [legs] - accumulator built from Safe and Medium picks
/value [1x2|ou|btts] - value bets where the model beats the book
/math <probability> <odds> [bankroll] - implied probability, EV and Kelly stake
/stats - your query history
/help - this message`

const mathUsage = "Usage: /math <probability> <odds> [bankroll], e.g. /math 0.68 2.10 or /math 68% 2.10 500"

// Advisor is what the bot needs from the advisor service.
type Advisor interface {
	SafestPicks(ctx context.Context, count int) (string, error)
	Accumulator(ctx context.Context, legs int) (string, error)
	MarketAnalysis(ctx context.Context, market string) (string, error)
	Math(p, odds, bankroll float64) (string, error)
	Stats(ctx context.Context, userID string) (storage.QueryStats, error)
	RecordQuery(ctx context.Context, channel, userID, command string)
}

// limiterIdle is how long a chat can stay quiet before its limiter is dropped. A
// limiter idle this long is full again, so dropping it changes nothing.
const limiterIdle = 10 * time.Minute

type chatLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// BotConfig holds the command handling options.
type BotConfig struct {
	AllowedChatIDs []int64
	RequestsPerMin int
	UpdateTimeout  int
}

// Bot answers user commands over long polling.
type Bot struct {
	client  *Client
	advisor Advisor
	metrics *metrics.Metrics

	allowed       map[int64]bool
	limit         rate.Limit
	burst         int
	updateTimeout int

	mu        sync.Mutex
	limiters  map[int64]*chatLimiter
	lastSweep time.Time

	now func() time.Time
}

// NewBot creates a command handler replying through client.
func NewBot(client *Client, advisor Advisor, m *metrics.Metrics, cfg BotConfig) *Bot {
	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 20
	}
	burst := rpm / 4
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.UpdateTimeout
	if timeout <= 0 {
		timeout = 60
	}

	allowed := make(map[int64]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = true
	}

	return &Bot{
		client:        client,
		advisor:       advisor,
		metrics:       m,
		allowed:       allowed,
		limit:         rate.Every(time.Minute / time.Duration(rpm)),
		burst:         burst,
		updateTimeout: timeout,
		limiters:      make(map[int64]*chatLimiter),
		now:           time.Now,
	}
}

// ListenForCommands starts the long-polling loop in a goroutine. It stops when ctx
// is cancelled.
func (b *Bot) ListenForCommands(ctx context.Context) {
	if b.client.bot == nil {
		logger.Warn("Telegram bot API unavailable, command listener not started")
		return
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.updateTimeout
	updates := b.client.bot.GetUpdatesChan(u)

	logger.Info("Listening for Telegram commands as @%s", b.client.bot.Self.UserName)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.client.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				b.handleMessage(ctx, update.Message)
			}
		}
	}()
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	var userID int64
	if message.From != nil {
		userID = message.From.ID
	}
	reply, ok := b.Handle(ctx, message.Chat.ID, userID, message.Text)
	if !ok {
		return
	}
	if err := b.client.Send(message.Chat.ID, reply, ""); err != nil {
		logger.Warn("Failed to reply in chat %d: %v", message.Chat.ID, err)
	}
}

func (b *Bot) allow(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Sub(b.lastSweep) >= limiterIdle {
		for id, cl := range b.limiters {
			if now.Sub(cl.lastSeen) >= limiterIdle {
				delete(b.limiters, id)
			}
		}
		b.lastSweep = now
	}

	cl, ok := b.limiters[chatID]
	if !ok {
		cl = &chatLimiter{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.limiters[chatID] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Handle produces the reply for one incoming text. ok is false when nothing should
// be sent, for instance when the chat is over its rate limit.
func (b *Bot) Handle(ctx context.Context, chatID, userID int64, text string) (reply string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	if len(b.allowed) > 0 && !b.allowed[chatID] {
		return "Access denied. This chat is not authorized to use this bot.", true
	}

	if !b.allow(chatID) {
		if b.metrics != nil {
			b.metrics.RecordRateLimited(channel)
		}
		logger.Debug("Rate limited chat %d", chatID)
		return "", false
	}

	command, args := parseCommand(text)
	if command == "" {
		return replyToText(text), true
	}

	user := strconv.FormatInt(userID, 10)
	reply, err := b.dispatch(ctx, command, args, user)
	if err != nil {
		logger.Error("Command /%s failed for user %s: %v", command, user, err)
		return "Something went wrong on my side. Please try again in a moment.", true
	}
	return reply, true
}

func (b *Bot) dispatch(ctx context.Context, command string, args []string, user string) (string, error) {
	switch command {
	case "start", "help":
		return helpText, nil
	case "safest":
		b.advisor.RecordQuery(ctx, channel, user, command)
		return b.advisor.SafestPicks(ctx, intArg(args, 0))
	case "acca", "accumulator":
		b.advisor.RecordQuery(ctx, channel, user, "acca")
		return b.advisor.Accumulator(ctx, intArg(args, 0))
	case "value":
		b.advisor.RecordQuery(ctx, channel, user, command)
		market := ""
		if len(args) > 0 {
			market = args[0]
		}
		return b.advisor.MarketAnalysis(ctx, market)
	case "math":
		b.advisor.RecordQuery(ctx, channel, user, command)
		return b.math(args), nil
	case "stats":
		stats, err := b.advisor.Stats(ctx, user)
		if err != nil {
			return "", err
		}
		return formatStats(stats, b.now()), nil
	default:
		return "Unknown command. " + helpText, nil
	}
}

func (b *Bot) math(args []string) string {
	if len(args) < 2 {
		return mathUsage
	}
	p, err := parseProbability(args[0])
	if err != nil {
		return mathUsage
	}
	odds, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return mathUsage
	}
	var bankroll float64
	if len(args) > 2 {
		if bankroll, err = strconv.ParseFloat(args[2], 64); err != nil {
			return mathUsage
		}
	}

	text, err := b.advisor.Math(p, odds, bankroll)
	if err != nil {
		return fmt.Sprintf("I can't work with those numbers (%v). %s", err, mathUsage)
	}
	return text
}

// parseCommand splits "/cmd@BotName a b" into "cmd" and its arguments. Non-command
// text yields an empty command.
func parseCommand(text string) (string, []string) {
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	command := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	return command, fields[1:]
}

// parseProbability accepts 0.68, 68 or 68%.
func parseProbability(s string) (float64, error) {
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, err
	}
	if pct || v > 1 {
		v /= 100
	}
	if v < 0 || v > 1 {
		return 0, errors.New("probability out of range")
	}
	return v, nil
}

func intArg(args []string, i int) int {
	if i >= len(args) {
		return 0
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0
	}
	return n
}

// replyToText handles free text. Payout and odds questions get the odds refusal,
// everything else a pointer to the commands.
func replyToText(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range []string{"odds", "payout", "return", "how much will i win"} {
		if strings.Contains(lower, kw) {
			return format.Refusal(format.RefusalOddsCalculation)
		}
	}
	return "Try /safest for today's safest picks or /help for everything I can do."
}

func formatStats(stats storage.QueryStats, now time.Time) string {
	if stats.Total == 0 {
		return "No queries recorded yet. Try /safest to get started."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You've asked me %d %s.", stats.Total, plural(stats.Total, "question", "questions"))
	for _, cmd := range []string{"safest", "acca", "value", "math"} {
		if n := stats.ByCommand[cmd]; n > 0 {
			fmt.Fprintf(&b, "\n• /%s: %d", cmd, n)
		}
	}
	fmt.Fprintf(&b, "\nLast query: %s ago", formatDuration(now.Sub(stats.Last)))
	return b.String()
}

// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/dfbuyer/internal/allocator"
	"github.com/rewired-gh/dfbuyer/internal/models"
)

// maxListedSubmissions bounds the per-topic lines in a cycle message.
const maxListedSubmissions = 10

const (
	defaultRecentCycles = 5
	maxRecentCycles     = 20
)

// Journal reads back recorded cycles for /recent.
type Journal interface {
	RecentCycles(k int) ([]models.CycleReport, error)
	CountCycles() (int, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration

	mu      sync.RWMutex
	status  func() allocator.Status
	journal Journal
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
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

// SetStatusFunc registers the source for /status replies.
func (c *Client) SetStatusFunc(fn func() allocator.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = fn
}

// SetJournal registers the source for /recent replies.
func (c *Client) SetJournal(j Journal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal = j
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
	case "status":
		c.mu.RLock()
		fn := c.status
		c.mu.RUnlock()

		text := "Status unavailable"
		if fn != nil {
			text = formatStatus(fn())
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, text)
		reply.ParseMode = "MarkdownV2"
		c.bot.Send(reply) //nolint:errcheck
	case "recent":
		reply := tgbotapi.NewMessage(msg.Chat.ID, c.recentText(recentLimit(msg.CommandArguments())))
		reply.ParseMode = "MarkdownV2"
		c.bot.Send(reply) //nolint:errcheck
	}
}

func (c *Client) recentText(k int) string {
	c.mu.RLock()
	j := c.journal
	c.mu.RUnlock()

	if j == nil {
		return "Journal disabled"
	}
	reports, err := j.RecentCycles(k)
	if err != nil {
		return escapeMarkdownV2(fmt.Sprintf("Failed to read journal: %v", err))
	}
	total, err := j.CountCycles()
	if err != nil {
		return escapeMarkdownV2(fmt.Sprintf("Failed to count cycles: %v", err))
	}
	return formatRecent(reports, total)
}

// recentLimit parses the /recent argument, clamped to [1, maxRecentCycles].
func recentLimit(arg string) int {
	k, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || k < 1 {
		return defaultRecentCycles
	}
	return min(k, maxRecentCycles)
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends the error that is about to stop the buyer.
func (c *Client) SendError(loopErr error) error {
	text := fmt.Sprintf("⚠️ *Buyer stopped*\n`%s`", escapeMarkdownV2(loopErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendStarted announces a (re)start so supervisor restarts are visible.
func (c *Client) SendStarted(owner string, weeklyLimit float64, filters models.MarketFilters) error {
	return c.sendMarkdownV2(formatStarted(owner, weeklyLimit, filters))
}

// SendCycle sends a summary of a cycle that submitted transactions.
func (c *Client) SendCycle(report *models.CycleReport) error {
	return c.sendMarkdownV2(formatCycle(report))
}

func formatStarted(owner string, weeklyLimit float64, filters models.MarketFilters) string {
	return fmt.Sprintf("✅ *Buyer started*\nOwner: `%s`\nWeekly limit: %s\nFilters: %s",
		escapeMarkdownV2(owner),
		escapeMarkdownV2(fmt.Sprintf("%.2f", weeklyLimit)),
		escapeMarkdownV2(filters.String()),
	)
}

// formatCycle formats a cycle report into a Telegram MarkdownV2 message.
func formatCycle(r *models.CycleReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛒 *Block %d*\n", r.Block.Number)
	fmt.Fprintf(&b, "📅 %s\n\n", escapeMarkdownV2(time.Unix(r.Block.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")))
	fmt.Fprintf(&b, "Target: %s of %s left\n",
		escapeMarkdownV2(fmt.Sprintf("%.4f", r.Plan.ConsumeTarget)),
		escapeMarkdownV2(fmt.Sprintf("%.4f", r.Budget.ConsumeLeft)),
	)
	fmt.Fprintf(&b, "Spent: *%s* in %d txs\n\n",
		escapeMarkdownV2(fmt.Sprintf("%.4f", r.TotalSpent())), r.TxCount())

	listed := 0
	for _, s := range r.Submissions {
		if s.Skipped || len(s.Txs) == 0 {
			continue
		}
		if listed == maxListedSubmissions {
			fmt.Fprintf(&b, "…and %d more\n", countBought(r.Submissions)-listed)
			break
		}
		fmt.Fprintf(&b, "• `%s` ×%d @ %s\n",
			escapeMarkdownV2(shortAddr(string(s.Topic))), len(s.Txs),
			escapeMarkdownV2(fmt.Sprintf("%.4f", s.Price)))
		listed++
	}

	if skipped := countSkipped(r.Submissions); skipped > 0 {
		fmt.Fprintf(&b, "\n%d topic\\(s\\) skipped\n", skipped)
	}
	return b.String()
}

// formatStatus formats an allocator snapshot for /status.
func formatStatus(st allocator.Status) string {
	if st.LastBlock.Number == 0 {
		return "⏳ *Waiting for first block*"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Status*\n")
	fmt.Fprintf(&b, "Last block: %d\n", st.LastBlock.Number)
	fmt.Fprintf(&b, "Cadence: %s s\n", escapeMarkdownV2(fmt.Sprintf("%.2f", st.Cadence)))
	fmt.Fprintf(&b, "Topics: %d\n", st.Topics)
	fmt.Fprintf(&b, "Cycles: %d, txs: %d\n", st.CyclesRun, st.TxsSent)
	fmt.Fprintf(&b, "Budget left: %s\n", escapeMarkdownV2(fmt.Sprintf("%.4f", st.LastConsumeLeft)))
	if !st.LastCycleAt.IsZero() {
		fmt.Fprintf(&b, "Last cycle: %s\n", escapeMarkdownV2(st.LastCycleAt.UTC().Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

// formatRecent lists journaled cycles, newest first.
func formatRecent(reports []models.CycleReport, total int) string {
	if len(reports) == 0 {
		return "📭 *No cycles recorded*"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 *Last %d of %d cycles*\n", len(reports), total)
	for _, r := range reports {
		fmt.Fprintf(&b, "• %d: %s spent in %d txs, %s left",
			r.Block.Number,
			escapeMarkdownV2(fmt.Sprintf("%.4f", r.TotalSpent())),
			r.TxCount(),
			escapeMarkdownV2(fmt.Sprintf("%.4f", r.Budget.ConsumeLeft)),
		)
		if skipped := countSkipped(r.Submissions); skipped > 0 {
			fmt.Fprintf(&b, ", %d skipped", skipped)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func countBought(subs []models.Submission) int {
	n := 0
	for _, s := range subs {
		if !s.Skipped && len(s.Txs) > 0 {
			n++
		}
	}
	return n
}

func countSkipped(subs []models.Submission) int {
	n := 0
	for _, s := range subs {
		if s.Skipped {
			n++
		}
	}
	return n
}

func shortAddr(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
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

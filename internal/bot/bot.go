// Package bot is the Telegram front end: it routes commands, downloads
// uploaded workbooks and runs them through the job pipeline.
package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ignite/sheet-dispatch/internal/groups"
	"github.com/ignite/sheet-dispatch/internal/job"
	"github.com/ignite/sheet-dispatch/internal/pkg/httpretry"
	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
	"github.com/ignite/sheet-dispatch/internal/retention"
)

// maxMessageLen is Telegram's limit on message text.
const maxMessageLen = 4096

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	StopReceivingUpdates()
}

// Runner executes a job. *job.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, req job.Request) *job.Report
}

// Catalog is the group directory as the admin commands see it.
// *groups.Directory satisfies it.
type Catalog interface {
	Snapshot() *groups.Snapshot
	Refresh(ctx context.Context) error
	Replace(ctx context.Context, c *groups.Catalog) error
}

// Sweeper runs a retention sweep on demand. *retention.Sweeper satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context) (retention.Stats, error)
}

// Config configures a Bot.
type Config struct {
	AdminIDs      []int64
	InputDir      string
	OutputDir     string
	LogsDir       string
	PersonalEmail string
	UpdateTimeout int
}

type pendingAction int

const (
	pendingNone pendingAction = iota
	pendingProcess
	pendingPersonal
	pendingCatalog
	pendingCatalogJSON
)

// Bot handles updates from one Telegram bot.
type Bot struct {
	api      API
	runner   Runner
	catalog  Catalog
	sweeper  Sweeper
	cfg      Config
	http     httpretry.HTTPDoer
	started  time.Time
	commands map[string]command

	mu      sync.Mutex
	pending map[int64]pendingAction
	active  int

	wg sync.WaitGroup
}

// Option customizes a Bot.
type Option func(*Bot)

// WithHTTPClient replaces the client used to download files.
func WithHTTPClient(c httpretry.HTTPDoer) Option {
	return func(b *Bot) { b.http = c }
}

// WithSweeper enables the /clean command.
func WithSweeper(s Sweeper) Option {
	return func(b *Bot) { b.sweeper = s }
}

// New creates a bot.
func New(api API, runner Runner, catalog Catalog, cfg Config, opts ...Option) *Bot {
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 60
	}
	b := &Bot{
		api:     api,
		runner:  runner,
		catalog: catalog,
		cfg:     cfg,
		http:    httpretry.NewRetryClient(nil, 2),
		started: time.Now(),
		pending: make(map[int64]pendingAction),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.commands = b.commandTable()
	return b
}

// Run polls for updates until ctx is cancelled, then waits for running
// jobs to finish.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.UpdateTimeout
	updates := b.api.GetUpdatesChan(u)
	log.Printf("[Bot] Polling for updates (timeout=%ds)", u.Timeout)

	for {
		select {
		case <-ctx.Done():
			log.Println("[Bot] Stopping")
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return
		case upd, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return
			}
			b.HandleUpdate(ctx, upd)
		}
	}
}

// HandleUpdate dispatches one update. Panics are logged and answered with
// a generic error.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Error("update handler panicked", "chat_id", msg.Chat.ID, "panic", p)
			b.reply(msg.Chat.ID, "❌ Something went wrong while handling your message.")
		}
	}()

	switch {
	case msg.IsCommand():
		b.handleCommand(ctx, msg)
	case msg.Document != nil:
		b.handleDocument(ctx, msg)
	default:
		b.handleText(msg)
	}
}

func (b *Bot) handleText(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if b.pendingFor(chatID) == pendingNone {
		return
	}
	switch strings.ToLower(strings.TrimSpace(msg.Text)) {
	case "cancel", "iptal", "stop", "dur":
		b.cancel(chatID)
	default:
		b.reply(chatID, "❌ Please send a file, or /cancel to stop.")
	}
}

func (b *Bot) isAdmin(id int64) bool {
	for _, a := range b.cfg.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

func (b *Bot) setPending(chatID int64, a pendingAction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a == pendingNone {
		delete(b.pending, chatID)
		return
	}
	b.pending[chatID] = a
}

func (b *Bot) pendingFor(chatID int64) pendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending[chatID]
}

// takePending returns and clears the chat's pending action.
func (b *Bot) takePending(chatID int64) pendingAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.pending[chatID]
	delete(b.pending, chatID)
	return a
}

func (b *Bot) activeJobs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Bot) reply(chatID int64, text string) {
	if len(text) > maxMessageLen {
		text = truncate(text, maxMessageLen-len("\n…")) + "\n…"
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Error("sending reply failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendDocument(chatID int64, file tgbotapi.RequestFileData, caption string) error {
	doc := tgbotapi.NewDocument(chatID, file)
	doc.Caption = caption
	if _, err := b.api.Send(doc); err != nil {
		return fmt.Errorf("sending document: %w", err)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(c byte) bool { return c&0xC0 != 0x80 }

package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ignite/sheet-dispatch/internal/splitter"
)

const (
	recentFilesShown = 10
	logLinesShown    = 20
	logCharsShown    = 4000
)

type command struct {
	admin   bool
	handler func(ctx context.Context, msg *tgbotapi.Message)
}

func (b *Bot) commandTable() map[string]command {
	return map[string]command{
		"start":   {handler: b.cmdStart},
		"help":    {handler: b.cmdStart},
		"process": {handler: b.cmdProcess},
		"tek":     {handler: b.cmdPersonal},
		"cancel":  {handler: b.cmdCancel},
		"iptal":   {handler: b.cmdCancel},
		"stop":    {handler: b.cmdCancel},
		"id":      {handler: b.cmdID},

		"refresh": {admin: true, handler: b.cmdRefresh},
		"groups":  {admin: true, handler: b.cmdGroups},
		"catalog": {admin: true, handler: b.cmdCatalog},
		"js":      {admin: true, handler: b.cmdCatalogJSON},
		"status":  {admin: true, handler: b.cmdStatus},
		"files":   {admin: true, handler: b.cmdFiles},
		"logs":    {admin: true, handler: b.cmdLogs},
		"clean":   {admin: true, handler: b.cmdClean},
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	name := strings.ToLower(msg.Command())
	cmd, ok := b.commands[name]
	if !ok {
		b.reply(msg.Chat.ID, "Unknown command. Use /help to see what I can do.")
		return
	}
	if cmd.admin && !b.isAdmin(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ You are not allowed to use this command.")
		return
	}
	cmd.handler(ctx, msg)
}

func (b *Bot) cmdStart(_ context.Context, msg *tgbotapi.Message) {
	text := "📊 Welcome to the Excel distribution bot!\n\n" +
		"/process - split a workbook and mail each group its rows\n" +
		"/tek - split a workbook and mail everything to the personal mailbox only\n" +
		"/cancel - cancel the pending operation\n" +
		"/id - show your user ID\n\n" +
		"The workbook needs a 'TARİH' and an 'İL' column."
	if b.isAdmin(msg.From.ID) {
		text += "\n\nAdmin: /refresh /groups /catalog /js /status /files /logs /clean"
	}
	b.reply(msg.Chat.ID, text)
}

func (b *Bot) cmdProcess(_ context.Context, msg *tgbotapi.Message) {
	b.setPending(msg.Chat.ID, pendingProcess)
	b.reply(msg.Chat.ID, "Please send the Excel file to process.\nℹ️ /cancel to stop.")
}

func (b *Bot) cmdPersonal(_ context.Context, msg *tgbotapi.Message) {
	if b.cfg.PersonalEmail == "" {
		b.reply(msg.Chat.ID, "❌ No personal mailbox is configured.")
		return
	}
	b.setPending(msg.Chat.ID, pendingPersonal)
	b.reply(msg.Chat.ID, "📊 PERSONAL MODE\n\n"+
		"Please send the Excel file.\n"+
		"• The file will be split into groups\n"+
		"• All outputs go to the personal mailbox only\n"+
		"• Recipient: "+b.cfg.PersonalEmail)
}

func (b *Bot) cmdCancel(_ context.Context, msg *tgbotapi.Message) {
	b.cancel(msg.Chat.ID)
}

func (b *Bot) cancel(chatID int64) {
	if b.takePending(chatID) == pendingNone {
		b.reply(chatID, "ℹ️ There is no pending operation to cancel.")
		return
	}
	b.reply(chatID, "❌ Operation cancelled.")
}

func (b *Bot) cmdID(_ context.Context, msg *tgbotapi.Message) {
	role := "user"
	if b.isAdmin(msg.From.ID) {
		role = "admin"
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Your ID: %d\nRole: %s", msg.From.ID, role))
}

func (b *Bot) cmdRefresh(ctx context.Context, msg *tgbotapi.Message) {
	if err := b.catalog.Refresh(ctx); err != nil {
		b.reply(msg.Chat.ID, "❌ Groups could not be reloaded: "+err.Error())
		return
	}
	snap := b.catalog.Snapshot()
	b.reply(msg.Chat.ID, fmt.Sprintf("✅ Groups reloaded.\n%d groups, %d cities.", len(snap.Catalog().Groups), snap.CityCount()))
}

func (b *Bot) cmdGroups(_ context.Context, msg *tgbotapi.Message) {
	snap := b.catalog.Snapshot()
	gs := snap.Catalog().Groups
	if len(gs) == 0 {
		b.reply(msg.Chat.ID, "❌ No groups are defined.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 %d groups (loaded %s):\n\n", len(gs), snap.LoadedAt().Format("02.01.2006 15:04"))
	for i, g := range gs {
		fmt.Fprintf(&sb, "%d. %s (%s)\n   🏙️ %d cities, 📧 %d recipients\n", i+1, g.DisplayName(), g.ID, len(g.Cities), len(g.Recipients))
	}
	b.reply(msg.Chat.ID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) cmdCatalog(_ context.Context, msg *tgbotapi.Message) {
	b.setPending(msg.Chat.ID, pendingCatalog)
	b.reply(msg.Chat.ID, "Send the new group catalog as groups.json or as a workbook with a 'grup' sheet.\n"+
		"The current catalog is backed up first.")
}

func (b *Bot) cmdCatalogJSON(_ context.Context, msg *tgbotapi.Message) {
	b.setPending(msg.Chat.ID, pendingCatalogJSON)
	b.reply(msg.Chat.ID, "📊 Send the group workbook; I will reply with the generated groups.json.")
}

func (b *Bot) cmdStatus(_ context.Context, msg *tgbotapi.Message) {
	snap := b.catalog.Snapshot()
	files, err := splitter.RecentOutputs(b.cfg.OutputDir, 0)
	last := "none"
	if err == nil && len(files) > 0 {
		last = files[0].Modified.Format("02.01.2006 15:04")
	}

	logSize := "unknown"
	if info, err := os.Stat(filepath.Join(b.cfg.LogsDir, "bot.log")); err == nil {
		logSize = fmt.Sprintf("%.1f KB", float64(info.Size())/1024)
	}

	b.reply(msg.Chat.ID, fmt.Sprintf("📊 System status\n\n"+
		"✅ Bot running for %s\n"+
		"⚙️ Jobs running: %d\n"+
		"👥 Groups: %d (%d cities)\n"+
		"📁 Output files: %d\n"+
		"🔄 Last output: %s\n"+
		"📝 Log size: %s",
		time.Since(b.started).Round(time.Second), b.activeJobs(),
		len(snap.Catalog().Groups), snap.CityCount(),
		len(files), last, logSize))
}

func (b *Bot) cmdFiles(_ context.Context, msg *tgbotapi.Message) {
	files, err := splitter.RecentOutputs(b.cfg.OutputDir, recentFilesShown)
	if err != nil {
		b.reply(msg.Chat.ID, "❌ Could not list files.")
		return
	}
	if len(files) == 0 {
		b.reply(msg.Chat.ID, "📁 No processed files yet.")
		return
	}
	var sb strings.Builder
	sb.WriteString("📁 Recent files:\n\n")
	for i, f := range files {
		fmt.Fprintf(&sb, "%d. %s (%.1f KB - %s)\n", i+1, f.Name, float64(f.Size)/1024, f.Modified.Format("02.01.2006 15:04"))
	}
	b.reply(msg.Chat.ID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) cmdLogs(_ context.Context, msg *tgbotapi.Message) {
	data, err := os.ReadFile(filepath.Join(b.cfg.LogsDir, "bot.log"))
	if err != nil {
		b.reply(msg.Chat.ID, "📝 Log file not found.")
		return
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > logLinesShown {
		lines = lines[len(lines)-logLinesShown:]
	}
	tail := strings.Join(lines, "\n")
	if len(tail) > logCharsShown {
		tail = tail[len(tail)-logCharsShown:]
		for len(tail) > 0 && !isRuneStart(tail[0]) {
			tail = tail[1:]
		}
	}
	b.reply(msg.Chat.ID, "📝 Recent log:\n"+tail)
}

func (b *Bot) cmdClean(ctx context.Context, msg *tgbotapi.Message) {
	if b.sweeper == nil {
		b.reply(msg.Chat.ID, "ℹ️ Retention is disabled.")
		return
	}
	stats, err := b.sweeper.Sweep(ctx)
	if err != nil {
		b.reply(msg.Chat.ID, "❌ Cleanup failed: "+err.Error())
		return
	}
	b.reply(msg.Chat.ID, "🧹 Cleanup complete\n\n"+stats.String())
}

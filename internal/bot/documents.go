package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ignite/sheet-dispatch/internal/groups"
	"github.com/ignite/sheet-dispatch/internal/job"
	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
)

// maxDownloadBytes is the Bot API limit for getFile downloads.
const maxDownloadBytes = 20 << 20

var errTooLarge = errors.New("file too large")

func (b *Bot) handleDocument(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	doc := msg.Document
	action := b.takePending(chatID)

	switch action {
	case pendingNone:
		b.reply(chatID, "ℹ️ Send /process or /tek first, then the file.")
		return
	case pendingCatalog, pendingCatalogJSON:
		if !b.isAdmin(msg.From.ID) {
			b.reply(chatID, "❌ You are not allowed to use this command.")
			return
		}
	}
	if doc.FileSize > maxDownloadBytes {
		b.reply(chatID, "❌ The file is too large (max 20 MB).")
		return
	}

	switch action {
	case pendingProcess, pendingPersonal:
		b.handleWorkbook(ctx, msg, action)
	case pendingCatalog:
		b.handleCatalogUpload(ctx, msg)
	case pendingCatalogJSON:
		b.handleCatalogConvert(ctx, msg)
	}
}

func (b *Bot) handleWorkbook(ctx context.Context, msg *tgbotapi.Message, action pendingAction) {
	chatID := msg.Chat.ID
	name := safeName(msg.Document.FileName)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
	default:
		b.reply(chatID, "❌ Please send an Excel file (.xlsx or .xlsm).")
		return
	}

	path, err := b.downloadTo(ctx, msg.Document.FileID, b.cfg.InputDir, name)
	if err != nil {
		logger.Error("download failed", "chat_id", chatID, "file", name, "error", err)
		b.reply(chatID, "❌ The file could not be downloaded.")
		return
	}

	mode := job.ModeDistribute
	if action == pendingPersonal {
		mode = job.ModePersonalOnly
	}
	b.reply(chatID, "⏳ Processing the file, please wait...")

	b.mu.Lock()
	b.active++
	b.mu.Unlock()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			b.active--
			b.mu.Unlock()
		}()

		// A job runs to completion even when the bot is shutting down.
		rep := b.runner.Run(context.WithoutCancel(ctx), job.Request{
			Path:     path,
			FileName: name,
			UserID:   msg.From.ID,
			Mode:     mode,
		})
		b.reply(chatID, rep.Text())

		if mode == job.ModePersonalOnly && rep.Success {
			for _, o := range rep.Outputs {
				if err := b.sendDocument(chatID, tgbotapi.FilePath(o.Path), "📁 "+o.Filename); err != nil {
					logger.Warn("could not send output to chat", "chat_id", chatID, "file", o.Filename, "error", err)
				}
			}
		}
	}()
}

func (b *Bot) handleCatalogUpload(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	c, ok := b.catalogFromUpload(ctx, msg)
	if !ok {
		return
	}
	if err := b.catalog.Replace(ctx, c); err != nil {
		logger.Warn("catalog replace rejected", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Invalid group catalog: "+err.Error())
		return
	}
	snap := b.catalog.Snapshot()
	b.reply(chatID, fmt.Sprintf("✅ Group catalog updated.\n%d groups, %d cities.", len(snap.Catalog().Groups), snap.CityCount()))
}

func (b *Bot) handleCatalogConvert(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	c, ok := b.catalogFromUpload(ctx, msg)
	if !ok {
		return
	}
	c.Tidy()
	data, err := c.Marshal()
	if err != nil {
		b.reply(chatID, "❌ groups.json could not be created.")
		return
	}
	caption := fmt.Sprintf("✅ Group data generated (%d groups).", len(c.Groups))
	if err := b.sendDocument(chatID, tgbotapi.FileBytes{Name: "groups.json", Bytes: data}, caption); err != nil {
		logger.Error("sending generated catalog failed", "chat_id", chatID, "error", err)
	}
}

// catalogFromUpload reads a .json catalog or a catalog workbook. It
// replies on failure.
func (b *Bot) catalogFromUpload(ctx context.Context, msg *tgbotapi.Message) (*groups.Catalog, bool) {
	chatID := msg.Chat.ID
	ext := strings.ToLower(filepath.Ext(msg.Document.FileName))
	if ext != ".json" && ext != ".xlsx" && ext != ".xlsm" {
		b.reply(chatID, "❌ Please send a .json or .xlsx file.")
		return nil, false
	}

	data, err := b.download(ctx, msg.Document.FileID)
	if err != nil {
		logger.Error("download failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ The file could not be downloaded.")
		return nil, false
	}

	var c *groups.Catalog
	if ext == ".json" {
		c, err = groups.ParseCatalog(data)
	} else {
		c, err = groups.GenerateCatalog(bytes.NewReader(data), groups.DefaultCatalogSheet)
	}
	if err != nil {
		b.reply(chatID, "❌ Invalid group file: "+err.Error())
		return nil, false
	}
	return c, true
}

// download fetches a Telegram file into memory.
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.fetch(ctx, fileID, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// downloadTo saves a Telegram file in dir under a unique name ending in
// name and returns its path.
func (b *Bot) downloadTo(ctx context.Context, fileID, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "*-"+name)
	if err != nil {
		return "", err
	}
	path := f.Name()
	err = b.fetch(ctx, fileID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (b *Bot) fetch(ctx context.Context, fileID string, w io.Writer) error {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("resolving file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading file: status %d", resp.StatusCode)
	}
	n, err := io.Copy(w, io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return fmt.Errorf("downloading file: %w", err)
	}
	if n > maxDownloadBytes {
		return errTooLarge
	}
	return nil
}

// safeName keeps the base name of an upload and replaces characters that
// are unsafe in paths or temp-file patterns.
func safeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "upload.xlsx"
	}
	return name
}

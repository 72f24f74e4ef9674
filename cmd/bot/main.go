package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ignite/sheet-dispatch/internal/api"
	"github.com/ignite/sheet-dispatch/internal/archive"
	"github.com/ignite/sheet-dispatch/internal/bot"
	"github.com/ignite/sheet-dispatch/internal/config"
	"github.com/ignite/sheet-dispatch/internal/delivery"
	"github.com/ignite/sheet-dispatch/internal/groups"
	"github.com/ignite/sheet-dispatch/internal/job"
	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
	"github.com/ignite/sheet-dispatch/internal/retention"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Sheet Dispatch Bot (cmd/bot/main.go)                      ║")
	log.Println("║  Telegram upload → per-group workbooks → SMTP delivery     ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Telegram.Token == "" {
		log.Fatal("TELEGRAM_TOKEN is not set")
	}
	if err := cfg.Paths.Ensure(); err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}
	tempDir := filepath.Join(cfg.Paths.DataDir, "tmp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		log.Fatalf("Failed to create %s: %v", tempDir, err)
	}

	closers := setupLogging(cfg)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Redis is optional; without it locks are in-process only.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("[Redis] Ping failed, continuing with in-process locks: %v", err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Println("[Redis] Connected")
			defer redisClient.Close()
		}
	}

	var dirOpts []groups.Option
	if redisClient != nil {
		dirOpts = append(dirOpts, groups.WithRedis(redisClient))
	}
	directory := groups.NewDirectory(groups.NewFileSource(cfg.Paths.CatalogPath()), cfg.Delivery.DefaultRecipients, dirOpts...)
	if err := directory.Refresh(ctx); err != nil {
		log.Printf("[Groups] Initial load failed, starting with an empty catalog: %v", err)
	}
	snap := directory.Snapshot()
	log.Printf("[Groups] %d groups, %d cities loaded", len(snap.Catalog().Groups), snap.CityCount())

	engine := delivery.NewEngine(&delivery.SMTPTransport{
		Host:     cfg.SMTP.Server,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Timeout:  cfg.SMTP.Timeout(),
	}, delivery.Config{
		Host:          cfg.SMTP.Server,
		From:          cfg.SMTP.Username,
		FromName:      cfg.SMTP.FromName,
		Ports:         cfg.SMTP.Ports,
		MaxRetries:    cfg.Delivery.MaxRetries,
		RatePerSecond: cfg.Delivery.RatePerSecond,
	})

	tpl := cfg.Delivery.Templates
	templates, err := delivery.NewTemplates(delivery.TemplateSet{
		GroupSubject:  tpl.GroupSubject,
		GroupBody:     tpl.GroupBody,
		BundleSubject: tpl.BundleSubject,
		BundleBody:    tpl.BundleBody,
	})
	if err != nil {
		log.Fatalf("Invalid mail templates: %v", err)
	}

	var runnerOpts []job.Option
	if cfg.Archive.Enabled {
		archiver, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			log.Fatalf("Failed to initialize bundle archive: %v", err)
		}
		runnerOpts = append(runnerOpts, job.WithArchiver(archiver))
		log.Printf("[Archive] Bundles archived to s3://%s", cfg.Archive.S3Bucket)
	}
	runner := job.NewRunner(directory, engine, templates, job.Config{
		OutputDir:     cfg.Paths.OutputDir,
		TempDir:       tempDir,
		PersonalEmail: cfg.Delivery.PersonalEmail,
		SenderName:    cfg.SMTP.FromName,
		Concurrency:   cfg.Delivery.Concurrency,
	}, runnerOpts...)

	var botOpts []bot.Option
	if cfg.Retention.Enabled {
		sweepOpts := []retention.Option{retention.WithInterval(cfg.Retention.Interval())}
		if redisClient != nil {
			sweepOpts = append(sweepOpts, retention.WithRedis(redisClient))
		}
		sweeper := retention.NewSweeper(retention.Policies(cfg.Paths, cfg.Retention), sweepOpts...)
		go sweeper.Start(ctx)
		botOpts = append(botOpts, bot.WithSweeper(sweeper))
	}

	server := api.NewServer(cfg.Server, directory, cfg.Paths.OutputDir)
	go func() {
		log.Printf("Starting status server on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Status server error: %v", err)
		}
	}()

	tg, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatalf("Failed to connect to Telegram: %v", err)
	}
	tg.Debug = cfg.Telegram.Debug
	log.Printf("[Bot] Authorized as @%s", tg.Self.UserName)

	b := bot.New(tg, runner, directory, bot.Config{
		AdminIDs:      cfg.Telegram.AdminIDs,
		InputDir:      cfg.Paths.InputDir,
		OutputDir:     cfg.Paths.OutputDir,
		LogsDir:       cfg.Paths.LogsDir,
		PersonalEmail: cfg.Delivery.PersonalEmail,
		UpdateTimeout: cfg.Telegram.UpdateTimeout,
	}, botOpts...)

	log.Println("All services initialized — bot is ready")
	b.Run(ctx)

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Status server shutdown error: %v", err)
	}
	log.Println("Bot stopped")
}

// setupLogging applies the log settings and attaches bot.log (INFO and up)
// and errors.log (ERROR only) under the logs directory.
func setupLogging(cfg *config.Config) []io.Closer {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.RedactPII)

	var closers []io.Closer
	for _, f := range []struct {
		name string
		min  logger.Level
	}{
		{"bot.log", logger.INFO},
		{"errors.log", logger.ERROR},
	} {
		c, err := logger.AddFile(filepath.Join(cfg.Paths.LogsDir, f.name), f.min)
		if err != nil {
			log.Printf("[Log] %v", err)
			continue
		}
		closers = append(closers, c)
	}
	return closers
}

// Package retention removes old uploads, outputs, rotated logs and catalog
// backups from the data directory.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ignite/sheet-dispatch/internal/config"
	"github.com/ignite/sheet-dispatch/internal/pkg/distlock"
	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultInterval is how often the sweep runs.
	DefaultInterval = time.Hour

	lockKey = "retention-sweep"
	lockTTL = 10 * time.Minute
)

// Policy removes regular files in Dir matching Pattern whose modification
// time is older than MaxAge.
type Policy struct {
	Name    string
	Dir     string
	Pattern string
	MaxAge  time.Duration
}

// Policies builds the standard set from config:
//   - uploads:          input dir, any file, retention.input_hours
//   - outputs:          output dir, any file, retention.output_days
//   - rotated logs:     logs dir, logger.RotatedPattern, retention.log_days
//   - catalog backups:  groups dir, groups_backup_*.json, retention.backup_days
func Policies(paths config.PathsConfig, r config.RetentionConfig) []Policy {
	day := 24 * time.Hour
	return []Policy{
		{Name: "input", Dir: paths.InputDir, Pattern: "*", MaxAge: time.Duration(r.InputHours) * time.Hour},
		{Name: "output", Dir: paths.OutputDir, Pattern: "*", MaxAge: time.Duration(r.OutputDays) * day},
		{Name: "logs", Dir: paths.LogsDir, Pattern: logger.RotatedPattern, MaxAge: time.Duration(r.LogDays) * day},
		{Name: "backups", Dir: paths.GroupsDir, Pattern: "groups_backup_*.json", MaxAge: time.Duration(r.BackupDays) * day},
	}
}

// Stats summarizes one sweep.
type Stats struct {
	Removed int
	Bytes   int64
	Errors  int
	// ByPolicy counts removed files per policy name.
	ByPolicy map[string]int
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithRedis coordinates sweeps across replicas sharing a data volume.
func WithRedis(client *redis.Client) Option {
	return func(s *Sweeper) { s.redis = client }
}

// WithInterval sets the time between sweeps.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// Sweeper periodically applies retention policies.
type Sweeper struct {
	policies []Policy
	interval time.Duration
	redis    *redis.Client
	now      func() time.Time
}

// NewSweeper creates a sweeper for policies.
func NewSweeper(policies []Policy, opts ...Option) *Sweeper {
	s := &Sweeper{policies: policies, interval: DefaultInterval, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps once, then on every tick. It blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	log.Printf("[Retention] Starting (interval=%s, policies=%d)", s.interval, len(s.policies))

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Retention] Stopping")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	start := time.Now()
	stats, err := s.Sweep(ctx)
	switch {
	case errors.Is(err, distlock.ErrNotAcquired):
		log.Println("[Retention] Another sweep is running, skipping")
	case err != nil:
		log.Printf("[Retention] Sweep failed: %v", err)
	default:
		log.Printf("[Retention] Sweep completed in %s: removed=%d freed=%.2fMB errors=%d",
			time.Since(start).Round(time.Millisecond), stats.Removed, float64(stats.Bytes)/(1024*1024), stats.Errors)
	}
}

// Sweep applies every policy once under the sweep lock. Files that vanish
// mid-sweep are not errors.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	stats := Stats{ByPolicy: make(map[string]int, len(s.policies))}
	lock := distlock.NewLock(s.redis, lockKey, lockTTL)
	err := distlock.WithLock(ctx, lock, func() error {
		cutoffBase := s.now()
		for _, p := range s.policies {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.Dir == "" || p.MaxAge <= 0 {
				continue
			}
			s.apply(p, cutoffBase.Add(-p.MaxAge), &stats)
		}
		return nil
	})
	return stats, err
}

func (s *Sweeper) apply(p Policy, cutoff time.Time, stats *Stats) {
	matches, err := filepath.Glob(filepath.Join(p.Dir, p.Pattern))
	if err != nil {
		log.Printf("[Retention] Bad pattern for %s: %v", p.Name, err)
		stats.Errors++
		return
	}
	for _, path := range matches {
		info, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			stats.Errors++
			continue
		}
		if !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Printf("[Retention] Could not remove %s: %v", path, err)
				stats.Errors++
			}
			continue
		}
		stats.Removed++
		stats.Bytes += info.Size()
		stats.ByPolicy[p.Name]++
	}
	if n := stats.ByPolicy[p.Name]; n > 0 {
		log.Printf("[Retention] Removed %d %s file(s)", n, p.Name)
	}
}

// String renders stats for the chat.
func (st Stats) String() string {
	return fmt.Sprintf("Removed %d file(s), freed %.2f MB", st.Removed, float64(st.Bytes)/(1024*1024))
}

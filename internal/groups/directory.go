package groups

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/sheet-dispatch/internal/pkg/distlock"
	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	catalogLockKey = "groups-catalog"
	catalogLockTTL = 30 * time.Second
)

// Directory serves group lookups from the most recently loaded snapshot.
// Lookups are lock-free; Refresh and Replace are serialized.
type Directory struct {
	source   Source
	defaults []string
	now      func() time.Time
	newLock  func() distlock.DistLock

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// Option configures a Directory.
type Option func(*Directory)

// WithRedis makes Replace take a Redis lock so several bot instances
// sharing a groups directory do not interleave writes.
func WithRedis(client *redis.Client) Option {
	return func(d *Directory) {
		if client == nil {
			return
		}
		d.newLock = func() distlock.DistLock {
			return distlock.NewLock(client, catalogLockKey, catalogLockTTL)
		}
	}
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// NewDirectory returns a directory backed by source. It starts with an
// empty catalog; call Refresh to load.
func NewDirectory(source Source, defaultRecipients []string, opts ...Option) *Directory {
	d := &Directory{
		source:   source,
		defaults: append([]string(nil), defaultRecipients...),
		now:      time.Now,
		newLock: func() distlock.DistLock {
			return distlock.NewLocalLock(catalogLockKey)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.current.Store(NewSnapshot(&Catalog{}, d.defaults, d.now()))
	return d
}

// Snapshot returns the current catalog view. Use one snapshot for a whole
// split so every row is resolved against the same index.
func (d *Directory) Snapshot() *Snapshot {
	return d.current.Load()
}

// GroupsForCity resolves city against the current snapshot.
func (d *Directory) GroupsForCity(city string) []string {
	return d.Snapshot().GroupsForCity(city)
}

// InfoFor looks id up in the current snapshot.
func (d *Directory) InfoFor(id string) Group {
	return d.Snapshot().InfoFor(id)
}

// Refresh reloads the catalog and publishes a new snapshot. A missing or
// malformed document is replaced by the sample catalog, which is written
// back so later loads succeed. Other load errors keep the previous
// snapshot and are returned.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshLocked(ctx)
}

func (d *Directory) refreshLocked(ctx context.Context) error {
	cat, err := d.source.Load(ctx)
	var formatErr *CatalogFormatError
	switch {
	case err == nil:
	case errors.Is(err, ErrCatalogMissing):
		logger.Warn("group catalog not found, writing sample catalog", "error", err)
		cat = d.installSample(ctx)
	case errors.As(err, &formatErr):
		logger.Error("group catalog malformed, falling back to sample catalog", "error", err)
		if b, ok := d.source.(Backupper); ok {
			if path, err := b.Backup(ctx); err != nil {
				logger.Warn("could not back up malformed catalog", "error", err)
			} else if path != "" {
				logger.Info("malformed catalog backed up", "path", path)
			}
		}
		cat = d.installSample(ctx)
	default:
		return fmt.Errorf("loading group catalog: %w", err)
	}

	if err := Validate(cat); err != nil {
		logger.Warn("group catalog has problems", "error", err)
	}

	snap := NewSnapshot(cat, d.defaults, d.now())
	d.current.Store(snap)
	logger.Info("group catalog loaded", "groups", len(cat.Groups), "cities", snap.CityCount())
	return nil
}

func (d *Directory) installSample(ctx context.Context) *Catalog {
	cat := SampleCatalog()
	if err := d.source.Save(ctx, cat); err != nil {
		logger.Error("could not write sample catalog", "error", err)
	}
	return cat
}

// Replace validates c, backs up and overwrites the stored document, then
// refreshes. An invalid catalog is rejected with ValidationErrors and
// nothing is written.
func (d *Directory) Replace(ctx context.Context, c *Catalog) error {
	if c == nil {
		return Validate(nil)
	}
	c.Tidy()
	if err := Validate(c); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	err := distlock.WithLock(ctx, d.newLock(), func() error {
		if b, ok := d.source.(Backupper); ok {
			path, err := b.Backup(ctx)
			if err != nil {
				return fmt.Errorf("backing up catalog: %w", err)
			}
			if path != "" {
				logger.Info("group catalog backed up", "path", path)
			}
		}
		return d.source.Save(ctx, c)
	})
	if err != nil {
		return fmt.Errorf("replacing group catalog: %w", err)
	}
	return d.refreshLocked(ctx)
}

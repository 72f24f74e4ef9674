package groups

import (
	"time"

	"github.com/ignite/sheet-dispatch/internal/citynorm"
)

// CityIndex maps a normalized city key to the ids of every group that
// lists the city, in catalog order.
type CityIndex map[string][]string

// BuildIndex derives the city index of c. A group listed twice for the
// same city appears once; cities that normalize to "" are ignored.
func BuildIndex(c *Catalog) CityIndex {
	ix := make(CityIndex)
	if c == nil {
		return ix
	}
	for _, g := range c.Groups {
		for _, city := range g.Cities {
			key := citynorm.Normalize(city)
			if key == "" || contains(ix[key], g.ID) {
				continue
			}
			ix[key] = append(ix[key], g.ID)
		}
	}
	return ix
}

// Lookup returns the group ids for city, or just CatchAllID when the city
// is empty or matches nothing. The returned slice must not be modified.
func (ix CityIndex) Lookup(city string) []string {
	if key := citynorm.Normalize(city); key != "" {
		if ids, ok := ix[key]; ok {
			return ids
		}
	}
	return []string{CatchAllID}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Snapshot is an immutable view of one catalog version and its index.
// Values returned from it share memory with the snapshot and must be
// treated as read-only.
type Snapshot struct {
	catalog  *Catalog
	index    CityIndex
	byID     map[string]Group
	fallback Group
	loadedAt time.Time
}

// NewSnapshot indexes c. defaultRecipients go to the catch-all group when
// the catalog does not declare it.
func NewSnapshot(c *Catalog, defaultRecipients []string, loadedAt time.Time) *Snapshot {
	if c == nil {
		c = &Catalog{}
	}
	s := &Snapshot{
		catalog:  c,
		index:    BuildIndex(c),
		byID:     make(map[string]Group, len(c.Groups)),
		loadedAt: loadedAt,
	}
	for _, g := range c.Groups {
		if _, dup := s.byID[g.ID]; !dup {
			s.byID[g.ID] = g
		}
	}
	if g, ok := s.byID[CatchAllID]; ok {
		s.fallback = g
	} else {
		s.fallback = Group{
			ID:         CatchAllID,
			Name:       CatchAllName,
			Cities:     []string{},
			Recipients: append([]string(nil), defaultRecipients...),
		}
	}
	return s
}

// GroupsForCity resolves a raw city name to group ids.
func (s *Snapshot) GroupsForCity(city string) []string {
	return s.index.Lookup(city)
}

// InfoFor returns the group with id. Unknown ids yield the catch-all
// group; the lookup never fails.
func (s *Snapshot) InfoFor(id string) Group {
	if g, ok := s.byID[id]; ok {
		return g
	}
	return s.fallback
}

// Catalog returns the catalog this snapshot was built from.
func (s *Snapshot) Catalog() *Catalog { return s.catalog }

// CityCount returns the number of distinct normalized city keys.
func (s *Snapshot) CityCount() int { return len(s.index) }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

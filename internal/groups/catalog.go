// Package groups owns the group catalog: which cities belong to which
// group and who receives each group's workbook.
//
// The catalog is loaded from a Source into an immutable Snapshot (catalog
// plus city index). A Directory publishes snapshots through an atomic
// pointer so a split in progress always sees one consistent index while a
// refresh builds the next one.
package groups

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// CatchAllID is the reserved group that receives rows whose city
	// matched no configured group.
	CatchAllID = "Grup_0"
	// CatchAllName is the display name of the synthesized catch-all group.
	CatchAllName = "unmatched"
)

// Group is one partition of output rows.
type Group struct {
	ID         string   `json:"group_id" validate:"required"`
	Name       string   `json:"group_name"`
	Cities     []string `json:"cities"`
	Recipients []string `json:"email_recipients" validate:"dive,email"`
}

// DisplayName returns the group name, or the id when the name is empty.
func (g Group) DisplayName() string {
	if strings.TrimSpace(g.Name) != "" {
		return g.Name
	}
	return g.ID
}

// Catalog is the full set of group definitions.
type Catalog struct {
	Groups []Group `json:"groups" validate:"min=1,unique=ID,dive"`
}

// Tidy trims ids, names, cities and recipients, and drops empty
// recipients. Used before validating a catalog submitted for replacement.
func (c *Catalog) Tidy() {
	for i := range c.Groups {
		g := &c.Groups[i]
		g.ID = strings.TrimSpace(g.ID)
		g.Name = strings.TrimSpace(g.Name)
		for j := range g.Cities {
			g.Cities[j] = strings.TrimSpace(g.Cities[j])
		}
		recipients := g.Recipients[:0]
		for _, r := range g.Recipients {
			if r = strings.TrimSpace(r); r != "" {
				recipients = append(recipients, r)
			}
		}
		g.Recipients = recipients
	}
}

// Marshal encodes the catalog as the on-disk document: two-space indent,
// non-ASCII kept as is.
func (c *Catalog) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CatalogFormatError reports a document that does not have the
// list-of-groups shape.
type CatalogFormatError struct {
	Reason string
	Err    error
}

func (e *CatalogFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog format: %s: %v", e.Reason, e.Err)
	}
	return "catalog format: " + e.Reason
}

func (e *CatalogFormatError) Unwrap() error { return e.Err }

// ParseCatalog decodes a catalog document. Anything other than an object
// with a "groups" array of objects is a *CatalogFormatError.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CatalogFormatError{Reason: "document is not a JSON object", Err: err}
	}
	raw, ok := doc["groups"]
	if !ok {
		return nil, &CatalogFormatError{Reason: `missing "groups" key`}
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || isNull(raw) {
		return nil, &CatalogFormatError{Reason: `"groups" is not a list`, Err: err}
	}

	cat := &Catalog{Groups: make([]Group, 0, len(entries))}
	for i, entry := range entries {
		var g Group
		if err := json.Unmarshal(entry, &g); err != nil || isNull(entry) {
			return nil, &CatalogFormatError{Reason: fmt.Sprintf("group %d is not an object", i), Err: err}
		}
		cat.Groups = append(cat.Groups, g)
	}
	return cat, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// SampleCatalog returns the built-in catalog written on first run and used
// whenever the stored document is unusable.
func SampleCatalog() *Catalog {
	return &Catalog{Groups: []Group{
		{
			ID:         "Grup_1",
			Name:       "NURHAN",
			Cities:     []string{"Afyon", "Aksaray", "Ankara", "Antalya", "Van"},
			Recipients: []string{"email1@example.com", "email2@example.com"},
		},
		{
			ID:         "Grup_2",
			Name:       "MAHMUTBEY",
			Cities:     []string{"Adana", "Adıyaman", "Batman", "Bingöl", "Bitlis"},
			Recipients: []string{"email3@example.com"},
		},
	}}
}

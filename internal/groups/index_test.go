package groups

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func overlapCatalog() *Catalog {
	return &Catalog{Groups: []Group{
		{ID: "Grup_1", Name: "NURHAN", Cities: []string{"Ankara", "İzmir", "izmir"}, Recipients: []string{"a@example.com"}},
		{ID: "Grup_2", Name: "MAHMUTBEY", Cities: []string{"IZMIR", "Adıyaman", ""}, Recipients: []string{"b@example.com"}},
	}}
}

func TestBuildIndex(t *testing.T) {
	ix := BuildIndex(overlapCatalog())

	assert.Equal(t, []string{"Grup_1"}, ix["ANKARA"])
	assert.Equal(t, []string{"Grup_1", "Grup_2"}, ix["IZMIR"])
	assert.Equal(t, []string{"Grup_2"}, ix["ADIYAMAN"])
	assert.NotContains(t, ix, "")
	assert.Len(t, ix, 3)

	assert.Empty(t, BuildIndex(nil))
}

func TestLookup(t *testing.T) {
	ix := BuildIndex(overlapCatalog())

	assert.Equal(t, []string{CatchAllID}, ix.Lookup(""))
	assert.Equal(t, []string{CatchAllID}, ix.Lookup("   "))
	assert.Equal(t, []string{CatchAllID}, ix.Lookup("Trabzon"))
	assert.Equal(t, []string{"Grup_1", "Grup_2"}, ix.Lookup(" izmir."))
	assert.Equal(t, []string{"Grup_2"}, ix.Lookup("ADIYAMAN"))
}

func TestSnapshotInfoFor(t *testing.T) {
	loaded := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	snap := NewSnapshot(overlapCatalog(), []string{"ops@example.com"}, loaded)

	assert.Equal(t, "NURHAN", snap.InfoFor("Grup_1").Name)

	unknown := snap.InfoFor("Grup_99")
	assert.Equal(t, CatchAllID, unknown.ID)
	assert.Equal(t, CatchAllName, unknown.Name)
	assert.Empty(t, unknown.Cities)
	assert.Equal(t, []string{"ops@example.com"}, unknown.Recipients)
	assert.Equal(t, unknown, snap.InfoFor(CatchAllID))

	assert.Equal(t, loaded, snap.LoadedAt())
	assert.Equal(t, 3, snap.CityCount())
}

func TestSnapshotUsesDeclaredCatchAll(t *testing.T) {
	cat := overlapCatalog()
	cat.Groups = append(cat.Groups, Group{ID: CatchAllID, Name: "Eşleşmeyen", Recipients: []string{"triage@example.com"}})

	snap := NewSnapshot(cat, []string{"ops@example.com"}, time.Now())
	assert.Equal(t, []string{"triage@example.com"}, snap.InfoFor(CatchAllID).Recipients)
	assert.Equal(t, "Eşleşmeyen", snap.InfoFor("nope").Name)
}

func TestSnapshotDuplicateIDsFirstWins(t *testing.T) {
	cat := &Catalog{Groups: []Group{{ID: "Grup_1", Name: "first"}, {ID: "Grup_1", Name: "second"}}}
	snap := NewSnapshot(cat, nil, time.Now())
	assert.Equal(t, "first", snap.InfoFor("Grup_1").Name)
}

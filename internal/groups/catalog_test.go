package groups

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCatalog(t *testing.T) {
	data := []byte(`{
  "groups": [
    {"group_id": "Grup_1", "group_name": "NURHAN", "cities": ["Ankara", "Van"], "email_recipients": ["a@example.com"]},
    {"group_id": "Grup_2", "group_name": "", "cities": [], "email_recipients": []}
  ]
}`)
	cat, err := ParseCatalog(data)
	require.NoError(t, err)
	require.Len(t, cat.Groups, 2)
	assert.Equal(t, "Grup_1", cat.Groups[0].ID)
	assert.Equal(t, []string{"Ankara", "Van"}, cat.Groups[0].Cities)
	assert.Equal(t, []string{"a@example.com"}, cat.Groups[0].Recipients)
	assert.Equal(t, "Grup_2", cat.Groups[1].DisplayName())
	assert.Equal(t, "NURHAN", cat.Groups[0].DisplayName())
}

func TestParseCatalogFormatErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not a list", `{"groups": "not-a-list"}`},
		{"missing key", `{"teams": []}`},
		{"null groups", `{"groups": null}`},
		{"entry not an object", `{"groups": ["Grup_1"]}`},
		{"null entry", `{"groups": [null]}`},
		{"top level list", `[{"group_id": "Grup_1"}]`},
		{"not json", `groups: []`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.doc))
			var formatErr *CatalogFormatError
			require.True(t, errors.As(err, &formatErr), "got %v", err)
			assert.NotEmpty(t, formatErr.Reason)
		})
	}
}

func TestMarshalKeepsNonASCII(t *testing.T) {
	data, err := SampleCatalog().Marshal()
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, "Adıyaman")
	assert.Contains(t, s, "Bingöl")
	assert.True(t, strings.HasPrefix(s, "{\n  \"groups\": [\n    {"))

	back, err := ParseCatalog(data)
	require.NoError(t, err)
	assert.Equal(t, SampleCatalog(), back)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(SampleCatalog()))

	t.Run("missing id", func(t *testing.T) {
		err := Validate(&Catalog{Groups: []Group{{Name: "x"}}})
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, "groups[0].group_id", verrs[0].Field)
		assert.Equal(t, "is required", verrs[0].Message)
	})

	t.Run("duplicate ids", func(t *testing.T) {
		err := Validate(&Catalog{Groups: []Group{{ID: "Grup_1"}, {ID: "Grup_1"}}})
		assert.ErrorContains(t, err, "unique")
	})

	t.Run("bad recipient", func(t *testing.T) {
		err := Validate(&Catalog{Groups: []Group{{ID: "Grup_1", Recipients: []string{"ok@example.com", "not-an-email"}}}})
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, "groups[0].email_recipients[1]", verrs[0].Field)
		assert.Contains(t, verrs[0].Message, "not-an-email")
	})

	t.Run("empty catalog", func(t *testing.T) {
		assert.Error(t, Validate(&Catalog{}))
		assert.Error(t, Validate(nil))
	})
}

func TestTidy(t *testing.T) {
	cat := &Catalog{Groups: []Group{{
		ID:         " Grup_1 ",
		Name:       " NURHAN",
		Cities:     []string{" Van "},
		Recipients: []string{" a@example.com", "", "  "},
	}}}
	cat.Tidy()

	g := cat.Groups[0]
	assert.Equal(t, "Grup_1", g.ID)
	assert.Equal(t, "NURHAN", g.Name)
	assert.Equal(t, []string{"Van"}, g.Cities)
	assert.Equal(t, []string{"a@example.com"}, g.Recipients)
}

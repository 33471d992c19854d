package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedCatalogLoads(t *testing.T) {
	cats := Categories()
	require.Len(t, cats, 5)
	for _, c := range cats {
		assert.Len(t, c.Buttons, 10, c.ID)
		for _, b := range c.Buttons {
			assert.Equal(t, c.ID, b.Category)
		}
	}

	assert.Len(t, Templates(), 12)
	assert.Len(t, EditOperations(), 8)
}

func TestEditOperationsKeepFixedOrder(t *testing.T) {
	ops := EditOperations()
	require.Len(t, ops, len(editOrder))
	for i, op := range ops {
		assert.Equal(t, editOrder[i], op.ID)
		assert.NotEmpty(t, op.Phrase)
	}
	assert.Equal(t, "remove background, transparent background", Phrase(EditRemoveBG))
	assert.Equal(t, "add text overlay", Phrase(EditTextOverlay))
	assert.Empty(t, Phrase(EditNone))
}

func TestLookups(t *testing.T) {
	f, ok := LookupFragment("watercolor")
	require.True(t, ok)
	assert.Equal(t, "watercolor painting", f.Value)
	assert.Equal(t, "style", f.Category)

	_, ok = LookupFragment("nope")
	assert.False(t, ok)

	tpl, ok := LookupTemplate("logo-design")
	require.True(t, ok)
	assert.Contains(t, tpl.Prompt, "minimalist logo design")
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeNone},
		{in: "create", want: ModeCreate},
		{in: "generate", want: ModeCreate},
		{in: " Edit ", want: ModeEdit},
		{in: "paint", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEditOperation(t *testing.T) {
	op, err := ParseEditOperation("merge")
	require.NoError(t, err)
	assert.Equal(t, EditMerge, op)

	op, err = ParseEditOperation("")
	require.NoError(t, err)
	assert.Equal(t, EditNone, op)

	_, err = ParseEditOperation("crop")
	assert.Error(t, err)
}

func TestParseRejectsIncompleteCatalog(t *testing.T) {
	_, err := parse([]byte("edit_operations:\n  - id: merge\n    phrase: merge\n"))
	assert.ErrorContains(t, err, "missing")

	_, err = parse([]byte("categories:\n  - id: a\n    buttons:\n      - { id: x, value: one }\n      - { id: x, value: two }\n"))
	assert.ErrorContains(t, err, "duplicate")
}

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/model"
	"github.com/sells-group/menu-extractor/internal/schema"
)

func runCategories(t *testing.T, r *Runner) *model.CategoriesArtifact {
	t.Helper()
	cats, err := r.Categories(context.Background(), "Zia", testPages(2))
	require.NoError(t, err)
	return cats
}

func TestRunner_Categories(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 4, schema.ModeStrict)

	cats := runCategories(t, r)
	assert.Equal(t, "Zia", cats.RestaurantName)
	require.Len(t, cats.Pages, 2)
	assert.Equal(t, 1, cats.Pages[0].PageNumber)
	assert.Equal(t, "Appetizers", cats.Pages[0].Data.Categories[0].NameRaw)
	assert.Equal(t, "Pasta", cats.Pages[1].Data.Categories[0].Subcategories[0].NameRaw)
	assert.Len(t, gw.Calls(), 2)
}

func TestRunner_Items_OneCallPerTopLevelCategory(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 4, schema.ModeStrict)
	cats := runCategories(t, r)
	gw.Reset()

	items, err := r.Items(context.Background(), testPages(2), *cats)
	require.NoError(t, err)

	calls := gw.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Appetizers", calls[0].Category)
	assert.Equal(t, 1, calls[0].Page)
	assert.Equal(t, "Entrees", calls[1].Category)
	assert.Equal(t, 2, calls[1].Page)
	for _, c := range calls {
		assert.NotEqual(t, "Pasta", c.Category, "subcategories are never called directly")
	}
	// The subcategory travels inside its parent's prompt.
	assert.Contains(t, calls[1].Prompt, "Pasta")
	// Only the unit's own category is sent.
	assert.NotContains(t, calls[1].Prompt, "Appetizers")

	require.Len(t, items.Pages, 2)
	assert.Equal(t, "Entrees", items.Pages[1].Categories[0].NameRaw)
	assert.Equal(t, "House Entrees", items.Pages[1].Categories[0].CategoryItems[0].Items[0].NameRaw)
}

func TestRunner_Items_OrderAndCeiling(t *testing.T) {
	gw := newFakeGateway()
	gw.delay = 5 * time.Millisecond
	r := newTestRunner(t, gw, 3, schema.ModeStrict)

	var refs []model.CategoryRef
	for i := 0; i < 12; i++ {
		refs = append(refs, model.CategoryRef{NameRaw: fmt.Sprintf("Cat %02d", i)})
	}
	cats := model.CategoriesArtifact{
		RestaurantName: "Zia",
		Pages:          []model.CategoriesPage{{PageNumber: 1, Data: model.Categories{Categories: refs}}},
	}

	items, err := r.Items(context.Background(), testPages(1), cats)
	require.NoError(t, err)
	require.Len(t, items.Pages[0].Categories, 12)
	for i, c := range items.Pages[0].Categories {
		assert.Equal(t, fmt.Sprintf("Cat %02d", i), c.NameRaw)
	}
	assert.LessOrEqual(t, int(gw.peak.Load()), 3)
	assert.Greater(t, int(gw.peak.Load()), 1)
}

func TestRunner_Items_FailFastCarriesUnit(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 4, schema.ModeStrict)
	cats := runCategories(t, r)

	gw.respond = func(c call) (string, error) {
		if c.Category == "Entrees" {
			return `{"name_raw": "Entrees", `, nil
		}
		return defaultResponse(c)
	}

	items, err := r.Items(context.Background(), testPages(2), *cats)
	require.Error(t, err)
	assert.Nil(t, items)
	assert.True(t, apperr.IsDecode(err))

	stage, page, category := apperr.Unit(err)
	assert.Equal(t, int(model.StageItems), stage)
	assert.Equal(t, 2, page)
	assert.Equal(t, "Entrees", category)
}

func TestRunner_Items_PagesRunSequentially(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 4, schema.ModeStrict)
	cats := runCategories(t, r)
	gw.Reset()

	// Page 1 fails; page 2's batch must never be submitted.
	gw.respond = func(c call) (string, error) {
		if c.Page == 1 {
			return "", apperr.Transport(fmt.Errorf("connection reset"), "openrouter call failed")
		}
		return defaultResponse(c)
	}

	_, err := r.Items(context.Background(), testPages(2), *cats)
	require.Error(t, err)
	assert.True(t, apperr.IsTransport(err))
	for _, c := range gw.Calls() {
		assert.Equal(t, 1, c.Page)
	}
}

func TestRunner_StrictRejectsUnknownField(t *testing.T) {
	extra := func(c call) (string, error) {
		if c.Schema == "CategoryBase" {
			return fmt.Sprintf(`{"name_raw":%q,"base_options":[],"subcategories_base":[],"confidence":0.9}`, c.Category), nil
		}
		return defaultResponse(c)
	}

	t.Run("strict", func(t *testing.T) {
		gw := newFakeGateway()
		gw.respond = extra
		r := newTestRunner(t, gw, 4, schema.ModeStrict)
		cats := runCategories(t, r)
		items, err := r.Items(context.Background(), testPages(2), *cats)
		require.NoError(t, err)

		_, err = r.Bases(context.Background(), testPages(2), *items)
		require.Error(t, err)
		assert.True(t, apperr.IsSchemaValidation(err))
		stage, _, _ := apperr.Unit(err)
		assert.Equal(t, int(model.StageBases), stage)
	})

	t.Run("lenient", func(t *testing.T) {
		gw := newFakeGateway()
		gw.respond = extra
		r := newTestRunner(t, gw, 4, schema.ModeLenient)
		cats := runCategories(t, r)
		items, err := r.Items(context.Background(), testPages(2), *cats)
		require.NoError(t, err)

		bases, err := r.Bases(context.Background(), testPages(2), *items)
		require.NoError(t, err)
		assert.Equal(t, "Appetizers", bases.Pages[0].Categories[0].NameRaw)
	})
}

func TestRunner_Addons(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 4, schema.ModeStrict)
	cats := runCategories(t, r)
	items, err := r.Items(context.Background(), testPages(2), *cats)
	require.NoError(t, err)
	bases, err := r.Bases(context.Background(), testPages(2), *items)
	require.NoError(t, err)
	gw.Reset()

	addons, err := r.Addons(context.Background(), testPages(2), *items, *bases)
	require.NoError(t, err)
	require.Len(t, addons.Pages, 2)
	assert.Equal(t, "Extra cheese", addons.Pages[0].Categories[0].ItemsAddons[0].Addons[0].NameRaw)

	calls := gw.Calls()
	require.Len(t, calls, 2)
	// Both the stage-2 and stage-3 unit are in the prompt.
	assert.Contains(t, calls[0].Prompt, `"category_base"`)
	assert.Contains(t, calls[0].Prompt, "House Appetizers")
}

func TestRunner_Addons_MismatchIsHardError(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 4, schema.ModeStrict)
	cats := runCategories(t, r)
	items, err := r.Items(context.Background(), testPages(2), *cats)
	require.NoError(t, err)
	bases, err := r.Bases(context.Background(), testPages(2), *items)
	require.NoError(t, err)
	gw.Reset()

	bases.Pages[1].Categories[0].NameRaw = "Mains"
	_, err = r.Addons(context.Background(), testPages(2), *items, *bases)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Empty(t, gw.Calls())
}

func TestRunner_MissingPageImage(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 4, schema.ModeStrict)
	cats := runCategories(t, r)

	_, err := r.Items(context.Background(), testPages(1), *cats)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	_, page, _ := apperr.Unit(err)
	assert.Equal(t, 2, page)
}

func TestRunner_ReextractItems(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 4, schema.ModeStrict)
	cats := runCategories(t, r)
	gw.Reset()

	unit, err := r.ReextractItems(context.Background(), testPages(2), *cats, 2, "Entrees")
	require.NoError(t, err)
	assert.Equal(t, "Entrees", unit.NameRaw)
	require.Len(t, gw.Calls(), 1)
	assert.Equal(t, 2, gw.Calls()[0].Page)
}

func TestRunner_ReextractNotFound(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 4, schema.ModeStrict)
	cats := runCategories(t, r)
	gw.Reset()

	_, err := r.ReextractItems(context.Background(), testPages(2), *cats, 3, "Entrees")
	assert.True(t, apperr.IsNotFound(err))

	// Case-sensitive, no fuzzy match.
	_, err = r.ReextractItems(context.Background(), testPages(2), *cats, 2, "entrees")
	assert.True(t, apperr.IsNotFound(err))
	_, _, category := apperr.Unit(err)
	assert.Equal(t, "entrees", category)

	assert.Empty(t, gw.Calls())
}

func TestRunner_ReextractAddonsNeedsBothSides(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 4, schema.ModeStrict)
	cats := runCategories(t, r)
	items, err := r.Items(context.Background(), testPages(2), *cats)
	require.NoError(t, err)
	bases, err := r.Bases(context.Background(), testPages(2), *items)
	require.NoError(t, err)

	bases.Pages[0].Categories[0].NameRaw = "Starters"
	_, err = r.ReextractAddons(context.Background(), testPages(2), *items, *bases, 1, "Appetizers")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	stage, _, _ := apperr.Unit(err)
	assert.Equal(t, int(model.StageBases), stage)

	unit, err := r.ReextractAddons(context.Background(), testPages(2), *items, *bases, 2, "Entrees")
	require.NoError(t, err)
	assert.Equal(t, "Entrees", unit.NameRaw)
}

func TestRunner_ReextractCategories(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRunner(t, gw, 1, schema.ModeStrict)

	unit, err := r.ReextractCategories(context.Background(), "Zia", testPages(2), 2)
	require.NoError(t, err)
	assert.Equal(t, "Entrees", unit.Categories[0].NameRaw)
	assert.True(t, strings.Contains(gw.Calls()[0].Prompt, "page 2"))

	_, err = r.ReextractCategories(context.Background(), "Zia", testPages(2), 0)
	assert.True(t, apperr.IsNotFound(err))
}

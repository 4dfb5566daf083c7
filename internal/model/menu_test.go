package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryWithItems_Defaults(t *testing.T) {
	t.Parallel()

	var c CategoryWithItems
	require.NoError(t, json.Unmarshal([]byte(`{"name_raw":"Entrees"}`), &c))

	assert.Equal(t, "Entrees", c.NameRaw)
	require.NotNil(t, c.Note)
	assert.Equal(t, DefaultNote, *c.Note)
	assert.NotNil(t, c.CategoryItems)
	assert.NotNil(t, c.SubcategoryItems)

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name_raw":"Entrees","category_items":[],"subcategory_items":[],"note":"No notes provided"}`, string(out))
}

func TestCategoryWithItems_ExplicitNote(t *testing.T) {
	t.Parallel()

	var c CategoryWithItems
	require.NoError(t, json.Unmarshal([]byte(`{"name_raw":"Pasta","note":"served with bread"}`), &c))
	assert.Equal(t, "served with bread", *c.Note)
}

func TestCategoryRef_DefaultSubcategories(t *testing.T) {
	t.Parallel()

	var cats Categories
	require.NoError(t, json.Unmarshal([]byte(`{"categories":[{"name_raw":"Appetizers"}]}`), &cats))
	require.Len(t, cats.Categories, 1)
	assert.Equal(t, []SubcategoryRef{}, cats.Categories[0].Subcategories)
}

func TestBaseOption_NullablePriceByVariation(t *testing.T) {
	t.Parallel()

	var b CategoryBase
	require.NoError(t, json.Unmarshal([]byte(`{"name_raw":"Pizza","base_options":[{"name_raw":"Thin crust","default":true}]}`), &b))
	require.Len(t, b.BaseOptions, 1)
	assert.True(t, b.BaseOptions[0].Default)
	assert.Nil(t, b.BaseOptions[0].PriceByVariation)
	assert.Equal(t, []BaseOption{}, b.SubcategoriesBase)
}

func TestEnvelope_JSONShape(t *testing.T) {
	t.Parallel()

	env := CategoriesArtifact{
		RestaurantName: "Luigi's",
		Pages: []CategoriesPage{{
			PageNumber: 1,
			Data:       Categories{Categories: []CategoryRef{{NameRaw: "Appetizers", Subcategories: []SubcategoryRef{}}}},
		}},
	}
	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"restaurant_name":"Luigi's","pages":[{"page_number":1,"data":{"categories":[{"name_raw":"Appetizers","subcategories":[]}]}}]}`, string(out))
}

package model

import "encoding/json"

// DefaultNote is the note assigned to a CategoryWithItems when the response omits one.
const DefaultNote = "No notes provided"

// Money is a price as printed on the menu.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency *string `json:"currency"`
}

// PriceByVariation prices an option per item variation. VariationName must
// equal a stage-2 variation name exactly.
type PriceByVariation struct {
	VariationName string `json:"variation_name"`
	Price         *Money `json:"price"`
}

// SubcategoryRef names a subcategory discovered on a page.
type SubcategoryRef struct {
	NameRaw string `json:"name_raw"`
}

// CategoryRef is the stage-1 unit: a top-level category and its subcategories.
type CategoryRef struct {
	NameRaw       string           `json:"name_raw"`
	Subcategories []SubcategoryRef `json:"subcategories"`
}

func (c *CategoryRef) UnmarshalJSON(b []byte) error {
	type alias CategoryRef
	a := alias{Subcategories: []SubcategoryRef{}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*c = CategoryRef(a)
	return nil
}

// Categories is the stage-1 payload for one page.
type Categories struct {
	Categories []CategoryRef `json:"categories"`
}

func (c *Categories) UnmarshalJSON(b []byte) error {
	type alias Categories
	a := alias{Categories: []CategoryRef{}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*c = Categories(a)
	return nil
}

// Variation is a size or variant of an item.
type Variation struct {
	NameRaw string  `json:"name_raw"`
	Price   *Money  `json:"price"`
	Size    *string `json:"size"`
}

// Item is a single menu item.
type Item struct {
	NameRaw        string      `json:"name_raw"`
	DescriptionRaw *string     `json:"description_raw"`
	Variations     []Variation `json:"variations"`
	BasePrice      *Money      `json:"base_price"`
	Size           *string     `json:"size"`
}

func (it *Item) UnmarshalJSON(b []byte) error {
	type alias Item
	a := alias{Variations: []Variation{}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*it = Item(a)
	return nil
}

// CategoryItems holds items listed directly under a category.
type CategoryItems struct {
	Items          []Item  `json:"items"`
	DescriptionRaw *string `json:"description_raw"`
}

func (ci *CategoryItems) UnmarshalJSON(b []byte) error {
	type alias CategoryItems
	a := alias{Items: []Item{}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*ci = CategoryItems(a)
	return nil
}

// SubcategoryItems holds items listed under a named subcategory.
type SubcategoryItems struct {
	NameRaw        string  `json:"name_raw"`
	Items          []Item  `json:"items"`
	DescriptionRaw *string `json:"description_raw"`
}

func (si *SubcategoryItems) UnmarshalJSON(b []byte) error {
	type alias SubcategoryItems
	a := alias{Items: []Item{}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*si = SubcategoryItems(a)
	return nil
}

// CategoryWithItems is the stage-2 unit.
type CategoryWithItems struct {
	NameRaw          string             `json:"name_raw"`
	CategoryItems    []CategoryItems    `json:"category_items"`
	SubcategoryItems []SubcategoryItems `json:"subcategory_items"`
	Note             *string            `json:"note"`
}

func (c *CategoryWithItems) UnmarshalJSON(b []byte) error {
	type alias CategoryWithItems
	note := DefaultNote
	a := alias{
		CategoryItems:    []CategoryItems{},
		SubcategoryItems: []SubcategoryItems{},
		Note:             &note,
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*c = CategoryWithItems(a)
	return nil
}

// BaseOption is a base or pricing choice for a category.
type BaseOption struct {
	NameRaw          string             `json:"name_raw"`
	Price            *Money             `json:"price"`
	Default          bool               `json:"default"`
	PriceByVariation []PriceByVariation `json:"price_by_variation"`
}

// CategoryBase is the stage-3 unit.
type CategoryBase struct {
	NameRaw           string       `json:"name_raw"`
	BaseOptions       []BaseOption `json:"base_options"`
	SubcategoriesBase []BaseOption `json:"subcategories_base"`
}

func (c *CategoryBase) UnmarshalJSON(b []byte) error {
	type alias CategoryBase
	a := alias{BaseOptions: []BaseOption{}, SubcategoriesBase: []BaseOption{}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*c = CategoryBase(a)
	return nil
}

// AddonOption is an add-on available for an item.
type AddonOption struct {
	NameRaw          string             `json:"name_raw"`
	Default          bool               `json:"default"`
	Price            *Money             `json:"price"`
	PriceByVariation []PriceByVariation `json:"price_by_variation"`
}

func (o *AddonOption) UnmarshalJSON(b []byte) error {
	type alias AddonOption
	a := alias{PriceByVariation: []PriceByVariation{}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*o = AddonOption(a)
	return nil
}

// ItemAddons lists the add-ons of one item.
type ItemAddons struct {
	NameRaw string        `json:"name_raw"`
	Addons  []AddonOption `json:"addons"`
}

func (ia *ItemAddons) UnmarshalJSON(b []byte) error {
	type alias ItemAddons
	a := alias{Addons: []AddonOption{}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*ia = ItemAddons(a)
	return nil
}

// SubcategoryAddons lists item add-ons within a subcategory.
type SubcategoryAddons struct {
	NameRaw     string       `json:"name_raw"`
	ItemsAddons []ItemAddons `json:"items_addons"`
}

func (sa *SubcategoryAddons) UnmarshalJSON(b []byte) error {
	type alias SubcategoryAddons
	a := alias{ItemsAddons: []ItemAddons{}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*sa = SubcategoryAddons(a)
	return nil
}

// CategoryItemAddons is the stage-4 unit.
type CategoryItemAddons struct {
	NameRaw          string              `json:"name_raw"`
	ItemsAddons      []ItemAddons        `json:"items_addons"`
	SubcategoryItems []SubcategoryAddons `json:"subcategory_items"`
}

func (c *CategoryItemAddons) UnmarshalJSON(b []byte) error {
	type alias CategoryItemAddons
	a := alias{ItemsAddons: []ItemAddons{}, SubcategoryItems: []SubcategoryAddons{}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*c = CategoryItemAddons(a)
	return nil
}

// Name returns the correlation key of each unit type.
func (c CategoryRef) Name() string        { return c.NameRaw }
func (c CategoryWithItems) Name() string  { return c.NameRaw }
func (c CategoryBase) Name() string       { return c.NameRaw }
func (c CategoryItemAddons) Name() string { return c.NameRaw }

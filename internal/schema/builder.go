package schema

// builder assembles JSON Schema documents as plain maps so the same tree can
// be compiled for validation and handed to an inference backend as-is.
type builder struct {
	strict bool
}

type props map[string]any

func (b builder) object(p props, required ...string) map[string]any {
	o := map[string]any{
		"type":       "object",
		"properties": map[string]any(p),
	}
	if len(required) > 0 {
		o["required"] = required
	}
	if b.strict {
		o["additionalProperties"] = false
	}
	return o
}

func array(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func nullable(s map[string]any) map[string]any {
	return map[string]any{"anyOf": []any{s, map[string]any{"type": "null"}}}
}

func str() map[string]any     { return map[string]any{"type": "string"} }
func num() map[string]any     { return map[string]any{"type": "number"} }
func integer() map[string]any { return map[string]any{"type": "integer"} }
func boolean() map[string]any { return map[string]any{"type": "boolean"} }

func (b builder) money() map[string]any {
	return b.object(props{
		"amount":   num(),
		"currency": nullable(str()),
	}, "amount")
}

func (b builder) priceByVariation() map[string]any {
	return b.object(props{
		"variation_name": str(),
		"price":          nullable(b.money()),
	}, "variation_name")
}

// categories is the stage-1 page payload.
func (b builder) categories() map[string]any {
	sub := b.object(props{"name_raw": str()}, "name_raw")
	ref := b.object(props{
		"name_raw":      str(),
		"subcategories": array(sub),
	}, "name_raw")
	return b.object(props{"categories": array(ref)})
}

func (b builder) item() map[string]any {
	variation := b.object(props{
		"name_raw": str(),
		"price":    nullable(b.money()),
		"size":     nullable(str()),
	}, "name_raw")
	return b.object(props{
		"name_raw":        str(),
		"description_raw": nullable(str()),
		"variations":      array(variation),
		"base_price":      nullable(b.money()),
		"size":            nullable(str()),
	}, "name_raw")
}

func (b builder) categoryWithItems() map[string]any {
	categoryItems := b.object(props{
		"items":           array(b.item()),
		"description_raw": nullable(str()),
	})
	subcategoryItems := b.object(props{
		"name_raw":        str(),
		"items":           array(b.item()),
		"description_raw": nullable(str()),
	}, "name_raw")
	return b.object(props{
		"name_raw":          str(),
		"category_items":    array(categoryItems),
		"subcategory_items": array(subcategoryItems),
		"note":              nullable(str()),
	}, "name_raw")
}

func (b builder) baseOption() map[string]any {
	return b.object(props{
		"name_raw":           str(),
		"price":              nullable(b.money()),
		"default":            boolean(),
		"price_by_variation": nullable(array(b.priceByVariation())),
	}, "name_raw")
}

func (b builder) categoryBase() map[string]any {
	return b.object(props{
		"name_raw":           str(),
		"base_options":       nullable(array(b.baseOption())),
		"subcategories_base": nullable(array(b.baseOption())),
	}, "name_raw")
}

func (b builder) itemAddons() map[string]any {
	addon := b.object(props{
		"name_raw":           str(),
		"default":            boolean(),
		"price":              nullable(b.money()),
		"price_by_variation": nullable(array(b.priceByVariation())),
	}, "name_raw")
	return b.object(props{
		"name_raw": str(),
		"addons":   array(addon),
	}, "name_raw")
}

func (b builder) categoryItemAddons() map[string]any {
	subcategory := b.object(props{
		"name_raw":     str(),
		"items_addons": nullable(array(b.itemAddons())),
	}, "name_raw")
	return b.object(props{
		"name_raw":          str(),
		"items_addons":      nullable(array(b.itemAddons())),
		"subcategory_items": nullable(array(subcategory)),
	}, "name_raw")
}

// envelope wraps a stage's page payload in the shared artifact shape.
func (b builder) envelope(pageProps props, pageRequired ...string) map[string]any {
	page := b.object(pageProps, pageRequired...)
	return b.object(props{
		"restaurant_name": str(),
		"pages":           array(page),
	}, "restaurant_name", "pages")
}

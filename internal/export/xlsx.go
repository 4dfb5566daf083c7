package export

import (
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/menu-extractor/internal/model"
)

// XLSX writes the artifact as a single worksheet named after the stage,
// one row per leaf: subcategory, item variation, base option or add-on.
func XLSX(w io.Writer, stage model.Stage, data []byte) error {
	art, err := decode(stage, data)
	if err != nil {
		return err
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(stage.String())
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	var rows [][]any
	switch a := art.(type) {
	case *model.CategoriesArtifact:
		rows = categoryRows(a)
	case *model.ItemsArtifact:
		rows = itemRows(a)
	case *model.BasesArtifact:
		rows = baseRows(a)
	case *model.AddonsArtifact:
		rows = addonRows(a)
	}
	for _, r := range rows {
		writeRow(sheet.AddRow(), r)
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func writeRow(row *xlsx.Row, values []any) {
	for _, v := range values {
		cell := row.AddCell()
		switch x := v.(type) {
		case int:
			cell.SetInt(x)
		case float64:
			cell.SetFloat(x)
		case bool:
			cell.SetBool(x)
		case *float64:
			if x != nil {
				cell.SetFloat(*x)
			}
		case string:
			cell.SetString(x)
		}
	}
}

func categoryRows(a *model.CategoriesArtifact) [][]any {
	rows := [][]any{{"page", "category", "subcategory"}}
	for _, p := range a.Pages {
		for _, c := range p.Data.Categories {
			if len(c.Subcategories) == 0 {
				rows = append(rows, []any{p.PageNumber, c.NameRaw, ""})
				continue
			}
			for _, s := range c.Subcategories {
				rows = append(rows, []any{p.PageNumber, c.NameRaw, s.NameRaw})
			}
		}
	}
	return rows
}

func itemRows(a *model.ItemsArtifact) [][]any {
	rows := [][]any{{"page", "category", "subcategory", "item", "description", "variation", "price", "currency", "size"}}
	add := func(page int, category, subcategory string, it model.Item) {
		desc := deref(it.DescriptionRaw)
		if len(it.Variations) == 0 {
			amount, currency := money(it.BasePrice)
			rows = append(rows, []any{page, category, subcategory, it.NameRaw, desc, "", amount, currency, deref(it.Size)})
			return
		}
		for _, v := range it.Variations {
			amount, currency := money(v.Price)
			size := deref(v.Size)
			if size == "" {
				size = deref(it.Size)
			}
			rows = append(rows, []any{page, category, subcategory, it.NameRaw, desc, v.NameRaw, amount, currency, size})
		}
	}
	for _, p := range a.Pages {
		for _, c := range p.Categories {
			for _, ci := range c.CategoryItems {
				for _, it := range ci.Items {
					add(p.PageNumber, c.NameRaw, "", it)
				}
			}
			for _, si := range c.SubcategoryItems {
				for _, it := range si.Items {
					add(p.PageNumber, c.NameRaw, si.NameRaw, it)
				}
			}
		}
	}
	return rows
}

func baseRows(a *model.BasesArtifact) [][]any {
	rows := [][]any{{"page", "category", "scope", "option", "default", "price", "currency", "price_by_variation"}}
	add := func(page int, category, scope string, o model.BaseOption) {
		amount, currency := money(o.Price)
		rows = append(rows, []any{page, category, scope, o.NameRaw, o.Default, amount, currency, byVariation(o.PriceByVariation)})
	}
	for _, p := range a.Pages {
		for _, c := range p.Categories {
			for _, o := range c.BaseOptions {
				add(p.PageNumber, c.NameRaw, "category", o)
			}
			for _, o := range c.SubcategoriesBase {
				add(p.PageNumber, c.NameRaw, "subcategories", o)
			}
		}
	}
	return rows
}

func addonRows(a *model.AddonsArtifact) [][]any {
	rows := [][]any{{"page", "category", "subcategory", "item", "addon", "default", "price", "currency", "price_by_variation"}}
	add := func(page int, category, subcategory string, ia model.ItemAddons) {
		for _, o := range ia.Addons {
			amount, currency := money(o.Price)
			rows = append(rows, []any{page, category, subcategory, ia.NameRaw, o.NameRaw, o.Default, amount, currency, byVariation(o.PriceByVariation)})
		}
	}
	for _, p := range a.Pages {
		for _, c := range p.Categories {
			for _, ia := range c.ItemsAddons {
				add(p.PageNumber, c.NameRaw, "", ia)
			}
			for _, s := range c.SubcategoryItems {
				for _, ia := range s.ItemsAddons {
					add(p.PageNumber, c.NameRaw, s.NameRaw, ia)
				}
			}
		}
	}
	return rows
}

func money(m *model.Money) (*float64, string) {
	if m == nil {
		return nil, ""
	}
	amount := m.Amount
	return &amount, deref(m.Currency)
}

// byVariation renders per-variation prices as "Large=12.5; Small=10".
func byVariation(pv []model.PriceByVariation) string {
	parts := make([]string, 0, len(pv))
	for _, v := range pv {
		price := ""
		if v.Price != nil {
			price = strconv.FormatFloat(v.Price.Amount, 'f', -1, 64)
		}
		parts = append(parts, v.VariationName+"="+price)
	}
	return strings.Join(parts, "; ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Package prompt renders the per-unit prompts sent with each page image.
// Templates are embedded; a template referencing a value the caller did not
// supply fails to render rather than producing an empty field.
package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/menu-extractor/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Renderer renders stage prompts. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded templates. Besides the sprig functions, templates
// get toUnitJson, which renders a unit as indented JSON without HTML escaping.
func New() (*Renderer, error) {
	tmpl, err := template.New("prompts").
		Funcs(sprig.TxtFuncMap()).
		Funcs(template.FuncMap{"toUnitJson": unitJSON}).
		Option("missingkey=error").
		ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, eris.Wrap(err, "prompt: parse templates")
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Categories renders the stage-1 prompt for one page.
func (r *Renderer) Categories(restaurant string, page int) (string, error) {
	return r.render("categories.tmpl", map[string]any{
		"RestaurantName": restaurant,
		"PageNumber":     page,
	})
}

// Items renders the stage-2 prompt for a single stage-1 category. Only that
// category is included, never the whole page.
func (r *Renderer) Items(restaurant string, page int, category model.CategoryRef) (string, error) {
	return r.render("items.tmpl", map[string]any{
		"RestaurantName": restaurant,
		"PageNumber":     page,
		"Category":       category,
	})
}

// Bases renders the stage-3 prompt for a single stage-2 category.
func (r *Renderer) Bases(restaurant string, page int, category model.CategoryWithItems) (string, error) {
	return r.render("bases.tmpl", map[string]any{
		"RestaurantName": restaurant,
		"PageNumber":     page,
		"Category":       category,
	})
}

// Addons renders the stage-4 prompt for a stage-2 category and its stage-3
// counterpart.
func (r *Renderer) Addons(restaurant string, page int, category model.CategoryWithItems, base model.CategoryBase) (string, error) {
	return r.render("addons.tmpl", map[string]any{
		"RestaurantName": restaurant,
		"PageNumber":     page,
		"Category":       category,
		"CategoryBase":   base,
	})
}

func (r *Renderer) render(name string, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", eris.Wrapf(err, "prompt: render %s", name)
	}
	return buf.String(), nil
}

// unitJSON renders v as two-space indented JSON with non-ASCII and HTML
// characters kept verbatim. sprig's toPrettyJson escapes "&".
func unitJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", eris.Wrap(err, "prompt: encode unit")
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

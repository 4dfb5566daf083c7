// Package correlate matches units across stages. Matching is by exact,
// case-sensitive name_raw equality; there is no fuzzy fallback, so a unit
// renamed between stages is reported as not found.
package correlate

import (
	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/model"
)

// Named is a unit carrying a correlation key.
type Named interface {
	Name() string
}

// FindPage returns the page numbered n.
func FindPage[P model.PageNumbered](pages []P, n int) (P, error) {
	for _, p := range pages {
		if p.Number() == n {
			return p, nil
		}
	}
	var zero P
	return zero, apperr.At(apperr.NotFound("page %d not found", n), 0, n, "")
}

// FindCategory returns the unit named name and its position within units.
func FindCategory[U Named](units []U, name string) (U, int, error) {
	for i, u := range units {
		if u.Name() == name {
			return u, i, nil
		}
	}
	var zero U
	return zero, -1, apperr.At(apperr.NotFound("category %q not found", name), 0, 0, name)
}

// Pair is a stage-2 category and its stage-3 counterpart.
type Pair struct {
	Items model.CategoryWithItems
	Base  model.CategoryBase
}

// PagePairs holds the zipped categories of one page.
type PagePairs struct {
	PageNumber int
	Pairs      []Pair
}

// Zip pairs stage-2 and stage-3 categories positionally, page by page. Both
// lists descend from the same stage-1 list, so any difference in page count,
// page number, category count or name at a position means one side was
// regenerated or edited independently; that is reported as not found rather
// than paired.
func Zip(items model.ItemsArtifact, bases model.BasesArtifact) ([]PagePairs, error) {
	if len(items.Pages) != len(bases.Pages) {
		return nil, apperr.At(apperr.NotFound(
			"%s has %d pages but %s has %d",
			model.StageItems, len(items.Pages), model.StageBases, len(bases.Pages),
		), int(model.StageAddons), 0, "")
	}

	out := make([]PagePairs, 0, len(items.Pages))
	for i, ip := range items.Pages {
		bp := bases.Pages[i]
		if ip.PageNumber != bp.PageNumber {
			return nil, apperr.At(apperr.NotFound(
				"page order differs: %s page %d is paired with %s page %d",
				model.StageItems, ip.PageNumber, model.StageBases, bp.PageNumber,
			), int(model.StageAddons), ip.PageNumber, "")
		}
		pairs, err := ZipPage(ip, bp)
		if err != nil {
			return nil, err
		}
		out = append(out, PagePairs{PageNumber: ip.PageNumber, Pairs: pairs})
	}
	return out, nil
}

// ZipPage pairs the categories of a single page.
func ZipPage(items model.CategoryPage[model.CategoryWithItems], bases model.CategoryPage[model.CategoryBase]) ([]Pair, error) {
	if len(items.Categories) != len(bases.Categories) {
		return nil, apperr.At(apperr.NotFound(
			"%s lists %d categories but %s lists %d",
			model.StageItems, len(items.Categories), model.StageBases, len(bases.Categories),
		), int(model.StageAddons), items.PageNumber, "")
	}
	pairs := make([]Pair, len(items.Categories))
	for j, c := range items.Categories {
		b := bases.Categories[j]
		if c.NameRaw != b.NameRaw {
			return nil, apperr.At(apperr.NotFound(
				"category %d is %q in %s but %q in %s",
				j+1, c.NameRaw, model.StageItems, b.NameRaw, model.StageBases,
			), int(model.StageAddons), items.PageNumber, c.NameRaw)
		}
		pairs[j] = Pair{Items: c, Base: b}
	}
	return pairs, nil
}

// FindPair locates the stage-2 and stage-3 counterparts of one category on
// one page. Both must exist.
func FindPair(items model.ItemsArtifact, bases model.BasesArtifact, page int, name string) (Pair, error) {
	ip, err := FindPage(items.Pages, page)
	if err != nil {
		return Pair{}, apperr.At(err, int(model.StageItems), page, name)
	}
	bp, err := FindPage(bases.Pages, page)
	if err != nil {
		return Pair{}, apperr.At(err, int(model.StageBases), page, name)
	}
	c, _, err := FindCategory(ip.Categories, name)
	if err != nil {
		return Pair{}, apperr.At(err, int(model.StageItems), page, name)
	}
	b, _, err := FindCategory(bp.Categories, name)
	if err != nil {
		return Pair{}, apperr.At(err, int(model.StageBases), page, name)
	}
	return Pair{Items: c, Base: b}, nil
}

package pipeline

import (
	"context"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/correlate"
	"github.com/sells-group/menu-extractor/internal/fanout"
	"github.com/sells-group/menu-extractor/internal/model"
)

// Re-extraction runs exactly one unit of a stage. The result is returned to
// the caller and never merged into a stored artifact here; see
// Service.MergeUnit. Every call goes through the shared executor so the
// global ceiling still holds.

// ReextractCategories re-runs stage 1 for one page.
func (r *Runner) ReextractCategories(ctx context.Context, restaurant string, pages []model.PageImage, page int) (model.Categories, error) {
	img, err := pageImage(pages, model.StageCategories, page)
	if err != nil {
		return model.Categories{}, err
	}
	return fanout.Do(ctx, r.exec, func(ctx context.Context) (model.Categories, error) {
		return r.categoriesUnit(ctx, restaurant, img)
	})
}

// ReextractItems re-runs stage 2 for the category named name on page.
func (r *Runner) ReextractItems(ctx context.Context, pages []model.PageImage, cats model.CategoriesArtifact, page int, name string) (model.CategoryWithItems, error) {
	p, err := correlate.FindPage(cats.Pages, page)
	if err != nil {
		return model.CategoryWithItems{}, apperr.At(err, int(model.StageItems), page, name)
	}
	c, _, err := correlate.FindCategory(p.Data.Categories, name)
	if err != nil {
		return model.CategoryWithItems{}, apperr.At(err, int(model.StageItems), page, name)
	}
	img, err := pageImage(pages, model.StageItems, page)
	if err != nil {
		return model.CategoryWithItems{}, err
	}
	return fanout.Do(ctx, r.exec, func(ctx context.Context) (model.CategoryWithItems, error) {
		return r.itemsUnit(ctx, cats.RestaurantName, img, c)
	})
}

// ReextractBases re-runs stage 3 for the category named name on page.
func (r *Runner) ReextractBases(ctx context.Context, pages []model.PageImage, items model.ItemsArtifact, page int, name string) (model.CategoryBase, error) {
	p, err := correlate.FindPage(items.Pages, page)
	if err != nil {
		return model.CategoryBase{}, apperr.At(err, int(model.StageBases), page, name)
	}
	c, _, err := correlate.FindCategory(p.Categories, name)
	if err != nil {
		return model.CategoryBase{}, apperr.At(err, int(model.StageBases), page, name)
	}
	img, err := pageImage(pages, model.StageBases, page)
	if err != nil {
		return model.CategoryBase{}, err
	}
	return fanout.Do(ctx, r.exec, func(ctx context.Context) (model.CategoryBase, error) {
		return r.basesUnit(ctx, items.RestaurantName, img, c)
	})
}

// ReextractAddons re-runs stage 4 for the category named name on page. Both
// its stage-2 and stage-3 counterparts must exist.
func (r *Runner) ReextractAddons(ctx context.Context, pages []model.PageImage, items model.ItemsArtifact, bases model.BasesArtifact, page int, name string) (model.CategoryItemAddons, error) {
	pair, err := correlate.FindPair(items, bases, page, name)
	if err != nil {
		return model.CategoryItemAddons{}, err
	}
	img, err := pageImage(pages, model.StageAddons, page)
	if err != nil {
		return model.CategoryItemAddons{}, err
	}
	return fanout.Do(ctx, r.exec, func(ctx context.Context) (model.CategoryItemAddons, error) {
		return r.addonsUnit(ctx, items.RestaurantName, img, pair)
	})
}

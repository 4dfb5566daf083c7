package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/correlate"
	"github.com/sells-group/menu-extractor/internal/fanout"
	"github.com/sells-group/menu-extractor/internal/gateway"
	"github.com/sells-group/menu-extractor/internal/model"
	"github.com/sells-group/menu-extractor/internal/prompt"
	"github.com/sells-group/menu-extractor/internal/schema"
)

// Runner executes the four extraction stages. It holds no per-run state;
// artifacts go in and come out by value.
type Runner struct {
	gw       gateway.Gateway
	exec     *fanout.Executor
	registry *schema.Registry
	prompts  *prompt.Renderer
}

// NewRunner creates a Runner. All calls it makes share exec's ceiling.
func NewRunner(gw gateway.Gateway, exec *fanout.Executor, registry *schema.Registry, prompts *prompt.Renderer) *Runner {
	return &Runner{gw: gw, exec: exec, registry: registry, prompts: prompts}
}

// Categories runs stage 1: one call per page, the whole document in one batch.
func (r *Runner) Categories(ctx context.Context, restaurant string, pages []model.PageImage) (*model.CategoriesArtifact, error) {
	log := zap.L().With(zap.String("restaurant", restaurant), zap.Stringer("stage", model.StageCategories))
	log.Info("pipeline: extracting categories", zap.Int("pages", len(pages)))

	out, err := fanout.Run(ctx, r.exec, pages, func(ctx context.Context, img model.PageImage) (model.CategoriesPage, error) {
		data, err := r.categoriesUnit(ctx, restaurant, img)
		if err != nil {
			return model.CategoriesPage{}, err
		}
		return model.CategoriesPage{PageNumber: img.PageNumber, Data: data}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("pipeline: categories complete")
	return &model.CategoriesArtifact{RestaurantName: restaurant, Pages: out}, nil
}

// Items runs stage 2. Pages run one after another; within a page there is
// one call per top-level category. Subcategories travel inside their parent's
// prompt and are never called on their own.
func (r *Runner) Items(ctx context.Context, pages []model.PageImage, cats model.CategoriesArtifact) (*model.ItemsArtifact, error) {
	log := zap.L().With(zap.String("restaurant", cats.RestaurantName), zap.Stringer("stage", model.StageItems))
	out := make([]model.CategoryPage[model.CategoryWithItems], 0, len(cats.Pages))

	for _, p := range cats.Pages {
		img, err := pageImage(pages, model.StageItems, p.PageNumber)
		if err != nil {
			return nil, err
		}
		log.Info("pipeline: extracting items", zap.Int("page", p.PageNumber), zap.Int("categories", len(p.Data.Categories)))

		units, err := fanout.Run(ctx, r.exec, p.Data.Categories, func(ctx context.Context, c model.CategoryRef) (model.CategoryWithItems, error) {
			return r.itemsUnit(ctx, cats.RestaurantName, img, c)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, model.CategoryPage[model.CategoryWithItems]{PageNumber: p.PageNumber, Categories: units})
	}

	return &model.ItemsArtifact{RestaurantName: cats.RestaurantName, Pages: out}, nil
}

// Bases runs stage 3 with the same page-sequential pattern as Items.
func (r *Runner) Bases(ctx context.Context, pages []model.PageImage, items model.ItemsArtifact) (*model.BasesArtifact, error) {
	log := zap.L().With(zap.String("restaurant", items.RestaurantName), zap.Stringer("stage", model.StageBases))
	out := make([]model.CategoryPage[model.CategoryBase], 0, len(items.Pages))

	for _, p := range items.Pages {
		img, err := pageImage(pages, model.StageBases, p.PageNumber)
		if err != nil {
			return nil, err
		}
		log.Info("pipeline: extracting base options", zap.Int("page", p.PageNumber), zap.Int("categories", len(p.Categories)))

		units, err := fanout.Run(ctx, r.exec, p.Categories, func(ctx context.Context, c model.CategoryWithItems) (model.CategoryBase, error) {
			return r.basesUnit(ctx, items.RestaurantName, img, c)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, model.CategoryPage[model.CategoryBase]{PageNumber: p.PageNumber, Categories: units})
	}

	return &model.BasesArtifact{RestaurantName: items.RestaurantName, Pages: out}, nil
}

// Addons runs stage 4. Stage-2 and stage-3 categories are paired by position;
// the pairing is checked before any call is made.
func (r *Runner) Addons(ctx context.Context, pages []model.PageImage, items model.ItemsArtifact, bases model.BasesArtifact) (*model.AddonsArtifact, error) {
	log := zap.L().With(zap.String("restaurant", items.RestaurantName), zap.Stringer("stage", model.StageAddons))

	zipped, err := correlate.Zip(items, bases)
	if err != nil {
		return nil, err
	}

	out := make([]model.CategoryPage[model.CategoryItemAddons], 0, len(zipped))
	for _, pp := range zipped {
		img, err := pageImage(pages, model.StageAddons, pp.PageNumber)
		if err != nil {
			return nil, err
		}
		log.Info("pipeline: extracting add-ons", zap.Int("page", pp.PageNumber), zap.Int("categories", len(pp.Pairs)))

		units, err := fanout.Run(ctx, r.exec, pp.Pairs, func(ctx context.Context, pair correlate.Pair) (model.CategoryItemAddons, error) {
			return r.addonsUnit(ctx, items.RestaurantName, img, pair)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, model.CategoryPage[model.CategoryItemAddons]{PageNumber: pp.PageNumber, Categories: units})
	}

	return &model.AddonsArtifact{RestaurantName: items.RestaurantName, Pages: out}, nil
}

func (r *Runner) categoriesUnit(ctx context.Context, restaurant string, img model.PageImage) (model.Categories, error) {
	text, err := r.prompts.Categories(restaurant, img.PageNumber)
	if err != nil {
		return model.Categories{}, err
	}
	return invoke[model.Categories](ctx, r, model.StageCategories, img, "", text)
}

func (r *Runner) itemsUnit(ctx context.Context, restaurant string, img model.PageImage, c model.CategoryRef) (model.CategoryWithItems, error) {
	text, err := r.prompts.Items(restaurant, img.PageNumber, c)
	if err != nil {
		return model.CategoryWithItems{}, err
	}
	return invoke[model.CategoryWithItems](ctx, r, model.StageItems, img, c.NameRaw, text)
}

func (r *Runner) basesUnit(ctx context.Context, restaurant string, img model.PageImage, c model.CategoryWithItems) (model.CategoryBase, error) {
	text, err := r.prompts.Bases(restaurant, img.PageNumber, c)
	if err != nil {
		return model.CategoryBase{}, err
	}
	return invoke[model.CategoryBase](ctx, r, model.StageBases, img, c.NameRaw, text)
}

func (r *Runner) addonsUnit(ctx context.Context, restaurant string, img model.PageImage, pair correlate.Pair) (model.CategoryItemAddons, error) {
	text, err := r.prompts.Addons(restaurant, img.PageNumber, pair.Items, pair.Base)
	if err != nil {
		return model.CategoryItemAddons{}, err
	}
	return invoke[model.CategoryItemAddons](ctx, r, model.StageAddons, img, pair.Items.NameRaw, text)
}

// invoke makes one gateway call and decodes the response as the stage's
// unit. Errors carry the stage, page and category.
func invoke[U any](ctx context.Context, r *Runner, stage model.Stage, img model.PageImage, category, text string) (U, error) {
	var zero U
	raw, err := r.gw.Invoke(ctx, gateway.Request{
		Prompt: text,
		Image:  img,
		Schema: r.registry.Descriptor(stage),
	})
	if err != nil {
		return zero, apperr.At(err, int(stage), img.PageNumber, category)
	}
	unit, err := schema.Decode[U](r.registry, stage, []byte(raw))
	if err != nil {
		zap.L().Warn("pipeline: rejected response",
			zap.Stringer("stage", stage),
			zap.Int("page", img.PageNumber),
			zap.String("category", category),
			zap.Error(err),
		)
		return zero, apperr.At(err, int(stage), img.PageNumber, category)
	}
	return unit, nil
}

// pageImage returns the image for page n. Page numbers are 1-based and dense.
func pageImage(pages []model.PageImage, stage model.Stage, n int) (model.PageImage, error) {
	if n < 1 || n > len(pages) {
		return model.PageImage{}, apperr.At(
			apperr.NotFound("page %d has no image (document has %d pages)", n, len(pages)),
			int(stage), n, "",
		)
	}
	return pages[n-1], nil
}

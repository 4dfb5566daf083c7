package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/correlate"
	"github.com/sells-group/menu-extractor/internal/model"
	"github.com/sells-group/menu-extractor/internal/render"
	"github.com/sells-group/menu-extractor/internal/schema"
	"github.com/sells-group/menu-extractor/internal/store"
)

// Service drives runs through the stage state machine and keeps downstream
// artifacts honest: whenever stage k is re-run or edited, every stage after
// k is marked stale and cannot be used as input until it is re-run.
type Service struct {
	store    store.Store
	runner   *Runner
	registry *schema.Registry
	renderer render.Renderer
}

// NewService creates a Service.
func NewService(st store.Store, runner *Runner, registry *schema.Registry, renderer render.Renderer) *Service {
	return &Service{store: st, runner: runner, registry: registry, renderer: renderer}
}

// RunStatus is a run together with the state of each stage.
type RunStatus struct {
	Run    model.Run          `json:"run"`
	Stages []model.StageState `json:"stages"`
}

// Upload rasterizes pdf and creates a run for it.
func (s *Service) Upload(ctx context.Context, restaurant string, pdf []byte) (*model.Run, error) {
	if restaurant == "" {
		return nil, apperr.SchemaValidation(nil, "restaurant name is required")
	}
	pages, err := s.renderer.RenderPages(ctx, pdf)
	if err != nil {
		return nil, apperr.Decode(err, "document could not be rendered")
	}

	run, err := s.store.CreateRun(ctx, restaurant, len(pages))
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveDocument(ctx, run.ID, store.Document{PDF: pdf, Pages: pages}); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: run created",
		zap.String("run_id", run.ID),
		zap.String("restaurant", restaurant),
		zap.Int("pages", len(pages)),
	)
	return run, nil
}

// Status returns the run and its stage states.
func (s *Service) Status(ctx context.Context, runID string) (*RunStatus, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	states, err := s.store.GetStageStates(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunStatus{Run: *run, Stages: states}, nil
}

// ListRuns lists runs, newest first.
func (s *Service) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	return s.store.ListRuns(ctx, filter)
}

// RunStage runs stage for the whole document and stores the artifact. The
// stage's previous artifact and every downstream artifact are stale from the
// moment the run starts; on failure the stage is left failed. If an upstream
// stage is edited or re-run while this one is in flight, the result is
// discarded with a conflict error.
func (s *Service) RunStage(ctx context.Context, runID string, stage model.Stage) (json.RawMessage, error) {
	if !stage.Valid() {
		return nil, apperr.NotFound("unknown stage %d", int(stage))
	}
	if s.runner == nil {
		return nil, apperr.Configuration("inference is not configured")
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.LoadDocument(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReady(ctx, runID, stage); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("run_id", runID), zap.Stringer("stage", stage))
	if err := s.store.SetStageStatus(ctx, runID, stage, model.StageStatusRunning, ""); err != nil {
		return nil, err
	}
	if err := s.store.MarkStale(ctx, runID, append([]model.Stage{stage}, stage.Downstream()...)...); err != nil {
		return nil, err
	}
	// Read the generation before the inputs: an upstream change after this
	// point moves it and the commit is refused.
	state, err := s.stageState(ctx, runID, stage)
	if err != nil {
		return nil, err
	}
	log.Info("pipeline: stage started", zap.Int64("generation", state.Generation))

	data, err := s.produce(ctx, run, doc.Pages, stage)
	if err == nil {
		err = s.commit(ctx, runID, stage, data, state.Generation)
	}
	if err != nil {
		log.Error("pipeline: stage failed", zap.Error(err))
		if ferr := s.store.FailStage(context.WithoutCancel(ctx), runID, stage, err.Error()); ferr != nil {
			log.Error("pipeline: record failure", zap.Error(ferr))
		}
		return nil, err
	}
	log.Info("pipeline: stage succeeded")
	return data, nil
}

// produce loads the stage's inputs, runs it and encodes the artifact.
func (s *Service) produce(ctx context.Context, run *model.Run, pages []model.PageImage, stage model.Stage) ([]byte, error) {
	in, err := s.loadInputs(ctx, run.ID, stage)
	if err != nil {
		return nil, err
	}
	art, err := s.execute(ctx, run, pages, stage, in)
	if err != nil {
		return nil, err
	}
	return marshalArtifact(stage, art)
}

// checkReady reports a missing input when a stage the given one consumes is
// not usable, without touching any state.
func (s *Service) checkReady(ctx context.Context, runID string, stage model.Stage) error {
	prev, ok := stage.Prev()
	if !ok {
		return nil
	}
	needed := []model.Stage{prev}
	if stage == model.StageAddons {
		needed = []model.Stage{model.StageItems, prev}
	}
	states, err := s.store.GetStageStates(ctx, runID)
	if err != nil {
		return err
	}
	for _, n := range needed {
		if st, ok := findState(states, n); !ok || !st.Usable() {
			return missingArtifact(n)
		}
	}
	return nil
}

func (s *Service) stageState(ctx context.Context, runID string, stage model.Stage) (model.StageState, error) {
	states, err := s.store.GetStageStates(ctx, runID)
	if err != nil {
		return model.StageState{}, err
	}
	st, ok := findState(states, stage)
	if !ok {
		return model.StageState{}, apperr.NotFound("no %s state for run %s", stage, runID)
	}
	return st, nil
}

func findState(states []model.StageState, stage model.Stage) (model.StageState, bool) {
	for _, st := range states {
		if st.Stage == stage {
			return st, true
		}
	}
	return model.StageState{}, false
}

func (s *Service) execute(ctx context.Context, run *model.Run, pages []model.PageImage, stage model.Stage, in inputs) (any, error) {
	switch stage {
	case model.StageCategories:
		return s.runner.Categories(ctx, run.RestaurantName, pages)
	case model.StageItems:
		return s.runner.Items(ctx, pages, in.categories)
	case model.StageBases:
		return s.runner.Bases(ctx, pages, in.items)
	default:
		return s.runner.Addons(ctx, pages, in.items, in.bases)
	}
}

// Artifact returns the stored artifact for stage. A stale artifact is
// reported as missing.
func (s *Service) Artifact(ctx context.Context, runID string, stage model.Stage) (json.RawMessage, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.usableArtifact(ctx, runID, stage)
}

// UpdateArtifact replaces the stage's artifact with a user edit. Every unit
// must satisfy the stage schema and every page must exist upstream; on
// success the stage is succeeded and all later stages are stale.
func (s *Service) UpdateArtifact(ctx context.Context, runID string, stage model.Stage, raw []byte) (json.RawMessage, error) {
	if !stage.Valid() {
		return nil, apperr.NotFound("unknown stage %d", int(stage))
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	state, err := s.stageState(ctx, runID, stage)
	if err != nil {
		return nil, err
	}

	data, pages, err := s.normalize(stage, raw)
	if err != nil {
		return nil, err
	}
	if err := s.checkPages(ctx, run, stage, pages); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, runID, stage, data, state.Generation); err != nil {
		return nil, err
	}
	zap.L().Info("pipeline: artifact edited", zap.String("run_id", runID), zap.Stringer("stage", stage))
	return data, nil
}

// Reextract runs one unit of stage again and returns it without storing it.
// For stage 1 the unit is a whole page and category is ignored.
func (s *Service) Reextract(ctx context.Context, runID string, stage model.Stage, page int, category string) (any, error) {
	if !stage.Valid() {
		return nil, apperr.NotFound("unknown stage %d", int(stage))
	}
	if s.runner == nil {
		return nil, apperr.Configuration("inference is not configured")
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.LoadDocument(ctx, runID)
	if err != nil {
		return nil, err
	}
	in, err := s.loadInputs(ctx, runID, stage)
	if err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: re-extracting unit",
		zap.String("run_id", runID),
		zap.Stringer("stage", stage),
		zap.Int("page", page),
		zap.String("category", category),
	)
	switch stage {
	case model.StageCategories:
		return s.runner.ReextractCategories(ctx, run.RestaurantName, doc.Pages, page)
	case model.StageItems:
		return s.runner.ReextractItems(ctx, doc.Pages, in.categories, page, category)
	case model.StageBases:
		return s.runner.ReextractBases(ctx, doc.Pages, in.items, page, category)
	default:
		return s.runner.ReextractAddons(ctx, doc.Pages, in.items, in.bases, page, category)
	}
}

// MergeUnit replaces one unit of the stage's stored artifact, matched by page
// and exact category name, and invalidates every later stage. For stage 1
// the unit is the page's category list.
func (s *Service) MergeUnit(ctx context.Context, runID string, stage model.Stage, page int, category string, unit []byte) (json.RawMessage, error) {
	if !stage.Valid() {
		return nil, apperr.NotFound("unknown stage %d", int(stage))
	}
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	state, err := s.stageState(ctx, runID, stage)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch stage {
	case model.StageCategories:
		data, err = s.mergeCategories(ctx, runID, page, unit)
	case model.StageItems:
		data, err = mergeUnit[model.CategoryWithItems](ctx, s, runID, stage, page, category, unit)
	case model.StageBases:
		data, err = mergeUnit[model.CategoryBase](ctx, s, runID, stage, page, category, unit)
	default:
		data, err = mergeUnit[model.CategoryItemAddons](ctx, s, runID, stage, page, category, unit)
	}
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, runID, stage, data, state.Generation); err != nil {
		return nil, err
	}
	zap.L().Info("pipeline: unit merged",
		zap.String("run_id", runID),
		zap.Stringer("stage", stage),
		zap.Int("page", page),
		zap.String("category", category),
	)
	return data, nil
}

func (s *Service) mergeCategories(ctx context.Context, runID string, page int, raw []byte) ([]byte, error) {
	art, err := loadArtifact[model.CategoriesArtifact](ctx, s, runID, model.StageCategories)
	if err != nil {
		return nil, err
	}
	unit, err := schema.Decode[model.Categories](s.registry, model.StageCategories, raw)
	if err != nil {
		return nil, err
	}
	for i := range art.Pages {
		if art.Pages[i].PageNumber == page {
			art.Pages[i].Data = unit
			return marshalArtifact(model.StageCategories, art)
		}
	}
	return nil, apperr.At(apperr.NotFound("page %d not found", page), int(model.StageCategories), page, "")
}

func mergeUnit[U correlate.Named](ctx context.Context, s *Service, runID string, stage model.Stage, page int, name string, raw []byte) ([]byte, error) {
	art, err := loadArtifact[model.Envelope[model.CategoryPage[U]]](ctx, s, runID, stage)
	if err != nil {
		return nil, err
	}
	unit, err := schema.Decode[U](s.registry, stage, raw)
	if err != nil {
		return nil, err
	}
	for i := range art.Pages {
		if art.Pages[i].PageNumber != page {
			continue
		}
		_, idx, err := correlate.FindCategory(art.Pages[i].Categories, name)
		if err != nil {
			return nil, apperr.At(err, int(stage), page, name)
		}
		art.Pages[i].Categories[idx] = unit
		return marshalArtifact(stage, art)
	}
	return nil, apperr.At(apperr.NotFound("page %d not found", page), int(stage), page, name)
}

// commit stores data as the stage's artifact if the stage is still at
// generation, marks it succeeded and every later stage stale.
func (s *Service) commit(ctx context.Context, runID string, stage model.Stage, data []byte, generation int64) error {
	if err := s.store.CommitArtifact(ctx, runID, stage, data, generation); err != nil {
		return err
	}
	if down := stage.Downstream(); len(down) > 0 {
		zap.L().Debug("pipeline: invalidated downstream",
			zap.String("run_id", runID),
			zap.Stringer("stage", stage),
			zap.Int("stages", len(down)),
		)
	}
	return nil
}

// inputs holds the upstream artifacts a stage consumes.
type inputs struct {
	categories model.CategoriesArtifact
	items      model.ItemsArtifact
	bases      model.BasesArtifact
}

func (s *Service) loadInputs(ctx context.Context, runID string, stage model.Stage) (inputs, error) {
	var (
		in  inputs
		err error
	)
	switch stage {
	case model.StageItems:
		in.categories, err = loadArtifact[model.CategoriesArtifact](ctx, s, runID, model.StageCategories)
	case model.StageBases:
		in.items, err = loadArtifact[model.ItemsArtifact](ctx, s, runID, model.StageItems)
	case model.StageAddons:
		if in.items, err = loadArtifact[model.ItemsArtifact](ctx, s, runID, model.StageItems); err != nil {
			return in, err
		}
		in.bases, err = loadArtifact[model.BasesArtifact](ctx, s, runID, model.StageBases)
	}
	return in, err
}

// usableArtifact returns the raw artifact, treating a stale one as missing.
func (s *Service) usableArtifact(ctx context.Context, runID string, stage model.Stage) ([]byte, error) {
	a, err := s.store.GetArtifact(ctx, runID, stage)
	if apperr.IsNotFound(err) || (err == nil && a.Stale) {
		return nil, missingArtifact(stage)
	}
	if err != nil {
		return nil, err
	}
	return a.Data, nil
}

func missingArtifact(stage model.Stage) error {
	return apperr.At(
		apperr.NotFound("required artifact not found: %s. Please complete previous stages.", stage),
		int(stage), 0, "",
	)
}

func loadArtifact[T any](ctx context.Context, s *Service, runID string, stage model.Stage) (T, error) {
	var out T
	raw, err := s.usableArtifact(ctx, runID, stage)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, apperr.At(apperr.Decode(err, "stored %s artifact is corrupt", stage), int(stage), 0, "")
	}
	return out, nil
}

// normalize validates an edited envelope and re-encodes it from the typed
// model, so lenient mode drops unknown fields and defaults are filled in.
func (s *Service) normalize(stage model.Stage, raw []byte) ([]byte, []int, error) {
	switch stage {
	case model.StageCategories:
		return normalizeAs[model.CategoriesPage](s.registry, stage, raw)
	case model.StageItems:
		return normalizeAs[model.CategoryPage[model.CategoryWithItems]](s.registry, stage, raw)
	case model.StageBases:
		return normalizeAs[model.CategoryPage[model.CategoryBase]](s.registry, stage, raw)
	default:
		return normalizeAs[model.CategoryPage[model.CategoryItemAddons]](s.registry, stage, raw)
	}
}

func normalizeAs[P model.PageNumbered](reg *schema.Registry, stage model.Stage, raw []byte) ([]byte, []int, error) {
	env, err := schema.DecodeArtifact[model.Envelope[P]](reg, stage, raw)
	if err != nil {
		return nil, nil, err
	}
	nums := make([]int, len(env.Pages))
	for i, p := range env.Pages {
		nums[i] = p.Number()
	}
	data, err := marshalArtifact(stage, env)
	return data, nums, err
}

// checkPages enforces page ordering and, for stages after the first, that
// every page exists in the stage-1 artifact.
func (s *Service) checkPages(ctx context.Context, run *model.Run, stage model.Stage, pages []int) error {
	for i := 1; i < len(pages); i++ {
		if pages[i] <= pages[i-1] {
			return apperr.At(
				apperr.SchemaValidation(nil, "pages must be ordered by page_number without duplicates"),
				int(stage), pages[i], "",
			)
		}
	}

	if stage == model.StageCategories {
		for _, n := range pages {
			if n < 1 || n > run.PageCount {
				return apperr.At(apperr.NotFound("page %d not in document (%d pages)", n, run.PageCount), int(stage), n, "")
			}
		}
		return nil
	}

	cats, err := loadArtifact[model.CategoriesArtifact](ctx, s, run.ID, model.StageCategories)
	if err != nil {
		return err
	}
	for _, n := range pages {
		if _, err := correlate.FindPage(cats.Pages, n); err != nil {
			return apperr.At(apperr.NotFound("page %d not found in %s artifact", n, model.StageCategories), int(stage), n, "")
		}
	}
	return nil
}

func marshalArtifact(stage model.Stage, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: marshal %s artifact", stage)
	}
	return data, nil
}

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/model"
)

// Document is the uploaded PDF and its rasterized pages.
type Document struct {
	PDF   []byte
	Pages []model.PageImage
}

// StoredArtifact is the persisted output of one stage of one run.
type StoredArtifact struct {
	RunID     string          `json:"run_id"`
	Stage     model.Stage     `json:"stage"`
	Data      json.RawMessage `json:"data"`
	Stale     bool            `json:"stale"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store defines the persistence interface for extraction runs.
type Store interface {
	// Runs. CreateRun also seeds a pending state row for every stage.
	CreateRun(ctx context.Context, restaurantName string, pageCount int) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)

	// Documents
	SaveDocument(ctx context.Context, runID string, doc Document) error
	LoadDocument(ctx context.Context, runID string) (*Document, error)

	// Artifacts. CommitArtifact stores data only while the stage's generation
	// still equals generation, marking the stage succeeded and every later
	// stage stale in the same transaction. A moved generation is a conflict.
	CommitArtifact(ctx context.Context, runID string, stage model.Stage, data []byte, generation int64) error
	GetArtifact(ctx context.Context, runID string, stage model.Stage) (*StoredArtifact, error)

	// Stage state. MarkStale advances each stage's generation. FailStage
	// only touches a stage that is still running.
	SetStageStatus(ctx context.Context, runID string, stage model.Stage, status model.StageStatus, errMsg string) error
	FailStage(ctx context.Context, runID string, stage model.Stage, errMsg string) error
	MarkStale(ctx context.Context, runID string, stages ...model.Stage) error
	GetStageStates(ctx context.Context, runID string) ([]model.StageState, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func errSuperseded(stage model.Stage) error {
	return apperr.At(apperr.Conflict("%s changed after this write started; reload and retry", stage), int(stage), 0, "")
}

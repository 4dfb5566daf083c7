package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Stage identifies one of the four ordered extraction steps.
type Stage int

const (
	StageCategories Stage = iota + 1
	StageItems
	StageBases
	StageAddons
)

// AllStages returns the stages in dependency order.
func AllStages() []Stage {
	return []Stage{StageCategories, StageItems, StageBases, StageAddons}
}

func (s Stage) String() string {
	switch s {
	case StageCategories:
		return "categories"
	case StageItems:
		return "items"
	case StageBases:
		return "bases"
	case StageAddons:
		return "addons"
	}
	return "stage(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is one of the four stages.
func (s Stage) Valid() bool {
	return s >= StageCategories && s <= StageAddons
}

// Prev returns the direct predecessor of s. Stage 1 has none.
func (s Stage) Prev() (Stage, bool) {
	if s <= StageCategories || !s.Valid() {
		return 0, false
	}
	return s - 1, true
}

// Next returns the direct successor of s. Stage 4 has none.
func (s Stage) Next() (Stage, bool) {
	if s >= StageAddons || !s.Valid() {
		return 0, false
	}
	return s + 1, true
}

// Downstream returns every stage strictly after s.
func (s Stage) Downstream() []Stage {
	var out []Stage
	for n, ok := s.Next(); ok; n, ok = n.Next() {
		out = append(out, n)
	}
	return out
}

// ParseStage accepts a stage number ("2") or name ("items").
func ParseStage(v string) (Stage, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	if n, err := strconv.Atoi(v); err == nil {
		s := Stage(n)
		if !s.Valid() {
			return 0, eris.Errorf("model: stage %d out of range 1-4", n)
		}
		return s, nil
	}
	for _, s := range AllStages() {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, eris.Errorf("model: unknown stage %q", v)
}

// StageStatus is the lifecycle state of a stage within a run.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
)

// StageState is the persisted state of one stage of one run. Generation
// advances on every commit or invalidation of the stage.
type StageState struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Stale      bool        `json:"stale"`
	Generation int64       `json:"generation"`
	Error      string      `json:"error,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Usable reports whether the stage's artifact may feed a later stage.
func (s StageState) Usable() bool {
	return s.Status == StageStatusSucceeded && !s.Stale
}

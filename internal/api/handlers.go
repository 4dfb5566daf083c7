package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/menu-extractor/internal/export"
	"github.com/sells-group/menu-extractor/internal/model"
)

const (
	maxUploadBytes   = 64 << 20
	maxArtifactBytes = 16 << 20
)

var extractMessages = map[model.Stage]string{
	model.StageCategories: "Category extraction complete",
	model.StageItems:      "Item list extraction complete",
	model.StageBases:      "Category bases extraction complete",
	model.StageAddons:     "Items with addons extraction complete",
}

// unitKeys names the response field holding a re-extracted unit.
var unitKeys = map[model.Stage]string{
	model.StageCategories: "page_categories",
	model.StageItems:      "category_items",
	model.StageBases:      "category_base",
	model.StageAddons:     "category_addons",
}

// Health handles GET /health. An open breaker reports "degraded" but still
// answers 200 since runs can be read and edited without inference.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok"}
	if h.inference != nil {
		state := h.inference.State()
		body["inference"] = h.inference.Service()
		body["breaker"] = state
		if state == "open" {
			body["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// CreateRun handles POST /api/runs. The body is multipart with a
// restaurant_name field and a pdf file.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		badRequest(w, "invalid multipart form: "+err.Error())
		return
	}
	restaurant := strings.TrimSpace(r.FormValue("restaurant_name"))
	if restaurant == "" {
		badRequest(w, "restaurant_name is required")
		return
	}
	file, _, err := r.FormFile("pdf")
	if err != nil {
		badRequest(w, "pdf file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	pdf, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "read pdf: "+err.Error())
		return
	}
	if len(pdf) == 0 {
		badRequest(w, "Empty PDF file")
		return
	}

	run, err := h.svc.Upload(r.Context(), restaurant, pdf)
	if err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Run created with %d pages", run.PageCount),
		"run":     run,
	})
}

// ListRuns handles GET /api/runs?restaurant=&limit=&offset=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.RunFilter{RestaurantName: q.Get("restaurant")}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		badRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		badRequest(w, "offset must be a non-negative integer")
		return
	}

	runs, err := h.svc.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err, false)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "runs": runs})
}

// GetRun handles GET /api/runs/{runID}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"run":     st.Run,
		"stages":  st.Stages,
	})
}

// Extract handles POST /api/runs/{runID}/stages/{stage}/extract.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	data, err := h.svc.RunStage(r.Context(), chi.URLParam(r, "runID"), stage)
	if err != nil {
		writeError(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": extractMessages[stage],
		"result":  data,
	})
}

// GetArtifact handles GET /api/runs/{runID}/stages/{stage}.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	data, err := h.svc.Artifact(r.Context(), chi.URLParam(r, "runID"), stage)
	if err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

// UpdateArtifact handles PUT /api/runs/{runID}/stages/{stage}. The body is
// the full artifact envelope.
func (h *Handler) UpdateArtifact(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArtifactBytes))
	if err != nil {
		badRequest(w, "read body: "+err.Error())
		return
	}
	if !json.Valid(raw) {
		badRequest(w, "body is not valid JSON")
		return
	}

	data, err := h.svc.UpdateArtifact(r.Context(), chi.URLParam(r, "runID"), stage, raw)
	if err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("%s updated successfully", titleCase(stage.String())),
		"data":    data,
	})
}

type reextractRequest struct {
	CategoryName string `json:"category_name"`
	PageNumber   int    `json:"page_number"`
}

// Reextract handles PATCH /api/runs/{runID}/stages/{stage}/reextract. The
// body is JSON or a form with category_name and page_number.
func (h *Handler) Reextract(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}

	var req reextractRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxArtifactBytes)).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			badRequest(w, "invalid form body")
			return
		}
		req.CategoryName = r.PostFormValue("category_name")
		n, err := strconv.Atoi(r.PostFormValue("page_number"))
		if err != nil {
			badRequest(w, "page_number must be an integer")
			return
		}
		req.PageNumber = n
	}
	if req.PageNumber < 1 {
		badRequest(w, "page_number must be >= 1")
		return
	}
	if stage != model.StageCategories && req.CategoryName == "" {
		badRequest(w, "category_name is required")
		return
	}

	unit, err := h.svc.Reextract(r.Context(), chi.URLParam(r, "runID"), stage, req.PageNumber, req.CategoryName)
	if err != nil {
		writeError(w, err, true)
		return
	}

	msg := fmt.Sprintf("Re-extracted %s for category '%s'", stage, req.CategoryName)
	if stage == model.StageCategories {
		msg = fmt.Sprintf("Re-extracted categories for page %d", req.PageNumber)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       msg,
		unitKeys[stage]: unit,
	})
}

type mergeRequest struct {
	PageNumber   int             `json:"page_number"`
	CategoryName string          `json:"category_name"`
	Unit         json.RawMessage `json:"unit"`
}

// MergeUnit handles PUT /api/runs/{runID}/stages/{stage}/units.
func (h *Handler) MergeUnit(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	var req mergeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxArtifactBytes)).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.PageNumber < 1 {
		badRequest(w, "page_number must be >= 1")
		return
	}
	if stage != model.StageCategories && req.CategoryName == "" {
		badRequest(w, "category_name is required")
		return
	}
	if len(req.Unit) == 0 || bytes.Equal(req.Unit, []byte("null")) {
		badRequest(w, "unit is required")
		return
	}

	data, err := h.svc.MergeUnit(r.Context(), chi.URLParam(r, "runID"), stage, req.PageNumber, req.CategoryName, req.Unit)
	if err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Merged %s unit on page %d", stage, req.PageNumber),
		"data":    data,
	})
}

// Export handles GET /api/runs/{runID}/stages/{stage}/export?format=.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	stage, ok := stageParam(w, r)
	if !ok {
		return
	}
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatJSON)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	runID := chi.URLParam(r, "runID")
	data, err := h.svc.Artifact(r.Context(), runID, stage)
	if err != nil {
		writeError(w, err, false)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, stage, data); err != nil {
		writeError(w, err, false)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.%s"`, runID, stage, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// stageParam parses the {stage} path parameter, writing a 400 on failure.
func stageParam(w http.ResponseWriter, r *http.Request) (model.Stage, bool) {
	stage, err := model.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		badRequest(w, err.Error())
		return 0, false
	}
	return stage, true
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

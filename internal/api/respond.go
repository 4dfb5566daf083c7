package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/menu-extractor/internal/apperr"
)

// errorResponse is the body of every failed request. The unit fields are set
// when the failure happened inside a stage.
type errorResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Kind       string `json:"kind,omitempty"`
	Stage      int    `json:"stage,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
	Category   string `json:"category,omitempty"`
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

// badRequest reports a malformed request.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Message: msg})
}

// writeError maps err to a status code. Decode and schema failures are the
// client's fault unless upstream is set, in which case they came from the
// inference service and report 502 like transport failures.
func writeError(w http.ResponseWriter, err error, upstream bool) {
	status := http.StatusInternalServerError
	kind, classified := apperr.KindOf(err)
	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConfiguration:
		status = http.StatusInternalServerError
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindTransport:
		status = http.StatusBadGateway
	case apperr.KindDecode, apperr.KindSchemaValidation:
		status = http.StatusBadRequest
		if upstream {
			status = http.StatusBadGateway
		}
	}

	resp := errorResponse{Message: err.Error(), Kind: string(kind)}
	resp.Stage, resp.PageNumber, resp.Category = apperr.Unit(err)

	if status >= http.StatusInternalServerError || !classified {
		zap.L().Error("api: request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

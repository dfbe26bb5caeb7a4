package api

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/reviewrelay/reviewrelay/internal/domain"
	"github.com/reviewrelay/reviewrelay/internal/server"
)

type errorBody struct {
	Type           domain.ErrorType `json:"type"`
	Message        string           `json:"message"`
	UpstreamStatus int              `json:"upstreamStatus,omitempty"`
	UpstreamBody   string           `json:"upstreamBody,omitempty"`
	Stack          string           `json:"stack,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encoding response failed", "error", err)
	}
}

// writeError maps any failure onto the structured error envelope. Stack
// traces ride along only in dev mode.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)

	apiErr := domain.Classify(err)
	body := errorBody{
		Type:           apiErr.Type,
		Message:        apiErr.Message,
		UpstreamStatus: apiErr.UpstreamStatus,
		UpstreamBody:   apiErr.UpstreamBody,
	}
	if h.dev && apiErr.Type == domain.ErrorTypeServer {
		body.Stack = string(debug.Stack())
	}
	h.writeJSON(w, apiErr.HTTPStatusCode(), errorResponse{Error: body})
}

package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"askdocs/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Get(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load retrieval settings", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "", "retrieval settings unavailable", http.StatusInternalServerError)
		return
	}
	h.writeSettings(w, s)
}

// UpdateSettings applies a partial update of top_k, min_score and
// faq_threshold. The merged result must still keep faq_threshold above
// min_score.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var p Patch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "", err.Error(), http.StatusBadRequest)
		return
	}

	s, err := h.svc.Apply(r.Context(), p)
	if err != nil {
		var fe *FieldError
		if errors.As(err, &fe) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", fe.Field, fe.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(r.Context(), "failed to update retrieval settings", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "", "retrieval settings not saved", http.StatusInternalServerError)
		return
	}
	slog.InfoContext(r.Context(), "retrieval settings updated",
		"top_k", s.TopK, "min_score", s.MinScore, "faq_threshold", s.FAQThreshold)
	h.writeSettings(w, s)
}

func (h *Handler) writeSettings(w http.ResponseWriter, s *Settings) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": s})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, field, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]string{"code": code, "message": message}
	if field != "" {
		body["field"] = field
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":         body,
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}

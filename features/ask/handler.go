package ask

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"askdocs/internal/middleware"
	"askdocs/internal/retrieval"
)

type request struct {
	Query        string   `json:"query"`
	Question     string   `json:"question"`
	TopK         *int     `json:"top_k"`
	MinScore     *float32 `json:"min_score"`
	FAQThreshold *float32 `json:"faq_threshold"`
	SkipFAQ      bool     `json:"skip_faq"`
}

func (r request) text() string {
	if r.Question != "" {
		return r.Question
	}
	return r.Query
}

func (r request) options() retrieval.QueryOptions {
	return retrieval.QueryOptions{TopK: r.TopK, MinScore: r.MinScore, FAQThreshold: r.FAQThreshold, SkipFAQ: r.SkipFAQ}
}

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	ans, err := h.service.Search(r.Context(), req.text(), req.options())
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	if ans.Results == nil {
		ans.Results = []retrieval.Result{}
	}
	h.write(r.Context(), w, map[string]interface{}{
		"data": ans,
		"meta": map[string]interface{}{"count": len(ans.Results), "insufficient": ans.Insufficient()},
	})
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	reply, err := h.service.Ask(r.Context(), req.text(), req.options())
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	if reply.Sources == nil {
		reply.Sources = []retrieval.Result{}
	}
	h.write(r.Context(), w, map[string]interface{}{"data": reply})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (request, bool) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, retrieval.ErrInvalidQuery) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	slog.ErrorContext(ctx, "query failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
}

func (h *Handler) write(ctx context.Context, w http.ResponseWriter, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

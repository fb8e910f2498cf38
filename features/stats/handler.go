package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"askdocs/internal/middleware"
	"askdocs/internal/retrieval"
)

type KnowledgeBase interface {
	Stats(ctx context.Context) (*retrieval.Stats, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	kb      KnowledgeBase
	jobRepo JobRepo
}

func NewHandler(kb KnowledgeBase, j JobRepo) *Handler {
	return &Handler{kb: kb, jobRepo: j}
}

type StatsResponse struct {
	Documents  int    `json:"documents"`
	Chunks     int    `json:"chunks"`
	Vectors    int    `json:"vectors"`
	FAQEntries int    `json:"faq_entries"`
	Model      string `json:"model"`
	Dimension  int    `json:"dimension"`
	FailedJobs int    `json:"failed_jobs"`
	// Consistent is false when the index and the catalog disagree on the
	// number of chunks.
	Consistent bool `json:"consistent"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	st, err := h.kb.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read knowledge base stats", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read knowledge base stats", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Documents:  st.Documents,
		Chunks:     st.Chunks,
		Vectors:    st.Vectors,
		FAQEntries: st.FAQEntries,
		Model:      st.Model.Version,
		Dimension:  st.Model.Dimension,
		FailedJobs: jCount,
		Consistent: st.Chunks == st.Vectors,
	}
	if !resp.Consistent {
		slog.WarnContext(ctx, "index and catalog disagree on chunk count", "chunks", st.Chunks, "vectors", st.Vectors)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"askdocs/internal/middleware"
	"askdocs/internal/retrieval"
)

const (
	ToolSearch        = "askdocs_search"
	ToolListDocuments = "askdocs_list_documents"
	ToolReadDocument  = "askdocs_read_document"
)

type Searcher interface {
	Search(ctx context.Context, question string, opts retrieval.QueryOptions) (*retrieval.Answer, error)
}

type DocumentReader interface {
	List(ctx context.Context) ([]retrieval.Document, error)
	Get(ctx context.Context, id string) (*retrieval.Document, []retrieval.Chunk, error)
}

// Handler serves the knowledge base as MCP tools over JSON-RPC, either as
// plain POST requests or over an SSE session.
type Handler struct {
	searcher     Searcher
	docs         DocumentReader
	sessions     map[string]chan string
	sessionsLock sync.RWMutex
	keepAlive    time.Duration
}

func NewHandler(s Searcher, d DocumentReader) *Handler {
	return &Handler{
		searcher:  s,
		docs:      d,
		sessions:  make(map[string]chan string),
		keepAlive: 15 * time.Second,
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query    string   `json:"query"`
	TopK     *int     `json:"top_k,omitempty"`
	MinScore *float32 `json:"min_score,omitempty"`
	SkipFAQ  bool     `json:"skip_faq,omitempty"`
}

type ReadDocumentArgs struct {
	DocumentID string `json:"document_id"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

var tools = []Tool{
	{
		Name: ToolSearch,
		Description: `Searches the ingested documents and the FAQ for passages that answer a question.
Every result carries a citation (document origin and byte range, or FAQ id).
An FAQ match is returned on its own; pass skip_faq=true to search documents anyway.`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The question or search phrase",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Max results to return; defaults to the stored setting.",
					"minimum":     1,
					"maximum":     50,
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum cosine similarity of a result.",
					"minimum":     -1.0,
					"maximum":     1.0,
				},
				"skip_faq": map[string]string{
					"type":        "boolean",
					"description": "Search documents even when an FAQ entry matches.",
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        ToolListDocuments,
		Description: "Lists the ingested documents with their ids, origins and chunk counts.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
	{
		Name:        ToolReadDocument,
		Description: "Returns the full normalized text of one document, chunk by chunk.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"document_id": map[string]string{
					"type":        "string",
					"description": "Document id from askdocs_list_documents or a search citation",
				},
			},
			"required": []string{"document_id"},
		},
	},
}

// processRequest returns nil for notifications.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "askdocs-mcp",
				"version": "1.0.0",
			},
		})
	case "notifications/initialized":
		return nil
	case "tools/list":
		return result(req.ID, ListToolsResult{Tools: tools})
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, ErrInvalidParams, "Invalid params")
		}
		slog.InfoContext(ctx, "tool call", "tool", params.Name)
		return h.callTool(ctx, req.ID, params)
	default:
		slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
		return errorResponse(req.ID, ErrMethodNotFound, "Method not found")
	}
}

func (h *Handler) callTool(ctx context.Context, id interface{}, params CallParams) *JSONRPCResponse {
	switch params.Name {
	case ToolSearch:
		var args SearchArgs
		if err := unmarshalArgs(params.Arguments, &args); err != nil {
			return errorResponse(id, ErrInvalidParams, "Invalid search arguments")
		}
		if strings.TrimSpace(args.Query) == "" {
			return errorResponse(id, ErrInvalidParams, "Query is required")
		}
		ans, err := h.searcher.Search(ctx, args.Query, retrieval.QueryOptions{
			TopK:     args.TopK,
			MinScore: args.MinScore,
			SkipFAQ:  args.SkipFAQ,
		})
		if err != nil {
			if errors.Is(err, retrieval.ErrInvalidQuery) {
				return errorResponse(id, ErrInvalidParams, err.Error())
			}
			slog.ErrorContext(ctx, "search failed", "error", err)
			return errorResponse(id, ErrInternal, "Search failed: "+err.Error())
		}
		slog.InfoContext(ctx, "tool execution completed", "tool", ToolSearch, "result_count", len(ans.Results))
		return result(id, textResult(formatAnswer(ans), false))

	case ToolListDocuments:
		docs, err := h.docs.List(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "list documents failed", "error", err)
			return result(id, textResult("Error: "+err.Error(), true))
		}
		if len(docs) == 0 {
			return result(id, textResult("No documents found.", false))
		}
		type summary struct {
			ID         string `json:"id"`
			Origin     string `json:"origin"`
			Kind       string `json:"kind"`
			Version    int    `json:"version"`
			ChunkCount int    `json:"chunk_count"`
		}
		out := make([]summary, len(docs))
		for i, d := range docs {
			out[i] = summary{ID: d.ID, Origin: d.Origin, Kind: string(d.Kind), Version: d.Version, ChunkCount: d.ChunkCount}
		}
		raw, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return result(id, textResult("Error marshalling results", true))
		}
		return result(id, textResult(string(raw), false))

	case ToolReadDocument:
		var args ReadDocumentArgs
		if err := unmarshalArgs(params.Arguments, &args); err != nil {
			return errorResponse(id, ErrInvalidParams, "Invalid arguments")
		}
		if args.DocumentID == "" {
			return errorResponse(id, ErrInvalidParams, "document_id is required")
		}
		doc, chunks, err := h.docs.Get(ctx, args.DocumentID)
		if err != nil {
			if errors.Is(err, retrieval.ErrDocumentNotFound) {
				return result(id, textResult("No document found with id "+args.DocumentID+".", true))
			}
			slog.ErrorContext(ctx, "read document failed", "error", err)
			return result(id, textResult("Error: "+err.Error(), true))
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Document: %s\nVersion: %d\n\n", doc.Origin, doc.Version)
		for _, c := range chunks {
			b.WriteString(c.Text)
			b.WriteString("\n\n")
		}
		slog.InfoContext(ctx, "tool execution completed", "tool", ToolReadDocument, "chunk_count", len(chunks))
		return result(id, textResult(b.String(), false))

	default:
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		return errorResponse(id, ErrMethodNotFound, "Method not found: "+params.Name)
	}
}

func unmarshalArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func formatAnswer(ans *retrieval.Answer) string {
	if ans.Insufficient() {
		return retrieval.InsufficientAnswer
	}
	var b strings.Builder
	if ans.FAQHit {
		b.WriteString("FAQ match:\n")
	}
	for i, r := range ans.Results {
		fmt.Fprintf(&b, "[Source %d] (Score: %.2f)\n", i+1, r.Score)
		if r.Kind == retrieval.ResultFAQ {
			fmt.Fprintf(&b, "FAQ: %s\n", r.Citation.FAQID)
		} else {
			fmt.Fprintf(&b, "Origin: %s [%d:%d]\nDocumentID: %s\n", r.Citation.Origin, r.Citation.CharStart, r.Citation.CharEnd, r.Citation.DocumentID)
		}
		fmt.Fprintf(&b, "Content:\n%s\n\n---\n", r.Text)
	}
	if !ans.FAQHit {
		fmt.Fprintf(&b, "\nUse %s(document_id=\"...\") to read a whole document.\n", ToolReadDocument)
	}
	return b.String()
}

func result(id interface{}, v interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: v}
}

func textResult(text string, isError bool) ToolResult {
	return ToolResult{Content: []ToolContent{{Type: "text", Text: text}}, IsError: isError}
}

func errorResponse(id interface{}, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

// ServeHTTP answers a single JSON-RPC request in the response body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeRPC(r.Context(), w, errorResponse(nil, ErrParse, "Parse error"))
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.writeRPC(r.Context(), w, resp)
}

// HandleSSE opens a session stream. The first event names the endpoint the
// client posts its messages to.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeHTTPError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.InfoContext(r.Context(), "sse session ended", "session_id", sessionID)
	}()

	slog.InfoContext(r.Context(), "sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC request for an SSE session and answers on
// the session stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHTTPError(ctx, w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId")
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		h.writeHTTPError(ctx, w, http.StatusNotFound, "NOT_FOUND", "Session not found")
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeHTTPError(ctx, w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON")
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// The tool call outlives the POST; keep its values, drop its deadline.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}
		raw, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(bgCtx, "failed to marshal response", "error", err)
			return
		}
		h.deliver(bgCtx, sessionID, string(raw))
	}()
}

// deliver holds the read lock while sending so the session cannot close its
// channel mid-send.
func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session closed before response", "session_id", sessionID)
		return
	}
	select {
	case msgChan <- msg:
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeRPC(ctx context.Context, w http.ResponseWriter, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeHTTPError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
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
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

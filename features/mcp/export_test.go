package mcp

import (
	"context"
	"time"
)

func (h *Handler) ProcessRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	return h.processRequest(ctx, req)
}

func (h *Handler) SetKeepAlive(d time.Duration) {
	h.keepAlive = d
}

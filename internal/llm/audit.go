package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// auditingClient wraps a Client and writes every request/response pair to
// disk, composing the same way retryingClient wraps a Client in retry.go.
type auditingClient struct {
	inner     Client
	dir       string // message/<sessionId>/<agent_type>/
	clockNow  func() time.Time
}

// WithAudit wraps inner so every Chat call's request and response are
// persisted under dir as msg_<yyyymmdd_hhmmss.ffffff>.json (the stamp
// carries microseconds), per spec.md §6's
// message/<sessionId>/<agent_type>/msg_<timestamp>.json audit trail.
func WithAudit(inner Client, dir string) Client {
	if inner == nil {
		return inner
	}
	return &auditingClient{inner: inner, dir: dir, clockNow: time.Now}
}

type auditRecord struct {
	Request  *ChatRequest  `json:"request"`
	Response *ChatResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (c *auditingClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := c.inner.Chat(ctx, req)
	c.write(req, resp, err)
	return resp, err
}

func (c *auditingClient) write(req *ChatRequest, resp *ChatResponse, callErr error) {
	rec := auditRecord{Request: req, Response: resp}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return
	}
	name := fmt.Sprintf("msg_%s.json", c.clockNow().Format("20060102_150405.000000"))
	_ = os.WriteFile(filepath.Join(c.dir, name), data, 0644)
}

func (c *auditingClient) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	return c.inner.Stream(ctx, req)
}

func (c *auditingClient) ModelInfo() *ModelInfo { return c.inner.ModelInfo() }
func (c *auditingClient) Ping(ctx context.Context) error { return c.inner.Ping(ctx) }
func (c *auditingClient) Close() error { return c.inner.Close() }

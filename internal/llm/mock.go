package llm

import "context"

// MockClient is a deterministic, non-network Client used when UI_TEST mode
// (spec.md §6 Env) is enabled, and directly in unit tests. Responder is
// called once per Chat invocation so tests can script a scenario, and
// receives ctx so a test can race cancellation against a blocking call.
type MockClient struct {
	Responder func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Info      *ModelInfo
}

func (m *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if m.Responder == nil {
		return &ChatResponse{Content: "{}"}, nil
	}
	return m.Responder(ctx, req)
}

func (m *MockClient) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 2)
	resp, err := m.Chat(ctx, req)
	if err != nil {
		ch <- StreamChunk{Err: err, Done: true}
		close(ch)
		return ch, nil
	}
	ch <- StreamChunk{Type: TextChunk, Text: resp.Content}
	ch <- StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (m *MockClient) ModelInfo() *ModelInfo {
	if m.Info != nil {
		return m.Info
	}
	return &ModelInfo{ID: "mock", Provider: "mock", ContextWindow: 200000, SupportsTools: true}
}

func (m *MockClient) Ping(context.Context) error { return nil }
func (m *MockClient) Close() error                { return nil }

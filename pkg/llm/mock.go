package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scripted chat client for tests. Responses are consumed
// per deployment in FIFO order; an exhausted script falls back to the
// default response.
type MockClient struct {
	mu        sync.Mutex
	scripts   map[string][]*Completion
	errs      map[string]error
	Default   string
	CallCount map[string]int
	Requests  []MockRequest
}

// MockRequest records one observed chat call.
type MockRequest struct {
	Deployment string
	Messages   []Message
	Opts       ChatOptions
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		scripts:   make(map[string][]*Completion),
		errs:      make(map[string]error),
		Default:   "ok",
		CallCount: make(map[string]int),
	}
}

// Enqueue scripts the next completion for a deployment.
func (m *MockClient) Enqueue(deployment, content string) *MockClient {
	return m.EnqueueCompletion(deployment, &Completion{Content: content, FinishReason: FinishStop})
}

// EnqueueCompletion scripts a full completion (e.g. a length-truncated one).
func (m *MockClient) EnqueueCompletion(deployment string, c *Completion) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[deployment] = append(m.scripts[deployment], c)
	return m
}

// FailWith makes every call to a deployment return err.
func (m *MockClient) FailWith(deployment string, err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[deployment] = err
	return m
}

// Chat implements Client.
func (m *MockClient) Chat(ctx context.Context, deployment string, messages []Message, opts ChatOptions) (*Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount[deployment]++
	m.Requests = append(m.Requests, MockRequest{Deployment: deployment, Messages: messages, Opts: opts})

	if err := m.errs[deployment]; err != nil {
		return nil, err
	}
	if queue := m.scripts[deployment]; len(queue) > 0 {
		next := queue[0]
		m.scripts[deployment] = queue[1:]
		return next, nil
	}
	return &Completion{Content: m.Default, FinishReason: FinishStop}, nil
}

// Calls returns the number of chat calls to a deployment.
func (m *MockClient) Calls(deployment string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount[deployment]
}

// MockEmbedder returns fixed-dimension zero-ish vectors and counts calls.
type MockEmbedder struct {
	Dim   int
	mu    sync.Mutex
	calls int
	Err   error
}

// Embed implements Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	dim := m.Dim
	if dim == 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dim)
		vec[i%dim] = 1
		out[i] = vec
	}
	return out, nil
}

// EmbedCalls returns the number of Embed invocations.
func (m *MockEmbedder) EmbedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Client = (*MockClient)(nil)
var _ Embedder = (*MockEmbedder)(nil)

// String implements fmt.Stringer for debug logging.
func (m *MockClient) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("mock-llm(calls=%d)", len(m.Requests))
}

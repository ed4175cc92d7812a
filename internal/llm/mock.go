package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockCompleter is a scripted Completer for tests and local development
// without API credentials.
type MockCompleter struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     []Request
}

// NewMockCompleter returns an empty MockCompleter; queue responses with
// Enqueue/EnqueueError before use.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

// Enqueue schedules resp to be returned by the next Complete call.
func (m *MockCompleter) Enqueue(resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, nil)
}

// EnqueueError schedules err to be returned by the next Complete call.
func (m *MockCompleter) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, nil)
	m.errs = append(m.errs, err)
}

func (m *MockCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock completer: no response queued for model %s", req.Model)
	}

	resp, err := m.responses[0], m.errs[0]
	m.responses = m.responses[1:]
	m.errs = m.errs[1:]
	return resp, err
}

// Calls returns every request passed to Complete, in order.
func (m *MockCompleter) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Request, len(m.calls))
	copy(cp, m.calls)
	return cp
}

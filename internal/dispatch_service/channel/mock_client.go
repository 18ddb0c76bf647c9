package channel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is a test implementation of ChannelClient. It records every
// call with its timestamp (for pacing assertions) and can be told to fail
// for specific recipients or for everything.
type MockClient struct {
	mu sync.Mutex

	// FailFor maps recipient -> failure reason. A send to a listed
	// recipient returns an error with that reason.
	FailFor map[string]string
	// FailAll makes every send fail regardless of FailFor.
	FailAll bool
	// SimulatedDelay is added to each call to mimic provider latency.
	SimulatedDelay time.Duration

	calls []MockCall
}

// MockCall is one recorded SendOne invocation.
type MockCall struct {
	Recipient string
	Message   string
	At        time.Time
}

// NewMockClient creates an empty mock that succeeds for every recipient.
func NewMockClient() *MockClient {
	return &MockClient{FailFor: map[string]string{}}
}

// SendOne records the call and simulates success or failure.
func (m *MockClient) SendOne(ctx context.Context, recipient, message string) error {
	if m.SimulatedDelay > 0 {
		select {
		case <-time.After(m.SimulatedDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Recipient: recipient, Message: message, At: time.Now()})
	reason, fail := m.FailFor[recipient]
	failAll := m.FailAll
	m.mu.Unlock()

	if failAll {
		return fmt.Errorf("mock channel down")
	}
	if fail {
		return fmt.Errorf("mock send failure: %s", reason)
	}
	return nil
}

// Name returns the channel name.
func (m *MockClient) Name() string {
	return "mock"
}

// Calls returns a copy of the recorded calls in order.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many sends were attempted.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

package scene

import (
	"context"
	"sync"
)

// MockClient is an in-process scene double for tests. It records every
// outbound call and lets tests inject inbound messages through the bound
// handlers.
type MockClient struct {
	mu sync.Mutex

	Opts     Options
	Handlers Handlers

	ConnectErr   error
	ConnectCalls int
	LastURL      string
	LastToken    string
	LastRetry    RetryOptions

	Disconnected   bool
	KeepAliveCalls int
	BoundsCalls    [][2]int
	DeviceCalls    []MediaDeviceState
	SentTexts      []string
	SentEvents     []string
	StopCalls      int
	VerboseSet     *bool

	sink *RecordingSink
}

// NewMockClient satisfies Factory.
func NewMockClient(opts Options, handlers Handlers) Client {
	return &MockClient{Opts: opts, Handlers: handlers, sink: &RecordingSink{}}
}

func (m *MockClient) Connect(_ context.Context, serverURL, token string, retry RetryOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectCalls++
	m.LastURL = serverURL
	m.LastToken = token
	m.LastRetry = retry
	return m.ConnectErr
}

func (m *MockClient) Disconnect() {
	m.mu.Lock()
	already := m.Disconnected
	m.Disconnected = true
	m.mu.Unlock()
	if !already && m.Handlers.OnDisconnected != nil {
		m.Handlers.OnDisconnected()
	}
}

func (m *MockClient) SendVideoBounds(width, height int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BoundsCalls = append(m.BoundsCalls, [2]int{width, height})
	return nil
}

func (m *MockClient) SetMediaDeviceActive(devices MediaDeviceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeviceCalls = append(m.DeviceCalls, devices)
	return nil
}

func (m *MockClient) KeepAlive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.KeepAliveCalls++
	return nil
}

func (m *MockClient) SendUserText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentTexts = append(m.SentTexts, text)
	return nil
}

func (m *MockClient) ConversationSend(name string, _ map[string]any, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentEvents = append(m.SentEvents, name)
	return nil
}

func (m *MockClient) StopSpeaking() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	return nil
}

func (m *MockClient) SetVerboseLogging(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerboseSet = &enabled
}

func (m *MockClient) Sink() VideoSink { return m.sink }

// KeepAlives returns the keepalive call count under the lock.
func (m *MockClient) KeepAlives() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.KeepAliveCalls
}

// RecordingSink captures local output-mute changes.
type RecordingSink struct {
	mu    sync.Mutex
	Muted bool
}

func (r *RecordingSink) SetMuted(muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Muted = muted
}

func (r *RecordingSink) IsMuted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Muted
}

// Package scene wraps the connection to the remote persona-rendering service.
// The rest of the process treats a scene as an opaque command surface plus
// three callback slots; only the lifecycle manager constructs or destroys one.
package scene

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/aura/internal/protocol"
)

// Sentinel errors surfaced by scene implementations.
var (
	ErrNotConnected = errors.New("scene not connected")
	// ErrNoUserMedia and ErrNotSupported mark device-permission failures so
	// the lifecycle manager can classify them separately from generic
	// connection errors.
	ErrNoUserMedia  = errors.New("user media denied")
	ErrNotSupported = errors.New("user media not supported")
)

// RetryOptions bounds the connect loop: MaxRetries attempts separated by a
// fixed Delay. Exhaustion surfaces as an error, never a hang.
type RetryOptions struct {
	MaxRetries int
	Delay      time.Duration
}

// MediaDeviceState carries partial device toggles; nil fields are untouched.
type MediaDeviceState struct {
	Microphone *bool
	Camera     *bool
}

// VideoSink is the local playback element the scene renders into. Output mute
// is applied here, independent of the remote microphone toggle.
type VideoSink interface {
	SetMuted(muted bool)
}

// Options configure a scene before connecting.
type Options struct {
	Sink      VideoSink
	AudioOnly bool
	// Requested device permissions; none are required since the
	// conversation can run in typing-only mode.
	RequestedMic    bool
	RequestedCamera bool
	PersonaID       string
}

// Handlers are the callback slots a scene invokes from its read loop.
// OnMessage receives every named protocol message in arrival order;
// OnActiveCards receives resolved content-card sets from the card channel;
// OnDisconnected fires exactly once when the transport drops.
type Handlers struct {
	OnMessage      func(protocol.Message)
	OnActiveCards  func([]protocol.ContentCard)
	OnDisconnected func()
}

// Client is the session-client collaborator boundary.
type Client interface {
	Connect(ctx context.Context, serverURL, token string, retry RetryOptions) error
	Disconnect()

	SendVideoBounds(width, height int) error
	SetMediaDeviceActive(devices MediaDeviceState) error
	KeepAlive() error

	// SendUserText routes typed input through the orchestration layer;
	// ConversationSend talks to the persona NLP directly.
	SendUserText(text string) error
	ConversationSend(name string, payload map[string]any, kind string) error
	StopSpeaking() error

	SetVerboseLogging(enabled bool)
	Sink() VideoSink
}

// Factory builds a scene with its handlers bound before any connect attempt.
type Factory func(opts Options, handlers Handlers) Client

// NoopSink discards mute changes; used when no local playback element exists.
type NoopSink struct{}

func (NoopSink) SetMuted(bool) {}

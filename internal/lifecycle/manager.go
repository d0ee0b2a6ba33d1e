// Package lifecycle owns the single live scene: creation, retry-bounded
// connection, keepalive, teardown, and the device/viewport synchronization
// around it. The scene handle never enters the state store; everything else
// reaches it only through the manager's narrow methods.
package lifecycle

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/aura/internal/auth"
	"github.com/antoniostano/aura/internal/config"
	"github.com/antoniostano/aura/internal/dispatch"
	"github.com/antoniostano/aura/internal/observability"
	"github.com/antoniostano/aura/internal/reliability"
	"github.com/antoniostano/aura/internal/scene"
	"github.com/antoniostano/aura/internal/state"
)

var (
	// ErrSessionExists marks a duplicate create attempt: a programming error,
	// logged and rejected, never silently replacing the live session.
	ErrSessionExists = errors.New("a session already exists")
	// ErrNoSession marks an operation that needs a live session.
	ErrNoSession = errors.New("no active session")
	ErrEmptyText = errors.New("empty text")
)

// TokenFetcher is the token-issuer collaborator boundary.
type TokenFetcher interface {
	Fetch(ctx context.Context) (auth.Grant, error)
}

// PrefStore is the durable preference cache boundary.
type PrefStore interface {
	RequestedMediaPerms() state.MediaPerms
	SaveRequestedMediaPerms(perms state.MediaPerms)
}

// Manager is the connection lifecycle state machine over a single session.
type Manager struct {
	cfg     config.Config
	store   *state.Store
	prefs   PrefStore
	metrics *observability.Metrics
	quality *observability.QualityWindow
	factory scene.Factory
	tokens  TokenFetcher
	sink    scene.VideoSink

	dispatcher *dispatch.Dispatcher

	mu            sync.Mutex
	sc            scene.Client
	generation    string
	keepaliveStop chan struct{}
	pixelRatio    float64

	// after is time.AfterFunc unless a test swaps it out.
	after func(time.Duration, func())
}

func NewManager(
	cfg config.Config,
	store *state.Store,
	prefStore PrefStore,
	metrics *observability.Metrics,
	quality *observability.QualityWindow,
	factory scene.Factory,
	tokens TokenFetcher,
	sink scene.VideoSink,
) *Manager {
	if sink == nil {
		sink = scene.NoopSink{}
	}
	m := &Manager{
		cfg:        cfg,
		store:      store,
		prefs:      prefStore,
		metrics:    metrics,
		quality:    quality,
		factory:    factory,
		tokens:     tokens,
		sink:       sink,
		pixelRatio: 1,
		after: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
	m.dispatcher = dispatch.New(store, m, metrics, quality)
	return m
}

// Dispatcher exposes the message dispatcher, e.g. to register custom markers.
func (m *Manager) Dispatcher() *dispatch.Dispatcher {
	return m.dispatcher
}

// Connect creates the session and establishes it with bounded retry. Fails
// fast when a session already exists. On failure the partially-created scene
// is torn down and the classified error lands in application state.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.sc != nil {
		m.mu.Unlock()
		log.Printf("lifecycle: connect rejected, a session already exists")
		return ErrSessionExists
	}
	gen := uuid.NewString()
	m.generation = gen
	perms := m.store.Snapshot().RequestedMediaPerms
	sc := m.factory(scene.Options{
		Sink:            m.sink,
		AudioOnly:       false,
		RequestedMic:    perms.Mic,
		RequestedCamera: perms.Camera,
		PersonaID:       m.cfg.PersonaID,
	}, scene.Handlers{
		OnMessage:     m.dispatcher.HandleMessage,
		OnActiveCards: m.dispatcher.HandleActiveCards,
		OnDisconnected: func() {
			// The transport dropped on its own; reuse the normal disconnect
			// flow. Run off the read loop so teardown can't deadlock on it.
			go m.sceneDropped(gen)
		},
	})
	m.sc = sc
	m.mu.Unlock()

	m.store.SetConnecting()
	m.metrics.SessionEvents.WithLabelValues("connect_attempt").Inc()

	serverURL := m.cfg.PersonaServerURL
	token := m.cfg.APIKey
	if m.cfg.AuthMode == config.AuthModeTokenIssuer {
		grant, err := m.tokens.Fetch(ctx)
		if err != nil {
			m.failConnect(gen, sc, reliability.ErrKindTokenFetch, err)
			return err
		}
		serverURL = grant.URL
		token = grant.JWT
	}

	retry := scene.RetryOptions{
		MaxRetries: m.cfg.ConnectMaxRetries,
		Delay:      m.cfg.ConnectRetryDelay,
	}
	if err := sc.Connect(ctx, serverURL, token, retry); err != nil {
		m.failConnect(gen, sc, reliability.ClassifyConnectError(err), err)
		return err
	}

	// Verbose protocol logging can only be toggled on a live session, and it
	// drowns everything else out, so turn it off unless explicitly requested.
	sc.SetVerboseLogging(m.cfg.VerboseProtocolLog)

	snap := m.store.Snapshot()
	if err := sc.SendVideoBounds(m.scaled(snap.VideoWidth), m.scaled(snap.VideoHeight)); err != nil {
		log.Printf("lifecycle: initial video bounds failed: %v", err)
	}

	// The requested devices become the live toggle state post-connect; the
	// user can change either independently from here on.
	m.store.SetMicOn(perms.Mic)
	m.store.SetCameraOn(perms.Camera)
	m.store.SetConnected()
	m.metrics.SessionEvents.WithLabelValues("connected").Inc()
	m.startKeepalive(gen, sc)
	return nil
}

func (m *Manager) failConnect(gen string, sc scene.Client, kind string, err error) {
	log.Printf("lifecycle: connect failed (%s): %v", kind, err)
	m.metrics.ConnectFailures.WithLabelValues(kind).Inc()
	m.store.SetConnectError(kind, err.Error())

	m.mu.Lock()
	if m.generation == gen && m.sc == sc {
		m.sc = nil
	}
	m.mu.Unlock()
	sc.Disconnect()
}

// Disconnect tears the session down. Safe to call whether or not one exists,
// and safe to call repeatedly: the terminal state is always "disconnected".
// State reset happens after a short grace period so in-flight protocol
// teardown can finish; a session created in the meantime is never clobbered.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sc := m.sc
	gen := m.generation
	m.sc = nil
	m.stopKeepaliveLocked()
	m.mu.Unlock()

	if sc != nil {
		sc.Disconnect()
		m.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	}

	m.after(m.cfg.DisconnectGrace, func() {
		m.mu.Lock()
		stale := m.generation != gen || m.sc != nil
		m.mu.Unlock()
		if stale {
			return
		}
		m.store.ResetForDisconnect()
		if m.quality != nil {
			m.quality.Reset()
		}
	})
}

// sceneDropped handles an OnDisconnected callback. The generation guard keeps
// a late callback from an already-replaced scene from tearing down its
// successor.
func (m *Manager) sceneDropped(gen string) {
	m.mu.Lock()
	stale := m.generation != gen
	m.mu.Unlock()
	if stale {
		return
	}
	m.Disconnect()
}

func (m *Manager) startKeepalive(gen string, sc scene.Client) {
	stop := make(chan struct{})
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.stopKeepaliveLocked()
	m.keepaliveStop = stop
	m.mu.Unlock()

	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := sc.KeepAlive(); err != nil {
					m.metrics.KeepAliveFailures.Inc()
					log.Printf("lifecycle: keepalive failed: %v", err)
				}
			}
		}
	}()
}

func (m *Manager) stopKeepaliveLocked() {
	if m.keepaliveStop != nil {
		close(m.keepaliveStop)
		m.keepaliveStop = nil
	}
}

func (m *Manager) client() (scene.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sc == nil {
		return nil, ErrNoSession
	}
	return m.sc, nil
}

// SetMicOn toggles the microphone the service hears. Local state updates
// optimistically; a failed session call is logged, not rolled back.
func (m *Manager) SetMicOn(on bool) error {
	sc, err := m.client()
	if err != nil {
		log.Printf("lifecycle: mic toggle without a session")
		return err
	}
	m.store.SetMicOn(on)
	if err := sc.SetMediaDeviceActive(scene.MediaDeviceState{Microphone: &on}); err != nil {
		log.Printf("lifecycle: mic toggle failed: %v", err)
	}
	return nil
}

// SetCameraOn toggles the camera feed sent to the service.
func (m *Manager) SetCameraOn(on bool) error {
	sc, err := m.client()
	if err != nil {
		log.Printf("lifecycle: camera toggle without a session")
		return err
	}
	m.store.SetCameraOn(on)
	if err := sc.SetMediaDeviceActive(scene.MediaDeviceState{Camera: &on}); err != nil {
		log.Printf("lifecycle: camera toggle failed: %v", err)
	}
	return nil
}

// SetOutputMuted mutes the local playback sink. Independent of the mic
// toggle: one controls what the service hears, this controls what the user
// hears. Works with or without a live session.
func (m *Manager) SetOutputMuted(muted bool) {
	m.store.SetOutputMuted(muted)
	m.sink.SetMuted(muted)
}

// SetVideoBounds records the logical viewport and forwards device-scaled
// bounds to the session so the renderer produces correctly-sized frames.
// Idempotent and cheap; callers may invoke it on every resize event.
func (m *Manager) SetVideoBounds(width, height int, pixelRatio float64) {
	if pixelRatio > 0 {
		m.mu.Lock()
		m.pixelRatio = pixelRatio
		m.mu.Unlock()
	}
	m.store.SetVideoDimensions(width, height)
	sc, err := m.client()
	if err != nil {
		return
	}
	if err := sc.SendVideoBounds(m.scaled(width), m.scaled(height)); err != nil {
		log.Printf("lifecycle: video bounds update failed: %v", err)
	}
}

// SetCameraFrame records the camera feed's frame size for the UI's
// aspect-ratio box. Purely local; the service never sees it.
func (m *Manager) SetCameraFrame(width, height int) {
	m.store.SetCameraDimensions(width, height)
}

func (m *Manager) scaled(v int) int {
	m.mu.Lock()
	ratio := m.pixelRatio
	m.mu.Unlock()
	return int(math.Round(float64(v) * ratio))
}

// SendText sends typed input to the persona and records it as a user turn.
func (m *Manager) SendText(text string) error {
	if text == "" {
		log.Printf("lifecycle: refusing to send empty text")
		return ErrEmptyText
	}
	sc, err := m.client()
	if err != nil {
		log.Printf("lifecycle: text send without a session")
		return err
	}
	if m.cfg.OrchestrationMode {
		err = sc.SendUserText(text)
	} else {
		err = sc.ConversationSend(text, nil, "text")
	}
	if err != nil {
		return err
	}
	m.store.AppendEntry(state.SourceUser, text, nil)
	m.metrics.TranscriptEntries.WithLabelValues(string(state.SourceUser)).Inc()
	return nil
}

// SendEvent dispatches a named conversation event with an optional payload.
func (m *Manager) SendEvent(name string, payload map[string]any) error {
	sc, err := m.client()
	if err != nil {
		log.Printf("lifecycle: event send without a session")
		return err
	}
	if err := sc.ConversationSend(name, payload, "event"); err != nil {
		return err
	}
	log.Printf("lifecycle: dispatched event %s", name)
	return nil
}

// StopSpeaking interrupts the persona's current utterance.
func (m *Manager) StopSpeaking() error {
	sc, err := m.client()
	if err != nil {
		log.Printf("lifecycle: stop-speaking without a session")
		return err
	}
	return sc.StopSpeaking()
}

// SetShowTranscript sets the transcript panel visibility.
func (m *Manager) SetShowTranscript(show bool) {
	m.store.SetShowTranscript(show)
}

// ToggleShowTranscript flips the transcript panel visibility.
func (m *Manager) ToggleShowTranscript() {
	m.store.ToggleShowTranscript()
}

// SetRequestedMediaPerms records the device-permission intent for the next
// session and persists it across restarts.
func (m *Manager) SetRequestedMediaPerms(perms state.MediaPerms) {
	m.store.SetRequestedMediaPerms(perms)
	if m.prefs != nil {
		m.prefs.SaveRequestedMediaPerms(perms)
	}
}

// ClearActiveCards empties the active content-card set.
func (m *Manager) ClearActiveCards() {
	m.store.ClearActiveCards()
}

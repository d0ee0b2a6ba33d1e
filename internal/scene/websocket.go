package scene

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/aura/internal/protocol"
)

// WebsocketClient speaks the persona server protocol over a single websocket.
// Writes are serialized by writeMu; the read loop owns inbound frames and
// fires OnDisconnected exactly once through closeOnce.
type WebsocketClient struct {
	opts     Options
	handlers Handlers

	writeMu   sync.Mutex
	conn      *websocket.Conn
	connMu    sync.RWMutex
	closeOnce sync.Once

	// verbose is read by the read loop and written by callers; atomic so the
	// toggle never races frame handling.
	verbose atomic.Bool
	// sleep is swapped out in tests to make the retry loop instant.
	sleep func(time.Duration)
}

// NewWebsocketClient returns a disconnected client. It satisfies Factory.
func NewWebsocketClient(opts Options, handlers Handlers) Client {
	c := &WebsocketClient{
		opts:     opts,
		handlers: handlers,
		sleep:    time.Sleep,
	}
	c.verbose.Store(true)
	return c
}

// Connect dials the persona server with bounded fixed-delay retry. The token
// rides an Authorization header when present. On success the read loop starts
// and the requested device state is announced.
func (c *WebsocketClient) Connect(ctx context.Context, serverURL, token string, retry RetryOptions) error {
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = 1
	}

	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	var lastErr error
	for attempt := 0; attempt < retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			c.sleep(retry.Delay)
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, headers)
		if err != nil {
			lastErr = err
			continue
		}
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		go c.readLoop(conn)
		return c.announceDevices()
	}
	return fmt.Errorf("connect failed after %d attempts: %w", retry.MaxRetries, lastErr)
}

func (c *WebsocketClient) announceDevices() error {
	mic := c.opts.RequestedMic
	camera := c.opts.RequestedCamera && !c.opts.AudioOnly
	return c.SetMediaDeviceActive(MediaDeviceState{Microphone: &mic, Camera: &camera})
}

func (c *WebsocketClient) readLoop(conn *websocket.Conn) {
	defer c.teardown()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Parse(data)
		if err != nil {
			log.Printf("scene: dropping unparseable frame: %v", err)
			continue
		}
		if c.verbose.Load() {
			log.Printf("scene: <- %s", msg.Name)
		}
		if msg.Name == protocol.NameActiveCards {
			var body protocol.ActiveCardsBody
			if err := json.Unmarshal(msg.Body, &body); err != nil {
				log.Printf("scene: dropping malformed activeCards body: %v", err)
				continue
			}
			if c.handlers.OnActiveCards != nil {
				c.handlers.OnActiveCards(body.ActiveCards)
			}
			continue
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(msg)
		}
	}
}

func (c *WebsocketClient) teardown() {
	c.closeOnce.Do(func() {
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
		if c.handlers.OnDisconnected != nil {
			c.handlers.OnDisconnected()
		}
	})
}

// Disconnect closes the transport. The read loop's teardown fires
// OnDisconnected; calling Disconnect twice is safe.
func (c *WebsocketClient) Disconnect() {
	c.teardown()
}

func (c *WebsocketClient) SendVideoBounds(width, height int) error {
	return c.sendRequest("updateVideoBounds", map[string]any{
		"width":  width,
		"height": height,
	})
}

func (c *WebsocketClient) SetMediaDeviceActive(devices MediaDeviceState) error {
	body := map[string]any{}
	if devices.Microphone != nil {
		body["microphone"] = *devices.Microphone
	}
	if devices.Camera != nil {
		body["camera"] = *devices.Camera
	}
	if len(body) == 0 {
		return nil
	}
	return c.sendRequest("setMediaDeviceActive", body)
}

func (c *WebsocketClient) KeepAlive() error {
	return c.sendRequest("keepAlive", map[string]any{})
}

func (c *WebsocketClient) SendUserText(text string) error {
	return c.sendRequest("userText", map[string]any{"text": text})
}

func (c *WebsocketClient) ConversationSend(name string, payload map[string]any, kind string) error {
	if payload == nil {
		payload = map[string]any{}
	}
	if kind == "" {
		kind = "event"
	}
	return c.sendRequest("conversationSend", map[string]any{
		"personaId": c.opts.PersonaID,
		"text":      name,
		"variables": payload,
		"optionalArgs": map[string]any{
			"kind": kind,
		},
	})
}

func (c *WebsocketClient) StopSpeaking() error {
	return c.sendRequest("stopSpeaking", map[string]any{
		"personaId": c.opts.PersonaID,
	})
}

func (c *WebsocketClient) SetVerboseLogging(enabled bool) {
	c.verbose.Store(enabled)
}

func (c *WebsocketClient) Sink() VideoSink {
	if c.opts.Sink == nil {
		return NoopSink{}
	}
	return c.opts.Sink
}

func (c *WebsocketClient) sendRequest(name string, body map[string]any) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(map[string]any{
		"name": name,
		"body": body,
	})
}

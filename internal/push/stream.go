// Package push delivers vendor push events into the coordinator's merge
// path. Two transports are supported: a WebSocket event stream and an
// MQTT topic subscription. Both decode raw payloads into typed activity
// records at this boundary and hand them to a single Handler.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"devicesync/pkg/source"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler receives decoded activity batches from a push transport.
type Handler func(activities []source.Activity)

// streamFrame is the wire envelope of the activity stream.
type streamFrame struct {
	Type       string         `json:"type"`
	Message    string         `json:"message,omitempty"`
	Activities []wireActivity `json:"activities,omitempty"`
}

type wireActivity struct {
	DeviceID  string         `json:"device_id"`
	Type      string         `json:"activity_type"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// StreamClient maintains a WebSocket connection to a vendor activity
// stream, reconnecting with exponential backoff on connection loss.
type StreamClient struct {
	url     string
	token   string
	handler Handler
	logger  *zap.Logger

	conn      *websocket.Conn
	connected bool
	reconnect bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewStreamClient creates a stream client delivering decoded activities
// to handler.
func NewStreamClient(url, token string, handler Handler, logger *zap.Logger) *StreamClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamClient{
		url:       url,
		token:     token,
		handler:   handler,
		logger:    logger,
		reconnect: true,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect dials the stream endpoint, authenticates and starts the
// background receiver.
func (c *StreamClient) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to activity stream: %w", err)
	}
	c.conn = conn

	var hello streamFrame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to read stream greeting: %w", err)
	}
	if hello.Type != "auth_required" {
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("expected auth_required, got %s", hello.Type)
	}

	c.writeMu.Lock()
	err = conn.WriteJSON(authFrame{Type: "auth", Token: c.token})
	c.writeMu.Unlock()
	if err != nil {
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResp streamFrame
	if err := conn.ReadJSON(&authResp); err != nil {
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if authResp.Type != "auth_ok" {
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("stream authentication failed: %s", authResp.Type)
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.connected = true
	c.reconnect = true
	c.connMu.Unlock()

	c.logger.Info("Connected to activity stream", zap.String("url", c.url))

	go c.receive()
	return nil
}

// Disconnect closes the connection and disables reconnection.
func (c *StreamClient) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}

	c.logger.Info("Disconnected from activity stream")
	return nil
}

// IsConnected reports whether the stream is currently connected.
func (c *StreamClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *StreamClient) receive() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}

		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			c.logger.Error("Failed to read stream frame", zap.Error(err))
			c.handleDisconnect()
			return
		}

		if frame.Type != "activity" {
			continue
		}
		acts := decodeActivities(frame.Activities, c.logger)
		if len(acts) > 0 {
			c.handler(acts)
		}
	}
}

func (c *StreamClient) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	shouldReconnect := c.reconnect
	c.connMu.Unlock()

	c.logger.Warn("Activity stream connection lost")

	if shouldReconnect {
		go c.attemptReconnect()
	}
}

func (c *StreamClient) attemptReconnect() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting stream reconnect...")

		if err := c.Connect(); err != nil {
			c.logger.Error("Stream reconnect failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return
	}
}

// decodeActivities converts wire records into typed activities, dropping
// records without the fields the merge path requires.
func decodeActivities(wire []wireActivity, logger *zap.Logger) []source.Activity {
	out := make([]source.Activity, 0, len(wire))
	for _, w := range wire {
		if w.DeviceID == "" || w.Type == "" || w.StartTime.IsZero() {
			logger.Warn("Dropping malformed push activity",
				zap.String("device_id", w.DeviceID),
				zap.String("activity_type", w.Type))
			continue
		}
		out = append(out, source.Activity{
			DeviceID:  w.DeviceID,
			Type:      source.ActivityType(w.Type),
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
			Origin:    source.OriginPush,
			Payload:   w.Payload,
		})
	}
	return out
}

// decodePayload parses a raw JSON payload holding either a single
// activity or a batch. Shared by the MQTT transport.
func decodePayload(payload []byte, logger *zap.Logger) []source.Activity {
	var batch []wireActivity
	if err := json.Unmarshal(payload, &batch); err == nil {
		return decodeActivities(batch, logger)
	}

	var single wireActivity
	if err := json.Unmarshal(payload, &single); err != nil {
		logger.Warn("Failed to decode push payload", zap.Error(err))
		return nil
	}
	return decodeActivities([]wireActivity{single}, logger)
}

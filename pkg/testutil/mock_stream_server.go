// Package testutil provides test doubles for devicesync consumers: a
// mock vendor activity-stream WebSocket server for exercising the push
// transport end to end.
package testutil

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MockStreamServer simulates a vendor activity-stream endpoint speaking
// the auth_required / auth / auth_ok handshake followed by activity
// frames.
type MockStreamServer struct {
	httpServer *httptest.Server
	token      string

	connsMu sync.Mutex
	conns   []*connWrapper
}

type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// WireActivity is the wire shape of one pushed activity record.
type WireActivity struct {
	DeviceID  string         `json:"device_id"`
	Type      string         `json:"activity_type"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type frame struct {
	Type       string         `json:"type"`
	Activities []WireActivity `json:"activities,omitempty"`
}

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// NewMockStreamServer starts a stream server accepting the given token.
func NewMockStreamServer(token string) *MockStreamServer {
	s := &MockStreamServer{token: token}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleWebSocket)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// URL returns the ws:// URL clients should dial.
func (s *MockStreamServer) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/stream"
}

// Close shuts the server down and drops all connections.
func (s *MockStreamServer) Close() {
	s.connsMu.Lock()
	for _, w := range s.conns {
		w.conn.Close()
	}
	s.conns = nil
	s.connsMu.Unlock()

	s.httpServer.Close()
}

// ConnectionCount returns the number of authenticated connections.
func (s *MockStreamServer) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// PushActivities broadcasts an activity frame to every connection.
func (s *MockStreamServer) PushActivities(activities ...WireActivity) {
	payload := frame{Type: "activity", Activities: activities}

	s.connsMu.Lock()
	conns := append([]*connWrapper(nil), s.conns...)
	s.connsMu.Unlock()

	for _, w := range conns {
		w.writeMu.Lock()
		if err := w.conn.WriteJSON(payload); err != nil {
			log.Printf("mock stream: failed to push frame: %v", err)
		}
		w.writeMu.Unlock()
	}
}

// DropConnections closes every connection without stopping the server,
// simulating a vendor-side outage.
func (s *MockStreamServer) DropConnections() {
	s.connsMu.Lock()
	for _, w := range s.conns {
		w.conn.Close()
	}
	s.conns = nil
	s.connsMu.Unlock()
}

func (s *MockStreamServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("mock stream: upgrade failed: %v", err)
		return
	}

	wrapper := &connWrapper{conn: conn}

	wrapper.writeMu.Lock()
	err = conn.WriteJSON(frame{Type: "auth_required"})
	wrapper.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return
	}

	var auth authFrame
	if err := conn.ReadJSON(&auth); err != nil || auth.Type != "auth" || auth.Token != s.token {
		wrapper.writeMu.Lock()
		conn.WriteJSON(frame{Type: "auth_invalid"})
		wrapper.writeMu.Unlock()
		conn.Close()
		return
	}

	wrapper.writeMu.Lock()
	err = conn.WriteJSON(frame{Type: "auth_ok"})
	wrapper.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return
	}

	s.connsMu.Lock()
	s.conns = append(s.conns, wrapper)
	s.connsMu.Unlock()

	// Drain client frames until the connection dies.
	go func() {
		for {
			var msg json.RawMessage
			if err := conn.ReadJSON(&msg); err != nil {
				s.removeConn(wrapper)
				return
			}
		}
	}()
}

func (s *MockStreamServer) removeConn(target *connWrapper) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for i, w := range s.conns {
		if w == target {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
}

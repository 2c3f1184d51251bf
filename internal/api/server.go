package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"devicesync/internal/coordinator"
	"devicesync/pkg/source"

	"go.uber.org/zap"
)

// Server exposes diagnostics for a coordinator instance over HTTP.
type Server struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
	server *http.Server
}

// NewServer creates the diagnostics server for a coordinator.
func NewServer(coord *coordinator.Coordinator, logger *zap.Logger, port int) *Server {
	s := &Server{
		coord:  coord,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/coordinator", s.handleCoordinator)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/devices/", s.handleDevice)
	mux.Handle("/metrics", coord.Metrics().Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// CoordinatorResponse is the JSON shape of /api/coordinator.
type CoordinatorResponse struct {
	State      string     `json:"state"`
	LastUpdate *time.Time `json:"last_update,omitempty"`
}

func (s *Server) handleCoordinator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := CoordinatorResponse{State: s.coord.CurrentState().String()}
	if last := s.coord.LastUpdate(); !last.IsZero() {
		resp.LastUpdate = &last
	}
	s.writeJSON(w, resp)
}

// DeviceResponse is one device's roster entry plus its freshest snapshot.
type DeviceResponse struct {
	Device source.Device          `json:"device"`
	Detail *source.DetailSnapshot `json:"detail,omitempty"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices := s.coord.Devices()
	out := make([]DeviceResponse, 0, len(devices))
	for _, dev := range devices {
		out = append(out, DeviceResponse{
			Device: dev,
			Detail: s.coord.AnyDetail(dev.ID),
		})
	}
	s.writeJSON(w, out)

	s.logger.Debug("Device list served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("devices", len(out)))
}

// DeviceDetailResponse is the JSON shape of /api/devices/{id}.
type DeviceDetailResponse struct {
	Device   source.Device                           `json:"device"`
	Detail   *source.DetailSnapshot                  `json:"detail,omitempty"`
	Activity map[source.ActivityType]source.Activity `json:"activity,omitempty"`
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/devices/"), "/")
	parts := strings.Split(rest, "/")
	deviceID := parts[0]
	if deviceID == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "activity") {
		http.NotFound(w, r)
		return
	}

	var found *source.Device
	for _, dev := range s.coord.Devices() {
		if dev.ID == deviceID {
			d := dev
			found = &d
			break
		}
	}
	if found == nil {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 2 {
		s.writeJSON(w, s.coord.ActivitiesByDevice(deviceID))
		return
	}

	s.writeJSON(w, DeviceDetailResponse{
		Device:   *found,
		Detail:   s.coord.AnyDetail(deviceID),
		Activity: s.coord.ActivitiesByDevice(deviceID),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"state":  s.coord.CurrentState().String(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}

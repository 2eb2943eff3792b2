// v1
// internal/httpapi/server.go
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/mais4719/air-quality-monitoring/internal/config"
	"github.com/mais4719/air-quality-monitoring/internal/engine"
	"github.com/mais4719/air-quality-monitoring/internal/observability"
	"github.com/mais4719/air-quality-monitoring/internal/store"
)

// StatusSource reports the engine's last observed state.
type StatusSource interface {
	Status() engine.Status
}

// Server exposes the read-only HTTP surface: health probes, the
// current consensus, per-sensor detail and Prometheus metrics.
type Server struct {
	cfg     *config.Config
	lg      *slog.Logger
	engine  StatusSource
	store   *store.Store
	metrics *observability.Metrics
	http    *http.Server
}

func NewServer(cfg *config.Config, lg *slog.Logger, eng StatusSource, st *store.Store, m *observability.Metrics) *Server {
	s := &Server{cfg: cfg, lg: lg, engine: eng, store: st, metrics: m}

	r := mux.NewRouter()
	s.route(r, "/health", s.getHealth)
	s.route(r, "/health/live", s.getLive)
	s.route(r, "/health/ready", s.getReady)
	s.route(r, "/aqi/current", s.getCurrent)
	s.route(r, "/aqi/sensors", s.getSensors)
	s.route(r, "/status", s.getStatus)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handlers.LoggingHandler(os.Stdout, r),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) route(r *mux.Router, path string, h http.HandlerFunc) {
	r.Handle(path, s.metrics.WrapHandler(path, h)).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.lg.Info("http server starting", "bind", s.cfg.ListenAddress)
	return s.http.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.lg.Info("http server stopping")
	return s.http.Shutdown(ctx)
}

// Handler returns the server's root handler. Tests use it with httptest.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

type colorDTO struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

type currentResponse struct {
	ConsensusAQI *float64  `json:"consensus_aqi"`
	LevelName    string    `json:"level_name"`
	Color        colorDTO  `json:"color"`
	LastUpdate   time.Time `json:"last_update"`
	LastError    *string   `json:"last_error"`
}

type statusResponse struct {
	Healthy           bool      `json:"healthy"`
	SensorsReporting  int       `json:"sensors_reporting"`
	SensorsConfigured int       `json:"sensors_configured"`
	Ticks             uint64    `json:"ticks"`
	Gated             bool      `json:"gated"`
	LastUpdate        time.Time `json:"last_update"`
}

type sensorResponse struct {
	SensorID     string    `json:"sensor_id"`
	Name         string    `json:"name"`
	AQI          float64   `json:"aqi"`
	PM25         float64   `json:"pm2_5"`
	TemperatureC float64   `json:"temperature_c"`
	Humidity     float64   `json:"humidity"`
	Pressure     float64   `json:"pressure"`
	ObservedAt   time.Time `json:"observed_at"`
	Stale        bool      `json:"stale"`
	AgeSeconds   float64   `json:"age_seconds"`
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) getLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// getReady reports 503 until the first tick has completed and while
// the engine has been without data for too many consecutive ticks.
func (s *Server) getReady(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	if st.Ticks == 0 || !st.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func (s *Server) getCurrent(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, currentResponse{
		ConsensusAQI: st.ConsensusAQI,
		LevelName:    st.LevelName,
		Color:        colorDTO{R: st.Color.R, G: st.Color.G, B: st.Color.B},
		LastUpdate:   st.LastUpdate,
		LastError:    st.LastError,
	})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Healthy:           st.Healthy,
		SensorsReporting:  st.SensorsReporting,
		SensorsConfigured: st.SensorsConfigured,
		Ticks:             st.Ticks,
		Gated:             st.Gated,
		LastUpdate:        st.LastUpdate,
	})
}

func (s *Server) getSensors(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot(time.Now())
	out := make([]sensorResponse, 0, len(snap))
	for _, ss := range snap {
		out = append(out, sensorResponse{
			SensorID:     ss.Reading.SensorID,
			Name:         ss.Reading.Name,
			AQI:          ss.Reading.AQI,
			PM25:         ss.Reading.PM25,
			TemperatureC: ss.Reading.TemperatureC,
			Humidity:     ss.Reading.Humidity,
			Pressure:     ss.Reading.Pressure,
			ObservedAt:   ss.Reading.ObservedAt,
			Stale:        ss.Stale,
			AgeSeconds:   ss.Age.Seconds(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

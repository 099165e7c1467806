// Package ops serves the operator-facing HTTP surface: health, counters,
// breaker and dedup introspection, Prometheus scrapes, and a live WebSocket
// event stream. It is optional; the engine runs headless without it.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/freightdoom/engine/internal/circuitbreaker"
	"github.com/freightdoom/engine/internal/dedup"
	"github.com/freightdoom/engine/internal/events"
	"github.com/freightdoom/engine/internal/metrics"
	"github.com/freightdoom/engine/internal/models"
	"github.com/freightdoom/engine/internal/scanners"
)

// Server is the ops HTTP server.
type Server struct {
	collector *metrics.Collector
	dedup     *dedup.Engine
	tap       *events.Tap
	prom      *metrics.PromMetrics
	pollers   []scanners.Scanner
	port      int

	mu sync.Mutex
	ln net.Listener
}

// New creates an ops server. prom may be nil, in which case /metrics 404s.
func New(collector *metrics.Collector, dd *dedup.Engine, tap *events.Tap, prom *metrics.PromMetrics, pollers []scanners.Scanner, port int) *Server {
	return &Server{
		collector: collector,
		dedup:     dd,
		tap:       tap,
		prom:      prom,
		pollers:   pollers,
		port:      port,
	}
}

// Addr returns the bound address, or nil before Run has bound the listener.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/breakers", s.handleBreakers).Methods(http.MethodGet)
	r.HandleFunc("/dedup", s.handleDedup).Methods(http.MethodGet)
	if s.prom != nil {
		r.Handle("/metrics", s.prom.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws/events", s.handleEventStream)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", s.port))
	if err != nil {
		log.WithError(err).WithField("port", s.port).Error("failed to bind ops server")
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the websocket stream writes indefinitely
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", ln.Addr().String()).Info("ops server listening")

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info("ops server shut down")
	return nil
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Scanners []models.ScannerHealth `json:"scanners"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "operational"}
	for _, p := range s.pollers {
		resp.Scanners = append(resp.Scanners, s.collector.Health(p.Source(), p.Breaker().State().String()))
	}
	writeJSON(w, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.collector.Snapshot())
}

func (s *Server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	snaps := make([]circuitbreaker.Snapshot, 0, len(s.pollers))
	for _, p := range s.pollers {
		snaps = append(snaps, p.Breaker().Snapshot())
	}
	writeJSON(w, snaps)
}

func (s *Server) handleDedup(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.dedup.Snapshot())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("ops response encode failed")
	}
}

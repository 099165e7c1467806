package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Server is the plain TCP metrics endpoint. Every accepted connection
// receives one HTTP/1.1 response carrying the current snapshot as JSON; the
// incoming request is never read. Consumers poll it with a bare GET.
type Server struct {
	collector *Collector
	port      int

	mu sync.Mutex
	ln net.Listener
}

// NewServer creates a metrics server on the given port. Port 0 binds an
// ephemeral port, which tests use.
func NewServer(collector *Collector, port int) *Server {
	return &Server{collector: collector, port: port}
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

// Run accepts connections until ctx is cancelled. Connections are served
// serially; each response is a snapshot taken at accept time.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", s.port))
	if err != nil {
		log.WithError(err).WithField("port", s.port).Error("failed to bind metrics server")
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.WithField("addr", ln.Addr().String()).Info("metrics server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Info("metrics server shutting down")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				log.WithError(err).Error("metrics listener closed unexpectedly")
				return err
			}
			log.WithError(err).Error("metrics server accept error")
			// Transient accept failures (fd exhaustion and the like)
			// should not spin the loop.
			time.Sleep(100 * time.Millisecond)
			continue
		}
		s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	body, err := json.MarshalIndent(s.collector.Snapshot(), "", "  ")
	if err != nil {
		body = []byte("{}")
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprintf(conn,
		"HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nAccess-Control-Allow-Origin: *\r\nContent-Length: %d\r\n\r\n%s",
		len(body), body)
}

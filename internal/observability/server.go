package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// MetricsServer exposes /metrics. It is a lifecycle component.
type MetricsServer struct {
	addr string

	runMutex sync.Mutex
	server   *http.Server
	bound    string
	done     chan struct{}
}

func NewMetricsServer(addr string) *MetricsServer {
	return &MetricsServer{addr: addr}
}

func (s *MetricsServer) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.server != nil || s.addr == "" {
		return nil
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.bound = listener.Addr().String()
	s.done = make(chan struct{})

	server, done := s.server, s.done
	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.getLogEntry().WithError(err).Error("metrics server failed")
		}
	}()
	s.getLogEntry().WithField("addr", s.bound).Info("metrics server started")
	return nil
}

// Addr returns the bound address while the server runs.
func (s *MetricsServer) Addr() string {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	return s.bound
}

func (s *MetricsServer) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	server, done := s.server, s.done
	s.server = nil
	s.bound = ""
	s.done = nil
	s.runMutex.Unlock()
	if server == nil {
		return nil
	}

	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MetricsServer) getLogEntry() *log.Entry {
	return log.WithField("object", "MetricsServer")
}

// Package control serves a running daemon's status on the local IPC socket.
//
// One listener carries two protocols, split by cmux: gRPC health checking
// (service "clipsync" is SERVING while a peer is connected) and a small
// HTTP/JSON surface on a grpc-gateway mux for scripts and curl.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/tcppeer"
)

// ServiceName is the health-checked service.
const ServiceName = "clipsync"

const (
	StatusPath = "/v1/status"
	HealthPath = "/v1/health"
)

// StatusSource supplies the snapshot served on StatusPath.
type StatusSource interface {
	Status() engine.Status
}

// Server is the control endpoint. It implements tcppeer.StateListener so
// health follows the link.
type Server struct {
	src    StatusSource
	log    *slog.Logger
	health *health.Server
	grpc   *grpc.Server
	http   *http.Server
}

// New builds a Server over src. log may be nil.
func New(src StatusSource, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		src:    src,
		log:    log,
		health: health.NewServer(),
		grpc:   grpc.NewServer(),
	}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)

	mux := gwruntime.NewServeMux()
	_ = mux.HandlePath(http.MethodGet, StatusPath, s.handleStatus)
	_ = mux.HandlePath(http.MethodGet, HealthPath, s.handleHealth)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// OnStateChange implements tcppeer.StateListener.
func (s *Server) OnStateChange(state tcppeer.State, _ string) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if state == tcppeer.StateConnected {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Serve accepts on ln until ctx is cancelled, then closes ln and returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	m := cmux.New(ln)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.HTTP1Fast())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.grpc.Serve(grpcL) })
	g.Go(func() error { return s.http.Serve(httpL) })
	g.Go(func() error { return m.Serve() })
	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()
		s.grpc.Stop()
		_ = s.http.Close()
		_ = ln.Close()
		return nil
	})

	s.log.Info("control socket listening", "addr", ln.Addr())
	err := g.Wait()
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.src.Status()); err != nil {
		s.log.Debug("status write failed", "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.health.Check(r.Context(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	b, err := protojson.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write(b)
}

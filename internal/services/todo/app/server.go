// Package server wires the todo runtime: storage, the interceptor lifecycle,
// the HTTP host, and the gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/louisbranch/todo.space/internal/platform/httpx"
	"github.com/louisbranch/todo.space/internal/platform/storage/keyval"
	"github.com/louisbranch/todo.space/internal/platform/timeouts"
	"github.com/louisbranch/todo.space/internal/services/interceptor"
	"github.com/louisbranch/todo.space/internal/services/interceptor/cachetier"
	"github.com/louisbranch/todo.space/internal/services/todo"
	"github.com/louisbranch/todo.space/internal/services/todo/static"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name that tracks the lifecycle.
const HealthService = "todo.space.Interceptor"

const cacheFile = "cache.db"

// Config defines startup inputs for the todo service.
type Config struct {
	HTTPAddr string
	// HealthAddr serves gRPC health checks. Empty disables the endpoint.
	HealthAddr string
	DataDir    string
	// CacheVersion tags the cache tier installed at startup.
	CacheVersion string
	// Manifest lists the paths cached at install. Nil uses the embedded
	// asset manifest.
	Manifest []string
	// OriginURL fetches assets from a remote origin instead of the embedded
	// files.
	OriginURL string
	Debug     bool
	Logger    *log.Logger
}

// Server hosts the todo HTTP surface and lifecycle.
type Server struct {
	logger *log.Logger

	httpListener net.Listener
	httpServer   *http.Server

	healthListener net.Listener
	grpcServer     *grpc.Server
	health         *health.Server

	databases *keyval.Databases
	caches    *cachetier.Storage
	manager   *interceptor.Manager

	closeOnce sync.Once
}

// NewServer opens storage, registers the todo routes, and binds listeners.
// Nothing is served until Serve.
func NewServer(ctx context.Context, cfg Config) (_ *Server, err error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		return nil, errors.New("data dir is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{logger: logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.databases = keyval.NewDatabases(dataDir)
	store, err := s.databases.Default(ctx)
	if err != nil {
		return nil, fmt.Errorf("open todo store: %w", err)
	}
	s.caches, err = cachetier.Open(ctx, filepath.Join(dataDir, cacheFile))
	if err != nil {
		return nil, fmt.Errorf("open cache storage: %w", err)
	}

	router := interceptor.NewRouter(interceptor.RouterConfig{
		Cache:  s.caches,
		Logger: logger,
	})
	todos, err := todo.NewService(store)
	if err != nil {
		return nil, err
	}
	if err := todos.Register(router); err != nil {
		return nil, fmt.Errorf("register todo routes: %w", err)
	}

	origin, fetcher, err := newOrigin(cfg.OriginURL)
	if err != nil {
		return nil, err
	}
	manifest := cfg.Manifest
	if manifest == nil {
		manifest = slices.Clone(static.Manifest)
	}
	s.manager, err = interceptor.NewManager(interceptor.ManagerConfig{
		Options: interceptor.Options{
			Version: cfg.CacheVersion,
			Cache:   manifest,
			Debug:   cfg.Debug,
		},
		Router:  router,
		Caches:  s.caches,
		Fetcher: fetcher,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init lifecycle: %w", err)
	}

	if healthAddr := strings.TrimSpace(cfg.HealthAddr); healthAddr != "" {
		s.healthListener, err = net.Listen("tcp", healthAddr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", healthAddr, err)
		}
		s.grpcServer = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
		s.health = health.NewServer()
		grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
		s.setServing(s.manager.Phase())
		s.manager.OnPhase(s.setServing)
	}

	s.httpListener, err = net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	host := interceptor.Host{Manager: s.manager, Origin: origin, Logger: logger}
	s.httpServer = &http.Server{
		Handler: httpx.Chain(host,
			httpx.RecoverPanic(logger),
			httpx.RequestID("todo"),
			httpx.RequestLogger(logger),
		),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	return s, nil
}

// newOrigin returns the handler serving uncontrolled requests and the fetcher
// filling the cache at install: the embedded assets, or a remote origin.
func newOrigin(rawURL string) (http.Handler, cachetier.Fetcher, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		origin := static.Handler()
		return origin, cachetier.HandlerFetcher{Origin: origin}, nil
	}
	base, err := url.Parse(rawURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, nil, fmt.Errorf("invalid origin url %q", rawURL)
	}
	fetcher := cachetier.HTTPFetcher{
		BaseURL: base.String(),
		Client:  &http.Client{Timeout: timeouts.OriginFetch},
	}
	return httputil.NewSingleHostReverseProxy(base), fetcher, nil
}

func (s *Server) setServing(phase interceptor.Phase) {
	if s.health == nil {
		return
	}
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if phase == interceptor.PhaseActivated {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
}

// Addr returns the HTTP listener address.
func (s *Server) Addr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// HealthAddr returns the gRPC health listener address, or "" when disabled.
func (s *Server) HealthAddr() string {
	if s == nil || s.healthListener == nil {
		return ""
	}
	return s.healthListener.Addr().String()
}

// Manager exposes the lifecycle manager.
func (s *Server) Manager() *interceptor.Manager {
	if s == nil {
		return nil
	}
	return s.manager
}

// Run creates and serves a todo server until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts both listeners, installs and activates the cache version, and
// blocks until ctx is canceled or a component fails.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	defer s.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Printf("todo http listening at %v", s.httpListener.Addr())
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve todo http: %w", err)
		}
		return nil
	})
	if s.grpcServer != nil {
		group.Go(func() error {
			s.logger.Printf("todo health listening at %v", s.healthListener.Addr())
			if err := s.grpcServer.Serve(s.healthListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("serve gRPC health: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return s.start(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		if s.health != nil {
			s.health.Shutdown()
		}
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown todo http server: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// start installs the cache version and activates it right away.
func (s *Server) start(ctx context.Context) error {
	installCtx, cancel := context.WithTimeout(ctx, timeouts.Install)
	defer cancel()
	if err := s.manager.Install(installCtx); err != nil {
		return err
	}
	if err := s.manager.Activate(ctx); err != nil {
		return err
	}
	s.logger.Printf("todo ready version=%s", s.manager.ActiveVersion())
	return nil
}

// Close releases server resources. It is safe to call more than once.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(s.close)
}

func (s *Server) close() {
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.healthListener != nil {
		_ = s.healthListener.Close()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.caches != nil {
		if err := s.caches.Close(); err != nil {
			s.logger.Printf("close cache storage: %v", err)
		}
	}
	if s.databases != nil {
		if err := s.databases.Close(); err != nil {
			s.logger.Printf("close todo databases: %v", err)
		}
	}
}

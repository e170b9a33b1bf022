// Package todo parses todo service flags and launches the service.
package todo

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/todo.space/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/todo.space/internal/platform/grpc"
	server "github.com/louisbranch/todo.space/internal/services/todo/app"
)

// Config holds todo command configuration.
type Config struct {
	HTTPAddr     string   `env:"TODO_SPACE_HTTP_ADDR" envDefault:"localhost:8080"`
	HealthAddr   string   `env:"TODO_SPACE_HEALTH_ADDR" envDefault:"localhost:8081"`
	DataDir      string   `env:"TODO_SPACE_DATA_DIR" envDefault:"data"`
	CacheVersion string   `env:"TODO_SPACE_CACHE_VERSION" envDefault:"1"`
	Manifest     []string `env:"TODO_SPACE_CACHE_MANIFEST"`
	OriginURL    string   `env:"TODO_SPACE_ORIGIN_URL"`
	Debug        bool     `env:"TODO_SPACE_DEBUG"`
	// HealthCheck checks a running instance instead of serving.
	HealthCheck bool
}

const healthCheckTimeout = 5 * time.Second

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	manifest := strings.Join(cfg.Manifest, ",")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding the SQLite databases")
	fs.StringVar(&cfg.CacheVersion, "cache-version", cfg.CacheVersion, "Cache version tag installed at startup")
	fs.StringVar(&manifest, "cache-manifest", manifest, "Comma-separated paths cached at install (empty uses the embedded assets)")
	fs.StringVar(&cfg.OriginURL, "origin-url", cfg.OriginURL, "Remote origin base URL (empty serves the embedded assets)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Log every intercepted request")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "Exit 0 once the instance at -health-addr reports SERVING")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Manifest = splitManifest(manifest)
	return cfg, nil
}

// Run starts the todo service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTodo, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:     cfg.HTTPAddr,
			HealthAddr:   cfg.HealthAddr,
			DataDir:      cfg.DataDir,
			CacheVersion: cfg.CacheVersion,
			Manifest:     cfg.Manifest,
			OriginURL:    cfg.OriginURL,
			Debug:        cfg.Debug,
		}); err != nil {
			return fmt.Errorf("serve todo: %w", err)
		}
		return nil
	})
}

// Check waits for the instance at cfg.HealthAddr to report SERVING.
func Check(ctx context.Context, cfg Config) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := platformgrpc.Probe(ctx, cfg.HealthAddr, server.HealthService, log.Printf); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

func splitManifest(raw string) []string {
	var paths []string
	for _, path := range strings.Split(raw, ",") {
		if path = strings.TrimSpace(path); path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

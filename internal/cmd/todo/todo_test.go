package todo

import (
	"context"
	"flag"
	"reflect"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("todo", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.HTTPAddr != "localhost:8080" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, "localhost:8080")
	}
	if cfg.HealthAddr != "localhost:8081" {
		t.Fatalf("HealthAddr = %q, want %q", cfg.HealthAddr, "localhost:8081")
	}
	if cfg.DataDir != "data" {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, "data")
	}
	if cfg.CacheVersion != "1" {
		t.Fatalf("CacheVersion = %q, want %q", cfg.CacheVersion, "1")
	}
	if cfg.Manifest != nil {
		t.Fatalf("Manifest = %v, want nil", cfg.Manifest)
	}
	if cfg.Debug {
		t.Fatal("Debug = true, want false")
	}
}

func TestParseConfigReadsEnv(t *testing.T) {
	t.Setenv("TODO_SPACE_HTTP_ADDR", "0.0.0.0:9000")
	t.Setenv("TODO_SPACE_CACHE_VERSION", "7")
	t.Setenv("TODO_SPACE_CACHE_MANIFEST", "/, /style.css")
	t.Setenv("TODO_SPACE_DEBUG", "true")

	fs := flag.NewFlagSet("todo", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:9000" || cfg.CacheVersion != "7" || !cfg.Debug {
		t.Fatalf("ParseConfig() = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Manifest, []string{"/", "/style.css"}) {
		t.Fatalf("Manifest = %v", cfg.Manifest)
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("TODO_SPACE_DATA_DIR", "/var/lib/todo")

	fs := flag.NewFlagSet("todo", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-data-dir", "/tmp/todo",
		"-cache-manifest", "/index.html,/app.js",
		"-health-addr", "",
	})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.DataDir != "/tmp/todo" {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, "/tmp/todo")
	}
	if !reflect.DeepEqual(cfg.Manifest, []string{"/index.html", "/app.js"}) {
		t.Fatalf("Manifest = %v", cfg.Manifest)
	}
	if cfg.HealthAddr != "" {
		t.Fatalf("HealthAddr = %q, want empty", cfg.HealthAddr)
	}
}

func TestParseConfigRejectsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("todo", flag.ContinueOnError)
	fs.SetOutput(discard{})
	if _, err := ParseConfig(fs, []string{"-nope"}); err == nil {
		t.Fatal("expected unknown flag error")
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestParseConfigHealthCheckFlag(t *testing.T) {
	fs := flag.NewFlagSet("todo", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-healthcheck", "-health-addr", "127.0.0.1:9"})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if !cfg.HealthCheck || cfg.HealthAddr != "127.0.0.1:9" {
		t.Fatalf("ParseConfig() = %+v", cfg)
	}
}

func TestCheckRequiresHealthAddr(t *testing.T) {
	if err := Check(context.Background(), Config{}); err == nil {
		t.Fatal("expected health address error")
	}
}

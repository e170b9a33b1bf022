// Package main starts the todo service: the request interceptor in front of
// the embedded todo client, with its key-value store and versioned cache.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	todocmd "github.com/louisbranch/todo.space/internal/cmd/todo"
	entrypoint "github.com/louisbranch/todo.space/internal/platform/cmd"
	"github.com/louisbranch/todo.space/internal/platform/config"
)

func main() {
	cfg, err := todocmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ServiceTodo))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HealthCheck {
		if err := todocmd.Check(ctx, cfg); err != nil {
			config.Exitf("%v", err)
		}
		return
	}
	if err := todocmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}

// Command overseer is the long-lived daemon: it builds an
// internal/app/runtime.Application from a config file and runs it until
// SIGINT/SIGTERM, then shuts down in dependency-reverse order.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ntounix-prog/glassdome/internal/app/runtime"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the glassdome configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := runtime.NewApplication(ctx, *configPath)
	if err != nil {
		log.Fatalf("initialize overseer: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("run overseer: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown overseer: %v", err)
	}
}

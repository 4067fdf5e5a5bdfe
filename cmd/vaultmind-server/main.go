// vaultmind-server - HTTP API (JSON и SSE) поверх тех же компонентов, что и TUI.
//
// Использование:
//
//	vaultmind-server [-config path/to/config.yaml] [-addr :8080]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilkoid/vaultmind/internal/server"
	"github.com/ilkoid/vaultmind/pkg/app"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "path to config.yaml")
	addrFlag := flag.String("addr", "", "listen address (overrides server.addr)")
	flag.Parse()

	cfg, cfgPath, err := app.InitializeConfig(&app.DefaultConfigPathFinder{ConfigFlag: *configFlag})
	if err != nil {
		return err
	}

	if err := utils.InitLogger(cfg.App.LogPrefix); err != nil {
		log.Printf("Warning: failed to init logger: %v", err)
	}
	utils.SetDebug(cfg.App.Debug)

	ctx, shutdown := utils.SetupGracefulShutdownWithContext()
	defer shutdown()

	utils.Info("Server starting", "config", cfgPath, "default_model", cfg.Models.Default)

	components, err := app.Initialize(ctx, cfg)
	if err != nil {
		utils.Error("Initialization failed", "error", err)
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			utils.Error("Failed to close components", "error", err)
		}
	}()

	addr := *addrFlag
	if addr == "" {
		addr = cfg.Server.GetDefaults().Addr
	}

	srv := server.New(components)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()
	log.Printf("Listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("Server shutdown failed", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}
	utils.Info("Server stopped")
	return nil
}

// vaultmind - TUI чат с моделью над локальным хранилищем заметок.
//
// Использование:
//
//	vaultmind [-config path/to/config.yaml] [-session id]
//
// Без -session создаётся новая сессия. С -session история сессии
// восстанавливается из хранилища.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/ilkoid/vaultmind/pkg/app"
	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/tui"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// eventBuffer - буфер канала событий между run и TUI.
const eventBuffer = 128

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "path to config.yaml")
	sessionFlag := flag.String("session", "", "session id to resume (new session if empty)")
	flag.Parse()

	// 1. Конфигурация
	cfg, cfgPath, err := app.InitializeConfig(&app.DefaultConfigPathFinder{ConfigFlag: *configFlag})
	if err != nil {
		return err
	}

	// 2. Логгер (TUI занимает stdout, поэтому только файл)
	if err := utils.InitLogger(cfg.App.LogPrefix); err != nil {
		log.Printf("Warning: failed to init logger: %v", err)
	}
	utils.SetDebug(cfg.App.Debug)

	ctx, shutdown := utils.SetupGracefulShutdownWithContext()
	defer shutdown()

	utils.Info("Application started", "config", cfgPath, "default_model", cfg.Models.Default)

	// 3. Компоненты
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

	// 4. Сессия и канал событий
	sessionID := *sessionFlag
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	emitter := events.NewChanEmitter(eventBuffer)
	defer emitter.Close()

	orch, err := components.NewSession(ctx, sessionID, emitter)
	if err != nil {
		utils.Error("Session creation failed", "session", sessionID, "error", err)
		return err
	}

	// 5. TUI
	sub := emitter.Subscribe()
	model := tui.NewModel(ctx, orch, components.Gate, sub, tui.Options{
		Title: "vaultmind · " + components.Vault.Root(),
		Theme: cfg.App.Theme,
		Debug: cfg.App.Debug,
	})

	utils.Info("Starting TUI", "session", sessionID)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		utils.Error("TUI error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}

	// Run мог остаться активным: его события больше никто не читает
	go func() {
		for range sub.Events() {
		}
	}()
	orch.Cancel()
	utils.Info("Application exited normally", "session", sessionID)
	fmt.Printf("Session: %s\n", sessionID)
	return nil
}

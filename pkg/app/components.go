// Package app собирает компоненты приложения из конфигурации.
//
// Используется обоими бинарниками (TUI и HTTP сервер), чтобы код
// инициализации не дублировался:
//
//	cfg, _, _ := app.InitializeConfig(&app.DefaultConfigPathFinder{})
//	c, _ := app.Initialize(ctx, cfg)
//	defer c.Close()
//	orch, _ := c.NewSession(ctx, sessionID, emitter)
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilkoid/vaultmind/pkg/chain"
	"github.com/ilkoid/vaultmind/pkg/config"
	"github.com/ilkoid/vaultmind/pkg/debug"
	"github.com/ilkoid/vaultmind/pkg/events"
	"github.com/ilkoid/vaultmind/pkg/factory"
	"github.com/ilkoid/vaultmind/pkg/llm"
	"github.com/ilkoid/vaultmind/pkg/permission"
	"github.com/ilkoid/vaultmind/pkg/prompt"
	"github.com/ilkoid/vaultmind/pkg/session"
	"github.com/ilkoid/vaultmind/pkg/tools"
	"github.com/ilkoid/vaultmind/pkg/tools/std"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// BuiltinPolicy - значение permission.policy_file для встроенной rego политики.
const BuiltinPolicy = "builtin"

// Components содержит разделяемые между сессиями компоненты.
//
// Client, Registry, Gate и Store общие. Engine и Orchestrator
// создаются на сессию в NewSession: у каждой сессии свой emitter.
type Components struct {
	Config   *config.AppConfig
	Client   llm.Client
	Registry *tools.Registry
	Vault    *std.Vault
	Gate     *permission.Gate
	Policy   permission.Policy
	Store    session.Store

	// Tracer пишет JSON трейсы run (nil, если app.trace_dir не задан).
	Tracer *debug.TraceEmitter

	// SystemPrompt отрендерен из orchestrator.system_prompt_file (пусто без файла).
	SystemPrompt string
}

// ConfigPathFinder определяет стратегию поиска пути к config.yaml.
type ConfigPathFinder interface {
	FindConfigPath() string
}

// DefaultConfigPathFinder реализует стандартную стратегию поиска config.yaml.
//
// Порядок поиска:
// 1. Флаг -config (если указан)
// 2. Текущая директория (./config.yaml)
// 3. Директория бинарника
// 4. Родительская директория (для запуска из cmd/)
type DefaultConfigPathFinder struct {
	// ConfigFlag - значение флага -config, если указан
	ConfigFlag string
}

// FindConfigPath находит путь к config.yaml.
func (f *DefaultConfigPathFinder) FindConfigPath() string {
	if f.ConfigFlag != "" {
		return resolveAbsPath(f.ConfigFlag)
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return resolveAbsPath("config.yaml")
	}

	if execPath, err := os.Executable(); err == nil {
		cfgPath := filepath.Join(filepath.Dir(execPath), "config.yaml")
		if _, err := os.Stat(cfgPath); err == nil {
			return cfgPath
		}
	}

	for _, cfgPath := range []string{
		filepath.Join("..", "..", "config.yaml"),
		filepath.Join("..", "config.yaml"),
	} {
		if _, err := os.Stat(cfgPath); err == nil {
			return resolveAbsPath(cfgPath)
		}
	}

	// Возвращаем дефолтный путь (даже если не существует)
	return resolveAbsPath("config.yaml")
}

func resolveAbsPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// InitializeConfig находит и загружает конфигурацию.
func InitializeConfig(finder ConfigPathFinder) (*config.AppConfig, string, error) {
	cfgPath := finder.FindConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config from %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// Initialize создаёт все разделяемые компоненты приложения.
func Initialize(ctx context.Context, cfg *config.AppConfig) (*Components, error) {
	modelDef, ok := cfg.GetModel("")
	if !ok {
		return nil, fmt.Errorf("default model '%s' not found in definitions", cfg.Models.Default)
	}

	client, err := factory.NewClient(ctx, modelDef, cfg.Retry)
	if err != nil {
		utils.Error("LLM client creation failed", "error", err)
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	utils.Info("LLM client created", "provider", modelDef.Provider, "model", modelDef.ModelName)

	vault, err := std.NewVault(cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	utils.Info("Vault opened", "root", vault.Root())

	registry := tools.NewRegistry()
	if err := SetupToolsFromConfig(registry, vault, cfg); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	policy, err := newPolicy(ctx, cfg.Permission)
	if err != nil {
		return nil, err
	}

	permCfg := cfg.Permission.GetDefaults()
	gate := permission.NewGate(permission.WithTimeout(permCfg.Timeout))

	store, err := session.Open(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	sessCfg := cfg.Session.GetDefaults()
	utils.Info("Session store opened", "driver", sessCfg.Driver, "dsn", sessCfg.DSN)

	systemPrompt, err := loadSystemPrompt(ctx, cfg, vault, registry)
	if err != nil {
		store.Close()
		return nil, err
	}

	var tracer *debug.TraceEmitter
	if cfg.App.TraceDir != "" {
		tracer, err = debug.NewTraceEmitter(debug.RecorderConfig{
			LogsDir:         cfg.App.TraceDir,
			IncludeToolArgs: true,
			MaxTextSize:     4000,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		utils.Info("Run traces enabled", "dir", cfg.App.TraceDir)
	}

	return &Components{
		Config:   cfg,
		Client:   client,
		Registry: registry,
		Vault:    vault,
		Gate:     gate,
		Policy:   policy,
		Store:    store,
		Tracer:   tracer,

		SystemPrompt: systemPrompt,
	}, nil
}

// loadSystemPrompt рендерит orchestrator.system_prompt_file, если он задан.
func loadSystemPrompt(ctx context.Context, cfg *config.AppConfig, vault *std.Vault, registry *tools.Registry) (string, error) {
	path := cfg.Orchestrator.SystemPromptFile
	if path == "" {
		return "", nil
	}

	var names []string
	for _, def := range registry.EnabledTools(ctx) {
		names = append(names, def.Name)
	}

	text, err := prompt.LoadSystemPrompt(path, prompt.SystemPromptData{
		VaultRoot: vault.Root(),
		Tools:     names,
		Date:      time.Now().Format("2006-01-02"),
	})
	if err != nil {
		return "", fmt.Errorf("load system prompt: %w", err)
	}
	utils.Info("System prompt loaded", "file", path, "tools", len(names))
	return text, nil
}

// newPolicy выбирает политику подтверждения: rego файл, встроенная rego или статическая.
func newPolicy(ctx context.Context, cfg config.PermissionConfig) (permission.Policy, error) {
	switch cfg.PolicyFile {
	case "":
		utils.Info("Using static permission policy", "confirm", len(cfg.Confirm))
		return permission.NewStaticPolicy(cfg.Confirm), nil
	case BuiltinPolicy:
		p, err := permission.NewRegoPolicy(ctx, permission.DefaultRegoPolicy)
		if err != nil {
			return nil, fmt.Errorf("compile builtin policy: %w", err)
		}
		utils.Info("Using builtin rego policy")
		return p, nil
	default:
		p, err := permission.LoadRegoPolicy(ctx, cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load policy %s: %w", cfg.PolicyFile, err)
		}
		utils.Info("Using rego policy", "file", cfg.PolicyFile)
		return p, nil
	}
}

// NewEngine создаёт ToolExecutionEngine для сессии.
func (c *Components) NewEngine(emitter events.Emitter) *tools.Engine {
	engine := tools.NewEngine(c.Registry,
		tools.WithApprover(c.Gate),
		tools.WithPolicy(c.Policy),
		tools.WithEmitter(emitter),
	)
	for name, tc := range c.Config.Tools {
		if tc.Timeout > 0 {
			engine.SetToolTimeout(name, tc.Timeout)
		}
	}
	return engine
}

// NewSession создаёт Orchestrator для сессии и восстанавливает её историю.
//
// Инструменты из permission.auto_approve сразу попадают в allow-list сессии.
func (c *Components) NewSession(ctx context.Context, sessionID string, emitter events.Emitter) (*chain.Orchestrator, error) {
	if c.Tracer != nil {
		emitter = events.MultiEmitter{emitter, c.Tracer}
	}

	orchCfg := chain.ConfigFrom(c.Config.Orchestrator)
	if c.SystemPrompt != "" {
		orchCfg.SystemPrompt = c.SystemPrompt
	}

	orch, err := chain.New(sessionID, chain.Dependencies{
		Client:   c.Client,
		Engine:   c.NewEngine(emitter),
		Registry: c.Registry,
		Store:    c.Store,
		Emitter:  emitter,
	}, orchCfg)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	if err := orch.Restore(ctx, c.Store); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	for _, name := range c.Config.Permission.AutoApprove {
		c.Gate.Allow(sessionID, name)
	}

	utils.Info("Session ready", "session", sessionID, "history", len(orch.History()))
	return orch, nil
}

// Close освобождает ресурсы (хранилище сессий).
func (c *Components) Close() error {
	var errs []error
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
	}
	return errors.Join(errs...)
}

package app

import (
	"fmt"

	"github.com/ilkoid/vaultmind/pkg/config"
	"github.com/ilkoid/vaultmind/pkg/tools"
	"github.com/ilkoid/vaultmind/pkg/tools/std"
	"github.com/ilkoid/vaultmind/pkg/utils"
)

// ToolNames - все инструменты, которые умеет регистрировать приложение.
var ToolNames = []string{
	"list_files",
	"search_files",
	"get_file_metadata",
	"read_file",
	"web_fetch",
	"write_file",
	"append_to_file",
	"delete_file",
}

// SetupToolsFromConfig регистрирует инструменты vault в реестре.
//
// Регистрируются все инструменты из ToolNames. Выключенные в секции
// tools остаются в реестре, но не отправляются модели и не вызываются.
// Незнакомые имена в конфиге логируются и пропускаются.
func SetupToolsFromConfig(registry *tools.Registry, vault *std.Vault, cfg *config.AppConfig) error {
	for name := range cfg.Tools {
		if !isKnownTool(name) {
			utils.Warn("Unknown tool in config, skipping", "tool", name)
		}
	}

	enabled := 0
	for _, name := range ToolNames {
		if err := registerTool(name, registry, vault, cfg); err != nil {
			return fmt.Errorf("tool %s: %w", name, err)
		}
		if !cfg.IsToolEnabled(name) {
			registry.SetEnabled(name, false)
			utils.Debug("Tool disabled by config", "tool", name)
			continue
		}
		enabled++
	}

	utils.Info("Tools registered", "total", len(ToolNames), "enabled", enabled)
	return nil
}

// registerTool создаёт инструмент по имени и добавляет в реестр.
func registerTool(name string, registry *tools.Registry, vault *std.Vault, cfg *config.AppConfig) error {
	toolCfg := cfg.Tools[name]

	var tool tools.Tool
	switch name {
	case "list_files":
		tool = std.NewListFilesTool(vault, toolCfg)
	case "search_files":
		tool = std.NewSearchFilesTool(vault, toolCfg)
	case "get_file_metadata":
		tool = std.NewFileMetadataTool(vault, toolCfg)
	case "read_file":
		tool = std.NewReadFileTool(vault, toolCfg)
	case "web_fetch":
		tool = std.NewWebFetchTool(cfg.Vault, toolCfg)
	case "write_file":
		tool = std.NewWriteFileTool(vault, toolCfg)
	case "append_to_file":
		tool = std.NewAppendFileTool(vault, toolCfg)
	case "delete_file":
		tool = std.NewDeleteFileTool(vault, toolCfg)
	default:
		return fmt.Errorf("unknown tool: %s", name)
	}

	return registry.Register(tool)
}

func isKnownTool(name string) bool {
	for _, n := range ToolNames {
		if n == name {
			return true
		}
	}
	return false
}

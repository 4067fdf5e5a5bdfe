package chain

import (
	"fmt"
	"time"

	"github.com/ilkoid/vaultmind/pkg/config"
)

// DefaultMaxTurns - стандартный лимит вызовов модели за один run.
const DefaultMaxTurns = 25

// DefaultSummaryPrompt отправляется один раз, если модель вернула пустой ответ.
const DefaultSummaryPrompt = "Summarize what you just did."

// DefaultDegradedMessage - ответ, если и повторный запрос вернулся пустым.
const DefaultDegradedMessage = "The task was completed, but I could not produce a summary."

// DefaultSystemPrompt - системный промпт по умолчанию.
const DefaultSystemPrompt = `You are a helpful assistant working with the user's notes vault.

Use the available tools to look up, read and change notes. Prefer cheap lookups
(list_files, search_files) before reading files. Never guess file contents.
When you have finished, answer the user in plain text.`

// Config - параметры Orchestrator.
type Config struct {
	SystemPrompt    string
	SummaryPrompt   string
	DegradedMessage string

	// MaxTurns ограничивает количество вызовов модели за run.
	MaxTurns int

	// RunTimeout - общий дедлайн run. 0 = без дедлайна.
	RunTimeout time.Duration

	// Streaming переключает между Client.Stream и Client.Send.
	Streaming bool
}

// NewConfig создаёт конфигурацию с дефолтными значениями.
func NewConfig() Config {
	return Config{
		SystemPrompt:    DefaultSystemPrompt,
		SummaryPrompt:   DefaultSummaryPrompt,
		DegradedMessage: DefaultDegradedMessage,
		MaxTurns:        DefaultMaxTurns,
		Streaming:       true,
	}
}

// ConfigFrom переносит секцию orchestrator из YAML.
func ConfigFrom(c config.OrchestratorConfig) Config {
	c = c.GetDefaults()
	cfg := NewConfig()
	if c.SystemPrompt != "" {
		cfg.SystemPrompt = c.SystemPrompt
	}
	cfg.SummaryPrompt = c.SummaryPrompt
	cfg.DegradedMessage = c.DegradedMessage
	cfg.MaxTurns = c.MaxTurns
	cfg.RunTimeout = c.RunTimeout
	cfg.Streaming = !c.DisableStreaming
	return cfg
}

// Validate проверяет конфигурацию на валидность.
func (c Config) Validate() error {
	if c.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive, got %d", c.MaxTurns)
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run_timeout must not be negative, got %v", c.RunTimeout)
	}
	if c.SummaryPrompt == "" {
		return fmt.Errorf("summary_prompt is required")
	}
	if c.DegradedMessage == "" {
		return fmt.Errorf("degraded_message is required")
	}
	return nil
}

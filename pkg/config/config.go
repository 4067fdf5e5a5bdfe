package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig - корневая структура конфигурации.
// Она зеркалит структуру config.yaml.
type AppConfig struct {
	Models       ModelsConfig          `yaml:"models"`
	Retry        RetryConfig           `yaml:"retry"`
	Permission   PermissionConfig      `yaml:"permission"`
	Orchestrator OrchestratorConfig    `yaml:"orchestrator"`
	Tools        map[string]ToolConfig `yaml:"tools"`
	Session      SessionConfig         `yaml:"session"`
	Vault        VaultConfig           `yaml:"vault"`
	Server       ServerConfig          `yaml:"server"`
	App          AppSpecific           `yaml:"app"`
}

// ModelsConfig - настройки AI моделей.
type ModelsConfig struct {
	Default     string              `yaml:"default"`     // Алиас по умолчанию (например, "gemini-flash")
	Definitions map[string]ModelDef `yaml:"definitions"` // Словарь определений моделей
}

// ModelDef - параметры конкретной модели.
type ModelDef struct {
	Provider    string        `yaml:"provider"`   // "gemini", "openai", "zai", "deepseek" и т.д.
	ModelName   string        `yaml:"model_name"` // Реальное имя в API
	APIKey      string        `yaml:"api_key"`    // Поддерживает ${VAR}
	BaseURL     string        `yaml:"base_url"`   // Для OpenAI-совместимых провайдеров
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	Timeout     time.Duration `yaml:"timeout"` // Go умеет парсить строки вида "60s", "1m"

	// RateLimit - запросов в секунду, 0 = без ограничения.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	// IncludeThoughts включает thought parts у thinking моделей (Gemini).
	IncludeThoughts bool `yaml:"include_thoughts"`
}

// RetryConfig - повторы временных ошибок модели.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *RetryConfig) GetDefaults() RetryConfig {
	result := *c
	if result.MaxRetries == 0 {
		result.MaxRetries = 3
	}
	if result.InitialBackoff == 0 {
		result.InitialBackoff = 500 * time.Millisecond
	}
	return result
}

// PermissionConfig - подтверждение опасных вызовов инструментов.
type PermissionConfig struct {
	Timeout time.Duration `yaml:"timeout"` // Сколько ждать решения пользователя

	// Confirm - дополнительные инструменты, требующие подтверждения.
	Confirm []string `yaml:"confirm"`

	// AutoApprove - инструменты, разрешённые без вопроса с самого старта сессии.
	AutoApprove []string `yaml:"auto_approve"`

	// PolicyFile - путь к rego модулю. Пусто = статическая политика.
	PolicyFile string `yaml:"policy_file"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *PermissionConfig) GetDefaults() PermissionConfig {
	result := *c
	if result.Timeout == 0 {
		result.Timeout = 60 * time.Second
	}
	return result
}

// OrchestratorConfig - параметры цикла диалога.
type OrchestratorConfig struct {
	MaxTurns        int           `yaml:"max_turns"`
	RunTimeout      time.Duration `yaml:"run_timeout"` // 0 = без общего дедлайна
	SystemPrompt    string        `yaml:"system_prompt"`
	SummaryPrompt   string        `yaml:"summary_prompt"`
	DegradedMessage string        `yaml:"degraded_message"`

	// SystemPromptFile - YAML шаблон промпта (pkg/prompt), перекрывает SystemPrompt.
	SystemPromptFile string `yaml:"system_prompt_file"`

	// DisableStreaming переключает оркестратор на Send вместо Stream.
	DisableStreaming bool `yaml:"disable_streaming"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *OrchestratorConfig) GetDefaults() OrchestratorConfig {
	result := *c
	if result.MaxTurns == 0 {
		result.MaxTurns = 25
	}
	if result.SummaryPrompt == "" {
		result.SummaryPrompt = "Summarize what you just did."
	}
	if result.DegradedMessage == "" {
		result.DegradedMessage = "The task was completed, but I could not produce a summary."
	}
	return result
}

// ToolConfig - настройки отдельного инструмента.
type ToolConfig struct {
	Enabled     *bool         `yaml:"enabled"`     // nil = включён
	Description string        `yaml:"description"` // Переопределяет описание для LLM
	Timeout     time.Duration `yaml:"timeout"`     // deadline ctx инструмента, 0 = без ограничения
}

// SessionConfig - хранилище истории диалогов.
type SessionConfig struct {
	Driver string `yaml:"driver"` // "memory" или "sqlite"
	DSN    string `yaml:"dsn"`    // Путь к файлу БД для sqlite
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *SessionConfig) GetDefaults() SessionConfig {
	result := *c
	if result.Driver == "" {
		result.Driver = "memory"
	}
	if result.Driver == "sqlite" && result.DSN == "" {
		result.DSN = "vaultmind.db"
	}
	return result
}

// VaultConfig - директория с заметками, с которой работают инструменты.
type VaultConfig struct {
	Root         string        `yaml:"root"`
	MaxFileBytes int64         `yaml:"max_file_bytes"`
	FetchRate    float64       `yaml:"fetch_rate"` // запросов в секунду для web_fetch
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *VaultConfig) GetDefaults() VaultConfig {
	result := *c
	if result.Root == "" {
		result.Root = "."
	}
	if result.MaxFileBytes == 0 {
		result.MaxFileBytes = 512 * 1024
	}
	if result.FetchRate == 0 {
		result.FetchRate = 1
	}
	if result.FetchTimeout == 0 {
		result.FetchTimeout = 20 * time.Second
	}
	return result
}

// ServerConfig - HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *ServerConfig) GetDefaults() ServerConfig {
	result := *c
	if result.Addr == "" {
		result.Addr = ":8080"
	}
	return result
}

// AppSpecific - общие настройки приложения.
type AppSpecific struct {
	Debug     bool   `yaml:"debug"`
	LogPrefix string `yaml:"log_prefix"`
	Theme     string `yaml:"theme"` // цветовая схема TUI: default, dark, light, dracula

	// TraceDir - директория JSON трейсов run. Пусто = трейсы не пишутся.
	TraceDir string `yaml:"trace_dir"`
}

// Load читает YAML файл, подставляет ENV переменные и возвращает готовую структуру.
func Load(path string) (*AppConfig, error) {
	// 1. Проверяем существование файла
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found at: %s", path)
	}

	// 2. Читаем файл целиком
	rawBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(rawBytes)
}

// Parse разбирает YAML из памяти. Используется Load и тестами.
func Parse(rawBytes []byte) (*AppConfig, error) {
	// Подставляем переменные окружения.
	// os.ExpandEnv заменяет ${VAR} или $VAR на значение из системы.
	contentWithEnv := os.ExpandEnv(string(rawBytes))

	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(contentWithEnv), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate проверяет обязательные поля.
func (c *AppConfig) validate() error {
	if len(c.Models.Definitions) == 0 {
		return fmt.Errorf("models.definitions must contain at least one model")
	}
	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}
	if _, ok := c.Models.Definitions[c.Models.Default]; !ok {
		return fmt.Errorf("default model '%s' is not defined in definitions", c.Models.Default)
	}
	for name, def := range c.Models.Definitions {
		if def.ModelName == "" {
			return fmt.Errorf("model '%s': model_name is required", name)
		}
		if def.Provider == "" {
			return fmt.Errorf("model '%s': provider is required", name)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Orchestrator.MaxTurns < 0 {
		return fmt.Errorf("orchestrator.max_turns must be >= 0")
	}
	switch c.Session.Driver {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("session.driver must be 'memory' or 'sqlite', got '%s'", c.Session.Driver)
	}
	return nil
}

// Helper методы для удобства доступа (Syntactic sugar)

// GetModel возвращает конфигурацию модели по умолчанию или по имени.
func (c *AppConfig) GetModel(name string) (ModelDef, bool) {
	if name == "" {
		name = c.Models.Default
	}
	m, ok := c.Models.Definitions[name]
	return m, ok
}

// IsToolEnabled сообщает включён ли инструмент. Отсутствующий в конфиге включён.
func (c *AppConfig) IsToolEnabled(name string) bool {
	tc, ok := c.Tools[name]
	if !ok || tc.Enabled == nil {
		return true
	}
	return *tc.Enabled
}

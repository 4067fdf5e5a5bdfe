// Структуры данных - описывает формат YAML файла промпта.

package prompt

// PromptFile описывает структуру YAML-файла с промптом
type PromptFile struct {
	Messages []Message `yaml:"messages"`
}

// Message - одно сообщение промпта
type Message struct {
	Role    string `yaml:"role"`    // system (остальные роли игнорируются для system prompt)
	Content string `yaml:"content"` // Шаблон с {{.Variables}}
}

// SystemPromptData - переменные, доступные в шаблоне системного промпта.
type SystemPromptData struct {
	VaultRoot string   // абсолютный путь хранилища
	Tools     []string // имена включённых инструментов
	Date      string   // текущая дата YYYY-MM-DD
}

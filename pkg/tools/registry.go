// Реестр для хранения и поиска инструментов.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/ilkoid/vaultmind/pkg/llm"
)

// ErrToolNotFound возвращается Get() для незарегистрированного инструмента.
var ErrToolNotFound = errors.New("tool not found")

// Registry - потокобезопасное хранилище инструментов.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	disabled map[string]bool
}

// NewRegistry создает новый пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		disabled: make(map[string]bool),
	}
}

// toolNamePattern - ограничение OpenAI и Gemini на имя функции.
var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// validateToolDefinition отсеивает определения, которые провайдер отвергнет
// уже на первом запросе: имя вне [a-zA-Z0-9_-]{1,64}, схема не "object",
// required с нестроковыми элементами или полями, которых нет в properties.
func validateToolDefinition(def llm.ToolDefinition) error {
	if def.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if !toolNamePattern.MatchString(def.Name) {
		return fmt.Errorf("tool %q: name must match %s", def.Name, toolNamePattern)
	}
	if def.Parameters == nil {
		return fmt.Errorf("tool %q: parameters cannot be nil", def.Name)
	}

	// Схему пишут литералами ([]string, map[string]any, вложенные JSONSchema),
	// поэтому сначала приводим её к виду, в котором уйдёт на провод.
	var schema struct {
		Type       *string        `json:"type"`
		Properties map[string]any `json:"properties"`
		Required   []any          `json:"required"`
	}
	raw, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("tool %q: failed to marshal parameters: %w", def.Name, err)
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("tool %q: invalid parameters schema: %w", def.Name, err)
	}

	switch {
	case schema.Type == nil:
		return fmt.Errorf("tool %q: parameters must have 'type' field", def.Name)
	case *schema.Type != "object":
		return fmt.Errorf("tool %q: parameters.type must be 'object', got %q", def.Name, *schema.Type)
	}

	for i, item := range schema.Required {
		field, ok := item.(string)
		if !ok {
			return fmt.Errorf("tool %q: parameters.required[%d] must be a string, got %T", def.Name, i, item)
		}
		if _, declared := schema.Properties[field]; !declared {
			return fmt.Errorf("tool %q: required field %q is not declared in properties", def.Name, field)
		}
	}
	return nil
}

// Register добавляет инструмент в реестр с валидацией схемы.
//
// Возвращает ошибку если определение инструмента не валидно
// или инструмент с таким именем уже зарегистрирован.
func (r *Registry) Register(tool Tool) error {
	def := tool.Definition()

	// Валидируем определение перед регистрацией
	if err := validateToolDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = tool
	return nil
}

// Get ищет инструмент по имени. Отключённые инструменты не находятся.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok || r.disabled[name] {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// SetEnabled включает или выключает инструмент без удаления из реестра.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		delete(r.disabled, name)
	} else {
		r.disabled[name] = true
	}
}

// EnabledTools возвращает определения включённых инструментов для отправки в LLM.
//
// Порядок детерминирован (по имени): одинаковый запрос даёт одинаковый payload.
func (r *Registry) EnabledTools(_ context.Context) []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		if r.disabled[name] {
			continue
		}
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Package debug записывает трейсы выполнения run в JSON файлы.
//
// Трейс собирается из событий run (pkg/events), поэтому подключается
// как ещё один Emitter и не требует изменений в оркестраторе:
//
//	tracer, _ := debug.NewTraceEmitter(debug.RecorderConfig{LogsDir: "./traces"})
//	emitter := events.MultiEmitter{ui, tracer}
package debug

import "time"

// RunTrace представляет полный трейс одного run.
//
// Сохраняется в JSON файл <run_id>.json.
type RunTrace struct {
	// RunID - идентификатор run (используется в имени файла)
	RunID string `json:"run_id"`

	SessionID string `json:"session_id"`

	// Timestamp - время первого события run
	Timestamp time.Time `json:"timestamp"`

	// UserQuery - исходный запрос пользователя
	UserQuery string `json:"user_query"`

	// Duration - общая длительность выполнения в миллисекундах
	Duration int64 `json:"duration_ms"`

	// State - итоговое состояние run (done, cancelled, failed, max_turns_reached)
	State string `json:"state"`

	// Turns - ходы модели по порядку
	Turns []Turn `json:"turns"`

	Summary Summary `json:"summary"`

	// FinalResult - финальный ответ (или частичный текст при отмене)
	FinalResult string `json:"final_result,omitempty"`

	// Error - ошибка если run завершился неудачно
	Error string `json:"error,omitempty"`
}

// Turn - один вызов модели и инструменты, запрошенные в этом ходе.
type Turn struct {
	// Number - номер хода (начиная с 1)
	Number int `json:"turn"`

	// Text - текст ответа модели за ход
	Text string `json:"text,omitempty"`

	// ToolsExecuted - инструменты в порядке вызова
	ToolsExecuted []ToolExecution `json:"tools_executed,omitempty"`

	// Permissions - запросы подтверждения и их итог
	Permissions []PermissionEntry `json:"permissions,omitempty"`
}

// ToolExecution описывает выполнение одного инструмента.
type ToolExecution struct {
	Name     string `json:"name"`
	Priority string `json:"priority,omitempty"`

	// Args - аргументы в JSON (может быть обрезано по MaxTextSize)
	Args string `json:"args,omitempty"`

	// Duration - длительность выполнения в миллисекундах
	Duration int64 `json:"duration_ms"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Completed - результат получен (false, если run прервался раньше)
	Completed bool `json:"completed"`
}

// PermissionEntry - запрос подтверждения.
type PermissionEntry struct {
	ID       string `json:"id"`
	ToolName string `json:"tool_name"`
	Status   string `json:"status"`
}

// Summary содержит агрегированную статистику выполнения.
type Summary struct {
	TotalTurns         int   `json:"total_turns"`
	TotalToolsExecuted int   `json:"total_tools_executed"`
	TotalToolDuration  int64 `json:"total_tool_duration_ms"`

	// Errors - список всех ошибок выполнения
	Errors []string `json:"errors,omitempty"`

	// VisitedTools - уникальные инструменты, которые были вызваны
	VisitedTools []string `json:"visited_tools,omitempty"`
}

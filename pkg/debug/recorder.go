package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Recorder собирает трейс одного run и сохраняет его в JSON файл.
//
// Потокобезопасен - может использоваться из разных горутин.
type Recorder struct {
	mu sync.Mutex

	config RecorderConfig

	trace RunTrace

	// current - текущий ход (nil до первого RecordTurn)
	current *Turn

	visitedTools map[string]struct{}
	errors       []string
}

// RecorderConfig конфигурация для создания Recorder.
type RecorderConfig struct {
	// LogsDir - директория для сохранения трейсов
	LogsDir string

	// IncludeToolArgs - включать аргументы инструментов в трейс
	IncludeToolArgs bool

	// MaxTextSize - максимальный размер текста и аргументов (превышение обрезается).
	// 0 означает без ограничений
	MaxTextSize int
}

// NewRecorder создаёт Recorder для run. Нулевой startedAt заменяется текущим временем.
func NewRecorder(cfg RecorderConfig, sessionID, runID string, startedAt time.Time) *Recorder {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return &Recorder{
		config: cfg,
		trace: RunTrace{
			RunID:     runID,
			SessionID: sessionID,
			Timestamp: startedAt,
		},
		visitedTools: make(map[string]struct{}),
		errors:       make([]string, 0),
	}
}

// Start запоминает запрос пользователя. Повторные вызовы не меняют его.
func (r *Recorder) Start(userQuery string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.trace.UserQuery == "" {
		r.trace.UserQuery = userQuery
	}
}

// RecordTurn начинает новый ход модели.
func (r *Recorder) RecordTurn(num int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endTurnLocked()
	r.current = &Turn{Number: num}
}

// RecordText запоминает накопленный текст текущего хода.
func (r *Recorder) RecordText(accumulated string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.turnLocked().Text = truncateString(accumulated, r.config.MaxTextSize)
}

// RecordToolCall записывает вызов инструмента. Результат дописывает RecordToolResult.
func (r *Recorder) RecordToolCall(name, priority string, args map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec := ToolExecution{Name: name, Priority: priority}
	if r.config.IncludeToolArgs && len(args) > 0 {
		if data, err := json.Marshal(args); err == nil {
			exec.Args = truncateString(string(data), r.config.MaxTextSize)
		}
	}

	turn := r.turnLocked()
	turn.ToolsExecuted = append(turn.ToolsExecuted, exec)
	r.visitedTools[name] = struct{}{}
}

// RecordToolResult дописывает результат к первому незавершённому вызову с этим именем.
func (r *Recorder) RecordToolResult(name string, success bool, errMsg string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	turn := r.turnLocked()
	idx := -1
	for i := range turn.ToolsExecuted {
		if turn.ToolsExecuted[i].Name == name && !turn.ToolsExecuted[i].Completed {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Результат без события вызова
		turn.ToolsExecuted = append(turn.ToolsExecuted, ToolExecution{Name: name})
		idx = len(turn.ToolsExecuted) - 1
		r.visitedTools[name] = struct{}{}
	}

	exec := &turn.ToolsExecuted[idx]
	exec.Completed = true
	exec.Success = success
	exec.Error = errMsg
	exec.Duration = duration.Milliseconds()

	if !success && errMsg != "" {
		r.errors = append(r.errors, fmt.Sprintf("Tool %s: %s", name, errMsg))
	}
}

// RecordPermission записывает итог запроса подтверждения.
func (r *Recorder) RecordPermission(id, toolName, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	turn := r.turnLocked()
	for i := range turn.Permissions {
		if turn.Permissions[i].ID == id {
			turn.Permissions[i].Status = status
			return
		}
	}
	turn.Permissions = append(turn.Permissions, PermissionEntry{ID: id, ToolName: toolName, Status: status})
}

// RecordError записывает ошибку run.
func (r *Recorder) RecordError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, msg)
}

// Finalize завершает запись и сохраняет трейс в файл.
//
// Возвращает путь к сохраненному файлу или ошибку.
func (r *Recorder) Finalize(state, finalResult, errMsg string, finishedAt time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endTurnLocked()

	r.trace.State = state
	r.trace.FinalResult = truncateString(finalResult, r.config.MaxTextSize)
	r.trace.Error = errMsg
	r.trace.Duration = finishedAt.Sub(r.trace.Timestamp).Milliseconds()
	r.buildSummary()

	data, err := json.MarshalIndent(r.trace, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run trace: %w", err)
	}

	filePath := r.getFilePath()
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write run trace: %w", err)
	}

	return filePath, nil
}

// Trace возвращает копию собранного трейса.
func (r *Recorder) Trace() RunTrace {
	r.mu.Lock()
	defer r.mu.Unlock()

	trace := r.trace
	trace.Turns = append([]Turn(nil), r.trace.Turns...)
	if r.current != nil {
		trace.Turns = append(trace.Turns, *r.current)
	}
	return trace
}

// turnLocked возвращает текущий ход, создавая нулевой для событий до первого хода.
func (r *Recorder) turnLocked() *Turn {
	if r.current == nil {
		r.current = &Turn{Number: len(r.trace.Turns) + 1}
	}
	return r.current
}

func (r *Recorder) endTurnLocked() {
	if r.current != nil {
		r.trace.Turns = append(r.trace.Turns, *r.current)
		r.current = nil
	}
}

// buildSummary формирует агрегированную статистику.
func (r *Recorder) buildSummary() {
	summary := Summary{
		TotalTurns:   len(r.trace.Turns),
		Errors:       r.errors,
		VisitedTools: make([]string, 0, len(r.visitedTools)),
	}

	for tool := range r.visitedTools {
		summary.VisitedTools = append(summary.VisitedTools, tool)
	}
	sort.Strings(summary.VisitedTools)

	for _, turn := range r.trace.Turns {
		for _, tool := range turn.ToolsExecuted {
			summary.TotalToolsExecuted++
			summary.TotalToolDuration += tool.Duration
		}
	}

	r.trace.Summary = summary
}

// getFilePath возвращает путь к файлу для сохранения.
func (r *Recorder) getFilePath() string {
	name := r.trace.RunID
	if name == "" {
		name = fmt.Sprintf("run_%s", r.trace.Timestamp.Format("20060102_150405"))
	}
	if r.config.LogsDir != "" {
		return filepath.Join(r.config.LogsDir, name+".json")
	}
	return name + ".json"
}

// truncateString обрезает строку до maxSize символов. 0 - без ограничений.
func truncateString(s string, maxSize int) string {
	if maxSize <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxSize {
		return s
	}
	return string(runes[:maxSize]) + "... (truncated)"
}

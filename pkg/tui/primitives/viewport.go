// Package primitives - низкоуровневые строительные блоки TUI поверх bubbles.
package primitives

import (
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
)

// ViewportManager - thread-safe обёртка над viewport.Model.
//
// Хранит исходные строки без переноса и переформатирует их под ширину
// при каждом изменении, поэтому resize не ломает длинные ответы модели.
type ViewportManager struct {
	viewport viewport.Model
	logLines []string // исходные строки без word-wrap
	cfg      ViewportConfig
	mu       sync.RWMutex
}

// ViewportConfig - минимальные размеры области.
type ViewportConfig struct {
	MinWidth  int
	MinHeight int
}

func (c ViewportConfig) withDefaults() ViewportConfig {
	if c.MinWidth <= 0 {
		c.MinWidth = 20
	}
	if c.MinHeight <= 0 {
		c.MinHeight = 1
	}
	return c
}

// NewViewportManager создаёт пустой ViewportManager.
func NewViewportManager(cfg ViewportConfig) *ViewportManager {
	return &ViewportManager{
		viewport: viewport.New(0, 0),
		logLines: []string{},
		cfg:      cfg.withDefaults(),
	}
}

// HandleResize пересчитывает размеры области под новое окно.
//
// Если пользователь был внизу, остаётся внизу. Иначе YOffset
// ограничивается новым максимумом.
func (vm *ViewportManager) HandleResize(msg tea.WindowSizeMsg, headerHeight, footerHeight int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vpHeight := msg.Height - headerHeight - footerHeight
	if vpHeight < vm.cfg.MinHeight {
		vpHeight = vm.cfg.MinHeight
	}
	vpWidth := msg.Width
	if vpWidth < vm.cfg.MinWidth {
		vpWidth = vm.cfg.MinWidth
	}

	// wasAtBottom считается до изменения высоты
	wasAtBottom := vm.atBottomLocked()

	vm.viewport.Height = vpHeight
	vm.viewport.Width = vpWidth
	vm.viewport.SetContent(vm.renderLocked())

	if wasAtBottom {
		vm.viewport.GotoBottom()
		return
	}
	maxOffset := vm.viewport.TotalLineCount() - vm.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if vm.viewport.YOffset > maxOffset {
		vm.viewport.YOffset = maxOffset
	}
}

// Append добавляет строку. С followBottom область прокручивается вниз,
// если пользователь уже был внизу.
func (vm *ViewportManager) Append(content string, followBottom bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.logLines = append(vm.logLines, content)
	vm.refreshLocked(followBottom)
}

// ReplaceLast заменяет последнюю строку (растущий ответ модели).
// На пустой области работает как Append.
func (vm *ViewportManager) ReplaceLast(content string, followBottom bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if len(vm.logLines) == 0 {
		vm.logLines = append(vm.logLines, content)
	} else {
		vm.logLines[len(vm.logLines)-1] = content
	}
	vm.refreshLocked(followBottom)
}

// Clear удаляет всё содержимое.
func (vm *ViewportManager) Clear() {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.logLines = []string{}
	vm.viewport.SetContent("")
	vm.viewport.YOffset = 0
}

func (vm *ViewportManager) refreshLocked(followBottom bool) {
	wasAtBottom := vm.atBottomLocked()
	vm.viewport.SetContent(vm.renderLocked())
	if followBottom && wasAtBottom {
		vm.viewport.GotoBottom()
	}
}

func (vm *ViewportManager) atBottomLocked() bool {
	return vm.viewport.YOffset+vm.viewport.Height >= vm.viewport.TotalLineCount()
}

// renderLocked переносит строки по словам, затем жёстко режет
// слова длиннее ширины (пути файлов, URL).
func (vm *ViewportManager) renderLocked() string {
	width := vm.viewport.Width
	if width <= 0 {
		return strings.Join(vm.logLines, "\n")
	}
	wrapped := make([]string, 0, len(vm.logLines))
	for _, line := range vm.logLines {
		wrapped = append(wrapped, wrap.String(wordwrap.String(line, width), width))
	}
	return strings.Join(wrapped, "\n")
}

// View возвращает отрисованную область.
func (vm *ViewportManager) View() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.viewport.View()
}

// GetViewport возвращает копию viewport.Model.
func (vm *ViewportManager) GetViewport() viewport.Model {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.viewport
}

// Content возвращает исходные строки.
func (vm *ViewportManager) Content() []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]string, len(vm.logLines))
	copy(out, vm.logLines)
	return out
}

// ScrollUp прокручивает вверх на n строк.
func (vm *ViewportManager) ScrollUp(n int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.viewport.ScrollUp(n)
}

// ScrollDown прокручивает вниз на n строк.
func (vm *ViewportManager) ScrollDown(n int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.viewport.ScrollDown(n)
}

// GotoBottom прокручивает в конец.
func (vm *ViewportManager) GotoBottom() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.viewport.GotoBottom()
}

// GetDimensions возвращает текущие размеры области.
func (vm *ViewportManager) GetDimensions() (width, height int) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.viewport.Width, vm.viewport.Height
}

package primitives

import (
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
)

// StatusBarManager - нижняя строка чата.
//
// Слева: спиннер и текущая активность run ("модель думает", "инструмент:
// read_file", "ждёт подтверждения") или "готов". Справа: дополнительная
// информация (сессия) и индикатор DEBUG. При заданной ширине правая часть
// обрезается, строка добивается фоном до края.
type StatusBarManager struct {
	mu sync.RWMutex

	spinner    spinner.Model
	processing bool
	activity   string
	debugMode  bool
	width      int

	cfg StatusBarConfig

	customExtra func() string
}

// StatusBarConfig - цвета строки статуса.
type StatusBarConfig struct {
	SpinnerColor    lipgloss.Color // активность во время run
	IdleColor       lipgloss.Color // "готов"
	BackgroundColor lipgloss.Color
	DebugColor      lipgloss.Color // фон индикатора DEBUG
	DebugText       lipgloss.Color
	ExtraText       lipgloss.Color
}

// DefaultStatusBarConfig возвращает цвета по умолчанию.
func DefaultStatusBarConfig() StatusBarConfig {
	return StatusBarConfig{
		SpinnerColor:    lipgloss.Color("86"),
		IdleColor:       lipgloss.Color("242"),
		BackgroundColor: lipgloss.Color("235"),
		DebugColor:      lipgloss.Color("196"),
		DebugText:       lipgloss.Color("15"),
		ExtraText:       lipgloss.Color("252"),
	}
}

// DefaultActivity показывается, пока run не сообщил ничего конкретнее.
const DefaultActivity = "модель думает"

// NewStatusBarManager создаёт строку статуса.
func NewStatusBarManager(cfg StatusBarConfig) *StatusBarManager {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(cfg.SpinnerColor)

	return &StatusBarManager{spinner: s, cfg: cfg}
}

// Tick запускает анимацию спиннера.
func (sm *StatusBarManager) Tick() tea.Cmd {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.spinner.Tick
}

// Update обрабатывает spinner.TickMsg. Вне run анимация останавливается.
func (sm *StatusBarManager) Update(msg tea.Msg) tea.Cmd {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.processing {
		return nil
	}
	var cmd tea.Cmd
	sm.spinner, cmd = sm.spinner.Update(msg)
	return cmd
}

// Render возвращает строку статуса.
func (sm *StatusBarManager) Render() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	bg := lipgloss.NewStyle().Background(sm.cfg.BackgroundColor)

	var left string
	if sm.processing {
		left = bg.Foreground(sm.cfg.SpinnerColor).Padding(0, 1).
			Render(sm.spinner.View() + " " + sm.activity)
	} else {
		left = bg.Foreground(sm.cfg.IdleColor).Padding(0, 1).Render("● готов")
	}

	var debug string
	if sm.debugMode {
		debug = lipgloss.NewStyle().
			Background(sm.cfg.DebugColor).
			Foreground(sm.cfg.DebugText).
			Bold(true).
			Padding(0, 1).
			Render("DEBUG")
	}

	var extra string
	if sm.customExtra != nil {
		extra = sm.customExtra()
	}

	if sm.width <= 0 {
		// Без ширины - просто склеиваем части
		if extra != "" {
			extra = bg.Foreground(sm.cfg.ExtraText).Padding(0, 1).Render(extra)
		}
		return left + extra + debug
	}

	// 2 - padding правой части
	room := sm.width - lipgloss.Width(left) - lipgloss.Width(debug) - 2
	if extra != "" && room > 0 {
		extra = bg.Foreground(sm.cfg.ExtraText).Padding(0, 1).
			Render(truncate.StringWithTail(extra, uint(room), "…"))
	} else {
		extra = ""
	}

	gap := sm.width - lipgloss.Width(left) - lipgloss.Width(extra) - lipgloss.Width(debug)
	if gap < 0 {
		gap = 0
	}
	return left + bg.Render(strings.Repeat(" ", gap)) + extra + debug
}

// SetProcessing включает спиннер. Активность сбрасывается на DefaultActivity.
func (sm *StatusBarManager) SetProcessing(processing bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.processing = processing
	sm.activity = DefaultActivity
}

// IsProcessing сообщает, идёт ли run.
func (sm *StatusBarManager) IsProcessing() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.processing
}

// SetActivity меняет подпись у спиннера.
func (sm *StatusBarManager) SetActivity(activity string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.activity = activity
}

// Activity возвращает текущую подпись.
func (sm *StatusBarManager) Activity() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.activity
}

// SetWidth задаёт ширину строки (0 - без выравнивания).
func (sm *StatusBarManager) SetWidth(width int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.width = width
}

// SetDebugMode включает индикатор DEBUG.
func (sm *StatusBarManager) SetDebugMode(enabled bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.debugMode = enabled
}

// SetCustomExtra задаёт callback для правой части строки.
func (sm *StatusBarManager) SetCustomExtra(fn func() string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.customExtra = fn
}

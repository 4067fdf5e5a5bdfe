package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ilkoid/vaultmind/pkg/utils"
)

// ColorScheme определяет цвета для различных элементов TUI.
//
// Выбирается через app.theme в config.yaml.
// Каждое поле - это lipgloss.Color (может быть hex, ANSI, или named color).
type ColorScheme struct {
	// Status Bar
	StatusBackground lipgloss.Color // Фон статус-бара
	StatusForeground lipgloss.Color // Текст в статус-баре

	// Messages
	SystemMessage lipgloss.Color // Системные сообщения (серый)
	UserMessage   lipgloss.Color // Сообщения пользователя (желтый)
	AIMessage     lipgloss.Color // Сообщения модели (cyan)
	ErrorMessage  lipgloss.Color // Ошибки (красный)
	Thinking      lipgloss.Color // Thinking content (purple)
	ToolMessage   lipgloss.Color // Вызовы инструментов и результаты
	Permission    lipgloss.Color // Запрос подтверждения

	// UI Elements
	Border lipgloss.Color // Границы и разделители
}

// ColorSchemes предоставляет предустановленные цветовые схемы.
var ColorSchemes = map[string]ColorScheme{
	"default": {
		StatusBackground: lipgloss.Color("235"),
		StatusForeground: lipgloss.Color("252"),
		SystemMessage:    lipgloss.Color("242"),
		UserMessage:      lipgloss.Color("226"),
		AIMessage:        lipgloss.Color("86"),
		ErrorMessage:     lipgloss.Color("196"),
		Thinking:         lipgloss.Color("99"),
		ToolMessage:      lipgloss.Color("75"),
		Permission:       lipgloss.Color("214"),
		Border:           lipgloss.Color("240"),
	},
	"dark": {
		StatusBackground: lipgloss.Color("0"),
		StatusForeground: lipgloss.Color("15"),
		SystemMessage:    lipgloss.Color("8"),
		UserMessage:      lipgloss.Color("11"),
		AIMessage:        lipgloss.Color("14"),
		ErrorMessage:     lipgloss.Color("9"),
		Thinking:         lipgloss.Color("13"),
		ToolMessage:      lipgloss.Color("12"),
		Permission:       lipgloss.Color("11"),
		Border:           lipgloss.Color("4"),
	},
	"light": {
		StatusBackground: lipgloss.Color("255"),
		StatusForeground: lipgloss.Color("0"),
		SystemMessage:    lipgloss.Color("8"),
		UserMessage:      lipgloss.Color("130"),
		AIMessage:        lipgloss.Color("31"),
		ErrorMessage:     lipgloss.Color("1"),
		Thinking:         lipgloss.Color("90"),
		ToolMessage:      lipgloss.Color("25"),
		Permission:       lipgloss.Color("166"),
		Border:           lipgloss.Color("8"),
	},
	"dracula": {
		StatusBackground: lipgloss.Color("#282a36"),
		StatusForeground: lipgloss.Color("#f8f8f2"),
		SystemMessage:    lipgloss.Color("#6272a4"),
		UserMessage:      lipgloss.Color("#f1fa8c"),
		AIMessage:        lipgloss.Color("#8be9fd"),
		ErrorMessage:     lipgloss.Color("#ff5555"),
		Thinking:         lipgloss.Color("#bd93f9"),
		ToolMessage:      lipgloss.Color("#50fa7b"),
		Permission:       lipgloss.Color("#ffb86c"),
		Border:           lipgloss.Color("#44475a"),
	},
}

// DefaultColorScheme возвращает схему по умолчанию.
func DefaultColorScheme() ColorScheme {
	return ColorSchemes["default"]
}

// GetColorScheme возвращает цветовую схему по имени.
// Пустое имя и неизвестная схема дают default.
func GetColorScheme(name string) ColorScheme {
	if scheme, ok := ColorSchemes[name]; ok {
		return scheme
	}
	if name != "" {
		utils.Warn("Unknown TUI theme, using default", "theme", name)
	}
	return DefaultColorScheme()
}

// styles - готовые lipgloss стили схемы.
type styles struct {
	header     lipgloss.Style
	user       lipgloss.Style
	ai         lipgloss.Style
	system     lipgloss.Style
	err        lipgloss.Style
	thinking   lipgloss.Style
	tool       lipgloss.Style
	permission lipgloss.Style
	divider    lipgloss.Style
}

func newStyles(c ColorScheme) styles {
	return styles{
		header: lipgloss.NewStyle().
			Background(c.StatusBackground).
			Foreground(c.StatusForeground).
			Bold(true).
			Padding(0, 1),
		user:       lipgloss.NewStyle().Foreground(c.UserMessage).Bold(true),
		ai:         lipgloss.NewStyle().Foreground(c.AIMessage),
		system:     lipgloss.NewStyle().Foreground(c.SystemMessage),
		err:        lipgloss.NewStyle().Foreground(c.ErrorMessage).Bold(true),
		thinking:   lipgloss.NewStyle().Foreground(c.Thinking).Italic(true),
		tool:       lipgloss.NewStyle().Foreground(c.ToolMessage),
		permission: lipgloss.NewStyle().Foreground(c.Permission).Bold(true),
		divider:    lipgloss.NewStyle().Foreground(c.Border),
	}
}

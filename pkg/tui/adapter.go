// Package tui - Bubble Tea чат поверх Orchestrator.
//
// Port & Adapter паттерн:
//   - pkg/events.* - Port (Emitter, Subscriber)
//   - pkg/tui.*    - Adapter: события run превращаются в tea.Msg
//
// # Basic Usage
//
//	emitter := events.NewChanEmitter(128)
//	orch, _ := components.NewSession(ctx, sessionID, emitter)
//	model := tui.NewModel(ctx, orch, components.Gate, emitter.Subscribe(), tui.Options{})
//	tea.NewProgram(model, tea.WithAltScreen()).Run()
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ilkoid/vaultmind/pkg/events"
)

// EventMsg конвертирует events.Event в Bubble Tea сообщение.
type EventMsg events.Event

// eventsClosedMsg приходит, когда канал событий закрыт.
type eventsClosedMsg struct{}

// ReceiveEventCmd возвращает Bubble Tea Cmd для чтения одного события из Subscriber.
//
// Функция-конвертер вызывается для каждого полученного события и должна
// возвращать Bubble Tea сообщение.
func ReceiveEventCmd(sub events.Subscriber, converter func(events.Event) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub.Events()
		if !ok {
			return eventsClosedMsg{}
		}
		return converter(event)
	}
}

// WaitForEvent возвращает Cmd который ждёт следующего события.
//
// Используется в Update() для продолжения чтения событий:
//
//	case EventMsg:
//	    // ... обработка события
//	    return m, tui.WaitForEvent(sub, toEventMsg)
func WaitForEvent(sub events.Subscriber, converter func(events.Event) tea.Msg) tea.Cmd {
	return ReceiveEventCmd(sub, converter)
}

func toEventMsg(e events.Event) tea.Msg {
	return EventMsg(e)
}

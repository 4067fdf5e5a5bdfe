package chain

import "fmt"

// RunState - состояние run.
//
//	Idle → AwaitingModel → {ExecutingTools → AwaitingModel, Done, Failed, Cancelled, MaxTurnsReached}
type RunState int

const (
	StateIdle RunState = iota
	StateAwaitingModel
	StateExecutingTools
	StateDone
	StateFailed
	StateCancelled
	StateMaxTurnsReached
)

// String возвращает строковое представление RunState (для логов и API).
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateMaxTurnsReached:
		return "max_turns_reached"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal сообщает, что run завершён.
func (s RunState) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateCancelled, StateMaxTurnsReached:
		return true
	}
	return false
}

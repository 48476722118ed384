package debugger

import (
	"github.com/google/go-dap"
)

// StartOption 启动调试的参数
type StartOption struct {
	// Program is the target executable path
	Program string
	// Args 命令行参数
	Args []string
	// Callback 事件回调
	Callback NotificationCallback
}

// EventType names the high level session events surfaced to the protocol
// bridge. They map one to one onto DAP stopped/terminated notifications.
type EventType string

const (
	EventBreakpointHit EventType = "breakpointHit"
	EventStepped       EventType = "stepped"
	EventPaused        EventType = "paused"
	EventException     EventType = "exception"
	EventExited        EventType = "exited"
)

// Event
// 该event表明被调试进程的执行状态发生了变化
type Event struct {
	Type EventType
	// Description carries the engine's exception text for EventException
	Description string
}

// StackEntry is one annotated raw stack slot.
type StackEntry struct {
	// Address is the slot annotation, e.g. "Saved EBP → 0x0012ff80"
	Address string
	// Value is the 32-bit slot value, with a symbol suffix for return
	// addresses
	Value string
}

// Flag is one decoded EFLAGS bit, value "0" or "1".
type Flag struct {
	Name  string
	Value string
}

// ExceptionInfo describes the most recent exception stop in the shape the
// DAP exceptionInfo request wants back.
type ExceptionInfo struct {
	ExceptionID string
	Description string
	// BreakMode is one of "always", "unhandled", "userUnhandled"
	BreakMode string
	Details   dap.ExceptionDetails
}

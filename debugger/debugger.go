package debugger

import (
	"github.com/google/go-dap"
)

type NotificationCallback func(Event)

// Debugger
// 用户的一次调试过程处理
// A debugger instance is single use: Launch once, Exit tears the engine
// down. All methods are safe to call from protocol goroutines.
type Debugger interface {
	// Launch spawns the target under the engine. It returns once the
	// engine reported its first event, so the caller may answer the DAP
	// launch request and emit the initialized event.
	Launch(option *StartOption) error
	// ConfigurationDone resumes the target after the client finished
	// sending breakpoints.
	ConfigurationDone() error
	// Continue 忽略继续执行
	Continue() error
	// Pause interrupts the running target. The stop is reported
	// asynchronously through the event callback.
	Pause() error
	// StepOver 下一步，不会进入函数内部
	StepOver() error
	// StepIn 下一步，会进入函数内部
	StepIn() error
	// StepOut runs until the current routine returns
	StepOut() error
	// SetBreakpoints replaces every breakpoint previously set for source
	SetBreakpoints(source dap.Source, breakpoints []dap.SourceBreakpoint) error
	// GetRegisters returns the curated register set, one "name = 0x…"
	// string per register
	GetRegisters() ([]string, error)
	// GetEflags decodes the status flag bits of the EFLAGS register
	GetEflags() ([]Flag, error)
	// GetCallStack 获取栈帧
	GetCallStack() ([]dap.StackFrame, error)
	// GetStackContents returns the annotated raw stack slots
	GetStackContents() ([]StackEntry, error)
	// EvaluateExpression evaluates a watch/repl expression. Failures are
	// reported in-band as angle bracketed diagnostic strings.
	EvaluateExpression(expression string) string
	// EvaluateVariable resolves a hovered symbol or register name. An
	// empty result means there is nothing to show.
	EvaluateVariable(name string) string
	// GetExceptionInfo returns details of the most recent exception stop
	GetExceptionInfo(threadID int) (*ExceptionInfo, error)
	// Exit 终止调试
	Exit() error
}

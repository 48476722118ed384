// Package engine defines the abstract capability surface the debug session
// needs from the native debugging engine. The session uses nothing of the
// engine beyond this interface; the DbgEng binding lives in the dbgeng
// subpackage.
package engine

import (
	"fmt"
	"time"
)

// WaitInfinite makes WaitForEvent block until an event or an interrupt.
const WaitInfinite = time.Duration(-1)

// EventKind is the outcome of a WaitForEvent call.
type EventKind int

const (
	KindBreak EventKind = iota
	KindNoDebuggee
	KindTimeout
	KindFatal
)

// EventType identifies the engine's last event.
type EventType int

const (
	// EventStepComplete means WaitForEvent returned without the engine
	// recording a fresh event: a completed single step
	EventStepComplete EventType = iota
	EventCreateProcess
	EventExitProcess
	EventLoadModule
	EventBreakpoint
	EventException
	EventOther
)

// Exception codes the session classifies.
const (
	// ExcWx86Breakpoint is the 32-bit loader breakpoint raised once under
	// WOW64 when the target finishes initializing
	ExcWx86Breakpoint = 0x4000001F
	// ExcDbgControlC is raised by the break-in thread the OS injects on a
	// user interrupt
	ExcDbgControlC = 0x40010005
	// ExcStatusBreakpoint is the plain int3 breakpoint exception
	ExcStatusBreakpoint = 0x80000003
	// ExcSingleStep is raised spuriously by some engines after a trace
	ExcSingleStep = 0x80000004
)

// ExecStatus selects how the target resumes.
type ExecStatus int

const (
	StatusGo ExecStatus = iota
	StatusStepOver
	StatusStepInto
)

// FilterAction configures how the engine reacts to an exception code.
type FilterAction int

const (
	FilterBreak FilterAction = iota
	FilterIgnore
	// FilterGoNotHandled resumes without marking the exception handled,
	// used to silence spurious single-step events
	FilterGoNotHandled
)

// ExceptionRecord is the exception part of an engine event.
type ExceptionRecord struct {
	Code        uint32
	Address     uint64
	FirstChance bool
}

// EventInfo describes the engine's last event.
type EventInfo struct {
	Type        EventType
	ProcessID   uint32
	ThreadID    uint32
	Description string
	Exception   *ExceptionRecord
}

// Frame is one walked stack frame.
type Frame struct {
	InstructionOffset uint64
	// FrameOffset is the address of the saved frame pointer
	FrameOffset uint64
	// ReturnOffset is the caller's resume address
	ReturnOffset uint64
}

// SymbolType locates a named symbol's type in its module.
type SymbolType struct {
	ModuleBase uint64
	TypeID     uint32
	Size       int
}

// Breakpoint is an engine breakpoint handle. A handle stays valid until
// RemoveBreakpoint, or until the engine retires it after a one-shot hit.
type Breakpoint interface {
	ID() uint32
	SetOffset(offset uint64) error
	Enable() error
	SetOneShot() error
}

// Engine is the native debugging capability. Every call must happen on the
// single goroutine driving the session, except Interrupt, which is safe
// from any goroutine.
type Engine interface {
	// CreateProcess spawns the target under debug, suspended at the
	// initial break.
	CreateProcess(commandLine string) error
	// WaitForEvent blocks until an engine event arrives, the timeout
	// elapses, or Interrupt is called.
	WaitForEvent(timeout time.Duration) (EventKind, error)
	// LastEvent describes the event WaitForEvent returned for.
	LastEvent() (*EventInfo, error)
	SetExecutionStatus(status ExecStatus) error
	// GoTo resumes execution at the given code offset.
	GoTo(offset uint64) error
	// Interrupt makes an in-flight WaitForEvent return promptly with a
	// break carrying a user-interrupt exception code.
	Interrupt() error

	AddBreakpoint() (Breakpoint, error)
	RemoveBreakpoint(bp Breakpoint) error

	OffsetByLine(sourcePath string, line int) (uint64, error)
	OffsetByName(name string) (uint64, error)
	NameByOffset(offset uint64) (name string, displacement uint64, err error)
	LineByOffset(offset uint64) (line int, file string, err error)
	SymbolType(name string) (*SymbolType, error)

	RegisterCount() (int, error)
	RegisterDescription(index int) (string, error)
	RegisterValue(index int) (uint64, error)
	// InstructionOffset is the current thread's instruction pointer.
	InstructionOffset() (uint64, error)
	// StackOffset is the current thread's stack pointer.
	StackOffset() (uint64, error)

	StackTrace(max int) ([]Frame, error)
	ReadVirtual(address uint64, size int) ([]byte, error)
	// Evaluate runs the expression through the engine's native (MASM)
	// expression evaluator.
	Evaluate(expression string) (uint64, error)

	ThreadIDs() ([]uint32, error)
	SetCurrentThread(id uint32) error

	SetSymbolPath(dir string) error
	ReloadSymbols(flags string) error
	SetEffectiveProcessor(processor string) error
	SetExceptionFilter(code uint32, action FilterAction) error

	// EndSession terminates the target when requested and releases every
	// engine resource. No other method may be called afterwards.
	EndSession(terminate bool) error
}

// Error is an engine failure carrying the HRESULT-shaped status code.
type Error struct {
	Op   string
	Code uint32
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: 0x%08X", e.Op, e.Code)
}

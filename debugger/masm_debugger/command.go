package masm_debugger

import (
	"github.com/google/go-dap"

	"github.com/gregoryginzburg/vscode-masm/debugger"
)

type commandKind int

const (
	cmdRun commandKind = iota
	cmdStepOver
	cmdStepInto
	cmdStepOut
	cmdSetBreakpoints
	cmdGetRegisters
	cmdGetEflags
	cmdGetCallStack
	cmdGetStackContents
	cmdEvaluate
	cmdEvaluateVariable
	cmdGetExceptionInfo
	cmdExit
)

// command is one unit of work for the engine worker. Data commands carry a
// single-shot reply channel the caller blocks on; control commands have no
// reply.
type command struct {
	kind commandKind

	// cmdSetBreakpoints
	source string
	lines  []int

	// cmdEvaluate / cmdEvaluateVariable
	expression string

	reply chan result
}

// result is a command's reply. A command still pending when the session
// shuts down is answered with a result whose err is ErrDebuggerIsClosed.
type result struct {
	registers []string
	eflags    []debugger.Flag
	frames    []dap.StackFrame
	stack     []debugger.StackEntry
	value     string
	excInfo   *debugger.ExceptionInfo
	err       error
}

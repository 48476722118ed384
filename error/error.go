package error

import "errors"

var (
	ErrDebuggerIsClosed           = errors.New("debug session is closed")
	ErrProgramIsRunningOptionFail = errors.New("the program is running")
	ErrLaunchFailed               = errors.New("failed to launch target program")
	ErrOptionTimeout              = errors.New("debugger option timed out")
	ErrNoExceptionInfo            = errors.New("no exception has been recorded")
)

package main

import (
	"encoding/json"
	"strings"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/gregoryginzburg/vscode-masm/constants"
	"github.com/gregoryginzburg/vscode-masm/debugger"
)

func (d *DebugSession) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.SupportsExceptionInfoRequest = true
	d.send(response)
}

// launchArguments is the adapter's extension of the DAP launch request.
type launchArguments struct {
	Program string   `json:"program"`
	Args    []string `json:"args"`
}

func (d *DebugSession) onLaunchRequest(request *dap.LaunchRequest) {
	var args launchArguments
	if err := json.Unmarshal(request.Arguments, &args); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, "invalid launch arguments"))
		return
	}
	if args.Program == "" {
		d.send(newErrorResponse(request.Seq, request.Command, "program cannot be empty"))
		return
	}
	debug, err := d.newDebugger()
	if err != nil {
		logrus.Errorf("session %s: create debugger fail, err = %v", d.id, err)
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	err = debug.Launch(&debugger.StartOption{
		Program:  args.Program,
		Args:     args.Args,
		Callback: d.onDebuggerEvent,
	})
	if err != nil {
		logrus.Errorf("session %s: launch fail, err = %v", d.id, err)
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	d.debugger = debug

	// the target reached its first break; the client may configure now
	d.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	response := &dap.LaunchResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

// onDebuggerEvent forwards session events to the client as DAP
// notifications. Runs on the debugger's worker goroutine.
func (d *DebugSession) onDebuggerEvent(event debugger.Event) {
	switch event.Type {
	case debugger.EventBreakpointHit:
		d.sendStopped(constants.BreakpointStopped, "", false)
	case debugger.EventStepped:
		d.sendStopped(constants.StepStopped, "", false)
	case debugger.EventPaused:
		d.sendStopped(constants.PauseStopped, "", false)
	case debugger.EventException:
		d.sendStopped(constants.ExceptionStopped, event.Description, true)
	case debugger.EventExited:
		d.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
		d.send(&dap.ExitedEvent{Event: *newEvent("exited")})
		d.terminate.Fire()
	}
}

func (d *DebugSession) sendStopped(reason constants.StoppedReasonType, description string, allThreadsStopped bool) {
	event := &dap.StoppedEvent{Event: *newEvent("stopped")}
	event.Body = dap.StoppedEventBody{
		Reason:            string(reason),
		ThreadId:          constants.MainThreadID,
		Description:       description,
		AllThreadsStopped: allThreadsStopped,
	}
	d.send(event)
}

// checkDebugger replies with an error when no target was launched yet.
func (d *DebugSession) checkDebugger(seq int, command string) bool {
	if d.debugger == nil {
		d.send(newErrorResponse(seq, command, "debug not start"))
		return false
	}
	return true
}

func (d *DebugSession) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	if err := d.debugger.ConfigurationDone(); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	err := d.debugger.SetBreakpoints(request.Arguments.Source, request.Arguments.Breakpoints)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, bp := range request.Arguments.Breakpoints {
		response.Body.Breakpoints[i].Line = bp.Line
		response.Body.Breakpoints[i].Verified = true
	}
	d.send(response)
}

func (d *DebugSession) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Threads = []dap.Thread{
		{Id: constants.MainThreadID, Name: constants.MainThreadName},
	}
	d.send(response)
}

func (d *DebugSession) onStackTraceRequest(request *dap.StackTraceRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	stacktrace, err := d.debugger.GetCallStack()
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	if levels := request.Arguments.Levels; levels > 0 && levels < len(stacktrace) {
		stacktrace = stacktrace[:levels]
	}
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.StackTraceResponseBody{
		StackFrames: stacktrace,
		TotalFrames: len(stacktrace),
	}
	d.send(response)
}

func (d *DebugSession) onScopesRequest(request *dap.ScopesRequest) {
	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.ScopesResponseBody{
		Scopes: []dap.Scope{
			{Name: "Registers", VariablesReference: constants.RegistersReference, PresentationHint: "registers"},
			{Name: "Stack", VariablesReference: constants.StackReference, PresentationHint: "locals"},
		},
	}
	d.send(response)
}

func readOnlyHint(kind string) *dap.VariablePresentationHint {
	return &dap.VariablePresentationHint{
		Kind:       kind,
		Attributes: []string{"readOnly"},
	}
}

func (d *DebugSession) onVariablesRequest(request *dap.VariablesRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	var variables []dap.Variable
	switch request.Arguments.VariablesReference {
	case constants.RegistersReference:
		registers, err := d.debugger.GetRegisters()
		if err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
		for _, register := range registers {
			name, value := splitRegister(register)
			variables = append(variables, dap.Variable{
				Name:             name,
				Value:            value,
				PresentationHint: readOnlyHint("property"),
			})
		}
		variables = append(variables, dap.Variable{
			Name:               "EFLAGS",
			VariablesReference: constants.EflagsReference,
			PresentationHint:   readOnlyHint("property"),
		})
	case constants.StackReference:
		entries, err := d.debugger.GetStackContents()
		if err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
		for _, entry := range entries {
			variables = append(variables, dap.Variable{
				Name:             entry.Address,
				Value:            entry.Value,
				PresentationHint: readOnlyHint("method"),
			})
		}
	case constants.EflagsReference:
		flags, err := d.debugger.GetEflags()
		if err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
		for _, flag := range flags {
			variables = append(variables, dap.Variable{
				Name:             flag.Name,
				Value:            flag.Value,
				PresentationHint: readOnlyHint("property"),
			})
		}
	}
	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.VariablesResponseBody{
		Variables: variables,
	}
	d.send(response)
}

// splitRegister breaks a "name = value" register string into its parts.
func splitRegister(register string) (string, string) {
	if eq := strings.Index(register, "="); eq >= 0 {
		return strings.TrimSpace(register[:eq]), strings.TrimSpace(register[eq+1:])
	}
	return register, "<unknown>"
}

func (d *DebugSession) onEvaluateRequest(request *dap.EvaluateRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	response := &dap.EvaluateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	switch request.Arguments.Context {
	case "hover":
		value := d.debugger.EvaluateVariable(request.Arguments.Expression)
		if value == "" {
			// an error result keeps the IDE from showing an empty box
			d.send(newErrorResponse(request.Seq, request.Command, "no value"))
			return
		}
		response.Body.Result = value
	case "watch", "repl":
		response.Body.Result = d.debugger.EvaluateExpression(request.Arguments.Expression)
	default:
		response.Body.Result = "<Unsupported context>"
	}
	d.send(response)
}

func (d *DebugSession) onExceptionInfoRequest(request *dap.ExceptionInfoRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	info, err := d.debugger.GetExceptionInfo(request.Arguments.ThreadId)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ExceptionInfoResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	details := info.Details
	response.Body = dap.ExceptionInfoResponseBody{
		ExceptionId: info.ExceptionID,
		Description: info.Description,
		BreakMode:   dap.ExceptionBreakMode(info.BreakMode),
		Details:     &details,
	}
	d.send(response)
}

func (d *DebugSession) onContinueRequest(request *dap.ContinueRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	if err := d.debugger.Continue(); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.AllThreadsContinued = true
	d.send(response)
}

func (d *DebugSession) onPauseRequest(request *dap.PauseRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	if err := d.debugger.Pause(); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.PauseResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onNextRequest(request *dap.NextRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	if err := d.debugger.StepOver(); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.NextResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepInRequest(request *dap.StepInRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	if err := d.debugger.StepIn(); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepInResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepOutRequest(request *dap.StepOutRequest) {
	if !d.checkDebugger(request.Seq, request.Command) {
		return
	}
	if err := d.debugger.StepOut(); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepOutResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onDisconnectRequest(request *dap.DisconnectRequest) {
	if d.debugger != nil {
		if err := d.debugger.Exit(); err != nil {
			logrus.Warnf("session %s: exit fail, err = %v", d.id, err)
		}
	}
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
	d.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
	d.send(&dap.ExitedEvent{Event: *newEvent("exited")})
	d.terminate.Fire()
}

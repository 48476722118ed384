package main

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregoryginzburg/vscode-masm/debugger"
)

// fakeDebugger answers the Debugger interface with canned data and records
// which operations the bridge invoked.
type fakeDebugger struct {
	mu       sync.Mutex
	callback debugger.NotificationCallback

	launched    string
	configDone  bool
	continued   bool
	paused      bool
	steppedOver bool
	steppedIn   bool
	steppedOut  bool
	exited      bool

	breakpoints map[string][]int

	hoverResults map[string]string
}

func newFakeDebugger() *fakeDebugger {
	return &fakeDebugger{
		breakpoints:  make(map[string][]int),
		hoverResults: make(map[string]string),
	}
}

func (f *fakeDebugger) Launch(option *debugger.StartOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = option.Program
	f.callback = option.Callback
	return nil
}

func (f *fakeDebugger) ConfigurationDone() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configDone = true
	return nil
}

func (f *fakeDebugger) Continue() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continued = true
	return nil
}

func (f *fakeDebugger) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *fakeDebugger) StepOver() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steppedOver = true
	return nil
}

func (f *fakeDebugger) StepIn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steppedIn = true
	return nil
}

func (f *fakeDebugger) StepOut() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steppedOut = true
	return nil
}

func (f *fakeDebugger) SetBreakpoints(source dap.Source, breakpoints []dap.SourceBreakpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]int, len(breakpoints))
	for i, bp := range breakpoints {
		lines[i] = bp.Line
	}
	f.breakpoints[source.Path] = lines
	return nil
}

func (f *fakeDebugger) GetRegisters() ([]string, error) {
	return []string{"eax = 0x1", "ebx = 0x2"}, nil
}

func (f *fakeDebugger) GetEflags() ([]debugger.Flag, error) {
	return []debugger.Flag{{Name: "CF", Value: "1"}, {Name: "ZF", Value: "0"}}, nil
}

func (f *fakeDebugger) GetCallStack() ([]dap.StackFrame, error) {
	return []dap.StackFrame{
		{Id: 0x401010, Name: "main", Line: 5, Column: 1},
		{Id: 0x401030, Name: "start", Line: 0, Column: 1},
	}, nil
}

func (f *fakeDebugger) GetStackContents() ([]debugger.StackEntry, error) {
	return []debugger.StackEntry{
		{Address: "Saved EBP → 0x0012ff60", Value: "0x00000000"},
	}, nil
}

func (f *fakeDebugger) EvaluateExpression(expression string) string {
	return "0x2a"
}

func (f *fakeDebugger) EvaluateVariable(name string) string {
	return f.hoverResults[name]
}

func (f *fakeDebugger) GetExceptionInfo(threadID int) (*debugger.ExceptionInfo, error) {
	return &debugger.ExceptionInfo{
		ExceptionID: "0xC0000094",
		Description: "Integer division-by-zero",
		BreakMode:   "unhandled",
		Details:     dap.ExceptionDetails{TypeName: "Exception"},
	}, nil
}

func (f *fakeDebugger) Exit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = true
	return nil
}

// fire invokes the session callback the way the engine worker would.
func (f *fakeDebugger) fire(event debugger.Event) {
	f.mu.Lock()
	callback := f.callback
	f.mu.Unlock()
	if callback != nil {
		callback(event)
	}
}

// bridgeHelper runs a DebugSession over an in-memory connection.
type bridgeHelper struct {
	t      *testing.T
	client net.Conn
	reader *bufio.Reader
	debug  *fakeDebugger
	done   chan struct{}
	seq    int
}

func newBridgeHelper(t *testing.T) *bridgeHelper {
	client, server := net.Pipe()
	debug := newFakeDebugger()
	session := NewDebugSession(server)
	session.newDebugger = func() (debugger.Debugger, error) {
		return debug, nil
	}
	done := make(chan struct{})
	go func() {
		session.Serve()
		_ = server.Close()
		close(done)
	}()
	return &bridgeHelper{
		t:      t,
		client: client,
		reader: bufio.NewReader(client),
		debug:  debug,
		done:   done,
	}
}

func (h *bridgeHelper) cleanup() {
	_ = h.client.Close()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		h.t.Error("session did not shut down")
	}
}

func (h *bridgeHelper) newRequest(command string) dap.Request {
	h.seq++
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: h.seq, Type: "request"},
		Command:         command,
	}
}

func (h *bridgeHelper) send(message dap.Message) {
	require.Nil(h.t, dap.WriteProtocolMessage(h.client, message))
}

func (h *bridgeHelper) read() dap.Message {
	type readResult struct {
		message dap.Message
		err     error
	}
	ch := make(chan readResult, 1)
	go func() {
		message, err := dap.ReadProtocolMessage(h.reader)
		ch <- readResult{message, err}
	}()
	select {
	case res := <-ch:
		require.Nil(h.t, res.err)
		return res.message
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out reading protocol message")
		return nil
	}
}

// initAndLaunch runs the canonical session opening sequence.
func (h *bridgeHelper) initAndLaunch() {
	h.send(&dap.InitializeRequest{Request: h.newRequest("initialize")})
	response := h.read().(*dap.InitializeResponse)
	assert.True(h.t, response.Body.SupportsConfigurationDoneRequest)
	assert.True(h.t, response.Body.SupportsEvaluateForHovers)
	assert.True(h.t, response.Body.SupportsExceptionInfoRequest)

	launch := &dap.LaunchRequest{Request: h.newRequest("launch")}
	launch.Arguments = json.RawMessage(`{"program": "C:\\project\\main.exe"}`)
	h.send(launch)

	_, isInitialized := h.read().(*dap.InitializedEvent)
	assert.True(h.t, isInitialized)
	_, isLaunchResponse := h.read().(*dap.LaunchResponse)
	assert.True(h.t, isLaunchResponse)
	assert.Equal(h.t, `C:\project\main.exe`, h.debug.launched)
}

func TestBridgeInitializeAndLaunch(t *testing.T) {
	helper := newBridgeHelper(t)
	defer helper.cleanup()
	helper.initAndLaunch()

	helper.send(&dap.ConfigurationDoneRequest{Request: helper.newRequest("configurationDone")})
	_, ok := helper.read().(*dap.ConfigurationDoneResponse)
	assert.True(t, ok)
	assert.True(t, helper.debug.configDone)
}

func TestBridgeRequestsBeforeLaunchFail(t *testing.T) {
	helper := newBridgeHelper(t)
	defer helper.cleanup()

	helper.send(&dap.ContinueRequest{Request: helper.newRequest("continue")})
	response, ok := helper.read().(*dap.ErrorResponse)
	require.True(t, ok)
	assert.False(t, response.Success)
}

func TestBridgeSetBreakpoints(t *testing.T) {
	helper := newBridgeHelper(t)
	defer helper.cleanup()
	helper.initAndLaunch()

	request := &dap.SetBreakpointsRequest{Request: helper.newRequest("setBreakpoints")}
	request.Arguments.Source = dap.Source{Path: `C:\project\main.asm`}
	request.Arguments.Breakpoints = []dap.SourceBreakpoint{{Line: 3}, {Line: 7}}
	helper.send(request)

	response, ok := helper.read().(*dap.SetBreakpointsResponse)
	require.True(t, ok)
	require.Len(t, response.Body.Breakpoints, 2)
	assert.True(t, response.Body.Breakpoints[0].Verified)
	assert.Equal(t, 3, response.Body.Breakpoints[0].Line)
	assert.Equal(t, 7, response.Body.Breakpoints[1].Line)
	assert.Equal(t, []int{3, 7}, helper.debug.breakpoints[`C:\project\main.asm`])
}

func TestBridgeThreadsAndStackTrace(t *testing.T) {
	helper := newBridgeHelper(t)
	defer helper.cleanup()
	helper.initAndLaunch()

	helper.send(&dap.ThreadsRequest{Request: helper.newRequest("threads")})
	threads, ok := helper.read().(*dap.ThreadsResponse)
	require.True(t, ok)
	require.Len(t, threads.Body.Threads, 1)
	assert.Equal(t, 1, threads.Body.Threads[0].Id)
	assert.Equal(t, "Main Thread", threads.Body.Threads[0].Name)

	request := &dap.StackTraceRequest{Request: helper.newRequest("stackTrace")}
	request.Arguments.ThreadId = 1
	helper.send(request)
	stack, ok := helper.read().(*dap.StackTraceResponse)
	require.True(t, ok)
	require.Len(t, stack.Body.StackFrames, 2)
	assert.Equal(t, "main", stack.Body.StackFrames[0].Name)

	// the levels argument caps the frame list
	request = &dap.StackTraceRequest{Request: helper.newRequest("stackTrace")}
	request.Arguments.ThreadId = 1
	request.Arguments.Levels = 1
	helper.send(request)
	stack, ok = helper.read().(*dap.StackTraceResponse)
	require.True(t, ok)
	assert.Len(t, stack.Body.StackFrames, 1)
}

func TestBridgeScopesAndVariables(t *testing.T) {
	helper := newBridgeHelper(t)
	defer helper.cleanup()
	helper.initAndLaunch()

	scopesRequest := &dap.ScopesRequest{Request: helper.newRequest("scopes")}
	scopesRequest.Arguments.FrameId = 0x401010
	helper.send(scopesRequest)
	scopes, ok := helper.read().(*dap.ScopesResponse)
	require.True(t, ok)
	require.Len(t, scopes.Body.Scopes, 2)
	assert.Equal(t, "Registers", scopes.Body.Scopes[0].Name)
	assert.Equal(t, 1, scopes.Body.Scopes[0].VariablesReference)
	assert.Equal(t, "Stack", scopes.Body.Scopes[1].Name)
	assert.Equal(t, 2, scopes.Body.Scopes[1].VariablesReference)

	// registers scope carries the EFLAGS parent entry
	variablesRequest := &dap.VariablesRequest{Request: helper.newRequest("variables")}
	variablesRequest.Arguments.VariablesReference = 1
	helper.send(variablesRequest)
	variables, ok := helper.read().(*dap.VariablesResponse)
	require.True(t, ok)
	require.Len(t, variables.Body.Variables, 3)
	assert.Equal(t, "eax", variables.Body.Variables[0].Name)
	assert.Equal(t, "0x1", variables.Body.Variables[0].Value)
	assert.Equal(t, "EFLAGS", variables.Body.Variables[2].Name)
	assert.Equal(t, 3, variables.Body.Variables[2].VariablesReference)

	variablesRequest = &dap.VariablesRequest{Request: helper.newRequest("variables")}
	variablesRequest.Arguments.VariablesReference = 3
	helper.send(variablesRequest)
	variables, ok = helper.read().(*dap.VariablesResponse)
	require.True(t, ok)
	require.Len(t, variables.Body.Variables, 2)
	assert.Equal(t, "CF", variables.Body.Variables[0].Name)
	assert.Equal(t, "1", variables.Body.Variables[0].Value)

	variablesRequest = &dap.VariablesRequest{Request: helper.newRequest("variables")}
	variablesRequest.Arguments.VariablesReference = 2
	helper.send(variablesRequest)
	variables, ok = helper.read().(*dap.VariablesResponse)
	require.True(t, ok)
	require.Len(t, variables.Body.Variables, 1)
	assert.Equal(t, "Saved EBP → 0x0012ff60", variables.Body.Variables[0].Name)
}

func TestBridgeEvaluate(t *testing.T) {
	helper := newBridgeHelper(t)
	defer helper.cleanup()
	helper.initAndLaunch()
	helper.debug.hoverResults["buf"] = "Address: 0x00403000, Value: 0x01"

	request := &dap.EvaluateRequest{Request: helper.newRequest("evaluate")}
	request.Arguments.Expression = "by(buf),5"
	request.Arguments.Context = "watch"
	helper.send(request)
	response, ok := helper.read().(*dap.EvaluateResponse)
	require.True(t, ok)
	assert.Equal(t, "0x2a", response.Body.Result)

	// a hover with a value
	request = &dap.EvaluateRequest{Request: helper.newRequest("evaluate")}
	request.Arguments.Expression = "buf"
	request.Arguments.Context = "hover"
	helper.send(request)
	response, ok = helper.read().(*dap.EvaluateResponse)
	require.True(t, ok)
	assert.Equal(t, "Address: 0x00403000, Value: 0x01", response.Body.Result)

	// an empty hover is answered with an error so the IDE shows nothing
	request = &dap.EvaluateRequest{Request: helper.newRequest("evaluate")}
	request.Arguments.Expression = "unknown"
	request.Arguments.Context = "hover"
	helper.send(request)
	_, isError := helper.read().(*dap.ErrorResponse)
	assert.True(t, isError)

	request = &dap.EvaluateRequest{Request: helper.newRequest("evaluate")}
	request.Arguments.Expression = "x"
	request.Arguments.Context = "clipboard"
	helper.send(request)
	response, ok = helper.read().(*dap.EvaluateResponse)
	require.True(t, ok)
	assert.Equal(t, "<Unsupported context>", response.Body.Result)
}

func TestBridgeExceptionInfo(t *testing.T) {
	helper := newBridgeHelper(t)
	defer helper.cleanup()
	helper.initAndLaunch()

	request := &dap.ExceptionInfoRequest{Request: helper.newRequest("exceptionInfo")}
	request.Arguments.ThreadId = 1
	helper.send(request)
	response, ok := helper.read().(*dap.ExceptionInfoResponse)
	require.True(t, ok)
	assert.Equal(t, "0xC0000094", response.Body.ExceptionId)
	assert.Equal(t, dap.ExceptionBreakMode("unhandled"), response.Body.BreakMode)
	require.NotNil(t, response.Body.Details)
	assert.Equal(t, "Exception", response.Body.Details.TypeName)
}

func TestBridgeStoppedEvents(t *testing.T) {
	helper := newBridgeHelper(t)
	defer helper.cleanup()
	helper.initAndLaunch()

	go helper.debug.fire(debugger.Event{Type: debugger.EventBreakpointHit})
	stopped, ok := helper.read().(*dap.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, "breakpoint", stopped.Body.Reason)
	assert.Equal(t, 1, stopped.Body.ThreadId)

	go helper.debug.fire(debugger.Event{Type: debugger.EventException, Description: "divide error"})
	stopped, ok = helper.read().(*dap.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, "exception", stopped.Body.Reason)
	assert.Equal(t, "divide error", stopped.Body.Description)
	assert.True(t, stopped.Body.AllThreadsStopped)
}

func TestBridgeExecutionRequests(t *testing.T) {
	helper := newBridgeHelper(t)
	defer helper.cleanup()
	helper.initAndLaunch()

	helper.send(&dap.ContinueRequest{Request: helper.newRequest("continue")})
	cont, ok := helper.read().(*dap.ContinueResponse)
	require.True(t, ok)
	assert.True(t, cont.Body.AllThreadsContinued)
	assert.True(t, helper.debug.continued)

	helper.send(&dap.PauseRequest{Request: helper.newRequest("pause")})
	_, ok = helper.read().(*dap.PauseResponse)
	require.True(t, ok)
	assert.True(t, helper.debug.paused)

	helper.send(&dap.NextRequest{Request: helper.newRequest("next")})
	_, ok = helper.read().(*dap.NextResponse)
	require.True(t, ok)
	assert.True(t, helper.debug.steppedOver)

	helper.send(&dap.StepInRequest{Request: helper.newRequest("stepIn")})
	_, ok = helper.read().(*dap.StepInResponse)
	require.True(t, ok)
	assert.True(t, helper.debug.steppedIn)

	helper.send(&dap.StepOutRequest{Request: helper.newRequest("stepOut")})
	_, ok = helper.read().(*dap.StepOutResponse)
	require.True(t, ok)
	assert.True(t, helper.debug.steppedOut)
}

func TestBridgeDisconnect(t *testing.T) {
	helper := newBridgeHelper(t)
	defer helper.cleanup()
	helper.initAndLaunch()

	helper.send(&dap.DisconnectRequest{Request: helper.newRequest("disconnect")})
	_, ok := helper.read().(*dap.DisconnectResponse)
	require.True(t, ok)
	_, ok = helper.read().(*dap.TerminatedEvent)
	require.True(t, ok)
	_, ok = helper.read().(*dap.ExitedEvent)
	require.True(t, ok)

	select {
	case <-helper.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after disconnect")
	}
	assert.True(t, helper.debug.exited)
}

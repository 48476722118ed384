package masm_debugger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	godsutils "github.com/emirpasic/gods/utils"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/gregoryginzburg/vscode-masm/debugger"
	"github.com/gregoryginzburg/vscode-masm/debugger/engine"
	e "github.com/gregoryginzburg/vscode-masm/error"
	"github.com/gregoryginzburg/vscode-masm/utils"
	"github.com/gregoryginzburg/vscode-masm/utils/gosync"
)

const (
	OptionTimeout = time.Second * 10

	commandQueueSize = 64
	maxStackFrames   = 100
)

// MasmDebugger couples the single-threaded native engine to the
// multi-goroutine DAP layer. Exactly one worker goroutine drives the
// engine; protocol goroutines enqueue commands and, for data commands,
// block on a single-shot reply. Interrupt is the only engine call made off
// the worker.
type MasmDebugger struct {
	engine engine.Engine

	startOption *debugger.StartOption
	callback    debugger.NotificationCallback

	// 调试的状态管理
	StatusManager *utils.StatusManager

	commands chan command
	// resume is fired by every command that transitions the target from
	// stopped to running; the worker re-enters WaitForEvent on it
	resume *utils.Signal
	// hasInitialized fires on the first engine event and gates the reply
	// to the DAP launch request
	hasInitialized *utils.Signal
	done           chan struct{}

	shouldExit     atomic.Bool
	pauseRequested atomic.Bool
	// commandInterrupt marks an engine interrupt issued only to wake the
	// worker out of WaitForEvent for a queued command; the resulting
	// break-in is not surfaced
	commandInterrupt atomic.Bool

	// mutex guards breakpoints, lastLineBreak, lastException, eventCount
	mutex         sync.Mutex
	breakpoints   *treemap.Map
	lastLineBreak int
	lastException *debugger.ExceptionInfo
	eventCount    int

	// one-shot suppression of the loader breakpoint and of the first
	// break-in the system injects on its own; worker-only state
	seenWx86Break bool
	seenBreakin   bool
}

// breakpointRecord ties an engine handle to the source position it was
// created for.
type breakpointRecord struct {
	handle  engine.Breakpoint
	source  string
	line    int
	oneShot bool
	enabled bool
}

func NewMasmDebugger(eng engine.Engine) *MasmDebugger {
	return &MasmDebugger{
		engine:         eng,
		StatusManager:  utils.NewStatusManager(),
		commands:       make(chan command, commandQueueSize),
		resume:         utils.NewSignal(),
		hasInitialized: utils.NewSignal(),
		done:           make(chan struct{}),
		breakpoints:    treemap.NewWith(godsutils.UInt64Comparator),
		lastLineBreak:  -1,
	}
}

// Launch spawns the target and starts the engine worker. It returns once
// the worker observed the first engine event, so the protocol layer can
// answer the launch request.
func (d *MasmDebugger) Launch(option *debugger.StartOption) error {
	if option == nil || option.Program == "" {
		return e.ErrLaunchFailed
	}
	if !d.StatusManager.Is(utils.Uninitialized) {
		return e.ErrLaunchFailed
	}
	d.startOption = option
	d.callback = option.Callback
	d.StatusManager.Set(utils.Launching)

	setupErr := make(chan error, 1)
	gosync.Go(context.Background(), func(ctx context.Context) {
		d.eventLoop(setupErr)
	})
	if err := <-setupErr; err != nil {
		return err
	}

	select {
	case <-d.hasInitialized.Done():
	case <-d.done:
		return e.ErrDebuggerIsClosed
	case <-time.After(OptionTimeout):
		d.Exit()
		return e.ErrOptionTimeout
	}
	d.StatusManager.Set(utils.AwaitingConfigDone)
	return nil
}

func (d *MasmDebugger) ConfigurationDone() error {
	if d.closed() {
		return e.ErrDebuggerIsClosed
	}
	return d.post(command{kind: cmdRun})
}

func (d *MasmDebugger) Continue() error {
	if d.closed() {
		return e.ErrDebuggerIsClosed
	}
	if !d.StatusManager.Is(utils.Stopped) {
		return e.ErrProgramIsRunningOptionFail
	}
	return d.post(command{kind: cmdRun})
}

func (d *MasmDebugger) StepOver() error {
	return d.step(cmdStepOver)
}

func (d *MasmDebugger) StepIn() error {
	return d.step(cmdStepInto)
}

func (d *MasmDebugger) StepOut() error {
	return d.step(cmdStepOut)
}

func (d *MasmDebugger) step(kind commandKind) error {
	if d.closed() {
		return e.ErrDebuggerIsClosed
	}
	if !d.StatusManager.Is(utils.Stopped) {
		return e.ErrProgramIsRunningOptionFail
	}
	return d.post(command{kind: kind})
}

// Pause interrupts an in-flight WaitForEvent. Interrupt is the one engine
// call documented safe from any goroutine, so no command is queued; the
// stop surfaces through event classification.
func (d *MasmDebugger) Pause() error {
	if d.closed() {
		return e.ErrDebuggerIsClosed
	}
	d.pauseRequested.Store(true)
	return d.engine.Interrupt()
}

func (d *MasmDebugger) SetBreakpoints(source dap.Source, breakpoints []dap.SourceBreakpoint) error {
	if d.closed() {
		return e.ErrDebuggerIsClosed
	}
	lines := make([]int, len(breakpoints))
	for i, bp := range breakpoints {
		lines[i] = bp.Line
	}
	return d.post(command{kind: cmdSetBreakpoints, source: source.Path, lines: lines})
}

func (d *MasmDebugger) GetRegisters() ([]string, error) {
	res, err := d.request(command{kind: cmdGetRegisters})
	if err != nil {
		return nil, err
	}
	return res.registers, res.err
}

func (d *MasmDebugger) GetEflags() ([]debugger.Flag, error) {
	res, err := d.request(command{kind: cmdGetEflags})
	if err != nil {
		return nil, err
	}
	return res.eflags, res.err
}

func (d *MasmDebugger) GetCallStack() ([]dap.StackFrame, error) {
	res, err := d.request(command{kind: cmdGetCallStack})
	if err != nil {
		return nil, err
	}
	return res.frames, res.err
}

func (d *MasmDebugger) GetStackContents() ([]debugger.StackEntry, error) {
	res, err := d.request(command{kind: cmdGetStackContents})
	if err != nil {
		return nil, err
	}
	return res.stack, res.err
}

func (d *MasmDebugger) EvaluateExpression(expression string) string {
	res, err := d.request(command{kind: cmdEvaluate, expression: expression})
	if err != nil {
		return diagInvalidExpression
	}
	return res.value
}

func (d *MasmDebugger) EvaluateVariable(name string) string {
	res, err := d.request(command{kind: cmdEvaluateVariable, expression: name})
	if err != nil {
		return ""
	}
	return res.value
}

func (d *MasmDebugger) GetExceptionInfo(threadID int) (*debugger.ExceptionInfo, error) {
	res, err := d.request(command{kind: cmdGetExceptionInfo})
	if err != nil {
		return nil, err
	}
	return res.excInfo, res.err
}

// Exit requests session teardown: breakpoints cleared, pending replies
// answered with ErrDebuggerIsClosed, engine released by the worker.
func (d *MasmDebugger) Exit() error {
	if d.shouldExit.Swap(true) {
		return nil
	}
	_ = d.post(command{kind: cmdExit})
	d.resume.Fire()
	if err := d.engine.Interrupt(); err != nil {
		logrus.Warnf("Interrupt on exit fail, err = %v", err)
	}
	return nil
}

func (d *MasmDebugger) closed() bool {
	return d.shouldExit.Load() || d.StatusManager.Is(utils.Exited)
}

func (d *MasmDebugger) post(cmd command) error {
	select {
	case d.commands <- cmd:
	case <-d.done:
		return e.ErrDebuggerIsClosed
	default:
		logrus.Warnf("command queue full, dropping command %d", cmd.kind)
		return e.ErrOptionTimeout
	}
	// the worker may be blocked in WaitForEvent while the target runs;
	// the engine interrupt is sticky, so this wakes it even when issued
	// just before the wait starts
	if cmd.kind != cmdExit && d.StatusManager.Is(utils.Running, utils.AwaitingConfigDone) {
		d.commandInterrupt.Store(true)
		if err := d.engine.Interrupt(); err != nil {
			logrus.Warnf("Interrupt for queued command fail, err = %v", err)
		}
	}
	return nil
}

// request enqueues a data command and blocks until the worker fulfils the
// reply. Data commands only make sense while the target is broken in.
func (d *MasmDebugger) request(cmd command) (result, error) {
	if d.closed() {
		return result{}, e.ErrDebuggerIsClosed
	}
	if !d.StatusManager.Is(utils.Stopped) {
		return result{}, e.ErrProgramIsRunningOptionFail
	}
	cmd.reply = make(chan result, 1)
	if err := d.post(cmd); err != nil {
		return result{}, err
	}
	select {
	case res := <-cmd.reply:
		return res, nil
	case <-d.done:
		return result{}, e.ErrDebuggerIsClosed
	case <-time.After(OptionTimeout):
		return result{}, e.ErrOptionTimeout
	}
}

// setup configures the engine and spawns the target. Runs on the worker so
// every engine call after New happens on one goroutine.
func (d *MasmDebugger) setup() error {
	commandLine := buildCommandLine(d.startOption.Program, d.startOption.Args)
	if err := d.engine.CreateProcess(commandLine); err != nil {
		logrus.Errorf("CreateProcess fail, err = %v", err)
		return err
	}
	if err := d.engine.SetEffectiveProcessor("x86"); err != nil {
		logrus.Warnf("SetEffectiveProcessor fail, err = %v", err)
	}
	if err := d.engine.SetSymbolPath(programDirectory(d.startOption.Program)); err != nil {
		logrus.Warnf("SetSymbolPath fail, err = %v", err)
	}
	if err := d.engine.ReloadSymbols("/f"); err != nil {
		logrus.Warnf("ReloadSymbols fail, err = %v", err)
	}
	// break on everything the classifier wants to see, and swallow the
	// spurious single-step some engines raise after a trace
	for _, code := range []uint32{engine.ExcWx86Breakpoint, engine.ExcDbgControlC, engine.ExcStatusBreakpoint} {
		if err := d.engine.SetExceptionFilter(code, engine.FilterBreak); err != nil {
			logrus.Warnf("SetExceptionFilter(0x%08X) fail, err = %v", code, err)
		}
	}
	if err := d.engine.SetExceptionFilter(engine.ExcSingleStep, engine.FilterGoNotHandled); err != nil {
		logrus.Warnf("SetExceptionFilter(single step) fail, err = %v", err)
	}
	return nil
}

func buildCommandLine(program string, args []string) string {
	parts := []string{`"` + program + `"`}
	parts = append(parts, args...)
	return strings.Join(parts, " ")
}

// programDirectory splits off the target's directory. Target paths are
// Windows style regardless of the host the adapter was built for.
func programDirectory(program string) string {
	if i := strings.LastIndexAny(program, `\/`); i > 0 {
		return program[:i]
	}
	return "."
}

// eventLoop is the engine worker. It alternates between handling queued
// commands while the target is broken in, and blocking in WaitForEvent
// while it runs.
func (d *MasmDebugger) eventLoop(setupErr chan<- error) {
	if err := d.setup(); err != nil {
		d.shouldExit.Store(true)
		d.StatusManager.Set(utils.Exited)
		if endErr := d.engine.EndSession(true); endErr != nil {
			logrus.Warnf("EndSession after failed setup fail, err = %v", endErr)
		}
		setupErr <- err
		close(d.done)
		return
	}
	setupErr <- nil
	defer d.teardown()

	// launch configuration is finished, drive the first wait
	d.resume.Fire()

	for {
		// drain queued commands first so breakpoint configuration lands
		// before the target resumes
		if !d.drainCommands() {
			return
		}
		select {
		case cmd := <-d.commands:
			if !d.handleCommand(cmd) {
				return
			}
			continue
		case <-d.resume.Done():
			d.resume.Reset()
		}
		if d.shouldExit.Load() {
			return
		}

		kind, err := d.engine.WaitForEvent(engine.WaitInfinite)
		if d.shouldExit.Load() {
			return
		}
		if err != nil || kind == engine.KindFatal {
			logrus.Errorf("WaitForEvent fail, err = %v", err)
			d.emitExited("")
			return
		}
		if kind == engine.KindNoDebuggee {
			d.emitExited("")
			return
		}
		if kind == engine.KindTimeout {
			d.resume.Fire()
			continue
		}

		info, err := d.engine.LastEvent()
		if err != nil {
			logrus.Errorf("LastEvent fail, err = %v", err)
			d.emitExited("")
			return
		}

		d.mutex.Lock()
		d.eventCount++
		first := d.eventCount == 1
		d.mutex.Unlock()
		if first {
			d.hasInitialized.Fire()
		}

		if !d.classify(info) {
			return
		}
	}
}

// drainCommands handles every queued command without blocking. Returns
// false once an exit command was processed.
func (d *MasmDebugger) drainCommands() bool {
	for {
		select {
		case cmd := <-d.commands:
			if !d.handleCommand(cmd) {
				return false
			}
		default:
			return true
		}
	}
}

// classify interprets the engine's broken state: either surface a session
// event and stay stopped, or transparently resume. Returns false when the
// session is over.
func (d *MasmDebugger) classify(info *engine.EventInfo) bool {
	switch info.Type {
	case engine.EventExitProcess:
		d.emitExited(info.Description)
		return false
	case engine.EventBreakpoint:
		d.onBreakpointEvent()
	case engine.EventException:
		d.onExceptionEvent(info)
	case engine.EventStepComplete:
		d.onStepEvent()
	default:
		// module loads and other bookkeeping breaks are not surfaced
		d.resumeTarget(engine.StatusGo)
	}
	return true
}

func (d *MasmDebugger) onBreakpointEvent() {
	line, err := d.currentLine()
	if err != nil {
		logrus.Warnf("resolve breakpoint line fail, err = %v", err)
	}
	offset, offErr := d.engine.InstructionOffset()

	d.mutex.Lock()
	d.lastLineBreak = line
	if offErr == nil {
		if value, found := d.breakpoints.Get(offset); found {
			if record := value.(*breakpointRecord); record.oneShot {
				// the engine retires one-shot breakpoints on hit
				d.breakpoints.Remove(offset)
			}
		}
	}
	d.mutex.Unlock()

	d.StatusManager.Set(utils.Stopped)
	d.notify(debugger.Event{Type: debugger.EventBreakpointHit})
}

func (d *MasmDebugger) onExceptionEvent(info *engine.EventInfo) {
	var code uint32
	if info.Exception != nil {
		code = info.Exception.Code
	}
	switch code {
	case engine.ExcWx86Breakpoint:
		if !d.seenWx86Break {
			// initial loader breakpoint of the 32-bit subsystem
			d.seenWx86Break = true
			d.resumeTarget(engine.StatusGo)
			return
		}
		d.recordException(info, code)
		d.StatusManager.Set(utils.Stopped)
		d.notify(debugger.Event{Type: debugger.EventException, Description: info.Description})
	case engine.ExcDbgControlC, engine.ExcStatusBreakpoint:
		if d.pauseRequested.CompareAndSwap(true, false) {
			// a deliberate user pause is surfaced even if the break-in
			// thread has never been seen before
			d.seenBreakin = true
			d.StatusManager.Set(utils.Stopped)
			d.notify(debugger.Event{Type: debugger.EventPaused})
			return
		}
		if d.commandInterrupt.CompareAndSwap(true, false) {
			// break-in provoked by post() to deliver a queued command;
			// the event loop drains the queue before resuming
			d.resumeTarget(engine.StatusGo)
			return
		}
		if !d.seenBreakin {
			// break-in thread injected by the system, not user visible
			d.seenBreakin = true
			d.resumeTarget(engine.StatusGo)
			return
		}
		d.StatusManager.Set(utils.Stopped)
		d.notify(debugger.Event{Type: debugger.EventPaused})
	default:
		d.recordException(info, code)
		d.StatusManager.Set(utils.Stopped)
		d.notify(debugger.Event{Type: debugger.EventException, Description: info.Description})
	}
}

// onStepEvent coalesces intra-line instruction steps: keep stepping until
// the source line changes, so the IDE sees one stop per line transition.
func (d *MasmDebugger) onStepEvent() {
	line, err := d.currentLine()

	d.mutex.Lock()
	last := d.lastLineBreak
	d.mutex.Unlock()

	if err == nil && line == last {
		d.resumeTarget(engine.StatusStepOver)
		return
	}

	d.mutex.Lock()
	d.lastLineBreak = line
	d.mutex.Unlock()

	d.StatusManager.Set(utils.Stopped)
	d.notify(debugger.Event{Type: debugger.EventStepped})
}

func (d *MasmDebugger) recordException(info *engine.EventInfo, code uint32) {
	exceptionID := fmt.Sprintf("0x%08X", code)
	description := info.Description
	if description == "" {
		description = exceptionID
	}
	d.mutex.Lock()
	d.lastException = &debugger.ExceptionInfo{
		ExceptionID: exceptionID,
		Description: description,
		BreakMode:   "unhandled",
		Details: dap.ExceptionDetails{
			Message:      description,
			TypeName:     "Exception",
			FullTypeName: fmt.Sprintf("Exception %s", exceptionID),
			EvaluateName: exceptionID,
		},
	}
	d.mutex.Unlock()
}

func (d *MasmDebugger) resumeTarget(status engine.ExecStatus) {
	if err := d.engine.SetExecutionStatus(status); err != nil {
		logrus.Errorf("SetExecutionStatus fail, err = %v", err)
		d.StatusManager.Set(utils.Stopped)
		return
	}
	d.StatusManager.Set(utils.Running)
	d.resume.Fire()
}

// handleCommand executes one command on the worker. Returns false once the
// session should exit.
func (d *MasmDebugger) handleCommand(cmd command) bool {
	if d.shouldExit.Load() && cmd.kind != cmdExit {
		if cmd.reply != nil {
			cmd.reply <- result{err: e.ErrDebuggerIsClosed}
		}
		return true
	}
	switch cmd.kind {
	case cmdRun:
		d.resumeTarget(engine.StatusGo)
	case cmdStepOver:
		d.resumeTarget(engine.StatusStepOver)
	case cmdStepInto:
		d.resumeTarget(engine.StatusStepInto)
	case cmdStepOut:
		d.stepOutWorker()
	case cmdSetBreakpoints:
		d.setBreakpointsWorker(cmd.source, cmd.lines)
	case cmdGetRegisters:
		registers, err := d.registersWorker()
		cmd.reply <- result{registers: registers, err: err}
	case cmdGetEflags:
		eflags, err := d.eflagsWorker()
		cmd.reply <- result{eflags: eflags, err: err}
	case cmdGetCallStack:
		frames, err := d.callStackWorker()
		cmd.reply <- result{frames: frames, err: err}
	case cmdGetStackContents:
		stack, err := d.stackContentsWorker()
		cmd.reply <- result{stack: stack, err: err}
	case cmdEvaluate:
		cmd.reply <- result{value: d.evaluateWorker(cmd.expression)}
	case cmdEvaluateVariable:
		cmd.reply <- result{value: d.evaluateVariableWorker(cmd.expression)}
	case cmdGetExceptionInfo:
		info, err := d.exceptionInfoWorker()
		cmd.reply <- result{excInfo: info, err: err}
	case cmdExit:
		return false
	}
	return true
}

// stepOutWorker plants a one-shot breakpoint at the topmost frame's return
// address and lets the target run to it.
func (d *MasmDebugger) stepOutWorker() {
	frames, err := d.engine.StackTrace(1)
	if err != nil || len(frames) == 0 {
		logrus.Errorf("StackTrace for step out fail, err = %v", err)
		return
	}
	returnOffset := frames[0].ReturnOffset
	bp, err := d.engine.AddBreakpoint()
	if err != nil {
		logrus.Errorf("AddBreakpoint for step out fail, err = %v", err)
		return
	}
	if err = bp.SetOffset(returnOffset); err != nil {
		logrus.Errorf("SetOffset for step out fail, err = %v", err)
		_ = d.engine.RemoveBreakpoint(bp)
		return
	}
	if err = bp.SetOneShot(); err != nil {
		logrus.Warnf("SetOneShot fail, err = %v", err)
	}
	if err = bp.Enable(); err != nil {
		logrus.Errorf("Enable for step out fail, err = %v", err)
		_ = d.engine.RemoveBreakpoint(bp)
		return
	}
	d.mutex.Lock()
	d.breakpoints.Put(returnOffset, &breakpointRecord{handle: bp, oneShot: true, enabled: true})
	d.mutex.Unlock()
	d.resumeTarget(engine.StatusGo)
}

// setBreakpointsWorker replaces every breakpoint previously set for the
// source, then inserts the new set.
func (d *MasmDebugger) setBreakpointsWorker(source string, lines []int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var stale []uint64
	d.breakpoints.Each(func(key interface{}, value interface{}) {
		record := value.(*breakpointRecord)
		if record.source == source && !record.oneShot {
			stale = append(stale, key.(uint64))
		}
	})
	for _, offset := range stale {
		value, _ := d.breakpoints.Get(offset)
		record := value.(*breakpointRecord)
		if err := d.engine.RemoveBreakpoint(record.handle); err != nil {
			logrus.Warnf("RemoveBreakpoint fail, err = %v", err)
		}
		d.breakpoints.Remove(offset)
	}

	for _, line := range lines {
		offset, err := d.engine.OffsetByLine(source, line)
		if err != nil {
			// no code at this line, the breakpoint is silently not set
			logrus.Warnf("OffsetByLine fail for line %d, err = %v", line, err)
			continue
		}
		bp, err := d.engine.AddBreakpoint()
		if err != nil {
			logrus.Errorf("AddBreakpoint fail, err = %v", err)
			continue
		}
		if err = bp.SetOffset(offset); err != nil {
			logrus.Errorf("SetOffset fail, err = %v", err)
			_ = d.engine.RemoveBreakpoint(bp)
			continue
		}
		if err = bp.Enable(); err != nil {
			logrus.Errorf("Enable breakpoint fail, err = %v", err)
			_ = d.engine.RemoveBreakpoint(bp)
			continue
		}
		d.breakpoints.Put(offset, &breakpointRecord{
			handle:  bp,
			source:  source,
			line:    line,
			enabled: true,
		})
	}
}

func (d *MasmDebugger) exceptionInfoWorker() (*debugger.ExceptionInfo, error) {
	d.mutex.Lock()
	last := d.lastException
	d.mutex.Unlock()
	if last == nil {
		return nil, e.ErrNoExceptionInfo
	}
	info := *last
	if frames, err := d.callStackWorker(); err == nil {
		var trace []string
		for _, frame := range frames {
			if frame.Source != nil {
				trace = append(trace, fmt.Sprintf("%s (%s:%d)", frame.Name, frame.Source.Path, frame.Line))
			} else {
				trace = append(trace, frame.Name)
			}
		}
		info.Details.StackTrace = strings.Join(trace, "\n")
	}
	return &info, nil
}

func (d *MasmDebugger) currentLine() (int, error) {
	offset, err := d.engine.InstructionOffset()
	if err != nil {
		return -1, err
	}
	line, _, err := d.engine.LineByOffset(offset)
	if err != nil {
		return -1, err
	}
	return line, nil
}

func (d *MasmDebugger) emitExited(description string) {
	d.shouldExit.Store(true)
	d.notify(debugger.Event{Type: debugger.EventExited, Description: description})
}

func (d *MasmDebugger) notify(event debugger.Event) {
	if d.callback != nil {
		d.callback(event)
	}
}

// getBreakpointLines reports the lines with an enabled breakpoint for the
// source, in code offset order.
func (d *MasmDebugger) getBreakpointLines(source string) []int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	var lines []int
	d.breakpoints.Each(func(key interface{}, value interface{}) {
		record := value.(*breakpointRecord)
		if record.source == source && record.enabled && !record.oneShot {
			lines = append(lines, record.line)
		}
	})
	return lines
}

// teardown releases everything the worker owns: breakpoint handles first,
// then pending command replies, then the engine itself.
func (d *MasmDebugger) teardown() {
	d.shouldExit.Store(true)

	d.mutex.Lock()
	d.breakpoints.Each(func(key interface{}, value interface{}) {
		record := value.(*breakpointRecord)
		if err := d.engine.RemoveBreakpoint(record.handle); err != nil {
			logrus.Warnf("RemoveBreakpoint on teardown fail, err = %v", err)
		}
	})
	d.breakpoints.Clear()
	d.mutex.Unlock()

	for {
		select {
		case cmd := <-d.commands:
			if cmd.reply != nil {
				cmd.reply <- result{err: e.ErrDebuggerIsClosed}
			}
		default:
			d.StatusManager.Set(utils.Exited)
			if err := d.engine.EndSession(true); err != nil {
				logrus.Warnf("EndSession fail, err = %v", err)
			}
			close(d.done)
			return
		}
	}
}

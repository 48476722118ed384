//go:build windows

// Package dbgeng implements the engine capability surface on top of the
// Windows Debug Engine (dbgeng.dll), the library behind WinDbg. One Engine
// owns one debug client and the target it spawned.
package dbgeng

import (
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/gregoryginzburg/vscode-masm/debugger/engine"
)

// Engine option and status constants from dbgeng.h.
const (
	debugProcessFlag     = 0x00000001
	debugEngoptInitialBreak = 0x00000020

	debugStatusGo           = 1
	debugStatusGoNotHandled = 3
	debugStatusStepOver     = 4
	debugStatusStepInto     = 5
	debugStatusNoDebuggee   = 7

	debugInterruptActive = 0

	debugEventBreakpoint    = 0x00000001
	debugEventException     = 0x00000002
	debugEventCreateProcess = 0x00000010
	debugEventExitProcess   = 0x00000020
	debugEventLoadModule    = 0x00000040

	debugBreakpointCode = 0
	debugAnyID          = 0xFFFFFFFF

	debugBreakpointEnabled = 0x00000004
	debugBreakpointOneShot = 0x00000010

	debugValueInt64 = 4

	debugOutctlIgnore    = 3
	debugExecuteDefault  = 0

	debugEndActiveTerminate = 1

	debugFilterBreak        = 0
	debugFilterIgnore       = 3
	debugFilterGoHandled    = 0
	debugFilterGoNotHandled = 1

	imageFileMachineI386 = 0x014c

	hrSFalse      = 0x00000001
	hrEPending    = 0x8000000A
	hrEUnexpected = 0x8000FFFF

	infiniteTimeout = 0xFFFFFFFF
)

// debugValue mirrors DEBUG_VALUE: a 24 byte union followed by
// TailOfRawBytes and Type.
type debugValue struct {
	raw  [24]byte
	tail uint32
	typ  uint32
}

func (v *debugValue) uint64() uint64 {
	return binary.LittleEndian.Uint64(v.raw[:8])
}

// stackFrame mirrors DEBUG_STACK_FRAME.
type stackFrame struct {
	InstructionOffset uint64
	ReturnOffset      uint64
	FrameOffset       uint64
	StackOffset       uint64
	FuncTableEntry    uint64
	Params            [4]uint64
	Reserved          [6]uint64
	Virtual           uint32
	FrameNumber       uint32
}

// exceptionFilterParameters mirrors DEBUG_EXCEPTION_FILTER_PARAMETERS.
type exceptionFilterParameters struct {
	ExecutionOption   uint32
	ContinueOption    uint32
	TextSize          uint32
	CommandSize       uint32
	SecondCommandSize uint32
	ExceptionCode     uint32
}

// lastEventExceptionInfo mirrors DEBUG_LAST_EVENT_INFO_EXCEPTION: an
// EXCEPTION_RECORD64 followed by the FirstChance flag.
type lastEventExceptionInfo struct {
	ExceptionCode    uint32
	ExceptionFlags   uint32
	ExceptionRecord  uint64
	ExceptionAddress uint64
	NumberParameters uint32
	alignment        uint32
	Information      [15]uint64
	FirstChance      uint32
}

// eventSnapshot is used to recognize stale last-event data: a WaitForEvent
// that returns without refreshing it completed a single step.
type eventSnapshot struct {
	typ         uint32
	processID   uint32
	threadID    uint32
	description string
	excCode     uint32
	excAddress  uint64
}

// DbgEng drives one debug client. All methods except Interrupt must run on
// the session's worker goroutine.
type DbgEng struct {
	client        comObject
	control       comObject
	symbols       comObject
	registers     comObject
	systemObjects comObject
	dataSpaces    comObject

	lastSnapshot eventSnapshot
	// lastResume remembers how the target was resumed, so a break with an
	// unchanged snapshot after a step is reported as step completion
	lastResume engine.ExecStatus
	seenEvent  bool
}

var _ engine.Engine = (*DbgEng)(nil)

// New creates the debug client and acquires every interface the adapter
// needs, in fixed order. The reverse order is used on EndSession.
func New() (*DbgEng, error) {
	client, err := debugCreate()
	if err != nil {
		return nil, err
	}
	d := &DbgEng{client: client, lastResume: engine.StatusGo}
	acquire := []struct {
		iid *windows.GUID
		out *comObject
	}{
		{&iidDebugControl, &d.control},
		{&iidDebugSymbols, &d.symbols},
		{&iidDebugRegisters, &d.registers},
		{&iidDebugSystemObjects, &d.systemObjects},
		{&iidDebugDataSpaces, &d.dataSpaces},
	}
	for _, a := range acquire {
		obj, err := client.queryInterface(a.iid)
		if err != nil {
			d.releaseAll()
			return nil, err
		}
		*a.out = obj
	}
	return d, nil
}

func (d *DbgEng) CreateProcess(commandLine string) error {
	hr := d.control.call(slotControlSetEngineOptions, debugEngoptInitialBreak)
	if err := checkHR("SetEngineOptions", hr); err != nil {
		return err
	}
	hr = d.client.call(slotClientCreateProcess,
		0, // server
		uintptr(unsafe.Pointer(bytePtr(commandLine))),
		debugProcessFlag)
	return checkHR("CreateProcess", hr)
}

func (d *DbgEng) WaitForEvent(timeout time.Duration) (engine.EventKind, error) {
	ms := uintptr(infiniteTimeout)
	if timeout >= 0 {
		ms = uintptr(timeout / time.Millisecond)
	}
	hr := d.control.call(slotControlWaitForEvent, 0, ms)
	switch uint32(hr) {
	case 0:
		if d.executionStatus() == debugStatusNoDebuggee {
			return engine.KindNoDebuggee, nil
		}
		return engine.KindBreak, nil
	case hrSFalse:
		return engine.KindTimeout, nil
	case hrEPending:
		// interrupted, the engine is broken in
		return engine.KindBreak, nil
	case hrEUnexpected:
		return engine.KindNoDebuggee, nil
	default:
		return engine.KindFatal, checkHR("WaitForEvent", hr)
	}
}

func (d *DbgEng) executionStatus() uint32 {
	var status uint32
	d.control.call(slotControlGetExecutionStatus, uintptr(unsafe.Pointer(&status)))
	return status
}

func (d *DbgEng) LastEvent() (*engine.EventInfo, error) {
	var eventType, processID, threadID, used, descUsed uint32
	var extra lastEventExceptionInfo
	desc := make([]byte, 256)
	hr := d.control.call(slotControlGetLastEventInformation,
		uintptr(unsafe.Pointer(&eventType)),
		uintptr(unsafe.Pointer(&processID)),
		uintptr(unsafe.Pointer(&threadID)),
		uintptr(unsafe.Pointer(&extra)),
		unsafe.Sizeof(extra),
		uintptr(unsafe.Pointer(&used)),
		uintptr(unsafe.Pointer(&desc[0])),
		uintptr(len(desc)),
		uintptr(unsafe.Pointer(&descUsed)))
	if err := checkHR("GetLastEventInformation", hr); err != nil {
		return nil, err
	}

	info := &engine.EventInfo{
		ProcessID:   processID,
		ThreadID:    threadID,
		Description: cString(desc),
	}
	snapshot := eventSnapshot{
		typ:         eventType,
		processID:   processID,
		threadID:    threadID,
		description: info.Description,
	}
	switch eventType {
	case debugEventBreakpoint:
		info.Type = engine.EventBreakpoint
	case debugEventException:
		info.Type = engine.EventException
		info.Exception = &engine.ExceptionRecord{
			Code:        extra.ExceptionCode,
			Address:     extra.ExceptionAddress,
			FirstChance: extra.FirstChance != 0,
		}
		snapshot.excCode = extra.ExceptionCode
		snapshot.excAddress = extra.ExceptionAddress
	case debugEventCreateProcess:
		info.Type = engine.EventCreateProcess
	case debugEventExitProcess:
		info.Type = engine.EventExitProcess
	case debugEventLoadModule:
		info.Type = engine.EventLoadModule
	default:
		info.Type = engine.EventOther
	}

	// a step resume that broke without recording a fresh event is a
	// completed single step
	stepping := d.lastResume == engine.StatusStepOver || d.lastResume == engine.StatusStepInto
	if d.seenEvent && stepping && snapshot == d.lastSnapshot {
		info.Type = engine.EventStepComplete
		info.Exception = nil
	}
	d.lastSnapshot = snapshot
	d.seenEvent = true
	return info, nil
}

func (d *DbgEng) SetExecutionStatus(status engine.ExecStatus) error {
	native := uintptr(debugStatusGo)
	switch status {
	case engine.StatusStepOver:
		native = debugStatusStepOver
	case engine.StatusStepInto:
		native = debugStatusStepInto
	}
	hr := d.control.call(slotControlSetExecutionStatus, native)
	if err := checkHR("SetExecutionStatus", hr); err != nil {
		return err
	}
	d.lastResume = status
	return nil
}

func (d *DbgEng) GoTo(offset uint64) error {
	command := fmt.Sprintf("g =0x%x", offset)
	hr := d.control.call(slotControlExecute,
		debugOutctlIgnore,
		uintptr(unsafe.Pointer(bytePtr(command))),
		debugExecuteDefault)
	if err := checkHR("Execute", hr); err != nil {
		return err
	}
	d.lastResume = engine.StatusGo
	return nil
}

// Interrupt is safe from any goroutine: it only flips the engine's
// interrupt flag.
func (d *DbgEng) Interrupt() error {
	hr := d.control.call(slotControlSetInterrupt, debugInterruptActive)
	return checkHR("SetInterrupt", hr)
}

type breakpoint struct {
	control comObject
	handle  comObject
	id      uint32
}

func (b *breakpoint) ID() uint32 { return b.id }

func (b *breakpoint) SetOffset(offset uint64) error {
	hr := b.handle.call(slotBreakpointSetOffset, uintptr(offset))
	return checkHR("Breakpoint.SetOffset", hr)
}

func (b *breakpoint) Enable() error {
	hr := b.handle.call(slotBreakpointSetFlags, debugBreakpointEnabled)
	return checkHR("Breakpoint.SetFlags", hr)
}

func (b *breakpoint) SetOneShot() error {
	hr := b.handle.call(slotBreakpointAddFlags, debugBreakpointOneShot)
	return checkHR("Breakpoint.AddFlags", hr)
}

func (d *DbgEng) AddBreakpoint() (engine.Breakpoint, error) {
	var handle comObject
	hr := d.control.call(slotControlAddBreakpoint,
		debugBreakpointCode,
		debugAnyID,
		uintptr(unsafe.Pointer(&handle)))
	if err := checkHR("AddBreakpoint", hr); err != nil {
		return nil, err
	}
	bp := &breakpoint{control: d.control, handle: handle}
	var id uint32
	if hr = handle.call(slotBreakpointGetId, uintptr(unsafe.Pointer(&id))); int32(hr) >= 0 {
		bp.id = id
	}
	return bp, nil
}

func (d *DbgEng) RemoveBreakpoint(bp engine.Breakpoint) error {
	native, ok := bp.(*breakpoint)
	if !ok {
		return nil
	}
	hr := d.control.call(slotControlRemoveBreakpoint, uintptr(native.handle))
	return checkHR("RemoveBreakpoint", hr)
}

func (d *DbgEng) OffsetByLine(sourcePath string, line int) (uint64, error) {
	var offset uint64
	hr := d.symbols.call(slotSymbolsGetOffsetByLine,
		uintptr(uint32(line)),
		uintptr(unsafe.Pointer(bytePtr(sourcePath))),
		uintptr(unsafe.Pointer(&offset)))
	if err := checkHR("GetOffsetByLine", hr); err != nil {
		return 0, err
	}
	return offset, nil
}

func (d *DbgEng) OffsetByName(name string) (uint64, error) {
	var offset uint64
	hr := d.symbols.call(slotSymbolsGetOffsetByName,
		uintptr(unsafe.Pointer(bytePtr(name))),
		uintptr(unsafe.Pointer(&offset)))
	if err := checkHR("GetOffsetByName", hr); err != nil {
		return 0, err
	}
	return offset, nil
}

func (d *DbgEng) NameByOffset(offset uint64) (string, uint64, error) {
	buffer := make([]byte, 256)
	var size uint32
	var displacement uint64
	hr := d.symbols.call(slotSymbolsGetNameByOffset,
		uintptr(offset),
		uintptr(unsafe.Pointer(&buffer[0])),
		uintptr(len(buffer)),
		uintptr(unsafe.Pointer(&size)),
		uintptr(unsafe.Pointer(&displacement)))
	if err := checkHR("GetNameByOffset", hr); err != nil {
		return "", 0, err
	}
	return cString(buffer), displacement, nil
}

func (d *DbgEng) LineByOffset(offset uint64) (int, string, error) {
	var line, size uint32
	buffer := make([]byte, 260)
	hr := d.symbols.call(slotSymbolsGetLineByOffset,
		uintptr(offset),
		uintptr(unsafe.Pointer(&line)),
		uintptr(unsafe.Pointer(&buffer[0])),
		uintptr(len(buffer)),
		uintptr(unsafe.Pointer(&size)),
		0)
	if err := checkHR("GetLineByOffset", hr); err != nil {
		return 0, "", err
	}
	return int(line), cString(buffer), nil
}

func (d *DbgEng) SymbolType(name string) (*engine.SymbolType, error) {
	var typeID uint32
	var moduleBase uint64
	hr := d.symbols.call(slotSymbolsGetSymbolTypeId,
		uintptr(unsafe.Pointer(bytePtr(name))),
		uintptr(unsafe.Pointer(&typeID)),
		uintptr(unsafe.Pointer(&moduleBase)))
	if err := checkHR("GetSymbolTypeId", hr); err != nil {
		return nil, err
	}
	var size uint32
	hr = d.symbols.call(slotSymbolsGetTypeSize,
		uintptr(moduleBase),
		uintptr(typeID),
		uintptr(unsafe.Pointer(&size)))
	if err := checkHR("GetTypeSize", hr); err != nil {
		return nil, err
	}
	return &engine.SymbolType{ModuleBase: moduleBase, TypeID: typeID, Size: int(size)}, nil
}

func (d *DbgEng) RegisterCount() (int, error) {
	var count uint32
	hr := d.registers.call(slotRegistersGetNumberRegisters, uintptr(unsafe.Pointer(&count)))
	if err := checkHR("GetNumberRegisters", hr); err != nil {
		return 0, err
	}
	return int(count), nil
}

func (d *DbgEng) RegisterDescription(index int) (string, error) {
	buffer := make([]byte, 64)
	hr := d.registers.call(slotRegistersGetDescription,
		uintptr(uint32(index)),
		uintptr(unsafe.Pointer(&buffer[0])),
		uintptr(len(buffer)),
		0,
		0)
	if err := checkHR("GetDescription", hr); err != nil {
		return "", err
	}
	return cString(buffer), nil
}

func (d *DbgEng) RegisterValue(index int) (uint64, error) {
	var value debugValue
	hr := d.registers.call(slotRegistersGetValue,
		uintptr(uint32(index)),
		uintptr(unsafe.Pointer(&value)))
	if err := checkHR("GetValue", hr); err != nil {
		return 0, err
	}
	return value.uint64(), nil
}

func (d *DbgEng) InstructionOffset() (uint64, error) {
	var offset uint64
	hr := d.registers.call(slotRegistersGetInstructionOffset, uintptr(unsafe.Pointer(&offset)))
	if err := checkHR("GetInstructionOffset", hr); err != nil {
		return 0, err
	}
	return offset, nil
}

func (d *DbgEng) StackOffset() (uint64, error) {
	var offset uint64
	hr := d.registers.call(slotRegistersGetStackOffset, uintptr(unsafe.Pointer(&offset)))
	if err := checkHR("GetStackOffset", hr); err != nil {
		return 0, err
	}
	return offset, nil
}

func (d *DbgEng) StackTrace(max int) ([]engine.Frame, error) {
	if max <= 0 {
		return nil, nil
	}
	frames := make([]stackFrame, max)
	var filled uint32
	hr := d.control.call(slotControlGetStackTrace,
		0, 0, 0,
		uintptr(unsafe.Pointer(&frames[0])),
		uintptr(max),
		uintptr(unsafe.Pointer(&filled)))
	if err := checkHR("GetStackTrace", hr); err != nil {
		return nil, err
	}
	walked := make([]engine.Frame, 0, filled)
	for i := uint32(0); i < filled; i++ {
		walked = append(walked, engine.Frame{
			InstructionOffset: frames[i].InstructionOffset,
			FrameOffset:       frames[i].FrameOffset,
			ReturnOffset:      frames[i].ReturnOffset,
		})
	}
	return walked, nil
}

func (d *DbgEng) ReadVirtual(address uint64, size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	buffer := make([]byte, size)
	var read uint32
	hr := d.dataSpaces.call(slotDataReadVirtual,
		uintptr(address),
		uintptr(unsafe.Pointer(&buffer[0])),
		uintptr(size),
		uintptr(unsafe.Pointer(&read)))
	if err := checkHR("ReadVirtual", hr); err != nil {
		return nil, err
	}
	return buffer[:read], nil
}

func (d *DbgEng) Evaluate(expression string) (uint64, error) {
	var value debugValue
	hr := d.control.call(slotControlEvaluate,
		uintptr(unsafe.Pointer(bytePtr(expression))),
		debugValueInt64,
		uintptr(unsafe.Pointer(&value)),
		0)
	if err := checkHR("Evaluate", hr); err != nil {
		return 0, err
	}
	return value.uint64(), nil
}

func (d *DbgEng) ThreadIDs() ([]uint32, error) {
	var count uint32
	hr := d.systemObjects.call(slotSystemGetNumberThreads, uintptr(unsafe.Pointer(&count)))
	if err := checkHR("GetNumberThreads", hr); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	ids := make([]uint32, count)
	hr = d.systemObjects.call(slotSystemGetThreadIdsByIndex,
		0,
		uintptr(count),
		uintptr(unsafe.Pointer(&ids[0])),
		0)
	if err := checkHR("GetThreadIdsByIndex", hr); err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *DbgEng) SetCurrentThread(id uint32) error {
	hr := d.systemObjects.call(slotSystemSetCurrentThreadId, uintptr(id))
	return checkHR("SetCurrentThreadId", hr)
}

func (d *DbgEng) SetSymbolPath(dir string) error {
	hr := d.symbols.call(slotSymbolsSetSymbolPath, uintptr(unsafe.Pointer(bytePtr(dir))))
	return checkHR("SetSymbolPath", hr)
}

func (d *DbgEng) ReloadSymbols(flags string) error {
	hr := d.symbols.call(slotSymbolsReload, uintptr(unsafe.Pointer(bytePtr(flags))))
	return checkHR("Reload", hr)
}

func (d *DbgEng) SetEffectiveProcessor(processor string) error {
	machine := uintptr(imageFileMachineI386)
	if processor != "x86" {
		return &engine.Error{Op: "SetEffectiveProcessorType(" + processor + ")", Code: hrEUnexpected}
	}
	hr := d.control.call(slotControlSetEffectiveProcessorType, machine)
	return checkHR("SetEffectiveProcessorType", hr)
}

func (d *DbgEng) SetExceptionFilter(code uint32, action engine.FilterAction) error {
	params := exceptionFilterParameters{ExceptionCode: code}
	switch action {
	case engine.FilterBreak:
		params.ExecutionOption = debugFilterBreak
		params.ContinueOption = debugFilterGoHandled
	case engine.FilterIgnore:
		params.ExecutionOption = debugFilterIgnore
		params.ContinueOption = debugFilterGoHandled
	case engine.FilterGoNotHandled:
		params.ExecutionOption = debugFilterIgnore
		params.ContinueOption = debugFilterGoNotHandled
	}
	hr := d.control.call(slotControlSetExceptionFilterParameters,
		1,
		uintptr(unsafe.Pointer(&params)))
	return checkHR("SetExceptionFilterParameters", hr)
}

// EndSession terminates the target and releases every interface in
// reverse acquisition order.
func (d *DbgEng) EndSession(terminate bool) error {
	var err error
	if terminate && d.client != 0 {
		hr := d.client.call(slotClientEndSession, debugEndActiveTerminate)
		err = checkHR("EndSession", hr)
	}
	d.releaseAll()
	return err
}

func (d *DbgEng) releaseAll() {
	d.dataSpaces.release()
	d.systemObjects.release()
	d.registers.release()
	d.symbols.release()
	d.control.release()
	d.client.release()
	d.dataSpaces, d.systemObjects, d.registers, d.symbols, d.control, d.client = 0, 0, 0, 0, 0, 0
}

// cString cuts a NUL terminated engine buffer down to a Go string.
func cString(buffer []byte) string {
	for i, b := range buffer {
		if b == 0 {
			return string(buffer[:i])
		}
	}
	return string(buffer)
}

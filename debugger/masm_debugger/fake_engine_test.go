package masm_debugger

import (
	"fmt"
	"sync"
	"time"

	"github.com/gregoryginzburg/vscode-masm/debugger/engine"
)

// fakeEngine is a scripted engine: tests queue the events WaitForEvent
// will observe, and the fake records every execution resume. It mimics the
// native engine's behavior of injecting a break-in exception when an
// in-flight wait is interrupted.
type fakeEngine struct {
	mu sync.Mutex

	created     bool
	commandLine string
	ended       bool

	events      chan *scriptedEvent
	interruptCh chan struct{}
	lastEvent   *engine.EventInfo

	resumes []engine.ExecStatus

	breakpoints map[uint64]*fakeBreakpoint
	nextBpID    uint32

	lineOffsets   map[string]map[int]uint64
	offsetLines   map[uint64]int
	offsetFiles   map[uint64]string
	symbolNames   map[uint64]string
	symbolOffsets map[string]uint64
	symbolTypes   map[string]*engine.SymbolType

	registers         []fakeRegister
	instructionOffset uint64
	stackOffset       uint64
	frames            []engine.Frame
	memory            map[uint64]byte
	evalValues        map[string]uint64
	evalErrors        map[string]bool

	threads     []uint32
	failThreads map[uint32]bool
	currentThread uint32

	symbolPath string
	filters    map[uint32]engine.FilterAction
}

type fakeRegister struct {
	name  string
	value uint64
}

type fakeBreakpoint struct {
	eng     *fakeEngine
	id      uint32
	offset  uint64
	enabled bool
	oneShot bool
}

func (b *fakeBreakpoint) ID() uint32 { return b.id }

func (b *fakeBreakpoint) SetOffset(offset uint64) error {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	b.offset = offset
	b.eng.breakpoints[offset] = b
	return nil
}

func (b *fakeBreakpoint) Enable() error {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	b.enabled = true
	return nil
}

func (b *fakeBreakpoint) SetOneShot() error {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	b.oneShot = true
	return nil
}

// scriptedEvent queues one engine event; hasOffset moves the instruction
// pointer at the moment the worker consumes the event, not when the test
// queued it.
type scriptedEvent struct {
	info      *engine.EventInfo
	offset    uint64
	hasOffset bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		events:        make(chan *scriptedEvent, 16),
		interruptCh:   make(chan struct{}, 1),
		breakpoints:   make(map[uint64]*fakeBreakpoint),
		lineOffsets:   make(map[string]map[int]uint64),
		offsetLines:   make(map[uint64]int),
		offsetFiles:   make(map[uint64]string),
		symbolNames:   make(map[uint64]string),
		symbolOffsets: make(map[string]uint64),
		symbolTypes:   make(map[string]*engine.SymbolType),
		memory:        make(map[uint64]byte),
		evalValues:    make(map[string]uint64),
		evalErrors:    make(map[string]bool),
		failThreads:   make(map[uint32]bool),
		filters:       make(map[uint32]engine.FilterAction),
		threads:       []uint32{0},
	}
}

// --- scripting helpers -------------------------------------------------

func (f *fakeEngine) addLine(source string, line int, offset uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lineOffsets[source] == nil {
		f.lineOffsets[source] = make(map[int]uint64)
	}
	f.lineOffsets[source][line] = offset
	f.offsetLines[offset] = line
	f.offsetFiles[offset] = source
}

func (f *fakeEngine) addSymbol(name string, offset uint64, size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbolOffsets[name] = offset
	f.symbolNames[offset] = name
	if size > 0 {
		f.symbolTypes[name] = &engine.SymbolType{ModuleBase: 0x400000, TypeID: uint32(len(f.symbolTypes) + 1), Size: size}
	}
}

func (f *fakeEngine) setMemory(base uint64, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range data {
		f.memory[base+uint64(i)] = b
	}
}

func (f *fakeEngine) pushEvent(info *engine.EventInfo) {
	f.events <- &scriptedEvent{info: info}
}

func (f *fakeEngine) pushException(code uint32, description string) {
	f.pushEvent(&engine.EventInfo{
		Type:        engine.EventException,
		ProcessID:   1,
		ThreadID:    0,
		Description: description,
		Exception:   &engine.ExceptionRecord{Code: code, FirstChance: true},
	})
}

func (f *fakeEngine) pushBreakpointHit(offset uint64) {
	f.events <- &scriptedEvent{
		info: &engine.EventInfo{
			Type:        engine.EventBreakpoint,
			ProcessID:   1,
			Description: fmt.Sprintf("Hit breakpoint at 0x%x", offset),
		},
		offset:    offset,
		hasOffset: true,
	}
}

func (f *fakeEngine) pushStepComplete(offset uint64) {
	f.events <- &scriptedEvent{
		info:      &engine.EventInfo{Type: engine.EventStepComplete, ProcessID: 1},
		offset:    offset,
		hasOffset: true,
	}
}

func (f *fakeEngine) pushExitProcess() {
	f.pushEvent(&engine.EventInfo{Type: engine.EventExitProcess, ProcessID: 1, Description: "process exited"})
}

func (f *fakeEngine) setInstructionOffset(offset uint64) {
	f.mu.Lock()
	f.instructionOffset = offset
	f.mu.Unlock()
}

func (f *fakeEngine) resumeHistory() []engine.ExecStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := make([]engine.ExecStatus, len(f.resumes))
	copy(history, f.resumes)
	return history
}

func (f *fakeEngine) breakpointOffsets() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var offsets []uint64
	for offset, bp := range f.breakpoints {
		if bp.enabled {
			offsets = append(offsets, offset)
		}
	}
	return offsets
}

// --- engine.Engine -----------------------------------------------------

func (f *fakeEngine) CreateProcess(commandLine string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = true
	f.commandLine = commandLine
	return nil
}

func (f *fakeEngine) WaitForEvent(timeout time.Duration) (engine.EventKind, error) {
	select {
	case scripted, ok := <-f.events:
		if !ok || scripted == nil {
			return engine.KindNoDebuggee, nil
		}
		f.mu.Lock()
		if scripted.hasOffset {
			f.instructionOffset = scripted.offset
		}
		f.lastEvent = scripted.info
		f.mu.Unlock()
		return engine.KindBreak, nil
	case <-f.interruptCh:
		// the engine injects a break-in thread on interrupt
		info := &engine.EventInfo{
			Type:        engine.EventException,
			ProcessID:   1,
			Description: "user interrupt",
			Exception:   &engine.ExceptionRecord{Code: engine.ExcDbgControlC, FirstChance: true},
		}
		f.mu.Lock()
		f.lastEvent = info
		f.mu.Unlock()
		return engine.KindBreak, nil
	}
}

func (f *fakeEngine) LastEvent() (*engine.EventInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastEvent == nil {
		return nil, &engine.Error{Op: "GetLastEventInformation", Code: 0x8000FFFF}
	}
	return f.lastEvent, nil
}

func (f *fakeEngine) SetExecutionStatus(status engine.ExecStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes = append(f.resumes, status)
	return nil
}

func (f *fakeEngine) GoTo(offset uint64) error {
	f.setInstructionOffset(offset)
	return f.SetExecutionStatus(engine.StatusGo)
}

func (f *fakeEngine) Interrupt() error {
	select {
	case f.interruptCh <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeEngine) AddBreakpoint() (engine.Breakpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextBpID++
	return &fakeBreakpoint{eng: f, id: f.nextBpID}, nil
}

func (f *fakeEngine) RemoveBreakpoint(bp engine.Breakpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.breakpoints, bp.(*fakeBreakpoint).offset)
	return nil
}

func (f *fakeEngine) OffsetByLine(sourcePath string, line int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lines, ok := f.lineOffsets[sourcePath]; ok {
		if offset, ok := lines[line]; ok {
			return offset, nil
		}
	}
	return 0, &engine.Error{Op: "GetOffsetByLine", Code: 0x80004002}
}

func (f *fakeEngine) OffsetByName(name string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset, ok := f.symbolOffsets[name]; ok {
		return offset, nil
	}
	return 0, &engine.Error{Op: "GetOffsetByName", Code: 0x80004002}
}

func (f *fakeEngine) NameByOffset(offset uint64) (string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.symbolNames[offset]; ok {
		return name, 0, nil
	}
	// find the nearest preceding symbol
	var bestName string
	var bestOffset uint64
	for symbolOffset, name := range f.symbolNames {
		if symbolOffset <= offset && symbolOffset >= bestOffset {
			bestOffset = symbolOffset
			bestName = name
		}
	}
	if bestName == "" {
		return "", 0, &engine.Error{Op: "GetNameByOffset", Code: 0x80004002}
	}
	return bestName, offset - bestOffset, nil
}

func (f *fakeEngine) LineByOffset(offset uint64) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if line, ok := f.offsetLines[offset]; ok {
		return line, f.offsetFiles[offset], nil
	}
	return 0, "", &engine.Error{Op: "GetLineByOffset", Code: 0x80004002}
}

func (f *fakeEngine) SymbolType(name string) (*engine.SymbolType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if symbolType, ok := f.symbolTypes[name]; ok {
		return symbolType, nil
	}
	return nil, &engine.Error{Op: "GetSymbolTypeId", Code: 0x80004002}
}

func (f *fakeEngine) RegisterCount() (int, error) {
	return len(f.registers), nil
}

func (f *fakeEngine) RegisterDescription(index int) (string, error) {
	if index < 0 || index >= len(f.registers) {
		return "", &engine.Error{Op: "GetDescription", Code: 0x80070057}
	}
	return f.registers[index].name, nil
}

func (f *fakeEngine) RegisterValue(index int) (uint64, error) {
	if index < 0 || index >= len(f.registers) {
		return 0, &engine.Error{Op: "GetValue", Code: 0x80070057}
	}
	return f.registers[index].value, nil
}

func (f *fakeEngine) InstructionOffset() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instructionOffset, nil
}

func (f *fakeEngine) StackOffset() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stackOffset, nil
}

func (f *fakeEngine) StackTrace(max int) ([]engine.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := f.frames
	if len(frames) > max {
		frames = frames[:max]
	}
	result := make([]engine.Frame, len(frames))
	copy(result, frames)
	return result, nil
}

func (f *fakeEngine) ReadVirtual(address uint64, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		b, ok := f.memory[address+uint64(i)]
		if !ok {
			return nil, &engine.Error{Op: "ReadVirtual", Code: 0x8007001E}
		}
		data[i] = b
	}
	return data, nil
}

func (f *fakeEngine) Evaluate(expression string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.evalErrors[expression] {
		return 0, &engine.Error{Op: "Evaluate", Code: 0x80004005}
	}
	if value, ok := f.evalValues[expression]; ok {
		return value, nil
	}
	if offset, ok := f.symbolOffsets[expression]; ok {
		return offset, nil
	}
	return 0, &engine.Error{Op: "Evaluate", Code: 0x80004005}
}

func (f *fakeEngine) ThreadIDs() ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uint32, len(f.threads))
	copy(ids, f.threads)
	return ids, nil
}

func (f *fakeEngine) SetCurrentThread(id uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failThreads[id] {
		return &engine.Error{Op: "SetCurrentThreadId", Code: 0x80004005}
	}
	f.currentThread = id
	return nil
}

func (f *fakeEngine) SetSymbolPath(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbolPath = dir
	return nil
}

func (f *fakeEngine) ReloadSymbols(flags string) error { return nil }

func (f *fakeEngine) SetEffectiveProcessor(processor string) error { return nil }

func (f *fakeEngine) SetExceptionFilter(code uint32, action engine.FilterAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters[code] = action
	return nil
}

func (f *fakeEngine) EndSession(terminate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	return nil
}

//go:build windows

package dbgeng

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/gregoryginzburg/vscode-masm/debugger/engine"
)

// DbgEng is consumed through raw COM vtables: every interface pointer is
// an opaque object whose first word points at its function table, and
// methods are invoked by slot index. Slot numbers follow the interface
// layouts in dbgeng.h.

var (
	modDbgEng       = windows.NewLazySystemDLL("dbgeng.dll")
	procDebugCreate = modDbgEng.NewProc("DebugCreate")
)

// Interface IDs from dbgeng.h.
var (
	iidDebugClient        = windows.GUID{Data1: 0x27fe5639, Data2: 0x8407, Data3: 0x4f47, Data4: [8]byte{0x83, 0x64, 0xee, 0x11, 0x8f, 0xb0, 0x8a, 0xc8}}
	iidDebugControl       = windows.GUID{Data1: 0x5182e668, Data2: 0x105e, Data3: 0x416e, Data4: [8]byte{0xad, 0x92, 0x24, 0xef, 0x80, 0x04, 0x24, 0xba}}
	iidDebugSymbols       = windows.GUID{Data1: 0x8c31e98c, Data2: 0x983a, Data3: 0x48a5, Data4: [8]byte{0x90, 0x16, 0x6f, 0xe5, 0xd6, 0x67, 0xa9, 0x50}}
	iidDebugRegisters     = windows.GUID{Data1: 0xce289126, Data2: 0x9e84, Data3: 0x45a7, Data4: [8]byte{0x93, 0x7e, 0x67, 0xbb, 0x18, 0x69, 0x14, 0x93}}
	iidDebugSystemObjects = windows.GUID{Data1: 0x6b86fe2c, Data2: 0x2c4f, Data3: 0x4f0c, Data4: [8]byte{0x9d, 0xa2, 0x17, 0x43, 0x11, 0xac, 0xc3, 0x27}}
	iidDebugDataSpaces    = windows.GUID{Data1: 0x88f7dfab, Data2: 0x3ea7, Data3: 0x4c3a, Data4: [8]byte{0xae, 0xfb, 0xc4, 0xe8, 0x10, 0x61, 0x73, 0xaa}}
)

// IUnknown slots, shared by every interface.
const (
	slotQueryInterface = 0
	slotAddRef         = 1
	slotRelease        = 2
)

// IDebugClient slots.
const (
	slotClientCreateProcess = 13
	slotClientEndSession    = 26
)

// IDebugControl slots.
const (
	slotControlSetInterrupt                 = 4
	slotControlGetStackTrace                = 31
	slotControlSetEffectiveProcessorType    = 48
	slotControlGetExecutionStatus           = 49
	slotControlSetExecutionStatus           = 50
	slotControlSetEngineOptions             = 56
	slotControlEvaluate                     = 63
	slotControlExecute                      = 66
	slotControlAddBreakpoint                = 72
	slotControlRemoveBreakpoint             = 73
	slotControlSetExceptionFilterParameters = 90
	slotControlWaitForEvent                 = 93
	slotControlGetLastEventInformation      = 94
)

// IDebugSymbols slots.
const (
	slotSymbolsGetNameByOffset = 7
	slotSymbolsGetOffsetByName = 8
	slotSymbolsGetLineByOffset = 10
	slotSymbolsGetOffsetByLine = 11
	slotSymbolsGetTypeSize     = 21
	slotSymbolsGetSymbolTypeId = 23
	slotSymbolsReload          = 39
	slotSymbolsSetSymbolPath   = 41
)

// IDebugRegisters slots.
const (
	slotRegistersGetNumberRegisters  = 3
	slotRegistersGetDescription      = 4
	slotRegistersGetValue            = 6
	slotRegistersGetInstructionOffset = 11
	slotRegistersGetStackOffset       = 12
)

// IDebugSystemObjects slots.
const (
	slotSystemSetCurrentThreadId = 6
	slotSystemGetNumberThreads   = 9
	slotSystemGetThreadIdsByIndex = 11
)

// IDebugDataSpaces slots.
const (
	slotDataReadVirtual = 3
)

// IDebugBreakpoint slots.
const (
	slotBreakpointGetId     = 3
	slotBreakpointAddFlags  = 7
	slotBreakpointSetFlags  = 9
	slotBreakpointSetOffset = 11
)

// comObject is a raw COM interface pointer.
type comObject uintptr

func (c comObject) call(slot int, args ...uintptr) uintptr {
	vtbl := *(*uintptr)(unsafe.Pointer(c))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(slot)*unsafe.Sizeof(uintptr(0))))
	full := make([]uintptr, 0, len(args)+1)
	full = append(full, uintptr(c))
	full = append(full, args...)
	r, _, _ := syscall.SyscallN(fn, full...)
	return r
}

func (c comObject) release() {
	if c != 0 {
		c.call(slotRelease)
	}
}

func (c comObject) queryInterface(iid *windows.GUID) (comObject, error) {
	var out comObject
	hr := c.call(slotQueryInterface,
		uintptr(unsafe.Pointer(iid)),
		uintptr(unsafe.Pointer(&out)))
	if err := checkHR("QueryInterface", hr); err != nil {
		return 0, err
	}
	return out, nil
}

func debugCreate() (comObject, error) {
	var client comObject
	hr, _, _ := procDebugCreate.Call(
		uintptr(unsafe.Pointer(&iidDebugClient)),
		uintptr(unsafe.Pointer(&client)))
	if err := checkHR("DebugCreate", hr); err != nil {
		return 0, err
	}
	return client, nil
}

// checkHR converts a negative HRESULT into an engine error.
func checkHR(op string, hr uintptr) error {
	if int32(hr) < 0 {
		return &engine.Error{Op: op, Code: uint32(hr)}
	}
	return nil
}

func bytePtr(s string) *byte {
	p, err := windows.BytePtrFromString(s)
	if err != nil {
		empty := byte(0)
		return &empty
	}
	return p
}

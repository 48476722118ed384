package masm_debugger

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/gregoryginzburg/vscode-masm/debugger"
)

// selectApplicationThread probes every thread id in order and makes the
// first one that accepts the switch current. Without this a user pause
// lands on the injected break-in thread, whose stack is entirely OS
// frames.
func (d *MasmDebugger) selectApplicationThread() {
	ids, err := d.engine.ThreadIDs()
	if err != nil {
		logrus.Warnf("ThreadIDs fail, err = %v", err)
		return
	}
	for _, id := range ids {
		if err = d.engine.SetCurrentThread(id); err == nil {
			return
		}
	}
}

func (d *MasmDebugger) callStackWorker() ([]dap.StackFrame, error) {
	d.selectApplicationThread()
	frames, err := d.engine.StackTrace(maxStackFrames)
	if err != nil {
		return nil, err
	}
	stackFrames := make([]dap.StackFrame, 0, len(frames))
	for _, f := range frames {
		frame := dap.StackFrame{
			Id:     int(f.InstructionOffset),
			Column: 1,
		}
		if name, _, err := d.engine.NameByOffset(f.InstructionOffset); err == nil {
			frame.Name = name
		} else {
			frame.Name = "<unknown>"
		}
		if line, file, err := d.engine.LineByOffset(f.InstructionOffset); err == nil {
			frame.Line = line
			frame.Source = &dap.Source{
				Name: baseName(file),
				Path: file,
			}
		}
		stackFrames = append(stackFrames, frame)
	}
	return stackFrames, nil
}

// baseName strips the Windows style directory part of a source path.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// stackContentsWorker reads the raw stack between the stack pointer and
// the entry routine's frame and annotates every 32-bit slot as a saved
// frame pointer, a return address, or an argument/local.
func (d *MasmDebugger) stackContentsWorker() ([]debugger.StackEntry, error) {
	d.selectApplicationThread()
	sp, err := d.engine.StackOffset()
	if err != nil {
		return nil, err
	}
	frames, err := d.engine.StackTrace(maxStackFrames)
	if err != nil {
		return nil, err
	}

	frameOffsets := make(map[uint64]bool, len(frames))
	returnOffsets := make(map[uint64]bool, len(frames))
	for _, f := range frames {
		if f.FrameOffset != 0 {
			frameOffsets[f.FrameOffset] = true
		}
		if f.ReturnOffset != 0 {
			returnOffsets[f.ReturnOffset] = true
		}
	}

	// the frame of the entry routine bounds how much of the stack is
	// shown; fall back to the outermost frame when no "start" is found
	var top uint64
	for _, f := range frames {
		name, _, err := d.engine.NameByOffset(f.InstructionOffset)
		if err == nil && strings.Contains(name, "start") {
			top = f.FrameOffset
			break
		}
	}
	if top == 0 && len(frames) > 0 {
		top = frames[len(frames)-1].FrameOffset
	}

	entries := 1
	if top > sp {
		entries = int((top-sp)/4) + 2
	}

	data, err := d.engine.ReadVirtual(sp, entries*4)
	if err != nil {
		return nil, err
	}

	contents := make([]debugger.StackEntry, 0, entries)
	for i := 0; i+4 <= len(data); i += 4 {
		address := sp + uint64(i)
		value := uint64(binary.LittleEndian.Uint32(data[i : i+4]))
		entry := debugger.StackEntry{Value: fmt.Sprintf("0x%08x", value)}
		switch {
		case frameOffsets[address]:
			entry.Address = fmt.Sprintf("Saved EBP → 0x%08x", address)
		case returnOffsets[value]:
			entry.Address = fmt.Sprintf("Return Address (EIP) → 0x%08x", address)
			if name, displacement, err := d.engine.NameByOffset(value); err == nil {
				entry.Value = fmt.Sprintf("%s | %s+0x%x", entry.Value, name, displacement)
			}
		default:
			entry.Address = fmt.Sprintf("Argument/Local Var → 0x%08x", address)
		}
		contents = append(contents, entry)
	}
	return contents, nil
}

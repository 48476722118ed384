package masm_debugger

import (
	"fmt"
	"strings"

	"github.com/emirpasic/gods/sets/hashset"

	"github.com/gregoryginzburg/vscode-masm/debugger"
)

// curatedRegisters is the register subset surfaced to the UI. The engine
// enumerates dozens of registers; everything outside this set is noise for
// a 32-bit assembly program.
var curatedRegisters = hashset.New("eax", "ebx", "ecx", "edx", "esi", "edi", "ebp", "esp", "cs", "ds", "ss")

func (d *MasmDebugger) registersWorker() ([]string, error) {
	count, err := d.engine.RegisterCount()
	if err != nil {
		return nil, err
	}
	registers := make([]string, 0, curatedRegisters.Size())
	for i := 0; i < count; i++ {
		name, err := d.engine.RegisterDescription(i)
		if err != nil {
			continue
		}
		if !curatedRegisters.Contains(strings.ToLower(name)) {
			continue
		}
		value, err := d.engine.RegisterValue(i)
		if err != nil {
			continue
		}
		registers = append(registers, fmt.Sprintf("%s = 0x%x", name, value))
	}
	return registers, nil
}

// eflagBits maps the decoded status flags to their bit position in the
// EFLAGS register.
var eflagBits = []struct {
	name string
	bit  uint
}{
	{"CF", 0},
	{"ZF", 6},
	{"SF", 7},
	{"IF", 9},
	{"DF", 10},
	{"OF", 11},
}

func (d *MasmDebugger) eflagsWorker() ([]debugger.Flag, error) {
	value, err := d.engine.Evaluate("efl")
	if err != nil {
		return nil, err
	}
	flags := make([]debugger.Flag, 0, len(eflagBits))
	for _, f := range eflagBits {
		bit := "0"
		if value&(1<<f.bit) != 0 {
			bit = "1"
		}
		flags = append(flags, debugger.Flag{Name: f.name, Value: bit})
	}
	return flags, nil
}

//go:build windows

package main

import (
	"github.com/gregoryginzburg/vscode-masm/debugger"
	"github.com/gregoryginzburg/vscode-masm/debugger/engine/dbgeng"
	"github.com/gregoryginzburg/vscode-masm/debugger/masm_debugger"
)

func newMasmDebugger() (debugger.Debugger, error) {
	eng, err := dbgeng.New()
	if err != nil {
		return nil, err
	}
	return masm_debugger.NewMasmDebugger(eng), nil
}

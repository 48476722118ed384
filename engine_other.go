//go:build !windows

package main

import (
	"errors"

	"github.com/gregoryginzburg/vscode-masm/debugger"
)

func newMasmDebugger() (debugger.Debugger, error) {
	return nil, errors.New("the native debugging engine is only available on windows")
}

package main

import (
	"github.com/sirupsen/logrus"
)

// The adapter takes no command line arguments: the VS Code extension talks
// DAP over stdio, the TCP server exists for debugging the adapter itself.
const (
	serverMode = false
	serverPort = 19021

	// When set, every DAP frame read or written is mirrored to this file.
	protocolLogPath = ""
)

func main() {
	SetupLogger()
	defer CloseLogger()

	var err error
	if serverMode {
		err = RunServer(serverPort)
	} else {
		err = RunStdio()
	}
	if err != nil {
		logrus.Fatalf("debug adapter fatal, err = %v", err)
	}
}

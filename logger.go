package main

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var logFile *os.File

// SetupLogger routes logrus to the adapter log file. In stdio mode stdout
// carries DAP frames, so nothing may ever be printed there.
func SetupLogger() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	path := filepath.Join(os.TempDir(), "masm-debugger.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		logrus.SetOutput(os.Stderr)
		return
	}
	logFile = f
	logrus.SetOutput(f)
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

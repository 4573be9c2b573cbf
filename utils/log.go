package utils

import (
	"io"
	"log"
	"os"
)

var (
	Logger  = log.New(os.Stderr, "", log.LstdFlags)
	verbose bool
)

// SetOutput redirects all training logs.
func SetOutput(w io.Writer) { Logger.SetOutput(w) }

// SetVerbose enables Debugf output.
func SetVerbose(v bool) { verbose = v }

func Infof(format string, args ...any) {
	Logger.Printf("INFO: "+format, args...)
}

func Warnf(format string, args ...any) {
	Logger.Printf("WARN: "+format, args...)
}

func Debugf(format string, args ...any) {
	if !verbose {
		return
	}
	Logger.Printf("DEBUG: "+format, args...)
}

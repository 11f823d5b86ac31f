// Package monitoring holds the diagnostic logger and the Prometheus
// collectors shared by the counting pipeline.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger used by library code. It
// defaults to log.Printf; binaries and tests may redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. A nil logger mutes diagnostics entirely.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}

// Capture redirects Logf into a slice until the returned restore func is
// called. Intended for tests that assert on diagnostics.
func Capture() (lines *[]string, restore func()) {
	prev := Logf
	var captured []string
	Logf = func(format string, v ...interface{}) {
		captured = append(captured, fmt.Sprintf(format, v...))
	}
	return &captured, func() { Logf = prev }
}

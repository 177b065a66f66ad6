// Package monitoring holds the process-level log hook used by
// infrastructure code: database migrations, the admin surface and the
// stream runner. Layer packages log through their own streams instead.
package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// WriterLogger returns a Logf-compatible function writing to w with the
// same flags as the layer log streams. A nil writer gives a no-op.
func WriterLogger(w io.Writer, prefix string) func(format string, v ...interface{}) {
	if w == nil {
		return func(string, ...interface{}) {}
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds).Printf
}

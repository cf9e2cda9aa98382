// Package termio serializes writes to the process's standard streams, so the
// progress display and log lines never interleave mid-line.
package termio

import (
	"io"
	"os"
	"sync"
)

type writer struct {
	mu   sync.Mutex
	file *os.File
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Write(p)
}

// File returns the underlying stream.
func (w *writer) File() *os.File {
	return w.file
}

type manager struct {
	once   sync.Once
	stdout *writer
	stderr *writer
}

var global manager

func Init() {
	global.once.Do(func() {
		global.stdout = &writer{file: os.Stdout}
		global.stderr = &writer{file: os.Stderr}
	})
}

func Stdout() io.Writer {
	Init()
	return global.stdout
}

func Stderr() io.Writer {
	Init()
	return global.stderr
}

func StdoutFile() *os.File {
	Init()
	return global.stdout.file
}

func StderrFile() *os.File {
	Init()
	return global.stderr.file
}

package termio

import (
	"os"
	"testing"
)

func TestStreamsWrapProcessFiles(t *testing.T) {
	if StdoutFile() != os.Stdout {
		t.Fatal("expected stdout file")
	}
	if StderrFile() != os.Stderr {
		t.Fatal("expected stderr file")
	}
	if Stdout() != Stdout() {
		t.Fatal("expected a single stdout writer")
	}
	f, ok := Stderr().(interface{ File() *os.File })
	if !ok || f.File() != os.Stderr {
		t.Fatal("expected stderr writer to expose its file")
	}
	if n, err := Stderr().Write(nil); n != 0 || err != nil {
		t.Fatalf("empty write = %d, %v", n, err)
	}
}

package sender

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sheerbytes/dcfile/internal/config"
	"github.com/sheerbytes/dcfile/pkg/frame"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func baseConfig(path string) config.SenderConfig {
	return config.SenderConfig{
		Target:         "127.0.0.1:1",
		Transport:      config.TransportWebSocket,
		File:           path,
		MaxMessageSize: 64,
		Timeout:        time.Second,
		LogLevel:       "error",
		LogFormat:      "text",
	}
}

func TestPrepareDetectsType(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 100)...)
	path := writeFile(t, "image", png)

	p, err := Prepare(baseConfig(path))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if p.MimeType != "image/png" || p.Extension != "png" {
		t.Fatalf("expected image/png and png, got %q and %q", p.MimeType, p.Extension)
	}
	if p.Bytes != len(png) {
		t.Fatalf("expected %d bytes, got %d", len(png), p.Bytes)
	}

	maxPayload, _ := frame.MaxPayloadSize(64)
	want := 2 + int(frame.ExpectedChunks(int32(len(png)), maxPayload))
	if len(p.Frames) != want {
		t.Fatalf("expected %d frames, got %d", want, len(p.Frames))
	}
}

func TestPrepareUsesFileNameAndStripsParameters(t *testing.T) {
	path := writeFile(t, "notes.md", []byte("# heading\nsome text\n"))
	p, err := Prepare(baseConfig(path))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if p.Extension != "md" {
		t.Fatalf("expected extension from file name, got %q", p.Extension)
	}
	if p.MimeType != "text/plain" {
		t.Fatalf("expected text/plain without parameters, got %q", p.MimeType)
	}
}

func TestPrepareOverrides(t *testing.T) {
	path := writeFile(t, "data.txt", []byte("abc"))
	cfg := baseConfig(path)
	cfg.MimeType = "text/csv"
	cfg.Extension = ".csv"

	p, err := Prepare(cfg)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if p.MimeType != "text/csv" || p.Extension != "csv" {
		t.Fatalf("expected overrides, got %q and %q", p.MimeType, p.Extension)
	}
	f, err := frame.Parse(p.Frames[1])
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if f.Tag != frame.TagMimeType {
		t.Fatalf("expected MIME type frame second, got %s", f.Tag)
	}
}

func TestPrepareErrors(t *testing.T) {
	if _, err := Prepare(baseConfig(filepath.Join(t.TempDir(), "missing"))); err == nil {
		t.Fatal("expected error for missing file")
	}

	empty := writeFile(t, "empty.txt", nil)
	if _, err := Prepare(baseConfig(empty)); !errors.Is(err, frame.ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}

	long := writeFile(t, "x.txt", []byte("abc"))
	cfg := baseConfig(long)
	cfg.MimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	if _, err := Prepare(cfg); !errors.Is(err, frame.ErrChunkTooLarge) {
		t.Fatalf("expected ErrChunkTooLarge, got %v", err)
	}
}

func TestSendFailsWithoutReceiver(t *testing.T) {
	path := writeFile(t, "a.txt", []byte("hello"))
	if _, err := Send(context.Background(), baseConfig(path), nil); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestSendValidatesConfig(t *testing.T) {
	cfg := baseConfig("")
	if _, err := Send(context.Background(), cfg, nil); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestTargetURL(t *testing.T) {
	cases := []struct {
		target string
		want   string
	}{
		{"localhost:8080", "ws://localhost:8080/frames"},
		{"ws://host:1/frames", "ws://host:1/frames"},
		{"http://host:1", "ws://host:1/frames"},
		{" 10.0.0.1:9 ", "ws://10.0.0.1:9/frames"},
	}
	for _, tc := range cases {
		if got := targetURL("ws", tc.target, "/frames"); got != tc.want {
			t.Fatalf("targetURL(%q) = %q, want %q", tc.target, got, tc.want)
		}
	}
	if got := hostPort("https://example.com:443/x/y"); got != "example.com:443" {
		t.Fatalf("hostPort = %q", got)
	}
}

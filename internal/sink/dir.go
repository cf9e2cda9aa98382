// Package sink persists completed transfers.
package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sheerbytes/dcfile/internal/reassembly"
)

const (
	// DefaultBaseName is the file name stem of saved transfers.
	DefaultBaseName = "transfer"
	// FallbackExtension is used when neither the sender nor the content
	// reveals a type.
	FallbackExtension = "bin"

	maxExtensionLength = 16
	maxNameAttempts    = 10000
)

// ErrNoFreeName indicates every candidate file name is taken.
var ErrNoFreeName = errors.New("no free file name")

// Dir writes completed files into a directory as <base>.<ext>, adding a
// numeric suffix instead of overwriting an existing file.
type Dir struct {
	dir      string
	baseName string
	logger   *slog.Logger
}

// NewDir creates dir if needed.
func NewDir(dir string, logger *slog.Logger) (*Dir, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{dir: dir, baseName: DefaultBaseName, logger: logger}, nil
}

// Path returns the output directory.
func (d *Dir) Path() string {
	return d.dir
}

// Save writes file and returns the path it was written to.
func (d *Dir) Save(file *reassembly.File) (string, error) {
	ext, mimeType := Resolve(file)

	out, path, err := d.create(ext)
	if err != nil {
		return "", err
	}
	if _, err := out.Write(file.Bytes); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}

	d.logger.Info("file saved",
		"transfer_id", file.ID,
		"path", path,
		"mime_type", mimeType,
		"bytes", len(file.Bytes),
	)
	return path, nil
}

func (d *Dir) create(ext string) (*os.File, string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		name := d.baseName
		if i > 0 {
			name = fmt.Sprintf("%s-%d", d.baseName, i)
		}
		path := filepath.Join(d.dir, name+"."+ext)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("failed to create output file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("%w for %s.%s in %s", ErrNoFreeName, d.baseName, ext, d.dir)
}

// Resolve returns the extension (without dot) and MIME type to record for
// file. Declared values win; missing ones come from the MIME registry or from
// sniffing the content.
func Resolve(file *reassembly.File) (ext string, mimeType string) {
	ext = SanitizeExtension(file.Extension)
	mimeType = strings.TrimSpace(file.MimeType)

	var sniffed *mimetype.MIME
	sniff := func() *mimetype.MIME {
		if sniffed == nil {
			sniffed = mimetype.Detect(file.Bytes)
		}
		return sniffed
	}

	if ext == "" && mimeType != "" {
		if m := lookup(mimeType); m != nil {
			ext = SanitizeExtension(m.Extension())
		}
	}
	if ext == "" {
		ext = SanitizeExtension(sniff().Extension())
	}
	if ext == "" {
		ext = FallbackExtension
	}
	if mimeType == "" {
		mimeType = sniff().String()
	}
	return ext, mimeType
}

func lookup(mimeType string) *mimetype.MIME {
	if m := mimetype.Lookup(mimeType); m != nil {
		return m
	}
	base, _, _ := strings.Cut(mimeType, ";")
	return mimetype.Lookup(strings.TrimSpace(base))
}

// SanitizeExtension strips a leading dot and rejects anything that is not a
// short run of letters, digits, '-', '_' or '+', so a sender cannot choose a
// path.
func SanitizeExtension(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" || len(ext) > maxExtensionLength {
		return ""
	}
	for _, r := range ext {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '+':
		default:
			return ""
		}
	}
	return ext
}

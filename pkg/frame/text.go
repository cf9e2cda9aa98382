package frame

import (
	"golang.org/x/text/encoding/unicode"
)

var (
	// Little endian unless a BOM says otherwise.
	textDecoding = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	textEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// DecodeText decodes UTF-16 frame text into a Go string.
func DecodeText(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	out, err := textDecoding.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// EncodeText encodes s as little-endian UTF-16 without a BOM.
func EncodeText(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return textEncoding.NewEncoder().Bytes([]byte(s))
}

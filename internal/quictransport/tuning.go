package quictransport

import "github.com/quic-go/quic-go"

const (
	minStreamWindow = 256 * 1024
	maxStreamWindow = 256 * 1024 * 1024
	// The connection window spans every concurrent stream.
	connWindowFactor = 4
	maxConnWindow    = 1024 * 1024 * 1024
)

// WithStreamWindow returns a copy of base whose stream receive window is
// streamWindow bytes, clamped to a sane range, and whose connection window
// is scaled to match. A non-positive streamWindow returns base unchanged.
func WithStreamWindow(base *quic.Config, streamWindow int) *quic.Config {
	cfg := &quic.Config{}
	if base != nil {
		copyCfg := *base
		cfg = &copyCfg
	}
	if streamWindow <= 0 {
		return cfg
	}

	stream := clamp(streamWindow, minStreamWindow, maxStreamWindow)
	conn := clamp(stream*connWindowFactor, stream, maxConnWindow)
	cfg.InitialStreamReceiveWindow = uint64(stream)
	cfg.MaxStreamReceiveWindow = uint64(stream)
	cfg.InitialConnectionReceiveWindow = uint64(conn)
	cfg.MaxConnectionReceiveWindow = uint64(conn)
	return cfg
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

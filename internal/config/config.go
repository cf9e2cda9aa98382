package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sheerbytes/dcfile/pkg/frame"
)

// Transports understood by both commands.
const (
	TransportWebSocket = "ws"
	TransportQUIC      = "quic"
	TransportWebRTC    = "webrtc"
)

// MaxWebRTCMessageSize is the largest data channel message a peer accepts by default.
const MaxWebRTCMessageSize = 65535

// ErrInvalid marks a configuration value that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// ReceiverConfig holds configuration for the receive command.
type ReceiverConfig struct {
	Addr           string
	Transport      string
	OutDir         string
	MaxMessageSize int
	MaxFileSize    int64    // 0 means unlimited
	STUNServers    []string // webrtc only
	QUICWindow     int      // quic only, stream receive window in bytes; 0 keeps the default
	LogLevel       string
	LogFormat      string
	Progress       bool
}

// SenderConfig holds configuration for the send command.
type SenderConfig struct {
	Target         string
	Transport      string
	File           string
	MimeType       string // detected from content when empty
	Extension      string // taken from File when empty
	MaxMessageSize int
	STUNServers    []string // webrtc only
	Timeout        time.Duration
	LogLevel       string
	LogFormat      string
}

// ParseReceiverConfig parses receiver configuration from args and environment variables.
// Flags take precedence over environment variables.
// Defaults: addr=":8080", transport="ws", out=".", max-message-size=16384
func ParseReceiverConfig(args []string) (ReceiverConfig, error) {
	return parseReceiverConfigWithFlagSet(flag.NewFlagSet("recv", flag.ContinueOnError), args)
}

// parseReceiverConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseReceiverConfigWithFlagSet(fs *flag.FlagSet, args []string) (ReceiverConfig, error) {
	cfg := ReceiverConfig{
		Addr:           ":8080",
		Transport:      TransportWebSocket,
		OutDir:         ".",
		MaxMessageSize: frame.DefaultMaxMessageSize,
		LogLevel:       "info",
		LogFormat:      "text",
		Progress:       true,
	}

	// Read from environment first
	env := envReader{}
	env.str("DCFILE_ADDR", &cfg.Addr)
	env.str("DCFILE_TRANSPORT", &cfg.Transport)
	env.str("DCFILE_OUT_DIR", &cfg.OutDir)
	env.int("DCFILE_MAX_MESSAGE_SIZE", &cfg.MaxMessageSize)
	env.int64("DCFILE_MAX_FILE_SIZE", &cfg.MaxFileSize)
	env.list("DCFILE_STUN_SERVERS", &cfg.STUNServers)
	env.int("DCFILE_QUIC_WINDOW", &cfg.QUICWindow)
	env.str("DCFILE_LOG_LEVEL", &cfg.LogLevel)
	env.str("DCFILE_LOG_FORMAT", &cfg.LogFormat)
	env.bool("DCFILE_PROGRESS", &cfg.Progress)
	if env.err != nil {
		return cfg, env.err
	}

	// Flags override environment
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport (ws, quic, webrtc)")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "directory completed files are written to")
	fs.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "largest frame in bytes, header included")
	fs.Int64Var(&cfg.MaxFileSize, "max-file-size", cfg.MaxFileSize, "largest accepted file in bytes (0 = unlimited)")
	var stun []string
	fs.Var((*stringSlice)(&stun), "stun", "STUN server URL (webrtc only, repeatable)")
	fs.IntVar(&cfg.QUICWindow, "quic-window", cfg.QUICWindow, "QUIC stream receive window in bytes (quic only, 0 = default)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json)")
	fs.BoolVar(&cfg.Progress, "progress", cfg.Progress, "show transfer progress")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if len(stun) > 0 {
		cfg.STUNServers = stun
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("%w: unexpected argument %q", ErrInvalid, fs.Arg(0))
	}

	return cfg, cfg.Validate()
}

// Validate checks the receiver configuration.
func (c ReceiverConfig) Validate() error {
	if err := validateTransport(c.Transport, c.MaxMessageSize); err != nil {
		return err
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("%w: max file size must not be negative", ErrInvalid)
	}
	if c.OutDir == "" {
		return fmt.Errorf("%w: output directory is required", ErrInvalid)
	}
	if c.QUICWindow < 0 {
		return fmt.Errorf("%w: quic window must not be negative", ErrInvalid)
	}
	return validateLogFormat(c.LogFormat)
}

// ParseSenderConfig parses sender configuration from args and environment variables.
// The file to send is the single positional argument unless -file is given.
// Defaults: target="localhost:8080", transport="ws", max-message-size=16384, timeout=5m
func ParseSenderConfig(args []string) (SenderConfig, error) {
	return parseSenderConfigWithFlagSet(flag.NewFlagSet("send", flag.ContinueOnError), args)
}

// parseSenderConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseSenderConfigWithFlagSet(fs *flag.FlagSet, args []string) (SenderConfig, error) {
	cfg := SenderConfig{
		Target:         "localhost:8080",
		Transport:      TransportWebSocket,
		MaxMessageSize: frame.DefaultMaxMessageSize,
		Timeout:        5 * time.Minute,
		LogLevel:       "info",
		LogFormat:      "text",
	}

	env := envReader{}
	env.str("DCFILE_TARGET", &cfg.Target)
	env.str("DCFILE_TRANSPORT", &cfg.Transport)
	env.int("DCFILE_MAX_MESSAGE_SIZE", &cfg.MaxMessageSize)
	env.list("DCFILE_STUN_SERVERS", &cfg.STUNServers)
	env.duration("DCFILE_TIMEOUT", &cfg.Timeout)
	env.str("DCFILE_LOG_LEVEL", &cfg.LogLevel)
	env.str("DCFILE_LOG_FORMAT", &cfg.LogFormat)
	if env.err != nil {
		return cfg, env.err
	}

	fs.StringVar(&cfg.Target, "target", cfg.Target, "receiver address (host:port)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport (ws, quic, webrtc)")
	fs.StringVar(&cfg.File, "file", "", "file to send")
	fs.StringVar(&cfg.MimeType, "mime", "", "MIME type to announce (default: detected)")
	fs.StringVar(&cfg.Extension, "ext", "", "extension to announce (default: from file name)")
	fs.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "largest frame in bytes, header included")
	var stun []string
	fs.Var((*stringSlice)(&stun), "stun", "STUN server URL (webrtc only, repeatable)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "give up after this long")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if len(stun) > 0 {
		cfg.STUNServers = stun
	}

	switch {
	case fs.NArg() > 1:
		return cfg, fmt.Errorf("%w: only one file can be sent at a time", ErrInvalid)
	case fs.NArg() == 1 && cfg.File != "":
		return cfg, fmt.Errorf("%w: file given both as -file and as argument", ErrInvalid)
	case fs.NArg() == 1:
		cfg.File = fs.Arg(0)
	}

	return cfg, cfg.Validate()
}

// Validate checks the sender configuration.
func (c SenderConfig) Validate() error {
	if c.File == "" {
		return fmt.Errorf("%w: a file to send is required", ErrInvalid)
	}
	if c.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalid)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalid)
	}
	if err := validateTransport(c.Transport, c.MaxMessageSize); err != nil {
		return err
	}
	return validateLogFormat(c.LogFormat)
}

func validateTransport(transport string, maxMessageSize int) error {
	if maxMessageSize <= frame.HeaderSize {
		return fmt.Errorf("%w: max message size must exceed %d bytes", ErrInvalid, frame.HeaderSize)
	}
	switch transport {
	case TransportWebSocket, TransportQUIC:
	case TransportWebRTC:
		if maxMessageSize > MaxWebRTCMessageSize {
			return fmt.Errorf("%w: webrtc messages are limited to %d bytes", ErrInvalid, MaxWebRTCMessageSize)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, transport)
	}
	return nil
}

func validateLogFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("%w: unknown log format %q", ErrInvalid, format)
}

// envReader reads typed environment variables, keeping the first error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != "" && e.err == nil
}

func (e *envReader) fail(key, value string, err error) {
	e.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, value, err)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.lookup(key); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

var _ flag.Value = (*stringSlice)(nil)

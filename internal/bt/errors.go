package bt

import "errors"

// Error kinds. Backends wrap these so callers can match with errors.Is; the
// consumer never sees them, only notifications.
var (
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")
	ErrSocketCreation     = errors.New("socket creation failed")
	ErrConnectFailed      = errors.New("connect failed")
	ErrStreamUnavailable  = errors.New("input stream unavailable")
	ErrRead               = errors.New("read error")
	ErrStreamClosed       = errors.New("stream closed by peer")
	ErrNotSupported       = errors.New("operation not supported on this platform")
)

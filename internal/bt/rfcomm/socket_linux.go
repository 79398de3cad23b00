//go:build linux

package rfcomm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/chaz8081/btlink/internal/bt"
)

// Factory creates raw RFCOMM sockets connecting to a fixed channel.
type Factory struct {
	Channel uint8
}

// New returns a factory for the given RFCOMM channel (1-30).
func New(channel uint8) *Factory {
	return &Factory{Channel: channel}
}

// CreateSocket allocates an unconnected RFCOMM socket for dev. The service
// UUID is not resolved through SDP; the configured channel is used instead.
func (f *Factory) CreateSocket(dev bt.Device, serviceUUID string) (bt.Socket, error) {
	addr, err := ParseAddress(dev.Address)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: socket: %w", err)
	}
	slog.Debug("[RFCOMM] socket created", "peer", dev.Address, "channel", f.Channel, "service", serviceUUID)
	return &socket{
		fd:   fd,
		sa:   &unix.SockaddrRFCOMM{Addr: addr, Channel: f.Channel},
		name: "rfcomm:" + dev.Address,
	}, nil
}

// socket owns one RFCOMM fd. Close during a pending connect shuts the fd
// down to abort it; the fd itself is released once connect returns.
type socket struct {
	sa   *unix.SockaddrRFCOMM
	name string

	mu         sync.Mutex
	fd         int
	connecting bool
	connected  bool
	closed     bool
	file       *os.File
}

func (s *socket) Connect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("rfcomm: socket closed")
	}
	s.connecting = true
	fd := s.fd
	s.mu.Unlock()

	err := unix.Connect(fd, s.sa)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = false
	if s.closed {
		unix.Close(fd)
		return errors.New("rfcomm: socket closed during connect")
	}
	if err != nil {
		return fmt.Errorf("rfcomm: connect channel %d: %w", s.sa.Channel, err)
	}
	s.connected = true
	return nil
}

// InputStream returns the socket as a file. The fd is switched to
// non-blocking so that closing the file unblocks a pending Read.
func (s *socket) InputStream() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.connected {
		return nil, errors.New("rfcomm: socket not connected")
	}
	if s.file == nil {
		if err := unix.SetNonblock(s.fd, true); err != nil {
			return nil, fmt.Errorf("rfcomm: set nonblock: %w", err)
		}
		s.file = os.NewFile(uintptr(s.fd), s.name)
	}
	return s.file, nil
}

func (s *socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	switch {
	case s.file != nil:
		if err := s.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
		return nil
	case s.connecting:
		return unix.Shutdown(s.fd, unix.SHUT_RDWR)
	default:
		return unix.Close(s.fd)
	}
}

var _ bt.SocketFactory = (*Factory)(nil)

//go:build linux

package bluez

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/chaz8081/btlink/internal/bt"
)

// handoverTimeout bounds the wait for NewConnection after ConnectProfile
// has returned.
const handoverTimeout = 5 * time.Second

var (
	profileCounter uint64

	errSocketClosed = errors.New("bluez: socket closed")
)

// ProfileFactory creates sockets by asking BlueZ to connect a registered
// client profile. BlueZ hands the connected RFCOMM fd back through
// Profile1.NewConnection.
type ProfileFactory struct {
	bus     *dbus.Conn
	adapter dbus.ObjectPath

	mu       sync.Mutex
	profiles map[string]dbus.ObjectPath // service UUID -> exported profile
	pending  map[dbus.ObjectPath]*socket
	closed   bool
}

// NewProfileFactory creates a factory on the adapter's bus connection.
// Profiles are registered lazily, one per service UUID.
func NewProfileFactory(a *Adapter) *ProfileFactory {
	return &ProfileFactory{
		bus:      a.bus,
		adapter:  a.path,
		profiles: make(map[string]dbus.ObjectPath),
		pending:  make(map[dbus.ObjectPath]*socket),
	}
}

// CreateSocket registers the service profile if needed and returns an
// unconnected socket for dev.
func (f *ProfileFactory) CreateSocket(dev bt.Device, serviceUUID string) (bt.Socket, error) {
	if dev.Address == "" {
		return nil, errors.New("bluez: device address required")
	}
	uuid := strings.ToLower(serviceUUID)
	if err := f.ensureProfile(uuid); err != nil {
		return nil, err
	}
	path := devicePath(f.adapter, dev.Address)
	return &socket{
		f:      f,
		dev:    f.bus.Object(service, path),
		path:   path,
		uuid:   uuid,
		fdCh:   make(chan int, 1),
		fd:     -1,
		closed: make(chan struct{}),
	}, nil
}

func (f *ProfileFactory) ensureProfile(uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("bluez: profile factory closed")
	}
	if _, ok := f.profiles[uuid]; ok {
		return nil
	}

	id := atomic.AddUint64(&profileCounter, 1)
	path := dbus.ObjectPath("/org/btlink/profile/p" + strconv.FormatUint(id, 10))
	if err := f.bus.Export(&profile{f: f}, path, profileIface); err != nil {
		return fmt.Errorf("bluez: export profile: %w", err)
	}
	opts := map[string]dbus.Variant{
		"Role":        dbus.MakeVariant("client"),
		"AutoConnect": dbus.MakeVariant(false),
	}
	pm := f.bus.Object(service, rootPath)
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, path, uuid, opts); call.Err != nil {
		_ = f.bus.Export(nil, path, profileIface)
		return fmt.Errorf("bluez: RegisterProfile(%s): %w", uuid, call.Err)
	}
	f.profiles[uuid] = path
	slog.Info("[BLUEZ] client profile registered", "uuid", uuid, "path", path)
	return nil
}

// Close unregisters every profile. Sockets already handed out keep their fd.
func (f *ProfileFactory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	profiles := f.profiles
	f.profiles = nil
	f.mu.Unlock()

	pm := f.bus.Object(service, rootPath)
	for uuid, path := range profiles {
		if call := pm.Call(profileManagerIface+".UnregisterProfile", 0, path); call.Err != nil {
			slog.Warn("[BLUEZ] unregister profile failed", "uuid", uuid, "error", call.Err)
		}
		_ = f.bus.Export(nil, path, profileIface)
	}
	return nil
}

func (f *ProfileFactory) addPending(s *socket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.pending[s.path]; busy {
		return fmt.Errorf("bluez: connect to %s already in progress", macFromPath(s.path))
	}
	f.pending[s.path] = s
	return nil
}

// removePending forgets s and closes an fd that was handed over but never
// claimed.
func (f *ProfileFactory) removePending(s *socket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending[s.path] == s {
		delete(f.pending, s.path)
	}
	select {
	case fd := <-s.fdCh:
		unix.Close(fd)
	default:
	}
}

// handover passes fd to the socket waiting on dev. It never blocks since
// it runs on the bus dispatch goroutine.
func (f *ProfileFactory) handover(dev dbus.ObjectPath, fd int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.pending[dev]
	if !ok {
		return false
	}
	select {
	case s.fdCh <- fd:
		return true
	default:
		return false
	}
}

// profile is the exported org.bluez.Profile1 object.
type profile struct {
	f *ProfileFactory
}

func (p *profile) Release() *dbus.Error { return nil }

func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	if p.f.handover(dev, int(fd)) {
		slog.Debug("[BLUEZ] profile connection handed over", "device", macFromPath(dev))
		return nil
	}
	unix.Close(int(fd))
	slog.Debug("[BLUEZ] unsolicited profile connection rejected", "device", macFromPath(dev))
	return dbus.NewError("org.bluez.Error.Rejected", []interface{}{"no pending connect"})
}

func (p *profile) RequestDisconnection(dev dbus.ObjectPath) *dbus.Error {
	slog.Debug("[BLUEZ] disconnection requested", "device", macFromPath(dev))
	return nil
}

// socket is one ConnectProfile attempt and, once connected, the stream fd.
type socket struct {
	f    *ProfileFactory
	dev  dbus.BusObject
	path dbus.ObjectPath
	uuid string
	fdCh chan int

	mu        sync.Mutex
	fd        int
	file      *os.File
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *socket) Connect() error {
	if err := s.f.addPending(s); err != nil {
		return err
	}
	defer s.f.removePending(s)

	call := s.dev.Go(deviceIface+".ConnectProfile", 0, make(chan *dbus.Call, 1), s.uuid)
	select {
	case <-call.Done:
		if call.Err != nil {
			return fmt.Errorf("bluez: ConnectProfile: %w", call.Err)
		}
	case <-s.closed:
		s.disconnectProfile()
		return errSocketClosed
	}

	select {
	case fd := <-s.fdCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.isClosed() {
			unix.Close(fd)
			return errSocketClosed
		}
		s.fd = fd
		return nil
	case <-s.closed:
		s.disconnectProfile()
		return errSocketClosed
	case <-time.After(handoverTimeout):
		s.disconnectProfile()
		return errors.New("bluez: profile connected without handing over a socket")
	}
}

// InputStream wraps the fd in a pollable file so Close unblocks Read.
func (s *socket) InputStream() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed() || s.fd < 0 {
		return nil, errors.New("bluez: socket not connected")
	}
	if s.file == nil {
		if err := unix.SetNonblock(s.fd, true); err != nil {
			return nil, fmt.Errorf("bluez: set nonblock: %w", err)
		}
		s.file = os.NewFile(uintptr(s.fd), "spp:"+macFromPath(s.path))
	}
	return s.file, nil
}

func (s *socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		close(s.closed)
		switch {
		case s.file != nil:
			if e := s.file.Close(); e != nil && !errors.Is(e, os.ErrClosed) {
				err = e
			}
		case s.fd >= 0:
			err = unix.Close(s.fd)
		}
	})
	return err
}

func (s *socket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// disconnectProfile aborts a profile connect BlueZ may still complete.
func (s *socket) disconnectProfile() {
	if call := s.dev.Call(deviceIface+".DisconnectProfile", 0, s.uuid); call.Err != nil {
		slog.Debug("[BLUEZ] DisconnectProfile failed", "device", macFromPath(s.path), "error", call.Err)
	}
}

var _ bt.SocketFactory = (*ProfileFactory)(nil)

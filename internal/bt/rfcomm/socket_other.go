//go:build !linux

package rfcomm

import (
	"fmt"

	"github.com/chaz8081/btlink/internal/bt"
)

// Factory is unavailable off Linux.
type Factory struct {
	Channel uint8
}

// New returns a factory whose sockets cannot be created.
func New(channel uint8) *Factory {
	return &Factory{Channel: channel}
}

func (f *Factory) CreateSocket(dev bt.Device, serviceUUID string) (bt.Socket, error) {
	return nil, fmt.Errorf("rfcomm: %w", bt.ErrNotSupported)
}

var _ bt.SocketFactory = (*Factory)(nil)

// Package rfcomm opens Serial Port Profile streams as raw RFCOMM sockets on
// a fixed channel, bypassing the BlueZ profile manager. Linux only; other
// platforms get a factory whose sockets fail with bt.ErrNotSupported.
package rfcomm

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAddress converts "AA:BB:CC:DD:EE:FF" to the little-endian bdaddr
// layout the kernel expects.
func ParseAddress(s string) ([6]uint8, error) {
	var out [6]uint8
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("rfcomm: malformed address %q", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return out, fmt.Errorf("rfcomm: malformed address %q", s)
		}
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return out, fmt.Errorf("rfcomm: malformed address %q: %w", s, err)
		}
		out[5-i] = uint8(b)
	}
	return out, nil
}

// Package sink delivers bytes read from the connected peer to a writer.
// Payload framing is out of scope; sinks only choose how the raw bytes are
// rendered.
package sink

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/chaz8081/btlink/internal/bt"
)

// Formats accepted by New.
const (
	FormatRaw   = "raw"   // bytes as received
	FormatHex   = "hex"   // hexdump -C style
	FormatLines = "lines" // newline-delimited text prefixed with the peer name
)

// Sink renders peer data to a writer. Safe for concurrent use.
type Sink struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	format  string
	dumper  io.WriteCloser
	pending []byte // FormatLines: bytes after the last newline
	peer    bt.Device
	total   int64
}

// New creates a sink writing to w in the given format.
func New(w io.Writer, format string) (*Sink, error) {
	s := &Sink{w: w, format: format}
	switch format {
	case FormatRaw, FormatLines:
	case FormatHex:
		s.dumper = hex.Dumper(w)
	default:
		return nil, fmt.Errorf("sink: unknown format %q", format)
	}
	return s, nil
}

// Open creates a sink on the file at path, or on stdout when path is empty.
// The file is created or appended to.
func Open(path, format string) (*Sink, error) {
	if path == "" {
		return New(os.Stdout, format)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	s, err := New(f, format)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// Deliver writes data received from peer. It has the bt.DataHandler
// signature. Write errors are logged, not returned: a full disk must not
// tear down the link.
func (s *Sink) Deliver(peer bt.Device, data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += int64(len(data))

	var err error
	switch s.format {
	case FormatHex:
		_, err = s.dumper.Write(data)
	case FormatLines:
		err = s.writeLines(peer, data)
	default:
		_, err = s.w.Write(data)
	}
	if err != nil {
		slog.Warn("[SINK] write failed", "error", err)
	}
}

func (s *Sink) writeLines(peer bt.Device, data []byte) error {
	if !s.peer.Same(peer) && len(s.pending) > 0 {
		// A new peer starts a new line.
		if err := s.emitLine(s.peer, s.pending); err != nil {
			return err
		}
		s.pending = s.pending[:0]
	}
	s.peer = peer
	s.pending = append(s.pending, data...)
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			return nil
		}
		line := bytes.TrimSuffix(s.pending[:i], []byte{'\r'})
		if err := s.emitLine(peer, line); err != nil {
			return err
		}
		s.pending = s.pending[i+1:]
	}
}

func (s *Sink) emitLine(peer bt.Device, line []byte) error {
	_, err := fmt.Fprintf(s.w, "%s: %s\n", peer.DisplayName(), line)
	return err
}

// Total returns the number of bytes delivered so far.
func (s *Sink) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Close flushes buffered output and closes the file opened by Open.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.dumper != nil {
		err = s.dumper.Close()
		s.dumper = nil
	}
	if s.format == FormatLines && len(s.pending) > 0 {
		if e := s.emitLine(s.peer, s.pending); e != nil && err == nil {
			err = e
		}
		s.pending = nil
	}
	if s.closer != nil {
		if e := s.closer.Close(); e != nil && err == nil {
			err = e
		}
		s.closer = nil
	}
	return err
}

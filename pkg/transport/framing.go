package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/chanwire/chanwire-go/pkg/log"
)

const (
	// PrefixSize is the size of the big-endian length prefix.
	PrefixSize = 4

	// DefaultMaxMessageSize caps a frame body unless configured otherwise (1 MB).
	DefaultMaxMessageSize = 1 << 20
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// EncodedSize returns the number of bytes a body of n bytes occupies on the
// stream.
func EncodedSize(n int) int {
	return PrefixSize + n
}

type frameTap struct {
	logger log.Logger
	connID string
}

// Framer splits a byte stream into length-prefixed frames.
//
// WriteFrame is safe for concurrent use and emits each frame with a single
// Write, so frames from different goroutines never interleave. ReadFrame is
// meant for one reading goroutine.
type Framer struct {
	r   io.Reader
	w   io.Writer
	max uint32

	rmu    sync.Mutex
	prefix [PrefixSize]byte

	wmu  sync.Mutex
	wbuf []byte

	tap atomic.Pointer[frameTap]
}

// NewFramer creates a framer on rw. A maxSize of zero uses
// DefaultMaxMessageSize.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{r: rw, w: rw, max: maxSize}
}

// MaxMessageSize returns the largest accepted frame body.
func (f *Framer) MaxMessageSize() uint32 {
	return f.max
}

// SetLogger records every frame read or written at the transport layer.
// A nil logger stops recording.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	if logger == nil {
		f.tap.Store(nil)
		return
	}
	f.tap.Store(&frameTap{logger: logger, connID: connID})
}

func (f *Framer) record(dir log.Direction, body []byte) {
	if t := f.tap.Load(); t != nil {
		t.logger.Log(log.NewFrameEvent(t.connID, dir, body, PrefixSize))
	}
}

func (f *Framer) checkSize(n uint64) error {
	switch {
	case n == 0:
		return ErrMessageEmpty
	case n > uint64(f.max):
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, f.max)
	}
	return nil
}

// WriteFrame writes body behind its length prefix.
func (f *Framer) WriteFrame(body []byte) error {
	if err := f.checkSize(uint64(len(body))); err != nil {
		return err
	}

	f.wmu.Lock()
	f.wbuf = binary.BigEndian.AppendUint32(f.wbuf[:0], uint32(len(body)))
	f.wbuf = append(f.wbuf, body...)
	_, err := f.w.Write(f.wbuf)
	f.wmu.Unlock()

	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	f.record(log.DirectionOut, body)
	return nil
}

// ReadFrame returns the next frame body. A clean end of stream between
// frames is reported as io.EOF; an end inside a frame as ErrFrameTruncated.
func (f *Framer) ReadFrame() ([]byte, error) {
	f.rmu.Lock()
	defer f.rmu.Unlock()

	if _, err := io.ReadFull(f.r, f.prefix[:]); err != nil {
		return nil, readErr(err, true)
	}
	n := binary.BigEndian.Uint32(f.prefix[:])
	if err := f.checkSize(uint64(n)); err != nil {
		return nil, err
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return nil, readErr(err, false)
	}
	f.record(log.DirectionIn, body)
	return body, nil
}

func readErr(err error, atBoundary bool) error {
	switch {
	case atBoundary && err == io.EOF:
		return io.EOF
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrFrameTruncated
	default:
		return fmt.Errorf("read frame: %w", err)
	}
}

// Package framing implements the length-prefixed binary envelope used by
// every connection in the fabric: an 8-byte big-endian length prefix
// followed by exactly that many payload bytes, plus the raw big-endian
// integer primitives sent outside of a frame (handshake fields, command
// ids, task UUIDs).
package framing

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// MaxFrameLength bounds a single frame's payload, guarding against a
// corrupt or hostile length prefix turning into an unbounded allocation.
const MaxFrameLength = 64 << 20 // 64 MiB

// ReadBuf reads one framed message: an 8-byte big-endian length, then
// exactly that many bytes.
func ReadBuf(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, wrapReadErr(err)
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	if n > MaxFrameLength {
		return nil, fmt.Errorf("framing: frame length %d exceeds maximum %d", n, MaxFrameLength)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF {
				// the header promised a body, so even an EOF before its
				// first byte ends the frame prematurely.
				err = io.ErrUnexpectedEOF
			}
			return nil, wrapReadErr(err)
		}
	}
	return buf, nil
}

// WriteBuf writes the 8-byte big-endian length header followed by the
// payload, as a single logical operation: no partial framing is ever
// visible to a reader observing the stream.
func WriteBuf(w io.Writer, buf []byte) error {
	var out []byte
	out = append(out, make([]byte, 8)...)
	binary.BigEndian.PutUint64(out, uint64(len(buf)))
	out = append(out, buf...)
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("framing: write buf: %w", err)
	}
	return nil
}

func wrapReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		// a clean EOF before any bytes were read is reported as io.EOF by
		// io.ReadFull; an EOF mid-header/mid-body becomes
		// io.ErrUnexpectedEOF already, which IsSevered also classifies.
		return err
	}
	return fmt.Errorf("framing: read buf: %w", err)
}

// ReadU8, ReadU16, ReadU32 and ReadU128 read a single big-endian unsigned
// integer sent outside of a frame (e.g. a command id, or a handshake
// field).
func ReadU8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, wrapReadErr(err)
	}
	return b[0], nil
}

func ReadU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, wrapReadErr(err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func ReadU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, wrapReadErr(err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// ReadU128 reads a 128-bit big-endian unsigned integer as its two halves
// (high 64 bits, then low 64 bits), used to carry a task's UUID on the
// wire.
func ReadU128(r io.Reader) (hi uint64, lo uint64, err error) {
	var b [16]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, wrapReadErr(err)
	}
	return binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(b[8:]), nil
}

func WriteU8(w io.Writer, v uint8) error {
	if _, err := w.Write([]byte{v}); err != nil {
		return fmt.Errorf("framing: write u8: %w", err)
	}
	return nil
}

func WriteU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	if _, err := w.Write(b[:]); err != nil {
		return fmt.Errorf("framing: write u16: %w", err)
	}
	return nil
}

func WriteU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	if _, err := w.Write(b[:]); err != nil {
		return fmt.Errorf("framing: write u32: %w", err)
	}
	return nil
}

// WriteU128 writes a 128-bit big-endian unsigned integer as its two
// halves, used to carry a task's UUID on the wire.
func WriteU128(w io.Writer, hi, lo uint64) error {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], hi)
	binary.BigEndian.PutUint64(b[8:], lo)
	if _, err := w.Write(b[:]); err != nil {
		return fmt.Errorf("framing: write u128: %w", err)
	}
	return nil
}

// Handler is invoked once per accepted connection, in its own goroutine.
// The connection is closed by Listen's caller-supplied handler; Listen
// itself never closes it.
type Handler func(ctx context.Context, conn net.Conn)

// Listen binds addr and accepts connections in a loop until ctx is
// cancelled, spawning handler for each. Accept errors are returned to
// onAcceptError and the loop continues; a bind failure is returned
// immediately (fatal for this listener).
func Listen(ctx context.Context, network, addr string, handler Handler, onAcceptError func(error)) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return fmt.Errorf("framing: listen %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if onAcceptError != nil {
				onAcceptError(err)
			}
			continue
		}
		go handler(ctx, conn)
	}
}

// IsSevered reports whether err represents one of the connection kinds
// that indicate the remote end is gone in the ordinary course of
// business: not-connected, broken-pipe, connection-aborted,
// connection-reset, or an unexpected EOF. It is used throughout the
// fabric to suppress noise from normal peer churn.
func IsSevered(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ENOTCONN) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return IsSevered(opErr.Err)
	}
	return false
}

// IsConnectionRefused reports whether err represents a refused outbound
// dial, the benign "stale peer list" case: the tracker reported a peer
// that has since gone away.
func IsConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// BufReader wraps a net.Conn with buffering suitable for repeated
// ReadBuf/ReadU* calls on the same connection, matching the teacher
// pack's preference (bufio.Reader) for framed protocol readers.
func BufReader(conn net.Conn) *bufio.Reader {
	return bufio.NewReader(conn)
}

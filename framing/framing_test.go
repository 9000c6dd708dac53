package framing_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/joeycumines/clustered/framing"
)

func TestReadWriteBuf_roundTrip(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"small", []byte("hello")},
		{"1MiB", bytes.Repeat([]byte{0x42}, 1<<20)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := framing.WriteBuf(&buf, tc.data); err != nil {
				t.Fatalf("WriteBuf: %v", err)
			}
			got, err := framing.ReadBuf(&buf)
			if err != nil {
				t.Fatalf("ReadBuf: %v", err)
			}
			if !bytes.Equal(got, tc.data) && !(len(got) == 0 && len(tc.data) == 0) {
				t.Fatalf("got %d bytes want %d bytes", len(got), len(tc.data))
			}
		})
	}
}

func TestReadBuf_unexpectedEOF(t *testing.T) {
	var buf bytes.Buffer
	if err := framing.WriteBuf(&buf, []byte("truncated")); err != nil {
		t.Fatalf("WriteBuf: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:10])
	_, err := framing.ReadBuf(truncated)
	if err == nil {
		t.Fatal("expected an error reading a truncated frame")
	}
	if !framing.IsSevered(err) {
		t.Fatalf("expected IsSevered(%v) to be true", err)
	}
}

func TestRawIntegers_roundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := framing.WriteU8(&buf, 7); err != nil {
		t.Fatal(err)
	}
	if err := framing.WriteU16(&buf, 8008); err != nil {
		t.Fatal(err)
	}
	if err := framing.WriteU32(&buf, 0xC0A80001); err != nil {
		t.Fatal(err)
	}
	if err := framing.WriteU128(&buf, 0x0102030405060708, 0x0900000000000000); err != nil {
		t.Fatal(err)
	}

	u8, err := framing.ReadU8(&buf)
	if err != nil || u8 != 7 {
		t.Fatalf("ReadU8 = %v, %v", u8, err)
	}
	u16, err := framing.ReadU16(&buf)
	if err != nil || u16 != 8008 {
		t.Fatalf("ReadU16 = %v, %v", u16, err)
	}
	u32, err := framing.ReadU32(&buf)
	if err != nil || u32 != 0xC0A80001 {
		t.Fatalf("ReadU32 = %v, %v", u32, err)
	}
	hi, lo, err := framing.ReadU128(&buf)
	if err != nil || hi != 0x0102030405060708 || lo != 0x0900000000000000 {
		t.Fatalf("ReadU128 = %v, %v, %v", hi, lo, err)
	}
}

func TestIsSevered(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"closed", net.ErrClosed, false},
		{"epipe", syscall.EPIPE, true},
		{"econnreset", syscall.ECONNRESET, true},
		{"econnaborted", syscall.ECONNABORTED, true},
		{"enotconn", syscall.ENOTCONN, true},
		{"plain eof", io.EOF, false},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := framing.IsSevered(tc.err); got != tc.want {
				t.Fatalf("IsSevered(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsConnectionRefused(t *testing.T) {
	if !framing.IsConnectionRefused(syscall.ECONNREFUSED) {
		t.Fatal("expected ECONNREFUSED to be classified as connection refused")
	}
	if framing.IsConnectionRefused(io.EOF) {
		t.Fatal("did not expect io.EOF to be classified as connection refused")
	}
}

func TestListen_acceptsAndDials(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	accepted := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- framing.Listen(ctx, "tcp", addr, func(_ context.Context, conn net.Conn) {
			defer conn.Close()
			accepted <- struct{}{}
		}, nil)
	}()

	var conn net.Conn
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-accepted:
	case err := <-errCh:
		t.Fatalf("listen exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
}

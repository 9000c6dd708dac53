package peer_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/joeycumines/clustered/capsule"
	"github.com/joeycumines/clustered/gpu"
	"github.com/joeycumines/clustered/logx"
	"github.com/joeycumines/clustered/peer"
	"github.com/joeycumines/clustered/tracker"
)

func reservePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addrStr := ln.Addr().String()
	_ = ln.Close()
	return addrStr
}

func startTracker(t *testing.T, ctx context.Context) string {
	t.Helper()
	addrStr := reservePort(t)
	tr := tracker.New(logx.New(io.Discard, logx.LevelEmergency))
	go func() {
		_ = tr.ListenAndServe(ctx, addrStr)
	}()
	waitUntilDialable(t, addrStr)
	return addrStr
}

func waitUntilDialable(t *testing.T, addrStr string) {
	t.Helper()
	for i := 0; i < 60; i++ {
		conn, err := net.Dial("tcp", addrStr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to accept connections", addrStr)
}

func squareShaderCompiler(source, entryPoint string) (gpu.ShaderFunc, error) {
	return func(in []byte, id uint32, out []byte) {
		off := int(id) * 4
		v := binary.LittleEndian.Uint32(in[off : off+4])
		binary.LittleEndian.PutUint32(out[off:off+4], v*v)
	}, nil
}

func newTestNode(t *testing.T, cfg peer.Config) *peer.Node {
	t.Helper()
	dev := gpu.NewFake(64, squareShaderCompiler)
	return peer.New(logx.New(io.Discard, logx.LevelEmergency), dev, cfg)
}

func TestNode_singlePeerSelfDispatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	trackerAddr := startTracker(t, ctx)

	n := newTestNode(t, peer.DefaultConfig())
	if err := n.Bootstrap(ctx, trackerAddr); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	go n.Serve(ctx)
	waitUntilDialable(t, n.Self().String())

	in := make([]byte, 8)
	binary.LittleEndian.PutUint32(in[0:4], 1)
	binary.LittleEndian.PutUint32(in[4:8], 2)

	out, err := n.Submit(ctx, capsule.Program{
		InData:        in,
		OutDataNBytes: 8,
		Program:       "square",
		EntryPoint:    "main",
		NWorkgroups:   2,
		WorkgroupSize: 1,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	want := []byte{1, 0, 0, 0, 4, 0, 0, 0}
	if len(out) != len(want) {
		t.Fatalf("got %d bytes want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, out[i], want[i])
		}
	}
}

func TestNode_workStealing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	trackerAddr := startTracker(t, ctx)

	cfg := peer.DefaultConfig()
	cfg.StealEmptySleep = 20 * time.Millisecond

	a := newTestNode(t, cfg)
	if err := a.Bootstrap(ctx, trackerAddr); err != nil {
		t.Fatalf("bootstrap A: %v", err)
	}
	go a.Serve(ctx)
	waitUntilDialable(t, a.Self().String())

	b := newTestNode(t, cfg)
	if err := b.Bootstrap(ctx, trackerAddr); err != nil {
		t.Fatalf("bootstrap B: %v", err)
	}
	go b.Serve(ctx)
	waitUntilDialable(t, b.Self().String())

	const nTasks = 20
	results := make(chan []byte, nTasks)
	errs := make(chan error, nTasks)
	for i := 0; i < nTasks; i++ {
		i := i
		go func() {
			in := make([]byte, 4)
			binary.LittleEndian.PutUint32(in, uint32(i+1))
			out, err := a.Submit(ctx, capsule.Program{
				InData:        in,
				OutDataNBytes: 4,
				Program:       "square",
				EntryPoint:    "main",
				NWorkgroups:   1,
				WorkgroupSize: 1,
			})
			if err != nil {
				errs <- err
				return
			}
			results <- out
		}()
	}

	seen := 0
	for seen < nTasks {
		select {
		case err := <-errs:
			t.Fatalf("Submit failed: %v", err)
		case out := <-results:
			if len(out) != 4 {
				t.Fatalf("got %d bytes want 4", len(out))
			}
			seen++
		case <-ctx.Done():
			t.Fatalf("timed out after receiving %d/%d results", seen, nTasks)
		}
	}
}


package tracker_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/joeycumines/clustered/addr"
	"github.com/joeycumines/clustered/framing"
	"github.com/joeycumines/clustered/logx"
	"github.com/joeycumines/clustered/proto"
	"github.com/joeycumines/clustered/tracker"
)

func startTracker(t *testing.T) (addrStr string, shutdown func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addrStr = ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tr := tracker.New(logx.New(io.Discard, logx.LevelEmergency))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.ListenAndServe(ctx, addrStr)
	}()

	for i := 0; i < 40; i++ {
		if conn, err := net.Dial("tcp", addrStr); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return addrStr, func() {
		cancel()
		<-done
	}
}

// handshake performs the client side of the tracker handshake and returns
// the assigned peer identity and the open connection.
func handshake(t *testing.T, addrStr string) (net.Conn, addr.Peer) {
	t.Helper()

	conn, err := net.Dial("tcp", addrStr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	r := framing.BufReader(conn)

	magic, err := framing.ReadBuf(r)
	if err != nil {
		t.Fatalf("read magic: %v", err)
	}
	if string(magic) != proto.TrackerMagic {
		t.Fatalf("got magic %q want %q", magic, proto.TrackerMagic)
	}

	ip, err := framing.ReadU32(r)
	if err != nil {
		t.Fatalf("read ip: %v", err)
	}
	_ = ip

	port, err := framing.ReadU16(r)
	if err != nil {
		t.Fatalf("read port: %v", err)
	}

	host, _, _ := net.SplitHostPort(conn.LocalAddr().String())
	hostAddr, err := netip.ParseAddr(host)
	if err != nil {
		t.Fatalf("parse local host %q: %v", host, err)
	}
	return conn, addr.NewPeer(hostAddr, port)
}

func TestTracker_handshakeAndEmptyPeerList(t *testing.T) {
	addrStr, shutdown := startTracker(t)
	defer shutdown()

	conn, _ := handshake(t, addrStr)
	defer conn.Close()

	r := framing.BufReader(conn)
	if err := framing.WriteU8(conn, proto.TrackerCmdListPeers); err != nil {
		t.Fatalf("write cmd: %v", err)
	}
	resp, err := framing.ReadBuf(r)
	if err != nil {
		t.Fatalf("read peer list: %v", err)
	}

	var peers []addr.Peer
	if err := json.Unmarshal(resp, &peers); err != nil {
		t.Fatalf("unmarshal peer list: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected an empty peer list, got %v", peers)
	}
}

func TestTracker_portCollisionAssignsSequentialPorts(t *testing.T) {
	addrStr, shutdown := startTracker(t)
	defer shutdown()

	conn1, p1 := handshake(t, addrStr)
	defer conn1.Close()
	conn2, p2 := handshake(t, addrStr)
	defer conn2.Close()

	if p1.AddrPort.Port() == p2.AddrPort.Port() {
		t.Fatalf("expected distinct ports, both got %d", p1.AddrPort.Port())
	}
}

func TestTracker_listPeersExcludesSelf(t *testing.T) {
	addrStr, shutdown := startTracker(t)
	defer shutdown()

	conn1, p1 := handshake(t, addrStr)
	defer conn1.Close()
	conn2, p2 := handshake(t, addrStr)
	defer conn2.Close()

	r1 := framing.BufReader(conn1)
	if err := framing.WriteU8(conn1, proto.TrackerCmdListPeers); err != nil {
		t.Fatalf("write cmd: %v", err)
	}
	resp, err := framing.ReadBuf(r1)
	if err != nil {
		t.Fatalf("read peer list: %v", err)
	}

	var peers []addr.Peer
	if err := json.Unmarshal(resp, &peers); err != nil {
		t.Fatalf("unmarshal peer list: %v", err)
	}
	if len(peers) != 1 || peers[0].AddrPort.Port() != p2.AddrPort.Port() {
		t.Fatalf("got %v, want exactly peer %v (excluding self %v)", peers, p2, p1)
	}
}

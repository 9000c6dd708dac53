// Package tracker implements the fabric's single central membership
// registry: it hands each connecting peer a unique (ip, p2p_port)
// identity and serves peer-list queries.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/joeycumines/clustered/addr"
	"github.com/joeycumines/clustered/framing"
	"github.com/joeycumines/clustered/logx"
	"github.com/joeycumines/clustered/proto"
)

// Tracker is a single-process server maintaining the live set of peer
// identities. The zero value is not usable; construct with New.
type Tracker struct {
	log *logx.Logger

	mu    sync.Mutex
	peers map[addr.Peer]struct{}
}

// New constructs a Tracker that logs via log.
func New(log *logx.Logger) *Tracker {
	return &Tracker{
		log:   log,
		peers: make(map[addr.Peer]struct{}),
	}
}

// ListenAndServe binds listenAddr and serves tracker connections until ctx
// is cancelled. A bind failure is returned immediately (fatal, per the
// error-handling design); per-connection errors are handled internally.
func (t *Tracker) ListenAndServe(ctx context.Context, listenAddr string) error {
	return framing.Listen(ctx, "tcp", listenAddr, t.handleConn, func(err error) {
		t.log.Notice().Err(err).Log("tracker: accept failed")
	})
}

// PeerCount reports the number of currently registered peers, for use by
// an operational metrics endpoint.
func (t *Tracker) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

func (t *Tracker) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil || !remote.Addr().Is4() {
		t.log.Notice().Str("remote", conn.RemoteAddr().String()).Log("tracker: rejecting non-IPv4 peer")
		return
	}

	if err := framing.WriteBuf(conn, []byte(proto.TrackerMagic)); err != nil {
		t.log.Debug().Err(err).Log("tracker: write magic failed")
		return
	}

	ip4 := remote.Addr().As4()
	ipU32 := uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
	if err := framing.WriteU32(conn, ipU32); err != nil {
		t.log.Debug().Err(err).Log("tracker: write peer ip failed")
		return
	}

	self, port, err := t.allocatePeer(remote.Addr())
	if err != nil {
		t.log.Crit().Err(err).Log("tracker: could not allocate a p2p port")
		return
	}
	defer t.evict(self)

	if err := framing.WriteU16(conn, port); err != nil {
		t.log.Debug().Err(err).Log("tracker: write p2p port failed")
		return
	}

	r := framing.BufReader(conn)
	for {
		cmd, err := framing.ReadU8(r)
		if err != nil {
			if !framing.IsSevered(err) {
				t.log.Notice().Err(err).Log("tracker: read command failed")
			}
			return
		}

		switch cmd {
		case proto.TrackerCmdListPeers:
			if err := t.sendPeerList(conn, self); err != nil {
				t.log.Notice().Err(err).Log("tracker: send peer list failed")
				return
			}
		default:
			t.log.Notice().Int("command", int(cmd)).Log("tracker: unknown command")
		}
	}
}

// allocatePeer assigns a unique (ip, p2p_port) identity for ip, probing
// from proto.BasePort upward under the registry mutex so the check and
// insert are atomic.
func (t *Tracker) allocatePeer(ip netip.Addr) (addr.Peer, uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	port := proto.BasePort
	for {
		candidate := addr.NewPeer(ip, port)
		if _, taken := t.peers[candidate]; !taken {
			t.peers[candidate] = struct{}{}
			return candidate, port, nil
		}
		if port == ^uint16(0) {
			return addr.Peer{}, 0, fmt.Errorf("tracker: no free p2p port for %s", ip)
		}
		port++
	}
}

func (t *Tracker) evict(self addr.Peer) {
	t.mu.Lock()
	delete(t.peers, self)
	t.mu.Unlock()
	t.log.Info().Str("peer", self.String()).Log("tracker: evicted peer")
}

// sendPeerList snapshots the registry, excludes self, and writes the
// tuple-newtype-JSON-encoded list as a single frame.
func (t *Tracker) sendPeerList(conn net.Conn, self addr.Peer) error {
	t.mu.Lock()
	peers := make([]addr.Peer, 0, len(t.peers))
	for p := range t.peers {
		if p == self {
			continue
		}
		peers = append(peers, p)
	}
	t.mu.Unlock()

	b, err := json.Marshal(peers)
	if err != nil {
		return fmt.Errorf("tracker: marshal peer list: %w", err)
	}
	return framing.WriteBuf(conn, b)
}

// Package addr defines the wire-compatible peer address type shared by the
// tracker and peer node.
package addr

import (
	"encoding/json"
	"fmt"
	"net/netip"
)

// Peer identifies a peer's IPv4 peer-to-peer listener. The tracker assigns
// these; they are unique across the live membership for as long as the
// owning peer's tracker connection is open.
type Peer struct {
	AddrPort netip.AddrPort
}

// NewPeer constructs a Peer from an IPv4 address and port.
func NewPeer(ip netip.Addr, port uint16) Peer {
	return Peer{AddrPort: netip.AddrPortFrom(ip, port)}
}

func (p Peer) String() string {
	return p.AddrPort.String()
}

// tuple is the wire shape: a single-element JSON object keyed "0", carrying
// the "ip:port" string. This is an intentionally odd shape required to stay
// byte-compatible with the existing wire contract (see the peer-registry
// list-peers response).
type tuple struct {
	Zero string `json:"0"`
}

// MarshalJSON renders the tuple-newtype wire form: {"0":"a.b.c.d:port"}.
func (p Peer) MarshalJSON() ([]byte, error) {
	return json.Marshal(tuple{Zero: p.AddrPort.String()})
}

// UnmarshalJSON parses the tuple-newtype wire form.
func (p *Peer) UnmarshalJSON(b []byte) error {
	var t tuple
	if err := json.Unmarshal(b, &t); err != nil {
		return fmt.Errorf("addr: decode peer tuple: %w", err)
	}
	ap, err := netip.ParseAddrPort(t.Zero)
	if err != nil {
		return fmt.Errorf("addr: parse peer address %q: %w", t.Zero, err)
	}
	p.AddrPort = ap
	return nil
}

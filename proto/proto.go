// Package proto holds the wire constants shared between the tracker and
// peer implementations: the magic handshake sequences and command ids.
package proto

const (
	// TrackerMagic is sent as the first framed message from the tracker
	// to an accepted peer connection.
	TrackerMagic = "Clustered tracker!"

	// PeerMagic is sent as the first framed message on every
	// peer-to-peer connection, by the connecting side.
	PeerMagic = "Clustered peer2peer, yay!"
)

// Tracker command ids, read as a raw u8 outside of any frame.
const (
	TrackerCmdListPeers uint8 = 1
)

// Peer-to-peer command ids, read as a raw u8 outside of any frame.
const (
	PeerCmdSteal          uint8 = 1
	PeerCmdDeliverResult  uint8 = 2
)

// BasePort is the first p2p listener port the tracker attempts to assign;
// it increments on collision.
const BasePort uint16 = 8008

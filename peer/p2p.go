package peer

import (
	"context"
	"encoding/json"
	"io"
	"net"

	"github.com/joeycumines/clustered/capsule"
	"github.com/joeycumines/clustered/framing"
	"github.com/joeycumines/clustered/proto"
)

// handleP2P serves one inbound peer-to-peer connection: verify the magic
// sequence, then dispatch steal and deliver-result commands until the
// connection closes or a protocol invariant is violated.
func (n *Node) handleP2P(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	r := framing.BufReader(conn)

	magic, err := framing.ReadBuf(r)
	if err != nil {
		if !framing.IsSevered(err) {
			n.log.Notice().Err(err).Log("peer: read p2p magic failed")
		}
		return
	}
	if string(magic) != proto.PeerMagic {
		n.log.Notice().Str("magic", string(magic)).Log("peer: unexpected p2p magic")
		return
	}

	for {
		cmd, err := framing.ReadU8(r)
		if err != nil {
			if !framing.IsSevered(err) {
				n.log.Notice().Err(err).Log("peer: read p2p command failed")
			}
			return
		}

		switch cmd {
		case proto.PeerCmdSteal:
			if !n.respondToSteal(conn) {
				return
			}
		case proto.PeerCmdDeliverResult:
			if !n.handleDeliverResult(r) {
				return
			}
		default:
			n.log.Notice().Int("command", int(cmd)).Log("peer: unknown p2p command")
		}
	}
}

func (n *Node) respondToSteal(conn net.Conn) bool {
	var resp *capsule.Task
	if task, ok := n.queue.PopForSteal(n.cfg.NoStealThreshold); ok {
		resp = &task
	}
	b, err := json.Marshal(resp)
	if err != nil {
		n.log.Err().Err(err).Log("peer: marshal steal response failed")
		return false
	}
	if err := framing.WriteBuf(conn, b); err != nil {
		if !framing.IsSevered(err) {
			n.log.Notice().Err(err).Log("peer: write steal response failed")
		}
		return false
	}
	return true
}

// handleDeliverResult reads a deliver-result command's payload (a raw
// u128 task id, then a framed result buffer) and delivers it into the
// local registry. A delivery for an unregistered id is a protocol
// invariant violation: fatal for this connection, per the error-handling
// design.
func (n *Node) handleDeliverResult(r io.Reader) bool {
	hi, lo, err := framing.ReadU128(r)
	if err != nil {
		if !framing.IsSevered(err) {
			n.log.Notice().Err(err).Log("peer: read deliver-result task id failed")
		}
		return false
	}
	id := capsule.IDFromU128(hi, lo)

	data, err := framing.ReadBuf(r)
	if err != nil {
		if !framing.IsSevered(err) {
			n.log.Notice().Err(err).Log("peer: read deliver-result payload failed")
		}
		return false
	}

	if !n.registry.Deliver(id, data) {
		n.log.Crit().Str("task", id.String()).Log("peer: deliver-result for unknown task id")
		return false
	}
	return true
}

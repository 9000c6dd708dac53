package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/joeycumines/clustered/addr"
	"github.com/joeycumines/clustered/capsule"
	"github.com/joeycumines/clustered/framing"
	"github.com/joeycumines/clustered/proto"
)

// errTrackerLost wraps any error encountered while talking to the
// tracker; the scheduler treats it as fatal for the whole node, since
// stealing is essential to progress under load.
type errTrackerLost struct{ err error }

func (e *errTrackerLost) Error() string { return fmt.Sprintf("lost connection to tracker: %v", e.err) }
func (e *errTrackerLost) Unwrap() error { return e.err }

// connectToPeer dials addr's peer-to-peer listener and sends the
// peer-to-peer magic sequence as the connection's first framed message.
func connectToPeer(ctx context.Context, peer addr.Peer) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", peer.AddrPort.String())
	if err != nil {
		return nil, err
	}
	if err := framing.WriteBuf(conn, []byte(proto.PeerMagic)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// trackerListPeers issues the list-peers command against the tracker
// connection, serialising request and response under trackerMu so
// concurrent callers (scheduler loop and fire-and-forget steal attempts)
// never interleave on the shared stream.
func (n *Node) trackerListPeers(ctx context.Context) ([]addr.Peer, error) {
	n.trackerMu.Lock()
	defer n.trackerMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = n.trackerConn.SetDeadline(dl)
		defer n.trackerConn.SetDeadline(time.Time{})
	}

	if err := framing.WriteU8(n.trackerConn, proto.TrackerCmdListPeers); err != nil {
		return nil, &errTrackerLost{err}
	}
	resp, err := framing.ReadBuf(n.trackerReader)
	if err != nil {
		return nil, &errTrackerLost{err}
	}

	var peers []addr.Peer
	if err := json.Unmarshal(resp, &peers); err != nil {
		return nil, &errTrackerLost{fmt.Errorf("decode peer list: %w", err)}
	}
	return peers, nil
}

// stealTask implements the work-stealing attempt described in the
// scheduler design: ask the tracker for the live peer list, then try each
// peer in turn until one donates a task. An empty peer list is not an
// error; it sleeps briefly to avoid a hot loop. Any per-peer connection
// failure is benign and silently skipped, except ordinary notices logged
// for unexpected errors.
func (n *Node) stealTask(ctx context.Context) error {
	peers, err := n.trackerListPeers(ctx)
	if err != nil {
		return err
	}

	if len(peers) == 0 {
		select {
		case <-time.After(n.cfg.StealEmptySleep):
		case <-ctx.Done():
		}
		return nil
	}

	for _, p := range peers {
		task, ok, err := n.tryStealFrom(ctx, p)
		if err != nil {
			if framing.IsSevered(err) || framing.IsConnectionRefused(err) {
				n.logBenignDisconnect(p.String(), err)
				continue
			}
			n.log.Notice().Err(err).Str("peer", p.String()).Log("peer: steal attempt failed")
			continue
		}
		if ok {
			n.queue.Push(task)
			return nil
		}
	}
	return nil
}

func (n *Node) tryStealFrom(ctx context.Context, p addr.Peer) (capsule.Task, bool, error) {
	conn, err := connectToPeer(ctx, p)
	if err != nil {
		return capsule.Task{}, false, err
	}
	defer conn.Close()

	if err := framing.WriteU8(conn, proto.PeerCmdSteal); err != nil {
		return capsule.Task{}, false, err
	}

	r := framing.BufReader(conn)
	resp, err := framing.ReadBuf(r)
	if err != nil {
		return capsule.Task{}, false, err
	}

	var task *capsule.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return capsule.Task{}, false, fmt.Errorf("decode steal response: %w", err)
	}
	if task == nil {
		return capsule.Task{}, false, nil
	}
	return *task, true, nil
}

// returnData delivers a completed task's result, either directly into the
// local registry (if this node owns the task) or over the wire to the
// owning peer's deliver-result endpoint. Failures are logged, never
// propagated: a lost result is an accepted limitation, not a crash.
func (n *Node) returnData(ctx context.Context, task capsule.Task, data []byte) {
	if n.registry.Has(task.ID) {
		n.registry.Deliver(task.ID, data)
		return
	}

	conn, err := connectToPeer(ctx, task.ReturnAddr)
	if err != nil {
		if framing.IsSevered(err) || framing.IsConnectionRefused(err) {
			n.logBenignDisconnect(task.ReturnAddr.String(), err)
			return
		}
		n.log.Notice().Err(err).Str("task", task.ID.String()).Log("peer: return_data connect failed")
		return
	}
	defer conn.Close()

	if err := framing.WriteU8(conn, proto.PeerCmdDeliverResult); err != nil {
		n.log.Notice().Err(err).Log("peer: return_data write command failed")
		return
	}
	hi, lo := capsule.IDToU128(task.ID)
	if err := framing.WriteU128(conn, hi, lo); err != nil {
		n.log.Notice().Err(err).Log("peer: return_data write task id failed")
		return
	}
	if err := framing.WriteBuf(conn, data); err != nil {
		n.log.Notice().Err(err).Log("peer: return_data write result failed")
		return
	}
}

// Package peer implements a fabric worker: it holds the task queue and
// result registry, serves peer-to-peer steal/deliver-result requests,
// runs the work-stealing scheduler loop, and exposes the local submission
// API.
package peer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/joeycumines/clustered/framing"
	"github.com/joeycumines/clustered/gpu"
	"github.com/joeycumines/clustered/logx"
	"github.com/joeycumines/clustered/proto"
	"github.com/joeycumines/go-catrate"
	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/clustered/addr"
)

// Config tunes the scheduler's work-stealing behaviour. New replaces any
// zero or negative field with its DefaultConfig value.
type Config struct {
	// MinimumTasksBeforeStealing triggers an asynchronous steal attempt
	// once the queue shrinks to this length after a pop.
	MinimumTasksBeforeStealing int

	// NoStealThreshold is the queue length at or below which this peer
	// refuses to donate a task to a remote steal request.
	NoStealThreshold int

	// StealEmptySleep is how long steal_task sleeps after observing an
	// empty peer list, to avoid a hot loop against the tracker.
	StealEmptySleep time.Duration
}

// DefaultConfig returns the documented default thresholds.
func DefaultConfig() Config {
	return Config{
		MinimumTasksBeforeStealing: 5,
		NoStealThreshold:           1,
		StealEmptySleep:            100 * time.Millisecond,
	}
}

func (c *Config) setDefaults() {
	if c.MinimumTasksBeforeStealing <= 0 {
		c.MinimumTasksBeforeStealing = 5
	}
	if c.NoStealThreshold <= 0 {
		c.NoStealThreshold = 1
	}
	if c.StealEmptySleep <= 0 {
		c.StealEmptySleep = 100 * time.Millisecond
	}
}

// Node is a single peer: its task queue, result registry, GPU device, and
// the connections to the tracker and to other peers.
type Node struct {
	log *logx.Logger
	dev gpu.Device
	cfg Config

	self addr.Peer

	trackerMu     sync.Mutex
	trackerConn   net.Conn
	trackerReader *bufio.Reader

	queue    *TaskQueue
	registry *ResultRegistry

	// disconnectLimiter caps how often ordinary peer churn (severed
	// connections, refused dials) gets logged, keyed by remote address,
	// so routine fabric noise doesn't flood operator terminals.
	disconnectLimiter *catrate.Limiter

	group *errgroup.Group
}

// New constructs a Node. dev may be a gpu.Fake for environments without
// real GPU hardware.
func New(log *logx.Logger, dev gpu.Device, cfg Config) *Node {
	cfg.setDefaults()
	return &Node{
		log:      log,
		dev:      dev,
		cfg:      cfg,
		queue:    NewTaskQueue(),
		registry: NewResultRegistry(),
		disconnectLimiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 20,
		}),
	}
}

// logBenignDisconnect logs an ordinary peer-churn failure (severed
// connection, refused dial) at Debug, rate-limited per remote address so
// one flaky peer can't flood the log.
func (n *Node) logBenignDisconnect(remote string, err error) {
	if _, ok := n.disconnectLimiter.Allow(remote); ok {
		n.log.Debug().Err(err).Str("peer", remote).Log("peer: benign disconnect")
	}
}

// Self returns this node's assigned peer identity. Valid only after Run
// has completed its bootstrap handshake with the tracker.
func (n *Node) Self() addr.Peer { return n.self }

// Run connects to the tracker at trackerAddr, completes the bootstrap
// handshake, then runs the peer-to-peer listener and the scheduler loop
// until ctx is cancelled or a fatal error occurs (in particular, loss of
// the tracker connection). It blocks until both activities, and every
// spawned fire-and-forget steal/return-data attempt, have returned.
func (n *Node) Run(ctx context.Context, trackerAddr string) error {
	if err := n.Bootstrap(ctx, trackerAddr); err != nil {
		return err
	}
	return n.Serve(ctx)
}

// Bootstrap connects to the tracker at trackerAddr and completes the
// handshake, assigning this node's peer identity (see Self). Submit may
// be called once Bootstrap returns without error, even before Serve has
// started the peer-to-peer listener and scheduler loop.
func (n *Node) Bootstrap(ctx context.Context, trackerAddr string) error {
	if err := n.bootstrap(ctx, trackerAddr); err != nil {
		return fmt.Errorf("peer: bootstrap: %w", err)
	}
	return nil
}

// Serve runs the peer-to-peer listener and the scheduler loop until ctx is
// cancelled or a fatal error occurs. Bootstrap must have already
// succeeded. It blocks until both activities, and every spawned
// fire-and-forget steal/return-data attempt, have returned.
func (n *Node) Serve(ctx context.Context) error {
	defer n.trackerConn.Close()

	g, gctx := errgroup.WithContext(ctx)
	n.group = g

	listenAddr := fmt.Sprintf(":%d", n.self.AddrPort.Port())
	g.Go(func() error {
		return framing.Listen(gctx, "tcp", listenAddr, n.handleP2P, func(err error) {
			n.log.Notice().Err(err).Log("peer: p2p accept failed")
		})
	})
	g.Go(func() error {
		return n.schedulerLoop(gctx)
	})

	return g.Wait()
}

// bootstrap performs the tracker handshake: connect, verify the magic
// sequence, read the assigned (ip, p2p_port) identity.
func (n *Node) bootstrap(ctx context.Context, trackerAddr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", trackerAddr)
	if err != nil {
		return fmt.Errorf("connect to tracker: %w", err)
	}

	r := framing.BufReader(conn)

	magic, err := framing.ReadBuf(r)
	if err != nil {
		conn.Close()
		return fmt.Errorf("read tracker magic: %w", err)
	}
	if string(magic) != proto.TrackerMagic {
		conn.Close()
		return fmt.Errorf("unexpected tracker magic %q", magic)
	}

	ipU32, err := framing.ReadU32(r)
	if err != nil {
		conn.Close()
		return fmt.Errorf("read assigned ip: %w", err)
	}
	port, err := framing.ReadU16(r)
	if err != nil {
		conn.Close()
		return fmt.Errorf("read assigned port: %w", err)
	}

	ip := netip.AddrFrom4([4]byte{byte(ipU32 >> 24), byte(ipU32 >> 16), byte(ipU32 >> 8), byte(ipU32)})
	n.self = addr.NewPeer(ip, port)
	n.trackerConn = conn
	n.trackerReader = r

	n.log.Info().Str("self", n.self.String()).Log("peer: bootstrapped with tracker")
	return nil
}

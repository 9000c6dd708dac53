package peer

import (
	"context"
	"errors"

	"github.com/joeycumines/clustered/capsule"
)

// schedulerLoop pops tasks and runs them, triggering a concurrent steal
// attempt whenever the queue shrinks to the configured threshold, and
// stealing synchronously when the queue is empty (there is nothing to
// overlap, and unbounded concurrent steal attempts would amount to a
// self-DoS against peers). Loss of the tracker connection is fatal: the
// loop returns an error, which (via the owning errgroup) tears down the
// whole node.
func (n *Node) schedulerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		length := n.queue.Len()
		if length == 0 {
			if err := n.stealTask(ctx); err != nil {
				var lost *errTrackerLost
				if errors.As(err, &lost) {
					n.log.Emerg().Err(err).Log("peer: lost connection to tracker")
					return err
				}
				n.log.Notice().Err(err).Log("peer: steal attempt failed")
			}
			continue
		}

		task, ok := n.queue.Pop()
		if !ok {
			continue
		}

		if length-1 <= n.cfg.MinimumTasksBeforeStealing {
			n.group.Go(func() error {
				if err := n.stealTask(ctx); err != nil {
					var lost *errTrackerLost
					if errors.As(err, &lost) {
						n.log.Emerg().Err(err).Log("peer: lost connection to tracker")
						return err
					}
					n.log.Notice().Err(err).Log("peer: background steal attempt failed")
				}
				return nil
			})
		}

		n.executeTask(ctx, task)
	}
}

// executeTask runs a task's capsule on the GPU device and, on success,
// spawns a fire-and-forget delivery of the result. A task-level failure is
// logged and the task discarded; the owning peer's result slot is
// deliberately left unsignalled in that case.
func (n *Node) executeTask(ctx context.Context, task capsule.Task) {
	data, err := capsule.Run(ctx, n.dev, task.Program)
	if err != nil {
		n.log.Err().Err(err).Str("task", task.ID.String()).Log("peer: task execution failed")
		return
	}

	n.group.Go(func() error {
		n.returnData(ctx, task, data)
		return nil
	})
}

package peer

import (
	"context"
	"fmt"

	"github.com/joeycumines/clustered/capsule"
)

// Submit is the local submission entrypoint: it mints a task, registers a
// result slot before the task becomes visible to the scheduler, enqueues
// the task, and awaits the slot's notifier. The submitter owns the slot's
// lifetime; it always removes the slot once the result (or ctx
// cancellation) arrives.
func (n *Node) Submit(ctx context.Context, program capsule.Program) ([]byte, error) {
	if err := program.Validate(); err != nil {
		return nil, err
	}

	task, err := capsule.NewTask(n.self, program)
	if err != nil {
		return nil, fmt.Errorf("peer: submit: %w", err)
	}

	n.registry.Create(task.ID)
	defer n.registry.Remove(task.ID)

	n.queue.Push(task)

	return n.registry.Wait(ctx, task.ID)
}

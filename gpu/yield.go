package gpu

import "runtime"

// yield hands off the processor to another goroutine without parking this
// one, matching the original poll-loop's cooperative-yield semantics.
func yield() {
	runtime.Gosched()
}

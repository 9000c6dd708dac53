// Package gpu defines the narrow capability the compute fabric needs from
// a GPU backend. The backend itself — adapter selection, shader
// compilation internals, buffer allocation strategy — is explicitly out of
// scope (see the capsule package for the orchestration that drives this
// interface). Fake, in this package, is a software implementation used by
// every test and by peers started with no GPU hardware available.
package gpu

import "context"

// Limits describes the device-reported dispatch bound the runner must
// respect. A single dispatch call can request at most
// MaxWorkgroupsPerDispatch workgroups along the x dimension; larger
// requests must be chunked by the caller.
type Limits struct {
	MaxWorkgroupsPerDispatch uint32
}

// Shader is an opaque compiled compute module handle.
type Shader any

// Buffer is an opaque device buffer handle.
type Buffer any

// MapResult is delivered once a ReadBuffer's mapping completes.
type MapResult struct {
	Data []byte
	Err  error
}

// Device is the capability the fabric needs from a GPU backend: compile a
// compute shader, allocate a storage buffer, bind three buffers (input,
// output, and a meta offset) and dispatch a bounded number of workgroups,
// and read a buffer back to host memory. Binding and dispatch chunking
// against Limits is the caller's (capsule.Run's) responsibility.
type Device interface {
	// Limits reports this device's dispatch bound.
	Limits() Limits

	// CompileShader compiles source as a compute shader module exposing
	// entryPoint. Compilation failure is a task-level failure.
	CompileShader(source, entryPoint string) (Shader, error)

	// AllocateBuffer allocates a storage buffer of size bytes, optionally
	// initialised from initial (which must be nil or exactly size bytes).
	AllocateBuffer(size int, initial []byte) (Buffer, error)

	// Dispatch binds inBuf (read-only), outBuf (read-write) and a 4-byte
	// uniform carrying globalOffset (little-endian u32, the per-dispatch
	// meta-buffer offset used by the shader to reconstruct a global
	// invocation index), then dispatches workgroups×1×1 invocations of
	// shader. Dispatch is synchronous from the caller's perspective; the
	// backend is responsible for any queue submission it requires.
	Dispatch(shader Shader, inBuf, outBuf Buffer, globalOffset uint32, workgroups uint32) error

	// BeginMapRead starts mapping buf (of the given size) for host
	// reading and returns a channel that receives exactly one MapResult
	// once the mapping completes. Poll must be called for the mapping to
	// make progress, per the poll-then-yield pattern in Await.
	BeginMapRead(buf Buffer, size int) <-chan MapResult

	// Poll drives any pending asynchronous device work (in particular,
	// pending BeginMapRead callbacks) forward by one step. It must never
	// block.
	Poll()
}

// Await implements the "poll, then yield" pattern load-bearing across any
// port of this system: GPU buffer mapping is callback-based, so the caller
// polls the device in a tight loop until the mapping's result channel has
// a pending value, yielding the goroutine between polls rather than
// busy-spinning, and otherwise respects ctx cancellation.
func Await(ctx context.Context, dev Device, result <-chan MapResult) ([]byte, error) {
	for {
		select {
		case r := <-result:
			return r.Data, r.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		dev.Poll()
		select {
		case r := <-result:
			return r.Data, r.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			yield()
		}
	}
}

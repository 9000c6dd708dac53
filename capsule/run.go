package capsule

import (
	"context"
	"fmt"

	"github.com/joeycumines/clustered/gpu"
)

// Run executes program on dev and returns the raw output bytes, or a
// task-level error (shader compile failure, buffer allocation failure,
// mapping failure). The caller is responsible for logging and discarding
// the task on error; the result slot must not be signalled in that case.
func Run(ctx context.Context, dev gpu.Device, program Program) ([]byte, error) {
	if err := program.Validate(); err != nil {
		return nil, err
	}

	shader, err := dev.CompileShader(program.Program, program.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("capsule: compile shader: %w", err)
	}

	inBuf, err := dev.AllocateBuffer(len(program.InData), program.InData)
	if err != nil {
		return nil, fmt.Errorf("capsule: allocate input buffer: %w", err)
	}

	outBuf, err := dev.AllocateBuffer(program.OutDataNBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("capsule: allocate output buffer: %w", err)
	}

	maxPerDispatch := dev.Limits().MaxWorkgroupsPerDispatch
	if maxPerDispatch == 0 {
		return nil, fmt.Errorf("capsule: device reported a zero dispatch bound")
	}

	full := program.NWorkgroups / maxPerDispatch
	remainder := program.NWorkgroups % maxPerDispatch

	var k uint32
	for ; k < full; k++ {
		offset := k * maxPerDispatch * program.WorkgroupSize
		if err := dev.Dispatch(shader, inBuf, outBuf, offset, maxPerDispatch); err != nil {
			return nil, fmt.Errorf("capsule: dispatch chunk %d: %w", k, err)
		}
	}
	if remainder > 0 {
		offset := (program.NWorkgroups - remainder) * program.WorkgroupSize
		if err := dev.Dispatch(shader, inBuf, outBuf, offset, remainder); err != nil {
			return nil, fmt.Errorf("capsule: dispatch remainder: %w", err)
		}
	}

	result := dev.BeginMapRead(outBuf, program.OutDataNBytes)
	out, err := gpu.Await(ctx, dev, result)
	if err != nil {
		return nil, fmt.Errorf("capsule: map output buffer: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("capsule: shader produced an empty output")
	}
	return out, nil
}

package gpu

import (
	"fmt"
)

// ShaderFunc is a fake compute "shader": given the full input buffer and a
// global invocation index, it computes that invocation's contribution to
// the output buffer. Fake uses this instead of compiling WGSL, standing in
// for the out-of-scope real shader compiler/executor.
type ShaderFunc func(in []byte, globalInvocationID uint32, out []byte)

// CompileError, if returned by a Compiler, is surfaced by Fake.CompileShader
// to exercise the shader-compile-failure task-level-failure path.
type CompileError struct {
	Source string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("gpu: fake shader compile error for source %q", e.Source)
}

// Compiler resolves WGSL-ish source text to a ShaderFunc. Fake's zero value
// has no compiler configured; use NewFake to supply one (typically a
// lookup by source string, for tests).
type Compiler func(source, entryPoint string) (ShaderFunc, error)

// Fake is an in-memory, synchronous Device used by tests and by peers that
// have no real GPU available (see cmd/peer's -fake-gpu flag). It performs
// no real compilation: Compiler maps capsule source text to a Go function
// invoked per logical invocation.
type Fake struct {
	MaxWorkgroupsPerDispatch uint32
	Compiler                 Compiler

	buffers map[*fakeBuffer]struct{}
}

type fakeBuffer struct {
	data []byte
}

type fakeShader struct {
	fn ShaderFunc
}

// NewFake constructs a Fake device with the given dispatch bound and
// shader compiler.
func NewFake(maxWorkgroupsPerDispatch uint32, compiler Compiler) *Fake {
	return &Fake{
		MaxWorkgroupsPerDispatch: maxWorkgroupsPerDispatch,
		Compiler:                 compiler,
		buffers:                  make(map[*fakeBuffer]struct{}),
	}
}

func (f *Fake) Limits() Limits {
	return Limits{MaxWorkgroupsPerDispatch: f.MaxWorkgroupsPerDispatch}
}

func (f *Fake) CompileShader(source, entryPoint string) (Shader, error) {
	if f.Compiler == nil {
		return nil, fmt.Errorf("gpu: fake device has no compiler configured")
	}
	fn, err := f.Compiler(source, entryPoint)
	if err != nil {
		return nil, err
	}
	return &fakeShader{fn: fn}, nil
}

func (f *Fake) AllocateBuffer(size int, initial []byte) (Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("gpu: negative buffer size %d", size)
	}
	buf := &fakeBuffer{data: make([]byte, size)}
	if initial != nil {
		if len(initial) != size {
			return nil, fmt.Errorf("gpu: initial data length %d does not match buffer size %d", len(initial), size)
		}
		copy(buf.data, initial)
	}
	f.buffers[buf] = struct{}{}
	return buf, nil
}

func (f *Fake) Dispatch(shader Shader, inBuf, outBuf Buffer, globalOffset uint32, workgroups uint32) error {
	sh, ok := shader.(*fakeShader)
	if !ok || sh.fn == nil {
		return fmt.Errorf("gpu: invalid shader handle")
	}
	in, ok := inBuf.(*fakeBuffer)
	if !ok {
		return fmt.Errorf("gpu: invalid input buffer handle")
	}
	out, ok := outBuf.(*fakeBuffer)
	if !ok {
		return fmt.Errorf("gpu: invalid output buffer handle")
	}
	for i := uint32(0); i < workgroups; i++ {
		sh.fn(in.data, globalOffset+i, out.data)
	}
	return nil
}

// BeginMapRead completes synchronously (there is no real async device
// behind Fake) but still returns via a channel. The result is already in
// the channel when BeginMapRead returns, so Await receives it on its first
// check without calling Poll, which is a no-op on Fake.
func (f *Fake) BeginMapRead(buf Buffer, size int) <-chan MapResult {
	ch := make(chan MapResult, 1)
	b, ok := buf.(*fakeBuffer)
	if !ok {
		ch <- MapResult{Err: fmt.Errorf("gpu: invalid buffer handle")}
		return ch
	}
	if len(b.data) != size {
		ch <- MapResult{Err: fmt.Errorf("gpu: buffer size %d does not match requested %d", len(b.data), size)}
		return ch
	}
	out := make([]byte, size)
	copy(out, b.data)
	ch <- MapResult{Data: out}
	return ch
}

func (f *Fake) Poll() {}

// Command peer runs a single fabric worker: it bootstraps against a
// tracker, serves peer-to-peer steal/deliver-result requests, and runs the
// work-stealing scheduler loop against a GPU device. Only the in-memory
// fake device is linked into this binary, so -fake-gpu is required.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/joeycumines/clustered/gpu"
	"github.com/joeycumines/clustered/logx"
	"github.com/joeycumines/clustered/peer"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	var (
		trackerAddr  = flag.String("tracker", "127.0.0.1:1337", "tracker control-plane address")
		fakeGPU      = flag.Bool("fake-gpu", false, "use an in-memory fake GPU device instead of real hardware")
		logLevelFlag = flag.String("log-level", "info", "minimum log level (emerg, alert, crit, err, warning, notice, info, debug, trace)")
	)
	flag.Parse()

	level, err := logx.ParseLevel(*logLevelFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logx.New(os.Stderr, level)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug().Str("msg", fmt.Sprintf(format, args...)).Log("peer: automaxprocs")
	})); err != nil {
		log.Notice().Err(err).Log("peer: automaxprocs set failed")
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9)); err != nil {
		log.Notice().Err(err).Log("peer: automemlimit set failed")
	}

	if !*fakeGPU {
		log.Emerg().Log("peer: no real GPU backend is linked into this binary; pass -fake-gpu, or build against a real gpu.Device implementation")
		os.Exit(2)
	}
	dev := gpu.NewFake(1<<16, identityCompiler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n := peer.New(log, dev, peer.DefaultConfig())

	log.Info().Str("tracker", *trackerAddr).Log("peer: starting")
	if err := n.Run(ctx, *trackerAddr); err != nil && ctx.Err() == nil {
		log.Emerg().Err(err).Log("peer: fatal error")
		os.Exit(1)
	}
}

// identityCompiler is a placeholder shader compiler for the fake GPU
// device: it copies input to output unchanged. Real shader programs are
// only meaningful against a real gpu.Device; this keeps -fake-gpu usable
// for exercising the fabric's scheduling and networking without one.
func identityCompiler(source, entryPoint string) (gpu.ShaderFunc, error) {
	return func(in []byte, globalInvocationID uint32, out []byte) {
		copy(out, in)
	}, nil
}

// Command capsubmit loads a capsule program from a JSON file and submits it
// to the fabric via an in-process peer node, printing the result bytes to
// stdout. It is an operational tool, not a shader-authoring tool: it only
// loads and submits an existing capsule file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/clustered/capsule"
	"github.com/joeycumines/clustered/gpu"
	"github.com/joeycumines/clustered/logx"
	"github.com/joeycumines/clustered/peer"
)

func main() {
	var (
		trackerAddr  = flag.String("tracker", "127.0.0.1:1337", "tracker control-plane address")
		capsulePath  = flag.String("capsule", "", "path to a capsule.Program JSON file (required)")
		fakeGPU      = flag.Bool("fake-gpu", false, "use an in-memory fake GPU device instead of real hardware")
		timeout      = flag.Duration("timeout", 30*time.Second, "how long to wait for the result before giving up")
		logLevelFlag = flag.String("log-level", "notice", "minimum log level (emerg, alert, crit, err, warning, notice, info, debug, trace)")
	)
	flag.Parse()

	if *capsulePath == "" {
		fmt.Fprintln(os.Stderr, "capsubmit: -capsule is required")
		os.Exit(2)
	}

	level, err := logx.ParseLevel(*logLevelFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logx.New(os.Stderr, level)

	program, err := loadProgram(*capsulePath)
	if err != nil {
		log.Emerg().Err(err).Log("capsubmit: load capsule failed")
		os.Exit(1)
	}

	if !*fakeGPU {
		log.Emerg().Log("capsubmit: no real GPU backend is linked into this binary; pass -fake-gpu, or build against a real gpu.Device implementation")
		os.Exit(2)
	}
	dev := gpu.NewFake(1<<16, func(source, entryPoint string) (gpu.ShaderFunc, error) {
		return func(in []byte, globalInvocationID uint32, out []byte) {
			copy(out, in)
		}, nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n := peer.New(log, dev, peer.DefaultConfig())
	if err := n.Bootstrap(ctx, *trackerAddr); err != nil {
		log.Emerg().Err(err).Log("capsubmit: bootstrap failed")
		os.Exit(1)
	}
	go func() {
		if err := n.Serve(ctx); err != nil && ctx.Err() == nil {
			log.Err().Err(err).Log("capsubmit: serve exited")
		}
	}()

	submitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	out, err := n.Submit(submitCtx, program)
	if err != nil {
		log.Emerg().Err(err).Log("capsubmit: submit failed")
		os.Exit(1)
	}

	if _, err := os.Stdout.Write(out); err != nil {
		log.Emerg().Err(err).Log("capsubmit: write result failed")
		os.Exit(1)
	}
}

func loadProgram(path string) (capsule.Program, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return capsule.Program{}, fmt.Errorf("capsubmit: read %s: %w", path, err)
	}
	var program capsule.Program
	if err := json.Unmarshal(b, &program); err != nil {
		return capsule.Program{}, fmt.Errorf("capsubmit: decode %s: %w", path, err)
	}
	if err := program.Validate(); err != nil {
		return capsule.Program{}, fmt.Errorf("capsubmit: %w", err)
	}
	return program, nil
}

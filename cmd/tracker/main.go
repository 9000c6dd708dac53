// Command tracker runs the fabric's central membership registry: it hands
// each connecting peer a unique (ip, p2p_port) identity and serves
// peer-list queries.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/joeycumines/clustered/logx"
	"github.com/joeycumines/clustered/tracker"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	var (
		listenAddr   = flag.String("listen", ":1337", "address to bind the tracker's control-plane listener")
		metricsAddr  = flag.String("metrics-addr", "", "optional address to serve a live peer-count endpoint (empty disables it)")
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
		log.Debug().Str("msg", fmt.Sprintf(format, args...)).Log("tracker: automaxprocs")
	})); err != nil {
		log.Notice().Err(err).Log("tracker: automaxprocs set failed")
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9)); err != nil {
		log.Notice().Err(err).Log("tracker: automemlimit set failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := tracker.New(log)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/peers/count", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "%d\n", t.PeerCount())
		})
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Notice().Err(err).Log("tracker: metrics server failed")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	log.Info().Str("listen", *listenAddr).Log("tracker: starting")
	if err := t.ListenAndServe(ctx, *listenAddr); err != nil && ctx.Err() == nil {
		log.Emerg().Err(err).Log("tracker: fatal error")
		os.Exit(1)
	}
}


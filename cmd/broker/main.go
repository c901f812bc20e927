// Command broker runs a standalone broker node (spec §4.5, §6.1).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/cosim-runtime/config"
	"github.com/signalsfoundry/cosim-runtime/core"
	"github.com/signalsfoundry/cosim-runtime/internal/logging"
	"github.com/signalsfoundry/cosim-runtime/internal/observability"
	"github.com/signalsfoundry/cosim-runtime/transport"
)

func main() {
	fs := flag.NewFlagSet("broker", flag.ExitOnError)
	resolve := config.FlagSet(fs)
	listenAddr := fs.String("listen", ":41611", "address this broker's transport listens on")
	parentAddr := fs.String("parent", "", "address of the parent broker; empty means this is the root")
	metricsAddr := fs.String("metrics-addr", ":9091", "HTTP address for Prometheus /metrics")
	fs.Parse(os.Args[1:])

	opts := config.FromEnv(resolve())
	log := logging.New(logging.Config{Level: logging.LevelFromInt(opts.ConsoleLogLevel), Format: "text"})
	ctx := context.Background()

	collector, err := observability.NewRuntimeCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(*metricsAddr, collector, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	isRoot := *parentAddr == ""
	nodeIndex := uint16(1)

	gt := transport.NewGRPCByteTransport(nodeIndex, log)
	broker := core.NewBrokerCore(nodeIndex, isRoot, func(m core.ActionMessage) {
		_ = gt.Send(context.Background(), m.DestID.NodeIndex(), m)
	}, log, opts)
	gt.SetReceiver(broker.AddActionMessage)

	if err := gt.Serve(*listenAddr); err != nil {
		log.Error(ctx, "failed to start transport", logging.String("error", err.Error()))
		os.Exit(1)
	}
	if !isRoot {
		if err := gt.DialParent(ctx, *parentAddr); err != nil {
			log.Error(ctx, "failed to dial parent broker", logging.String("addr", *parentAddr), logging.String("error", err.Error()))
			os.Exit(1)
		}
	}

	log.Info(ctx, "broker started", logging.String("identifier", opts.Name), logging.String("listen", *listenAddr), logging.Any("root", isRoot))

	runCtx, cancel := context.WithCancel(ctx)
	go broker.Run(runCtx)

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-stopCtx.Done()

	log.Info(ctx, "shutting down broker")
	cancel()
	_ = gt.Close()
}

func serveMetrics(addr string, collector *observability.RuntimeCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()
	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// Command core runs a standalone core node that hosts federates connecting
// over the in-process federate API and forwards their registration/time/value
// traffic to a parent broker (spec §4.5, §6.1).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/signalsfoundry/cosim-runtime/config"
	"github.com/signalsfoundry/cosim-runtime/core"
	"github.com/signalsfoundry/cosim-runtime/internal/logging"
	"github.com/signalsfoundry/cosim-runtime/transport"
)

func main() {
	fs := flag.NewFlagSet("core", flag.ExitOnError)
	resolve := config.FlagSet(fs)
	brokerAddr := fs.String("broker", "127.0.0.1:41611", "address of the broker this core registers with")
	fs.Parse(os.Args[1:])

	opts := config.FromEnv(resolve())
	log := logging.New(logging.Config{Level: logging.LevelFromInt(opts.ConsoleLogLevel), Format: "text"})
	ctx := context.Background()

	nodeIndex := uint16(1)
	gt := transport.NewGRPCByteTransport(nodeIndex, log)
	c := core.NewCoreBase(nodeIndex, func(m core.ActionMessage) {
		_ = gt.Send(context.Background(), m.DestID.NodeIndex(), m)
	}, log, opts)
	gt.SetReceiver(c.AddActionMessage)

	if err := gt.DialParent(ctx, *brokerAddr); err != nil {
		log.Error(ctx, "failed to dial broker", logging.String("addr", *brokerAddr), logging.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info(ctx, "core started", logging.String("identifier", opts.Name), logging.String("broker", *brokerAddr))

	runCtx, cancel := context.WithCancel(ctx)
	go c.Run(runCtx)

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-stopCtx.Done()

	log.Info(ctx, "shutting down core")
	cancel()
	_ = gt.Close()
}

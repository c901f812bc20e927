// Command federate-demo hosts two in-process federates on a single core and
// runs them through registration, publish/subscribe, and a paced time-advance
// loop (spec §4.6, §6.2). It runs entirely in-process against a CoreBase with
// no broker connection, useful for exercising the federate API without
// standing up a transport tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/signalsfoundry/cosim-runtime/clock"
	"github.com/signalsfoundry/cosim-runtime/config"
	"github.com/signalsfoundry/cosim-runtime/core"
	"github.com/signalsfoundry/cosim-runtime/federate"
	"github.com/signalsfoundry/cosim-runtime/internal/logging"
)

func main() {
	fs := flag.NewFlagSet("federate-demo", flag.ExitOnError)
	resolve := config.FlagSet(fs)
	steps := fs.Int("steps", 5, "number of time steps to advance")
	stepSize := fs.Float64("step-size", 1.0, "logical time advance per step")
	realtime := fs.Bool("realtime", false, "pace the loop to wall-clock time instead of running as fast as possible")
	fs.Parse(os.Args[1:])

	opts := config.FromEnv(resolve())
	log := logging.New(logging.Config{Level: logging.LevelFromInt(opts.ConsoleLogLevel), Format: "text"})
	ctx := context.Background()

	c := core.NewCoreBase(1, nil, log, opts)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.Run(runCtx)

	sender, err := federate.New(ctx, c, "sender")
	if err != nil {
		fatal(log, ctx, "register sender", err)
	}
	receiver, err := federate.New(ctx, c, "receiver")
	if err != nil {
		fatal(log, ctx, "register receiver", err)
	}

	pubID, err := sender.Values.RegisterPublication(ctx, "counter", true, "int", "", 0)
	if err != nil {
		fatal(log, ctx, "RegisterPublication", err)
	}
	inputID, err := receiver.Values.RegisterInput(ctx, "counter_in", "int", "", 0)
	if err != nil {
		fatal(log, ctx, "RegisterInput", err)
	}
	if err := receiver.Values.RegisterSubscription(inputID, "counter"); err != nil {
		fatal(log, ctx, "RegisterSubscription", err)
	}

	if err := sender.EnterInitializing(ctx); err != nil {
		fatal(log, ctx, "sender EnterInitializing", err)
	}
	if err := receiver.EnterInitializing(ctx); err != nil {
		fatal(log, ctx, "receiver EnterInitializing", err)
	}

	if err := sender.EnterExecuting(ctx); err != nil {
		fatal(log, ctx, "sender EnterExecuting", err)
	}
	if err := receiver.EnterExecuting(ctx); err != nil {
		fatal(log, ctx, "receiver EnterExecuting", err)
	}

	mode := clock.AsFastAsPossible
	if *realtime {
		mode = clock.RealTime
	}
	pacer := clock.NewPacer(mode, time.Duration(*stepSize*float64(time.Second)))

	t := core.LogicalTime(0)
	for i := 0; i < *steps; i++ {
		t += core.LogicalTime(*stepSize)

		granted, _, err := sender.RequestTime(ctx, t, false)
		if err != nil {
			fatal(log, ctx, "sender RequestTime", err)
		}
		if err := sender.Values.Publish(pubID, []byte(fmt.Sprintf("%d", i))); err != nil {
			fatal(log, ctx, "Publish", err)
		}

		if _, _, err := receiver.RequestTime(ctx, t, false); err != nil {
			fatal(log, ctx, "receiver RequestTime", err)
		}

		if receiver.Values.IsUpdated(inputID) {
			log.Info(ctx, "received value", logging.String("value", string(receiver.Values.GetValueRaw(inputID))), logging.Any("time", granted))
		}

		pacer.Wait()
	}

	if err := sender.Finalize(ctx); err != nil {
		fatal(log, ctx, "sender Finalize", err)
	}
	if err := receiver.Finalize(ctx); err != nil {
		fatal(log, ctx, "receiver Finalize", err)
	}
	log.Info(ctx, "demo complete")
}

func fatal(log logging.Logger, ctx context.Context, action string, err error) {
	log.Error(ctx, "demo failed", logging.String("action", action), logging.String("error", err.Error()))
	os.Exit(1)
}

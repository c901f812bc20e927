// Package config loads the broker/core option bag (spec §6.3) from
// command-line flags and environment variables.
package config

import (
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/cosim-runtime/core"
)

// FlagSet registers the standard broker/core option flags onto fs and
// returns a function that resolves them into a core.Options once fs.Parse
// has run. Name/Identifier auto-generates a UUID-based value when left
// blank, matching brokers/cores that are launched without an explicit name.
func FlagSet(fs *flag.FlagSet) func() core.Options {
	defaults := core.DefaultOptions()

	name := fs.String("identifier", "", "name of this broker/core (auto-generated if empty)")
	minFederates := fs.Int("federates", defaults.MinFederates, "minimum number of federates required before initialization completes")
	minBrokers := fs.Int("minbrokers", defaults.MinBrokers, "minimum number of child brokers required before initialization completes")
	maxIterations := fs.Int("maxiterations", defaults.MaxIterations, "maximum number of time-grant iteration rounds before a forced grant")
	tick := fs.Duration("tick", defaults.Tick, "stall-detection heartbeat period")
	timeout := fs.Duration("timeout", defaults.Timeout, "initialization timeout before INIT_TIMEOUT is emitted")
	logLevel := fs.Int("loglevel", 1, "overall log level (-1=error, 0=warn, 1=info, 2+=debug)")
	fileLogLevel := fs.Int("fileloglevel", -2, "file log level override; below -1 disables file logging")
	consoleLogLevel := fs.Int("consoleloglevel", -2, "console log level override; below -1 uses loglevel")
	logFile := fs.String("logfile", "", "path to a file log sink; empty disables file logging")
	dumpLog := fs.Bool("dumplog", false, "retain and emit every processed ActionMessage on termination")

	return func() core.Options {
		opts := core.Options{
			Name:            resolveName(*name),
			MinFederates:    *minFederates,
			MinBrokers:      *minBrokers,
			MaxIterations:   *maxIterations,
			Tick:            *tick,
			Timeout:         *timeout,
			LogLevel:        *logLevel,
			FileLogLevel:    *fileLogLevel,
			ConsoleLogLevel: *consoleLogLevel,
			LogFile:         *logFile,
			DumpLog:         *dumpLog,
		}
		if opts.FileLogLevel < -1 {
			opts.FileLogLevel = opts.LogLevel
		}
		if opts.ConsoleLogLevel < -1 {
			opts.ConsoleLogLevel = opts.LogLevel
		}
		return opts
	}
}

// FromEnv overlays environment variables onto an already-parsed Options,
// used by daemonized deployments that prefer env-based configuration over
// flags (COSIM_IDENTIFIER, COSIM_FEDERATES, COSIM_TICK, COSIM_TIMEOUT).
func FromEnv(opts core.Options) core.Options {
	if v := os.Getenv("COSIM_IDENTIFIER"); v != "" {
		opts.Name = v
	}
	if v := os.Getenv("COSIM_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			opts.Tick = d
		}
	}
	if v := os.Getenv("COSIM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			opts.Timeout = d
		}
	}
	opts.Name = resolveName(opts.Name)
	return opts
}

func resolveName(name string) string {
	if name != "" {
		return name
	}
	return uuid.NewString()
}

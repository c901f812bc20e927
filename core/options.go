package core

import "time"

// Options is the configuration option bag consumed by brokers and cores
// (spec §6.3). The `config` package is responsible for populating one of
// these from command-line flags and environment variables; `core` only
// depends on the resulting struct, not on how it was parsed.
type Options struct {
	// Name/Identifier: node identity; auto-generated if empty.
	Name string

	// MinFederates is the minimum number of federates a core/broker will
	// accept before leaving initialization (spec: federates/minfed).
	MinFederates int
	// MinBrokers is the minimum number of child brokers a broker requires
	// before leaving initialization (ignored by cores).
	MinBrokers int

	// MaxIterations bounds the time-grant iteration loop (spec §4.3).
	MaxIterations int

	// Tick is the stall-detection heartbeat period (spec §4.2).
	Tick time.Duration
	// Timeout bounds how long a broker waits for initial child
	// registration before emitting INIT_TIMEOUT (spec §5).
	Timeout time.Duration

	LogLevel        int
	FileLogLevel    int
	ConsoleLogLevel int
	LogFile         string

	// DumpLog retains every processed ActionMessage and emits it as a
	// trace on termination.
	DumpLog bool
}

// DefaultOptions returns the spec §6.3 default option bag.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 10,
		Tick:          4000 * time.Millisecond,
		Timeout:       20000 * time.Millisecond,
	}
}

// Package transport carries ActionMessages between nodes (spec §6.1). A
// Transport hides whether peers share a process (InProcessTransport) or are
// reached over the network (GRPCByteTransport) from the core package, which
// only ever calls Send and registers a receive callback.
package transport

import (
	"context"

	"github.com/signalsfoundry/cosim-runtime/core"
)

// Transport delivers ActionMessages to a specific node index and delivers
// inbound messages to a registered receiver.
type Transport interface {
	// Send delivers m to the node identified by destNode.
	Send(ctx context.Context, destNode uint16, m core.ActionMessage) error
	// SetReceiver installs the callback invoked for every inbound
	// ActionMessage addressed to this transport's own node.
	SetReceiver(fn func(core.ActionMessage))
	// Close releases any resources (listeners, connections) held by the
	// transport.
	Close() error
}

package ds

// Transport is the node-to-node message layer for trial dispatch. Sends are
// addressed by node id; received messages queue up until the owner pops them
// with Receive. Implementations must be safe for concurrent use.
type Transport[T any] interface {
	Listen() error

	Send(nodeID int, msg T) error

	Broadcast(msg T) error

	Multicast(nodeIDs []int, msg T) error

	// Receive pops the oldest queued message, non-blocking.
	Receive() (msg T, ok bool)

	Close() error
}

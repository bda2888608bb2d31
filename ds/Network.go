package ds

import (
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Network is the gob/TCP transport. Every message travels on a fresh
// connection: dial, encode, close. Incoming messages are decoded by the
// accept loop and queued under the mutex until Receive pops them.
type Network[T any] struct {
	nodeID int
	port   string
	table  map[int]string // nodeID -> host:port

	mu    sync.Mutex
	queue []T

	listener net.Listener
	done     chan struct{}
	closed   sync.Once
	wg       sync.WaitGroup
}

func (n *Network[T]) Initialize(nodeID int, port string, table map[int]string) {
	n.nodeID = nodeID
	n.port = port
	n.table = table
	n.done = make(chan struct{})
}

// Listen starts accepting on the port given to Initialize.
func (n *Network[T]) Listen() error {
	return n.ListenOnPort(n.port)
}

func (n *Network[T]) ListenOnPort(port string) error {
	listener, err := net.Listen("tcp", port)
	if err != nil {
		return fmt.Errorf("node %d: opening port %s: %w", n.nodeID, port, err)
	}
	n.listener = listener
	n.wg.Add(1)
	go n.acceptLoop(listener)
	return nil
}

func (n *Network[T]) acceptLoop(listener net.Listener) {
	defer n.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-n.done:
				return
			default:
				// transient accept failure, keep serving
				continue
			}
		}
		go n.handleConnection(conn)
	}
}

// handleConnection decodes one message and queues it. Well-formedness beyond
// gob decoding is the consumer's problem; undecodable payloads are dropped.
func (n *Network[T]) handleConnection(conn net.Conn) {
	defer conn.Close()
	var msg T
	if err := gob.NewDecoder(conn).Decode(&msg); err != nil {
		return
	}
	n.mu.Lock()
	n.queue = append(n.queue, msg)
	n.mu.Unlock()
}

// Send dials the target and encodes the message over the fresh connection.
// Dial failures are retried with exponential backoff, so a worker that is
// still coming up does not immediately fail the trial addressed to it.
func (n *Network[T]) Send(nodeID int, msg T) error {
	address, ok := n.table[nodeID]
	if !ok {
		return fmt.Errorf("node %d: no address for node %d", n.nodeID, nodeID)
	}

	var conn net.Conn
	dial := func() error {
		var err error
		conn, err = net.Dial("tcp", address)
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(dial, backoff.WithMaxRetries(policy, 5)); err != nil {
		return fmt.Errorf("node %d: dialing node %d at %s: %w", n.nodeID, nodeID, address, err)
	}
	defer conn.Close()

	if err := gob.NewEncoder(conn).Encode(&msg); err != nil {
		return fmt.Errorf("node %d: encoding to node %d: %w", n.nodeID, nodeID, err)
	}
	return nil
}

// Broadcast sends to every node in the table, self included when mapped.
func (n *Network[T]) Broadcast(msg T) error {
	for nodeID := range n.table {
		if err := n.Send(nodeID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (n *Network[T]) Multicast(nodeIDs []int, msg T) error {
	for _, nodeID := range nodeIDs {
		if err := n.Send(nodeID, msg); err != nil {
			return err
		}
	}
	return nil
}

// Receive pops the oldest queued message, non-blocking.
func (n *Network[T]) Receive() (msg T, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 {
		var zero T
		return zero, false
	}
	msg = n.queue[0]
	n.queue = n.queue[1:]
	return msg, true
}

// Close stops the accept loop and releases the port. Safe to call more than
// once; queued messages stay poppable.
func (n *Network[T]) Close() error {
	var err error
	n.closed.Do(func() {
		if n.done != nil {
			close(n.done)
		}
		if n.listener != nil {
			err = n.listener.Close()
			n.wg.Wait()
		}
	})
	return err
}

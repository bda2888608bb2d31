package ds

import (
	"fmt"
	"sync"
)

// DumbNetwork is an in-process hub with one queue per registered node. It
// backs single-process wiring and tests where real sockets would only add
// ports to leak.
type DumbNetwork[T any] struct {
	mu     sync.Mutex
	queues map[int][]T
}

func MakeDumbNetwork[T any]() *DumbNetwork[T] {
	return &DumbNetwork[T]{queues: make(map[int][]T)}
}

// Node registers id with the hub and returns its transport endpoint.
func (d *DumbNetwork[T]) Node(id int) *DumbNode[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.queues[id]; !ok {
		d.queues[id] = nil
	}
	return &DumbNode[T]{hub: d, id: id}
}

func (d *DumbNetwork[T]) push(id int, msg T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.queues[id]; !ok {
		return fmt.Errorf("no node %d on the hub", id)
	}
	d.queues[id] = append(d.queues[id], msg)
	return nil
}

func (d *DumbNetwork[T]) pop(id int) (msg T, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[id]
	if len(q) == 0 {
		var zero T
		return zero, false
	}
	msg = q[0]
	d.queues[id] = q[1:]
	return msg, true
}

func (d *DumbNetwork[T]) ids() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, 0, len(d.queues))
	for id := range d.queues {
		out = append(out, id)
	}
	return out
}

// DumbNode is one endpoint on the hub.
type DumbNode[T any] struct {
	hub *DumbNetwork[T]
	id  int
}

func (n *DumbNode[T]) Listen() error { return nil }

func (n *DumbNode[T]) Send(nodeID int, msg T) error {
	return n.hub.push(nodeID, msg)
}

func (n *DumbNode[T]) Broadcast(msg T) error {
	for _, id := range n.hub.ids() {
		if err := n.hub.push(id, msg); err != nil {
			return err
		}
	}
	return nil
}

func (n *DumbNode[T]) Multicast(nodeIDs []int, msg T) error {
	for _, id := range nodeIDs {
		if err := n.hub.push(id, msg); err != nil {
			return err
		}
	}
	return nil
}

func (n *DumbNode[T]) Receive() (msg T, ok bool) {
	return n.hub.pop(n.id)
}

func (n *DumbNode[T]) Close() error { return nil }

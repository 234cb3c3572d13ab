// Package snowflake generates time-ordered int64 ids for messages and
// notifications. Ids from one node are strictly increasing.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

var ErrInvalidNode = errors.New("node number must be between 0 and 1023")

// Node issues ids for one gateway process. Each process of a deployment needs
// its own node number, otherwise ids can collide. A Node is safe for
// concurrent use.
type Node struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrInvalidNode
	}
	return &Node{node: node, now: time.Now}, nil
}

// Generate returns the next id. Up to 4096 ids fit in one millisecond; past
// that it waits for the clock. A clock that moves backwards is ignored and
// ids keep growing from the last millisecond seen.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := max(n.now().UnixMilli(), n.last)
	switch {
	case ms > n.last:
		n.step = 0
	case n.step < stepMask:
		n.step++
	default:
		ms = n.waitAfter(n.last)
		n.step = 0
	}
	n.last = ms
	return compose(ms, n.node, n.step)
}

// waitAfter spins until the clock passes ms.
func (n *Node) waitAfter(ms int64) int64 {
	for {
		if now := n.now().UnixMilli(); now > ms {
			return now
		}
	}
}

func compose(ms, node, step int64) int64 {
	return (ms-epoch)<<timeShift | node<<nodeShift | step
}

// Time returns the millisecond the id was generated in.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch).UTC()
}

// NodeOf returns the node number embedded in id.
func NodeOf(id int64) int64 {
	return (id >> nodeShift) & nodeMax
}

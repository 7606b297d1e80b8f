package transport

import (
	"context"
	"fmt"
	"sync"
)

// Queue capacities. Each queue has exactly one producer-consumer pairing.
const (
	AgentQueueCap      = 100
	InterruptQueueCap  = 10
	PermissionQueueCap = 20
	OutboundQueueCap   = 100
)

// QueueSet holds the four bounded queues of one connection. The three inbound
// queues are fed only by the router, which closes them exactly once on
// disconnect; channel close is the end-of-stream sentinel for consumers. The
// outbound queue has several producers (worker, heartbeat, interrupt handler)
// and is drained only by the sender; it is never closed, the sender stops on
// context cancellation.
type QueueSet struct {
	Agent       chan *Inbound
	Interrupts  chan *Inbound
	Permissions chan *Inbound
	Outbound    chan []byte

	closeOnce sync.Once
}

func NewQueueSet() *QueueSet {
	return &QueueSet{
		Agent:       make(chan *Inbound, AgentQueueCap),
		Interrupts:  make(chan *Inbound, InterruptQueueCap),
		Permissions: make(chan *Inbound, PermissionQueueCap),
		Outbound:    make(chan []byte, OutboundQueueCap),
	}
}

// CloseInbound propagates end-of-stream to every inbound consumer exactly
// once. Safe to call multiple times.
func (q *QueueSet) CloseInbound() {
	q.closeOnce.Do(func() {
		close(q.Agent)
		close(q.Interrupts)
		close(q.Permissions)
	})
}

// EnqueueOutbound blocks until the message is queued or ctx is cancelled.
func (q *QueueSet) EnqueueOutbound(ctx context.Context, msg []byte) error {
	select {
	case q.Outbound <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transport.QueueSet.EnqueueOutbound: %w", ctx.Err())
	}
}

// TryEnqueueOutbound queues the message if there is room, reporting whether
// it was accepted. Used by producers that must never block, like the
// heartbeat.
func (q *QueueSet) TryEnqueueOutbound(msg []byte) bool {
	select {
	case q.Outbound <- msg:
		return true
	default:
		return false
	}
}

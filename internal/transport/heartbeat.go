package transport

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultHeartbeatInterval is the default liveness probe period.
const DefaultHeartbeatInterval = 15 * time.Second

// Heartbeat enqueues a ping on a fixed interval, independent of all other
// traffic. A full outbound queue is logged and skipped; the next tick tries
// again rather than blocking.
type Heartbeat struct {
	queues   *QueueSet
	interval time.Duration
}

func NewHeartbeat(queues *QueueSet, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{queues: queues, interval: interval}
}

// Run probes until ctx is cancelled; its lifetime is tied only to connection
// teardown.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if !h.queues.TryEnqueueOutbound(PingFrame(now.UTC())) {
				log.Warn().Msg("transport: outbound queue full, skipping heartbeat")
			}
		}
	}
}

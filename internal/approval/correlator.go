// Package approval matches outstanding tool-approval requests to their
// eventual decisions by request id. Decisions may arrive from any connection,
// not just the one that issued the request, so the correlator is process-wide
// and keyed purely by id.
package approval

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/triagehq/triage/internal/agent"
)

// DefaultTimeout is how long an approval request waits before resolving as a
// denial.
const DefaultTimeout = 300 * time.Second

// DefaultSweepInterval is how often the correlator sweeps for orphaned
// entries that outlived the timeout without an explicit decision.
const DefaultSweepInterval = 60 * time.Second

// TimeoutReason is the reason attached to decisions produced by timeout or
// sweep rather than an explicit SubmitDecision call.
const TimeoutReason = "timeout"

type pending struct {
	sessionID string
	toolName  string
	createdAt time.Time

	once sync.Once
	done chan agent.Decision
}

// resolve delivers a decision at most once. Returns whether this call won.
func (p *pending) resolve(d agent.Decision) bool {
	won := false
	p.once.Do(func() {
		p.done <- d
		close(p.done)
		won = true
	})
	return won
}

// Correlator tracks pending approvals and routes decisions to the goroutines
// waiting on them.
type Correlator struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pending
}

func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		timeout: timeout,
		pending: make(map[string]*pending),
	}
}

// RequestApproval registers a pending approval and suspends the caller until
// a matching decision arrives, the timeout elapses (resolved as a denial with
// TimeoutReason), or ctx is cancelled.
func (c *Correlator) RequestApproval(ctx context.Context, id, sessionID, toolName string, input json.RawMessage) (agent.Decision, error) {
	_ = input // carried for audit logging only; the correlator never inspects tool arguments

	entry := &pending{
		sessionID: sessionID,
		toolName:  toolName,
		createdAt: time.Now(),
		done:      make(chan agent.Decision, 1),
	}

	c.mu.Lock()
	c.pending[id] = entry
	c.mu.Unlock()

	log.Debug().
		Str("approval_id", id).
		Str("session_id", sessionID).
		Str("tool_name", toolName).
		Msg("approval: pending")

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case decision := <-entry.done:
		c.remove(id)
		return decision, nil

	case <-timer.C:
		c.remove(id)
		denial := agent.Decision{Approved: false, Reason: TimeoutReason}
		if entry.resolve(denial) {
			log.Warn().
				Str("approval_id", id).
				Str("session_id", sessionID).
				Str("tool_name", toolName).
				Msg("approval: timed out, auto-denied")
			return denial, nil
		}
		// A decision raced the timer; prefer it.
		return <-entry.done, nil

	case <-ctx.Done():
		c.remove(id)
		entry.resolve(agent.Decision{Approved: false, Reason: "cancelled"})
		return agent.Decision{}, ctx.Err()
	}
}

// SubmitDecision resolves a pending approval. It reports whether the
// resolution took effect: false for unknown ids and for entries already
// resolved or expired. It never panics regardless of input.
func (c *Correlator) SubmitDecision(id string, approved bool, reason string) bool {
	c.mu.Lock()
	entry, ok := c.pending[id]
	c.mu.Unlock()

	if !ok {
		return false
	}

	if !entry.resolve(agent.Decision{Approved: approved, Reason: reason}) {
		return false
	}

	log.Info().
		Str("approval_id", id).
		Str("session_id", entry.sessionID).
		Bool("approved", approved).
		Msg("approval: decision submitted")

	return true
}

// PendingCount returns the number of unresolved approvals.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// RunSweeper auto-denies entries older than the timeout until ctx is
// cancelled. This defends against responses lost in transit: the waiting
// goroutine normally times out on its own, so the sweep mostly clears
// entries whose waiter has already gone away.
func (c *Correlator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepOnce(time.Now())
		}
	}
}

func (c *Correlator) sweepOnce(now time.Time) {
	cutoff := now.Add(-c.timeout)

	c.mu.Lock()
	var expired []*pending
	var ids []string
	for id, entry := range c.pending {
		if entry.createdAt.Before(cutoff) {
			expired = append(expired, entry)
			ids = append(ids, id)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for i, entry := range expired {
		if entry.resolve(agent.Decision{Approved: false, Reason: TimeoutReason}) {
			log.Warn().
				Str("approval_id", ids[i]).
				Str("session_id", entry.sessionID).
				Msg("approval: swept orphaned entry")
		}
	}
}

func (c *Correlator) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

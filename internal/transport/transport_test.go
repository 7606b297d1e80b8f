package transport_test

import (
	"context"
	"io"
	"sync"

	"github.com/triagehq/triage/internal/transport"
)

// fakeConn is an in-memory transport.Conn. Frames pushed into in are served
// by Read; closing in makes Read report a disconnect. Writes are recorded
// unless writeErr is set.
type fakeConn struct {
	in chan []byte

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64)}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	c.written = append(c.written, frame)
	return nil
}

func (c *fakeConn) writtenFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := make([][]byte, len(c.written))
	copy(frames, c.written)
	return frames
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// stubCanceller records cancellation requests.
type stubCanceller struct {
	mu  sync.Mutex
	ids []string
}

func (s *stubCanceller) RequestCancel(sessionID string) {
	s.mu.Lock()
	s.ids = append(s.ids, sessionID)
	s.mu.Unlock()
}

func (s *stubCanceller) cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.ids))
	copy(ids, s.ids)
	return ids
}

// stubDecisionSink records submitted decisions.
type submittedDecision struct {
	id       string
	approved bool
	reason   string
}

type stubDecisionSink struct {
	mu        sync.Mutex
	accept    bool
	submitted []submittedDecision
}

func (s *stubDecisionSink) SubmitDecision(id string, approved bool, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, submittedDecision{id: id, approved: approved, reason: reason})
	return s.accept
}

func (s *stubDecisionSink) decisions() []submittedDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]submittedDecision, len(s.submitted))
	copy(out, s.submitted)
	return out
}

// drainInbound collects everything buffered on a queue without blocking.
func drainInbound(ch chan *transport.Inbound) []*transport.Inbound {
	var out []*transport.Inbound
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

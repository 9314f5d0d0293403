package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/exec"
	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

const (
	outboxBatchSize = 64
	outboxDepth     = 8
)

// batch is the unit moved across one exchange channel; FIFO by Seq.
type batch struct {
	Seq  uint64
	Rows []*schema.RowMessage
	Eos  bool
	Err  string
}

// Outbox is the producer side of one exchange edge, registered on the
// producing node and pulled by the consumer.  The bounded batch queue
// is the backpressure: a slow consumer stalls the producer's pipeline
// instead of buffering unboundedly.
type Outbox struct {
	jobId  plan.Id
	edgeId plan.Id
	ch     chan *batch

	mu      sync.Mutex
	pending []*schema.RowMessage
	seq     uint64
	closed  bool

	failOnce sync.Once
	failedCh chan struct{}
	failErr  error

	touchMu   sync.Mutex
	lastTouch time.Time
}

var _ exec.MessageSink = (*Outbox)(nil)

func newOutbox(jobId, edgeId plan.Id) *Outbox {
	return &Outbox{
		jobId:     jobId,
		edgeId:    edgeId,
		ch:        make(chan *batch, outboxDepth),
		failedCh:  make(chan struct{}),
		lastTouch: time.Now(),
	}
}

func (m *Outbox) touch() {
	m.touchMu.Lock()
	m.lastTouch = time.Now()
	m.touchMu.Unlock()
}

func (m *Outbox) idleSince() time.Time {
	m.touchMu.Lock()
	defer m.touchMu.Unlock()
	return m.lastTouch
}

// Send buffers a row, flushing a full batch into the queue.
func (m *Outbox) Send(ctx context.Context, msg schema.Message) error {
	rm, ok := msg.Body().(*schema.RowMessage)
	if !ok {
		u.Warnf("outbox %s dropping message type %T", m.edgeId, msg.Body())
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("outbox %s already closed", m.edgeId)
	}
	m.pending = append(m.pending, rm)
	if len(m.pending) >= outboxBatchSize {
		return m.flushLocked(ctx, false, nil)
	}
	return nil
}

// CloseSend flushes what is pending and appends the terminal batch:
// clean end-of-stream, or the error the consumer must observe.
func (m *Outbox) CloseSend(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err == nil && len(m.pending) > 0 {
		if ferr := m.flushLocked(ctx, false, nil); ferr != nil {
			return ferr
		}
	}
	return m.flushLocked(ctx, err == nil, err)
}

func (m *Outbox) flushLocked(ctx context.Context, eos bool, err error) error {
	b := &batch{Seq: m.seq, Rows: m.pending, Eos: eos}
	if err != nil {
		b.Err = err.Error()
		b.Rows = nil
	}
	m.seq++
	m.pending = nil
	select {
	case m.ch <- b:
		return nil
	case <-m.failedCh:
		return m.failErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get pops the next batch, blocking until one is available, the
// channel fails, or ctx expires (long-poll timeout: nil, nil).
func (m *Outbox) Get(ctx context.Context) (*batch, error) {
	m.touch()
	select {
	case b := <-m.ch:
		m.touch()
		return b, nil
	case <-m.failedCh:
		return nil, m.failErr
	case <-ctx.Done():
		return nil, nil
	}
}

// fail terminates the channel out-of-band (stop-task, ttl expiry);
// producer and consumer both unblock with err.
func (m *Outbox) fail(err error) {
	m.failOnce.Do(func() {
		m.failErr = err
		close(m.failedCh)
	})
}

// Package exec runs physical jobs: it attaches behavior to operator
// graphs, dispatches remote tasks, and drives the pull iterator the
// statement layer consumes.
package exec

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/schema"
)

var (
	// Standard errors
	ErrShuttingDown = fmt.Errorf("received shutdown signal")
	ErrJobClosed    = fmt.Errorf("job closed")
	ErrJobNotFound  = fmt.Errorf("job not found")
	ErrDuplicateJob = fmt.Errorf("duplicate job id")
	ErrExchange     = fmt.Errorf("exchange channel broken")
	ErrBadFetch     = fmt.Errorf("fetch offset out of sequence")
	ErrStmtBusy     = fmt.Errorf("statement already executing")
)

const ItemDefaultChannelSize = 50

type (
	// Task channel types
	SigChan     chan bool
	ErrChan     chan error
	MessageChan chan schema.Message
	// Handle/Forward a message for this Task
	MessageHandler func(msg schema.Message) bool
)

type (
	// Task is the runnable unit in a dag of tasks for a job.
	Task interface {
		Run() error
		Close() error
	}

	// TaskRunner is a single stage in the dag of stages necessary to
	// execute a Job; wired to its neighbors by message channels.
	TaskRunner interface {
		Task
		Type() string
		MessageIn() MessageChan
		MessageOut() MessageChan
		MessageInSet(MessageChan)
		MessageOutSet(MessageChan)
		ErrChan() ErrChan
		SigChan() SigChan
	}
)

// ErrMessage propagates a terminal error in-band through the dataflow
// so ordering against already-delivered rows is preserved.
type ErrMessage struct {
	Err error
}

func (m *ErrMessage) Id() uint64        { return 0 }
func (m *ErrMessage) Body() interface{} { return m.Err }

type (
	// MessageSource is one side of an exchange channel: a pull stream
	// of messages from a (possibly remote) producer.  Next returns
	// io.EOF on a clean end-of-stream; a broken channel surfaces as an
	// error wrapping ErrExchange.
	MessageSource interface {
		Next(ctx context.Context) (schema.Message, error)
		Close() error
	}

	// MessageSink is the producer side of an exchange channel; Send
	// blocks when the consumer is slow (bounded buffering).
	MessageSink interface {
		Send(ctx context.Context, msg schema.Message) error
		// CloseSend ends the stream; a non-nil err is delivered to the
		// consumer as a terminal exchange failure.
		CloseSend(err error) error
	}

	// Outboxes registers producer-side exchange buffers on this node.
	Outboxes interface {
		OpenSink(jobId, edgeId plan.Id) (MessageSink, error)
	}

	// Dialer is the inter-node task protocol: start/stop tasks at a
	// location and open exchange sources.  Implementations route
	// in-process when the location is the local node.
	Dialer interface {
		StartTask(ctx context.Context, loc schema.Location, req *StartTaskRequest) error
		StopTask(ctx context.Context, loc schema.Location, jobId, taskId plan.Id) error
		OpenSource(loc schema.Location, jobId, edgeId plan.Id) MessageSource
	}
)

// StartTaskRequest is the wire payload dispatching one task to its
// location: the task definition, the edges it touches, bound params.
type StartTaskRequest struct {
	JobId  plan.Id        `json:"jobId"`
	Task   *plan.Task     `json:"task"`
	Edges  []*plan.Output `json:"edges"`
	Params []driver.Value `json:"params,omitempty"`
}

type errList []error

func (e *errList) append(err error) { *e = append(*e, err) }
func (e errList) error() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
func (e errList) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d errors, first: %v", len(e), e[0])
}

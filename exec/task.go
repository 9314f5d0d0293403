package exec

import (
	"fmt"
	"sync"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// TaskBase is the default stage implementation: a message loop pulling
// from MessageIn, applying Handler, until input close, quit signal, or
// error.  Stages with buffering semantics (sort, groupby, join) embed
// it and replace Run.
type TaskBase struct {
	TaskType string
	Handler  MessageHandler
	msgInCh  MessageChan
	msgOutCh MessageChan
	errCh    ErrChan
	sigCh    SigChan // notify of quit/stop
	quitOnce sync.Once
}

func NewTaskBase(taskType string) *TaskBase {
	return &TaskBase{
		msgOutCh: make(MessageChan, ItemDefaultChannelSize),
		sigCh:    make(SigChan, 1),
		errCh:    make(ErrChan, 10),
		TaskType: taskType,
	}
}

func (m *TaskBase) Children() []Task             { return nil }
func (m *TaskBase) MessageIn() MessageChan       { return m.msgInCh }
func (m *TaskBase) MessageOut() MessageChan      { return m.msgOutCh }
func (m *TaskBase) MessageInSet(ch MessageChan)  { m.msgInCh = ch }
func (m *TaskBase) MessageOutSet(ch MessageChan) { m.msgOutCh = ch }
func (m *TaskBase) ErrChan() ErrChan             { return m.errCh }
func (m *TaskBase) SigChan() SigChan             { return m.sigCh }
func (m *TaskBase) Type() string                 { return m.TaskType }

// Quit signals the stage to stop; safe to call more than once and from
// any goroutine.
func (m *TaskBase) Quit() {
	m.quitOnce.Do(func() { close(m.sigCh) })
}

func (m *TaskBase) Close() error {
	m.Quit()
	return nil
}

// forward sends downstream unless we are quitting.
func (m *TaskBase) forward(msg schema.Message) bool {
	select {
	case m.msgOutCh <- msg:
		return true
	case <-m.sigCh:
		return false
	}
}

func (m *TaskBase) Run() error {
	defer func() {
		close(m.msgOutCh) // closing output channels is the signal to stop
	}()

	if m.Handler == nil {
		return fmt.Errorf("must have a handler to run base task %q", m.TaskType)
	}
	ok := true
	var err error
	var msg schema.Message
msgLoop:
	for ok {
		select {
		case err = <-m.errCh:
			break msgLoop
		case <-m.sigCh:
			break msgLoop
		default:
		}

		select {
		case msg, ok = <-m.msgInCh:
			if !ok {
				break msgLoop
			}
			if em, isErr := msg.(*ErrMessage); isErr {
				// terminal error flows in-band, forward & stop
				m.forward(em)
				err = em.Err
				break msgLoop
			}
			ok = m.Handler(msg)
		case <-m.sigCh:
			break msgLoop
		}
	}

	return err
}

// drainInput collects an entire input stream for buffering stages.
// Returns what was collected plus the in-band error, if any.
func drainInput(in MessageChan, sig SigChan) ([]*schema.RowMessage, error) {
	rows := make([]*schema.RowMessage, 0, 64)
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return rows, nil
			}
			if em, isErr := msg.(*ErrMessage); isErr {
				return rows, em.Err
			}
			if rm, isRow := msg.Body().(*schema.RowMessage); isRow {
				rows = append(rows, rm)
			} else {
				u.Warnf("unexpected message type: %T", msg.Body())
			}
		case <-sig:
			return rows, ErrShuttingDown
		}
	}
}

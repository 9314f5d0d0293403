package exec

import (
	"database/sql/driver"
	"io"
	"sync"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/schema"
)

var (
	_ = u.EMPTY

	// ensure our reader implements database/sql driver rows
	_ driver.Rows = (*ResultReader)(nil)
)

// ResultReader is the client-facing end of a job: a forward-only,
// non-restartable pull iterator over the root task's output, in
// database/sql driver.Rows form.
type ResultReader struct {
	*TaskBase
	cols      []string
	closeOnce sync.Once
	closer    func()
}

func NewResultReader(cols []string) *ResultReader {
	return &ResultReader{TaskBase: NewTaskBase("ResultReader"), cols: cols}
}

func (m *ResultReader) Columns() []string { return m.cols }

// OnClose registers the teardown hook run exactly once when the reader
// closes (job deregistration + remote task destruction).
func (m *ResultReader) OnClose(fn func()) { m.closer = fn }

// Next pulls the next row; io.EOF on clean end of stream, ErrJobClosed
// once the owning statement is closed, and any in-band terminal error
// (exchange failure, eval failure) as-is.
func (m *ResultReader) Next(dest []driver.Value) error {
	select {
	case <-m.SigChan():
		return ErrJobClosed
	case err := <-m.ErrChan():
		return err
	case msg, ok := <-m.MessageIn():
		if !ok {
			// channel closed; a late error beats the EOF
			select {
			case err := <-m.ErrChan():
				return err
			default:
			}
			return io.EOF
		}
		if em, isErr := msg.(*ErrMessage); isErr {
			return em.Err
		}
		rm, isRow := msg.Body().(*schema.RowMessage)
		if !isRow {
			u.Warnf("unexpected result message type: %T", msg.Body())
			return m.Next(dest)
		}
		for i, col := range m.cols {
			v, _ := rm.Get(col)
			dest[i] = v
		}
		return nil
	}
}

func (m *ResultReader) Close() error {
	m.closeOnce.Do(func() {
		m.Quit()
		if m.closer != nil {
			m.closer()
		}
	})
	return nil
}

// ResultBuffer collects messages in-memory, handy in tests.
type ResultBuffer struct {
	*TaskBase
}

func NewResultBuffer(writeTo *[]*schema.RowMessage) *ResultBuffer {
	m := &ResultBuffer{TaskBase: NewTaskBase("ResultBuffer")}
	m.Handler = func(msg schema.Message) bool {
		if rm, ok := msg.Body().(*schema.RowMessage); ok {
			*writeTo = append(*writeTo, rm)
		}
		return true
	}
	return m
}

package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/exec"
	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/schema"
)

var (
	_ exec.Dialer = (*Client)(nil)

	_ exec.MessageSource = (*localSource)(nil)
	_ exec.MessageSource = (*httpSource)(nil)
)

// Client dials other nodes' task and exchange endpoints.  Calls whose
// target location is this node's own address short-circuit in-process,
// so callers never special-case local vs remote.
type Client struct {
	local *Server
	hc    *http.Client
}

func NewClient(local *Server) *Client {
	return &Client{
		local: local,
		hc:    &http.Client{Timeout: longPollWait + 20*time.Second},
	}
}

func (m *Client) loopback(loc schema.Location) bool {
	return m.local != nil && loc.Addr == m.local.loc.Addr
}

func (m *Client) StartTask(ctx context.Context, loc schema.Location, req *exec.StartTaskRequest) error {
	if m.loopback(loc) {
		return m.local.StartTaskLocal(req)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s/v1/task/start", loc.Addr)
	hreq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := m.hc.Do(hreq)
	if err != nil {
		return fmt.Errorf("start task %s at %s: %w", req.Task.Id, loc, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("start task %s at %s: %s", req.Task.Id, loc, bytes.TrimSpace(msg))
	}
	return nil
}

func (m *Client) StopTask(ctx context.Context, loc schema.Location, jobId, taskId plan.Id) error {
	if m.loopback(loc) {
		return m.local.StopTaskLocal(jobId, taskId)
	}
	url := fmt.Sprintf("http://%s/v1/task/stop/%s/%s", loc.Addr, jobId, taskId)
	hreq, err := http.NewRequestWithContext(ctx, "POST", url, nil)
	if err != nil {
		return err
	}
	resp, err := m.hc.Do(hreq)
	if err != nil {
		return fmt.Errorf("stop task %s at %s: %w", taskId, loc, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("stop task %s at %s: %s", taskId, loc, bytes.TrimSpace(msg))
	}
	return nil
}

func (m *Client) OpenSource(loc schema.Location, jobId, edgeId plan.Id) exec.MessageSource {
	if m.loopback(loc) {
		return &localSource{ob: m.local.outbox(jobId, edgeId)}
	}
	return &httpSource{hc: m.hc, loc: loc, jobId: jobId, edgeId: edgeId}
}

// localSource reads an outbox on this node directly, no wire hop.
type localSource struct {
	ob    *Outbox
	queue []*schema.RowMessage
	done  bool
	err   error
}

func (m *localSource) Next(ctx context.Context) (schema.Message, error) {
	for {
		if len(m.queue) > 0 {
			msg := m.queue[0]
			m.queue = m.queue[1:]
			return msg, nil
		}
		if m.err != nil {
			return nil, m.err
		}
		if m.done {
			return nil, io.EOF
		}
		b, err := m.ob.Get(ctx)
		if err != nil {
			m.err = fmt.Errorf("%w: %v", exec.ErrExchange, err)
			return nil, m.err
		}
		if b == nil {
			// Get only returns nil,nil when ctx expired
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}
		m.queue = b.Rows
		if b.Err != "" {
			m.err = fmt.Errorf("%w: %s", exec.ErrExchange, b.Err)
		}
		m.done = m.done || b.Eos
	}
}

func (m *localSource) Close() error { return nil }

// httpSource pulls batches from a remote outbox by sequence number.
// Any transport failure is terminal: exchange channels do not retry,
// a broken channel fails the job.
type httpSource struct {
	hc     *http.Client
	loc    schema.Location
	jobId  plan.Id
	edgeId plan.Id
	seq    uint64
	queue  []*schema.RowMessage
	done   bool
	err    error
}

func (m *httpSource) Next(ctx context.Context) (schema.Message, error) {
	for {
		if len(m.queue) > 0 {
			msg := m.queue[0]
			m.queue = m.queue[1:]
			return msg, nil
		}
		if m.err != nil {
			return nil, m.err
		}
		if m.done {
			return nil, io.EOF
		}
		wb, err := m.pull(ctx)
		if err != nil {
			m.err = err
			return nil, m.err
		}
		if wb == nil {
			// long-poll timeout, re-poll same seq
			continue
		}
		m.seq++
		m.queue = fromWire(wb)
		if wb.Err != "" {
			m.err = fmt.Errorf("%w: %s", exec.ErrExchange, wb.Err)
		}
		m.done = m.done || wb.Eos
	}
}

func (m *httpSource) pull(ctx context.Context) (*wireBatch, error) {
	url := fmt.Sprintf("http://%s/v1/exchange/%s/%s/%d", m.loc.Addr, m.jobId, m.edgeId, m.seq)
	hreq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.hc.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: pull %s from %s: %v", exec.ErrExchange, m.edgeId, m.loc, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		var wb wireBatch
		if err := json.NewDecoder(resp.Body).Decode(&wb); err != nil {
			return nil, fmt.Errorf("%w: decode batch from %s: %v", exec.ErrExchange, m.loc, err)
		}
		if wb.Seq != m.seq {
			return nil, fmt.Errorf("%w: edge %s out of sequence, have %d want %d", exec.ErrExchange, m.edgeId, wb.Seq, m.seq)
		}
		return &wb, nil
	case http.StatusNoContent:
		return nil, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		u.Debugf("exchange pull %s seq %d from %s: %d %s", m.edgeId, m.seq, m.loc, resp.StatusCode, bytes.TrimSpace(msg))
		return nil, fmt.Errorf("%w: pull %s from %s: %s", exec.ErrExchange, m.edgeId, m.loc, bytes.TrimSpace(msg))
	}
}

func (m *httpSource) Close() error { return nil }

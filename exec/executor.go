package exec

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/datasource/membtree"
	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// Env is everything a pipeline needs at runtime: the local store for
// leaf scans, the dialer for remote input edges, the outbox registry
// for output edges consumed by other tasks, and bound params.
type Env struct {
	Ctx    context.Context
	Store  *membtree.Store
	Dialer Dialer
	Outbox Outboxes
	Params []driver.Value
	Loc    schema.Location
}

// Pipeline executes one task's operator chain as a sequence of stages
// wired by channels, one goroutine per stage (plus pumps for exchange
// fan-in and outbox fan-out).
type Pipeline struct {
	jobId   plan.Id
	task    *plan.Task
	runners []TaskRunner
	sources []MessageSource
	pumps   []func()
	out     MessageChan
	wg      sync.WaitGroup
	mu      sync.Mutex
	runErr  error
	closed  bool
}

// NewPipeline attaches behavior to a task's operators.  Operator kinds
// dispatch through one exhaustive switch; the graph stays pure data up
// to this point.
func NewPipeline(jobId plan.Id, t *plan.Task, edges []*plan.Output, env *Env) (*Pipeline, error) {
	p := &Pipeline{jobId: jobId, task: t}
	if env.Ctx == nil {
		env.Ctx = context.Background()
	}

	edgeMap := make(map[plan.Id]*plan.Output, len(edges))
	for _, e := range edges {
		edgeMap[e.Id] = e
	}
	inTask := make(map[plan.Id]*plan.Operator, len(t.Ops))
	for _, op := range t.Ops {
		inTask[op.Id] = op
	}
	// stageOut maps an edge id to the channel its producer stage writes.
	stageOut := make(map[plan.Id]MessageChan)
	runnerByOp := make(map[plan.Id]TaskRunner, len(t.Ops))

	for _, op := range t.Ops {
		var r TaskRunner
		switch op.Kind {
		case plan.OpScan:
			r = NewScanner(op.Scan, env.Store, env.Params)
		case plan.OpRank:
			r = NewRanker(op.Rank, env.Store, env.Params)
		case plan.OpValues:
			r = NewValues(op.Values)
		case plan.OpFilter:
			r = NewWhere(op.Filter.Pred, env.Params)
		case plan.OpProject:
			r = NewProjection(op.Project.Cols)
		case plan.OpAgg:
			r = NewGroupBy(op.Agg)
		case plan.OpSort:
			r = NewOrder(op.Sort)
		case plan.OpLimit:
			r = NewLimit(op.Limit)
		case plan.OpJoinBuild:
			r = NewJoinBuild(op.Join)
		case plan.OpMerge, plan.OpRoot:
			r = newPassthrough(string(op.Kind))
		case plan.OpJoinProbe:
			// build side is Inputs[0], wired below
			r = NewJoinProbe(op.Join, nil)
		default:
			return nil, fmt.Errorf("unknown operator kind %q", op.Kind)
		}

		inputs := op.Inputs
		if op.Kind == plan.OpJoinProbe {
			if len(inputs) < 1 {
				return nil, fmt.Errorf("join-probe %s has no build input", op.Id)
			}
			buildCh, err := p.inputChan(inputs[0], stageOut, edgeMap, env, 1)
			if err != nil {
				return nil, err
			}
			r.(*JoinProbe).buildIn = buildCh
			inputs = inputs[1:]
		}

		switch {
		case len(inputs) == 0:
			if op.Kind != plan.OpScan && op.Kind != plan.OpRank && op.Kind != plan.OpValues {
				// zero matched ranges: a combining stage with no
				// feeders sees immediate end-of-stream
				ch := make(MessageChan)
				close(ch)
				r.MessageInSet(ch)
			}
		case len(inputs) == 1:
			ch, err := p.inputChan(inputs[0], stageOut, edgeMap, env, 1)
			if err != nil {
				return nil, err
			}
			r.MessageInSet(ch)
		default:
			ch, err := p.fanIn(inputs, stageOut, edgeMap, env)
			if err != nil {
				return nil, err
			}
			r.MessageInSet(ch)
		}

		for _, eid := range op.Outputs {
			edge, ok := edgeMap[eid]
			if !ok {
				return nil, fmt.Errorf("task %s references unknown edge %s", t.Id, eid)
			}
			consumedHere := false
			for _, cid := range edge.Consumers {
				if _, ok := inTask[cid]; ok {
					consumedHere = true
				}
			}
			if consumedHere {
				stageOut[eid] = r.MessageOut()
				continue
			}
			// edge leaves this task: pump into the local outbox
			if env.Outbox == nil {
				return nil, fmt.Errorf("task %s has remote output edge %s but no outboxes", t.Id, eid)
			}
			sink, err := env.Outbox.OpenSink(jobId, eid)
			if err != nil {
				return nil, err
			}
			p.sinkPump(env.Ctx, r.MessageOut(), sink)
		}
		if len(op.Outputs) == 0 {
			p.out = r.MessageOut()
		}

		runnerByOp[op.Id] = r
		p.runners = append(p.runners, r)
	}
	return p, nil
}

// Out is the channel of the terminal stage; only the root task of a
// job has one.
func (m *Pipeline) Out() MessageChan { return m.out }

// inputChan resolves one input edge to a channel: the producer stage's
// out channel when the producer runs in this task, otherwise a pump
// from an exchange source at the producer's location.
func (m *Pipeline) inputChan(eid plan.Id, stageOut map[plan.Id]MessageChan, edgeMap map[plan.Id]*plan.Output, env *Env, fanin int) (MessageChan, error) {
	if ch, ok := stageOut[eid]; ok {
		return ch, nil
	}
	edge, ok := edgeMap[eid]
	if !ok {
		return nil, fmt.Errorf("task %s references unknown edge %s", m.task.Id, eid)
	}
	src := env.Dialer.OpenSource(edge.From, m.jobId, eid)
	m.sources = append(m.sources, src)
	ch := make(MessageChan, ItemDefaultChannelSize)
	var once sync.Once
	m.sourcePump(env.Ctx, src, ch, func() { once.Do(func() { close(ch) }) })
	return ch, nil
}

// fanIn merges N input edges into one channel; FIFO per edge, no order
// across edges.
func (m *Pipeline) fanIn(inputs []plan.Id, stageOut map[plan.Id]MessageChan, edgeMap map[plan.Id]*plan.Output, env *Env) (MessageChan, error) {
	ch := make(MessageChan, ItemDefaultChannelSize)
	var wg sync.WaitGroup
	closeOnce := func() {}
	var once sync.Once
	closeOnce = func() {
		once.Do(func() {
			go func() {
				wg.Wait()
				close(ch)
			}()
		})
	}
	for _, eid := range inputs {
		if local, ok := stageOut[eid]; ok {
			wg.Add(1)
			localCh := local
			m.pumps = append(m.pumps, func() {
				defer wg.Done()
				for msg := range localCh {
					select {
					case ch <- msg:
					case <-env.Ctx.Done():
						return
					}
				}
			})
			continue
		}
		edge, ok := edgeMap[eid]
		if !ok {
			return nil, fmt.Errorf("task %s references unknown edge %s", m.task.Id, eid)
		}
		src := env.Dialer.OpenSource(edge.From, m.jobId, edge.Id)
		m.sources = append(m.sources, src)
		wg.Add(1)
		m.sourcePump(env.Ctx, src, ch, wg.Done)
	}
	closeOnce()
	return ch, nil
}

// sourcePump copies an exchange source into a channel; errors are
// forwarded in-band so they stay ordered behind delivered rows.
func (m *Pipeline) sourcePump(ctx context.Context, src MessageSource, ch MessageChan, done func()) {
	m.pumps = append(m.pumps, func() {
		defer done()
		for {
			msg, err := src.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case ch <- &ErrMessage{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	})
}

// sinkPump drains a stage's output into the local outbox for remote
// consumers.  An in-band error terminates the exchange channel so the
// remote side observes the failure, not a truncated success.
func (m *Pipeline) sinkPump(ctx context.Context, out MessageChan, sink MessageSink) {
	m.pumps = append(m.pumps, func() {
		for msg := range out {
			if em, isErr := msg.(*ErrMessage); isErr {
				sink.CloseSend(em.Err)
				return
			}
			if err := sink.Send(ctx, msg); err != nil {
				u.Warnf("exchange send failed job=%s task=%s: %v", m.jobId, m.task.Id, err)
				return
			}
		}
		sink.CloseSend(nil)
	})
}

// Run starts every stage, downstream first so that by the time a
// source produces, its consumers are draining, and blocks until the
// task finishes.
func (m *Pipeline) Run() error {
	for _, pump := range m.pumps {
		m.wg.Add(1)
		go func(fn func()) {
			defer m.wg.Done()
			fn()
		}(pump)
	}
	for i := len(m.runners) - 1; i >= 0; i-- {
		m.wg.Add(1)
		go func(r TaskRunner) {
			defer m.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					u.Errorf("task %s stage %s panic: %v", m.task.Id, r.Type(), rec)
					m.saveErr(fmt.Errorf("stage %s panic: %v", r.Type(), rec))
				}
			}()
			if err := r.Run(); err != nil && err != ErrShuttingDown {
				m.saveErr(err)
			}
		}(m.runners[i])
	}
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runErr
}

func (m *Pipeline) saveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runErr == nil {
		m.runErr = err
	}
}

// Close stops the pipeline cooperatively: every stage gets the quit
// signal, every exchange source is closed.
func (m *Pipeline) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	errs := make(errList, 0)
	for _, r := range m.runners {
		if err := r.Close(); err != nil {
			errs.append(err)
		}
	}
	for _, s := range m.sources {
		if err := s.Close(); err != nil {
			errs.append(err)
		}
	}
	return errs.error()
}

// passthrough forwards every message; used for merge fan-in points and
// the root receiver.
func newPassthrough(kind string) TaskRunner {
	m := NewTaskBase(kind)
	m.Handler = func(msg schema.Message) bool { return m.forward(msg) }
	return &passthrough{TaskBase: m}
}

type passthrough struct {
	*TaskBase
}

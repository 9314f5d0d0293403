// Package exchange is the inter-node protocol: start-task/stop-task
// dispatch plus pull-based exchange streaming between tasks, all over
// http.  Each node runs one Server; the Client routes in-process when
// the target location is the local node.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	u "github.com/araddon/gou"
	"github.com/gorilla/mux"

	"github.com/araddon/sqlgrid/datasource/membtree"
	"github.com/araddon/sqlgrid/exec"
	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/schema"
)

var (
	_ = u.EMPTY

	_ exec.Outboxes = (*Server)(nil)
)

const (
	// defaultTaskTTL bounds leaked resources: a task or outbox idle
	// this long (abandoned by an unreachable coordinator) self-expires.
	defaultTaskTTL = 2 * time.Minute
	// longPollWait is how long an exchange pull waits for the producer
	// before answering 204 and letting the consumer re-poll.
	longPollWait = 10 * time.Second
)

var errExpired = fmt.Errorf("task abandoned, expired by ttl")

type runningTask struct {
	task       *plan.Task
	jobId      plan.Id
	pipe       *exec.Pipeline
	cancel     context.CancelFunc
	done       chan struct{}
	finishedAt time.Time
}

// Server hosts a node's execution side: it accepts task definitions,
// runs them against the local store, and serves their exchange edges.
type Server struct {
	loc     schema.Location
	store   *membtree.Store
	metrics *exec.Metrics
	client  *Client
	router  *mux.Router
	ttl     time.Duration

	mu       sync.Mutex
	tasks    map[plan.Id]*runningTask
	outboxes map[plan.Id]*Outbox // keyed by edge id

	quit     chan struct{}
	quitOnce sync.Once
}

type ServerOption func(*Server)

func WithTTL(d time.Duration) ServerOption {
	return func(s *Server) { s.ttl = d }
}

func NewServer(loc schema.Location, store *membtree.Store, metrics *exec.Metrics, opts ...ServerOption) *Server {
	if metrics == nil {
		metrics = exec.NewMetrics(nil)
	}
	s := &Server{
		loc:      loc,
		store:    store,
		metrics:  metrics,
		ttl:      defaultTaskTTL,
		tasks:    make(map[plan.Id]*runningTask),
		outboxes: make(map[plan.Id]*Outbox),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.client = NewClient(s)

	r := mux.NewRouter()
	r.HandleFunc("/v1/task/start", s.handleStart).Methods("POST")
	r.HandleFunc("/v1/task/stop/{job}/{task}", s.handleStop).Methods("POST")
	r.HandleFunc("/v1/exchange/{job}/{edge}/{seq}", s.handleExchange).Methods("GET")
	s.router = r

	go s.sweep()
	return s
}

func (m *Server) Loc() schema.Location  { return m.loc }
func (m *Server) Client() *Client       { return m.client }
func (m *Server) Handler() http.Handler { return m.router }

// Stop shuts the server's background sweeper and cancels every task.
func (m *Server) Stop() {
	m.quitOnce.Do(func() { close(m.quit) })
	m.mu.Lock()
	tasks := make([]*runningTask, 0, len(m.tasks))
	for _, rt := range m.tasks {
		tasks = append(tasks, rt)
	}
	obs := make([]*Outbox, 0, len(m.outboxes))
	for _, ob := range m.outboxes {
		obs = append(obs, ob)
	}
	m.mu.Unlock()
	for _, rt := range tasks {
		rt.cancel()
		rt.pipe.Close()
	}
	for _, ob := range obs {
		ob.fail(exec.ErrShuttingDown)
	}
}

// OpenSink registers (or finds) the outbox for an edge this node
// produces.  Consumer pulls may create the outbox first; creation is
// symmetric so the start order of producer and consumer tasks does not
// matter.
func (m *Server) OpenSink(jobId, edgeId plan.Id) (exec.MessageSink, error) {
	return m.outbox(jobId, edgeId), nil
}

func (m *Server) outbox(jobId, edgeId plan.Id) *Outbox {
	m.mu.Lock()
	defer m.mu.Unlock()
	ob, ok := m.outboxes[edgeId]
	if !ok {
		ob = newOutbox(jobId, edgeId)
		m.outboxes[edgeId] = ob
	}
	return ob
}

func (m *Server) dropOutbox(edgeId plan.Id) {
	m.mu.Lock()
	delete(m.outboxes, edgeId)
	m.mu.Unlock()
}

// StartTaskLocal builds and runs one task's pipeline on this node.
func (m *Server) StartTaskLocal(req *exec.StartTaskRequest) error {
	if req.Task == nil {
		return fmt.Errorf("start-task request missing task definition")
	}
	m.mu.Lock()
	if _, dup := m.tasks[req.Task.Id]; dup {
		m.mu.Unlock()
		return fmt.Errorf("task %s already running", req.Task.Id)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	env := &exec.Env{
		Ctx:    ctx,
		Store:  m.store,
		Dialer: m.client,
		Outbox: m,
		Params: req.Params,
		Loc:    m.loc,
	}
	pipe, err := exec.NewPipeline(req.JobId, req.Task, req.Edges, env)
	if err != nil {
		cancel()
		return err
	}
	rt := &runningTask{task: req.Task, jobId: req.JobId, pipe: pipe, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.tasks[req.Task.Id] = rt
	m.mu.Unlock()
	req.Task.Status = plan.TaskRunning
	m.metrics.TasksStarted.Inc()

	go func() {
		defer close(rt.done)
		if err := pipe.Run(); err != nil && err != exec.ErrShuttingDown {
			u.Warnf("task %s job %s finished with error: %v", req.Task.Id, req.JobId, err)
		}
		m.mu.Lock()
		rt.finishedAt = time.Now()
		if rt.task.Status == plan.TaskRunning {
			rt.task.Status = plan.TaskFinished
		}
		m.mu.Unlock()
	}()
	u.Debugf("%s started task %s job %s ops=%d", m.loc, req.Task.Id, req.JobId, len(req.Task.Ops))
	return nil
}

// StopTaskLocal cancels a task cooperatively and fails its exchange
// edges so any straggling consumer observes closure.  Idempotent.
func (m *Server) StopTaskLocal(jobId, taskId plan.Id) error {
	m.mu.Lock()
	rt, ok := m.tasks[taskId]
	if ok {
		delete(m.tasks, taskId)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	rt.task.Status = plan.TaskDestroyed
	rt.cancel()
	rt.pipe.Close()
	for _, op := range rt.task.Ops {
		for _, eid := range op.Outputs {
			m.mu.Lock()
			ob, found := m.outboxes[eid]
			if found {
				delete(m.outboxes, eid)
			}
			m.mu.Unlock()
			if found {
				ob.fail(exec.ErrJobClosed)
			}
		}
	}
	m.metrics.TasksStopped.Inc()
	u.Debugf("%s stopped task %s job %s", m.loc, taskId, jobId)
	return nil
}

func (m *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req exec.StartTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := m.StartTaskLocal(&req); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := m.StopTaskLocal(plan.Id(vars["job"]), plan.Id(vars["task"])); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	seq, err := strconv.ParseUint(vars["seq"], 10, 64)
	if err != nil {
		http.Error(w, "bad seq", http.StatusBadRequest)
		return
	}
	ob := m.outbox(plan.Id(vars["job"]), plan.Id(vars["edge"]))

	ctx, cancel := context.WithTimeout(r.Context(), longPollWait)
	defer cancel()
	b, err := ob.Get(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGone)
		return
	}
	if b == nil {
		// poll timeout, consumer retries
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if b.Seq != seq {
		// a lost response cannot be replayed; surface as broken channel
		http.Error(w, fmt.Sprintf("exchange out of sequence: have %d want %d", b.Seq, seq), http.StatusGone)
		return
	}
	m.metrics.ExchangeBatches.Inc()
	if b.Eos || b.Err != "" {
		m.dropOutbox(plan.Id(vars["edge"]))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toWire(b))
}

// sweep expires idle outboxes and finished tasks so jobs abandoned by
// an unreachable coordinator cannot leak resources forever.
func (m *Server) sweep() {
	tick := time.NewTicker(m.ttl / 4)
	defer tick.Stop()
	for {
		select {
		case <-m.quit:
			return
		case now := <-tick.C:
			m.mu.Lock()
			var expired []*Outbox
			for eid, ob := range m.outboxes {
				if now.Sub(ob.idleSince()) > m.ttl {
					expired = append(expired, ob)
					delete(m.outboxes, eid)
				}
			}
			var stale []plan.Id
			for tid, rt := range m.tasks {
				if !rt.finishedAt.IsZero() && now.Sub(rt.finishedAt) > m.ttl {
					stale = append(stale, tid)
				}
			}
			for _, tid := range stale {
				delete(m.tasks, tid)
			}
			m.mu.Unlock()
			for _, ob := range expired {
				u.Warnf("%s expiring idle exchange edge %s job %s", m.loc, ob.edgeId, ob.jobId)
				ob.fail(errExpired)
			}
		}
	}
}

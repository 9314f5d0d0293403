package exec

import (
	"database/sql/driver"

	u "github.com/araddon/gou"

	"github.com/araddon/sqlgrid/plan"
	"github.com/araddon/sqlgrid/schema"
)

var _ = u.EMPTY

// JoinBuild is the fan-in point for the build side of a hash join; it
// only forwards, the hash table lives in JoinProbe.
type JoinBuild struct {
	*TaskBase
}

func NewJoinBuild(p *plan.JoinParams) *JoinBuild {
	m := &JoinBuild{TaskBase: NewTaskBase("JoinBuild")}
	m.Handler = func(msg schema.Message) bool { return m.forward(msg) }
	return m
}

// JoinProbe hashes the entire build input, then streams the probe side
// emitting merged rows on key match.
type JoinProbe struct {
	*TaskBase
	p       *plan.JoinParams
	buildIn MessageChan
}

func NewJoinProbe(p *plan.JoinParams, buildIn MessageChan) *JoinProbe {
	return &JoinProbe{TaskBase: NewTaskBase("JoinProbe"), p: p, buildIn: buildIn}
}

func (m *JoinProbe) Run() error {
	defer close(m.msgOutCh)

	buildRows, err := drainInput(m.buildIn, m.sigCh)
	if err != nil {
		if err != ErrShuttingDown {
			m.forward(&ErrMessage{Err: err})
		}
		return err
	}

	ht := make(map[uint64][]*schema.RowMessage, len(buildRows))
	for _, rm := range buildRows {
		v, ok := rm.Get(m.p.LeftKey)
		if !ok {
			continue
		}
		k := schema.KeyOf(v)
		ht[k] = append(ht[k], rm)
	}
	u.Debugf("join build side hashed %d rows, %d keys", len(buildRows), len(ht))

	// merged layout: left cols then right cols not already present
	var colIdx map[string]int
	var leftCols, addCols []string
	mergedLayout := func(left, right *schema.RowMessage) {
		if colIdx != nil {
			return
		}
		leftCols = left.Columns()
		colIdx = make(map[string]int, len(leftCols)+4)
		for i, c := range leftCols {
			colIdx[c] = i
		}
		for _, c := range right.Columns() {
			if _, dup := colIdx[c]; !dup {
				colIdx[c] = len(colIdx)
				addCols = append(addCols, c)
			}
		}
	}

	var id uint64
	ok := true
	var msg schema.Message
	for ok {
		select {
		case msg, ok = <-m.msgInCh:
			if !ok {
				return nil
			}
			if em, isErr := msg.(*ErrMessage); isErr {
				m.forward(em)
				return em.Err
			}
			probe, isRow := msg.Body().(*schema.RowMessage)
			if !isRow {
				continue
			}
			pv, found := probe.Get(m.p.RightKey)
			if !found {
				continue
			}
			for _, build := range ht[schema.KeyOf(pv)] {
				mergedLayout(build, probe)
				vals := make([]driver.Value, len(colIdx))
				copy(vals, build.Vals[:len(leftCols)])
				for i, c := range addCols {
					v, _ := probe.Get(c)
					vals[len(leftCols)+i] = v
				}
				id++
				if !m.forward(schema.NewRowMessage(id, colIdx, vals)) {
					return nil
				}
			}
		case <-m.sigCh:
			return nil
		}
	}
	return nil
}

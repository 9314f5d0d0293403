package exchange

import (
	"database/sql/driver"

	jsoniter "github.com/json-iterator/go"

	"github.com/araddon/sqlgrid/schema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireBatch is the json form of one exchange batch.  Cols carries the
// shared column layout so rows stay positional on the wire.
type wireBatch struct {
	Seq  uint64    `json:"seq"`
	Cols []string  `json:"cols,omitempty"`
	Rows []wireRow `json:"rows,omitempty"`
	Eos  bool      `json:"eos,omitempty"`
	Err  string    `json:"err,omitempty"`
}

type wireRow struct {
	Id   uint64        `json:"id"`
	Vals []interface{} `json:"vals"`
}

func toWire(b *batch) *wireBatch {
	wb := &wireBatch{Seq: b.Seq, Eos: b.Eos, Err: b.Err}
	if len(b.Rows) == 0 {
		return wb
	}
	wb.Cols = b.Rows[0].Columns()
	wb.Rows = make([]wireRow, 0, len(b.Rows))
	for _, rm := range b.Rows {
		vals := make([]interface{}, len(rm.Vals))
		for i, v := range rm.Vals {
			vals[i] = v
		}
		wb.Rows = append(wb.Rows, wireRow{Id: rm.Id(), Vals: vals})
	}
	return wb
}

func fromWire(wb *wireBatch) []*schema.RowMessage {
	if len(wb.Rows) == 0 {
		return nil
	}
	colIdx := make(map[string]int, len(wb.Cols))
	for i, c := range wb.Cols {
		colIdx[c] = i
	}
	out := make([]*schema.RowMessage, 0, len(wb.Rows))
	for _, wr := range wb.Rows {
		vals := make([]driver.Value, len(wr.Vals))
		for i, v := range wr.Vals {
			vals[i] = v
		}
		out = append(out, schema.NewRowMessage(wr.Id, colIdx, vals))
	}
	return out
}

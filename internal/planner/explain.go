package planner

import (
	"fmt"

	"github.com/fractalsoft/frankendb/internal/vdbe"
)

// ExplainRow is one row of an EXPLAIN result set: the raw bytecode
// form SQLite itself exposes (§4.K "EXPLAIN: addr, opcode, p1, p2, p3,
// p4, p5, comment").
type ExplainRow struct {
	Addr    int
	Opcode  string
	P1      int
	P2      int
	P3      int
	P4      string
	P5      int
	Comment string
}

// ExplainProgram formats every instruction of prog as an ExplainRow,
// in address order, matching what the VM would actually execute.
func ExplainProgram(prog *vdbe.Program) []ExplainRow {
	rows := make([]ExplainRow, len(prog.Insts))
	for i, in := range prog.Insts {
		rows[i] = ExplainRow{
			Addr:    i,
			Opcode:  in.Op.String(),
			P1:      in.P1,
			P2:      in.P2,
			P3:      in.P3,
			P4:      formatP4(in.P4),
			P5:      in.P5,
			Comment: in.Comment,
		}
	}
	return rows
}

func formatP4(p4 vdbe.P4) string {
	if p4.Blob != nil {
		return fmt.Sprintf("blob[%d]", len(p4.Blob))
	}
	return p4.Text
}

// QueryPlanRow is one row of an EXPLAIN QUERY PLAN result set (§4.K
// "id, parent, notused, detail"). NotUsed is always 0, a reserved slot
// sqlite3 itself documents as ignorable filler, kept here only so the
// column shape matches.
type QueryPlanRow struct {
	ID      int
	Parent  int
	NotUsed int
	Detail  string
}

// QueryPlanRows renders the planRow list compileSelect recorded, in
// join order, as the flat EXPLAIN QUERY PLAN shape; every scan is a
// sibling of the root (id 0, parent 0) since this planner only emits
// left-deep nested-loop plans with no sub-plan nesting yet.
func QueryPlanRows(rows []planRow) []QueryPlanRow {
	out := make([]QueryPlanRow, len(rows))
	for i, r := range rows {
		out[i] = QueryPlanRow{ID: i + 1, Parent: 0, NotUsed: 0, Detail: r.detail}
	}
	return out
}

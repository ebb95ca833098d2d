package sqlparser

import (
	"testing"

	"github.com/fractalsoft/frankendb/internal/record"
)

func TestParseCreateTableWithConstraints(t *testing.T) {
	stmt := "CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, score REAL DEFAULT 0)"
	p := NewParser(stmt)
	parsed, err := p.ParseStatement()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	ct, ok := parsed.(CreateTable)
	if !ok {
		t.Fatalf("expected CreateTable, got %T", parsed)
	}
	if !ct.IfNotExists {
		t.Fatalf("expected IfNotExists true")
	}
	if len(ct.Cols) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(ct.Cols))
	}
	if !ct.Cols[0].PrimaryKey {
		t.Fatalf("expected id to be PRIMARY KEY")
	}
	if !ct.Cols[1].NotNull {
		t.Fatalf("expected name to be NOT NULL")
	}
	if ct.Cols[2].Default == nil {
		t.Fatalf("expected score to carry a DEFAULT expression")
	}
}

func TestParseSelectWithJoinWhereOrderLimit(t *testing.T) {
	stmt := "SELECT a.id, b.name FROM a LEFT JOIN b ON a.id = b.id WHERE a.id > 1 ORDER BY a.id DESC LIMIT 10 OFFSET 5"
	p := NewParser(stmt)
	parsed, err := p.ParseStatement()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	sel, ok := parsed.(*Select)
	if !ok {
		t.Fatalf("expected *Select, got %T", parsed)
	}
	if len(sel.Projs) != 2 {
		t.Fatalf("expected 2 projections, got %d", len(sel.Projs))
	}
	if len(sel.Joins) != 1 || sel.Joins[0].Type != JoinLeft {
		t.Fatalf("expected one LEFT JOIN, got %+v", sel.Joins)
	}
	if sel.Where == nil {
		t.Fatalf("expected WHERE clause")
	}
	if len(sel.OrderBy) != 1 || !sel.OrderBy[0].Desc {
		t.Fatalf("expected ORDER BY ... DESC")
	}
	if sel.Limit == nil || *sel.Limit != 10 {
		t.Fatalf("expected LIMIT 10")
	}
	if sel.Offset == nil || *sel.Offset != 5 {
		t.Fatalf("expected OFFSET 5")
	}
}

func TestParseExprPrecedence(t *testing.T) {
	// AND binds tighter than OR.
	p := NewParser("SELECT 1 WHERE a = 1 OR b = 2 AND c = 3")
	parsed, err := p.ParseStatement()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	sel := parsed.(*Select)
	bin, ok := sel.Where.(Binary)
	if !ok || bin.Op != "OR" {
		t.Fatalf("expected top-level OR, got %#v", sel.Where)
	}
	right, ok := bin.Right.(Binary)
	if !ok || right.Op != "AND" {
		t.Fatalf("expected right side to be AND, got %#v", bin.Right)
	}
}

func TestParseBetweenInAndIsNull(t *testing.T) {
	p := NewParser("SELECT * FROM t WHERE x BETWEEN 1 AND 10 AND y IN (1, 2, 3) AND z IS NOT NULL")
	parsed, err := p.ParseStatement()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	sel := parsed.(*Select)
	top, ok := sel.Where.(Binary)
	if !ok || top.Op != "AND" {
		t.Fatalf("expected top-level AND chain, got %#v", sel.Where)
	}
	// Walk down to confirm a Between and an InList appear somewhere in
	// the chain without over-specifying associativity.
	var foundBetween, foundIn, foundIsNull bool
	var walk func(e Expr)
	walk = func(e Expr) {
		switch v := e.(type) {
		case Binary:
			walk(v.Left)
			walk(v.Right)
		case Between:
			foundBetween = true
		case InList:
			foundIn = true
		case IsNull:
			foundIsNull = true
			if !v.Negate {
				t.Fatalf("expected IS NOT NULL to set Negate")
			}
		}
	}
	walk(sel.Where)
	if !foundBetween || !foundIn || !foundIsNull {
		t.Fatalf("expected BETWEEN, IN and IS NOT NULL all present: between=%v in=%v isnull=%v", foundBetween, foundIn, foundIsNull)
	}
}

func TestParseInsertValues(t *testing.T) {
	p := NewParser("INSERT INTO t (a, b) VALUES (1, 'x'), (2, 'y')")
	parsed, err := p.ParseStatement()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	ins, ok := parsed.(Insert)
	if !ok {
		t.Fatalf("expected Insert, got %T", parsed)
	}
	if len(ins.Rows) != 2 {
		t.Fatalf("expected 2 value rows, got %d", len(ins.Rows))
	}
	lit, ok := ins.Rows[1][1].(Literal)
	if !ok || lit.Val.Kind != record.KindText {
		t.Fatalf("expected second row's second value to be a text literal")
	}
}

func TestParseCaseAndCast(t *testing.T) {
	p := NewParser("SELECT CASE WHEN a > 0 THEN 'pos' ELSE 'neg' END, CAST(a AS REAL) FROM t")
	parsed, err := p.ParseStatement()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	sel := parsed.(*Select)
	if _, ok := sel.Projs[0].Expr.(CaseExpr); !ok {
		t.Fatalf("expected CaseExpr, got %#v", sel.Projs[0].Expr)
	}
	cast, ok := sel.Projs[1].Expr.(Cast)
	if !ok || cast.Affinity != record.AffinityReal {
		t.Fatalf("expected CAST(... AS REAL), got %#v", sel.Projs[1].Expr)
	}
}

func TestParseTransactionControlAndAttach(t *testing.T) {
	cases := []string{
		"BEGIN",
		"COMMIT",
		"ROLLBACK",
		"SAVEPOINT sp1",
		"RELEASE sp1",
		"ROLLBACK TO sp1",
		"ATTACH 'other.db' AS other",
		"DETACH other",
		"PRAGMA journal_mode = WAL",
		"EXPLAIN QUERY PLAN SELECT 1",
	}
	for _, stmt := range cases {
		if _, err := NewParser(stmt).ParseStatement(); err != nil {
			t.Errorf("failed to parse %q: %v", stmt, err)
		}
	}
}

func TestParseFuncCallStarAndArgs(t *testing.T) {
	p := NewParser("SELECT COUNT(*), SUM(x) FROM t")
	parsed, err := p.ParseStatement()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	sel := parsed.(*Select)
	fc, ok := sel.Projs[0].Expr.(FuncCall)
	if !ok || !fc.Star || fc.Name != "COUNT" {
		t.Fatalf("expected COUNT(*), got %#v", sel.Projs[0].Expr)
	}
	fc2, ok := sel.Projs[1].Expr.(FuncCall)
	if !ok || fc2.Name != "SUM" || len(fc2.Args) != 1 {
		t.Fatalf("expected SUM(x), got %#v", sel.Projs[1].Expr)
	}
}

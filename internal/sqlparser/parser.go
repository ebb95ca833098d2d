package sqlparser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fractalsoft/frankendb/internal/record"
)

// Parser holds the lexer and current/peek tokens for recursive-descent
// parsing (§4.G).
type Parser struct {
	lx   *lexer
	cur  token
	peek token
}

func NewParser(sql string) *Parser {
	p := &Parser{lx: newLexer(sql)}
	p.cur = p.lx.nextToken()
	p.peek = p.lx.nextToken()
	return p
}

func (p *Parser) advance() { p.cur, p.peek = p.peek, p.lx.nextToken() }

func (p *Parser) errf(format string, a ...any) error {
	return fmt.Errorf("sql: parse error at byte %d near %q: %s", p.cur.Pos, p.cur.Val, fmt.Sprintf(format, a...))
}

func (p *Parser) isKeyword(kw string) bool { return p.cur.Typ == tKeyword && p.cur.Val == kw }
func (p *Parser) isSymbol(sym string) bool { return p.cur.Typ == tSymbol && p.cur.Val == sym }

func (p *Parser) expectSymbol(sym string) error {
	if p.isSymbol(sym) {
		p.advance()
		return nil
	}
	return p.errf("expected %q", sym)
}

func (p *Parser) expectKeyword(kw string) error {
	if p.isKeyword(kw) {
		p.advance()
		return nil
	}
	return p.errf("expected %q", kw)
}

// ident accepts a plain identifier or a keyword used as one (common
// for column names like "date" or "count"), matching the teacher's
// practical stance that rejecting those breaks real schemas.
func (p *Parser) ident() (string, error) {
	if p.cur.Typ == tIdent || p.cur.Typ == tKeyword {
		v := p.cur.Val
		p.advance()
		return v, nil
	}
	return "", p.errf("expected identifier")
}

// ParseStatement parses exactly one SQL statement, dispatching on its
// leading keyword. A trailing ';' is optional and consumed if present.
func (p *Parser) ParseStatement() (Statement, error) {
	var stmt Statement
	var err error
	switch {
	case p.isKeyword("SELECT") || p.isKeyword("WITH"):
		stmt, err = p.parseSelect()
	case p.isKeyword("INSERT"):
		stmt, err = p.parseInsert()
	case p.isKeyword("UPDATE"):
		stmt, err = p.parseUpdate()
	case p.isKeyword("DELETE"):
		stmt, err = p.parseDelete()
	case p.isKeyword("CREATE"):
		stmt, err = p.parseCreate()
	case p.isKeyword("DROP"):
		stmt, err = p.parseDrop()
	case p.isKeyword("BEGIN"):
		p.advance()
		for p.cur.Typ == tKeyword {
			p.advance()
		}
		stmt, err = Begin{}, nil
	case p.isKeyword("COMMIT"):
		p.advance()
		stmt, err = Commit{}, nil
	case p.isKeyword("ROLLBACK"):
		stmt, err = p.parseRollback()
	case p.isKeyword("SAVEPOINT"):
		p.advance()
		name, e := p.ident()
		stmt, err = Savepoint{Name: name}, e
	case p.isKeyword("RELEASE"):
		p.advance()
		if p.isKeyword("SAVEPOINT") {
			p.advance()
		}
		name, e := p.ident()
		stmt, err = Release{Name: name}, e
	case p.isKeyword("ATTACH"):
		stmt, err = p.parseAttach()
	case p.isKeyword("DETACH"):
		p.advance()
		if p.isKeyword("DATABASE") {
			p.advance()
		}
		name, e := p.ident()
		stmt, err = Detach{Name: name}, e
	case p.isKeyword("PRAGMA"):
		stmt, err = p.parsePragma()
	case p.isKeyword("EXPLAIN"):
		stmt, err = p.parseExplain()
	default:
		return nil, p.errf("unrecognized statement")
	}
	if err != nil {
		return nil, err
	}
	if p.isSymbol(";") {
		p.advance()
	}
	return stmt, nil
}

func (p *Parser) parseRollback() (Statement, error) {
	p.advance()
	if p.isKeyword("TO") {
		p.advance()
		if p.isKeyword("SAVEPOINT") {
			p.advance()
		}
		name, err := p.ident()
		return RollbackTo{Name: name}, err
	}
	return Rollback{}, nil
}

func (p *Parser) parseAttach() (Statement, error) {
	p.advance()
	if p.isKeyword("DATABASE") {
		p.advance()
	}
	if p.cur.Typ != tString {
		return nil, p.errf("expected path string")
	}
	path := p.cur.Val
	p.advance()
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	return Attach{Path: path, Name: name}, err
}

func (p *Parser) parsePragma() (Statement, error) {
	p.advance()
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	pr := Pragma{Name: name}
	if p.isSymbol("=") || p.isSymbol("(") {
		closing := p.isSymbol("(")
		p.advance()
		v, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		pr.Value = v
		if closing {
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
		}
	}
	return pr, nil
}

func (p *Parser) parseExplain() (Statement, error) {
	p.advance()
	qp := false
	if p.isKeyword("QUERY") {
		p.advance()
		if err := p.expectKeyword("PLAN"); err != nil {
			return nil, err
		}
		qp = true
	}
	inner, err := p.ParseStatement()
	if err != nil {
		return nil, err
	}
	return Explain{QueryPlan: qp, Stmt: inner}, nil
}

// ------------------------------ DDL ------------------------------

func (p *Parser) parseCreate() (Statement, error) {
	p.advance()
	temp := false
	if p.isKeyword("TEMP") || p.isKeyword("TEMPORARY") {
		temp = true
		p.advance()
	}
	unique := false
	if p.isKeyword("UNIQUE") {
		unique = true
		p.advance()
	}
	switch {
	case p.isKeyword("TABLE"):
		p.advance()
		return p.parseCreateTable(temp)
	case p.isKeyword("INDEX"):
		p.advance()
		return p.parseCreateIndex(unique)
	default:
		return nil, p.errf("expected TABLE or INDEX after CREATE")
	}
}

func (p *Parser) parseIfNotExists() (bool, error) {
	if p.isKeyword("IF") {
		p.advance()
		if err := p.expectKeyword("NOT"); err != nil {
			return false, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (p *Parser) parseCreateTable(temp bool) (Statement, error) {
	ifNotExists, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	ct := CreateTable{Name: name, Temp: temp, IfNotExists: ifNotExists}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		ct.Cols = append(ct.Cols, col)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return ct, nil
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	name, err := p.ident()
	if err != nil {
		return ColumnDef{}, err
	}
	col := ColumnDef{Name: name}
	var typeParts []string
	for p.cur.Typ == tKeyword && !isConstraintKeyword(p.cur.Val) {
		typeParts = append(typeParts, p.cur.Val)
		p.advance()
	}
	col.Declared = strings.Join(typeParts, " ")
	col.Affinity = record.ParseAffinity(col.Declared)
	for {
		switch {
		case p.isKeyword("PRIMARY"):
			p.advance()
			if err := p.expectKeyword("KEY"); err != nil {
				return col, err
			}
			col.PrimaryKey = true
		case p.isKeyword("NOT"):
			p.advance()
			if err := p.expectKeyword("NULL"); err != nil {
				return col, err
			}
			col.NotNull = true
		case p.isKeyword("UNIQUE"):
			p.advance()
			col.Unique = true
		case p.isKeyword("DEFAULT"):
			p.advance()
			v, err := p.parseExpr(0)
			if err != nil {
				return col, err
			}
			col.Default = v
		default:
			return col, nil
		}
	}
}

func isConstraintKeyword(kw string) bool {
	switch kw {
	case "PRIMARY", "NOT", "UNIQUE", "DEFAULT", "REFERENCES", "CHECK":
		return true
	default:
		return false
	}
}

func (p *Parser) parseCreateIndex(unique bool) (Statement, error) {
	ifNotExists, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		c, err := p.ident()
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return CreateIndex{Name: name, Table: table, Cols: cols, Unique: unique, IfNotExists: ifNotExists}, nil
}

func (p *Parser) parseDrop() (Statement, error) {
	p.advance()
	switch {
	case p.isKeyword("TABLE"):
		p.advance()
		ifExists, err := p.parseIfExists()
		if err != nil {
			return nil, err
		}
		name, err := p.ident()
		return DropTable{Name: name, IfExists: ifExists}, err
	case p.isKeyword("INDEX"):
		p.advance()
		ifExists, err := p.parseIfExists()
		if err != nil {
			return nil, err
		}
		name, err := p.ident()
		return DropIndex{Name: name, IfExists: ifExists}, err
	default:
		return nil, p.errf("expected TABLE or INDEX after DROP")
	}
}

func (p *Parser) parseIfExists() (bool, error) {
	if p.isKeyword("IF") {
		p.advance()
		if err := p.expectKeyword("EXISTS"); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// ------------------------------ DML ------------------------------

func (p *Parser) parseInsert() (Statement, error) {
	p.advance()
	orReplace := false
	if p.isKeyword("OR") {
		p.advance()
		if err := p.expectKeyword("REPLACE"); err != nil {
			return nil, err
		}
		orReplace = true
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	ins := Insert{Table: table, OrReplace: orReplace}
	if p.isSymbol("(") {
		p.advance()
		for {
			c, err := p.ident()
			if err != nil {
				return nil, err
			}
			ins.Cols = append(ins.Cols, c)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			v, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		ins.Rows = append(ins.Rows, row)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	return ins, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.advance()
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	upd := Update{Table: table, Sets: map[string]Expr{}}
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		v, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		upd.Sets[col] = v
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if p.isKeyword("WHERE") {
		p.advance()
		w, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		upd.Where = w
	}
	return upd, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.advance()
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	del := Delete{Table: table}
	if p.isKeyword("WHERE") {
		p.advance()
		w, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		del.Where = w
	}
	return del, nil
}

// ------------------------------ SELECT ------------------------------

func (p *Parser) parseSelect() (*Select, error) {
	if p.isKeyword("WITH") {
		// CTE bodies are parsed and then discarded: Select has no field
		// for them, so a CTE name used in FROM resolves as a table name.
		p.advance()
		for {
			if _, err := p.ident(); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			if err := p.expectSymbol("("); err != nil {
				return nil, err
			}
			if _, err := p.parseSelect(); err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sel := &Select{}
	if p.isKeyword("DISTINCT") {
		sel.Distinct = true
		p.advance()
	} else if p.isKeyword("ALL") {
		p.advance()
	}
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		sel.Projs = append(sel.Projs, item)
		if p.isSymbol(",") {
			p.advance()
			continue
		}
		break
	}
	if p.isKeyword("FROM") {
		p.advance()
		from, err := p.parseFromItem()
		if err != nil {
			return nil, err
		}
		sel.From = from
		for p.isKeyword("JOIN") || p.isKeyword("LEFT") || p.isKeyword("RIGHT") || p.isKeyword("INNER") || p.isKeyword("CROSS") {
			jc, err := p.parseJoin()
			if err != nil {
				return nil, err
			}
			sel.Joins = append(sel.Joins, jc)
		}
	}
	if p.isKeyword("WHERE") {
		p.advance()
		w, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		sel.Where = w
	}
	if p.isKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, e)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.isKeyword("HAVING") {
		p.advance()
		h, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		sel.Having = h
	}
	if p.isKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			desc := false
			if p.isKeyword("DESC") {
				desc = true
				p.advance()
			} else if p.isKeyword("ASC") {
				p.advance()
			}
			sel.OrderBy = append(sel.OrderBy, OrderItem{Expr: e, Desc: desc})
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.isKeyword("LIMIT") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		sel.Limit = &n
	}
	if p.isKeyword("OFFSET") {
		p.advance()
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		sel.Offset = &n
	}
	return sel, nil
}

func (p *Parser) parseIntLiteral() (int, error) {
	if p.cur.Typ != tNumber {
		return 0, p.errf("expected integer")
	}
	n, err := strconv.Atoi(p.cur.Val)
	if err != nil {
		return 0, p.errf("bad integer %q", p.cur.Val)
	}
	p.advance()
	return n, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.isSymbol("*") {
		p.advance()
		return SelectItem{Star: true}, nil
	}
	e, err := p.parseExpr(0)
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: e}
	if p.isKeyword("AS") {
		p.advance()
		a, err := p.ident()
		if err != nil {
			return item, err
		}
		item.Alias = a
	} else if p.cur.Typ == tIdent {
		item.Alias = p.cur.Val
		p.advance()
	}
	return item, nil
}

func (p *Parser) parseFromItem() (FromItem, error) {
	if p.isSymbol("(") {
		p.advance()
		sub, err := p.parseSelect()
		if err != nil {
			return FromItem{}, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return FromItem{}, err
		}
		item := FromItem{Sub: sub}
		if p.isKeyword("AS") {
			p.advance()
		}
		if p.cur.Typ == tIdent {
			item.Alias = p.cur.Val
			p.advance()
		}
		return item, nil
	}
	name, err := p.ident()
	if err != nil {
		return FromItem{}, err
	}
	item := FromItem{Table: name}
	if p.isKeyword("AS") {
		p.advance()
	}
	if p.cur.Typ == tIdent {
		item.Alias = p.cur.Val
		p.advance()
	}
	return item, nil
}

func (p *Parser) parseJoin() (JoinClause, error) {
	jt := JoinInner
	switch {
	case p.isKeyword("LEFT"):
		p.advance()
		if p.isKeyword("OUTER") {
			p.advance()
		}
		jt = JoinLeft
	case p.isKeyword("RIGHT"):
		p.advance()
		if p.isKeyword("OUTER") {
			p.advance()
		}
		jt = JoinRight
	case p.isKeyword("INNER"):
		p.advance()
	case p.isKeyword("CROSS"):
		p.advance()
		jt = JoinCross
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return JoinClause{}, err
	}
	item, err := p.parseFromItem()
	if err != nil {
		return JoinClause{}, err
	}
	jc := JoinClause{Type: jt, Item: item}
	if jt != JoinCross {
		if err := p.expectKeyword("ON"); err != nil {
			return jc, err
		}
		on, err := p.parseExpr(0)
		if err != nil {
			return jc, err
		}
		jc.On = on
	}
	return jc, nil
}

// ------------------------------ Expressions ------------------------------
//
// Pratt / precedence-climbing parser (§4.G). Precedence, low to high:
// OR < AND < NOT < comparison/IS/IN/LIKE/BETWEEN < +/- < * / % < unary.

func precedenceOf(op string) int {
	switch op {
	case "OR":
		return 1
	case "AND":
		return 2
	case "=", "==", "!=", "<>", "<", "<=", ">", ">=", "IS", "IN", "LIKE", "GLOB", "BETWEEN",
		"NOT IN", "NOT LIKE", "NOT BETWEEN":
		return 3
	case "||":
		return 4
	case "+", "-":
		return 5
	case "*", "/", "%":
		return 6
	default:
		return -1
	}
}

func (p *Parser) parseExpr(minPrec int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekBinaryOp()
		if !ok {
			break
		}
		prec := precedenceOf(op)
		if prec < minPrec {
			break
		}
		switch op {
		case "IS":
			p.consumeBinaryOp(op)
			negate := false
			if p.isKeyword("NOT") {
				p.advance()
				negate = true
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			left = IsNull{Expr: left, Negate: negate}
			continue
		case "BETWEEN", "NOT BETWEEN":
			p.consumeBinaryOp(op)
			lo, err := p.parseExpr(precedenceOf("+"))
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return nil, err
			}
			hi, err := p.parseExpr(precedenceOf("+"))
			if err != nil {
				return nil, err
			}
			left = Between{Expr: left, Low: lo, High: hi, Negate: op == "NOT BETWEEN"}
			continue
		case "IN", "NOT IN":
			p.consumeBinaryOp(op)
			if err := p.expectSymbol("("); err != nil {
				return nil, err
			}
			var list []Expr
			for !p.isSymbol(")") {
				e, err := p.parseExpr(0)
				if err != nil {
					return nil, err
				}
				list = append(list, e)
				if p.isSymbol(",") {
					p.advance()
					continue
				}
				break
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			left = InList{Expr: left, List: list, Negate: op == "NOT IN"}
			continue
		}
		p.consumeBinaryOp(op)
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// peekBinaryOp reports the next binary operator (without consuming
// multi-token forms like NOT LIKE / NOT IN / NOT BETWEEN, which the
// caller handles by checking NOT first).
func (p *Parser) peekBinaryOp() (string, bool) {
	if p.cur.Typ == tSymbol {
		switch p.cur.Val {
		case "=", "==", "!=", "<>", "<", "<=", ">", ">=", "+", "-", "*", "/", "%", "||":
			return normalizeOp(p.cur.Val), true
		}
		return "", false
	}
	if p.cur.Typ == tKeyword {
		switch p.cur.Val {
		case "AND", "OR", "IS", "IN", "LIKE", "GLOB", "BETWEEN":
			return p.cur.Val, true
		case "NOT":
			switch p.peek.Val {
			case "IN", "LIKE", "BETWEEN":
				return "NOT " + p.peek.Val, true
			}
		}
	}
	return "", false
}

func (p *Parser) consumeBinaryOp(op string) {
	if strings.HasPrefix(op, "NOT ") {
		p.advance()
		p.advance()
		return
	}
	p.advance()
}

func normalizeOp(op string) string {
	if op == "==" {
		return "="
	}
	if op == "<>" {
		return "!="
	}
	return op
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.isKeyword("NOT") {
		p.advance()
		e, err := p.parseExpr(precedenceOf("AND"))
		if err != nil {
			return nil, err
		}
		return Unary{Op: "NOT", Expr: e}, nil
	}
	if p.isSymbol("-") || p.isSymbol("+") {
		op := p.cur.Val
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: op, Expr: e}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch {
	case p.cur.Typ == tNumber:
		v := p.cur.Val
		p.advance()
		if strings.Contains(v, ".") {
			f, _ := strconv.ParseFloat(v, 64)
			return Literal{Val: record.Float(f)}, nil
		}
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			f, _ := strconv.ParseFloat(v, 64)
			return Literal{Val: record.Float(f)}, nil
		}
		return Literal{Val: record.Integer(i)}, nil
	case p.cur.Typ == tString:
		s := p.cur.Val
		p.advance()
		return Literal{Val: record.Text(s)}, nil
	case p.isKeyword("NULL"):
		p.advance()
		return Literal{Val: record.Null()}, nil
	case p.isKeyword("TRUE"):
		p.advance()
		return Literal{Val: record.Integer(1)}, nil
	case p.isKeyword("FALSE"):
		p.advance()
		return Literal{Val: record.Integer(0)}, nil
	case p.isKeyword("CASE"):
		return p.parseCase()
	case p.isKeyword("CAST"):
		return p.parseCast()
	case p.isSymbol("("):
		p.advance()
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.cur.Typ == tIdent || p.cur.Typ == tKeyword:
		name := p.cur.Val
		p.advance()
		if p.isSymbol(".") {
			p.advance()
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			return VarRef{Table: name, Name: col}, nil
		}
		if p.isSymbol("(") {
			return p.parseFuncCallArgs(name)
		}
		return VarRef{Name: name}, nil
	default:
		return nil, p.errf("unexpected token in expression")
	}
}

func (p *Parser) parseFuncCallArgs(name string) (Expr, error) {
	p.advance() // consume '('
	fc := FuncCall{Name: strings.ToUpper(name)}
	if p.isSymbol("*") {
		p.advance()
		fc.Star = true
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return fc, nil
	}
	if p.isKeyword("DISTINCT") {
		p.advance()
	}
	if !p.isSymbol(")") {
		for {
			a, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			fc.Args = append(fc.Args, a)
			if p.isSymbol(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return fc, nil
}

func (p *Parser) parseCast() (Expr, error) {
	p.advance()
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	e, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	var typeParts []string
	for p.cur.Typ == tKeyword || p.cur.Typ == tIdent {
		typeParts = append(typeParts, p.cur.Val)
		p.advance()
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return Cast{Expr: e, Affinity: record.ParseAffinity(strings.Join(typeParts, " "))}, nil
}

func (p *Parser) parseCase() (Expr, error) {
	p.advance()
	ce := CaseExpr{}
	if !p.isKeyword("WHEN") {
		op, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		ce.Operand = op
	}
	for p.isKeyword("WHEN") {
		p.advance()
		cond, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		res, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		ce.Whens = append(ce.Whens, WhenClause{Cond: cond, Result: res})
	}
	if p.isKeyword("ELSE") {
		p.advance()
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		ce.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return ce, nil
}

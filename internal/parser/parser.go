package parser

import (
	"fmt"
	"net/netip"
	"strconv"

	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/lexer"
	"armour.dev/armour/internal/literals"
	"armour.dev/armour/internal/types"
)

// Error is a syntax error carrying the offending token's location.
type Error struct {
	Msg string
	Loc lexer.Loc
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s on %s", e.Msg, e.Loc)
}

type parser struct {
	toks []lexer.Token
	pos  int
}

// Parse tokenizes and parses a full policy source file.
func Parse(src string) (*Program, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.program()
}

// ParseExpr parses a single expression; the tests use it.
func ParseExpr(src string) (Expr, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != lexer.EOF {
		return nil, p.errorf("unexpected %s after expression", p.peek())
	}
	return e, nil
}

func (p *parser) peek() lexer.Token   { return p.toks[p.pos] }
func (p *parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if t.Type != lexer.EOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...), Loc: p.peek().Loc}
}

func (p *parser) expect(tt lexer.TokenType) (lexer.Token, error) {
	if p.peek().Type != tt {
		return lexer.Token{}, p.errorf("expecting %s, got %s", tt, p.peek())
	}
	return p.advance(), nil
}

func (p *parser) accept(tt lexer.TokenType) bool {
	if p.peek().Type == tt {
		p.advance()
		return true
	}
	return false
}

// program: { fn decl | external decl }
func (p *parser) program() (*Program, error) {
	prog := &Program{}
	for {
		switch p.peek().Type {
		case lexer.EOF:
			return prog, nil
		case lexer.FN:
			fn, err := p.fnDecl()
			if err != nil {
				return nil, err
			}
			prog.Fns = append(prog.Fns, *fn)
		case lexer.EXTERNAL:
			ext, err := p.externalDecl()
			if err != nil {
				return nil, err
			}
			prog.Externals = append(prog.Externals, *ext)
		default:
			return nil, p.errorf("expecting declaration, got %s", p.peek())
		}
	}
}

// fn decl: fn name(p: T, ...) -> T { block }
func (p *parser) fnDecl() (*FnDecl, error) {
	at := p.advance().Loc // fn
	name, err := p.expect(lexer.IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	var params []Param
	for p.peek().Type != lexer.RPAREN {
		if len(params) > 0 {
			if _, err := p.expect(lexer.COMMA); err != nil {
				return nil, err
			}
		}
		pname, err := p.paramName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.COLON); err != nil {
			return nil, err
		}
		typ, err := p.typ()
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Name: pname.Text, Typ: typ, At: pname.Loc})
	}
	p.advance() // RPAREN
	ret := types.Unit
	if p.accept(lexer.ARROW) {
		ret, err = p.typ()
		if err != nil {
			return nil, err
		}
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &FnDecl{Name: name.Text, Params: params, Ret: ret, Body: body, At: at}, nil
}

func (p *parser) paramName() (lexer.Token, error) {
	if p.peek().Type == lexer.UNDERSCORE {
		t := p.advance()
		t.Text = "_"
		return t, nil
	}
	return p.expect(lexer.IDENT)
}

// external decl: external name @ "url" { fn m(T, ...) -> T ... }
func (p *parser) externalDecl() (*ExternalDecl, error) {
	at := p.advance().Loc // external
	name, err := p.expect(lexer.IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.AT); err != nil {
		return nil, err
	}
	url, err := p.expect(lexer.STRING)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}
	ext := &ExternalDecl{Name: name.Text, URL: url.Text, At: at}
	for p.peek().Type != lexer.RBRACE {
		if _, err := p.expect(lexer.FN); err != nil {
			return nil, err
		}
		mname, err := p.expect(lexer.IDENT)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.LPAREN); err != nil {
			return nil, err
		}
		sig := MethodSig{Name: mname.Text, At: mname.Loc}
		for p.peek().Type != lexer.RPAREN {
			if len(sig.Args) > 0 {
				if _, err := p.expect(lexer.COMMA); err != nil {
					return nil, err
				}
			}
			if p.accept(lexer.UNDERSCORE) {
				sig.Args = append(sig.Args, types.Return)
				continue
			}
			t, err := p.typ()
			if err != nil {
				return nil, err
			}
			sig.Args = append(sig.Args, t)
		}
		p.advance() // RPAREN
		sig.Ret = types.Unit
		if p.accept(lexer.ARROW) {
			if sig.Ret, err = p.typ(); err != nil {
				return nil, err
			}
		}
		ext.Methods = append(ext.Methods, sig)
	}
	p.advance() // RBRACE
	return ext, nil
}

// typ: atom | List<T> | Option<T> | (T, ...) | ()
func (p *parser) typ() (types.Typ, error) {
	switch p.peek().Type {
	case lexer.LPAREN:
		p.advance()
		if p.accept(lexer.RPAREN) {
			return types.Unit, nil
		}
		var elems []types.Typ
		for {
			t, err := p.typ()
			if err != nil {
				return types.Typ{}, err
			}
			elems = append(elems, t)
			if !p.accept(lexer.COMMA) {
				break
			}
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return types.Typ{}, err
		}
		if len(elems) == 1 {
			return elems[0], nil
		}
		return types.TupleOf(elems...), nil
	case lexer.IDENT:
		name := p.advance()
		if name.Text == "List" || name.Text == "Option" {
			if _, err := p.expect(lexer.LT); err != nil {
				return types.Typ{}, err
			}
			inner, err := p.typ()
			if err != nil {
				return types.Typ{}, err
			}
			if _, err := p.expect(lexer.GT); err != nil {
				return types.Typ{}, err
			}
			if name.Text == "List" {
				return types.ListOf(inner), nil
			}
			return types.Option(inner), nil
		}
		t, ok := types.FromName(name.Text)
		if !ok {
			return types.Typ{}, &Error{Msg: fmt.Sprintf("expecting type, got %s", name.Text), Loc: name.Loc}
		}
		return t, nil
	default:
		return types.Typ{}, p.errorf("expecting type, got %s", p.peek())
	}
}

// block: { stmt; ...; expr? }
func (p *parser) block() (*Block, error) {
	open, err := p.expect(lexer.LBRACE)
	if err != nil {
		return nil, err
	}
	b := &Block{At: open.Loc}
	for p.peek().Type != lexer.RBRACE {
		if p.peek().Type == lexer.LET {
			st, err := p.letStmt()
			if err != nil {
				return nil, err
			}
			b.Stmts = append(b.Stmts, st)
			continue
		}
		at := p.peek().Loc
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		semi := p.accept(lexer.SEMI)
		b.Stmts = append(b.Stmts, &ExprStmt{loc: loc{at}, Expr: e, Semi: semi})
		if !semi && p.peek().Type != lexer.RBRACE {
			// block-shaped expressions (if, match) act as statements without
			// an explicit semicolon
			switch e.(type) {
			case *IfExpr, *IfSomeExpr, *IfMatchExpr:
			default:
				return nil, p.errorf("expecting ';' or '}', got %s", p.peek())
			}
		}
	}
	p.advance() // RBRACE
	return b, nil
}

// letStmt: let x = e; | let (x, y) = e;
func (p *parser) letStmt() (Stmt, error) {
	at := p.advance().Loc // let
	var names []string
	if p.accept(lexer.LPAREN) {
		for {
			n, err := p.paramName()
			if err != nil {
				return nil, err
			}
			names = append(names, n.Text)
			if !p.accept(lexer.COMMA) {
				break
			}
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return nil, err
		}
	} else {
		n, err := p.paramName()
		if err != nil {
			return nil, err
		}
		names = append(names, n.Text)
	}
	if _, err := p.expect(lexer.ASSIGN); err != nil {
		return nil, err
	}
	val, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.SEMI); err != nil {
		return nil, err
	}
	return &LetStmt{loc: loc{at}, Names: names, Value: val}, nil
}

// Operator precedence, loosest first.
var precedence = []([]InfixOp){
	{OpOr},
	{OpAnd},
	{OpEq, OpNeq, OpIn},
	{OpLt, OpLe, OpGt, OpGe},
	{OpConcat},
	{OpAdd, OpSub},
	{OpMul, OpDiv, OpRem},
}

var tokenOps = map[lexer.TokenType]InfixOp{
	lexer.OR: OpOr, lexer.AND: OpAnd, lexer.EQ: OpEq, lexer.NEQ: OpNeq,
	lexer.IN: OpIn, lexer.LT: OpLt, lexer.LE: OpLe, lexer.GT: OpGt,
	lexer.GE: OpGe, lexer.CONCAT: OpConcat, lexer.PLUS: OpAdd,
	lexer.MINUS: OpSub, lexer.STAR: OpMul, lexer.SLASH: OpDiv,
	lexer.PERCENT: OpRem,
}

func (p *parser) expr() (Expr, error) {
	if p.peek().Type == lexer.RETURN {
		at := p.advance().Loc
		// `return` with no value returns unit
		switch p.peek().Type {
		case lexer.SEMI, lexer.RBRACE:
			return &ReturnExpr{loc: loc{at}}, nil
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		return &ReturnExpr{loc: loc{at}, Expr: e}, nil
	}
	return p.binary(0)
}

func (p *parser) binary(level int) (Expr, error) {
	if level >= len(precedence) {
		return p.unary()
	}
	left, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := tokenOps[p.peek().Type]
		if !ok || !opIn(op, precedence[level]) {
			return left, nil
		}
		at := p.advance().Loc
		right, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &InfixExpr{loc: loc{at}, Op: op, Left: left, Right: right}
	}
}

func opIn(op InfixOp, ops []InfixOp) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func (p *parser) unary() (Expr, error) {
	switch p.peek().Type {
	case lexer.BANG:
		at := p.advance().Loc
		arg, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &PrefixExpr{loc: loc{at}, Op: OpNot, Arg: arg}, nil
	case lexer.MINUS:
		at := p.advance().Loc
		arg, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &PrefixExpr{loc: loc{at}, Op: OpNeg, Arg: arg}, nil
	}
	return p.postfix()
}

// postfix: atom followed by dot-method calls
func (p *parser) postfix() (Expr, error) {
	e, err := p.atom()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == lexer.DOT {
		at := p.advance().Loc
		name, err := p.expect(lexer.IDENT)
		if err != nil {
			return nil, err
		}
		args := []Expr{e}
		if p.accept(lexer.LPAREN) {
			for p.peek().Type != lexer.RPAREN {
				if len(args) > 1 {
					if _, err := p.expect(lexer.COMMA); err != nil {
						return nil, err
					}
				}
				a, err := p.expr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
			}
			p.advance() // RPAREN
		}
		e = &CallExpr{loc: loc{at}, Name: ".::" + name.Text, Args: args}
	}
	return e, nil
}

func (p *parser) atom() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.INT:
		p.advance()
		i, _ := strconv.ParseInt(tok.Text, 10, 64)
		return &LitExpr{loc: loc{tok.Loc}, Lit: literals.Int(i)}, nil
	case lexer.FLOAT:
		p.advance()
		f, _ := strconv.ParseFloat(tok.Text, 64)
		return &LitExpr{loc: loc{tok.Loc}, Lit: literals.Float(f)}, nil
	case lexer.STRING:
		p.advance()
		return &LitExpr{loc: loc{tok.Loc}, Lit: literals.Str(tok.Text)}, nil
	case lexer.TRUE, lexer.FALSE:
		p.advance()
		return &LitExpr{loc: loc{tok.Loc}, Lit: literals.Bool(tok.Type == lexer.TRUE)}, nil
	case lexer.LABEL:
		p.advance()
		l, err := labels.Parse(tok.Text)
		if err != nil {
			return nil, &Error{Msg: err.Error(), Loc: tok.Loc}
		}
		return &LitExpr{loc: loc{tok.Loc}, Lit: literals.LabelLit(l)}, nil
	case lexer.IPV4:
		p.advance()
		a, err := netip.ParseAddr(tok.Text)
		if err != nil {
			return nil, &Error{Msg: fmt.Sprintf("bad IP address %q", tok.Text), Loc: tok.Loc}
		}
		return &LitExpr{loc: loc{tok.Loc}, Lit: literals.IP(a)}, nil
	case lexer.NONE:
		p.advance()
		return &NoneExpr{loc: loc{tok.Loc}}, nil
	case lexer.SOME:
		p.advance()
		if _, err := p.expect(lexer.LPAREN); err != nil {
			return nil, err
		}
		arg, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return nil, err
		}
		return &SomeExpr{loc: loc{tok.Loc}, Arg: arg}, nil
	case lexer.IF:
		return p.ifExpr()
	case lexer.LBRACKET:
		p.advance()
		var elems []Expr
		for p.peek().Type != lexer.RBRACKET {
			if len(elems) > 0 {
				if _, err := p.expect(lexer.COMMA); err != nil {
					return nil, err
				}
			}
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
		}
		p.advance() // RBRACKET
		return &ListExpr{loc: loc{tok.Loc}, Elems: elems}, nil
	case lexer.LPAREN:
		p.advance()
		if p.accept(lexer.RPAREN) {
			return &LitExpr{loc: loc{tok.Loc}, Lit: literals.Unit()}, nil
		}
		var elems []Expr
		for {
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
			if !p.accept(lexer.COMMA) {
				break
			}
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return nil, err
		}
		if len(elems) == 1 {
			return elems[0], nil
		}
		return &TupleExpr{loc: loc{tok.Loc}, Elems: elems}, nil
	case lexer.IDENT:
		return p.identOrCall()
	}
	return nil, p.errorf("unexpected %s", tok)
}

// identOrCall: x | f(args) | mod::f(args)
func (p *parser) identOrCall() (Expr, error) {
	name := p.advance()
	full := name.Text
	for p.peek().Type == lexer.COLONCOLON && p.peekAt(1).Type == lexer.IDENT {
		p.advance() // ::
		part := p.advance()
		full = full + "::" + part.Text
	}
	if p.peek().Type != lexer.LPAREN {
		if full != name.Text {
			return nil, &Error{Msg: fmt.Sprintf("qualified name %s must be called", full), Loc: name.Loc}
		}
		return &IdentExpr{loc: loc{name.Loc}, Name: name.Text}, nil
	}
	p.advance() // LPAREN
	var args []Expr
	for p.peek().Type != lexer.RPAREN {
		if len(args) > 0 {
			if _, err := p.expect(lexer.COMMA); err != nil {
				return nil, err
			}
		}
		a, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	p.advance() // RPAREN
	return &CallExpr{loc: loc{name.Loc}, Name: full, Args: args}, nil
}

// ifExpr: if e {…} else {…} | if let Some(x) = e {…} | if match e { arms }
func (p *parser) ifExpr() (Expr, error) {
	at := p.advance().Loc // if
	switch p.peek().Type {
	case lexer.LET:
		p.advance()
		if _, err := p.expect(lexer.SOME); err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.LPAREN); err != nil {
			return nil, err
		}
		v, err := p.paramName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.ASSIGN); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		then, err := p.block()
		if err != nil {
			return nil, err
		}
		var els *Block
		if p.accept(lexer.ELSE) {
			if els, err = p.block(); err != nil {
				return nil, err
			}
		}
		return &IfSomeExpr{loc: loc{at}, Var: v.Text, Expr: e, Then: then, Else: els}, nil
	case lexer.MATCH:
		p.advance()
		scrut, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.LBRACE); err != nil {
			return nil, err
		}
		var arms []MatchArm
		for p.peek().Type != lexer.RBRACE {
			if len(arms) > 0 {
				if _, err := p.expect(lexer.COMMA); err != nil {
					return nil, err
				}
				if p.peek().Type == lexer.RBRACE {
					break
				}
			}
			pat, err := p.pattern()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.FATARROW); err != nil {
				return nil, err
			}
			body, err := p.expr()
			if err != nil {
				return nil, err
			}
			arms = append(arms, MatchArm{Pattern: pat, Body: body})
		}
		p.advance() // RBRACE
		if len(arms) == 0 {
			return nil, &Error{Msg: "match with no arms", Loc: at}
		}
		m := &IfMatchExpr{loc: loc{at}, Scrutinee: scrut, Arms: arms}
		if p.accept(lexer.ELSE) {
			els, err := p.block()
			if err != nil {
				return nil, err
			}
			m.Else = els
		}
		return m, nil
	default:
		cond, err := p.expr()
		if err != nil {
			return nil, err
		}
		then, err := p.block()
		if err != nil {
			return nil, err
		}
		ife := &IfExpr{loc: loc{at}, Cond: cond, Then: then}
		if p.accept(lexer.ELSE) {
			if p.peek().Type == lexer.IF {
				nested, err := p.ifExpr()
				if err != nil {
					return nil, err
				}
				ife.Else = &Block{At: nested.Pos(), Stmts: []Stmt{
					&ExprStmt{loc: loc{nested.Pos()}, Expr: nested},
				}}
			} else {
				if ife.Else, err = p.block(); err != nil {
					return nil, err
				}
			}
		}
		return ife, nil
	}
}

func (p *parser) pattern() (Pattern, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.UNDERSCORE:
		p.advance()
		return Pattern{Kind: PatWildcard, At: tok.Loc}, nil
	case lexer.NONE:
		p.advance()
		return Pattern{Kind: PatNone, At: tok.Loc}, nil
	case lexer.SOME:
		p.advance()
		if _, err := p.expect(lexer.LPAREN); err != nil {
			return Pattern{}, err
		}
		v, err := p.paramName()
		if err != nil {
			return Pattern{}, err
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return Pattern{}, err
		}
		return Pattern{Kind: PatSome, Name: v.Text, At: tok.Loc}, nil
	case lexer.INT:
		p.advance()
		i, _ := strconv.ParseInt(tok.Text, 10, 64)
		return Pattern{Kind: PatLit, Lit: literals.Int(i), At: tok.Loc}, nil
	case lexer.STRING:
		p.advance()
		return Pattern{Kind: PatLit, Lit: literals.Str(tok.Text), At: tok.Loc}, nil
	case lexer.TRUE, lexer.FALSE:
		p.advance()
		return Pattern{Kind: PatLit, Lit: literals.Bool(tok.Type == lexer.TRUE), At: tok.Loc}, nil
	case lexer.LABEL:
		p.advance()
		l, err := labels.Parse(tok.Text)
		if err != nil {
			return Pattern{}, &Error{Msg: err.Error(), Loc: tok.Loc}
		}
		return Pattern{Kind: PatLit, Lit: literals.LabelLit(l), At: tok.Loc}, nil
	default:
		return Pattern{}, &Error{Msg: fmt.Sprintf("expecting pattern, got %s", tok), Loc: tok.Loc}
	}
}

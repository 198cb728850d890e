package compiler

import (
	"fmt"
	"strconv"
)

// Parser is a recursive-descent parser over the lexed token stream.
// It builds the AST only; all semantic checking happens later, so the
// parser accepts e.g. calls to unknown functions.
type Parser struct {
	tokens []Token
	pos    int

	// structNames lets the parser tell "Light l;" (declaration) apart
	// from "light = ...;" (assignment) without full symbol resolution.
	structNames map[string]bool
}

// Parse lexes and parses one compilation unit.
func Parse(src string) (*Program, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens, structNames: make(map[string]bool)}
	return p.parseProgram()
}

func (p *Parser) peek() Token { return p.tokens[p.pos] }

func (p *Parser) peek2() Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) advance() Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) check(tt TokenType) bool { return p.peek().Type == tt }

func (p *Parser) match(tt TokenType) bool {
	if p.check(tt) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(tt TokenType, context string) (Token, error) {
	if p.check(tt) {
		return p.advance(), nil
	}
	t := p.peek()
	return Token{}, fmt.Errorf("line %d: expected %s in %s, got %s (%q)",
		t.Line, tt, context, t.Type, t.Lexeme)
}

func (p *Parser) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: "+format, append([]any{p.peek().Line}, args...)...)
}

// parseProgram reads top-level declarations until EOF.
func (p *Parser) parseProgram() (*Program, error) {
	prog := &Program{}
	for !p.check(EOF) {
		switch {
		case p.check(STRUCT):
			sd, err := p.parseStructDecl()
			if err != nil {
				return nil, err
			}
			prog.Structs = append(prog.Structs, sd)
		case p.check(CONST):
			cd, err := p.parseConstDecl()
			if err != nil {
				return nil, err
			}
			prog.Consts = append(prog.Consts, cd)
		default:
			fn, err := p.parseFunctionDecl()
			if err != nil {
				return nil, err
			}
			prog.Functions = append(prog.Functions, fn)
		}
	}
	return prog, nil
}

// parseTypeSpec reads a base type, without any array suffix. The array
// suffix sits after the declared name, so declarations call
// parseArraySuffix separately.
func (p *Parser) parseTypeSpec(allowVoid bool) (TypeSpec, error) {
	t := p.peek()
	if isTypeToken(t.Type) || (allowVoid && t.Type == VOID) {
		p.advance()
		return TypeSpec{Token: t.Type, Line: t.Line}, nil
	}
	if t.Type == IDENTIFIER && p.structNames[t.Lexeme] {
		p.advance()
		return TypeSpec{Token: IDENTIFIER, Name: t.Lexeme, Line: t.Line}, nil
	}
	return TypeSpec{}, p.errorf("expected a type, got %q", t.Lexeme)
}

// parseArraySuffix attaches an optional [size] to ts.
func (p *Parser) parseArraySuffix(ts TypeSpec) (TypeSpec, error) {
	if !p.match(LBRACKET) {
		return ts, nil
	}
	size, err := p.parseExpr()
	if err != nil {
		return TypeSpec{}, err
	}
	if _, err := p.expect(RBRACKET, "array declaration"); err != nil {
		return TypeSpec{}, err
	}
	ts.ArraySize = size
	return ts, nil
}

func (p *Parser) parseStructDecl() (*StructDecl, error) {
	kw := p.advance() // struct
	name, err := p.expect(IDENTIFIER, "struct declaration")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(LBRACE, "struct declaration"); err != nil {
		return nil, err
	}
	sd := &StructDecl{baseNode: baseNode{Line: kw.Line}, Name: name.Lexeme}
	for !p.check(RBRACE) && !p.check(EOF) {
		ft, err := p.parseTypeSpec(false)
		if err != nil {
			return nil, err
		}
		fname, err := p.expect(IDENTIFIER, "struct field")
		if err != nil {
			return nil, err
		}
		ft, err = p.parseArraySuffix(ft)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(SEMICOLON, "struct field"); err != nil {
			return nil, err
		}
		sd.Fields = append(sd.Fields, StructField{Type: ft, Name: fname.Lexeme, Line: fname.Line})
	}
	if _, err := p.expect(RBRACE, "struct declaration"); err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON, "struct declaration"); err != nil {
		return nil, err
	}
	if len(sd.Fields) == 0 {
		return nil, fmt.Errorf("line %d: struct %q has no fields", kw.Line, sd.Name)
	}
	p.structNames[sd.Name] = true
	return sd, nil
}

func (p *Parser) parseConstDecl() (*ConstDecl, error) {
	kw := p.advance() // const
	ts, err := p.parseTypeSpec(false)
	if err != nil {
		return nil, err
	}
	name, err := p.expect(IDENTIFIER, "const declaration")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(ASSIGN, "const declaration"); err != nil {
		return nil, err
	}
	init, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON, "const declaration"); err != nil {
		return nil, err
	}
	return &ConstDecl{baseNode: baseNode{Line: kw.Line}, Type: ts, Name: name.Lexeme, Init: init}, nil
}

func (p *Parser) parseFunctionDecl() (*FunctionDecl, error) {
	ret, err := p.parseTypeSpec(true)
	if err != nil {
		return nil, err
	}
	name, err := p.expect(IDENTIFIER, "function declaration")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(LPAREN, "function declaration"); err != nil {
		return nil, err
	}

	fn := &FunctionDecl{baseNode: baseNode{Line: name.Line}, Name: name.Lexeme, RetType: ret}
	if !p.check(RPAREN) {
		for {
			pd, err := p.parseParam()
			if err != nil {
				return nil, err
			}
			fn.Params = append(fn.Params, pd)
			if !p.match(COMMA) {
				break
			}
		}
	}
	if _, err := p.expect(RPAREN, "function declaration"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

func (p *Parser) parseParam() (ParamDecl, error) {
	qual := QualIn
	switch p.peek().Type {
	case IN:
		p.advance()
	case OUT:
		p.advance()
		qual = QualOut
	case INOUT:
		p.advance()
		qual = QualInOut
	}
	ts, err := p.parseTypeSpec(false)
	if err != nil {
		return ParamDecl{}, err
	}
	name, err := p.expect(IDENTIFIER, "parameter")
	if err != nil {
		return ParamDecl{}, err
	}
	ts, err = p.parseArraySuffix(ts)
	if err != nil {
		return ParamDecl{}, err
	}
	return ParamDecl{Qual: qual, Type: ts, Name: name.Lexeme, Line: name.Line}, nil
}

func (p *Parser) parseBlock() (*BlockStmt, error) {
	lb, err := p.expect(LBRACE, "block")
	if err != nil {
		return nil, err
	}
	blk := &BlockStmt{baseNode: baseNode{Line: lb.Line}}
	for !p.check(RBRACE) && !p.check(EOF) {
		st, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		blk.Stmts = append(blk.Stmts, st)
	}
	if _, err := p.expect(RBRACE, "block"); err != nil {
		return nil, err
	}
	return blk, nil
}

func (p *Parser) parseStmt() (Stmt, error) {
	t := p.peek()
	switch t.Type {
	case LBRACE:
		return p.parseBlock()
	case IF:
		return p.parseIf()
	case WHILE:
		return p.parseWhile()
	case DO:
		return p.parseDoWhile()
	case FOR:
		return p.parseFor()
	case RETURN:
		p.advance()
		rs := &ReturnStmt{baseNode: baseNode{Line: t.Line}}
		if !p.check(SEMICOLON) {
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			rs.Value = v
		}
		if _, err := p.expect(SEMICOLON, "return statement"); err != nil {
			return nil, err
		}
		return rs, nil
	case BREAK:
		p.advance()
		if _, err := p.expect(SEMICOLON, "break statement"); err != nil {
			return nil, err
		}
		return &BreakStmt{baseNode{Line: t.Line}}, nil
	case CONTINUE:
		p.advance()
		if _, err := p.expect(SEMICOLON, "continue statement"); err != nil {
			return nil, err
		}
		return &ContinueStmt{baseNode{Line: t.Line}}, nil
	case CONST:
		return p.parseConstDecl()
	case STRUCT:
		return nil, p.errorf("struct declarations are only allowed at top level")
	}

	if p.startsDecl() {
		return p.parseVarDecl()
	}
	return p.parseSimpleStmt(true)
}

// startsDecl reports whether the upcoming tokens begin a variable
// declaration rather than an expression statement.
func (p *Parser) startsDecl() bool {
	t := p.peek()
	if isTypeToken(t.Type) {
		// "vec3 v" is a declaration; "vec3(...)" is a constructor call.
		return p.peek2().Type == IDENTIFIER
	}
	return t.Type == IDENTIFIER && p.structNames[t.Lexeme] && p.peek2().Type == IDENTIFIER
}

func (p *Parser) parseVarDecl() (Stmt, error) {
	ts, err := p.parseTypeSpec(false)
	if err != nil {
		return nil, err
	}
	name, err := p.expect(IDENTIFIER, "variable declaration")
	if err != nil {
		return nil, err
	}
	ts, err = p.parseArraySuffix(ts)
	if err != nil {
		return nil, err
	}
	vd := &VarDecl{baseNode: baseNode{Line: name.Line}, Type: ts, Name: name.Lexeme}
	if p.match(ASSIGN) {
		init, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		vd.Init = init
	}
	if _, err := p.expect(SEMICOLON, "variable declaration"); err != nil {
		return nil, err
	}
	return vd, nil
}

// parseSimpleStmt parses an assignment or expression statement. When
// wantSemi is false (for-loop headers) the trailing ';' is left alone.
func (p *Parser) parseSimpleStmt(wantSemi bool) (Stmt, error) {
	line := p.peek().Line
	lhs, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	var st Stmt
	switch p.peek().Type {
	case ASSIGN, PLUS_ASSIGN, MINUS_ASSIGN, STAR_ASSIGN, SLASH_ASSIGN:
		op := p.advance().Type
		rhs, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		st = &Assignment{baseNode: baseNode{Line: line}, Op: op, Target: lhs, Value: rhs}
	default:
		st = &ExprStmt{baseNode: baseNode{Line: line}, E: lhs}
	}

	if wantSemi {
		if _, err := p.expect(SEMICOLON, "statement"); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	kw := p.advance() // if
	if _, err := p.expect(LPAREN, "if statement"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN, "if statement"); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	is := &IfStmt{baseNode: baseNode{Line: kw.Line}, Cond: cond, Then: then}
	if p.match(ELSE) {
		if p.check(IF) {
			els, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			is.Else = els
		} else {
			els, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			is.Else = els
		}
	}
	return is, nil
}

func (p *Parser) parseWhile() (Stmt, error) {
	kw := p.advance() // while
	if _, err := p.expect(LPAREN, "while statement"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN, "while statement"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{baseNode: baseNode{Line: kw.Line}, Cond: cond, Body: body}, nil
}

func (p *Parser) parseDoWhile() (Stmt, error) {
	kw := p.advance() // do
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(WHILE, "do-while statement"); err != nil {
		return nil, err
	}
	if _, err := p.expect(LPAREN, "do-while statement"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN, "do-while statement"); err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON, "do-while statement"); err != nil {
		return nil, err
	}
	return &DoWhileStmt{baseNode: baseNode{Line: kw.Line}, Body: body, Cond: cond}, nil
}

func (p *Parser) parseFor() (Stmt, error) {
	kw := p.advance() // for
	if _, err := p.expect(LPAREN, "for statement"); err != nil {
		return nil, err
	}

	fs := &ForStmt{baseNode: baseNode{Line: kw.Line}}
	if !p.check(SEMICOLON) {
		if p.startsDecl() {
			init, err := p.parseVarDecl() // consumes the ';'
			if err != nil {
				return nil, err
			}
			fs.Init = init
		} else {
			init, err := p.parseSimpleStmt(true)
			if err != nil {
				return nil, err
			}
			fs.Init = init
		}
	} else {
		p.advance()
	}

	if !p.check(SEMICOLON) {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fs.Cond = cond
	}
	if _, err := p.expect(SEMICOLON, "for statement"); err != nil {
		return nil, err
	}

	if !p.check(RPAREN) {
		post, err := p.parseSimpleStmt(false)
		if err != nil {
			return nil, err
		}
		fs.Post = post
	}
	if _, err := p.expect(RPAREN, "for statement"); err != nil {
		return nil, err
	}

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fs.Body = body
	return fs, nil
}

// ---- Expressions ----
//
// Precedence, loosest first:
//   ||  &&  |  ^  &  == !=  < > <= >=  << >>  + -  * / %  unary  postfix

func (p *Parser) parseExpr() (Expr, error) { return p.parseLogicalOr() }

func (p *Parser) parseLogicalOr() (Expr, error) {
	left, err := p.parseLogicalAnd()
	if err != nil {
		return nil, err
	}
	for p.check(OR_LOGICAL) {
		op := p.advance()
		right, err := p.parseLogicalAnd()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{baseNode{Line: op.Line}, op.Type, left, right}
	}
	return left, nil
}

func (p *Parser) parseLogicalAnd() (Expr, error) {
	left, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}
	for p.check(AND_LOGICAL) {
		op := p.advance()
		right, err := p.parseBitOr()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{baseNode{Line: op.Line}, op.Type, left, right}
	}
	return left, nil
}

func (p *Parser) parseBitOr() (Expr, error) {
	return p.parseBinaryLevel(p.parseBitXor, PIPE)
}

func (p *Parser) parseBitXor() (Expr, error) {
	return p.parseBinaryLevel(p.parseBitAnd, CARET)
}

func (p *Parser) parseBitAnd() (Expr, error) {
	return p.parseBinaryLevel(p.parseEquality, AMP)
}

func (p *Parser) parseEquality() (Expr, error) {
	return p.parseBinaryLevel(p.parseRelational, EQUALS, NOT_EQ)
}

func (p *Parser) parseRelational() (Expr, error) {
	return p.parseBinaryLevel(p.parseShift, LESS, GREATER, LESS_EQ, GREATER_EQ)
}

func (p *Parser) parseShift() (Expr, error) {
	return p.parseBinaryLevel(p.parseAdditive, SHL_OP, SHR_OP)
}

func (p *Parser) parseAdditive() (Expr, error) {
	return p.parseBinaryLevel(p.parseMultiplicative, PLUS, MINUS)
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	return p.parseBinaryLevel(p.parseUnary, STAR, SLASH, PERCENT)
}

// parseBinaryLevel is one left-associative precedence level.
func (p *Parser) parseBinaryLevel(next func() (Expr, error), ops ...TokenType) (Expr, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := false
		for _, op := range ops {
			if p.check(op) {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		op := p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{baseNode{Line: op.Line}, op.Type, left, right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	t := p.peek()
	switch t.Type {
	case MINUS, NOT, TILDE, PLUS_PLUS, MINUS_MINUS:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{baseNode{Line: t.Line}, t.Type, operand}, nil
	case PLUS:
		p.advance()
		return p.parseUnary()
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().Type {
		case DOT:
			dot := p.advance()
			member, err := p.expect(IDENTIFIER, "member access")
			if err != nil {
				return nil, err
			}
			e = &MemberExpr{baseNode{Line: dot.Line}, e, member.Lexeme}
		case LBRACKET:
			lb := p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RBRACKET, "index expression"); err != nil {
				return nil, err
			}
			e = &IndexExpr{baseNode{Line: lb.Line}, e, idx}
		case PLUS_PLUS, MINUS_MINUS:
			op := p.advance()
			e = &PostfixExpr{baseNode{Line: op.Line}, op.Type, e}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.Type {
	case FLOAT_LIT:
		p.advance()
		v, err := strconv.ParseFloat(t.Lexeme, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad float literal %q", t.Line, t.Lexeme)
		}
		return &FloatLit{baseNode{Line: t.Line}, v}, nil
	case INT_LIT:
		p.advance()
		v, err := strconv.ParseInt(t.Lexeme, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad integer literal %q", t.Line, t.Lexeme)
		}
		return &IntLit{baseNode{Line: t.Line}, v}, nil
	case UINT_LIT:
		p.advance()
		v, err := strconv.ParseUint(t.Lexeme, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad unsigned literal %q", t.Line, t.Lexeme)
		}
		return &UintLit{baseNode{Line: t.Line}, v}, nil
	case TRUE:
		p.advance()
		return &BoolLit{baseNode{Line: t.Line}, true}, nil
	case FALSE:
		p.advance()
		return &BoolLit{baseNode{Line: t.Line}, false}, nil
	case STRING:
		p.advance()
		return &StringLit{baseNode{Line: t.Line}, t.Lexeme}, nil

	case LPAREN:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN, "parenthesised expression"); err != nil {
			return nil, err
		}
		return e, nil

	case FLOAT, INT, UINT, BOOL, VEC2, VEC3, VEC4, BVEC2, BVEC3, BVEC4,
		MAT2, MAT3, MAT4:
		// Type keyword in expression position is always a constructor.
		p.advance()
		return p.parseCallArgs(t, &ConstructorCall{
			baseNode: baseNode{Line: t.Line},
			TypeName: t.Lexeme,
		})

	case IDENTIFIER:
		p.advance()
		if p.check(LPAREN) {
			if p.structNames[t.Lexeme] {
				return p.parseCallArgs(t, &ConstructorCall{
					baseNode: baseNode{Line: t.Line},
					TypeName: t.Lexeme,
				})
			}
			return p.parseCallArgs(t, &CallExpr{
				baseNode: baseNode{Line: t.Line},
				Name:     t.Lexeme,
			})
		}
		return &VarRef{baseNode{Line: t.Line}, t.Lexeme}, nil
	}
	return nil, p.errorf("unexpected token %q in expression", t.Lexeme)
}

// parseCallArgs fills in the argument list of a call or constructor.
func (p *Parser) parseCallArgs(at Token, call Expr) (Expr, error) {
	if _, err := p.expect(LPAREN, "call"); err != nil {
		return nil, err
	}
	var args []Expr
	if !p.check(RPAREN) {
		for {
			a, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if !p.match(COMMA) {
				break
			}
		}
	}
	if _, err := p.expect(RPAREN, "call"); err != nil {
		return nil, err
	}
	switch c := call.(type) {
	case *CallExpr:
		c.Args = args
	case *ConstructorCall:
		c.Args = args
	}
	return call, nil
}

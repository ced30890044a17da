package compiler

import "slices"

// Parser consumes the flat token slice produced by the Lexer and builds an AST.
//
// Grammar (lowest to highest binding):
//
//	program        = exprStmt* EOF
//	exprStmt       = expression (";" | EOF)
//	expression     = assignment
//	assignment     = equality (":=" assignment)?
//	equality       = comparison (("==" | "!=") comparison)*
//	comparison     = implication ((">" | ">=" | "<" | "<=") implication)*
//	implication    = or (("imp" | "nimp") implication)?
//	or             = xor (("or" | "nor") xor)*
//	xor            = and (("xor" | "xnor") and)*
//	and            = additive (("and" | "nand") additive)*
//	additive       = multiplicative (("+" | "-") multiplicative)*
//	multiplicative = unary (("*" | "/" | "%") unary)*
//	unary          = ("not" | "-") unary | primary
//	primary        = NUMBER | STRING | "true" | "false" | IDENTIFIER | "(" expression ")"
//
// Assignment and implication are right-associative; every other binary tier
// is left-associative.
type Parser struct {
	tokens []Token
	pos    int
}

func NewParser(tokens []Token) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != EOF {
		tokens = append(slices.Clone(tokens), Token{Type: EOF, Pos: Position{Columns: EmptyRange}, Offsets: EmptyRange})
	}
	return &Parser{tokens: tokens}
}

// syncKeywords start a new statement; panic-mode recovery stops before them.
var syncKeywords = []TokenType{IF, WHILE, REPEAT, PRINT, PRINTLN, LEFT_BRACE}

func (p *Parser) errorAt(tok Token, sentinel error, msg string) *ParseError {
	return &ParseError{Token: tok, Msg: msg, Err: sentinel}
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

// previous returns the most recently consumed token.
func (p *Parser) previous() Token {
	return p.tokens[p.pos-1]
}

func (p *Parser) atEnd() bool { return p.peek().Type == EOF }

// advance consumes and returns the current token. EOF is never consumed.
func (p *Parser) advance() Token {
	tok := p.peek()
	if !p.atEnd() {
		p.pos++
	}
	return tok
}

// match consumes the current token if it has one of the given types.
func (p *Parser) match(types ...TokenType) bool {
	if p.atEnd() {
		return false
	}
	if slices.Contains(types, p.peek().Type) {
		p.advance()
		return true
	}
	return false
}

// expect consumes the current token if it matches tt, otherwise returns an error
// at the current token.
func (p *Parser) expect(tt TokenType, msg string) (Token, error) {
	if p.peek().Type == tt && !p.atEnd() {
		return p.advance(), nil
	}
	return p.peek(), p.errorAt(p.peek(), ErrExpectedToken, msg)
}

// parseExpression is the entry point for expression parsing.
func (p *Parser) parseExpression() (Expr, error) {
	return p.parseAssignment()
}

// parseAssignment handles := (right-associative)
func (p *Parser) parseAssignment() (Expr, error) {
	expr, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	if !p.match(COLON_EQUAL) {
		return expr, nil
	}
	op := p.previous()
	target, ok := expr.(*Var)
	if !ok {
		return nil, p.errorAt(op, ErrInvalidAssignmentTarget, "invalid assignment target")
	}
	value, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	return &Assignment{Name: target.Name, Value: value}, nil
}

// leftAssoc parses next (op next)* and folds the chain to the left with build.
func (p *Parser) leftAssoc(next func() (Expr, error), build func(l Expr, op Token, r Expr) Expr, ops ...TokenType) (Expr, error) {
	expr, err := next()
	if err != nil {
		return nil, err
	}
	for p.match(ops...) {
		op := p.previous()
		right, err := next()
		if err != nil {
			return nil, err
		}
		expr = build(expr, op, right)
	}
	return expr, nil
}

func binary(l Expr, op Token, r Expr) Expr  { return &Binary{Left: l, Op: op, Right: r} }
func logical(l Expr, op Token, r Expr) Expr { return &Logical{Left: l, Op: op, Right: r} }

// parseEquality handles == and !=
func (p *Parser) parseEquality() (Expr, error) {
	return p.leftAssoc(p.parseComparison, binary, EQUAL_EQUAL, BANG_EQUAL)
}

// parseComparison handles < <= > >=
func (p *Parser) parseComparison() (Expr, error) {
	return p.leftAssoc(p.parseImplication, binary, GREATER, GREATER_EQUAL, LESS, LESS_EQUAL)
}

// parseImplication handles imp and nimp (right-associative)
func (p *Parser) parseImplication() (Expr, error) {
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.match(IMP, NIMP) {
		return expr, nil
	}
	op := p.previous()
	right, err := p.parseImplication()
	if err != nil {
		return nil, err
	}
	return &Logical{Left: expr, Op: op, Right: right}, nil
}

// parseOr handles or and nor
func (p *Parser) parseOr() (Expr, error) {
	return p.leftAssoc(p.parseXor, logical, OR, NOR)
}

// parseXor handles xor and xnor
func (p *Parser) parseXor() (Expr, error) {
	return p.leftAssoc(p.parseAnd, logical, XOR, XNOR)
}

// parseAnd handles and and nand
func (p *Parser) parseAnd() (Expr, error) {
	return p.leftAssoc(p.parseAdditive, logical, AND, NAND)
}

// parseAdditive handles + and -
func (p *Parser) parseAdditive() (Expr, error) {
	return p.leftAssoc(p.parseMultiplicative, binary, PLUS, MINUS)
}

// parseMultiplicative handles *, / and %
func (p *Parser) parseMultiplicative() (Expr, error) {
	return p.leftAssoc(p.parseUnary, binary, STAR, SLASH, PERCENT)
}

// parseUnary handles prefix not and - (unary minus)
func (p *Parser) parseUnary() (Expr, error) {
	if p.match(NOT, MINUS) {
		op := p.previous()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, Right: right}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles literals, variables, and parenthesised expressions.
func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case TRUE:
		p.advance()
		return BoolLiteral(true), nil
	case FALSE:
		p.advance()
		return BoolLiteral(false), nil
	case NUMBER, STRING:
		p.advance()
		return &Literal{Value: tok.Literal}, nil
	case IDENTIFIER:
		p.advance()
		return &Var{Name: tok}, nil
	case LEFT_PAREN:
		p.advance()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RIGHT_PAREN, "')' was expected"); err != nil {
			return nil, err
		}
		return &Grouping{Inner: inner}, nil
	}
	return nil, p.errorAt(tok, ErrUnexpectedExpression, "unexpected expression")
}

// parseStatement parses one expression statement. The terminating ";" may be
// omitted before the end of input.
func (p *Parser) parseStatement() (Stmt, error) {
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		if _, err := p.expect(SEMICOLON, "';' was expected"); err != nil {
			return nil, err
		}
	}
	return &ExprStmt{Expr: expr}, nil
}

// synchronize discards tokens until a statement boundary: just after a ";",
// just before a statement keyword, or at EOF. At least one token is consumed
// so that recovery always makes progress.
func (p *Parser) synchronize() {
	p.advance()
	for !p.atEnd() {
		if p.previous().Type == SEMICOLON {
			return
		}
		if slices.Contains(syncKeywords, p.peek().Type) {
			return
		}
		p.advance()
	}
}

// ParseExpression parses a single expression from tokens. Tokens after the
// expression are left unread. The returned error, if any, is a *ParseError.
func ParseExpression(tokens []Token) (Expr, error) {
	return NewParser(tokens).parseExpression()
}

// Parse parses every statement in tokens. A statement that fails to parse is
// recorded and skipped with panic-mode recovery, so a single call reports
// every independent syntax error.
func Parse(tokens []Token) ([]Stmt, []*ParseError) {
	p := NewParser(tokens)
	var stmts []Stmt
	var errs []*ParseError
	for !p.atEnd() {
		start := p.pos
		stmt, err := p.parseStatement()
		if err != nil {
			errs = append(errs, err.(*ParseError))
			if p.pos == start || p.previous().Type != SEMICOLON {
				p.synchronize()
			}
			continue
		}
		stmts = append(stmts, stmt)
	}
	return stmts, errs
}

package compiler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"true":    TRUE,
	"false":   FALSE,
	"print":   PRINT,
	"println": PRINTLN,
	"and":     AND,
	"nand":    NAND,
	"xor":     XOR,
	"xnor":    XNOR,
	"or":      OR,
	"nor":     NOR,
	"imp":     IMP,
	"nimp":    NIMP,
	"not":     NOT,
	"if":      IF,
	"else":    ELSE,
	"while":   WHILE,
	"repeat":  REPEAT,
}

// Lexer holds all mutable state for a single scanning pass over src.
// Offsets and columns are byte based. Every valid lexeme outside string
// literals is ASCII.
type Lexer struct {
	src       string
	pos       int // index of the next byte to consume
	line      int // current zero-based source line
	lineStart int // offset of the first byte of the current line

	tokens []Token
	errs   []*LexError
}

func newLexer(src string) *Lexer {
	return &Lexer{src: src}
}

func (l *Lexer) atEnd() bool { return l.pos >= len(l.src) }

// peek returns the byte at the current position without advancing.
func (l *Lexer) peek() byte {
	if l.atEnd() {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the byte one position ahead of the current position.
func (l *Lexer) peek2() byte {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

// position converts an inclusive offset range on the current line into a
// Position.
func (l *Lexer) position(start, end int) Position {
	return Position{
		Line:    l.line,
		Columns: Range{Start: start - l.lineStart, End: end - l.lineStart},
	}
}

func (l *Lexer) addToken(tt TokenType, start, end int, literal any) {
	l.tokens = append(l.tokens, Token{
		Type:    tt,
		Lexeme:  l.src[start:end],
		Literal: literal,
		Pos:     l.position(start, end-1),
		Offsets: Range{Start: start, End: end - 1},
	})
}

func (l *Lexer) addError(kind LexErrorKind, start, end int, format string, args ...any) {
	pos := l.position(start, end-1)
	l.errs = append(l.errs, &LexError{
		Pos:  pos,
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
	})
}

// scanIdent collects a full identifier or keyword token.
func (l *Lexer) scanIdent() {
	start := l.pos
	for !l.atEnd() && isIdentPart(l.peek()) {
		l.pos++
	}
	tt := IDENTIFIER
	if kw, ok := keywords[l.src[start:l.pos]]; ok {
		tt = kw
	}
	l.addToken(tt, start, l.pos, nil)
}

// scanNumber collects a decimal literal. Underscores are digit separators.
// A value that does not fit in 32 bits is reported instead of tokenised, and
// the whole lexeme is still consumed.
func (l *Lexer) scanNumber() {
	start := l.pos
	for !l.atEnd() && (isDigit(l.peek()) || l.peek() == '_') {
		l.pos++
	}
	digits := strings.ReplaceAll(l.src[start:l.pos], "_", "")
	val, err := strconv.ParseInt(digits, 10, 32)
	if err != nil {
		l.addError(ValueOutOfRange, start, l.pos,
			"the value is out of range, must be in [0..%d]", math.MaxInt32)
		return
	}
	l.addToken(NUMBER, start, l.pos, int32(val))
}

// scanString collects a string literal. The literal may not span lines; an
// unterminated opening quote is reported as an unexpected symbol and
// scanning resumes right after it.
func (l *Lexer) scanString() {
	start := l.pos
	end := strings.IndexAny(l.src[start+1:], "\"\n")
	if end == -1 || l.src[start+1+end] != '"' {
		l.addError(UnexpectedSymbol, start, start+1, "unterminated string literal at %s", l.position(start, start))
		l.pos++
		return
	}
	l.pos = start + 1 + end + 1
	l.addToken(STRING, start, l.pos, l.src[start+1:l.pos-1])
}

// scanOperator handles punctuation. The two-character operators are checked
// before their one-character prefixes, so the result does not depend on any
// table order.
func (l *Lexer) scanOperator() bool {
	start := l.pos
	two := func(tt TokenType) bool {
		l.pos += 2
		l.addToken(tt, start, l.pos, nil)
		return true
	}
	one := func(tt TokenType) bool {
		l.pos++
		l.addToken(tt, start, l.pos, nil)
		return true
	}

	switch ch := l.peek(); ch {
	case '(':
		return one(LEFT_PAREN)
	case ')':
		return one(RIGHT_PAREN)
	case '{':
		return one(LEFT_BRACE)
	case '}':
		return one(RIGHT_BRACE)
	case ';':
		return one(SEMICOLON)
	case '+':
		return one(PLUS)
	case '-':
		return one(MINUS)
	case '*':
		return one(STAR)
	case '/':
		return one(SLASH)
	case '%':
		return one(PERCENT)
	case '=':
		if l.peek2() == '=' {
			return two(EQUAL_EQUAL)
		}
	case '!':
		if l.peek2() == '=' {
			return two(BANG_EQUAL)
		}
	case ':':
		if l.peek2() == '=' {
			return two(COLON_EQUAL)
		}
	case '>':
		if l.peek2() == '=' {
			return two(GREATER_EQUAL)
		}
		return one(GREATER)
	case '<':
		if l.peek2() == '=' {
			return two(LESS_EQUAL)
		}
		return one(LESS)
	}
	return false
}

// scanToken consumes exactly one token, one run of blanks, one newline or one
// unexpected character.
func (l *Lexer) scanToken() {
	ch := l.peek()
	switch {
	case isIdentStart(ch):
		l.scanIdent()
	case isDigit(ch):
		l.scanNumber()
	case ch == '"':
		l.scanString()
	case ch == '\n':
		l.pos++
		l.line++
		l.lineStart = l.pos
	case ch == ' ' || ch == '\t' || ch == '\r':
		for !l.atEnd() && (l.peek() == ' ' || l.peek() == '\t' || l.peek() == '\r') {
			l.pos++
		}
	default:
		if l.scanOperator() {
			return
		}
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		l.addError(UnexpectedSymbol, l.pos, l.pos+1,
			"unexpected symbol %q encountered at %s", r, l.position(l.pos, l.pos))
		l.pos += size
	}
}

// Lex tokenises src and returns all tokens including the final EOF token,
// together with every lexical error found. It never stops early.
func Lex(src string) ([]Token, []*LexError) {
	l := newLexer(src)
	for !l.atEnd() {
		l.scanToken()
	}
	l.tokens = append(l.tokens, Token{
		Type:    EOF,
		Lexeme:  "",
		Pos:     Position{Line: l.line, Columns: EmptyRange},
		Offsets: EmptyRange,
	})
	return l.tokens, l.errs
}

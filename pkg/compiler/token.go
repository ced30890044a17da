package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	// Paired delimiters
	LEFT_PAREN  // (
	RIGHT_PAREN // )
	LEFT_BRACE  // {
	RIGHT_BRACE // }

	// Punctuation
	SEMICOLON // ;

	// Arithmetic operators
	PLUS    // +
	MINUS   // -
	STAR    // *
	SLASH   // /
	PERCENT // %

	// Assignment / comparison
	COLON_EQUAL   // :=
	EQUAL_EQUAL   // ==
	BANG_EQUAL    // !=
	GREATER       // >
	GREATER_EQUAL // >=
	LESS          // <
	LESS_EQUAL    // <=

	// Literals
	IDENTIFIER // variable name
	NUMBER     // decimal integer literal, underscores allowed as separators
	STRING     // string literal "..."

	// Keywords
	NOT     // "not"
	AND     // "and"
	NAND    // "nand"
	XOR     // "xor"
	XNOR    // "xnor"
	OR      // "or"
	NOR     // "nor"
	IMP     // "imp"
	NIMP    // "nimp"
	TRUE    // "true"
	FALSE   // "false"
	PRINT   // "print"
	PRINTLN // "println"
	IF      // "if"
	ELSE    // "else"
	WHILE   // "while"
	REPEAT  // "repeat"
)

// tokenNames is indexed by TokenType.
var tokenNames = [...]string{
	EOF:           "EOF",
	LEFT_PAREN:    "LEFT_PAREN",
	RIGHT_PAREN:   "RIGHT_PAREN",
	LEFT_BRACE:    "LEFT_BRACE",
	RIGHT_BRACE:   "RIGHT_BRACE",
	SEMICOLON:     "SEMICOLON",
	PLUS:          "PLUS",
	MINUS:         "MINUS",
	STAR:          "STAR",
	SLASH:         "SLASH",
	PERCENT:       "PERCENT",
	COLON_EQUAL:   "COLON_EQUAL",
	EQUAL_EQUAL:   "EQUAL_EQUAL",
	BANG_EQUAL:    "BANG_EQUAL",
	GREATER:       "GREATER",
	GREATER_EQUAL: "GREATER_EQUAL",
	LESS:          "LESS",
	LESS_EQUAL:    "LESS_EQUAL",
	IDENTIFIER:    "IDENTIFIER",
	NUMBER:        "NUMBER",
	STRING:        "STRING",
	NOT:           "NOT",
	AND:           "AND",
	NAND:          "NAND",
	XOR:           "XOR",
	XNOR:          "XNOR",
	OR:            "OR",
	NOR:           "NOR",
	IMP:           "IMP",
	NIMP:          "NIMP",
	TRUE:          "TRUE",
	FALSE:         "FALSE",
	PRINT:         "PRINT",
	PRINTLN:       "PRINTLN",
	IF:            "IF",
	ELSE:          "ELSE",
	WHILE:         "WHILE",
	REPEAT:        "REPEAT",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type    TokenType
	Lexeme  string   // the exact source text that was matched
	Literal any      // decoded value: int32 for NUMBER, string for STRING, nil otherwise
	Pos     Position // line and inclusive column range
	Offsets Range    // inclusive byte offsets into the source
}

func (t Token) String() string {
	if t.Literal != nil {
		return fmt.Sprintf("%-13s %-14q %v  %s", t.Type, t.Lexeme, t.Literal, t.Pos)
	}
	return fmt.Sprintf("%-13s %-14q  %s", t.Type, t.Lexeme, t.Pos)
}

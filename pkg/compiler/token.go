package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	// Literals
	IDENTIFIER // variable / function / field name
	INT_LIT    // decimal or hex integer literal
	UINT_LIT   // integer literal with a u/U suffix, e.g. 10u
	FLOAT_LIT  // floating-point literal, e.g. 1.0, .5, 2.
	STRING     // string literal "..." (print argument only)

	// Type keywords
	FLOAT // "float"
	INT   // "int"
	UINT  // "uint"
	BOOL  // "bool"
	VEC2  // "vec2"
	VEC3  // "vec3"
	VEC4  // "vec4"
	BVEC2 // "bvec2"
	BVEC3 // "bvec3"
	BVEC4 // "bvec4"
	MAT2  // "mat2"
	MAT3  // "mat3"
	MAT4  // "mat4"
	VOID  // "void"

	// Other keywords
	STRUCT   // "struct"
	CONST    // "const"
	IF       // "if"
	ELSE     // "else"
	FOR      // "for"
	WHILE    // "while"
	DO       // "do"
	RETURN   // "return"
	BREAK    // "break"
	CONTINUE // "continue"
	IN       // "in"
	OUT      // "out"
	INOUT    // "inout"
	TRUE     // "true"
	FALSE    // "false"

	// Paired delimiters
	LBRACE   // {
	RBRACE   // }
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]

	// Punctuation
	DOT       // .
	SEMICOLON // ;
	COMMA     // ,

	// Operators
	PLUS        // +
	MINUS       // -
	STAR        // *
	SLASH       // /
	PERCENT     // %
	AMP         // &
	PIPE        // |
	CARET       // ^
	TILDE       // ~
	SHL_OP      // <<
	SHR_OP      // >>
	AND_LOGICAL // &&
	OR_LOGICAL  // ||
	NOT         // !

	PLUS_PLUS   // ++
	MINUS_MINUS // --

	// Assignment / comparison  (order matters: ASSIGN before EQUALS)
	ASSIGN       // =
	PLUS_ASSIGN  // +=
	MINUS_ASSIGN // -=
	STAR_ASSIGN  // *=
	SLASH_ASSIGN // /=

	EQUALS     // ==
	NOT_EQ     // !=
	LESS       // <
	GREATER    // >
	LESS_EQ    // <=
	GREATER_EQ // >=
)

var tokenNames = [...]string{
	EOF:          "EOF",
	IDENTIFIER:   "IDENTIFIER",
	INT_LIT:      "INT_LIT",
	UINT_LIT:     "UINT_LIT",
	FLOAT_LIT:    "FLOAT_LIT",
	STRING:       "STRING",
	FLOAT:        "FLOAT",
	INT:          "INT",
	UINT:         "UINT",
	BOOL:         "BOOL",
	VEC2:         "VEC2",
	VEC3:         "VEC3",
	VEC4:         "VEC4",
	BVEC2:        "BVEC2",
	BVEC3:        "BVEC3",
	BVEC4:        "BVEC4",
	MAT2:         "MAT2",
	MAT3:         "MAT3",
	MAT4:         "MAT4",
	VOID:         "VOID",
	STRUCT:       "STRUCT",
	CONST:        "CONST",
	IF:           "IF",
	ELSE:         "ELSE",
	FOR:          "FOR",
	WHILE:        "WHILE",
	DO:           "DO",
	RETURN:       "RETURN",
	BREAK:        "BREAK",
	CONTINUE:     "CONTINUE",
	IN:           "IN",
	OUT:          "OUT",
	INOUT:        "INOUT",
	TRUE:         "TRUE",
	FALSE:        "FALSE",
	LBRACE:       "LBRACE",
	RBRACE:       "RBRACE",
	LPAREN:       "LPAREN",
	RPAREN:       "RPAREN",
	LBRACKET:     "LBRACKET",
	RBRACKET:     "RBRACKET",
	DOT:          "DOT",
	SEMICOLON:    "SEMICOLON",
	COMMA:        "COMMA",
	PLUS:         "PLUS",
	MINUS:        "MINUS",
	STAR:         "STAR",
	SLASH:        "SLASH",
	PERCENT:      "PERCENT",
	AMP:          "AMP",
	PIPE:         "PIPE",
	CARET:        "CARET",
	TILDE:        "TILDE",
	SHL_OP:       "SHL_OP",
	SHR_OP:       "SHR_OP",
	AND_LOGICAL:  "AND_LOGICAL",
	OR_LOGICAL:   "OR_LOGICAL",
	NOT:          "NOT",
	PLUS_PLUS:    "PLUS_PLUS",
	MINUS_MINUS:  "MINUS_MINUS",
	ASSIGN:       "ASSIGN",
	PLUS_ASSIGN:  "PLUS_ASSIGN",
	MINUS_ASSIGN: "MINUS_ASSIGN",
	STAR_ASSIGN:  "STAR_ASSIGN",
	SLASH_ASSIGN: "SLASH_ASSIGN",
	EQUALS:       "EQUALS",
	NOT_EQ:       "NOT_EQ",
	LESS:         "LESS",
	GREATER:      "GREATER",
	LESS_EQ:      "LESS_EQ",
	GREATER_EQ:   "GREATER_EQ",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) && tokenNames[tt] != "" {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType
	Lexeme string // the exact source text that was matched
	Line   int    // 1-based source line
}

func (t Token) String() string {
	return fmt.Sprintf("%-10s %-14q  line %d", t.Type, t.Lexeme, t.Line)
}

// isTypeToken reports whether tt can start a type name (struct names
// are identifiers and handled separately by the parser).
func isTypeToken(tt TokenType) bool {
	switch tt {
	case FLOAT, INT, UINT, BOOL, VEC2, VEC3, VEC4, BVEC2, BVEC3, BVEC4,
		MAT2, MAT3, MAT4:
		return true
	}
	return false
}

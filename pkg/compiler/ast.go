package compiler

import (
	"fmt"
	"strings"
)

// Node is implemented by every AST node.
type Node interface {
	String() string
	SrcLine() int
}

// Expr marks expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt marks statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

type baseNode struct {
	Line int
}

func (n baseNode) SrcLine() int { return n.Line }

// ---- Expressions ----

// FloatLit is a floating-point literal.
type FloatLit struct {
	baseNode
	Value float64
}

// IntLit is a signed integer literal.
type IntLit struct {
	baseNode
	Value int64
}

// UintLit is an unsigned integer literal (u/U suffix).
type UintLit struct {
	baseNode
	Value uint64
}

// BoolLit is true or false.
type BoolLit struct {
	baseNode
	Value bool
}

// StringLit is a string literal; legal only as a print argument.
type StringLit struct {
	baseNode
	Value string
}

// VarRef is a bare identifier used as a value.
type VarRef struct {
	baseNode
	Name string
}

// BinaryExpr is any infix arithmetic, bitwise or comparison expression.
type BinaryExpr struct {
	baseNode
	Op    TokenType
	Left  Expr
	Right Expr
}

// LogicalExpr is && or ||; kept separate because it short-circuits.
type LogicalExpr struct {
	baseNode
	Op    TokenType // AND_LOGICAL or OR_LOGICAL
	Left  Expr
	Right Expr
}

// UnaryExpr is prefix -, !, ~ or ++/--.
type UnaryExpr struct {
	baseNode
	Op      TokenType
	Operand Expr
}

// PostfixExpr is postfix ++ or --.
type PostfixExpr struct {
	baseNode
	Op      TokenType
	Operand Expr
}

// CallExpr is a named function call. The callee may resolve to a
// builtin, a library function or a user function; the generator decides.
type CallExpr struct {
	baseNode
	Name string
	Args []Expr
}

// ConstructorCall builds a vector, matrix or struct value, or performs
// an explicit scalar conversion: vec3(1.0), float(i), Light(p, c).
type ConstructorCall struct {
	baseNode
	TypeName string // "vec3", "float", or a struct name
	Args     []Expr
}

// IndexExpr is a[i].
type IndexExpr struct {
	baseNode
	Base  Expr
	Index Expr
}

// MemberExpr is a.field or v.xyz; the generator distinguishes struct
// field access from swizzle by the base's type.
type MemberExpr struct {
	baseNode
	Base   Expr
	Member string
}

func (*FloatLit) exprNode()        {}
func (*IntLit) exprNode()          {}
func (*UintLit) exprNode()         {}
func (*BoolLit) exprNode()         {}
func (*StringLit) exprNode()       {}
func (*VarRef) exprNode()          {}
func (*BinaryExpr) exprNode()      {}
func (*LogicalExpr) exprNode()     {}
func (*UnaryExpr) exprNode()       {}
func (*PostfixExpr) exprNode()     {}
func (*CallExpr) exprNode()        {}
func (*ConstructorCall) exprNode() {}
func (*IndexExpr) exprNode()       {}
func (*MemberExpr) exprNode()      {}

func (e *FloatLit) String() string  { return fmt.Sprintf("%g", e.Value) }
func (e *IntLit) String() string    { return fmt.Sprintf("%d", e.Value) }
func (e *UintLit) String() string   { return fmt.Sprintf("%du", e.Value) }
func (e *BoolLit) String() string   { return fmt.Sprintf("%t", e.Value) }
func (e *StringLit) String() string { return fmt.Sprintf("%q", e.Value) }
func (e *VarRef) String() string    { return e.Name }

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, opSymbol(e.Op), e.Right)
}

func (e *LogicalExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, opSymbol(e.Op), e.Right)
}

func (e *UnaryExpr) String() string {
	return fmt.Sprintf("(%s%s)", opSymbol(e.Op), e.Operand)
}

func (e *PostfixExpr) String() string {
	return fmt.Sprintf("(%s%s)", e.Operand, opSymbol(e.Op))
}

func (e *CallExpr) String() string {
	return fmt.Sprintf("%s(%s)", e.Name, exprList(e.Args))
}

func (e *ConstructorCall) String() string {
	return fmt.Sprintf("%s(%s)", e.TypeName, exprList(e.Args))
}

func (e *IndexExpr) String() string {
	return fmt.Sprintf("%s[%s]", e.Base, e.Index)
}

func (e *MemberExpr) String() string {
	return fmt.Sprintf("%s.%s", e.Base, e.Member)
}

func exprList(args []Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

func opSymbol(tt TokenType) string {
	switch tt {
	case PLUS:
		return "+"
	case MINUS:
		return "-"
	case STAR:
		return "*"
	case SLASH:
		return "/"
	case PERCENT:
		return "%"
	case AMP:
		return "&"
	case PIPE:
		return "|"
	case CARET:
		return "^"
	case TILDE:
		return "~"
	case SHL_OP:
		return "<<"
	case SHR_OP:
		return ">>"
	case AND_LOGICAL:
		return "&&"
	case OR_LOGICAL:
		return "||"
	case NOT:
		return "!"
	case PLUS_PLUS:
		return "++"
	case MINUS_MINUS:
		return "--"
	case EQUALS:
		return "=="
	case NOT_EQ:
		return "!="
	case LESS:
		return "<"
	case GREATER:
		return ">"
	case LESS_EQ:
		return "<="
	case GREATER_EQ:
		return ">="
	}
	return tt.String()
}

// ---- Statements ----

// VarDecl declares one variable, optionally with an initializer.
// Type resolution happens during generation; the parser records the
// syntactic type only.
type VarDecl struct {
	baseNode
	Type TypeSpec
	Name string
	Init Expr // may be nil
}

// ConstDecl declares a module- or block-level compile-time constant.
type ConstDecl struct {
	baseNode
	Type TypeSpec
	Name string
	Init Expr
}

// StructDecl introduces a named aggregate type.
type StructDecl struct {
	baseNode
	Name   string
	Fields []StructField
}

// StructField is one member of a struct declaration.
type StructField struct {
	Type TypeSpec
	Name string
	Line int
}

// Assignment stores Value into Target, with an optional compound
// operator (PLUS_ASSIGN etc; ASSIGN for plain assignment).
type Assignment struct {
	baseNode
	Op     TokenType
	Target Expr
	Value  Expr
}

// ReturnStmt returns from the enclosing function.
type ReturnStmt struct {
	baseNode
	Value Expr // nil for void return
}

// BlockStmt is { ... }; it opens a new lexical scope.
type BlockStmt struct {
	baseNode
	Stmts []Stmt
}

// IfStmt with optional else branch.
type IfStmt struct {
	baseNode
	Cond Expr
	Then *BlockStmt
	Else Stmt // *BlockStmt, *IfStmt (else-if chain) or nil
}

// WhileStmt is a pre-tested loop.
type WhileStmt struct {
	baseNode
	Cond Expr
	Body *BlockStmt
}

// DoWhileStmt is a post-tested loop.
type DoWhileStmt struct {
	baseNode
	Body *BlockStmt
	Cond Expr
}

// ForStmt: init and post may be nil; cond defaults to true.
type ForStmt struct {
	baseNode
	Init Stmt // *VarDecl, *Assignment, *ExprStmt or nil
	Cond Expr
	Post Stmt
	Body *BlockStmt
}

// BreakStmt exits the innermost loop.
type BreakStmt struct{ baseNode }

// ContinueStmt jumps to the innermost loop's post/condition.
type ContinueStmt struct{ baseNode }

// ExprStmt evaluates an expression for its side effects (calls, ++/--).
type ExprStmt struct {
	baseNode
	E Expr
}

func (*VarDecl) stmtNode()      {}
func (*ConstDecl) stmtNode()    {}
func (*StructDecl) stmtNode()   {}
func (*Assignment) stmtNode()   {}
func (*ReturnStmt) stmtNode()   {}
func (*BlockStmt) stmtNode()    {}
func (*IfStmt) stmtNode()       {}
func (*WhileStmt) stmtNode()    {}
func (*DoWhileStmt) stmtNode()  {}
func (*ForStmt) stmtNode()      {}
func (*BreakStmt) stmtNode()    {}
func (*ContinueStmt) stmtNode() {}
func (*ExprStmt) stmtNode()     {}

func (s *VarDecl) String() string {
	if s.Init != nil {
		return fmt.Sprintf("%s %s = %s;", s.Type, s.Name, s.Init)
	}
	return fmt.Sprintf("%s %s;", s.Type, s.Name)
}

func (s *ConstDecl) String() string {
	return fmt.Sprintf("const %s %s = %s;", s.Type, s.Name, s.Init)
}

func (s *StructDecl) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "struct %s { ", s.Name)
	for _, f := range s.Fields {
		fmt.Fprintf(&sb, "%s %s; ", f.Type, f.Name)
	}
	sb.WriteString("};")
	return sb.String()
}

func (s *Assignment) String() string {
	op := "="
	switch s.Op {
	case PLUS_ASSIGN:
		op = "+="
	case MINUS_ASSIGN:
		op = "-="
	case STAR_ASSIGN:
		op = "*="
	case SLASH_ASSIGN:
		op = "/="
	}
	return fmt.Sprintf("%s %s %s;", s.Target, op, s.Value)
}

func (s *ReturnStmt) String() string {
	if s.Value == nil {
		return "return;"
	}
	return fmt.Sprintf("return %s;", s.Value)
}

func (s *BlockStmt) String() string {
	var sb strings.Builder
	sb.WriteString("{ ")
	for _, st := range s.Stmts {
		sb.WriteString(st.String())
		sb.WriteByte(' ')
	}
	sb.WriteString("}")
	return sb.String()
}

func (s *IfStmt) String() string {
	if s.Else == nil {
		return fmt.Sprintf("if (%s) %s", s.Cond, s.Then)
	}
	return fmt.Sprintf("if (%s) %s else %s", s.Cond, s.Then, s.Else)
}

func (s *WhileStmt) String() string {
	return fmt.Sprintf("while (%s) %s", s.Cond, s.Body)
}

func (s *DoWhileStmt) String() string {
	return fmt.Sprintf("do %s while (%s);", s.Body, s.Cond)
}

func (s *ForStmt) String() string {
	part := func(n Node) string {
		if n == nil {
			return ""
		}
		return strings.TrimSuffix(n.String(), ";")
	}
	return fmt.Sprintf("for (%s; %s; %s) %s", part(s.Init), part(s.Cond), part(s.Post), s.Body)
}

func (s *BreakStmt) String() string    { return "break;" }
func (s *ContinueStmt) String() string { return "continue;" }
func (s *ExprStmt) String() string     { return s.E.String() + ";" }

// ---- Declarations ----

// TypeSpec is the syntactic form of a type as written in source.
// Struct references carry the name; array suffixes carry the size
// expression, which must fold to a positive integer constant.
type TypeSpec struct {
	Token     TokenType // FLOAT..MAT4, VOID, or IDENTIFIER for structs
	Name      string    // struct name when Token == IDENTIFIER
	ArraySize Expr      // nil unless declared with [n]
	Line      int
}

func (ts TypeSpec) String() string {
	base := ts.Name
	if ts.Token != IDENTIFIER {
		base = strings.ToLower(ts.Token.String())
	}
	if ts.ArraySize != nil {
		return fmt.Sprintf("%s[%s]", base, ts.ArraySize)
	}
	return base
}

// ParamQual is a parameter's direction qualifier.
type ParamQual uint8

const (
	QualIn ParamQual = iota // default: pass by value
	QualOut
	QualInOut
)

func (q ParamQual) String() string {
	switch q {
	case QualOut:
		return "out"
	case QualInOut:
		return "inout"
	}
	return "in"
}

// ParamDecl is one declared function parameter.
type ParamDecl struct {
	Qual ParamQual
	Type TypeSpec
	Name string
	Line int
}

// FunctionDecl is a complete function definition.
type FunctionDecl struct {
	baseNode
	Name    string
	RetType TypeSpec
	Params  []ParamDecl
	Body    *BlockStmt
}

func (f *FunctionDecl) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s(", f.RetType, f.Name)
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		if p.Qual != QualIn {
			fmt.Fprintf(&sb, "%s ", p.Qual)
		}
		fmt.Fprintf(&sb, "%s %s", p.Type, p.Name)
	}
	sb.WriteString(") ")
	sb.WriteString(f.Body.String())
	return sb.String()
}

// Program is a parsed compilation unit in source order.
type Program struct {
	Structs   []*StructDecl
	Consts    []*ConstDecl
	Functions []*FunctionDecl
}

package compiler

import (
	"maps"
	"slices"
)

// IdentifierSet holds the distinct variable names referenced by a program.
type IdentifierSet map[string]struct{}

func (s IdentifierSet) Add(name string) { s[name] = struct{}{} }

func (s IdentifierSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the names in ascending order. Code generation iterates in
// this order so that output is reproducible.
func (s IdentifierSet) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

// Union adds every name in other to s.
func (s IdentifierSet) Union(other IdentifierSet) {
	for name := range other {
		s.Add(name)
	}
}

// CollectIdentifiers returns every name read through a Var or written by an
// Assignment anywhere in e.
func CollectIdentifiers(e Expr) IdentifierSet {
	set := make(IdentifierSet)
	collectIdents(e, set)
	return set
}

// CollectProgram unions the identifiers of every statement.
func CollectProgram(stmts []Stmt) IdentifierSet {
	set := make(IdentifierSet)
	for _, s := range stmts {
		if es, ok := s.(*ExprStmt); ok {
			set.Union(CollectIdentifiers(es.Expr))
		}
	}
	return set
}

func collectIdents(e Expr, set IdentifierSet) {
	switch n := e.(type) {
	case *Var:
		set.Add(n.Name.Lexeme)
	case *Assignment:
		set.Add(n.Name.Lexeme)
		collectIdents(n.Value, set)
	case *Grouping:
		collectIdents(n.Inner, set)
	case *Unary:
		collectIdents(n.Right, set)
	case *Binary:
		collectIdents(n.Left, set)
		collectIdents(n.Right, set)
	case *Logical:
		collectIdents(n.Left, set)
		collectIdents(n.Right, set)
	case *Literal:
		// no names
	}
}

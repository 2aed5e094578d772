// Package expr implements the small boolean expression language used by
// f-when conditions.
//
// An expression is a flat sequence of operands joined by the operators
// &&, ||, ==, !=, >, >=, <, <= with an optional prefix !. There is no
// precedence table: binary operators fold strictly left to right, so
//
//	a && b || c
//
// means (a && b) || c, and parentheses are the only way to regroup.
//
// Operands are number literals, quoted string literals ('x' or "x"),
// the literals true and false, or dotted paths resolved against a state
// value with Lookup. A path that does not resolve evaluates to false.
//
// Equality is loose: operands of different kinds are coerced before
// comparison ("30" == 30 and 1 == true both hold). This is the intended
// semantics of the language, not an accident of the implementation.
//
// Malformed input is rejected. Unbalanced parentheses, dangling or
// doubled operators, adjacent operands, unterminated strings and
// malformed identifiers all fail Compile with an error wrapping
// ErrSyntax.
package expr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for expression compilation.
var (
	ErrSyntax             = errors.New("expr: syntax error")
	ErrEmpty              = fmt.Errorf("%w: empty expression", ErrSyntax)
	ErrUnbalanced         = fmt.Errorf("%w: unbalanced parentheses", ErrSyntax)
	ErrMissingOperand     = fmt.Errorf("%w: missing operand", ErrSyntax)
	ErrUnexpectedToken    = fmt.Errorf("%w: unexpected token", ErrSyntax)
	ErrUnterminatedString = fmt.Errorf("%w: unterminated string", ErrSyntax)
)

// Expression is a compiled expression. It is immutable and safe for
// concurrent use.
type Expression struct {
	source string
	root   node
}

// Compile tokenizes and parses expression.
func Compile(expression string) (*Expression, error) {
	tokens := Tokenize(expression)
	root, err := parse(tokens)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", expression, err)
	}
	return &Expression{source: expression, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expression string) *Expression {
	e, err := Compile(expression)
	if err != nil {
		panic(err)
	}
	return e
}

// Evaluate parses tokens and evaluates them against state.
// The tokens slice is not modified.
func Evaluate(tokens []string, state any) (bool, error) {
	root, err := parse(tokens)
	if err != nil {
		return false, err
	}
	return Truthy(root.eval(state)), nil
}

// Eval evaluates the expression against state.
func (e *Expression) Eval(state any) bool {
	return Truthy(e.root.eval(state))
}

// String returns the source text.
func (e *Expression) String() string {
	return e.source
}

// Paths returns the dotted paths referenced by the expression in source
// order, without duplicates.
func (e *Expression) Paths() []string {
	var paths []string
	seen := make(map[string]bool)
	e.root.walk(func(n node) {
		if p, ok := n.(pathNode); ok && !seen[string(p)] {
			seen[string(p)] = true
			paths = append(paths, string(p))
		}
	})
	return paths
}

// Roots returns the first segment of every referenced path, without
// duplicates. Hydration subscribes to the signals with these names.
func (e *Expression) Roots() []string {
	var roots []string
	seen := make(map[string]bool)
	for _, p := range e.Paths() {
		root, _, _ := strings.Cut(p, ".")
		if !seen[root] {
			seen[root] = true
			roots = append(roots, root)
		}
	}
	return roots
}

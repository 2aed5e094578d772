package expr

import (
	"fmt"
	"regexp"
)

var (
	numberPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	pathPattern   = regexp.MustCompile(`^[A-Za-z_$][\w$-]*(\.[\w$-]+)*$`)
)

type node interface {
	eval(state any) any
	walk(fn func(node))
}

type literalNode struct{ value any }

func (n literalNode) eval(any) any { return n.value }

func (n literalNode) walk(fn func(node)) { fn(n) }

type pathNode string

func (n pathNode) eval(state any) any {
	v, ok := Lookup(string(n), state)
	if !ok {
		return false
	}
	return v
}

func (n pathNode) walk(fn func(node)) { fn(n) }

type notNode struct{ operand node }

func (n notNode) eval(state any) any { return !Truthy(n.operand.eval(state)) }

func (n notNode) walk(fn func(node)) {
	fn(n)
	n.operand.walk(fn)
}

// chainNode folds its operands strictly left to right.
type chainNode struct {
	first node
	ops   []string
	rest  []node
}

func (n *chainNode) eval(state any) any {
	value := n.first.eval(state)
	for i, op := range n.ops {
		value = apply(value, op, n.rest[i].eval(state))
	}
	return value
}

func (n *chainNode) walk(fn func(node)) {
	fn(n)
	n.first.walk(fn)
	for _, r := range n.rest {
		r.walk(fn)
	}
}

// parser consumes tokens from a reversed copy used as a stack, so the
// caller's slice is never touched.
type parser struct {
	stack []string
}

func parse(tokens []string) (node, error) {
	if len(tokens) == 0 {
		return nil, ErrEmpty
	}
	stack := make([]string, len(tokens))
	for i, tok := range tokens {
		stack[len(tokens)-1-i] = tok
	}
	p := &parser{stack: stack}
	return p.sequence(0)
}

func (p *parser) pop() (string, bool) {
	if len(p.stack) == 0 {
		return "", false
	}
	tok := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	return tok, true
}

func (p *parser) peek() (string, bool) {
	if len(p.stack) == 0 {
		return "", false
	}
	return p.stack[len(p.stack)-1], true
}

// sequence parses operand (op operand)* up to the closing parenthesis
// of the current depth, or the end of input at depth zero.
func (p *parser) sequence(depth int) (node, error) {
	first, err := p.operand(depth)
	if err != nil {
		return nil, err
	}
	chain := &chainNode{first: first}

	for {
		tok, ok := p.peek()
		switch {
		case !ok:
			if depth > 0 {
				return nil, fmt.Errorf("%w: missing )", ErrUnbalanced)
			}
			return chain.simplify(), nil
		case tok == ")":
			if depth == 0 {
				return nil, fmt.Errorf("%w: unexpected )", ErrUnbalanced)
			}
			p.pop()
			return chain.simplify(), nil
		case !binaryOperators[tok]:
			return nil, fmt.Errorf("%w: expected operator before %q", ErrUnexpectedToken, tok)
		}
		p.pop()

		operand, err := p.operand(depth)
		if err != nil {
			return nil, err
		}
		chain.ops = append(chain.ops, tok)
		chain.rest = append(chain.rest, operand)
	}
}

func (p *parser) operand(depth int) (node, error) {
	tok, ok := p.pop()
	if !ok {
		return nil, ErrMissingOperand
	}
	switch {
	case tok == "!":
		operand, err := p.operand(depth)
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	case tok == "(":
		return p.sequence(depth + 1)
	case tok == ")":
		return nil, fmt.Errorf("%w: unexpected )", ErrUnbalanced)
	case binaryOperators[tok]:
		return nil, fmt.Errorf("%w: before %q", ErrMissingOperand, tok)
	}
	return parseOperand(tok)
}

func parseOperand(tok string) (node, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnexpectedToken)
	}
	if numberPattern.MatchString(tok) {
		n, _ := ParseNumber(tok)
		return literalNode{value: n}, nil
	}
	if q := tok[0]; q == '"' || q == '\'' {
		if len(tok) < 2 || tok[len(tok)-1] != q {
			return nil, fmt.Errorf("%w: %s", ErrUnterminatedString, tok)
		}
		return literalNode{value: tok[1 : len(tok)-1]}, nil
	}
	switch tok {
	case "true":
		return literalNode{value: true}, nil
	case "false":
		return literalNode{value: false}, nil
	}
	if !pathPattern.MatchString(tok) {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedToken, tok)
	}
	return pathNode(tok), nil
}

func (n *chainNode) simplify() node {
	if len(n.ops) == 0 {
		return n.first
	}
	return n
}

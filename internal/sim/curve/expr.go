package curve

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Expressions authored in catalog data are parsed once into a small AST and
// interpreted against a function whitelist. Config text is never executed as
// code, so a bad or hostile catalog can at worst produce a warning and a 0.

type exprNode interface {
	eval(ctx Context, missing func(name string)) float64
}

type numNode float64

func (n numNode) eval(Context, func(string)) float64 { return float64(n) }

type varNode string

func (n varNode) eval(ctx Context, missing func(string)) float64 {
	if v, ok := ctx[string(n)]; ok {
		return v
	}
	missing(string(n))
	return 0
}

type unaryNode struct {
	op   byte
	x    exprNode
}

func (n unaryNode) eval(ctx Context, missing func(string)) float64 {
	v := n.x.eval(ctx, missing)
	if n.op == '-' {
		return -v
	}
	return v
}

type binNode struct {
	op   byte
	l, r exprNode
}

func (n binNode) eval(ctx Context, missing func(string)) float64 {
	l := n.l.eval(ctx, missing)
	r := n.r.eval(ctx, missing)
	switch n.op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	case '/':
		return l / r
	case '^':
		return math.Pow(l, r)
	}
	return 0
}

type callNode struct {
	name string
	args []exprNode
}

func (n callNode) eval(ctx Context, missing func(string)) float64 {
	a := make([]float64, len(n.args))
	for i, arg := range n.args {
		a[i] = arg.eval(ctx, missing)
	}
	switch n.name {
	case "min":
		return math.Min(a[0], a[1])
	case "max":
		return math.Max(a[0], a[1])
	case "floor":
		return math.Floor(a[0])
	case "ceil":
		return math.Ceil(a[0])
	case "log":
		return math.Log(a[0])
	case "log10":
		return math.Log10(a[0])
	case "sqrt":
		return math.Sqrt(a[0])
	case "abs":
		return math.Abs(a[0])
	case "sin":
		return math.Sin(a[0])
	case "cos":
		return math.Cos(a[0])
	case "tan":
		return math.Tan(a[0])
	case "exp":
		return math.Exp(a[0])
	case "pow":
		return math.Pow(a[0], a[1])
	}
	return 0
}

// arity by whitelisted function name; anything else is a parse error.
var exprFuncs = map[string]int{
	"min": 2, "max": 2, "pow": 2,
	"floor": 1, "ceil": 1, "log": 1, "log10": 1, "sqrt": 1,
	"abs": 1, "sin": 1, "cos": 1, "tan": 1, "exp": 1,
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp    // + - * / ^
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	op   byte
	num  float64
	text string
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma})
			i++
		case c == '+' || c == '-' || c == '*' || c == '/' || c == '^':
			toks = append(toks, token{kind: tokOp, op: c})
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.' || src[j] == 'e' || src[j] == 'E' ||
				((src[j] == '+' || src[j] == '-') && j > i && (src[j-1] == 'e' || src[j-1] == 'E'))) {
				j++
			}
			n, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", src[i:j])
			}
			toks = append(toks, token{kind: tokNum, num: n})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

type exprParser struct {
	toks []token
	pos  int
}

// parseExpr parses a formula string into an AST. Grammar, lowest to highest
// precedence: additive, multiplicative, unary minus, power (right assoc),
// primary (number | constant | variable | call | parenthesized).
func parseExpr(src string) (exprNode, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	node, err := p.additive()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("trailing tokens")
	}
	return node, nil
}

func (p *exprParser) peek() token { return p.toks[p.pos] }
func (p *exprParser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *exprParser) additive() (exprNode, error) {
	l, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.op != '+' && t.op != '-') {
			return l, nil
		}
		p.next()
		r, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		l = binNode{op: t.op, l: l, r: r}
	}
}

func (p *exprParser) multiplicative() (exprNode, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.op != '*' && t.op != '/') {
			return l, nil
		}
		p.next()
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binNode{op: t.op, l: l, r: r}
	}
}

func (p *exprParser) unary() (exprNode, error) {
	t := p.peek()
	if t.kind == tokOp && t.op == '-' {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: '-', x: x}, nil
	}
	return p.power()
}

func (p *exprParser) power() (exprNode, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp && t.op == '^' {
		p.next()
		// Right associative: a^b^c = a^(b^c).
		exp, err := p.unary()
		if err != nil {
			return nil, err
		}
		return binNode{op: '^', l: base, r: exp}, nil
	}
	return base, nil
}

func (p *exprParser) primary() (exprNode, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return numNode(t.num), nil
	case tokLParen:
		node, err := p.additive()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing )")
		}
		return node, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(t.text)
		}
		switch t.text {
		case "e":
			return numNode(math.E), nil
		case "pi":
			return numNode(math.Pi), nil
		}
		return varNode(t.text), nil
	}
	return nil, fmt.Errorf("unexpected token")
}

func (p *exprParser) call(name string) (exprNode, error) {
	arity, ok := exprFuncs[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	p.next() // consume (
	var args []exprNode
	if p.peek().kind != tokRParen {
		for {
			a, err := p.additive()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.next().kind != tokRParen {
		return nil, fmt.Errorf("missing ) in call to %s", name)
	}
	if len(args) != arity {
		return nil, fmt.Errorf("%s expects %d args, got %d", name, arity, len(args))
	}
	return callNode{name: name, args: args}, nil
}

package aggregator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/mohammed-shakir/zonal-stats/internal/core/apperr"
	"github.com/mohammed-shakir/zonal-stats/internal/raster"
)

// Formula is a compiled algebraic expression over raster layer aliases.
// Supported syntax: + - * / comparisons (== != < <= > >=), boolean & and |,
// parentheses, numeric literals, the NULL keyword for no-data tests, and
// ~alias for raw access to a pixel value ignoring the no-data mask.
type Formula struct {
	src        string
	root       node
	vars       []string
	plain      map[string]bool
	nullTested map[string]bool
}

// Compile parses src into an evaluator. The result is safe for concurrent
// use.
func Compile(src string) (*Formula, error) {
	p := &parser{toks: nil, pos: 0}
	toks, err := lex(src)
	if err != nil {
		return nil, apperr.Wrap(apperr.FormulaError, err, "invalid formula %q", src)
	}
	p.toks = toks

	root, err := p.parseOr()
	if err != nil {
		return nil, apperr.Wrap(apperr.FormulaError, err, "invalid formula %q", src)
	}
	if p.pos != len(p.toks) {
		return nil, apperr.New(apperr.FormulaError, "invalid formula %q: unexpected %q", src, p.toks[p.pos].text)
	}

	f := &Formula{
		src:        src,
		plain:      map[string]bool{},
		nullTested: map[string]bool{},
	}
	seen := map[string]bool{}
	root, err = analyze(root, f, seen)
	if err != nil {
		return nil, err
	}
	f.root = root
	f.vars = make([]string, 0, len(seen))
	for v := range seen {
		f.vars = append(f.vars, v)
	}
	sort.Strings(f.vars)
	return f, nil
}

// Vars returns the aliases referenced by the formula, sorted.
func (f *Formula) Vars() []string { return f.vars }

// Eval evaluates the formula over one tuple of per-alias pixels.
func (f *Formula) Eval(px map[string]raster.Pixel) float64 {
	return f.root.eval(px)
}

// Excludes reports whether the tuple must be dropped under the no-data
// policy: an alias referenced plainly has no data and the formula never
// tests that alias for nullness.
func (f *Formula) Excludes(px map[string]raster.Pixel) bool {
	for name, p := range px {
		if p.NoData && f.plain[name] && !f.nullTested[name] {
			return true
		}
	}
	return false
}

// ---- AST ----

type node interface {
	eval(px map[string]raster.Pixel) float64
}

type numNode float64

func (n numNode) eval(map[string]raster.Pixel) float64 { return float64(n) }

type varNode struct {
	name string
	raw  bool
}

func (n varNode) eval(px map[string]raster.Pixel) float64 { return px[n.name].Value }

type nullNode struct{}

// nullNode never evaluates on its own; null comparisons are rewritten into
// isNullNode during analysis.
func (nullNode) eval(map[string]raster.Pixel) float64 { return 0 }

type isNullNode struct {
	name   string
	negate bool
}

func (n isNullNode) eval(px map[string]raster.Pixel) float64 {
	nodata := px[n.name].NoData
	if n.negate {
		nodata = !nodata
	}
	if nodata {
		return 1
	}
	return 0
}

type negNode struct{ x node }

func (n negNode) eval(px map[string]raster.Pixel) float64 { return -n.x.eval(px) }

type binNode struct {
	op   string
	l, r node
}

func (n binNode) eval(px map[string]raster.Pixel) float64 {
	l := n.l.eval(px)
	r := n.r.eval(px)
	switch n.op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	case "/":
		return l / r
	case "==":
		return b2f(l == r)
	case "!=":
		return b2f(l != r)
	case "<":
		return b2f(l < r)
	case "<=":
		return b2f(l <= r)
	case ">":
		return b2f(l > r)
	case ">=":
		return b2f(l >= r)
	case "&":
		return b2f(l != 0 && r != 0)
	case "|":
		return b2f(l != 0 || r != 0)
	}
	return 0
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// analyze collects alias usage and rewrites NULL comparisons into isNull
// checks, returning the possibly replaced node.
func analyze(n node, f *Formula, seen map[string]bool) (node, error) {
	switch t := n.(type) {
	case numNode, isNullNode:
		return n, nil
	case nullNode:
		return nil, apperr.New(apperr.FormulaError, "invalid formula %q: NULL may only appear beside == or !=", f.src)
	case varNode:
		seen[t.name] = true
		if !t.raw {
			f.plain[t.name] = true
		}
		return n, nil
	case negNode:
		x, err := analyze(t.x, f, seen)
		if err != nil {
			return nil, err
		}
		return negNode{x: x}, nil
	case *binNode:
		if t.op == "==" || t.op == "!=" {
			if v, ok := nullComparand(t.l, t.r); ok {
				seen[v.name] = true
				f.nullTested[v.name] = true
				return isNullNode{name: v.name, negate: t.op == "!="}, nil
			}
		}
		l, err := analyze(t.l, f, seen)
		if err != nil {
			return nil, err
		}
		r, err := analyze(t.r, f, seen)
		if err != nil {
			return nil, err
		}
		t.l, t.r = l, r
		return t, nil
	}
	return nil, fmt.Errorf("unhandled node %T", n)
}

// nullComparand returns the variable side of a comparison against NULL.
func nullComparand(l, r node) (varNode, bool) {
	if _, ok := l.(nullNode); ok {
		if v, ok := r.(varNode); ok && !v.raw {
			return v, true
		}
	}
	if _, ok := r.(nullNode); ok {
		if v, ok := l.(varNode); ok && !v.raw {
			return v, true
		}
	}
	return varNode{}, false
}

// ---- lexer / parser ----

type token struct {
	kind string // num, ident, null, op, lparen, rparen
	text string
	num  float64
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: "lparen", text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: "rparen", text: ")"})
			i++
		case strings.ContainsRune("+-*/~&|", c):
			toks = append(toks, token{kind: "op", text: string(c)})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(src) && src[i+1] == '=' {
				op += "="
				i++
			}
			if op == "=" || op == "!" {
				return nil, fmt.Errorf("unexpected %q", op)
			}
			toks = append(toks, token{kind: "op", text: op})
			i++
		case unicode.IsDigit(c) || c == '.':
			j := i
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			v, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", src[i:j])
			}
			toks = append(toks, token{kind: "num", text: src[i:j], num: v})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_') {
				j++
			}
			word := src[i:j]
			if word == "NULL" {
				toks = append(toks, token{kind: "null", text: word})
			} else {
				toks = append(toks, token{kind: "ident", text: word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t, ok := p.peek()
	if !ok || t.kind != "op" {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("|"); !ok {
			return l, nil
		}
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &binNode{op: "|", l: l, r: r}
	}
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&"); !ok {
			return l, nil
		}
		r, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		l = &binNode{op: "&", l: l, r: r}
	}
}

func (p *parser) parseCmp() (node, error) {
	l, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", "<", "<=", ">", ">=")
	if !ok {
		return l, nil
	}
	r, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	return &binNode{op: op, l: l, r: r}, nil
}

func (p *parser) parseSum() (node, error) {
	l, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return l, nil
		}
		r, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l = &binNode{op: op, l: l, r: r}
	}
}

func (p *parser) parseTerm() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/")
		if !ok {
			return l, nil
		}
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &binNode{op: op, l: l, r: r}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.acceptOp("-"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negNode{x: x}, nil
	}
	if _, ok := p.acceptOp("~"); ok {
		t, ok := p.peek()
		if !ok || t.kind != "ident" {
			return nil, fmt.Errorf("~ must be followed by a layer alias")
		}
		p.pos++
		return varNode{name: t.text, raw: true}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of formula")
	}
	switch t.kind {
	case "num":
		p.pos++
		return numNode(t.num), nil
	case "ident":
		p.pos++
		return varNode{name: t.text}, nil
	case "null":
		p.pos++
		return nullNode{}, nil
	case "lparen":
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != "rparen" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}

// Package filter implements RFC 4515 search filter parsing and schema-aware
// evaluation against entries. The pipeline treats filters as opaque text
// until they reach a partition; partitions parse once and evaluate per
// candidate entry.
package filter

import (
	"strings"

	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/schema"
)

// Kind discriminates filter node variants.
type Kind int

const (
	And Kind = iota + 1
	Or
	Not
	Equality
	Presence
	Substring
	GreaterOrEqual
	LessOrEqual
	Approx
)

// Node is one node of a parsed filter expression tree.
type Node struct {
	Kind     Kind
	Children []*Node // And, Or, Not

	Attr  string
	Value string // Equality, GreaterOrEqual, LessOrEqual, Approx

	// Substring components: Initial/Final may be empty, Any holds the
	// middle fragments between '*' wildcards.
	Initial string
	Any     []string
	Final   string
}

// Parse parses an RFC 4515 filter string into an expression tree.
func Parse(s string) (*Node, error) {
	p := &parser{input: s}
	n, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.input) {
		return nil, dirserrors.Newf(dirserrors.Other, "trailing garbage after filter at offset %d", p.pos)
	}
	return n, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) parseFilter() (*Node, error) {
	if !p.consume('(') {
		return nil, dirserrors.Newf(dirserrors.Other, "expected '(' at offset %d", p.pos)
	}
	var n *Node
	var err error
	switch {
	case p.consume('&'):
		n, err = p.parseSet(And)
	case p.consume('|'):
		n, err = p.parseSet(Or)
	case p.consume('!'):
		var child *Node
		child, err = p.parseFilter()
		if err == nil {
			n = &Node{Kind: Not, Children: []*Node{child}}
		}
	default:
		n, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}
	if !p.consume(')') {
		return nil, dirserrors.Newf(dirserrors.Other, "expected ')' at offset %d", p.pos)
	}
	return n, nil
}

func (p *parser) parseSet(kind Kind) (*Node, error) {
	n := &Node{Kind: kind}
	for p.pos < len(p.input) && p.input[p.pos] == '(' {
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	if len(n.Children) == 0 {
		return nil, dirserrors.New(dirserrors.Other, "empty filter set")
	}
	return n, nil
}

func (p *parser) parseItem() (*Node, error) {
	end := strings.IndexByte(p.input[p.pos:], ')')
	if end < 0 {
		return nil, dirserrors.New(dirserrors.Other, "unterminated filter item")
	}
	item := p.input[p.pos : p.pos+end]
	p.pos += end

	var op string
	var opIdx int
	for _, candidate := range []string{">=", "<=", "~=", "="} {
		if i := strings.Index(item, candidate); i > 0 {
			op = candidate
			opIdx = i
			break
		}
	}
	if op == "" {
		return nil, dirserrors.Newf(dirserrors.Other, "filter item %q has no comparison operator", item)
	}
	attr := item[:opIdx]
	value := unescape(item[opIdx+len(op):])

	switch op {
	case ">=":
		return &Node{Kind: GreaterOrEqual, Attr: attr, Value: value}, nil
	case "<=":
		return &Node{Kind: LessOrEqual, Attr: attr, Value: value}, nil
	case "~=":
		return &Node{Kind: Approx, Attr: attr, Value: value}, nil
	}

	if value == "*" {
		return &Node{Kind: Presence, Attr: attr}, nil
	}
	if strings.Contains(value, "*") {
		parts := strings.Split(value, "*")
		n := &Node{Kind: Substring, Attr: attr, Initial: parts[0], Final: parts[len(parts)-1]}
		for _, mid := range parts[1 : len(parts)-1] {
			if mid != "" {
				n.Any = append(n.Any, mid)
			}
		}
		return n, nil
	}
	return &Node{Kind: Equality, Attr: attr, Value: value}, nil
}

func (p *parser) consume(b byte) bool {
	if p.pos < len(p.input) && p.input[p.pos] == b {
		p.pos++
		return true
	}
	return false
}

// unescape decodes RFC 4515 \XX hex escapes.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+2 < len(s) {
			hi, okHi := fromHex(s[i+1])
			lo, okLo := fromHex(s[i+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func fromHex(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

// Matches evaluates n against e using s's matching rules for value
// comparison; substring and ordering comparisons fold case the way the
// attribute's equality rule would.
func Matches(n *Node, e *entry.Entry, s *schema.Schema) bool {
	switch n.Kind {
	case And:
		for _, c := range n.Children {
			if !Matches(c, e, s) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range n.Children {
			if Matches(c, e, s) {
				return true
			}
		}
		return false
	case Not:
		return !Matches(n.Children[0], e, s)
	case Presence:
		return e.Has(n.Attr)
	case Equality, Approx:
		a, ok := e.Get(n.Attr)
		if !ok {
			return false
		}
		for _, v := range a.Values {
			if s.Equal(n.Attr, v, n.Value) {
				return true
			}
		}
		return false
	case Substring:
		a, ok := e.Get(n.Attr)
		if !ok {
			return false
		}
		for _, v := range a.Values {
			if substringMatch(n, s.NormalizeValue(n.Attr, v), s, n.Attr) {
				return true
			}
		}
		return false
	case GreaterOrEqual, LessOrEqual:
		a, ok := e.Get(n.Attr)
		if !ok {
			return false
		}
		want := s.NormalizeValue(n.Attr, n.Value)
		for _, v := range a.Values {
			got := s.NormalizeValue(n.Attr, v)
			if n.Kind == GreaterOrEqual && got >= want {
				return true
			}
			if n.Kind == LessOrEqual && got <= want {
				return true
			}
		}
		return false
	}
	return false
}

func substringMatch(n *Node, value string, s *schema.Schema, attr string) bool {
	rest := value
	if n.Initial != "" {
		prefix := s.NormalizeValue(attr, n.Initial)
		if !strings.HasPrefix(rest, prefix) {
			return false
		}
		rest = rest[len(prefix):]
	}
	for _, mid := range n.Any {
		frag := s.NormalizeValue(attr, mid)
		i := strings.Index(rest, frag)
		if i < 0 {
			return false
		}
		rest = rest[i+len(frag):]
	}
	if n.Final != "" {
		suffix := s.NormalizeValue(attr, n.Final)
		return strings.HasSuffix(rest, suffix)
	}
	return true
}

// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package predicate

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const maxDepth = 64

type tokenType int

const (
	tokEOF tokenType = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokAnd
	tokOr
	tokNot
	tokIn
	tokIs
	tokNull
	tokTrue
	tokFalse
)

var keywords = map[string]tokenType{
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
	"in":    tokIn,
	"is":    tokIs,
	"null":  tokNull,
	"true":  tokTrue,
	"false": tokFalse,
}

type token struct {
	typ tokenType
	val string
	pos int
}

func (t token) String() string {
	if t.typ == tokEOF {
		return "end of input"
	}
	return strconv.Quote(t.val)
}

func tokenize(input string) ([]token, error) {
	var out []token
	rs := []rune(input)
	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			out = append(out, token{tokLParen, "(", i})
			i++
		case c == ')':
			out = append(out, token{tokRParen, ")", i})
			i++
		case c == ',':
			out = append(out, token{tokComma, ",", i})
			i++
		case c == '=':
			n := 1
			if i+1 < len(rs) && rs[i+1] == '=' {
				n = 2
			}
			out = append(out, token{tokOp, "=", i})
			i += n
		case c == '!' || c == '<' || c == '>':
			var nxt rune
			if i+1 < len(rs) {
				nxt = rs[i+1]
			}
			switch {
			case nxt == '=':
				out = append(out, token{tokOp, string(c) + "=", i})
				i += 2
			case c == '<' && nxt == '>':
				out = append(out, token{tokOp, "!=", i})
				i += 2
			case c == '!':
				return nil, fmt.Errorf("unexpected '!' at offset %d", i)
			default:
				out = append(out, token{tokOp, string(c), i})
				i++
			}
		case c == '\'' || c == '"':
			s, n, err := readString(rs[i:])
			if err != nil {
				return nil, fmt.Errorf("%w at offset %d", err, i)
			}
			out = append(out, token{tokString, s, i})
			i += n
		case c == '`':
			end := i + 1
			for end < len(rs) && rs[end] != '`' {
				end++
			}
			if end == len(rs) {
				return nil, fmt.Errorf("unterminated quoted column at offset %d", i)
			}
			out = append(out, token{tokIdent, string(rs[i+1 : end]), i})
			i = end + 1
		case unicode.IsDigit(c) || ((c == '-' || c == '+' || c == '.') && i+1 < len(rs) && (unicode.IsDigit(rs[i+1]) || rs[i+1] == '.')):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || strings.ContainsRune(".eE", rs[i]) ||
				((rs[i] == '-' || rs[i] == '+') && (rs[i-1] == 'e' || rs[i-1] == 'E'))) {
				i++
			}
			out = append(out, token{tokNumber, string(rs[start:i]), start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_' || rs[i] == '.') {
				i++
			}
			word := string(rs[start:i])
			if kw, ok := keywords[strings.ToLower(word)]; ok {
				out = append(out, token{kw, word, start})
			} else {
				out = append(out, token{tokIdent, word, start})
			}
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", c, i)
		}
	}
	return append(out, token{typ: tokEOF, pos: len(rs)}), nil
}

// readString reads a quoted literal starting at rs[0] and returns its value
// and the number of runes consumed. A doubled quote or a backslash escapes
// the quote character.
func readString(rs []rune) (string, int, error) {
	quote := rs[0]
	var b strings.Builder
	for i := 1; i < len(rs); i++ {
		switch c := rs[i]; {
		case c == '\\' && i+1 < len(rs):
			i++
			b.WriteRune(rs[i])
		case c == quote:
			if i+1 < len(rs) && rs[i+1] == quote {
				b.WriteRune(quote)
				i++
				continue
			}
			return b.String(), i + 1, nil
		default:
			b.WriteRune(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

// Parse reads a filter expression. The grammar, loosest binding first:
//
//	expr    = term { "or" term }
//	term    = factor { "and" factor }
//	factor  = "not" factor | "(" expr ")" | column cmp
//	cmp     = op literal | ["not"] "in" "(" literal { "," literal } ")" | "is" ["not"] "null"
//	literal = number | 'string' | true | false
//
// Keywords are case-insensitive; a column name that collides with one can
// be written in backquotes.
func Parse(input string) (Expr, error) {
	toks, err := tokenize(input)
	if err != nil {
		return nil, fmt.Errorf("parse predicate: %w", err)
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("parse predicate: %w", err)
	}
	if t := p.cur(); t.typ != tokEOF {
		return nil, fmt.Errorf("parse predicate: unexpected %s at offset %d", t, t.pos)
	}
	return e, nil
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(input string) Expr {
	e, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return e
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(typ tokenType, what string) (token, error) {
	t := p.next()
	if t.typ != typ {
		return t, fmt.Errorf("expected %s, got %s at offset %d", what, t, t.pos)
	}
	return t, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return fmt.Errorf("expression nested deeper than %d", maxDepth)
	}
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()

	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.cur().typ == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	return OrOf(terms...), nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.cur().typ == tokAnd {
		p.next()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	return AndOf(terms...), nil
}

func (p *parser) parseFactor() (Expr, error) {
	switch t := p.cur(); t.typ {
	case tokNot:
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer func() { p.depth-- }()
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil
	case tokLParen:
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case tokIdent:
		p.next()
		return p.parseComparison(t.val)
	default:
		return nil, fmt.Errorf("expected column name, got %s at offset %d", t, t.pos)
	}
}

func (p *parser) parseComparison(column string) (Expr, error) {
	switch t := p.next(); t.typ {
	case tokOp:
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &Compare{Column: column, Op: Op(t.val), Value: v}, nil
	case tokIs:
		negate := false
		if p.cur().typ == tokNot {
			p.next()
			negate = true
		}
		if _, err := p.expect(tokNull, "null"); err != nil {
			return nil, err
		}
		return &IsNull{Column: column, Negate: negate}, nil
	case tokNot:
		if _, err := p.expect(tokIn, "in"); err != nil {
			return nil, err
		}
		in, err := p.parseInList(column)
		if err != nil {
			return nil, err
		}
		return &Not{Expr: in}, nil
	case tokIn:
		return p.parseInList(column)
	default:
		return nil, fmt.Errorf("expected comparison after %s, got %s at offset %d", column, t, t.pos)
	}
}

func (p *parser) parseInList(column string) (Expr, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	in := &In{Column: column}
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		in.Values = append(in.Values, v)
		if p.cur().typ != tokComma {
			break
		}
		p.next()
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return in, nil
}

func (p *parser) parseLiteral() (any, error) {
	switch t := p.next(); t.typ {
	case tokString:
		return t.val, nil
	case tokTrue:
		return true, nil
	case tokFalse:
		return false, nil
	case tokNumber:
		if i, err := strconv.ParseInt(t.val, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %s at offset %d", t, t.pos)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("expected literal, got %s at offset %d", t, t.pos)
	}
}

package savedvars

import "fmt"

// valueKind is the type of a scalar field value inside a keystone entry.
type valueKind int

const (
	valueString valueKind = iota
	valueNumber
	valueBool
	valueNil
	valueTable
)

type value struct {
	kind valueKind
	str  string
	num  float64
}

// bodyStatus describes how reading a table body ended.
type bodyStatus int

const (
	bodyOK bodyStatus = iota
	// bodyMalformed means the closing brace was found but something inside
	// did not parse.
	bodyMalformed
	// bodyTruncated means input ended before the closing brace.
	bodyTruncated
)

// entry is one raw `key = { ... }` pair from the sentinel table.
type entry struct {
	key    string
	fields map[string]value
	pos    int
}

// parser is a recursive-descent reader over a pre-tokenized document.
// Every syntax problem stays local to the entry it occurs in.
type parser struct {
	toks []token
	i    int
}

func newParser(src string) *parser {
	return &parser{toks: tokenize(src)}
}

func (p *parser) cur() token {
	return p.toks[p.i]
}

func (p *parser) peek(off int) token {
	if p.i+off < len(p.toks) {
		return p.toks[p.i+off]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) advance() {
	if p.i < len(p.toks)-1 {
		p.i++
	}
}

// keyAt reports whether a `key =` prefix starts at the current token.
// It accepts `["name"] =`, `[123] =` and `name =`, and returns the key text
// and the number of tokens the prefix spans.
func (p *parser) keyAt() (string, int, bool) {
	t := p.cur()
	switch t.kind {
	case tokLBracket:
		k := p.peek(1)
		if (k.kind == tokString || k.kind == tokNumber) &&
			p.peek(2).kind == tokRBracket && p.peek(3).kind == tokAssign {
			return k.text, 4, true
		}
	case tokIdent:
		if p.peek(1).kind == tokAssign {
			return t.text, 2, true
		}
	}
	return "", 0, false
}

// seekTable moves the parser just past the opening brace of the first
// table assigned to a key called name. It returns false when there is none.
func (p *parser) seekTable(name string) bool {
	for p.cur().kind != tokEOF {
		if key, n, ok := p.keyAt(); ok && key == name && p.peek(n).kind == tokLBrace {
			p.i += n + 1
			return true
		}
		p.advance()
	}
	return false
}

// readEntries walks the body of the current table and returns the entries
// whose value is a well-formed table. Rejected entries are passed to skip.
// The returned bool is false when input ended before the table closed.
func (p *parser) readEntries(skip func(key, reason string, pos int)) ([]entry, bool) {
	var entries []entry
	for {
		t := p.cur()
		switch t.kind {
		case tokEOF:
			return entries, false
		case tokRBrace:
			p.advance()
			return entries, true
		case tokComma, tokSemicolon:
			p.advance()
			continue
		}

		key, n, ok := p.keyAt()
		if !ok {
			skip("", fmt.Sprintf("expected entry key, found %s", t.kind), t.pos)
			if !p.resync() {
				return entries, false
			}
			continue
		}
		p.i += n

		if p.cur().kind != tokLBrace {
			skip(key, fmt.Sprintf("entry value is %s, not a table", p.cur().kind), t.pos)
			if !p.resync() {
				return entries, false
			}
			continue
		}
		p.advance()

		fields, status := p.readFields()
		switch status {
		case bodyTruncated:
			skip(key, "entry cut off by end of input", t.pos)
			return entries, false
		case bodyMalformed:
			skip(key, "malformed entry body", t.pos)
			continue
		}
		entries = append(entries, entry{key: key, fields: fields, pos: t.pos})
	}
}

// readFields reads `name = value` pairs up to and including the closing
// brace of the current table. Nested tables are skipped; the last
// assignment to a name wins.
func (p *parser) readFields() (map[string]value, bodyStatus) {
	fields := make(map[string]value)
	status := bodyOK
	for {
		t := p.cur()
		switch t.kind {
		case tokEOF:
			return nil, bodyTruncated
		case tokRBrace:
			p.advance()
			return fields, status
		case tokComma, tokSemicolon:
			p.advance()
			continue
		}

		key, n, ok := p.keyAt()
		if !ok {
			status = bodyMalformed
			if !p.resync() {
				return nil, bodyTruncated
			}
			continue
		}
		p.i += n

		v, ok := p.readValue()
		if !ok {
			if p.cur().kind == tokEOF {
				return nil, bodyTruncated
			}
			status = bodyMalformed
			if !p.resync() {
				return nil, bodyTruncated
			}
			continue
		}
		fields[key] = v

		// Values must be followed by a separator or the closing brace.
		switch p.cur().kind {
		case tokComma, tokSemicolon, tokRBrace:
		case tokEOF:
			return nil, bodyTruncated
		default:
			status = bodyMalformed
			if !p.resync() {
				return nil, bodyTruncated
			}
		}
	}
}

// readValue consumes one value. Tables are skipped whole.
func (p *parser) readValue() (value, bool) {
	t := p.cur()
	switch t.kind {
	case tokString:
		p.advance()
		return value{kind: valueString, str: t.text}, true
	case tokNumber:
		p.advance()
		return value{kind: valueNumber, num: t.num}, true
	case tokIdent:
		switch t.text {
		case "true", "false":
			p.advance()
			return value{kind: valueBool, str: t.text}, true
		case "nil":
			p.advance()
			return value{kind: valueNil}, true
		}
	case tokLBrace:
		p.advance()
		if !p.skipTable() {
			return value{}, false
		}
		return value{kind: valueTable}, true
	}
	return value{}, false
}

// skipTable consumes tokens up to and including the brace closing the table
// whose opening brace was just consumed.
func (p *parser) skipTable() bool {
	depth := 1
	for {
		switch p.cur().kind {
		case tokEOF:
			return false
		case tokLBrace:
			depth++
		case tokRBrace:
			depth--
			if depth == 0 {
				p.advance()
				return true
			}
		}
		p.advance()
	}
}

// resync skips to the next separator (consumed) or closing brace (left in
// place) at the current nesting depth. It returns false at end of input.
func (p *parser) resync() bool {
	depth := 0
	for {
		switch p.cur().kind {
		case tokEOF:
			return false
		case tokLBrace:
			depth++
		case tokRBrace:
			if depth == 0 {
				return true
			}
			depth--
		case tokComma, tokSemicolon:
			if depth == 0 {
				p.advance()
				return true
			}
		}
		p.advance()
	}
}

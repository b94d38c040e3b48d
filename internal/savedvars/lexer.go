package savedvars

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// tokenKind classifies a lexical token of the table text.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLBracket
	tokRBracket
	tokLBrace
	tokRBrace
	tokAssign
	tokComma
	tokSemicolon
	tokString
	tokNumber
	tokIdent
	// tokInvalid covers stray bytes and unterminated strings.
	tokInvalid
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokLBracket:
		return "'['"
	case tokRBracket:
		return "']'"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokAssign:
		return "'='"
	case tokComma:
		return "','"
	case tokSemicolon:
		return "';'"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokIdent:
		return "identifier"
	default:
		return "invalid token"
	}
}

type token struct {
	kind tokenKind
	// text is the decoded value for strings and the raw lexeme otherwise.
	text string
	num  float64
	pos  int
}

// lexer splits SavedVariables text into tokens. It never fails: anything it
// does not understand becomes a tokInvalid token and scanning continues.
type lexer struct {
	src string
	pos int
}

// tokenize returns every token of src, always terminated by tokEOF.
func tokenize(src string) []token {
	lx := &lexer{src: src}
	var toks []token
	for {
		tok := lx.next()
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks
		}
	}
}

func (lx *lexer) next() token {
	lx.skipSpaceAndComments()
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, pos: lx.pos}
	}

	start := lx.pos
	c := lx.src[lx.pos]
	switch {
	case c == '[':
		if level, ok := lx.longBracketLevel(lx.pos); ok {
			return lx.longString(start, level)
		}
		lx.pos++
		return token{kind: tokLBracket, text: "[", pos: start}
	case c == ']':
		lx.pos++
		return token{kind: tokRBracket, text: "]", pos: start}
	case c == '{':
		lx.pos++
		return token{kind: tokLBrace, text: "{", pos: start}
	case c == '}':
		lx.pos++
		return token{kind: tokRBrace, text: "}", pos: start}
	case c == '=':
		lx.pos++
		return token{kind: tokAssign, text: "=", pos: start}
	case c == ',':
		lx.pos++
		return token{kind: tokComma, text: ",", pos: start}
	case c == ';':
		lx.pos++
		return token{kind: tokSemicolon, text: ";", pos: start}
	case c == '"' || c == '\'':
		return lx.quotedString(start, c)
	case isDigit(c) || (c == '.' && lx.peekDigit(1)) || (c == '-' && (lx.peekDigit(1) || (lx.peekByte(1) == '.' && lx.peekDigit(2)))):
		return lx.number(start)
	case isIdentStart(c):
		for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
			lx.pos++
		}
		return token{kind: tokIdent, text: lx.src[start:lx.pos], pos: start}
	default:
		_, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		lx.pos += size
		return token{kind: tokInvalid, text: lx.src[start:lx.pos], pos: start}
	}
}

func (lx *lexer) skipSpaceAndComments() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			lx.pos++
		case c == '-' && lx.peekByte(1) == '-':
			lx.pos += 2
			if level, ok := lx.longBracketLevel(lx.pos); ok {
				lx.pos += level + 2
				lx.skipPast(closingBracket(level))
				continue
			}
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
		default:
			return
		}
	}
}

// longBracketLevel reports whether a long bracket ([[, [=[, [==[ ...) opens
// at i, and its level.
func (lx *lexer) longBracketLevel(i int) (int, bool) {
	if i >= len(lx.src) || lx.src[i] != '[' {
		return 0, false
	}
	j := i + 1
	for j < len(lx.src) && lx.src[j] == '=' {
		j++
	}
	if j < len(lx.src) && lx.src[j] == '[' {
		return j - i - 1, true
	}
	return 0, false
}

func closingBracket(level int) string {
	return "]" + strings.Repeat("=", level) + "]"
}

func (lx *lexer) skipPast(s string) bool {
	idx := strings.Index(lx.src[lx.pos:], s)
	if idx < 0 {
		lx.pos = len(lx.src)
		return false
	}
	lx.pos += idx + len(s)
	return true
}

func (lx *lexer) longString(start, level int) token {
	lx.pos += level + 2
	body := lx.pos
	if !lx.skipPast(closingBracket(level)) {
		return token{kind: tokInvalid, text: lx.src[start:], pos: start}
	}
	text := lx.src[body : lx.pos-level-2]
	// A newline right after the opening bracket is not part of the string.
	text = strings.TrimPrefix(strings.TrimPrefix(text, "\r"), "\n")
	return token{kind: tokString, text: text, pos: start}
}

func (lx *lexer) quotedString(start int, quote byte) token {
	lx.pos++
	var b strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == quote:
			lx.pos++
			return token{kind: tokString, text: b.String(), pos: start}
		case c == '\n':
			// Unescaped newline: the string was never closed.
			return token{kind: tokInvalid, text: lx.src[start:lx.pos], pos: start}
		case c == '\\':
			if !lx.escape(&b) {
				return token{kind: tokInvalid, text: lx.src[start:lx.pos], pos: start}
			}
		default:
			b.WriteByte(c)
			lx.pos++
		}
	}
	return token{kind: tokInvalid, text: lx.src[start:], pos: start}
}

// escape decodes one backslash escape sequence into b.
func (lx *lexer) escape(b *strings.Builder) bool {
	lx.pos++ // backslash
	if lx.pos >= len(lx.src) {
		return false
	}
	c := lx.src[lx.pos]
	lx.pos++
	switch c {
	case 'n', '\n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'a':
		b.WriteByte('\a')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case '\\', '"', '\'':
		b.WriteByte(c)
	case 'x':
		if lx.pos+2 > len(lx.src) {
			return false
		}
		v, err := strconv.ParseUint(lx.src[lx.pos:lx.pos+2], 16, 8)
		if err != nil {
			return false
		}
		b.WriteByte(byte(v))
		lx.pos += 2
	case 'z':
		for lx.pos < len(lx.src) && strings.IndexByte(" \t\r\n\f\v", lx.src[lx.pos]) >= 0 {
			lx.pos++
		}
	default:
		if !isDigit(c) {
			return false
		}
		end := lx.pos - 1
		for end < len(lx.src) && end < lx.pos+2 && isDigit(lx.src[end]) {
			end++
		}
		v, err := strconv.ParseUint(lx.src[lx.pos-1:end], 10, 8)
		if err != nil {
			return false
		}
		b.WriteByte(byte(v))
		lx.pos = end
	}
	return true
}

func (lx *lexer) number(start int) token {
	if lx.src[lx.pos] == '-' {
		lx.pos++
	}
	if lx.peekByte(0) == '0' && (lx.peekByte(1) == 'x' || lx.peekByte(1) == 'X') {
		lx.pos += 2
		for lx.pos < len(lx.src) && isHexDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	} else {
		for lx.pos < len(lx.src) {
			c := lx.src[lx.pos]
			if isDigit(c) || c == '.' {
				lx.pos++
				continue
			}
			if (c == 'e' || c == 'E') && lx.pos+1 < len(lx.src) {
				lx.pos++
				if lx.src[lx.pos] == '+' || lx.src[lx.pos] == '-' {
					lx.pos++
				}
				continue
			}
			break
		}
	}

	lexeme := lx.src[start:lx.pos]
	v, ok := parseNumber(lexeme)
	if !ok || (lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos])) {
		for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
			lx.pos++
		}
		return token{kind: tokInvalid, text: lx.src[start:lx.pos], pos: start}
	}
	return token{kind: tokNumber, text: lexeme, num: v, pos: start}
}

func parseNumber(lexeme string) (float64, bool) {
	neg := strings.HasPrefix(lexeme, "-")
	body := strings.TrimPrefix(lexeme, "-")
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		v, err := strconv.ParseUint(body[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		if neg {
			return -float64(v), true
		}
		return float64(v), true
	}
	v, err := strconv.ParseFloat(lexeme, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (lx *lexer) peekByte(off int) byte {
	if lx.pos+off < len(lx.src) {
		return lx.src[lx.pos+off]
	}
	return 0
}

func (lx *lexer) peekDigit(off int) bool {
	return isDigit(lx.peekByte(off))
}

func isDigit(c byte) bool    { return c >= '0' && c <= '9' }
func isHexDigit(c byte) bool { return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

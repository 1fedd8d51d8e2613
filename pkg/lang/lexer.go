package lang

import (
	"fmt"
	"strings"
)

// IncludeResolver loads the contents of a file named by a #include directive.
// The host supplies the implementation (virtual filesystem, OS passthrough,
// or an in-memory map for tests).
type IncludeResolver interface {
	ReadInclude(name string) (string, error)
}

// LexError reports a lexical failure: bad character, unterminated string,
// invalid escape sequence, or an unreadable or cyclic #include.
type LexError struct {
	File    string
	Line    int
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s:%d: lex error: %s", e.File, e.Line, e.Message)
}

type lexFrame struct {
	src  []byte
	pos  int
	line int
	file string
}

// Lexer consumes source bytes and yields a finite token stream, lazily,
// one NextToken() call at a time. #include directives are expanded
// in-place by pushing a new frame onto an internal stack.
type Lexer struct {
	frames   []*lexFrame
	resolver IncludeResolver
	visiting map[string]bool
}

// NewLexer creates a lexer over src, identified as file for error messages
// and recursive #include cycle detection. resolver may be nil if the
// program is known not to use #include.
func NewLexer(src []byte, file string, resolver IncludeResolver) *Lexer {
	l := &Lexer{
		frames:   []*lexFrame{{src: src, pos: 0, line: 1, file: file}},
		resolver: resolver,
		visiting: map[string]bool{file: true},
	}
	return l
}

func (l *Lexer) top() *lexFrame {
	return l.frames[len(l.frames)-1]
}

func (l *Lexer) atEnd() bool {
	for len(l.frames) > 0 {
		f := l.top()
		if f.pos < len(f.src) {
			return false
		}
		if len(l.frames) == 1 {
			return true
		}
		delete(l.visiting, f.file)
		l.frames = l.frames[:len(l.frames)-1]
	}
	return true
}

func (l *Lexer) peekByte() byte {
	f := l.top()
	if f.pos >= len(f.src) {
		return 0
	}
	return f.src[f.pos]
}

func (l *Lexer) peekByteAt(offset int) byte {
	f := l.top()
	if f.pos+offset >= len(f.src) {
		return 0
	}
	return f.src[f.pos+offset]
}

func (l *Lexer) advance() byte {
	f := l.top()
	c := f.src[f.pos]
	f.pos++
	if c == '\n' {
		f.line++
	}
	return c
}

func (l *Lexer) errf(format string, args ...interface{}) *LexError {
	f := l.top()
	return &LexError{File: f.file, Line: f.line, Message: fmt.Sprintf(format, args...)}
}

// NextToken returns the next token in the stream, expanding #include
// directives transparently. Returns a TokEOF token once every frame is
// exhausted.
func (l *Lexer) NextToken() (Token, error) {
	for {
		if err := l.skipWhitespaceAndComments(); err != nil {
			return Token{}, err
		}
		if l.atEnd() {
			return Token{Type: TokEOF, Line: l.currentLine()}, nil
		}
		f := l.top()
		c := l.peekByte()

		if c == '\n' {
			line := f.line
			l.advance()
			return Token{Type: TokNewline, Line: line}, nil
		}

		if c == '#' {
			tok, handled, err := l.tryInclude()
			if err != nil {
				return Token{}, err
			}
			if handled {
				continue
			}
			_ = tok
			return Token{}, l.errf("unknown character '#'")
		}

		if isDigit(c) {
			return l.lexNumber()
		}
		if c == '"' {
			return l.lexString()
		}
		if isIdentStart(c) {
			return l.lexIdent()
		}
		return l.lexPunctuator()
	}
}

func (l *Lexer) currentLine() int {
	return l.top().line
}

func (l *Lexer) skipWhitespaceAndComments() error {
	for !l.atEnd() {
		c := l.peekByte()
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			l.advance()
		case c == '/' && l.peekByteAt(1) == '/':
			for !l.atEnd() && l.peekByte() != '\n' {
				l.advance()
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *Lexer) tryInclude() (Token, bool, error) {
	f := l.top()
	save := f.pos
	if !strings.HasPrefix(string(f.src[f.pos:min(f.pos+8, len(f.src))]), "#include") {
		return Token{}, false, nil
	}
	f.pos += len("#include")
	for !l.atEnd() && (l.peekByte() == ' ' || l.peekByte() == '\t') {
		l.advance()
	}
	if l.atEnd() || l.peekByte() != '"' {
		f.pos = save
		return Token{}, false, nil
	}
	nameTok, err := l.lexString()
	if err != nil {
		return Token{}, false, err
	}
	name := nameTok.Lexeme

	if l.visiting[name] {
		return Token{}, false, l.errf("cyclic #include of %q", name)
	}
	if l.resolver == nil {
		return Token{}, false, l.errf("#include used but no include resolver configured")
	}
	contents, err := l.resolver.ReadInclude(name)
	if err != nil {
		return Token{}, false, l.errf("#include %q: %v", name, err)
	}

	// The directive occupies its whole line, so its own line break is
	// consumed here rather than emitted as a Newline token.
	for f.pos < len(f.src) && (f.src[f.pos] == ' ' || f.src[f.pos] == '\t' || f.src[f.pos] == '\r') {
		f.pos++
	}
	if f.pos < len(f.src) && f.src[f.pos] == '\n' {
		l.advance()
	}

	l.visiting[name] = true
	l.frames = append(l.frames, &lexFrame{src: []byte(contents), pos: 0, line: 1, file: name})
	return Token{}, true, nil
}

func (l *Lexer) lexNumber() (Token, error) {
	f := l.top()
	start := f.pos
	line := f.line
	isFloat := false

	if l.peekByte() == '0' && (l.peekByteAt(1) == 'x' || l.peekByteAt(1) == 'X') {
		l.advance()
		l.advance()
		for !l.atEnd() && isHexDigit(l.peekByte()) {
			l.advance()
		}
		return Token{Type: TokInt, Lexeme: string(f.src[start:f.pos]), Line: line}, nil
	}

	for !l.atEnd() && isDigit(l.peekByte()) {
		l.advance()
	}
	if !l.atEnd() && l.peekByte() == '.' && isDigit(l.peekByteAt(1)) {
		isFloat = true
		l.advance()
		for !l.atEnd() && isDigit(l.peekByte()) {
			l.advance()
		}
	}

	lexeme := string(f.src[start:f.pos])
	if isFloat {
		return Token{Type: TokFloat, Lexeme: lexeme, Line: line}, nil
	}
	return Token{Type: TokInt, Lexeme: lexeme, Line: line}, nil
}

func (l *Lexer) lexString() (Token, error) {
	f := l.top()
	line := f.line
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.atEnd() {
			return Token{}, l.errf("unterminated string literal")
		}
		c := l.peekByte()
		if c == '"' {
			l.advance()
			break
		}
		if c == '\n' {
			return Token{}, l.errf("unterminated string literal")
		}
		if c == '\\' {
			l.advance()
			if l.atEnd() {
				return Token{}, l.errf("unterminated string literal")
			}
			esc := l.advance()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			case 'r':
				sb.WriteByte('\r')
			case '0':
				sb.WriteByte(0)
			default:
				return Token{}, l.errf("invalid escape sequence '\\%c'", esc)
			}
			continue
		}
		sb.WriteByte(l.advance())
	}
	return Token{Type: TokString, Lexeme: sb.String(), Line: line}, nil
}

func (l *Lexer) lexIdent() (Token, error) {
	f := l.top()
	start := f.pos
	line := f.line
	for !l.atEnd() && isIdentPart(l.peekByte()) {
		l.advance()
	}
	word := string(f.src[start:f.pos])
	lower := strings.ToLower(word)
	if kt, ok := keywords[lower]; ok {
		if kt == TokTrue || kt == TokFalse {
			return Token{Type: TokBool, Lexeme: lower, Line: line}, nil
		}
		return Token{Type: kt, Lexeme: lower, Line: line}, nil
	}
	return Token{Type: TokIdent, Lexeme: word, Line: line}, nil
}

func (l *Lexer) lexPunctuator() (Token, error) {
	f := l.top()
	line := f.line
	c := l.advance()

	two := func(second byte, t2, t1 TokenType) Token {
		if !l.atEnd() && l.peekByte() == second {
			l.advance()
			return Token{Type: t2, Line: line}
		}
		return Token{Type: t1, Line: line}
	}

	switch c {
	case '+':
		if !l.atEnd() && l.peekByte() == '+' {
			l.advance()
			return Token{Type: TokIncr, Line: line}, nil
		}
		return two('=', TokPlusEq, TokPlus), nil
	case '-':
		if !l.atEnd() && l.peekByte() == '-' {
			l.advance()
			return Token{Type: TokDecr, Line: line}, nil
		}
		return two('=', TokMinusEq, TokMinus), nil
	case '*':
		return two('=', TokStarEq, TokStar), nil
	case '/':
		return two('=', TokSlashEq, TokSlash), nil
	case '%':
		return Token{Type: TokPercent, Line: line}, nil
	case '=':
		return two('=', TokEq, TokAssign), nil
	case '!':
		if !l.atEnd() && l.peekByte() == '=' {
			l.advance()
			return Token{Type: TokNe, Line: line}, nil
		}
		return Token{}, l.errf("unknown character '!'")
	case '<':
		return two('=', TokLe, TokLt), nil
	case '>':
		return two('=', TokGe, TokGt), nil
	case '(':
		return Token{Type: TokLParen, Line: line}, nil
	case ')':
		return Token{Type: TokRParen, Line: line}, nil
	case ',':
		return Token{Type: TokComma, Line: line}, nil
	case '.':
		if !l.atEnd() && l.peekByte() == '.' {
			l.advance()
			return Token{Type: TokRange, Line: line}, nil
		}
		return Token{}, l.errf("unknown character '.'")
	case '?':
		return Token{Type: TokQuestion, Line: line}, nil
	case ':':
		return Token{Type: TokColon, Line: line}, nil
	case '{':
		return Token{Type: TokLBrace, Line: line}, nil
	case '}':
		return Token{Type: TokRBrace, Line: line}, nil
	case '[':
		return Token{Type: TokLBracket, Line: line}, nil
	case ']':
		return Token{Type: TokRBracket, Line: line}, nil
	case ';':
		return Token{Type: TokNewline, Line: line}, nil
	default:
		return Token{}, l.errf("unknown character %q", c)
	}
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isHexDigit(c byte) bool   { return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

// Package nixfile provides lossless reading and in-place editing of Nix
// package definitions. A Document keeps the raw byte buffer of one .nix file
// together with an index of attribute bindings, so single values can be
// replaced without disturbing comments, whitespace, or unrelated attributes.
package nixfile

import (
	"errors"
	"fmt"
	"strings"
)

// Error variables for scanner errors
var (
	// ErrUnterminatedString is returned when a string literal has no closing quote
	ErrUnterminatedString = errors.New("unterminated string literal")
	// ErrUnterminatedComment is returned when a block comment has no closing */
	ErrUnterminatedComment = errors.New("unterminated block comment")
	// ErrUnterminatedInterp is returned when a ${...} interpolation has no closing brace
	ErrUnterminatedInterp = errors.New("unterminated interpolation")
	// ErrUnbalanced is returned when delimiters do not nest properly
	ErrUnbalanced = errors.New("unbalanced delimiters")
)

// valueKind classifies the right-hand side of an attribute binding.
type valueKind int

const (
	// kindString is a double-quoted string literal
	kindString valueKind = iota
	// kindIdent is a bare identifier reference (e.g. `repo = pname;`)
	kindIdent
	// kindOther is any compound expression the editor will not touch
	kindOther
)

// binding is one `name = value;` pair located in the buffer.
type binding struct {
	// path is the dotted attribute path; quoted segments are stored unquoted
	path string
	// valStart and valEnd delimit the value token, quotes included for strings
	valStart int
	valEnd   int
	kind     valueKind
	// dynamic marks string values containing ${...} interpolation
	dynamic bool
	// value is the decoded literal for static strings, the raw inner text for
	// interpolated strings, or the identifier text for kindIdent
	value string
}

// frameKind identifies what opened the current nesting level.
type frameKind int

const (
	frameSet frameKind = iota
	frameParen
	frameBracket
	frameLet
)

// frame is one nesting level during the scan. Set frames that appear as the
// immediate value of a binding carry that binding's path segments, so leaves
// inside them get dotted paths (platformData."x86_64-linux".hash).
type frame struct {
	kind  frameKind
	label []string
}

// keywords that must not be mistaken for attribute names.
var keywords = map[string]bool{
	"let": true, "in": true, "inherit": true, "rec": true,
	"if": true, "then": true, "else": true, "with": true,
	"assert": true, "or": true,
}

type scanner struct {
	buf    []byte
	pos    int
	binds  []binding
	calls  map[string]struct{}
	frames []frame
}

// scan indexes every attribute binding in src. It is run on every parse and
// re-run after every splice; any structural error fails the whole scan.
func scan(src []byte) ([]binding, map[string]struct{}, error) {
	s := &scanner{buf: src, calls: make(map[string]struct{})}
	if err := s.run(); err != nil {
		return nil, nil, err
	}
	return s.binds, s.calls, nil
}

func (s *scanner) run() error {
	for {
		if err := s.skipTrivia(); err != nil {
			return err
		}
		if s.pos >= len(s.buf) {
			break
		}
		c := s.buf[s.pos]
		switch {
		case c == '{':
			s.frames = append(s.frames, frame{kind: frameSet})
			s.pos++
		case c == '}':
			if err := s.pop(frameSet); err != nil {
				return err
			}
			s.pos++
		case c == '(':
			s.frames = append(s.frames, frame{kind: frameParen})
			s.pos++
		case c == ')':
			if err := s.pop(frameParen); err != nil {
				return err
			}
			s.pos++
		case c == '[':
			s.frames = append(s.frames, frame{kind: frameBracket})
			s.pos++
		case c == ']':
			if err := s.pop(frameBracket); err != nil {
				return err
			}
			s.pos++
		case c == '"':
			if err := s.scanStringOrBinding(); err != nil {
				return err
			}
		case s.atIndentString():
			if _, err := s.scanIndentString(); err != nil {
				return err
			}
		case isIdentStart(c):
			if err := s.scanPathOrBinding(); err != nil {
				return err
			}
		default:
			s.pos++
		}
	}
	for _, f := range s.frames {
		if f.kind != frameLet {
			return fmt.Errorf("%w: unclosed delimiter", ErrUnbalanced)
		}
	}
	return nil
}

// pop removes frames down to and including the nearest frame of the wanted
// kind. Let frames are transparent; any other mismatch is a structural error.
func (s *scanner) pop(want frameKind) error {
	for i := len(s.frames) - 1; i >= 0; i-- {
		k := s.frames[i].kind
		if k == frameLet {
			continue
		}
		if k != want {
			return fmt.Errorf("%w: mismatched closing delimiter", ErrUnbalanced)
		}
		s.frames = s.frames[:i]
		return nil
	}
	return fmt.Errorf("%w: unexpected closing delimiter", ErrUnbalanced)
}

// popLet removes the nearest let frame, if any. `in` outside a let is left to
// the evaluator to complain about; the scanner stays lenient.
func (s *scanner) popLet() {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].kind == frameLet {
			s.frames = append(s.frames[:i], s.frames[i+1:]...)
			return
		}
	}
}

// prefix returns the dotted path contributed by enclosing labeled set frames.
func (s *scanner) prefix() []string {
	var segs []string
	for _, f := range s.frames {
		segs = append(segs, f.label...)
	}
	return segs
}

// skipTrivia advances past whitespace and comments.
func (s *scanner) skipTrivia() error {
	for s.pos < len(s.buf) {
		c := s.buf[s.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			s.pos++
		case c == '#':
			for s.pos < len(s.buf) && s.buf[s.pos] != '\n' {
				s.pos++
			}
		case c == '/' && s.pos+1 < len(s.buf) && s.buf[s.pos+1] == '*':
			end := strings.Index(string(s.buf[s.pos+2:]), "*/")
			if end < 0 {
				return ErrUnterminatedComment
			}
			s.pos += 2 + end + 2
		default:
			return nil
		}
	}
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c == '-' || c == '\'' || (c >= '0' && c <= '9')
}

// scanIdent reads a bare identifier at the current position.
func (s *scanner) scanIdent() string {
	start := s.pos
	for s.pos < len(s.buf) && isIdentChar(s.buf[s.pos]) {
		s.pos++
	}
	return string(s.buf[start:s.pos])
}

func (s *scanner) atIndentString() bool {
	return s.buf[s.pos] == '\'' && s.pos+1 < len(s.buf) && s.buf[s.pos+1] == '\''
}

func (s *scanner) peek() byte {
	if s.pos < len(s.buf) {
		return s.buf[s.pos]
	}
	return 0
}

// scanPathOrBinding handles an identifier in expression position. If the
// identifier starts an attrpath followed by `=`, the binding is indexed;
// otherwise the tokens are treated as part of an ordinary expression.
func (s *scanner) scanPathOrBinding() error {
	first := s.scanIdent()

	// Keyword handling: only when the identifier stands alone.
	if keywords[first] && s.peek() != '.' {
		switch first {
		case "let":
			s.frames = append(s.frames, frame{kind: frameLet})
		case "in":
			s.popLet()
		case "inherit":
			return s.skipToSemicolon()
		}
		return nil
	}

	return s.continuePath([]string{first})
}

// scanStringOrBinding handles a double-quoted string in expression position.
// Quoted attribute names ("x86_64-linux" = { ... }) start bindings too.
func (s *scanner) scanStringOrBinding() error {
	seg, _, dyn, err := s.scanString()
	if err != nil {
		return err
	}
	if dyn {
		// Computed attribute names are not addressable; plain expression
		// strings with interpolation land here too.
		return nil
	}
	return s.continuePath([]string{seg})
}

// continuePath extends an attrpath across `.` separators and decides whether
// the result is a binding.
func (s *scanner) continuePath(segs []string) error {
	for {
		if err := s.skipTrivia(); err != nil {
			return err
		}
		if s.peek() != '.' {
			break
		}
		s.pos++
		if err := s.skipTrivia(); err != nil {
			return err
		}
		switch {
		case s.peek() == '"':
			seg, _, dyn, err := s.scanString()
			if err != nil {
				return err
			}
			if dyn {
				// Computed attribute name; not addressable.
				return nil
			}
			segs = append(segs, seg)
		case isIdentStart(s.peek()):
			segs = append(segs, s.scanIdent())
		default:
			return nil
		}
	}

	if s.peek() == '=' && !(s.pos+1 < len(s.buf) && s.buf[s.pos+1] == '=') {
		s.pos++
		return s.scanBindingValue(segs)
	}

	// Not a binding. Record apply heads (`fetchPypi {`, `fetchurl (`) so
	// package kind detection can ask about function usage.
	if s.peek() == '{' || s.peek() == '(' {
		s.calls[strings.Join(segs, ".")] = struct{}{}
	}
	return nil
}

// scanBindingValue scans the right-hand side of `segs = ...`.
func (s *scanner) scanBindingValue(segs []string) error {
	if err := s.skipTrivia(); err != nil {
		return err
	}
	if s.pos >= len(s.buf) {
		return fmt.Errorf("%w: binding without value", ErrUnbalanced)
	}
	path := strings.Join(append(s.prefix(), segs...), ".")

	switch {
	case s.peek() == '"':
		valStart := s.pos
		val, raw, dyn, err := s.scanString()
		if err != nil {
			return err
		}
		valEnd := s.pos
		if err := s.skipTrivia(); err != nil {
			return err
		}
		if s.peek() == ';' {
			s.pos++
			if dyn {
				val = raw
			}
			s.binds = append(s.binds, binding{
				path: path, valStart: valStart, valEnd: valEnd,
				kind: kindString, dynamic: dyn, value: val,
			})
			return nil
		}
		// String is only the head of a larger expression (`"a" + b`).
		s.binds = append(s.binds, binding{path: path, valStart: valStart, valEnd: valStart, kind: kindOther})
		return nil

	case s.peek() == '{':
		// Attribute set value: nested bindings inherit this path.
		s.frames = append(s.frames, frame{kind: frameSet, label: segs})
		s.pos++
		return nil

	case s.atIndentString():
		valStart := s.pos
		if _, err := s.scanIndentString(); err != nil {
			return err
		}
		s.binds = append(s.binds, binding{path: path, valStart: valStart, valEnd: valStart, kind: kindOther})
		return nil

	case isIdentStart(s.peek()):
		valStart := s.pos
		ident := s.scanIdent()
		for s.peek() == '.' {
			s.pos++
			if isIdentStart(s.peek()) {
				ident += "." + s.scanIdent()
			} else {
				break
			}
		}
		valEnd := s.pos
		if ident == "rec" {
			if err := s.skipTrivia(); err != nil {
				return err
			}
			if s.peek() == '{' {
				s.frames = append(s.frames, frame{kind: frameSet, label: segs})
				s.pos++
				return nil
			}
		}
		if err := s.skipTrivia(); err != nil {
			return err
		}
		if s.peek() == ';' {
			s.pos++
			s.binds = append(s.binds, binding{
				path: path, valStart: valStart, valEnd: valEnd,
				kind: kindIdent, value: ident,
			})
			return nil
		}
		// Function application or operator chain.
		s.calls[ident] = struct{}{}
		s.binds = append(s.binds, binding{path: path, valStart: valStart, valEnd: valStart, kind: kindOther})
		return nil

	default:
		s.binds = append(s.binds, binding{path: path, valStart: s.pos, valEnd: s.pos, kind: kindOther})
		return nil
	}
}

// skipToSemicolon consumes tokens up to and including the terminating `;`,
// staying aware of strings and comments (used for inherit statements).
func (s *scanner) skipToSemicolon() error {
	for {
		if err := s.skipTrivia(); err != nil {
			return err
		}
		if s.pos >= len(s.buf) {
			return fmt.Errorf("%w: missing semicolon", ErrUnbalanced)
		}
		switch {
		case s.peek() == ';':
			s.pos++
			return nil
		case s.peek() == '"':
			if _, _, _, err := s.scanString(); err != nil {
				return err
			}
		case s.peek() == '(':
			s.frames = append(s.frames, frame{kind: frameParen})
			s.pos++
		case s.peek() == ')':
			if err := s.pop(frameParen); err != nil {
				return err
			}
			s.pos++
		default:
			s.pos++
		}
	}
}

// scanString scans a double-quoted string starting at the opening quote.
// It returns the decoded value, the raw inner text, and whether the string
// contains ${...} interpolation.
func (s *scanner) scanString() (decoded, raw string, dynamic bool, err error) {
	start := s.pos
	s.pos++ // opening quote
	var sb strings.Builder
	for {
		if s.pos >= len(s.buf) {
			return "", "", false, ErrUnterminatedString
		}
		c := s.buf[s.pos]
		switch {
		case c == '"':
			raw = string(s.buf[start+1 : s.pos])
			s.pos++
			return sb.String(), raw, dynamic, nil
		case c == '\\':
			if s.pos+1 >= len(s.buf) {
				return "", "", false, ErrUnterminatedString
			}
			sb.WriteByte(s.buf[s.pos+1])
			s.pos += 2
		case c == '$' && s.pos+1 < len(s.buf) && s.buf[s.pos+1] == '{':
			dynamic = true
			s.pos += 2
			if err := s.skipInterp(); err != nil {
				return "", "", false, err
			}
		default:
			sb.WriteByte(c)
			s.pos++
		}
	}
}

// skipInterp consumes a brace-balanced interpolation body. Interpolations may
// themselves contain strings, comments, and further interpolations.
func (s *scanner) skipInterp() error {
	depth := 1
	for s.pos < len(s.buf) {
		if err := s.skipTrivia(); err != nil {
			return err
		}
		if s.pos >= len(s.buf) {
			break
		}
		switch {
		case s.peek() == '{':
			depth++
			s.pos++
		case s.peek() == '}':
			depth--
			s.pos++
			if depth == 0 {
				return nil
			}
		case s.peek() == '"':
			if _, _, _, err := s.scanString(); err != nil {
				return err
			}
		case s.atIndentString():
			if _, err := s.scanIndentString(); err != nil {
				return err
			}
		default:
			s.pos++
		}
	}
	return ErrUnterminatedInterp
}

// scanIndentString scans a ''...'' string starting at the opening quotes.
func (s *scanner) scanIndentString() (dynamic bool, err error) {
	s.pos += 2
	for {
		if s.pos+1 >= len(s.buf) {
			return false, ErrUnterminatedString
		}
		if s.buf[s.pos] == '\'' && s.buf[s.pos+1] == '\'' {
			if s.pos+2 < len(s.buf) {
				switch s.buf[s.pos+2] {
				case '\'', '$', '\\':
					// ''' escapes '', ''$ escapes ${, ''\ escapes the next char
					s.pos += 3
					continue
				}
			}
			s.pos += 2
			return dynamic, nil
		}
		if s.buf[s.pos] == '$' && s.buf[s.pos+1] == '{' {
			dynamic = true
			s.pos += 2
			if err := s.skipInterp(); err != nil {
				return false, err
			}
			continue
		}
		s.pos++
	}
}

// Package jsscan extracts import specifiers from JavaScript sources by
// lexing them, so specifier-shaped text inside string literals, template
// literals and regular expressions is never mistaken for a real import.
// Only string-literal sources are reported; computed dynamic imports are
// invisible to the mirror and stay untouched.
package jsscan

import (
	"errors"
	"fmt"
	"io"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

// Kind distinguishes how a specifier entered the file.
type Kind int

const (
	// KindStatic is a top-level import declaration.
	KindStatic Kind = iota
	// KindDynamic is an import() call with a string-literal argument.
	KindDynamic
	// KindReExport is an export ... from declaration.
	KindReExport
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindDynamic:
		return "dynamic"
	case KindReExport:
		return "re-export"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Import is one observed specifier. A specifier imported several ways
// is reported once per kind, in source order of first occurrence.
type Import struct {
	Specifier string
	Kind      Kind
}

// Scan lexes src and returns every import specifier it declares. The
// lexer tolerates JSX-like and annotated syntax between statements; a
// scan error usually means the content is truncated or not JavaScript.
func Scan(src []byte) ([]Import, error) {
	s := &tokenStream{lexer: js.NewLexer(parse.NewInputBytes(src))}

	var out []Import
	seen := make(map[Import]bool)
	add := func(specifier string, kind Kind) {
		imp := Import{Specifier: specifier, Kind: kind}
		if specifier == "" || seen[imp] {
			return
		}
		seen[imp] = true
		out = append(out, imp)
	}

	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		switch tok.tt {
		case js.ImportToken:
			scanImport(s, add)
		case js.ExportToken:
			if specifier, ok := clauseSource(s); ok {
				add(specifier, KindReExport)
			}
		}
	}

	if s.err != nil {
		return out, fmt.Errorf("lexing source: %w", s.err)
	}
	return out, nil
}

// scanImport handles the token right after an `import` keyword, which
// decides between a side-effect import, a dynamic call, import.meta and
// a full import clause.
func scanImport(s *tokenStream, add func(string, Kind)) {
	tok, ok := s.next()
	if !ok {
		return
	}
	switch tok.tt {
	case js.StringToken:
		add(unquote(tok.text), KindStatic)
	case js.OpenParenToken:
		if specifier, ok := dynamicSource(s); ok {
			add(specifier, KindDynamic)
		}
	case js.DotToken:
		// import.meta
	default:
		s.push(tok)
		if specifier, ok := clauseSource(s); ok {
			add(specifier, KindStatic)
		}
	}
}

// dynamicSource matches the argument list of import(...): the specifier
// counts only when the string literal is the complete first argument.
func dynamicSource(s *tokenStream) (string, bool) {
	tok, ok := s.next()
	if !ok {
		return "", false
	}
	if tok.tt != js.StringToken {
		s.push(tok)
		return "", false
	}
	next, ok := s.next()
	if !ok {
		return "", false
	}
	if next.tt == js.CloseParenToken || next.tt == js.CommaToken {
		return unquote(tok.text), true
	}
	s.push(next)
	return "", false
}

// clauseSource walks an import/export clause looking for its
// `from "specifier"` tail. It gives up at a statement boundary and
// pushes back anything that starts a new declaration, so nested
// dynamic imports are still seen by the main loop.
func clauseSource(s *tokenStream) (string, bool) {
	depth := 0
	for {
		tok, ok := s.next()
		if !ok {
			return "", false
		}
		switch tok.tt {
		case js.OpenBraceToken:
			depth++
		case js.CloseBraceToken:
			if depth == 0 {
				s.push(tok)
				return "", false
			}
			depth--
		case js.SemicolonToken:
			return "", false
		case js.ImportToken, js.ExportToken:
			s.push(tok)
			return "", false
		default:
			// `from` is contextual: only the clause-level keyword counts,
			// not names like {from} or Array.from.
			if depth == 0 && tok.text == "from" {
				next, ok := s.next()
				if !ok {
					return "", false
				}
				if next.tt == js.StringToken {
					return unquote(next.text), true
				}
				s.push(next)
				return "", false
			}
		}
	}
}

func unquote(text string) string {
	if len(text) >= 2 && (text[0] == '"' || text[0] == '\'') {
		return text[1 : len(text)-1]
	}
	return text
}

type token struct {
	tt   js.TokenType
	text string
}

// tokenStream yields significant tokens with one level of pushback and
// resolves the slash ambiguity by re-lexing as a regular expression
// whenever the previous token permits one.
type tokenStream struct {
	lexer   *js.Lexer
	pushed  []token
	prev    token
	started bool
	err     error
}

func (s *tokenStream) push(tok token) {
	s.pushed = append(s.pushed, tok)
}

func (s *tokenStream) next() (token, bool) {
	if n := len(s.pushed); n > 0 {
		tok := s.pushed[n-1]
		s.pushed = s.pushed[:n-1]
		return tok, true
	}
	for {
		tt, data := s.lexer.Next()
		switch tt {
		case js.ErrorToken:
			if err := s.lexer.Err(); err != nil && !errors.Is(err, io.EOF) {
				s.err = err
			}
			return token{}, false
		case js.WhitespaceToken, js.LineTerminatorToken, js.CommentToken, js.CommentLineTerminatorToken:
			continue
		case js.DivToken, js.DivEqToken:
			if s.regexAllowed() {
				rt, rdata := s.lexer.RegExp()
				if rt != js.RegExpToken {
					// Neither a division nor a well-formed regex. This is
					// JSX-shaped text, which can only follow the import
					// declarations; stop here and keep what was found.
					return token{}, false
				}
				return s.emit(token{tt: rt, text: string(rdata)}), true
			}
			return s.emit(token{tt: tt, text: string(data)}), true
		default:
			return s.emit(token{tt: tt, text: string(data)}), true
		}
	}
}

func (s *tokenStream) emit(tok token) token {
	s.prev = tok
	s.started = true
	return tok
}

// regexAllowed reports whether a slash at the current position starts a
// regular expression rather than a division. A slash after something
// that produced a value divides; anywhere else it opens a regex.
func (s *tokenStream) regexAllowed() bool {
	if !s.started {
		return true
	}
	switch s.prev.tt {
	case js.IdentifierToken, js.NumericToken, js.StringToken, js.RegExpToken,
		js.TemplateToken, js.TemplateEndToken,
		js.CloseParenToken, js.CloseBracketToken,
		js.IncrToken, js.DecrToken:
		return false
	}
	switch s.prev.text {
	case "this", "true", "false", "null", "super":
		return false
	}
	return true
}

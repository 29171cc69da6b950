package router

import (
	"fmt"
	"regexp"
	"strings"
)

// Glob is a compiled URL pattern.
//
//	**      any run of characters, including '/'
//	*       any run of characters except '/'
//	{a,b}   either alternative (no nesting)
//	\c      the literal character c
//
// Every other character, '?' included, matches itself. A pattern matches the
// whole URL, not a substring of it.
type Glob struct {
	pattern string
	re      *regexp.Regexp
}

// CompileGlob parses pattern into a Glob.
func CompileGlob(pattern string) (*Glob, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty glob pattern")
	}

	var b strings.Builder
	b.WriteString("^")

	inGroup := false
	chars := []rune(pattern)
	for i := 0; i < len(chars); i++ {
		c := chars[i]
		switch {
		case c == '\\':
			if i+1 >= len(chars) {
				return nil, fmt.Errorf("glob %q: trailing escape", pattern)
			}
			i++
			b.WriteString(regexp.QuoteMeta(string(chars[i])))
		case c == '*':
			if i+1 < len(chars) && chars[i+1] == '*' {
				// Collapse any run of stars longer than two.
				for i+1 < len(chars) && chars[i+1] == '*' {
					i++
				}
				b.WriteString(".*")
			} else {
				b.WriteString("[^/]*")
			}
		case c == '{':
			if inGroup {
				return nil, fmt.Errorf("glob %q: nested '{' at offset %d", pattern, i)
			}
			inGroup = true
			b.WriteString("(?:")
		case c == '}' && inGroup:
			inGroup = false
			b.WriteString(")")
		case c == ',' && inGroup:
			b.WriteString("|")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	if inGroup {
		return nil, fmt.Errorf("glob %q: unterminated '{'", pattern)
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	return &Glob{pattern: pattern, re: re}, nil
}

// MustCompileGlob is like CompileGlob but panics on error.
func MustCompileGlob(pattern string) *Glob {
	g, err := CompileGlob(pattern)
	if err != nil {
		panic(err)
	}
	return g
}

// Match reports whether s matches the whole pattern.
func (g *Glob) Match(s string) bool { return g.re.MatchString(s) }

func (g *Glob) String() string { return g.pattern }

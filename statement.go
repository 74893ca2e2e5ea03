package rack

import (
	"fmt"
	"strings"
)

// Statement builds a query string from a template, substituting each `{}`
// placeholder with the next argument rendered as a query literal: strings
// are quoted, lists joined by ", ", booleans render as True/False. This is
// the sanctioned way to build queries programmatically.
//
//	Statement("book", `rating >= {} ; author -> {}`, 4, []string{"A", "B"})
//	  → `book: rating >= 4 ; author -> "A", "B"`
func Statement(target, template string, args ...any) (string, error) {
	return fillTemplate(target, template, args, nil)
}

// StatementNamed is Statement with `{name}` placeholders filled from a map.
func StatementNamed(target, template string, named map[string]any) (string, error) {
	return fillTemplate(target, template, nil, named)
}

func fillTemplate(target, template string, args []any, named map[string]any) (string, error) {
	var buf strings.Builder
	buf.WriteString(target)
	buf.WriteString(targetSep)
	buf.WriteByte(' ')

	next := 0
	rest := template
	for {
		i := strings.IndexByte(rest, '{')
		if i < 0 {
			buf.WriteString(rest)
			break
		}
		buf.WriteString(rest[:i])
		rest = rest[i+1:]
		j := strings.IndexByte(rest, '}')
		if j < 0 {
			return "", fmt.Errorf("statement: unclosed placeholder")
		}
		name := rest[:j]
		rest = rest[j+1:]

		var raw any
		if name == "" {
			if next >= len(args) {
				return "", fmt.Errorf("statement: not enough arguments for placeholders")
			}
			raw = args[next]
			next++
		} else {
			v, ok := named[name]
			if !ok {
				return "", fmt.Errorf("statement: no value for placeholder {%s}", name)
			}
			raw = v
		}
		lit, err := literalize(raw)
		if err != nil {
			return "", fmt.Errorf("statement: %w", err)
		}
		buf.WriteString(lit)
	}
	if next < len(args) {
		return "", fmt.Errorf("statement: %d unused arguments", len(args)-next)
	}
	return buf.String(), nil
}

// literalize renders a Go value as a query literal.
func literalize(raw any) (string, error) {
	norm, err := normalizeValue(raw)
	if err != nil {
		return "", err
	}
	v, err := valueOf(norm)
	if err != nil {
		return "", err
	}
	if v.IsNull() {
		return "", fmt.Errorf("nil has no query literal form")
	}
	return v.String(), nil
}

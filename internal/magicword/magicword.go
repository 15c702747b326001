// Package magicword implements the {{{name[:arg|arg...]}}} placeholder grammar
// used in banner text and preload scripts.
package magicword

import (
	"regexp"
	"strings"
)

var pattern = regexp.MustCompile(`\{\{\{([^}:]+)(?::([^}]*))?\}\}\}`)

// Token is one placeholder occurrence. Start and End are byte offsets into the
// scanned text, End exclusive.
type Token struct {
	Name   string
	Params []string
	Start  int
	End    int
}

// Resolver turns a placeholder into its replacement text.
type Resolver interface {
	Resolve(name string, params []string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string, params []string) (string, error)

func (f ResolverFunc) Resolve(name string, params []string) (string, error) { return f(name, params) }

// Scan returns every placeholder in text, left to right.
func Scan(text string) []Token {
	matches := pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		tok := Token{Name: text[m[2]:m[3]], Start: m[0], End: m[1]}
		if m[4] >= 0 {
			tok.Params = SplitParams(text[m[4]:m[5]])
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// SplitParams splits an argument string on "|". The empty string yields no
// arguments rather than a single empty one.
func SplitParams(raw string) []string {
	if raw == "" {
		return []string{}
	}
	return strings.Split(raw, "|")
}

// Names lists the distinct placeholder names of text in first-seen order.
func Names(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, t := range Scan(text) {
		if _, ok := seen[t.Name]; ok {
			continue
		}
		seen[t.Name] = struct{}{}
		out = append(out, t.Name)
	}
	return out
}

// Substitute replaces every placeholder of text with its resolved value in a
// single pass. Resolved values are not scanned again. Every occurrence is
// resolved on its own, and the first resolver error aborts the substitution.
func Substitute(text string, r Resolver) (string, error) {
	tokens := Scan(text)
	if len(tokens) == 0 {
		return text, nil
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, t := range tokens {
		params := t.Params
		if params == nil {
			params = []string{}
		}
		val, err := r.Resolve(t.Name, params)
		if err != nil {
			return "", err
		}
		b.WriteString(text[last:t.Start])
		b.WriteString(val)
		last = t.End
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

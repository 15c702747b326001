package render

import (
	"fmt"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"

	"notice-engine/internal/magicword"
)

const jsMediaType = "application/javascript"

// JSMinifier minifies JavaScript with tdewolff/minify.
type JSMinifier struct {
	m *minify.M
}

func NewJSMinifier() *JSMinifier {
	m := minify.New()
	m.AddFunc(jsMediaType, js.Minify)
	return &JSMinifier{m: m}
}

func (j *JSMinifier) Minify(code string) (string, error) {
	return j.m.String(jsMediaType, code)
}

// minifyPreserving swaps placeholders for plain identifiers while minifying,
// since "{{{x}}}" is not valid script on its own.
func minifyPreserving(m Minifier, code string) (string, error) {
	tokens := magicword.Scan(code)
	if len(tokens) == 0 {
		return m.Minify(code)
	}
	var b strings.Builder
	restore := make([]string, 0, 2*len(tokens))
	last := 0
	for i, t := range tokens {
		ident := fmt.Sprintf("__cnmw%d__", i)
		b.WriteString(code[last:t.Start])
		b.WriteString(ident)
		restore = append(restore, ident, code[t.Start:t.End])
		last = t.End
	}
	b.WriteString(code[last:])

	out, err := m.Minify(b.String())
	if err != nil {
		return "", err
	}
	return strings.NewReplacer(restore...).Replace(out), nil
}

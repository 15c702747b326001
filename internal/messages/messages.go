// Package messages resolves localized banner text.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"notice-engine/internal/notice"
)

// Localizer returns a message in a language. Text is the raw message, HTML the
// message rendered for inclusion in markup.
type Localizer interface {
	Text(ctx context.Context, key, lang string) (string, error)
	HTML(ctx context.Context, key, lang string) (string, error)
}

// Source is a flat key/language lookup without fallback. It returns
// notice.ErrMessageNotFound when the pair is missing.
type Source interface {
	Lookup(ctx context.Context, key, lang string) (string, error)
}

// Catalog is a Localizer over a Source that walks the language fallback chain.
type Catalog struct {
	src      Source
	fallback string
}

func NewCatalog(src Source, fallback string) *Catalog {
	if fallback == "" {
		fallback = "en"
	}
	return &Catalog{src: src, fallback: fallback}
}

func (c *Catalog) Text(ctx context.Context, key, lang string) (string, error) {
	for _, l := range Chain(lang, c.fallback) {
		msg, err := c.src.Lookup(ctx, key, l)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, notice.ErrMessageNotFound) {
			return "", fmt.Errorf("lookup %s/%s: %w", key, l, err)
		}
	}
	return "", fmt.Errorf("%w: %s (%s)", notice.ErrMessageNotFound, key, lang)
}

// HTML returns the message as stored. Banner messages are authored as markup
// by administrators.
func (c *Catalog) HTML(ctx context.Context, key, lang string) (string, error) {
	return c.Text(ctx, key, lang)
}

// Chain is the ordered list of language codes tried for lang: the tag itself,
// its parents, then the fallback. Codes are lower case, duplicates removed.
func Chain(lang, fallback string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(code string) {
		code = strings.ToLower(code)
		if code == "" || code == "und" {
			return
		}
		if _, ok := seen[code]; ok {
			return
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	if tag, err := language.Parse(lang); err == nil {
		for t := tag; !t.IsRoot(); t = t.Parent() {
			add(t.String())
		}
	} else {
		add(lang)
	}
	add(fallback)
	return out
}

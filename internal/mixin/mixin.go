// Package mixin holds the pluggable contributors attached to a banner: preload
// script snippets, client-side modules and magic word resolvers.
package mixin

import (
	"fmt"
	"sort"

	"notice-engine/internal/notice"
)

// Module is a client-side module reference with its loader parameters.
type Module struct {
	Name   string
	Params any
}

// Mixin is implemented by every banner mixin. A mixin that is inactive for
// the allocation context simply contributes nothing.
type Mixin interface {
	Name() string
	PreloadJS() string
	Modules() []Module
	MagicWords() []string
	// RenderMagicWord returns ok=false when the mixin does not know the word.
	RenderMagicWord(word string, params []string) (value string, ok bool)
}

// Factory builds a mixin for one render.
type Factory func(cfg notice.MixinConfig, alloc notice.AllocationContext) (Mixin, error)

// Catalog maps mixin names to factories.
type Catalog map[string]Factory

// Names returns the registered mixin names, sorted.
func (c Catalog) Names() []string {
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build instantiates the configured mixins in order. Unknown names are
// configuration errors.
func (c Catalog) Build(cfgs []notice.MixinConfig, alloc notice.AllocationContext) ([]Mixin, error) {
	out := make([]Mixin, 0, len(cfgs))
	for _, cfg := range cfgs {
		f, ok := c[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown mixin %q", notice.ErrConfiguration, cfg.Name)
		}
		m, err := f(cfg, alloc)
		if err != nil {
			return nil, fmt.Errorf("%w: mixin %q: %v", notice.ErrConfiguration, cfg.Name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

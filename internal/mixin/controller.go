package mixin

// Snippet is one mixin's preload script.
type Snippet struct {
	Mixin string
	Code  string
}

// Controller aggregates the contributions of an ordered set of mixins.
// It is read-only after construction.
type Controller struct {
	mixins []Mixin
}

func NewController(mixins ...Mixin) *Controller {
	return &Controller{mixins: append([]Mixin(nil), mixins...)}
}

// Len is the number of registered mixins.
func (c *Controller) Len() int { return len(c.mixins) }

// PreloadSnippets returns the non-empty preload scripts in registration order.
func (c *Controller) PreloadSnippets() []Snippet {
	var out []Snippet
	for _, m := range c.mixins {
		if code := m.PreloadJS(); code != "" {
			out = append(out, Snippet{Mixin: m.Name(), Code: code})
		}
	}
	return out
}

// Modules merges every mixin's modules. A module named twice keeps the slot of
// its first appearance, but the parameters of the last registration win.
func (c *Controller) Modules() []Module {
	var out []Module
	pos := map[string]int{}
	for _, m := range c.mixins {
		for _, mod := range m.Modules() {
			if i, ok := pos[mod.Name]; ok {
				out[i] = mod
				continue
			}
			pos[mod.Name] = len(out)
			out = append(out, mod)
		}
	}
	return out
}

// MagicWords is the union of all words any mixin resolves, first-seen order.
func (c *Controller) MagicWords() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range c.mixins {
		for _, w := range m.MagicWords() {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

// RenderMagicWord asks each mixin in registration order; the first one that
// knows the word wins.
func (c *Controller) RenderMagicWord(word string, params []string) (string, bool) {
	for _, m := range c.mixins {
		if v, ok := m.RenderMagicWord(word, params); ok {
			return v, true
		}
	}
	return "", false
}

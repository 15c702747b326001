// Package render composes the final markup of a banner: body text with the
// mixin resource fragment, the preload script bundle and the admin preview.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"notice-engine/internal/magicword"
	"notice-engine/internal/messages"
	"notice-engine/internal/mixin"
	"notice-engine/internal/notice"
)

// Minifier shrinks script text.
type Minifier interface {
	Minify(code string) (string, error)
}

// ModuleLoader emits the client-side call that loads modules.
type ModuleLoader interface {
	LoadScript(mods []mixin.Module) (string, error)
}

// Request carries the per-request display settings.
type Request struct {
	Language string
	Debug    bool
}

// Options are the collaborators shared by every render.
type Options struct {
	Localizer   messages.Localizer
	Mixins      mixin.Catalog
	Minifier    Minifier
	Loader      ModuleLoader
	PreviewPath string
	EditPath    string
}

// Renderer renders one banner under one allocation context. It holds no
// state that changes between calls.
type Renderer struct {
	opts     Options
	req      Request
	banner   *notice.Banner
	campaign string
	alloc    notice.AllocationContext
	mixins   *mixin.Controller
}

// New builds a renderer. A nil alloc means the banner is being previewed
// outside a live campaign.
func New(opts Options, req Request, b *notice.Banner, campaign string, alloc *notice.AllocationContext) (*Renderer, error) {
	if opts.Localizer == nil {
		return nil, fmt.Errorf("render: localizer is required")
	}
	if opts.Minifier == nil {
		opts.Minifier = NewJSMinifier()
	}
	if opts.Loader == nil {
		opts.Loader = MWLoader{}
	}
	if opts.Mixins == nil {
		opts.Mixins = mixin.Builtin()
	}
	if opts.PreviewPath == "" {
		opts.PreviewPath = "/v1/banners/preview"
	}

	ac := notice.PreviewContext()
	if alloc != nil {
		ac = *alloc
	}
	if req.Language == "" {
		req.Language = ac.Language
	}

	ms, err := opts.Mixins.Build(b.Mixins, ac)
	if err != nil {
		return nil, fmt.Errorf("banner %s: %w", b.Name, err)
	}
	return &Renderer{
		opts:     opts,
		req:      req,
		banner:   b,
		campaign: campaign,
		alloc:    ac,
		mixins:   mixin.NewController(ms...),
	}, nil
}

func (r *Renderer) Banner() *notice.Banner { return r.banner }

func (r *Renderer) Allocation() notice.AllocationContext { return r.alloc }

// Body returns the banner text followed by the resource fragment, with all
// magic words substituted.
func (r *Renderer) Body(ctx context.Context) (string, error) {
	text, err := r.opts.Localizer.Text(ctx, r.banner.DBKey(), r.req.Language)
	if err != nil {
		return "", fmt.Errorf("banner %s body: %w", r.banner.Name, err)
	}
	frag, err := r.ResourceFragment()
	if err != nil {
		return "", err
	}
	return r.Substitute(ctx, text+frag)
}

// PreloadJS bundles the mixins' preload snippets. Snippets are chained with
// "&&" so a falsy snippet stops the ones after it.
func (r *Renderer) PreloadJS(ctx context.Context) (string, error) {
	snippets := r.mixins.PreloadSnippets()
	if len(snippets) == 0 {
		return "", nil
	}
	bundled := make([]string, 0, len(snippets))
	for _, s := range snippets {
		code := s.Code
		if !r.req.Debug {
			// Placeholders glued to a token can leave code the minifier
			// rejects; such a snippet ships as written.
			if small, err := minifyPreserving(r.opts.Minifier, code); err != nil {
				log.Warn().Err(err).Str("banner", r.banner.Name).Str("mixin", s.Mixin).Msg("preload left unminified")
			} else {
				code = small
			}
		}
		bundled = append(bundled, "/* "+s.Mixin+": */"+code)
	}
	return r.Substitute(ctx, strings.Join(bundled, " && "))
}

// ResourceFragment lists the aggregated modules in a comment and loads them.
// It is empty when no mixin asks for a module.
func (r *Renderer) ResourceFragment() (string, error) {
	mods := r.mixins.Modules()
	if len(mods) == 0 {
		return "", nil
	}
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name
	}
	script, err := r.opts.Loader.LoadScript(mods)
	if err != nil {
		return "", fmt.Errorf("module loader: %w", err)
	}
	return "<!-- " + strings.Join(names, ", ") + " -->" + script, nil
}

// MagicWords lists every word this renderer can resolve without touching the
// banner's message fields.
func (r *Renderer) MagicWords() []string {
	return append([]string{"banner", "campaign"}, r.mixins.MagicWords()...)
}

// UnresolvedPlaceholders reports placeholder names in the banner body that
// nothing would resolve.
func (r *Renderer) UnresolvedPlaceholders(ctx context.Context) ([]string, error) {
	text, err := r.opts.Localizer.Text(ctx, r.banner.DBKey(), r.req.Language)
	if err != nil {
		return nil, fmt.Errorf("banner %s body: %w", r.banner.Name, err)
	}
	known := map[string]struct{}{}
	for _, w := range r.MagicWords() {
		known[w] = struct{}{}
	}
	for _, f := range r.banner.Fields {
		known[f] = struct{}{}
	}
	var out []string
	for _, name := range magicword.Names(text) {
		if _, ok := known[name]; !ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// Substitute resolves the magic words of text for this render.
func (r *Renderer) Substitute(ctx context.Context, text string) (string, error) {
	return magicword.Substitute(text, magicword.ResolverFunc(func(name string, params []string) (string, error) {
		return r.resolve(ctx, name, params)
	}))
}

func (r *Renderer) resolve(ctx context.Context, name string, params []string) (string, error) {
	switch name {
	case "banner":
		return r.banner.Name, nil
	case "campaign":
		return r.campaign, nil
	}
	if v, ok := r.mixins.RenderMagicWord(name, params); ok {
		return v, nil
	}
	field, err := r.banner.MessageField(name)
	if err != nil {
		return "", err
	}
	html, err := r.opts.Localizer.HTML(ctx, field.Key(), r.req.Language)
	if err != nil {
		return "", fmt.Errorf("banner %s field %s: %w", r.banner.Name, name, err)
	}
	return html, nil
}

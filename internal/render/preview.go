package render

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"notice-engine/internal/notice"
)

// PreviewFieldSet wraps an iframe of the banner preview endpoint in a titled
// fieldset for the admin screens. No magic words are substituted here.
func (r *Renderer) PreviewFieldSet(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("banner", r.banner.Name)
	q.Set("uselang", r.req.Language)
	q.Set("force", "1")
	src := r.opts.PreviewPath + "?" + q.Encode()

	label, err := r.message(ctx, "centralnotice-preview", "Preview")
	if err != nil {
		return "", err
	}
	noFrame, err := r.message(ctx, "centralnotice-noiframe", "Your browser does not support iframes.")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<fieldset class="cn-bannerpreview" id="%s">`, html.EscapeString(EscapeID("cn-banner-preview-"+r.banner.Name)))
	fmt.Fprintf(&b, `<legend>%s</legend>`, html.EscapeString(label))
	fmt.Fprintf(&b, `<iframe src="%s" width="100%%" seamless="seamless" frameborder="0">%s</iframe>`,
		html.EscapeString(src), html.EscapeString(noFrame))
	b.WriteString(`</fieldset>`)
	return b.String(), nil
}

// LinkTo is the admin link to the banner's edit page.
func (r *Renderer) LinkTo() string {
	href := strings.TrimRight(r.opts.EditPath, "/") + "/edit/" + url.PathEscape(r.banner.Name)
	return fmt.Sprintf(`<a href="%s" class="cn-banner-title">%s</a>`, html.EscapeString(href), html.EscapeString(r.banner.Name))
}

func (r *Renderer) message(ctx context.Context, key, def string) (string, error) {
	msg, err := r.opts.Localizer.Text(ctx, key, r.req.Language)
	if errors.Is(err, notice.ErrMessageNotFound) {
		return def, nil
	}
	return msg, err
}

// EscapeID makes s usable as an HTML id: spaces become underscores and any
// other byte outside [A-Za-z0-9_.:-] is written as ".XX".
func EscapeID(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			b.WriteByte('_')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '_', c == '.', c == ':', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, ".%02X", c)
		}
	}
	return b.String()
}

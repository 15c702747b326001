package api

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"notice-engine/internal/engine"
	"notice-engine/internal/notice"
	"notice-engine/internal/observability"
	"notice-engine/internal/render"
)

// BannerSource loads banner definitions by name.
type BannerSource interface {
	Banner(ctx context.Context, name string) (*notice.Banner, error)
}

// Allocator chooses a banner for a delivery context.
type Allocator interface {
	Allocate(alloc notice.AllocationContext, now time.Time, roll float64) (engine.Allocation, bool)
}

// BannerHandler serves banner renders, previews and delivery.
type BannerHandler struct {
	Banners BannerSource
	Engine  Allocator
	Render  render.Options
	Debug   bool

	Now  func() time.Time
	Roll func() float64
}

func NewBannerHandler(banners BannerSource, eng Allocator, opts render.Options, debug bool) *BannerHandler {
	return &BannerHandler{
		Banners: banners,
		Engine:  eng,
		Render:  opts,
		Debug:   debug,
		Now:     time.Now,
		Roll:    rand.Float64,
	}
}

// Rendered is the JSON body of a banner render.
type Rendered struct {
	Banner   string `json:"banner"`
	Campaign string `json:"campaign"`
	HTML     string `json:"html"`
	Preload  string `json:"preload"`
}

// RenderBanner renders a named banner for the context in the query string.
// Omitted context parameters take their preview defaults.
func (h *BannerHandler) RenderBanner(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	alloc, err := allocationFrom(q, notice.PreviewContext())
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.requestFrom(q, alloc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.render(r.Context(), chi.URLParam(r, "name"), q.Get("campaign"), alloc, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PreviewBanner returns the admin preview wrapper of a banner.
func (h *BannerHandler) PreviewBanner(w http.ResponseWriter, r *http.Request) {
	b, err := h.Banners.Banner(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rr, err := render.New(h.Render, render.Request{Language: r.URL.Query().Get("uselang")}, b, "", nil)
	if err != nil {
		h.failed(b.Name, "", err)
		writeError(w, r, err)
		return
	}
	html, err := rr.PreviewFieldSet(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeHTML(w, rr.LinkTo()+html)
}

// PreviewFrame is the iframe target of the preview wrapper: the banner body
// rendered under the preview context.
func (h *BannerHandler) PreviewFrame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("banner")
	if name == "" {
		writeError(w, r, badRequest("banner is required"))
		return
	}
	alloc, err := allocationFrom(url.Values{"uselang": {q.Get("uselang")}}, notice.PreviewContext())
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.requestFrom(q, alloc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.render(r.Context(), name, "", alloc, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeHTML(w, out.HTML)
}

// Delivery allocates a banner for the caller's context and renders it.
func (h *BannerHandler) Delivery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("project") == "" || q.Get("uselang") == "" {
		writeError(w, r, badRequest("project and uselang are required"))
		return
	}
	alloc, err := allocationFrom(q, notice.AllocationContext{Anonymous: true, Device: "desktop"})
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.requestFrom(q, alloc)
	if err != nil {
		writeError(w, r, err)
		return
	}

	choice, ok := h.Engine.Allocate(alloc, h.Now(), h.Roll())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	out, err := h.render(r.Context(), choice.Banner, choice.Campaign, alloc, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BannerHandler) render(ctx context.Context, name, campaign string, alloc notice.AllocationContext, req render.Request) (*Rendered, error) {
	b, err := h.Banners.Banner(ctx, name)
	if err != nil {
		return nil, err
	}
	rr, err := render.New(h.Render, req, b, campaign, &alloc)
	if err != nil {
		h.failed(name, campaign, err)
		return nil, err
	}
	body, err := rr.Body(ctx)
	if err != nil {
		h.failed(name, campaign, err)
		return nil, err
	}
	preload, err := rr.PreloadJS(ctx)
	if err != nil {
		h.failed(name, campaign, err)
		return nil, err
	}
	return &Rendered{Banner: b.Name, Campaign: campaign, HTML: body, Preload: preload}, nil
}

func (h *BannerHandler) failed(banner, campaign string, err error) {
	kind := "internal"
	switch {
	case errors.Is(err, notice.ErrConfiguration):
		kind = "configuration"
	case errors.Is(err, notice.ErrMessageNotFound):
		kind = "message"
	}
	observability.RenderFailures.WithLabelValues(kind).Inc()
	log.Warn().Err(err).Str("banner", banner).Str("campaign", campaign).Str("kind", kind).Msg("banner render refused")
}

func (h *BannerHandler) requestFrom(q url.Values, alloc notice.AllocationContext) (render.Request, error) {
	req := render.Request{Language: alloc.Language, Debug: h.Debug}
	if v := q.Get("debug"); v != "" {
		d, err := strconv.ParseBool(v)
		if err != nil {
			return req, badRequest("debug must be a boolean")
		}
		req.Debug = d
	}
	return req, nil
}

// allocationFrom overlays the query parameters on def.
func allocationFrom(q url.Values, def notice.AllocationContext) (notice.AllocationContext, error) {
	pick := func(key, fallback string) string {
		if v := q.Get(key); v != "" {
			return v
		}
		return fallback
	}
	anon := def.Anonymous
	if v := q.Get("anon"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return notice.AllocationContext{}, badRequest("anon must be a boolean")
		}
		anon = b
	}
	bucket := def.Bucket
	if v := q.Get("bucket"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return notice.AllocationContext{}, badRequest("bucket must be a non-negative integer")
		}
		bucket = n
	}
	return notice.NewAllocationContext(
		pick("country", def.Country),
		pick("uselang", def.Language),
		pick("project", def.Project),
		anon,
		pick("device", def.Device),
		bucket,
	), nil
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notice-engine/internal/engine"
	"notice-engine/internal/messages"
	"notice-engine/internal/notice"
	"notice-engine/internal/render"
)

type fakeBanners map[string]*notice.Banner

func (f fakeBanners) Banner(_ context.Context, name string) (*notice.Banner, error) {
	b, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", notice.ErrBannerNotFound, name)
	}
	return b, nil
}

func (f fakeBanners) BannerID(ctx context.Context, name string) (int64, error) {
	b, err := f.Banner(ctx, name)
	if err != nil {
		return 0, err
	}
	return b.ID, nil
}

type fakeAllocator struct {
	choice engine.Allocation
	ok     bool
	got    notice.AllocationContext
}

func (f *fakeAllocator) Allocate(alloc notice.AllocationContext, _ time.Time, _ float64) (engine.Allocation, bool) {
	f.got = alloc
	return f.choice, f.ok
}

// fakeCampaigns implements the calls the tests exercise; anything else panics
// through the nil embedded interface.
type fakeCampaigns struct {
	CampaignStore

	settings map[string]*notice.CampaignSettings
	locked   map[string]bool
	addUser  notice.User
	numeric  []string
	bools    []string
	modified int
	logQuery notice.LogQuery
}

func newFakeCampaigns() *fakeCampaigns {
	return &fakeCampaigns{
		settings: map[string]*notice.CampaignSettings{
			"Spring": {Enabled: true, Buckets: 1, Projects: []string{"wikipedia"}, Languages: []string{"en"}},
		},
		locked: map[string]bool{},
	}
}

func (f *fakeCampaigns) List(context.Context, notice.CampaignFilter) ([]int64, error) {
	return []int64{1}, nil
}

func (f *fakeCampaigns) Name(context.Context, int64) (string, error) { return "Spring", nil }

func (f *fakeCampaigns) Settings(_ context.Context, name string, _ bool) (*notice.CampaignSettings, error) {
	s, ok := f.settings[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", notice.ErrCampaignNotFound, name)
	}
	return s, nil
}

func (f *fakeCampaigns) Add(_ context.Context, nc notice.NewCampaign, user notice.User) (int64, error) {
	if _, ok := f.settings[nc.Name]; ok {
		return 0, notice.ErrCampaignExists
	}
	f.addUser = user
	f.settings[nc.Name] = &notice.CampaignSettings{}
	return 42, nil
}

func (f *fakeCampaigns) Remove(_ context.Context, name string, _ notice.User) error {
	if f.locked[name] {
		return notice.ErrCampaignLocked
	}
	delete(f.settings, name)
	return nil
}

func (f *fakeCampaigns) Modify(ctx context.Context, name string, _ notice.User, fn func(context.Context) error) error {
	if _, err := f.Settings(ctx, name, true); err != nil {
		return err
	}
	f.modified++
	return fn(ctx)
}

func (f *fakeCampaigns) SetBoolSetting(_ context.Context, _, setting string, value bool) error {
	f.bools = append(f.bools, fmt.Sprintf("%s=%t", setting, value))
	return nil
}

func (f *fakeCampaigns) SetNumericSetting(_ context.Context, _, setting string, value, maxVal, minVal int) error {
	f.numeric = append(f.numeric, fmt.Sprintf("%s=%d [%d,%d]", setting, value, minVal, maxVal))
	return nil
}

func (f *fakeCampaigns) UpdateProjects(context.Context, string, []string) error { return nil }

func (f *fakeCampaigns) AssignBanner(_ context.Context, _, banner string, _ int) error {
	if banner == "Dup" {
		return notice.ErrBannerAlreadyAssigned
	}
	return nil
}

func (f *fakeCampaigns) Logs(_ context.Context, q notice.LogQuery) ([]notice.LogEntry, error) {
	f.logQuery = q
	return nil, nil
}

type fixture struct {
	alloc     *fakeAllocator
	campaigns *fakeCampaigns
	router    http.Handler
}

func newFixture() *fixture {
	mem := messages.NewMemory()
	mem.Set("Centralnotice-template-B1", "en", "Hi {{{country}}} from {{{banner}}}/{{{campaign}}}: {{{headline}}}")
	mem.Set("Centralnotice-B1-headline", "en", "Donate")
	mem.Set("Centralnotice-B1-headline", "de", "Spenden")
	mem.Set("Centralnotice-template-Diet", "en", "diet")
	mem.Set("Centralnotice-template-Broken", "en", "{{{typo}}}")

	banners := fakeBanners{
		"B1": {ID: 1, Name: "B1", Mixins: []notice.MixinConfig{{Name: "context"}}, Fields: []string{"headline"}},
		"Diet": {ID: 2, Name: "Diet", Mixins: []notice.MixinConfig{{Name: "banner-diet"}}},
		"Broken": {ID: 3, Name: "Broken"},
		"Unknown": {ID: 4, Name: "Unknown", Mixins: []notice.MixinConfig{{Name: "nope"}}},
	}
	f := &fixture{alloc: &fakeAllocator{}, campaigns: newFakeCampaigns()}
	bh := NewBannerHandler(banners, f.alloc, render.Options{
		Localizer:   messages.NewCatalog(mem, "en"),
		PreviewPath: "/v1/banners/preview",
		EditPath:    "/admin/banners",
	}, false)
	bh.Roll = func() float64 { return 0 }
	f.router = Router(bh, NewCampaignHandler(f.campaigns, banners))
	return f
}

func (f *fixture) do(t *testing.T, method, url, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestRenderBanner(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/banners/B1/render?campaign=Spring&country=fr", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got Rendered
	decode(t, rec, &got)
	assert.Equal(t, Rendered{Banner: "B1", Campaign: "Spring", HTML: "Hi FR from B1/Spring: Donate"}, got)
}

func TestRenderBanner_DebugPreload(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/banners/Diet/render?debug=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got Rendered
	decode(t, rec, &got)
	assert.Equal(t, `/* banner-diet: */mw.centralNotice.bannerDiet.allow("centralnotice_banner_count", 5)`, got.Preload)
	assert.Equal(t, "diet<!-- ext.centralNotice.bannerDiet --><script>if(window.mw){\nmw.loader.load([\"ext.centralNotice.bannerDiet\"]);\n}</script>", got.HTML)
}

func TestRenderBanner_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want int
	}{
		{"missing banner", "/v1/banners/Nope/render", http.StatusNotFound},
		{"undeclared field", "/v1/banners/Broken/render", http.StatusUnprocessableEntity},
		{"unknown mixin", "/v1/banners/Unknown/render", http.StatusUnprocessableEntity},
		{"bad bucket", "/v1/banners/B1/render?bucket=x", http.StatusBadRequest},
		{"bad anon", "/v1/banners/B1/render?anon=maybe", http.StatusBadRequest},
		{"bad debug", "/v1/banners/B1/render?debug=2", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newFixture().do(t, http.MethodGet, tt.url, "", nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			var body map[string]string
			decode(t, rec, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestPreviewBanner(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/banners/B1/preview?uselang=de", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `<a href="/admin/banners/edit/B1" class="cn-banner-title">B1</a>`)
	assert.Contains(t, body, `src="/v1/banners/preview?banner=B1&amp;force=1&amp;uselang=de"`)

	rec = f.do(t, http.MethodGet, "/v1/banners/preview?banner=B1&uselang=de&force=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hi XX from B1/: Spenden", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/banners/preview", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelivery(t *testing.T) {
	t.Run("missing params", func(t *testing.T) {
		rec := newFixture().do(t, http.MethodGet, "/v1/delivery?country=us", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no match", func(t *testing.T) {
		rec := newFixture().do(t, http.MethodGet, "/v1/delivery?project=wikipedia&uselang=en", "", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("allocated", func(t *testing.T) {
		f := newFixture()
		f.alloc.choice = engine.Allocation{Campaign: "Spring", Banner: "B1"}
		f.alloc.ok = true

		rec := f.do(t, http.MethodGet, "/v1/delivery?project=Wikipedia&uselang=DE&country=de&bucket=3&anon=false&device=Mobile", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, notice.AllocationContext{
			Country: "DE", Language: "de", Project: "wikipedia", Anonymous: false, Device: "mobile", Bucket: 3,
		}, f.alloc.got)
		var got Rendered
		decode(t, rec, &got)
		assert.Equal(t, "Hi DE from B1/Spring: Spenden", got.HTML)
	})
}

func TestCampaigns_ListAndGet(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/campaigns?project=wikipedia&enabled=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"campaigns":["Spring"]}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/campaigns?date=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/campaigns/Spring", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s notice.CampaignSettings
	decode(t, rec, &s)
	assert.Equal(t, []string{"wikipedia"}, s.Projects)

	rec = f.do(t, http.MethodGet, "/v1/campaigns/Autumn", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaigns_CreateAndDelete(t *testing.T) {
	f := newFixture()
	user := map[string]string{"X-User-ID": "7"}

	rec := f.do(t, http.MethodPost, "/v1/campaigns", `{"name":"Autumn","projects":["wikipedia"],"languages":["en"]}`, user)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":42}`, rec.Body.String())
	assert.Equal(t, int64(7), f.campaigns.addUser.ID)

	rec = f.do(t, http.MethodPost, "/v1/campaigns", `{"name":"Autumn"}`, user)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/campaigns", `{"nom":"x"}`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.campaigns.locked["Spring"] = true
	rec = f.do(t, http.MethodDelete, "/v1/campaigns/Spring", "", user)
	assert.Equal(t, http.StatusLocked, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/campaigns/Autumn", "", user)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCampaigns_Update(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPatch, "/v1/campaigns/Spring", `{"preferred":9,"buckets":2,"enabled":false,"projects":["wikinews"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, 1, f.campaigns.modified)
	assert.Equal(t, []string{"preferred=9 [0,3]", "buckets=2 [1,4]"}, f.campaigns.numeric)
	assert.Equal(t, []string{"enabled=false"}, f.campaigns.bools)

	rec = f.do(t, http.MethodPatch, "/v1/campaigns/Spring", `{"languages":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/v1/campaigns/Autumn", `{"enabled":true}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaigns_UpdateRejectedBeforeAnyWrite(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty projects", `{"enabled":false,"preferred":2,"projects":[]}`},
		{"empty languages", `{"buckets":2,"languages":[]}`},
		{"start after end", `{"enabled":true,"start":"2026-02-01T00:00:00Z","end":"2026-01-01T00:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			rec := f.do(t, http.MethodPatch, "/v1/campaigns/Spring", tt.body, map[string]string{"X-User-ID": "7"})
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Zero(t, f.campaigns.modified)
			assert.Empty(t, f.campaigns.bools)
			assert.Empty(t, f.campaigns.numeric)
		})
	}
}

func TestCampaigns_Banners(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/campaigns/Spring/banners", `{"banner":"B1","weight":50}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/campaigns/Spring/banners", `{"banner":"Dup"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/campaigns/Spring/banners", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/v1/campaigns/Spring/banners/Nope", `{"weight":10}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaigns_Logs(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/campaigns/logs?campaign=Spr&user=3&limit=10&offset=20&start=2024-01-01T00:00:00Z", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"logs":[]}`, rec.Body.String())
	assert.Equal(t, notice.LogQuery{
		Campaign: "Spr", UserID: 3, Limit: 10, Offset: 20,
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, f.campaigns.logQuery)

	rec = f.do(t, http.MethodGet, "/v1/campaigns/logs?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	rec := newFixture().do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

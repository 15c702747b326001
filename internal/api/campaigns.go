package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"notice-engine/internal/notice"
)

// Bounds for the numeric campaign settings.
const (
	minPreferred = 0
	maxPreferred = 3
	minBuckets   = 1
	maxBuckets   = 4
)

// CampaignStore is the campaign administration repository.
type CampaignStore interface {
	List(ctx context.Context, f notice.CampaignFilter) ([]int64, error)
	Name(ctx context.Context, id int64) (string, error)
	Settings(ctx context.Context, name string, detailed bool) (*notice.CampaignSettings, error)
	Add(ctx context.Context, nc notice.NewCampaign, user notice.User) (int64, error)
	Remove(ctx context.Context, name string, user notice.User) error
	Modify(ctx context.Context, name string, user notice.User, fn func(ctx context.Context) error) error
	AssignBanner(ctx context.Context, campaign, banner string, weight int) error
	UnassignBanner(ctx context.Context, campaign, banner string) error
	UpdateDates(ctx context.Context, name string, start, end time.Time) error
	SetBoolSetting(ctx context.Context, name, setting string, value bool) error
	SetNumericSetting(ctx context.Context, name, setting string, value, maxVal, minVal int) error
	UpdateWeight(ctx context.Context, campaign string, bannerID int64, weight int) error
	UpdateBucket(ctx context.Context, campaign string, bannerID int64, bucket int) error
	UpdateProjects(ctx context.Context, name string, projects []string) error
	UpdateLanguages(ctx context.Context, name string, languages []string) error
	UpdateCountries(ctx context.Context, name string, countries []string) error
	Logs(ctx context.Context, q notice.LogQuery) ([]notice.LogEntry, error)
}

// BannerIDs resolves banner names to IDs.
type BannerIDs interface {
	BannerID(ctx context.Context, name string) (int64, error)
}

type CampaignHandler struct {
	Store   CampaignStore
	Banners BannerIDs
}

func NewCampaignHandler(store CampaignStore, banners BannerIDs) *CampaignHandler {
	return &CampaignHandler{Store: store, Banners: banners}
}

// List returns the names of campaigns matching the query filters.
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := notice.CampaignFilter{
		Project:  q.Get("project"),
		Language: q.Get("language"),
		Country:  q.Get("country"),
	}
	if v := q.Get("date"); v != "" {
		d, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, badRequest("date must be RFC3339"))
			return
		}
		f.Date = d
	}
	if v := q.Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, badRequest("enabled must be a boolean"))
			return
		}
		f.EnabledOnly = b
	}

	ctx := r.Context()
	ids, err := h.Store.List(ctx, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := h.Store.Name(ctx, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		names = append(names, n)
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": names})
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.Settings(r.Context(), chi.URLParam(r, "name"), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var nc notice.NewCampaign
	if err := decodeBody(r, &nc); err != nil {
		writeError(w, r, err)
		return
	}
	if nc.Start.IsZero() {
		nc.Start = time.Now()
	}
	id, err := h.Store.Add(r.Context(), nc, userFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *CampaignHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Remove(r.Context(), chi.URLParam(r, "name"), userFrom(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CampaignPatch lists the settings a PATCH may change. Nil fields are left alone.
type CampaignPatch struct {
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Enabled   *bool      `json:"enabled,omitempty"`
	Locked    *bool      `json:"locked,omitempty"`
	Geo       *bool      `json:"geo,omitempty"`
	Preferred *int       `json:"preferred,omitempty"`
	Buckets   *int       `json:"buckets,omitempty"`
	Projects  *[]string  `json:"projects,omitempty"`
	Languages *[]string  `json:"languages,omitempty"`
	Countries *[]string  `json:"countries,omitempty"`
}

// validate checks the whole patch before anything is written.
func (p CampaignPatch) validate() error {
	if p.Projects != nil && len(*p.Projects) == 0 {
		return notice.ErrNoProject
	}
	if p.Languages != nil && len(*p.Languages) == 0 {
		return notice.ErrNoLanguage
	}
	if p.Start != nil && p.End != nil && p.Start.After(*p.End) {
		return notice.ErrInvalidDateRange
	}
	return nil
}

// Update applies a CampaignPatch as one logged modification. The store runs
// it in a single transaction, so a failing step leaves the campaign as it was.
func (h *CampaignHandler) Update(w http.ResponseWriter, r *http.Request) {
	var p CampaignPatch
	if err := decodeBody(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := p.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	name := chi.URLParam(r, "name")
	err := h.Store.Modify(r.Context(), name, userFrom(r), func(ctx context.Context) error {
		return h.apply(ctx, name, p)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Get(w, r)
}

func (h *CampaignHandler) apply(ctx context.Context, name string, p CampaignPatch) error {
	if p.Start != nil || p.End != nil {
		cur, err := h.Store.Settings(ctx, name, false)
		if err != nil {
			return err
		}
		start, end := cur.Start, cur.End
		if p.Start != nil {
			start = *p.Start
		}
		if p.End != nil {
			end = *p.End
		}
		if err := h.Store.UpdateDates(ctx, name, start, end); err != nil {
			return err
		}
	}
	for setting, v := range map[string]*bool{"enabled": p.Enabled, "locked": p.Locked, "geo": p.Geo} {
		if v == nil {
			continue
		}
		if err := h.Store.SetBoolSetting(ctx, name, setting, *v); err != nil {
			return err
		}
	}
	if p.Preferred != nil {
		if err := h.Store.SetNumericSetting(ctx, name, "preferred", *p.Preferred, maxPreferred, minPreferred); err != nil {
			return err
		}
	}
	if p.Buckets != nil {
		if err := h.Store.SetNumericSetting(ctx, name, "buckets", *p.Buckets, maxBuckets, minBuckets); err != nil {
			return err
		}
	}
	if p.Projects != nil {
		if err := h.Store.UpdateProjects(ctx, name, *p.Projects); err != nil {
			return err
		}
	}
	if p.Languages != nil {
		if err := h.Store.UpdateLanguages(ctx, name, *p.Languages); err != nil {
			return err
		}
	}
	if p.Countries != nil {
		if err := h.Store.UpdateCountries(ctx, name, *p.Countries); err != nil {
			return err
		}
	}
	return nil
}

type assignRequest struct {
	Banner string `json:"banner"`
	Weight int    `json:"weight"`
}

func (h *CampaignHandler) AssignBanner(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Banner == "" {
		writeError(w, r, badRequest("banner is required"))
		return
	}
	if req.Weight <= 0 {
		req.Weight = 25
	}
	name := chi.URLParam(r, "name")
	err := h.Store.Modify(r.Context(), name, userFrom(r), func(ctx context.Context) error {
		return h.Store.AssignBanner(ctx, name, req.Banner, req.Weight)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type assignmentPatch struct {
	Weight *int `json:"weight,omitempty"`
	Bucket *int `json:"bucket,omitempty"`
}

func (h *CampaignHandler) UpdateAssignment(w http.ResponseWriter, r *http.Request) {
	var p assignmentPatch
	if err := decodeBody(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	name, banner := chi.URLParam(r, "name"), chi.URLParam(r, "banner")
	err := h.Store.Modify(r.Context(), name, userFrom(r), func(ctx context.Context) error {
		id, err := h.Banners.BannerID(ctx, banner)
		if err != nil {
			return err
		}
		if p.Weight != nil {
			if err := h.Store.UpdateWeight(ctx, name, id, *p.Weight); err != nil {
				return err
			}
		}
		if p.Bucket != nil {
			if err := h.Store.UpdateBucket(ctx, name, id, *p.Bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CampaignHandler) UnassignBanner(w http.ResponseWriter, r *http.Request) {
	name, banner := chi.URLParam(r, "name"), chi.URLParam(r, "banner")
	err := h.Store.Modify(r.Context(), name, userFrom(r), func(ctx context.Context) error {
		return h.Store.UnassignBanner(ctx, name, banner)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logs returns the campaign change log, newest first.
func (h *CampaignHandler) Logs(w http.ResponseWriter, r *http.Request) {
	lq, err := logQueryFrom(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.Store.Logs(r.Context(), lq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []notice.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func logQueryFrom(q url.Values) (notice.LogQuery, error) {
	lq := notice.LogQuery{Campaign: q.Get("campaign")}
	ints := []struct {
		key string
		dst func(int64)
	}{
		{"user", func(v int64) { lq.UserID = v }},
		{"limit", func(v int64) { lq.Limit = int(v) }},
		{"offset", func(v int64) { lq.Offset = int(v) }},
	}
	for _, p := range ints {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return lq, badRequest(p.key + " must be a non-negative integer")
		}
		p.dst(n)
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"start", &lq.Start}, {"end", &lq.End}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return lq, badRequest(p.key + " must be RFC3339")
		}
		*p.dst = t
	}
	return lq, nil
}

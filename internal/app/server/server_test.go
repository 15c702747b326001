package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notice-engine/internal/engine"
	"notice-engine/internal/listener"
	"notice-engine/internal/notice"
	"notice-engine/internal/storage"
)

type stubLoader struct {
	campaigns []notice.Campaign
	err       error
	calls     int
}

func (s *stubLoader) LoadActiveCampaigns(context.Context, time.Time) ([]notice.Campaign, error) {
	s.calls++
	return s.campaigns, s.err
}

type stubPurger struct{ keys []string }

func (s *stubPurger) Purge(_ context.Context, keys ...string) error {
	s.keys = append(s.keys, keys...)
	return nil
}

func newRefresher() (*Refresher, *stubLoader, *stubPurger) {
	loader := &stubLoader{campaigns: []notice.Campaign{{
		Name: "Spring", Enabled: true, Buckets: 1,
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Projects: []string{"wikipedia"}, Languages: []string{"en"},
		Banners: []notice.Assignment{{Banner: "B1", Weight: 25}},
	}}}
	purger := &stubPurger{}
	r := &Refresher{
		Engine:   engine.NewEngine(),
		Loader:   loader,
		Banners:  storage.NewBannerCache(),
		Messages: purger,
		Now:      func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
	return r, loader, purger
}

func TestRefresher_TableChange(t *testing.T) {
	r, loader, _ := newRefresher()
	r.Banners.Put(&notice.Banner{Name: "B1"}, r.Banners.Gen())

	require.NoError(t, r.Refresh(context.Background(), "cn_notices"))

	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, 0, r.Banners.Len())
	_, ok := r.Engine.BuiltAt()
	assert.True(t, ok)

	choice, ok := r.Engine.Allocate(notice.NewAllocationContext("US", "en", "wikipedia", true, "desktop", 0), r.Now(), 0)
	require.True(t, ok)
	assert.Equal(t, "B1", choice.Banner)
}

func TestRefresher_ClockKeepsBannerCache(t *testing.T) {
	r, loader, _ := newRefresher()
	r.Banners.Put(&notice.Banner{Name: "B1"}, r.Banners.Gen())

	require.NoError(t, r.Refresh(context.Background(), ""))
	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, 1, r.Banners.Len())
}

func TestRefresher_ResyncAfterReconnect(t *testing.T) {
	r, loader, purger := newRefresher()
	r.Banners.Put(&notice.Banner{Name: "B1"}, r.Banners.Gen())

	require.NoError(t, r.Refresh(context.Background(), listener.Resync))
	assert.Equal(t, 1, loader.calls)
	assert.Zero(t, r.Banners.Len())
	assert.Empty(t, purger.keys)
}

func TestRefresher_MessageChange(t *testing.T) {
	r, loader, purger := newRefresher()

	require.NoError(t, r.Refresh(context.Background(), "cn_messages:Centralnotice-B1-headline"))
	assert.Equal(t, []string{"Centralnotice-B1-headline"}, purger.keys)
	assert.Zero(t, loader.calls)

	r.Messages = nil
	assert.NoError(t, r.Refresh(context.Background(), "cn_messages:x"))
}

func TestRefresher_LoadError(t *testing.T) {
	r, loader, _ := newRefresher()
	loader.err = errors.New("db down")
	assert.ErrorContains(t, r.Refresh(context.Background(), "cn_notices"), "db down")
}

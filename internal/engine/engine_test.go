package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"notice-engine/internal/notice"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type stubLoader struct {
	campaigns []notice.Campaign
	err       error
}

func (s stubLoader) LoadActiveCampaigns(context.Context, time.Time) ([]notice.Campaign, error) {
	return s.campaigns, s.err
}

func running(name string, mod func(*notice.Campaign)) notice.Campaign {
	c := notice.Campaign{
		Name:      name,
		Start:     now.Add(-time.Hour),
		End:       now.Add(time.Hour),
		Enabled:   true,
		Buckets:   1,
		Projects:  []string{"wikipedia"},
		Languages: []string{"en"},
	}
	if mod != nil {
		mod(&c)
	}
	return c
}

func names(cs []notice.Campaign) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.Name)
	}
	return out
}

func TestMatch(t *testing.T) {
	campaigns := []notice.Campaign{
		running("plain", nil),
		running("geo-fr", func(c *notice.Campaign) { c.Geo = true; c.Countries = []string{"fr"} }),
		running("preferred", func(c *notice.Campaign) { c.Preferred = 2 }),
		running("german", func(c *notice.Campaign) { c.Languages = []string{"de"} }),
		running("books", func(c *notice.Campaign) { c.Projects = []string{"wikibooks"} }),
		running("ended", func(c *notice.Campaign) { c.End = now.Add(-time.Minute) }),
		running("disabled", func(c *notice.Campaign) { c.Enabled = false }),
	}
	e := NewEngine()
	e.Replace(campaigns, now)

	tests := []struct {
		name  string
		alloc notice.AllocationContext
		want  []string
	}{
		{"us english", notice.NewAllocationContext("US", "en", "wikipedia", true, "desktop", 0), []string{"preferred", "plain"}},
		{"france", notice.NewAllocationContext("fr", "EN", "Wikipedia", true, "desktop", 0), []string{"preferred", "geo-fr", "plain"}},
		{"german", notice.AllocationContext{Country: "DE", Language: "de", Project: "wikipedia"}, []string{"german"}},
		{"nothing", notice.AllocationContext{Country: "US", Language: "ja", Project: "wikipedia"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(e.Match(tt.alloc, now)))
		})
	}
}

func TestMatch_EmptyEngine(t *testing.T) {
	assert.Nil(t, NewEngine().Match(notice.PreviewContext(), now))
	_, ok := NewEngine().BuiltAt()
	assert.False(t, ok)
}

func TestAllocate(t *testing.T) {
	e := NewEngine()
	e.Replace([]notice.Campaign{
		running("A", func(c *notice.Campaign) {
			c.Buckets = 2
			c.Banners = []notice.Assignment{
				{Banner: "a0", Weight: 25, Bucket: 0},
				{Banner: "a1", Weight: 25, Bucket: 1},
			}
		}),
		running("B", func(c *notice.Campaign) {
			c.Banners = []notice.Assignment{{Banner: "b0", Weight: 75}}
		}),
		running("low", func(c *notice.Campaign) {
			c.Preferred = -1
			c.Banners = []notice.Assignment{{Banner: "never", Weight: 1000}}
		}),
	}, now)

	alloc := notice.NewAllocationContext("US", "en", "wikipedia", true, "desktop", 0)

	got, ok := e.Allocate(alloc, now, 0.0)
	require.True(t, ok)
	assert.Equal(t, Allocation{Campaign: "A", Banner: "a0"}, got)

	got, ok = e.Allocate(alloc, now, 0.5)
	require.True(t, ok)
	assert.Equal(t, Allocation{Campaign: "B", Banner: "b0"}, got)

	got, ok = e.Allocate(alloc, now, 0.9999)
	require.True(t, ok)
	assert.Equal(t, "b0", got.Banner)

	// bucket 3 maps onto bucket 1 of a two-bucket campaign
	alloc.Bucket = 3
	got, ok = e.Allocate(alloc, now, 0.0)
	require.True(t, ok)
	assert.Equal(t, "a1", got.Banner)

	_, ok = e.Allocate(notice.NewAllocationContext("US", "ja", "wikipedia", true, "desktop", 0), now, 0.5)
	assert.False(t, ok)
}

func TestBuildSnapshot(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.BuildSnapshot(context.Background(), stubLoader{campaigns: []notice.Campaign{running("A", nil)}}, now))
	at, ok := e.BuiltAt()
	assert.True(t, ok)
	assert.Equal(t, now, at)
	assert.Len(t, e.Match(notice.NewAllocationContext("US", "en", "wikipedia", true, "desktop", 0), now), 1)

	boom := errors.New("db down")
	assert.ErrorIs(t, e.BuildSnapshot(context.Background(), stubLoader{err: boom}, now), boom)
	assert.Len(t, e.Match(notice.NewAllocationContext("US", "en", "wikipedia", true, "desktop", 0), now), 1, "failed refresh keeps the old snapshot")
}

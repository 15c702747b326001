package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"notice-engine/internal/cache"
	"notice-engine/internal/notice"
	"notice-engine/internal/observability"
)

// Loader supplies the campaigns a snapshot is built from.
type Loader interface {
	LoadActiveCampaigns(ctx context.Context, now time.Time) ([]notice.Campaign, error)
}

// entry is a campaign with its targeting sets indexed.
type entry struct {
	c         notice.Campaign
	projects  map[string]struct{}
	languages map[string]struct{}
	countries map[string]struct{}
}

type snapshot struct {
	entries []entry
	builtAt time.Time
}

// DeliveryEngine matches allocation contexts against an immutable campaign
// snapshot. Reads are lock-free.
type DeliveryEngine struct{ snap cache.Snapshot[snapshot] }

func NewEngine() *DeliveryEngine { return &DeliveryEngine{} }

// BuildSnapshot loads running campaigns and swaps in a new snapshot.
func (e *DeliveryEngine) BuildSnapshot(ctx context.Context, l Loader, now time.Time) error {
	rows, err := l.LoadActiveCampaigns(ctx, now)
	if err != nil {
		return err
	}
	e.Replace(rows, now)
	log.Info().Int("campaigns", len(rows)).Msg("delivery snapshot built")
	return nil
}

// Replace installs a snapshot of the given campaigns.
func (e *DeliveryEngine) Replace(cs []notice.Campaign, now time.Time) {
	entries := make([]entry, 0, len(cs))
	for _, c := range cs {
		entries = append(entries, entry{
			c:         c,
			projects:  index(c.Projects, strings.ToLower),
			languages: index(c.Languages, strings.ToLower),
			countries: index(c.Countries, strings.ToUpper),
		})
	}
	e.snap.Store(snapshot{entries: entries, builtAt: now})
	observability.SnapshotCampaigns.Set(float64(len(entries)))
}

func index(vals []string, canon func(string) string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[canon(strings.TrimSpace(v))] = struct{}{}
	}
	return m
}

// Match returns the campaigns running at now that target the context,
// preferred first, then by name.
func (e *DeliveryEngine) Match(alloc notice.AllocationContext, now time.Time) []notice.Campaign {
	s, ok := e.snap.Load()
	if !ok {
		return nil
	}
	alloc = notice.NewAllocationContext(alloc.Country, alloc.Language, alloc.Project, alloc.Anonymous, alloc.Device, alloc.Bucket)

	var out []notice.Campaign
	for _, en := range s.entries {
		c := en.c
		if !c.Enabled || now.Before(c.Start) || now.After(c.End) {
			continue
		}
		if _, ok := en.projects[alloc.Project]; !ok {
			continue
		}
		if _, ok := en.languages[alloc.Language]; !ok {
			continue
		}
		if c.Geo {
			if _, ok := en.countries[alloc.Country]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b notice.Campaign) int {
		if a.Preferred != b.Preferred {
			return b.Preferred - a.Preferred
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Allocation is the outcome of choosing a banner for a context.
type Allocation struct {
	Campaign string
	Banner   string
}

// Allocate picks a banner among the most preferred matching campaigns.
// Only assignments in the context's bucket (modulo the campaign's bucket
// count) compete, weighted by their weight. roll is uniform in [0,1).
func (e *DeliveryEngine) Allocate(alloc notice.AllocationContext, now time.Time, roll float64) (Allocation, bool) {
	matched := e.Match(alloc, now)
	if len(matched) == 0 {
		return Allocation{}, false
	}
	top := matched[0].Preferred

	type candidate struct {
		campaign, banner string
		weight           int
	}
	var (
		cands []candidate
		total int
	)
	for _, c := range matched {
		if c.Preferred != top {
			break
		}
		buckets := c.Buckets
		if buckets <= 0 {
			buckets = 1
		}
		bucket := alloc.Bucket % buckets
		if bucket < 0 {
			bucket += buckets
		}
		for _, a := range c.Banners {
			if a.Bucket != bucket || a.Weight <= 0 {
				continue
			}
			cands = append(cands, candidate{campaign: c.Name, banner: a.Banner, weight: a.Weight})
			total += a.Weight
		}
	}
	if total == 0 {
		return Allocation{}, false
	}
	if roll < 0 {
		roll = 0
	}
	target := int(roll * float64(total))
	if target >= total {
		target = total - 1
	}
	for _, c := range cands {
		if target < c.weight {
			return Allocation{Campaign: c.campaign, Banner: c.banner}, true
		}
		target -= c.weight
	}
	last := cands[len(cands)-1]
	return Allocation{Campaign: last.campaign, Banner: last.banner}, true
}

// BuiltAt reports when the current snapshot was built.
func (e *DeliveryEngine) BuiltAt() (time.Time, bool) {
	s, ok := e.snap.Load()
	return s.builtAt, ok
}

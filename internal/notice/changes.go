package notice

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Changes lists the settings that differ between two log snapshots. A nil
// side is treated as empty, so creation and removal report every set field.
func Changes(begin, end *CampaignSettings) map[string]Change {
	b, e := flatten(begin), flatten(end)
	out := map[string]Change{}
	for k, nv := range e {
		if ov := b[k]; ov != nv {
			out[k] = Change{Old: ov, New: nv}
		}
	}
	for k, ov := range b {
		if _, ok := e[k]; !ok {
			out[k] = Change{Old: ov}
		}
	}
	return out
}

func flatten(s *CampaignSettings) map[string]string {
	if s == nil {
		return map[string]string{}
	}
	m := map[string]string{
		"start":     formatTime(s.Start),
		"end":       formatTime(s.End),
		"enabled":   strconv.FormatBool(s.Enabled),
		"preferred": strconv.Itoa(s.Preferred),
		"locked":    strconv.FormatBool(s.Locked),
		"geo":       strconv.FormatBool(s.Geo),
		"buckets":   strconv.Itoa(s.Buckets),
		"projects":  strings.Join(s.Projects, ", "),
		"languages": strings.Join(s.Languages, ", "),
		"countries": strings.Join(s.Countries, ", "),
	}
	banners := make([]string, len(s.Banners))
	for i, a := range s.Banners {
		banners[i] = fmt.Sprintf("%s (%d, bucket %d)", a.Banner, a.Weight, a.Bucket)
	}
	m["banners"] = strings.Join(banners, ", ")
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

package storage

import (
	"context"
	"fmt"
	"time"

	"notice-engine/internal/notice"
)

// LoadActiveCampaigns loads every enabled campaign running at now, with its
// targeting sets and banner assignments.
func (c *Campaigns) LoadActiveCampaigns(ctx context.Context, now time.Time) ([]notice.Campaign, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := c.conn(ctx).QueryContext(ctx, `
		SELECT not_id, not_name, not_start, not_end, not_enabled, not_preferred, not_geo, not_buckets
		FROM cn_notices
		WHERE not_enabled AND not_start <= $1 AND not_end >= $1
		ORDER BY not_id`, now)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	campaigns := map[int64]*notice.Campaign{}
	var order []int64
	for rows.Next() {
		var cp notice.Campaign
		if err := rows.Scan(&cp.ID, &cp.Name, &cp.Start, &cp.End, &cp.Enabled, &cp.Preferred, &cp.Geo, &cp.Buckets); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns[cp.ID] = &cp
		order = append(order, cp.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		return nil, nil
	}

	for _, t := range []struct {
		a   association
		set func(*notice.Campaign, string)
	}{
		{projectsAssoc, func(cp *notice.Campaign, v string) { cp.Projects = append(cp.Projects, v) }},
		{languagesAssoc, func(cp *notice.Campaign, v string) { cp.Languages = append(cp.Languages, v) }},
		{countriesAssoc, func(cp *notice.Campaign, v string) { cp.Countries = append(cp.Countries, v) }},
	} {
		q := fmt.Sprintf(`SELECT %s, %s FROM %s ORDER BY %[1]s, %[2]s`, t.a.idCol, t.a.valCol, t.a.table)
		if err := c.eachPair(ctx, q, func(id int64, v string) {
			if cp, ok := campaigns[id]; ok {
				t.set(cp, v)
			}
		}); err != nil {
			return nil, err
		}
	}

	arows, err := c.conn(ctx).QueryContext(ctx, `
		SELECT a.not_id, t.tmp_name, a.tmp_weight, a.asn_bucket
		FROM cn_assignments a JOIN cn_templates t ON t.tmp_id = a.tmp_id
		ORDER BY a.not_id, t.tmp_name`)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var (
			id int64
			a  notice.Assignment
		)
		if err := arows.Scan(&id, &a.Banner, &a.Weight, &a.Bucket); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		if cp, ok := campaigns[id]; ok {
			cp.Banners = append(cp.Banners, a)
		}
	}
	if err := arows.Err(); err != nil {
		return nil, err
	}

	out := make([]notice.Campaign, 0, len(order))
	for _, id := range order {
		out = append(out, *campaigns[id])
	}
	return out, nil
}

func (c *Campaigns) eachPair(ctx context.Context, q string, fn func(int64, string)) error {
	rows, err := c.conn(ctx).QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("query targeting: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id int64
			v  string
		)
		if err := rows.Scan(&id, &v); err != nil {
			return fmt.Errorf("scan targeting: %w", err)
		}
		fn(id, v)
	}
	return rows.Err()
}

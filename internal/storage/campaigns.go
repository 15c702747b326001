package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"notice-engine/internal/notice"
)

// Campaigns is the campaign administration repository. Inside Modify every
// method runs on the modification's transaction, carried in the context.
type Campaigns struct {
	db  *sql.DB
	now func() time.Time
}

func NewCampaigns(db *sql.DB) *Campaigns {
	return &Campaigns{db: db, now: time.Now}
}

// execer is the part of *sql.DB and *sql.Tx the repository uses.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// conn returns the transaction bound to ctx, or the database.
func (c *Campaigns) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return c.db
}

// inTx runs fn on the transaction bound to ctx, or on a new one that is
// committed when fn succeeds and rolled back otherwise.
func (c *Campaigns) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, tx)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// association describes one of the per-campaign targeting tables.
type association struct {
	table, idCol, valCol string
}

var (
	projectsAssoc  = association{"cn_notice_projects", "np_notice_id", "np_project"}
	languagesAssoc = association{"cn_notice_languages", "nl_notice_id", "nl_language"}
	countriesAssoc = association{"cn_notice_countries", "nc_notice_id", "nc_country"}
)

// Settings accepted by SetBoolSetting and SetNumericSetting, mapped to columns.
var (
	boolSettings    = map[string]string{"enabled": "not_enabled", "locked": "not_locked", "geo": "not_geo"}
	numericSettings = map[string]string{"preferred": "not_preferred", "buckets": "not_buckets"}
)

func (c *Campaigns) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := c.conn(ctx).QueryRowContext(ctx, `SELECT 1 FROM cn_notices WHERE not_name = $1`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("campaign exists: %w", err)
	}
	return true, nil
}

// List returns the IDs of campaigns running at f.Date (now when zero) that
// match the filter. Non geo-targeted campaigns come first; geo-targeted ones
// are only considered when a country is given.
func (c *Campaigns) List(ctx context.Context, f notice.CampaignFilter) ([]int64, error) {
	if f.Date.IsZero() {
		f.Date = c.now()
	}
	q, args := listQuery(f, false)
	ids, err := c.queryIDs(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if f.Country != "" {
		gq, gargs := listQuery(f, true)
		geo, err := c.queryIDs(ctx, gq, gargs)
		if err != nil {
			return nil, err
		}
		ids = append(ids, geo...)
	}
	return ids, nil
}

func listQuery(f notice.CampaignFilter, geo bool) (string, []any) {
	args := []any{f.Date}
	var q strings.Builder
	q.WriteString("SELECT n.not_id FROM cn_notices n")
	if f.Project != "" {
		args = append(args, f.Project)
		fmt.Fprintf(&q, " JOIN cn_notice_projects np ON np.np_notice_id = n.not_id AND np.np_project = $%d", len(args))
	}
	if f.Language != "" {
		args = append(args, f.Language)
		fmt.Fprintf(&q, " JOIN cn_notice_languages nl ON nl.nl_notice_id = n.not_id AND nl.nl_language = $%d", len(args))
	}
	if geo {
		args = append(args, f.Country)
		fmt.Fprintf(&q, " JOIN cn_notice_countries nc ON nc.nc_notice_id = n.not_id AND nc.nc_country = $%d", len(args))
	}
	q.WriteString(" WHERE n.not_start <= $1 AND n.not_end >= $1")
	if f.EnabledOnly {
		q.WriteString(" AND n.not_enabled")
	}
	if geo {
		q.WriteString(" AND n.not_geo")
	} else {
		q.WriteString(" AND NOT n.not_geo")
	}
	q.WriteString(" ORDER BY n.not_id")
	return q.String(), args
}

func (c *Campaigns) queryIDs(ctx context.Context, q string, args []any) ([]int64, error) {
	rows, err := c.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Settings returns a campaign's settings; detailed adds targeting and banner
// assignments.
func (c *Campaigns) Settings(ctx context.Context, name string, detailed bool) (*notice.CampaignSettings, error) {
	var (
		id int64
		s  notice.CampaignSettings
	)
	err := c.conn(ctx).QueryRowContext(ctx, `
		SELECT not_id, not_start, not_end, not_enabled, not_preferred, not_locked, not_geo, not_buckets
		FROM cn_notices WHERE not_name = $1`, name).
		Scan(&id, &s.Start, &s.End, &s.Enabled, &s.Preferred, &s.Locked, &s.Geo, &s.Buckets)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", notice.ErrCampaignNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign settings: %w", err)
	}
	if !detailed {
		return &s, nil
	}
	if s.Projects, err = c.Projects(ctx, name); err != nil {
		return nil, err
	}
	if s.Languages, err = c.Languages(ctx, name); err != nil {
		return nil, err
	}
	if s.Countries, err = c.Countries(ctx, name); err != nil {
		return nil, err
	}
	if s.Banners, err = c.Assignments(ctx, id); err != nil {
		return nil, err
	}
	return &s, nil
}

// Assignments lists a campaign's banners with weight and bucket.
func (c *Campaigns) Assignments(ctx context.Context, campaignID int64) ([]notice.Assignment, error) {
	rows, err := c.conn(ctx).QueryContext(ctx, `
		SELECT t.tmp_name, a.tmp_weight, a.asn_bucket
		FROM cn_assignments a JOIN cn_templates t ON t.tmp_id = a.tmp_id
		WHERE a.not_id = $1 ORDER BY t.tmp_name`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()
	var out []notice.Assignment
	for rows.Next() {
		var a notice.Assignment
		if err := rows.Scan(&a.Banner, &a.Weight, &a.Bucket); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c *Campaigns) Names(ctx context.Context) ([]string, error) {
	return c.column(ctx, `SELECT not_name FROM cn_notices ORDER BY not_name`)
}

// Add creates a campaign running for one hour from nc.Start and logs it.
func (c *Campaigns) Add(ctx context.Context, nc notice.NewCampaign, user notice.User) (int64, error) {
	nc.Name = strings.TrimSpace(nc.Name)
	exists, err := c.Exists(ctx, nc.Name)
	if err != nil {
		return 0, err
	}
	switch {
	case exists:
		return 0, fmt.Errorf("%w: %s", notice.ErrCampaignExists, nc.Name)
	case len(nc.Projects) == 0:
		return 0, notice.ErrNoProject
	case len(nc.Languages) == 0:
		return 0, notice.ErrNoLanguage
	}
	if !nc.Geo {
		nc.Countries = nil
	}
	start := nc.Start.UTC()
	end := start.Add(time.Hour)

	var id int64
	err = c.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO cn_notices (not_name, not_enabled, not_start, not_end, not_geo)
			VALUES ($1, $2, $3, $4, $5) RETURNING not_id`,
			nc.Name, nc.Enabled, start, end, nc.Geo).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert campaign: %w", err)
		}
		for _, set := range []struct {
			a      association
			values []string
		}{
			{projectsAssoc, nc.Projects},
			{languagesAssoc, nc.Languages},
			{countriesAssoc, nc.Countries},
		} {
			if err := insertValues(ctx, tx, set.a, id, set.values); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	snapshot := &notice.CampaignSettings{
		Start:     start,
		End:       end,
		Enabled:   nc.Enabled,
		Geo:       nc.Geo,
		Buckets:   1,
		Projects:  nc.Projects,
		Languages: nc.Languages,
		Countries: nc.Countries,
	}
	if _, err := c.LogChange(ctx, notice.ActionCreated, id, user, nil, snapshot); err != nil {
		return id, err
	}
	return id, nil
}

// Remove deletes an unlocked campaign with everything attached to it.
func (c *Campaigns) Remove(ctx context.Context, name string, user notice.User) error {
	var (
		id     int64
		locked bool
	)
	err := c.conn(ctx).QueryRowContext(ctx, `SELECT not_id, not_locked FROM cn_notices WHERE not_name = $1`, name).Scan(&id, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", notice.ErrCampaignNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if locked {
		return fmt.Errorf("%w: %s", notice.ErrCampaignLocked, name)
	}

	if _, err := c.LogChange(ctx, notice.ActionRemoved, id, user, nil, nil); err != nil {
		return err
	}

	return c.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM cn_assignments WHERE not_id = $1`,
			`DELETE FROM cn_notice_languages WHERE nl_notice_id = $1`,
			`DELETE FROM cn_notice_projects WHERE np_notice_id = $1`,
			`DELETE FROM cn_notice_countries WHERE nc_notice_id = $1`,
			`DELETE FROM cn_notices WHERE not_id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("remove campaign: %w", err)
			}
		}
		return nil
	})
}

// AssignBanner adds a banner to a campaign at the given weight.
func (c *Campaigns) AssignBanner(ctx context.Context, campaign, banner string, weight int) error {
	campaignID, err := c.ID(ctx, campaign)
	if err != nil {
		return err
	}
	bannerID, err := bannerID(ctx, c.conn(ctx), banner)
	if err != nil {
		return err
	}
	res, err := c.conn(ctx).ExecContext(ctx, `
		INSERT INTO cn_assignments (tmp_id, tmp_weight, not_id) VALUES ($1, $2, $3)
		ON CONFLICT (not_id, tmp_id) DO NOTHING`, bannerID, weight, campaignID)
	if err != nil {
		return fmt.Errorf("assign banner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s in %s", notice.ErrBannerAlreadyAssigned, banner, campaign)
	}
	return nil
}

func (c *Campaigns) UnassignBanner(ctx context.Context, campaign, banner string) error {
	_, err := c.conn(ctx).ExecContext(ctx, `
		DELETE FROM cn_assignments
		WHERE tmp_id = (SELECT tmp_id FROM cn_templates WHERE tmp_name = $1)
		  AND not_id = (SELECT not_id FROM cn_notices WHERE not_name = $2)`, banner, campaign)
	if err != nil {
		return fmt.Errorf("unassign banner: %w", err)
	}
	return nil
}

// ID looks up a campaign's ID by name.
func (c *Campaigns) ID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := c.conn(ctx).QueryRowContext(ctx, `SELECT not_id FROM cn_notices WHERE not_name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", notice.ErrCampaignNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("campaign id: %w", err)
	}
	return id, nil
}

// Name looks up a campaign's name by ID.
func (c *Campaigns) Name(ctx context.Context, id int64) (string, error) {
	var name string
	err := c.conn(ctx).QueryRowContext(ctx, `SELECT not_name FROM cn_notices WHERE not_id = $1`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: #%d", notice.ErrCampaignNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("campaign name: %w", err)
	}
	return name, nil
}

func (c *Campaigns) Projects(ctx context.Context, name string) ([]string, error) {
	return c.values(ctx, projectsAssoc, name)
}

func (c *Campaigns) Languages(ctx context.Context, name string) ([]string, error) {
	return c.values(ctx, languagesAssoc, name)
}

func (c *Campaigns) Countries(ctx context.Context, name string) ([]string, error) {
	return c.values(ctx, countriesAssoc, name)
}

func (c *Campaigns) values(ctx context.Context, a association, name string) ([]string, error) {
	q := fmt.Sprintf(`SELECT a.%[3]s FROM %[1]s a JOIN cn_notices n ON n.not_id = a.%[2]s
		WHERE n.not_name = $1 ORDER BY a.%[3]s`, a.table, a.idCol, a.valCol)
	return c.column(ctx, q, name)
}

func (c *Campaigns) column(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := c.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateDates moves a campaign's start and end.
func (c *Campaigns) UpdateDates(ctx context.Context, name string, start, end time.Time) error {
	if start.After(end) {
		return notice.ErrInvalidDateRange
	}
	exists, err := c.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", notice.ErrCampaignNotFound, name)
	}
	_, err = c.conn(ctx).ExecContext(ctx, `UPDATE cn_notices SET not_start = $1, not_end = $2 WHERE not_name = $3`,
		start.UTC(), end.UTC(), name)
	if err != nil {
		return fmt.Errorf("update dates: %w", err)
	}
	return nil
}

// SetBoolSetting updates enabled, locked or geo. A campaign removed
// concurrently is ignored.
func (c *Campaigns) SetBoolSetting(ctx context.Context, name, setting string, value bool) error {
	col, ok := boolSettings[strings.ToLower(setting)]
	if !ok {
		return fmt.Errorf("%w: %s", notice.ErrInvalidSetting, setting)
	}
	_, err := c.conn(ctx).ExecContext(ctx, `UPDATE cn_notices SET `+col+` = $1 WHERE not_name = $2`, value, name)
	if err != nil {
		return fmt.Errorf("update %s: %w", setting, err)
	}
	return nil
}

// SetNumericSetting updates preferred or buckets, clamping value to [minVal, maxVal].
func (c *Campaigns) SetNumericSetting(ctx context.Context, name, setting string, value, maxVal, minVal int) error {
	if maxVal <= minVal {
		return notice.ErrInvalidRange
	}
	col, ok := numericSettings[strings.ToLower(setting)]
	if !ok {
		return fmt.Errorf("%w: %s", notice.ErrInvalidSetting, setting)
	}
	if value > maxVal {
		value = maxVal
	}
	if value < minVal {
		value = minVal
	}
	_, err := c.conn(ctx).ExecContext(ctx, `UPDATE cn_notices SET `+col+` = $1 WHERE not_name = $2`, value, name)
	if err != nil {
		return fmt.Errorf("update %s: %w", setting, err)
	}
	return nil
}

func (c *Campaigns) UpdateWeight(ctx context.Context, campaign string, bannerID int64, weight int) error {
	return c.updateAssignment(ctx, "tmp_weight", campaign, bannerID, weight)
}

// UpdateBucket moves a banner to another bucket of the campaign.
func (c *Campaigns) UpdateBucket(ctx context.Context, campaign string, bannerID int64, bucket int) error {
	return c.updateAssignment(ctx, "asn_bucket", campaign, bannerID, bucket)
}

func (c *Campaigns) updateAssignment(ctx context.Context, col, campaign string, bannerID int64, v int) error {
	_, err := c.conn(ctx).ExecContext(ctx, `UPDATE cn_assignments SET `+col+` = $1
		WHERE tmp_id = $2 AND not_id = (SELECT not_id FROM cn_notices WHERE not_name = $3)`, v, bannerID, campaign)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}

func (c *Campaigns) UpdateProjects(ctx context.Context, name string, projects []string) error {
	return c.reconcile(ctx, projectsAssoc, name, projects)
}

func (c *Campaigns) UpdateLanguages(ctx context.Context, name string, languages []string) error {
	return c.reconcile(ctx, languagesAssoc, name, languages)
}

func (c *Campaigns) UpdateCountries(ctx context.Context, name string, countries []string) error {
	return c.reconcile(ctx, countriesAssoc, name, countries)
}

// reconcile makes the association table hold exactly want for the campaign.
func (c *Campaigns) reconcile(ctx context.Context, a association, name string, want []string) error {
	have, err := c.values(ctx, a, name)
	if err != nil {
		return err
	}
	id, err := c.ID(ctx, name)
	if err != nil {
		return err
	}
	add, remove := diffSets(have, want)
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	err = c.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertValues(ctx, tx, a, id, add); err != nil {
			return err
		}
		del := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = $2`, a.table, a.idCol, a.valCol)
		for _, v := range remove {
			if _, err := tx.ExecContext(ctx, del, id, v); err != nil {
				return fmt.Errorf("delete from %s: %w", a.table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Debug().Str("campaign", name).Str("table", a.table).
		Strs("added", add).Strs("removed", remove).Msg("targeting reconciled")
	return nil
}

func insertValues(ctx context.Context, tx *sql.Tx, a association, id int64, values []string) error {
	q := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`, a.table, a.idCol, a.valCol)
	for _, v := range values {
		if _, err := tx.ExecContext(ctx, q, id, v); err != nil {
			return fmt.Errorf("insert into %s: %w", a.table, err)
		}
	}
	return nil
}

// diffSets returns the values of want missing from have and the values of
// have missing from want, both in input order.
func diffSets(have, want []string) (add, remove []string) {
	in := func(list []string) map[string]struct{} {
		m := make(map[string]struct{}, len(list))
		for _, v := range list {
			m[v] = struct{}{}
		}
		return m
	}
	h, w := in(have), in(want)
	for _, v := range want {
		if _, ok := h[v]; !ok {
			add = append(add, v)
			h[v] = struct{}{}
		}
	}
	for _, v := range have {
		if _, ok := w[v]; !ok {
			remove = append(remove, v)
		}
	}
	return add, remove
}

// Modify runs fn inside one transaction and, in the same transaction, logs a
// "modified" entry when the campaign's detailed settings changed. When fn
// fails nothing it wrote is kept.
func (c *Campaigns) Modify(ctx context.Context, name string, user notice.User, fn func(ctx context.Context) error) error {
	return c.inTx(ctx, func(ctx context.Context, _ *sql.Tx) error {
		id, err := c.ID(ctx, name)
		if err != nil {
			return err
		}
		before, err := c.Settings(ctx, name, true)
		if err != nil {
			return err
		}
		if err := fn(ctx); err != nil {
			return err
		}
		after, err := c.Settings(ctx, name, true)
		if err != nil {
			return err
		}
		if len(notice.Changes(before, after)) == 0 {
			return nil
		}
		_, err = c.LogChange(ctx, notice.ActionModified, id, user, before, after)
		return err
	})
}

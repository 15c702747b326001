package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"notice-engine/internal/notice"
)

const defaultLogLimit = 50

// LogChange appends a change log entry. Changes made by anonymous or scripted
// callers (user ID <= 0) are not logged and return ID 0.
func (c *Campaigns) LogChange(ctx context.Context, action string, campaignID int64, user notice.User, begin, end *notice.CampaignSettings) (int64, error) {
	if user.ID <= 0 {
		return 0, nil
	}
	name, err := c.Name(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	b, err := marshalSettings(begin)
	if err != nil {
		return 0, err
	}
	e, err := marshalSettings(end)
	if err != nil {
		return 0, err
	}
	var id int64
	err = c.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO cn_notice_log
			(notlog_timestamp, notlog_user_id, notlog_action, notlog_not_id, notlog_not_name, notlog_begin, notlog_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING notlog_id`,
		c.now().UTC(), user.ID, action, campaignID, name, b, e).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert log: %w", err)
	}
	return id, nil
}

func marshalSettings(s *notice.CampaignSettings) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return b, nil
}

// Logs returns change log entries newest first. Campaign is a LIKE pattern.
func (c *Campaigns) Logs(ctx context.Context, q notice.LogQuery) ([]notice.LogEntry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !q.Start.IsZero() {
		add("notlog_timestamp >= $%d", q.Start)
	}
	if !q.End.IsZero() {
		add("notlog_timestamp < $%d", q.End)
	}
	if q.Campaign != "" {
		add("notlog_not_name LIKE $%d", q.Campaign)
	}
	if q.UserID > 0 {
		add("notlog_user_id = $%d", q.UserID)
	}
	if q.Limit <= 0 {
		q.Limit = defaultLogLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var sb strings.Builder
	sb.WriteString(`SELECT notlog_id, notlog_timestamp, notlog_user_id, notlog_action, notlog_not_id, notlog_not_name, notlog_begin, notlog_end FROM cn_notice_log`)
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, q.Limit, q.Offset)
	fmt.Fprintf(&sb, " ORDER BY notlog_timestamp DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := c.conn(ctx).QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var out []notice.LogEntry
	for rows.Next() {
		var (
			e          notice.LogEntry
			begin, end []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.Action, &e.CampaignID, &e.CampaignName, &begin, &end); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		if e.Begin, err = unmarshalSettings(begin); err != nil {
			return nil, err
		}
		if e.End, err = unmarshalSettings(end); err != nil {
			return nil, err
		}
		e.Changes = notice.Changes(e.Begin, e.End)
		out = append(out, e)
	}
	return out, rows.Err()
}

func unmarshalSettings(b []byte) (*notice.CampaignSettings, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var s notice.CampaignSettings
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &s, nil
}


package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"notice-engine/internal/notice"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Banners loads banner definitions, optionally through a BannerCache.
type Banners struct {
	db    *sql.DB
	cache *BannerCache
}

func NewBanners(db *sql.DB, cache *BannerCache) *Banners {
	return &Banners{db: db, cache: cache}
}

// Banner loads a banner with its ordered mixins and declared message fields.
func (b *Banners) Banner(ctx context.Context, name string) (*notice.Banner, error) {
	var gen uint64
	if b.cache != nil {
		if cached, ok := b.cache.Get(name); ok {
			return cached, nil
		}
		gen = b.cache.Gen()
	}
	id, err := bannerID(ctx, b.db, name)
	if err != nil {
		return nil, err
	}
	out := &notice.Banner{ID: id, Name: name}

	rows, err := b.db.QueryContext(ctx, `
		SELECT mixin_name, mixin_params FROM cn_template_mixins
		WHERE tmp_id = $1 ORDER BY mixin_order`, id)
	if err != nil {
		return nil, fmt.Errorf("query mixins: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cfg notice.MixinConfig
			raw []byte
		)
		if err := rows.Scan(&cfg.Name, &raw); err != nil {
			return nil, fmt.Errorf("scan mixin: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &cfg.Params); err != nil {
				return nil, fmt.Errorf("%w: mixin %s params: %v", notice.ErrConfiguration, cfg.Name, err)
			}
		}
		out.Mixins = append(out.Mixins, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	frows, err := b.db.QueryContext(ctx, `SELECT field_name FROM cn_template_fields WHERE tmp_id = $1 ORDER BY field_name`, id)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var f string
		if err := frows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		out.Fields = append(out.Fields, f)
	}
	if err := frows.Err(); err != nil {
		return nil, err
	}

	if b.cache != nil {
		b.cache.Put(out, gen)
	}
	return out, nil
}

// BannerID looks up a banner's ID by name.
func (b *Banners) BannerID(ctx context.Context, name string) (int64, error) {
	return bannerID(ctx, b.db, name)
}

func bannerID(ctx context.Context, q querier, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT tmp_id FROM cn_templates WHERE tmp_name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", notice.ErrBannerNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("banner id: %w", err)
	}
	return id, nil
}

package listener

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// RefreshFunc rebuilds whatever derived state depends on the notice tables.
// payload is the notification payload, empty for clock-driven refreshes.
type RefreshFunc func(ctx context.Context, payload string) error

// quietPeriod is how long the channel must stay silent before pending changes are
// refreshed.
const quietPeriod = 200 * time.Millisecond

// Resync is the payload passed to refresh after a reconnect, when
// notifications may have been missed.
const Resync = "resync"

// Notifier yields notifications. *pgx.Conn is one.
type Notifier interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

// ListenAndRefresh LISTENs on channel and refreshes each distinct payload once
// a burst of notifications has gone quiet. Lost connections are
// re-established with jittered backoff and followed by a Resync refresh.
// It returns when ctx is done.
func ListenAndRefresh(ctx context.Context, pool *pgxpool.Pool, channel string, baseBackoff time.Duration, refresh RefreshFunc) {
	resync := false
	for {
		err := listen(ctx, pool, channel, refresh, resync)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		resync = true
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("listener connection lost")
		if !sleep(ctx, backoff) {
			log.Info().Msg("listener stopped")
			return
		}
	}
}

func listen(ctx context.Context, pool *pgxpool.Pool, channel string, refresh RefreshFunc, resync bool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for notice changes")
	if resync {
		if err := refresh(ctx, Resync); err != nil {
			log.Error().Err(err).Msg("resync after reconnect failed")
		}
	}
	return Drain(ctx, conn.Conn(), quietPeriod, refresh)
}

// Drain reads notifications from n until it fails or ctx is done. Payloads
// are collected while notifications keep arriving; once none has arrived for
// the quiet period each distinct payload is refreshed once. A notification
// that lands during a refresh starts a new burst. Pending payloads are
// refreshed before a read error is returned.
func Drain(ctx context.Context, n Notifier, quiet time.Duration, refresh RefreshFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type read struct {
		ntf *pgconn.Notification
		err error
	}
	in := make(chan read)
	go func() {
		for {
			ntf, err := n.WaitForNotification(ctx)
			select {
			case in <- read{ntf, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	pending := map[string]struct{}{}
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case r := <-in:
			if r.err != nil {
				if ctx.Err() == nil {
					flush(ctx, pending, refresh)
				}
				return r.err
			}
			pending[r.ntf.Payload] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(quiet)
			fire = timer.C
		case <-fire:
			fire = nil
			flush(ctx, pending, refresh)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush refreshes and forgets every pending payload.
func flush(ctx context.Context, pending map[string]struct{}, refresh RefreshFunc) {
	payloads := make([]string, 0, len(pending))
	for p := range pending {
		payloads = append(payloads, p)
		delete(pending, p)
	}
	sort.Strings(payloads)
	for _, p := range payloads {
		log.Info().Str("payload", p).Msg("notice data changed; refreshing")
		if err := refresh(ctx, p); err != nil {
			log.Error().Err(err).Str("payload", p).Msg("refresh after change failed")
		}
	}
}

// RefreshEvery calls refresh on a fixed interval until ctx is done. Campaign
// start and end times pass without any table change, so the snapshot must be
// rebuilt on a clock as well.
func RefreshEvery(ctx context.Context, interval time.Duration, refresh RefreshFunc) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := refresh(ctx, ""); err != nil {
				log.Error().Err(err).Msg("periodic refresh failed")
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}

package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// InviteExpirer deletes pending invites past their TTL
type InviteExpirer interface {
	ReapExpired(ctx context.Context) (int64, error)
}

// InviteReaper periodically removes expired pending invites
type InviteReaper struct {
	expirer  InviteExpirer
	interval time.Duration
}

// NewInviteReaper creates a new invite reaper
func NewInviteReaper(expirer InviteExpirer, interval time.Duration) *InviteReaper {
	return &InviteReaper{expirer: expirer, interval: interval}
}

// Start runs the reap loop until ctx is cancelled
func (r *InviteReaper) Start(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Msg("Invite reaper started")

	r.reap(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Invite reaper stopped")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *InviteReaper) reap(ctx context.Context) {
	n, err := r.expirer.ReapExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Invite reaper: failed to delete expired invites")
		}
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Msg("Invite reaper: expired invites deleted")
	}
}

// Package publish makes sure a release exists for a tag and uploads the run's assets to it.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/repo"
	"github.com/shono-io/shipwright/sdk"
)

type PollState string

const (
	NotChecked           PollState = "not_checked"
	Polling              PollState = "polling"
	Found                PollState = "found"
	NotFoundAfterRetries PollState = "not_found_after_retries"
	Created              PollState = "created"
	AssetsUploaded       PollState = "assets_uploaded"
)

// Policy is a fixed backoff: at most Attempts fetches with Interval between them.
type Policy struct {
	Attempts int
	Interval time.Duration
}

var DefaultPolicy = Policy{Attempts: 5, Interval: 3 * time.Second}

// MaxWait is the longest the poller sleeps in total.
func (p Policy) MaxWait() time.Duration {
	if p.Attempts <= 1 {
		return 0
	}
	return time.Duration(p.Attempts-1) * p.Interval
}

type PollResult struct {
	State    PollState
	Record   *sdk.ReleaseRecord
	Attempts int
	// LastErr holds the last failure that was not a plain not-found.
	LastErr error
}

func NewPoller(store repo.Store, policy Policy, log zerolog.Logger) *Poller {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Poller{store: store, policy: policy, log: log, sleep: sleepCtx}
}

// Poller waits for a release that another process may have created moments ago to become
// visible.
type Poller struct {
	store  repo.Store
	policy Policy
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func (p *Poller) Poll(ctx context.Context, tag string) (PollResult, error) {
	res := PollResult{State: NotChecked}

	for attempt := 1; attempt <= p.policy.Attempts; attempt++ {
		res.State = Polling
		res.Attempts = attempt

		rec, err := p.store.Get(ctx, tag)
		if err == nil {
			res.State = Found
			res.Record = rec
			p.log.Debug().Str("tag", tag).Int("attempt", attempt).Msg("release found")
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if !errors.Is(err, sdk.ErrReleaseNotFound) {
			res.LastErr = err
			p.log.Warn().Err(err).Str("tag", tag).Int("attempt", attempt).Msg("release lookup failed")
		} else {
			p.log.Debug().Str("tag", tag).Int("attempt", attempt).Msg("release not visible yet")
		}

		if attempt < p.policy.Attempts {
			if err := p.sleep(ctx, p.policy.Interval); err != nil {
				return res, err
			}
		}
	}

	res.State = NotFoundAfterRetries
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

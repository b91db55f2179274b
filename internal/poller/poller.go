// Package poller periodically sweeps manifests stuck in Submitting and asks
// the lifecycle service to resolve them against the authority. It is the
// asynchronous completion of the submission path: quick in-call retries live
// in the retrier, everything slower lands here.
package poller

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"manifest-gateway/internal/accesskey"
	"manifest-gateway/internal/lifecycle/store"
	"manifest-gateway/internal/manifest"
	dErrors "manifest-gateway/pkg/domain-errors"
)

// Resolver is the slice of the lifecycle service the poller needs.
type Resolver interface {
	Resolve(ctx context.Context, key accesskey.Key) (*manifest.Manifest, error)
}

// Config tunes the sweep cadence and fan-out.
type Config struct {
	Interval    time.Duration
	Parallelism int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	return c
}

// Poller drives periodic resolution sweeps.
type Poller struct {
	resolver Resolver
	store    store.Store
	logger   *slog.Logger
	cfg      Config
}

func New(resolver Resolver, st store.Store, logger *slog.Logger, cfg Config) *Poller {
	return &Poller{resolver: resolver, store: st, logger: logger, cfg: cfg.withDefaults()}
}

// Run sweeps until ctx is cancelled. Sweep failures are logged and the next
// tick proceeds; only cancellation stops the loop.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.InfoContext(ctx, "status poller started",
		"interval", p.cfg.Interval, "parallelism", p.cfg.Parallelism)

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "status poller stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil {
				p.logger.ErrorContext(ctx, "poll sweep failed", "error", err.Error())
			}
		}
	}
}

// Sweep resolves every in-flight manifest once, with bounded parallelism.
// Manifests already flagged unresolved are skipped; they need operator
// intervention, not more queries.
func (p *Poller) Sweep(ctx context.Context) error {
	pending, err := p.store.ListByStatus(ctx, manifest.StatusSubmitting)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)
	for _, m := range pending {
		if m.Unresolved {
			continue
		}
		key := m.AccessKey
		g.Go(func() error {
			resolved, err := p.resolver.Resolve(ctx, key)
			switch {
			case err == nil:
				if resolved.Status != manifest.StatusSubmitting {
					p.logger.InfoContext(ctx, "manifest resolved by poller",
						"access_key", key, "status", resolved.Status)
				}
			case dErrors.HasCode(err, dErrors.CodeStatusUnresolved):
				// Budget ran out; the manifest is now flagged and will not be
				// swept again.
				p.logger.WarnContext(ctx, "manifest flagged unresolved", "access_key", key)
			case dErrors.HasCode(err, dErrors.CodeConcurrentTransition):
				// Someone else resolved it first.
			default:
				p.logger.ErrorContext(ctx, "poll resolution failed",
					"access_key", key, "error", err.Error())
			}
			return nil
		})
	}
	return g.Wait()
}

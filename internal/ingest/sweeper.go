package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/internal/filestore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
)

// OrphanStore is the part of filestore.Layout the sweeper repairs.
type OrphanStore interface {
	Unqueued() ([]string, error)
	MarkUnqueued(name string) error
	ClearUnqueued(name string) error
	StaleClaims(cutoff time.Time) ([]filestore.PendingArtifact, error)
	Release(name string) error
}

type SweepStats struct {
	Found     int
	Published int
	Failed    int
}

// Sweeper re-enqueues artifacts nothing in the queue refers to: uploads
// whose publish failed, and claims left behind by a run that died before
// reaching an outcome once they are older than the grace period. Artifacts
// that merely wait behind a backlog are left alone.
type Sweeper struct {
	store     OrphanStore
	publisher queue.Publisher
	grace     time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewSweeper(store OrphanStore, publisher queue.Publisher, grace time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     store,
		publisher: publisher,
		grace:     grace,
		now:       time.Now,
		logger:    logger,
	}
}

// Sweep makes one pass over unqueued uploads and stale claims.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	unqueued, err := s.store.Unqueued()
	if err != nil {
		return stats, err
	}
	stats.Found += len(unqueued)
	for _, name := range unqueued {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.publisher.Publish(ctx, name); err != nil {
			stats.Failed++
			s.logger.Warn("failed to re-enqueue upload", "artifact", name, "error", err)
			continue
		}
		stats.Published++
		if err := s.store.ClearUnqueued(name); err != nil {
			s.logger.Warn("failed to clear unqueued mark", "artifact", name, "error", err)
		}
		s.logger.Info("re-enqueued upload", "artifact", name)
	}

	claims, err := s.store.StaleClaims(s.now().Add(-s.grace))
	if err != nil {
		return stats, err
	}
	for _, c := range claims {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.store.Release(c.Name); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				stats.Found++
				stats.Failed++
				s.logger.Warn("failed to release stale claim", "artifact", c.Name, "error", err)
			}
			// finished since it was listed
			continue
		}
		stats.Found++
		age := s.now().Sub(c.ModTime).Round(time.Second)
		if err := s.publisher.Publish(ctx, c.Name); err != nil {
			stats.Failed++
			s.logger.Warn("failed to re-enqueue released claim", "artifact", c.Name, "error", err)
			if merr := s.store.MarkUnqueued(c.Name); merr != nil {
				s.logger.Error("failed to mark released claim for sweep", "artifact", c.Name, "error", merr)
			}
			continue
		}
		stats.Published++
		s.logger.Info("released stale claim", "artifact", c.Name, "age", age)
	}
	return stats, nil
}

// Run sweeps every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		s.logger.Info("orphan sweep disabled")
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			stats, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("orphan sweep failed", "error", err)
				continue
			}
			if stats.Found > 0 {
				s.logger.Info("orphan sweep done", "found", stats.Found, "published", stats.Published, "failed", stats.Failed)
			}
		}
	}
}

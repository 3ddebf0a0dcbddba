package retention

import (
	"context"
	"log/slog"
	"time"
)

type Pruner interface {
	PruneCaptures(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service trims old captures. It is off unless a positive number of days is configured.
type Service struct {
	repo          Pruner
	retentionDays int
	log           *slog.Logger
	now           func() time.Time
}

func NewService(repo Pruner, days int, logger *slog.Logger) *Service {
	return &Service{repo: repo, retentionDays: days, log: logger, now: time.Now}
}

func (s *Service) Enabled() bool { return s.retentionDays > 0 }

func (s *Service) Run(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	n, err := s.repo.PruneCaptures(ctx, cutoff)
	if err != nil {
		return err
	}
	s.log.Info("retention cleanup completed", "cutoff", cutoff, "deleted", n)
	return nil
}

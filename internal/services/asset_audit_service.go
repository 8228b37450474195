package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/osvaldoandrade/imagegate/internal/metrics"
	"github.com/osvaldoandrade/imagegate/internal/providers"
	"github.com/osvaldoandrade/imagegate/pkg/persistence"

	"github.com/robfig/cron/v3"
)

type AuditReport struct {
	Checked int
	Missing []string
}

// AssetAuditService periodically checks that every image record still has its file.
type AssetAuditService interface {
	Run(ctx context.Context) (AuditReport, error)
	// Start runs Run on the cron schedule until ctx is done. An empty
	// schedule returns immediately.
	Start(ctx context.Context) error
}

type assetAuditService struct {
	store    persistence.ImageStorage
	root     string
	schedule string
	logger   *slog.Logger

	// Overlapping runs are skipped, not queued.
	running sync.Mutex
}

func NewAssetAuditService(store persistence.ImageStorage, root, schedule string, logger *slog.Logger) AssetAuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &assetAuditService{
		store:    store,
		root:     root,
		schedule: strings.TrimSpace(schedule),
		logger:   logger.With("component", "asset_audit"),
	}
}

func (s *assetAuditService) Run(ctx context.Context) (AuditReport, error) {
	var rep AuditReport
	recs, err := s.store.List(ctx, 0)
	if err != nil {
		return rep, fmt.Errorf("list image records: %w", err)
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++
		p, err := providers.SafeJoin(s.root, rec.URL)
		if err != nil {
			rep.Missing = append(rep.Missing, rec.GUID)
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("stat asset failed", "guid", rec.GUID, "err", err)
			}
			rep.Missing = append(rep.Missing, rec.GUID)
		}
	}

	metrics.AssetsMissing.Set(float64(len(rep.Missing)))
	if len(rep.Missing) > 0 {
		s.logger.Warn("asset audit found missing files", "checked", rep.Checked, "missing", len(rep.Missing), "guids", rep.Missing)
	} else {
		s.logger.Info("asset audit complete", "checked", rep.Checked)
	}
	return rep, nil
}

func (s *assetAuditService) Start(ctx context.Context) error {
	if s.schedule == "" {
		return nil
	}
	c := cron.New(cron.WithLogger(cron.DiscardLogger))
	_, err := c.AddFunc(s.schedule, func() {
		if !s.running.TryLock() {
			s.logger.Warn("asset audit still running; skipping tick")
			return
		}
		defer s.running.Unlock()
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("asset audit failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("asset audit schedule %q: %w", s.schedule, err)
	}

	s.logger.Info("asset audit scheduled", "schedule", s.schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

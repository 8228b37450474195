package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/osvaldoandrade/imagegate/internal/providers"
	"github.com/osvaldoandrade/imagegate/pkg/domain"
	"github.com/osvaldoandrade/imagegate/pkg/persistence"

	"golang.org/x/sync/singleflight"
)

// Asset is a resolved image ready to be streamed.
type Asset struct {
	Record      domain.ImageRecord
	Path        string
	ContentType string
}

type AssetService interface {
	// Resolve maps guid to a file under the asset root without touching the file.
	Resolve(ctx context.Context, guid string) (*Asset, error)
}

type assetService struct {
	store  persistence.ImageStorage
	root   string
	logger *slog.Logger
	group  singleflight.Group
}

func NewAssetService(store persistence.ImageStorage, root string, logger *slog.Logger) AssetService {
	if logger == nil {
		logger = slog.Default()
	}
	return &assetService{store: store, root: root, logger: logger.With("component", "assets")}
}

func (s *assetService) Resolve(ctx context.Context, guid string) (*Asset, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return nil, domain.NewValidationError(domain.CodeGUIDRequired, "image id is required")
	}

	// The shared lookup outlives any one caller; each caller waits on its own ctx.
	flight := context.WithoutCancel(ctx)
	ch := s.group.DoChan(guid, func() (interface{}, error) {
		return s.lookup(flight, guid)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers sharing a flight each get their own copy.
		a := *(res.Val.(*Asset))
		return &a, nil
	}
}

func (s *assetService) lookup(ctx context.Context, guid string) (*Asset, error) {
	rec, err := s.store.Get(ctx, guid)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, domain.NewNotFoundError(domain.CodeImageNotFound, "image not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup image %s: %w", guid, err)
	}

	p, err := providers.SafeJoin(s.root, rec.URL)
	if err != nil {
		s.logger.Error("image record points outside asset root", "guid", guid, "url", rec.URL, "err", err)
		return nil, fmt.Errorf("resolve image %s: %w", guid, err)
	}

	ct := rec.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(p))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &Asset{Record: *rec, Path: p, ContentType: ct}, nil
}

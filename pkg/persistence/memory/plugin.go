package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/imagegate/pkg/domain"
	"github.com/osvaldoandrade/imagegate/pkg/persistence"
)

// Plugin implements PluginPersistence for in-memory storage.
// Records do not survive a restart; meant for local runs and tests.
type Plugin struct {
	mu     sync.RWMutex
	images map[string]domain.ImageRecord
	tz     *time.Location
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	tz := config.Timezone
	if tz == nil {
		tz = time.UTC
	}
	return &Plugin{
		images: make(map[string]domain.ImageRecord),
		tz:     tz,
	}, nil
}

// ImageStorage returns the image storage implementation
func (p *Plugin) ImageStorage() persistence.ImageStorage {
	return &imageStorage{plugin: p}
}

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error {
	return nil
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

type imageStorage struct {
	plugin *Plugin
}

func (s *imageStorage) Get(ctx context.Context, guid string) (*domain.ImageRecord, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	rec, ok := s.plugin.images[guid]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &rec, nil
}

func (s *imageStorage) Save(ctx context.Context, rec domain.ImageRecord) error {
	if strings.TrimSpace(rec.GUID) == "" {
		return fmt.Errorf("image guid is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().In(s.plugin.tz)
	}

	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()
	s.plugin.images[rec.GUID] = rec
	return nil
}

func (s *imageStorage) Delete(ctx context.Context, guid string) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()
	delete(s.plugin.images, guid)
	return nil
}

func (s *imageStorage) List(ctx context.Context, limit int) ([]domain.ImageRecord, error) {
	s.plugin.mu.RLock()
	out := make([]domain.ImageRecord, 0, len(s.plugin.images))
	for _, rec := range s.plugin.images {
		out = append(out, rec)
	}
	s.plugin.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].GUID < out[j].GUID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *imageStorage) Count(ctx context.Context) (int64, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()
	return int64(len(s.plugin.images)), nil
}

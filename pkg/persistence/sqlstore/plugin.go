package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osvaldoandrade/imagegate/pkg/domain"
	"github.com/osvaldoandrade/imagegate/pkg/persistence"

	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Config holds SQL-specific configuration. The same shape serves the
// "postgres" and "sqlite" provider types.
type Config struct {
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"maxOpenConns,omitempty"`
	MaxIdleConns    int    `json:"maxIdleConns,omitempty"`
	ConnMaxLifetime string `json:"connMaxLifetime,omitempty"`
	AutoMigrate     *bool  `json:"autoMigrate,omitempty"`
}

// imageRow is the table layout for image records.
type imageRow struct {
	GUID        string    `gorm:"column:guid;primaryKey;size:64"`
	URL         string    `gorm:"column:url;not null"`
	ContentType string    `gorm:"column:content_type;size:128"`
	CreatedAt   time.Time `gorm:"column:created_at;index"`
}

func (imageRow) TableName() string { return "image_records" }

func (r imageRow) toDomain() domain.ImageRecord {
	return domain.ImageRecord{GUID: r.GUID, URL: r.URL, ContentType: r.ContentType, CreatedAt: r.CreatedAt}
}

// Plugin implements PluginPersistence on top of gorm.
type Plugin struct {
	db *gorm.DB
	tz *time.Location
}

// NewPostgresPlugin opens a lib/pq connection pool and hands it to gorm.
func NewPostgresPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	cfg, err := parseConfig(config.Config)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres persistence config: dsn is required")
	}

	sqlDB, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := applyPool(sqlDB, cfg); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("gorm postgres: %w", err)
	}
	return finish(gdb, cfg, config.Timezone)
}

// NewSQLitePlugin opens a pure-Go sqlite database. ":memory:" is allowed.
func NewSQLitePlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	cfg, err := parseConfig(config.Config)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		cfg.DSN = "imagegate.db"
	}

	gdb, err := gorm.Open(sqlite.Open(cfg.DSN), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("gorm sqlite: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sqlite pool: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if strings.Contains(cfg.DSN, ":memory:") {
		cfg.MaxOpenConns = 1
	}
	if err := applyPool(sqlDB, cfg); err != nil {
		return nil, err
	}
	return finish(gdb, cfg, config.Timezone)
}

// NewWithDB wraps an already opened gorm handle. Schema migration is left to the caller.
func NewWithDB(gdb *gorm.DB, tz *time.Location) *Plugin {
	if tz == nil {
		tz = time.UTC
	}
	return &Plugin{db: gdb, tz: tz}
}

func finish(gdb *gorm.DB, cfg Config, tz *time.Location) (persistence.PluginPersistence, error) {
	p := NewWithDB(gdb, tz)
	if cfg.AutoMigrate == nil || *cfg.AutoMigrate {
		if err := p.Migrate(); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return p, nil
}

func parseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("sql persistence config: %w", err)
		}
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	return cfg, nil
}

func applyPool(db *sql.DB, cfg Config) error {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != "" {
		d, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("sql persistence config: connMaxLifetime: %w", err)
		}
		db.SetConnMaxLifetime(d)
	}
	return nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

// Migrate creates or updates the image_records table.
func (p *Plugin) Migrate() error {
	if err := p.db.AutoMigrate(&imageRow{}); err != nil {
		return fmt.Errorf("migrate image_records: %w", err)
	}
	return nil
}

// ImageStorage returns the image storage implementation
func (p *Plugin) ImageStorage() persistence.ImageStorage {
	return &imageStorage{db: p.db, tz: p.tz}
}

// Health pings the underlying pool
func (p *Plugin) Health(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying pool
func (p *Plugin) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func init() {
	persistence.RegisterProvider("postgres", NewPostgresPlugin)
	persistence.RegisterProvider("sqlite", NewSQLitePlugin)
}

type imageStorage struct {
	db *gorm.DB
	tz *time.Location
}

func (s *imageStorage) Get(ctx context.Context, guid string) (*domain.ImageRecord, error) {
	var row imageRow
	err := s.db.WithContext(ctx).Where("guid = ?", guid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select image %s: %w", guid, err)
	}
	rec := row.toDomain()
	return &rec, nil
}

func (s *imageStorage) Save(ctx context.Context, rec domain.ImageRecord) error {
	if strings.TrimSpace(rec.GUID) == "" {
		return fmt.Errorf("image guid is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().In(s.tz)
	}
	row := imageRow{GUID: rec.GUID, URL: rec.URL, ContentType: rec.ContentType, CreatedAt: rec.CreatedAt}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "guid"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "content_type"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert image %s: %w", rec.GUID, err)
	}
	return nil
}

func (s *imageStorage) Delete(ctx context.Context, guid string) error {
	if err := s.db.WithContext(ctx).Where("guid = ?", guid).Delete(&imageRow{}).Error; err != nil {
		return fmt.Errorf("delete image %s: %w", guid, err)
	}
	return nil
}

func (s *imageStorage) List(ctx context.Context, limit int) ([]domain.ImageRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC").Order("guid ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []imageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	out := make([]domain.ImageRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *imageStorage) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&imageRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/osvaldoandrade/imagegate/pkg/domain"
	"github.com/osvaldoandrade/imagegate/pkg/persistence"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newSQLiteStore(t *testing.T) (persistence.PluginPersistence, persistence.ImageStorage) {
	t.Helper()
	plugin, err := persistence.NewPersistence(
		persistence.ProviderConfig{Type: "sqlite", Config: []byte(`{"dsn":":memory:"}`)},
		persistence.PluginConfig{},
	)
	if err != nil {
		t.Fatalf("NewPersistence(sqlite): %v", err)
	}
	t.Cleanup(func() { _ = plugin.Close() })
	return plugin, plugin.ImageStorage()
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	plugin, store := newSQLiteStore(t)

	if err := plugin.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	rec := domain.ImageRecord{GUID: "g-1", URL: "uploads/one.png", ContentType: "image/png", CreatedAt: created}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "g-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.URL != rec.URL || got.ContentType != rec.ContentType || !got.CreatedAt.Equal(created) {
		t.Fatalf("Get = %+v, want %+v", got, rec)
	}

	rec.URL = "uploads/one-v2.png"
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save upsert: %v", err)
	}
	got, _ = store.Get(ctx, "g-1")
	if got.URL != "uploads/one-v2.png" {
		t.Fatalf("upsert did not replace url: %q", got.URL)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Fatalf("Count after upsert = %d, want 1", n)
	}
}

func TestSQLiteStoreNotFound(t *testing.T) {
	_, store := newSQLiteStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	_, store := newSQLiteStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, g := range []string{"b", "c", "a"} {
		if err := store.Save(ctx, domain.ImageRecord{GUID: g, URL: g + ".png", CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("Save %s: %v", g, err)
		}
	}

	list, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 || list[0].GUID != "b" || list[1].GUID != "c" || list[2].GUID != "a" {
		t.Fatalf("List order = %+v", list)
	}
	if two, _ := store.List(ctx, 2); len(two) != 2 {
		t.Fatalf("List(2) returned %d", len(two))
	}

	if err := store.Delete(ctx, "c"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
}

func TestSQLiteStoreRejectsEmptyGUID(t *testing.T) {
	_, store := newSQLiteStore(t)
	if err := store.Save(context.Background(), domain.ImageRecord{URL: "x.png"}); err == nil {
		t.Fatal("expected error for empty guid")
	}
}

func TestPostgresPluginRequiresDSN(t *testing.T) {
	if _, err := NewPostgresPlugin(persistence.PluginConfig{Config: []byte(`{}`)}); err == nil {
		t.Fatal("expected error without dsn")
	}
	if _, err := NewPostgresPlugin(persistence.PluginConfig{Config: []byte(`{`)}); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestApplyPoolRejectsBadLifetime(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer mockDB.Close()

	if err := applyPool(mockDB, Config{ConnMaxLifetime: "soon"}); err == nil {
		t.Fatal("expected duration parse error")
	}
	if err := applyPool(mockDB, Config{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: "5m"}); err != nil {
		t.Fatalf("applyPool: %v", err)
	}
}

func setupPostgresMock(t *testing.T) (sqlmock.Sqlmock, persistence.ImageStorage) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = mockDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), gormConfig())
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return mock, NewWithDB(gdb, time.UTC).ImageStorage()
}

func TestPostgresGetUsesGuidLookup(t *testing.T) {
	mock, store := setupPostgresMock(t)

	created := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"guid", "url", "content_type", "created_at"}).
		AddRow("g-9", "uploads/g9.png", "image/png", created)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "image_records" WHERE guid = $1`)).
		WillReturnRows(rows)

	got, err := store.Get(context.Background(), "g-9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.GUID != "g-9" || got.URL != "uploads/g9.png" || !got.CreatedAt.Equal(created) {
		t.Fatalf("Get = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetNotFound(t *testing.T) {
	mock, store := setupPostgresMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "image_records" WHERE guid = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"guid", "url", "content_type", "created_at"}))

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresGetWrapsDriverError(t *testing.T) {
	mock, store := setupPostgresMock(t)

	boom := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "image_records"`)).WillReturnError(boom)

	_, err := store.Get(context.Background(), "g")
	if !errors.Is(err, boom) || errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestPostgresSaveUpserts(t *testing.T) {
	mock, store := setupPostgresMock(t)

	mock.ExpectExec(`INSERT INTO "image_records" .* ON CONFLICT \("guid"\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := domain.ImageRecord{GUID: "g-1", URL: "uploads/a.png", CreatedAt: time.Now().UTC()}
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresCount(t *testing.T) {
	mock, store := setupPostgresMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "image_records"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.Count(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

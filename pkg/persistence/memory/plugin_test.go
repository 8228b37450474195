package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/osvaldoandrade/imagegate/pkg/domain"
	"github.com/osvaldoandrade/imagegate/pkg/persistence"
)

func newStorage(t *testing.T) persistence.ImageStorage {
	t.Helper()
	plugin, err := NewPlugin(persistence.PluginConfig{Config: []byte("{}"), Timezone: time.UTC})
	if err != nil {
		t.Fatalf("Failed to create plugin: %v", err)
	}
	t.Cleanup(func() { _ = plugin.Close() })
	if err := plugin.Health(context.Background()); err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	return plugin.ImageStorage()
}

func TestMemoryPluginSaveGet(t *testing.T) {
	ctx := context.Background()
	store := newStorage(t)

	if err := store.Save(ctx, domain.ImageRecord{GUID: "g1", URL: "uploads/a.png"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "uploads/a.png" {
		t.Errorf("URL = %q", got.URL)
	}
	if got.CreatedAt.IsZero() {
		t.Errorf("CreatedAt should be set on save")
	}

	// The returned record is a copy.
	got.URL = "changed"
	again, _ := store.Get(ctx, "g1")
	if again.URL != "uploads/a.png" {
		t.Errorf("stored record mutated through Get result")
	}
}

func TestMemoryPluginNotFound(t *testing.T) {
	store := newStorage(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryPluginRejectsEmptyGUID(t *testing.T) {
	store := newStorage(t)
	if err := store.Save(context.Background(), domain.ImageRecord{URL: "a.png"}); err == nil {
		t.Fatalf("expected error for empty guid")
	}
}

func TestMemoryPluginListCountDelete(t *testing.T) {
	ctx := context.Background()
	store := newStorage(t)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, g := range []string{"z", "y", "x"} {
		if err := store.Save(ctx, domain.ImageRecord{GUID: g, URL: g + ".png", CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	list, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 || list[0].GUID != "z" || list[2].GUID != "x" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if limited, _ := store.List(ctx, 1); len(limited) != 1 {
		t.Fatalf("limit not applied: %d", len(limited))
	}

	if err := store.Delete(ctx, "y"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
}

func TestMemoryPluginConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := newStorage(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			guid := fmt.Sprintf("g-%d", i)
			_ = store.Save(ctx, domain.ImageRecord{GUID: guid, URL: guid + ".png"})
			_, _ = store.Get(ctx, guid)
			_, _ = store.List(ctx, 10)
		}(i)
	}
	wg.Wait()

	if n, _ := store.Count(ctx); n != 50 {
		t.Fatalf("Count = %d, want 50", n)
	}
}

func TestMemoryProviderRegistered(t *testing.T) {
	p, err := persistence.NewPersistence(persistence.ProviderConfig{Type: "memory"}, persistence.PluginConfig{})
	if err != nil {
		t.Fatalf("NewPersistence(memory): %v", err)
	}
	if p.ImageStorage() == nil {
		t.Fatal("ImageStorage returned nil")
	}
}

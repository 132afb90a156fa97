package assets_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"storyreel/internal/testsupport"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := testsupport.MustOpenAssetStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	id, err := store.Put(ctx, "a long tracking shot over dunes", "desert opening")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated asset id")
	}

	asset, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if asset == nil {
		t.Fatal("expected asset")
	}
	if asset.Content != "a long tracking shot over dunes" {
		t.Fatalf("content mismatch: %q", asset.Content)
	}
	if len(asset.Captions) != 1 || asset.Captions[0].Text != "desert opening" {
		t.Fatalf("caption mismatch: %+v", asset.Captions)
	}
	if asset.CreatedAt.IsZero() || asset.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps")
	}
}

func TestConcurrentPutsAllSucceed(t *testing.T) {
	store := testsupport.MustOpenAssetStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	// Parallel scene tasks write through separate pooled connections; each
	// one must wait out writer contention instead of failing with
	// SQLITE_BUSY.
	const writers = 12
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Put(ctx, fmt.Sprintf("clip content %d", i), fmt.Sprintf("caption %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Put failed: %v", err)
		}
	}

	summaries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != writers {
		t.Fatalf("expected %d assets, got %d", writers, len(summaries))
	}
}

func TestPutRejectsEmptyContent(t *testing.T) {
	store := testsupport.MustOpenAssetStore(t, testsupport.NewConfig(t))
	if _, err := store.Put(context.Background(), "   ", "caption"); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := testsupport.MustOpenAssetStore(t, testsupport.NewConfig(t))
	asset, err := store.Get(context.Background(), "no-such-asset")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if asset != nil {
		t.Fatalf("expected nil for missing asset, got %+v", asset)
	}
}

func TestAddCaptionKeepsHistory(t *testing.T) {
	store := testsupport.MustOpenAssetStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	id, err := store.Put(ctx, "content", "first")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.AddCaption(ctx, id, "second"); err != nil {
		t.Fatalf("AddCaption failed: %v", err)
	}

	asset, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(asset.Captions) != 2 {
		t.Fatalf("expected 2 captions, got %d", len(asset.Captions))
	}
	if asset.Captions[0].Text != "first" || asset.Captions[1].Text != "second" {
		t.Fatalf("captions out of order: %+v", asset.Captions)
	}
	if got := asset.CurrentCaption(); got != "second" {
		t.Fatalf("expected latest caption, got %q", got)
	}
}

func TestAddCaptionToMissingAssetFails(t *testing.T) {
	store := testsupport.MustOpenAssetStore(t, testsupport.NewConfig(t))
	if err := store.AddCaption(context.Background(), "ghost", "caption"); err == nil {
		t.Fatal("expected error for missing asset")
	}
}

func TestExists(t *testing.T) {
	store := testsupport.MustOpenAssetStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	id, err := store.Put(ctx, "content", "")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ok, err := store.Exists(ctx, id)
	if err != nil || !ok {
		t.Fatalf("expected asset to exist: %v %v", ok, err)
	}
	ok, err = store.Exists(ctx, "ghost")
	if err != nil || ok {
		t.Fatalf("expected missing asset to report false: %v %v", ok, err)
	}
}

func TestDeleteRemovesAssetAndCaptions(t *testing.T) {
	store := testsupport.MustOpenAssetStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	id, err := store.Put(ctx, "content", "caption")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	existed, err := store.Delete(ctx, id)
	if err != nil || !existed {
		t.Fatalf("expected delete to report prior existence: %v %v", existed, err)
	}
	asset, err := store.Get(ctx, id)
	if err != nil || asset != nil {
		t.Fatalf("expected asset gone: %+v %v", asset, err)
	}

	existed, err = store.Delete(ctx, id)
	if err != nil || existed {
		t.Fatalf("second delete must report false: %v %v", existed, err)
	}
}

func TestListReportsLatestCaption(t *testing.T) {
	store := testsupport.MustOpenAssetStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first, err := store.Put(ctx, "alpha content", "alpha")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.AddCaption(ctx, first, "alpha revised"); err != nil {
		t.Fatalf("AddCaption failed: %v", err)
	}
	if _, err := store.Put(ctx, "beta content", ""); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	summaries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	byID := map[string]string{}
	for _, summary := range summaries {
		byID[summary.ID] = summary.Caption
	}
	if byID[first] != "alpha revised" {
		t.Fatalf("expected latest caption in summary, got %q", byID[first])
	}
}

func TestCheckHealth(t *testing.T) {
	store := testsupport.MustOpenAssetStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.Put(ctx, "content", "caption"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.TotalAssets != 1 {
		t.Fatalf("expected 1 asset, got %d", health.TotalAssets)
	}
	if !health.IntegrityCheck {
		t.Fatal("expected integrity check to pass")
	}
}

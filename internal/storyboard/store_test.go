package storyboard_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"storyreel/internal/services"
	"storyreel/internal/storyboard"
	"storyreel/internal/testsupport"
)

func newBoard(scenes int) *storyboard.Storyboard {
	plan := storyboard.BuildPlan("a tiny robot explores a garden", scenes, 6)
	return storyboard.NewFromPlan("Garden Robot", "a tiny robot explores a garden", "stub", plan)
}

func TestSaveGetRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStoryboardStore(t, cfg)
	ctx := context.Background()

	sb := newBoard(3)
	sb.Clips = []storyboard.Clip{
		{ID: "c2", Order: 2, Name: "Scene 3", AssetID: "a2"},
		{ID: "c0", Order: 0, Name: "Scene 1", AssetID: "a0"},
		{ID: "c1", Order: 1, Name: "Scene 2", AssetID: "a1"},
	}
	if err := store.Save(ctx, sb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fetched, err := store.Get(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected storyboard, got nil")
	}
	if len(fetched.Clips) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(fetched.Clips))
	}
	for i, clip := range fetched.Clips {
		if clip.Order != i {
			t.Fatalf("clips not sorted by order: position %d has order %d", i, clip.Order)
		}
		if clip.AssetID != fmt.Sprintf("a%d", i) {
			t.Fatalf("clip %d lost asset reference: %q", i, clip.AssetID)
		}
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStoryboardStore(t, cfg)

	sb, err := store.Get(context.Background(), "no-such-board")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sb != nil {
		t.Fatalf("expected nil for missing record, got %#v", sb)
	}
}

func TestAppendClipConcurrentDistinctOrders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStoryboardStore(t, cfg)
	ctx := context.Background()

	const n = 12
	sb := newBoard(n)
	if err := store.Save(ctx, sb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(order int) {
			defer wg.Done()
			clip := storyboard.Clip{
				ID:      fmt.Sprintf("clip-%d", order),
				Order:   order,
				Name:    storyboard.SceneName(order),
				AssetID: fmt.Sprintf("asset-%d", order),
			}
			if _, err := store.AppendClip(ctx, sb.ID, clip); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AppendClip failed: %v", err)
	}

	fetched, err := store.Get(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(fetched.Clips) != n {
		t.Fatalf("expected %d clips after concurrent appends, got %d", n, len(fetched.Clips))
	}
	if fetched.Generation.CompletedScenes != n {
		t.Fatalf("expected completed scenes %d, got %d", n, fetched.Generation.CompletedScenes)
	}
	for i, clip := range fetched.Clips {
		if clip.Order != i {
			t.Fatalf("clip at position %d has order %d", i, clip.Order)
		}
		if clip.AssetID != fmt.Sprintf("asset-%d", i) {
			t.Fatalf("clip %d lost asset reference: %q", i, clip.AssetID)
		}
	}
}

func TestAppendClipReplacesSameOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStoryboardStore(t, cfg)
	ctx := context.Background()

	sb := newBoard(2)
	if err := store.Save(ctx, sb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.AppendClip(ctx, sb.ID, storyboard.Clip{ID: "first", Order: 0, AssetID: "a"}); err != nil {
		t.Fatalf("AppendClip failed: %v", err)
	}
	updated, err := store.AppendClip(ctx, sb.ID, storyboard.Clip{ID: "second", Order: 0, AssetID: "b"})
	if err != nil {
		t.Fatalf("AppendClip failed: %v", err)
	}
	if len(updated.Clips) != 1 {
		t.Fatalf("expected 1 clip after duplicate-order append, got %d", len(updated.Clips))
	}
	if updated.Clips[0].ID != "second" || updated.Clips[0].AssetID != "b" {
		t.Fatalf("expected replacement clip, got %#v", updated.Clips[0])
	}
}

func TestDeleteStoryboard(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStoryboardStore(t, cfg)
	ctx := context.Background()

	sb := newBoard(1)
	if err := store.Save(ctx, sb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	existed, err := store.Delete(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !existed {
		t.Fatal("expected delete to report an existing record")
	}
	existed, err = store.Delete(ctx, sb.ID)
	if err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if existed {
		t.Fatal("expected second delete to report nothing removed")
	}
}

func TestListSkipsUnreadableRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStoryboardStore(t, cfg)
	ctx := context.Background()

	good := newBoard(1)
	if err := store.Save(ctx, good); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	garbled := filepath.Join(store.Dir(), "broken.json")
	if err := os.WriteFile(garbled, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write garbled record: %v", err)
	}

	boards, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(boards) != 1 || boards[0].ID != good.ID {
		t.Fatalf("expected only the valid record, got %d boards", len(boards))
	}

	// A record that exists but does not decode is reported as corruption.
	if _, err := store.Get(ctx, "broken"); !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("expected integrity error for garbled record, got %v", err)
	}
}

type missingAssetChecker struct{}

func (missingAssetChecker) Exists(context.Context, string) (bool, error) { return false, nil }

func TestSaveRecordsMissingAssetDiagnostics(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStoryboardStore(t, cfg, storyboard.WithAssetChecker(missingAssetChecker{}))
	ctx := context.Background()

	sb := newBoard(1)
	sb.Clips = []storyboard.Clip{{ID: "c0", Order: 0, AssetID: "gone"}}
	if err := store.Save(ctx, sb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fetched, err := store.Get(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(fetched.Diagnostics) == 0 {
		t.Fatal("expected a diagnostic for the missing asset reference")
	}

	// Saving again must not duplicate the diagnostic.
	if err := store.Save(ctx, fetched); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	again, err := store.Get(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(again.Diagnostics) != len(fetched.Diagnostics) {
		t.Fatalf("diagnostic duplicated: %d -> %d", len(fetched.Diagnostics), len(again.Diagnostics))
	}
}

func TestStaleTempFileDoesNotCorruptRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStoryboardStore(t, cfg)
	ctx := context.Background()

	sb := newBoard(2)
	sb.Clips = []storyboard.Clip{{ID: "c0", Order: 0, AssetID: "a0"}}
	if err := store.Save(ctx, sb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// An interrupted write leaves a temp file behind without ever renaming
	// it; the prior record must stay intact and readable.
	stale := filepath.Join(store.Dir(), sb.ID+".tmp-interrupted")
	if err := os.WriteFile(stale, []byte("{\"truncated"), 0o644); err != nil {
		t.Fatalf("write stale temp file: %v", err)
	}

	fetched, err := store.Get(ctx, sb.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched == nil || len(fetched.Clips) != 1 || fetched.Clips[0].AssetID != "a0" {
		t.Fatalf("prior record damaged: %#v", fetched)
	}

	boards, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(boards) != 1 {
		t.Fatalf("expected 1 storyboard, got %d", len(boards))
	}
}

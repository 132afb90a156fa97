package storyboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/services"
)

const recordExt = ".json"

// AssetChecker reports whether a referenced asset is retrievable and
// non-empty. The store records violations as diagnostics without blocking
// the save.
type AssetChecker interface {
	Exists(ctx context.Context, assetID string) (bool, error)
}

// Store persists storyboards as one JSON document per record. Writes are
// atomic (temp file, fsync, rename) and verified by reading the record back;
// concurrent mutations of the same record are serialized by a per-record
// cooperative lock.
type Store struct {
	dir     string
	logger  *slog.Logger
	checker AssetChecker
	locks   *recordLocks
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithLogger attaches a logger for write-verification warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAssetChecker wires the asset store used to validate clip references at
// persist time.
func WithAssetChecker(checker AssetChecker) Option {
	return func(s *Store) {
		s.checker = checker
	}
}

// Open initializes the storyboard store under the configured data directory.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	store := &Store{
		dir:    cfg.StoryboardDir(),
		logger: logging.NewNop(),
		locks:  newRecordLocks(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Dir returns the directory holding storyboard records.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

// Get fetches a storyboard by identifier. A missing record returns (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*Storyboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("storyboard id is required")
	}
	return s.readRecord(s.recordPath(id))
}

func (s *Store) readRecord(path string) (*Storyboard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read storyboard: %w", err)
	}
	var sb Storyboard
	if err := json.Unmarshal(data, &sb); err != nil {
		// A record that exists but does not decode is corruption, not a
		// transient read failure.
		return nil, services.Wrap(services.ErrIntegrity, "storyboard", "read", "decode record "+filepath.Base(path), err)
	}
	sb.SortClipsByOrder()
	return &sb, nil
}

// List returns all storyboards ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*Storyboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list storyboards: %w", err)
	}

	var boards []*Storyboard
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		sb, err := s.readRecord(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			if errors.Is(err, services.ErrIntegrity) {
				s.logger.Warn("skipping corrupt storyboard record",
					logging.String("file", entry.Name()),
					logging.String(logging.FieldErrorHint, "inspect or remove the record file"),
					logging.Error(err),
				)
			} else {
				s.logger.Warn("skipping unreadable storyboard record",
					logging.String("file", entry.Name()),
					logging.Error(err),
				)
			}
			continue
		}
		if sb != nil {
			boards = append(boards, sb)
		}
	}
	sort.Slice(boards, func(i, j int) bool {
		return boards[i].CreatedAt.Before(boards[j].CreatedAt)
	})
	return boards, nil
}

// Save persists a full storyboard under the record lock.
func (s *Store) Save(ctx context.Context, sb *Storyboard) error {
	if sb == nil {
		return errors.New("storyboard is nil")
	}
	if strings.TrimSpace(sb.ID) == "" {
		return errors.New("storyboard id is required")
	}
	if err := s.locks.acquire(ctx, sb.ID); err != nil {
		return err
	}
	defer s.locks.release(sb.ID)
	return s.saveLocked(ctx, sb)
}

// AppendClip merges one clip into the persisted record under the record
// lock, so interleaved scene completions cannot drop each other's writes.
// The durable completed-scene count follows the clip set.
func (s *Store) AppendClip(ctx context.Context, id string, clip Clip) (*Storyboard, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("storyboard id is required")
	}
	if err := s.locks.acquire(ctx, id); err != nil {
		return nil, err
	}
	defer s.locks.release(id)

	sb, err := s.readRecord(s.recordPath(id))
	if err != nil {
		return nil, err
	}
	if sb == nil {
		return nil, fmt.Errorf("storyboard %s does not exist", id)
	}
	sb.MergeClip(clip)
	sb.SortClipsByOrder()
	sb.Generation.CompletedScenes = len(sb.Clips)
	if err := s.saveLocked(ctx, sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// UpdateGeneration applies a mutation to the persisted record under the
// record lock and writes the result.
func (s *Store) UpdateGeneration(ctx context.Context, id string, mutate func(*Storyboard) error) (*Storyboard, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("storyboard id is required")
	}
	if mutate == nil {
		return nil, errors.New("mutate func is required")
	}
	if err := s.locks.acquire(ctx, id); err != nil {
		return nil, err
	}
	defer s.locks.release(id)

	sb, err := s.readRecord(s.recordPath(id))
	if err != nil {
		return nil, err
	}
	if sb == nil {
		return nil, fmt.Errorf("storyboard %s does not exist", id)
	}
	if err := mutate(sb); err != nil {
		return nil, err
	}
	if err := s.saveLocked(ctx, sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// Delete removes a storyboard record. It reports whether a record existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, errors.New("storyboard id is required")
	}
	if err := s.locks.acquire(ctx, id); err != nil {
		return false, err
	}
	defer s.locks.release(id)

	err := os.Remove(s.recordPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete storyboard: %w", err)
	}
	_ = os.Remove(s.recordPath(id) + ".bak")
	return true, nil
}

func (s *Store) saveLocked(ctx context.Context, sb *Storyboard) error {
	sb.UpdatedAt = time.Now().UTC()
	s.checkAssetReferences(ctx, sb)
	return s.writeVerified(sb)
}

// checkAssetReferences validates that every clip's asset is retrievable at
// persist time. Violations become diagnostics on the record, never save
// failures.
func (s *Store) checkAssetReferences(ctx context.Context, sb *Storyboard) {
	if s.checker == nil {
		return
	}
	for _, clip := range sb.Clips {
		if clip.AssetID == "" {
			continue
		}
		ok, err := s.checker.Exists(ctx, clip.AssetID)
		if err != nil {
			s.logger.Warn("asset reference check failed",
				logging.String(logging.FieldStoryboardID, sb.ID),
				logging.String("asset_id", clip.AssetID),
				logging.Error(err),
			)
			continue
		}
		if !ok {
			diagnostic := fmt.Sprintf("clip order %d references missing asset %s", clip.Order, clip.AssetID)
			if !hasDiagnostic(sb, diagnostic) {
				sb.AddDiagnostic(diagnostic)
			}
		}
	}
}

func hasDiagnostic(sb *Storyboard, message string) bool {
	for _, existing := range sb.Diagnostics {
		if existing == message {
			return true
		}
	}
	return false
}

package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"storyreel/internal/config"
)

// Store manages asset persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the asset database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.AssetDBPath()
	// Pragmas travel in the DSN so every pooled connection gets them; an
	// Exec would bind them to a single connection and leave the rest of the
	// pool without a busy timeout.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) applyMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS assets (
            id TEXT PRIMARY KEY,
            content TEXT NOT NULL,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS asset_captions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
            caption TEXT NOT NULL,
            created_at TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_asset_captions_asset ON asset_captions(asset_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// Put stores a new artifact and its initial caption, returning the asset ID.
func (s *Store) Put(ctx context.Context, content, caption string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", errors.New("asset content is required")
	}
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO assets (id, content, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, content, now, now,
	); err != nil {
		return "", fmt.Errorf("insert asset: %w", err)
	}
	if strings.TrimSpace(caption) != "" {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO asset_captions (asset_id, caption, created_at) VALUES (?, ?, ?)`,
			id, caption, now,
		); err != nil {
			return "", fmt.Errorf("insert caption: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit put: %w", err)
	}
	return id, nil
}

// AddCaption appends a caption revision to an existing asset.
func (s *Store) AddCaption(ctx context.Context, id, caption string) error {
	if strings.TrimSpace(caption) == "" {
		return errors.New("caption is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE assets SET updated_at = ? WHERE id = ?`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("touch asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("asset %s does not exist", id)
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO asset_captions (asset_id, caption, created_at) VALUES (?, ?, ?)`,
		id, caption, now,
	); err != nil {
		return fmt.Errorf("insert caption: %w", err)
	}
	return nil
}

// Get fetches an asset with its full caption history. A missing asset
// returns (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*Asset, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, content, created_at, updated_at FROM assets WHERE id = ?`,
		id,
	)
	var (
		assetID    string
		content    string
		createdRaw string
		updatedRaw string
	)
	if err := row.Scan(&assetID, &content, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}

	asset := &Asset{
		ID:        assetID,
		Content:   content,
		CreatedAt: parseTime(createdRaw),
		UpdatedAt: parseTime(updatedRaw),
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT caption, created_at FROM asset_captions WHERE asset_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("get captions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			caption string
			atRaw   string
		)
		if err := rows.Scan(&caption, &atRaw); err != nil {
			return nil, err
		}
		asset.Captions = append(asset.Captions, Caption{Text: caption, CreatedAt: parseTime(atRaw)})
	}
	return asset, rows.Err()
}

// Exists reports whether an asset is retrievable with non-empty content.
// It implements the storyboard store's asset reference check.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT length(content) FROM assets WHERE id = ?`,
		id,
	)
	var size int64
	if err := row.Scan(&size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check asset: %w", err)
	}
	return size > 0, nil
}

// Delete removes an asset and its captions. It reports whether one existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns asset summaries ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT a.id, length(a.content), a.created_at, a.updated_at,
                COALESCE((SELECT caption FROM asset_captions c
                          WHERE c.asset_id = a.id ORDER BY c.id DESC LIMIT 1), '')
         FROM assets a ORDER BY a.created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			summary    Summary
			createdRaw string
			updatedRaw string
		)
		if err := rows.Scan(&summary.ID, &summary.ContentBytes, &createdRaw, &updatedRaw, &summary.Caption); err != nil {
			return nil, err
		}
		summary.CreatedAt = parseTime(createdRaw)
		summary.UpdatedAt = parseTime(updatedRaw)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// CheckHealth returns diagnostic information about the asset database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat asset database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("asset database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping asset database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'assets'")
	if err := row.Scan(&tableName); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM assets")
		if err := row.Scan(&health.TotalAssets); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count assets: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", value); err == nil {
		return t
	}
	return time.Time{}
}

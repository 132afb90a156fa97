package storyboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"storyreel/internal/logging"
)

// writeVerified persists a record with the atomic sequence: marshal, write
// to a temp file, fsync, rename over the final path, then read the file
// back and verify that no clip was lost. A verification failure falls back
// to a direct write preceded by a backup of the previous good version; the
// failure is recorded as a diagnostic on the record, never a silent loss.
func (s *Store) writeVerified(sb *Storyboard) error {
	path := s.recordPath(sb.ID)

	// Previous good version, captured before rename replaces it.
	prev, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read previous record: %w", err)
	}

	data, err := json.MarshalIndent(sb, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storyboard: %w", err)
	}

	if err := s.atomicReplace(path, sb.ID, data); err != nil {
		return err
	}

	verifyErr := s.verifyRecord(path, sb)
	if verifyErr == nil {
		return nil
	}

	s.logger.Warn("storyboard write verification failed, falling back to guarded direct write",
		logging.String(logging.FieldStoryboardID, sb.ID),
		logging.String(logging.FieldEventType, "write_verification_failed"),
		logging.String(logging.FieldErrorHint, "check data directory for filesystem corruption"),
		logging.Error(verifyErr),
	)

	if len(prev) > 0 {
		if backupErr := os.WriteFile(path+".bak", prev, 0o644); backupErr != nil {
			s.logger.Warn("backup of previous storyboard version failed",
				logging.String(logging.FieldStoryboardID, sb.ID),
				logging.Error(backupErr),
			)
		}
	}

	diagnostic := "write verification failed: " + verifyErr.Error()
	if !hasDiagnostic(sb, diagnostic) {
		sb.AddDiagnostic(diagnostic)
	}
	data, err = json.MarshalIndent(sb, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storyboard: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("fallback write: %w", err)
	}
	return nil
}

func (s *Store) atomicReplace(path, id string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, id+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// verifyRecord reads a just-written record back and checks that every clip
// retained its identity and asset reference.
func (s *Store) verifyRecord(path string, expected *Storyboard) error {
	persisted, err := s.readRecord(path)
	if err != nil {
		return err
	}
	if persisted == nil {
		return errors.New("record missing after write")
	}
	if len(persisted.Clips) != len(expected.Clips) {
		return fmt.Errorf("clip count mismatch: wrote %d, read %d", len(expected.Clips), len(persisted.Clips))
	}
	byOrder := make(map[int]Clip, len(persisted.Clips))
	for _, clip := range persisted.Clips {
		byOrder[clip.Order] = clip
	}
	for _, clip := range expected.Clips {
		got, ok := byOrder[clip.Order]
		if !ok {
			return fmt.Errorf("clip order %d missing after write", clip.Order)
		}
		if got.ID != clip.ID {
			return fmt.Errorf("clip order %d lost its id (wrote %s, read %s)", clip.Order, clip.ID, got.ID)
		}
		if clip.AssetID != "" && got.AssetID != clip.AssetID {
			return fmt.Errorf("clip order %d lost its asset reference (wrote %s, read %s)", clip.Order, clip.AssetID, got.AssetID)
		}
	}
	return nil
}

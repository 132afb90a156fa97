package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/session"
	"storyreel/internal/storyboard"
)

const defaultScanInterval = 60 * time.Second

// Runner executes a generation run for a resumed storyboard.
type Runner interface {
	RunGeneration(ctx context.Context, storyboardID string, sess *session.Session) error
}

// Scanner detects and resumes interrupted generation jobs.
type Scanner struct {
	store    *storyboard.Store
	sessions *session.Manager
	runner   Runner
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running map[string]struct{}
}

// New constructs a scanner from configuration.
func New(cfg *config.Config, store *storyboard.Store, sessions *session.Manager, runner Runner, logger *slog.Logger) *Scanner {
	interval := defaultScanInterval
	if cfg != nil && cfg.Recovery.ScanIntervalSeconds > 0 {
		interval = time.Duration(cfg.Recovery.ScanIntervalSeconds) * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scanner{
		store:    store,
		sessions: sessions,
		runner:   runner,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "recovery"),
		running:  make(map[string]struct{}),
	}
}

// Start launches the scan loop: one immediate pass, then one per interval.
// Stop cancels the loop and waits for it to drain.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.ScanOnce(loopCtx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.ScanOnce(loopCtx)
			}
		}
	}()
}

// Stop halts the scan loop. In-flight resumed runs are not interrupted; the
// daemon's own shutdown context bounds them.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// ScanOnce performs one recovery pass and returns how many storyboards it
// resumed.
func (s *Scanner) ScanOnce(ctx context.Context) int {
	boards, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("list storyboards for recovery", logging.Error(err))
		return 0
	}

	resumed := 0
	for _, sb := range boards {
		if !sb.NeedsRecovery() {
			continue
		}
		// A live session means this process is already working the job.
		if sb.Generation.ActiveSessionID != "" && s.sessions.Live(sb.Generation.ActiveSessionID) {
			continue
		}
		if !s.claim(sb.ID) {
			continue
		}
		if err := s.resume(ctx, sb); err != nil {
			s.logger.Error("resume storyboard",
				logging.String(logging.FieldStoryboardID, sb.ID),
				logging.Error(err),
			)
			s.release(sb.ID)
			continue
		}
		resumed++
	}
	return resumed
}

func (s *Scanner) claim(storyboardID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[storyboardID]; ok {
		return false
	}
	s.running[storyboardID] = struct{}{}
	return true
}

func (s *Scanner) release(storyboardID string) {
	s.mu.Lock()
	delete(s.running, storyboardID)
	s.mu.Unlock()
}

func (s *Scanner) resume(ctx context.Context, sb *storyboard.Storyboard) error {
	sess := s.sessions.Create(sb.ID, len(sb.OriginalScenes))
	resumeFrom := sb.ResumePoint()

	_, err := s.store.UpdateGeneration(ctx, sb.ID, func(record *storyboard.Storyboard) error {
		now := time.Now().UTC()
		record.Generation.Status = storyboard.StatusGenerating
		record.Generation.ActiveSessionID = sess.ID
		record.Generation.CurrentSceneIndex = resumeFrom
		record.Generation.RecoveredAt = &now
		return nil
	})
	if err != nil {
		_ = s.sessions.Remove(sess.ID)
		return err
	}

	s.logger.Info("resuming interrupted storyboard",
		logging.String(logging.FieldStoryboardID, sb.ID),
		logging.String(logging.FieldSessionID, sess.ID),
		logging.Int("resume_from", resumeFrom),
	)

	go func() {
		defer s.release(sb.ID)
		if err := s.runner.RunGeneration(ctx, sb.ID, sess); err != nil {
			s.logger.Error("recovered run failed",
				logging.String(logging.FieldStoryboardID, sb.ID),
				logging.Error(err),
			)
		}
	}()
	return nil
}

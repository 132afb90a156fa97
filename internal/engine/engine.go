package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyreel/internal/generator"
	"storyreel/internal/logging"
	"storyreel/internal/ratelimit"
	"storyreel/internal/services"
	"storyreel/internal/session"
	"storyreel/internal/storyboard"
)

// AssetWriter persists one generated artifact and returns its identifier.
type AssetWriter interface {
	Put(ctx context.Context, content, caption string) (string, error)
}

// ClientResolver maps a provider to its generation adapter.
type ClientResolver interface {
	Resolve(provider generator.Provider) (generator.Client, error)
}

// Engine orchestrates scene generation runs.
type Engine struct {
	store    *storyboard.Store
	assets   AssetWriter
	resolver ClientResolver
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
}

// New constructs an engine. All collaborators are required except the
// logger.
func New(store *storyboard.Store, assets AssetWriter, resolver ClientResolver, limiter *ratelimit.Limiter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:    store,
		assets:   assets,
		resolver: resolver,
		limiter:  limiter,
		logger:   logging.NewComponentLogger(logger, "engine"),
	}
}

// FailureStatus maps a run error to the storyboard status worth persisting:
// throttle signals pause for later recovery, transient faults pause with an
// error marker, anything else is terminal.
func FailureStatus(err error) storyboard.Status {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimitExceeded),
		errors.Is(err, services.ErrThrottled),
		generator.KindOf(err) == generator.KindThrottled:
		return storyboard.StatusPausedRateLimited
	case errors.Is(err, services.ErrTransient),
		generator.KindOf(err) == generator.KindTransient:
		return storyboard.StatusPausedError
	default:
		return storyboard.StatusFailed
	}
}

// pauseTracker accumulates recoverable-pause signals across scene tasks.
// The lowest throttled index wins so the persisted pause points at the
// earliest unfinished work.
type pauseTracker struct {
	mu            sync.Mutex
	throttledIdx  *int
	transientIdx  *int
	throttleCause string
}

func (p *pauseTracker) recordThrottle(idx int, cause string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.throttledIdx == nil || idx < *p.throttledIdx {
		i := idx
		p.throttledIdx = &i
		p.throttleCause = cause
	}
}

func (p *pauseTracker) recordTransient(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transientIdx == nil || idx < *p.transientIdx {
		i := idx
		p.transientIdx = &i
	}
}

func (p *pauseTracker) state() (status storyboard.Status, idx *int, cause string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.throttledIdx != nil {
		i := *p.throttledIdx
		return storyboard.StatusPausedRateLimited, &i, p.throttleCause, true
	}
	if p.transientIdx != nil {
		i := *p.transientIdx
		return storyboard.StatusPausedError, &i, "transient provider failure", true
	}
	return "", nil, "", false
}

// RunGeneration executes the scene fan-out for one storyboard under the
// given session. It returns an error only for fatal conditions; scene-local
// failures and recoverable pauses settle into the persisted status instead.
func (e *Engine) RunGeneration(ctx context.Context, storyboardID string, sess *session.Session) error {
	ctx = services.WithStoryboardID(ctx, storyboardID)
	ctx = services.WithSessionID(ctx, sess.ID)
	logger := logging.WithContext(ctx, e.logger)

	sb, err := e.store.Get(ctx, storyboardID)
	if err != nil {
		wrapped := services.Wrap(services.ErrTransient, "engine", "run", "load storyboard", err)
		sess.Finish(FailureStatus(wrapped))
		return wrapped
	}
	if sb == nil {
		sess.Finish(storyboard.StatusFailed)
		return services.Wrap(services.ErrNotFound, "engine", "run", fmt.Sprintf("storyboard %s does not exist", storyboardID), nil)
	}
	if len(sb.OriginalScenes) == 0 {
		if err := e.persistFatal(ctx, storyboardID, "storyboard has no scene plan"); err != nil {
			logger.Error("persist failed status", logging.Error(err))
		}
		sess.Finish(storyboard.StatusFailed)
		return services.Wrap(services.ErrValidation, "engine", "run", "storyboard has no scene plan", nil)
	}

	provider, err := generator.ParseProvider(sb.Provider)
	if err != nil {
		if persistErr := e.persistFatal(ctx, storyboardID, err.Error()); persistErr != nil {
			logger.Error("persist failed status", logging.Error(persistErr))
		}
		sess.Finish(storyboard.StatusFailed)
		return services.Wrap(services.ErrConfiguration, "engine", "run", "resolve provider", err)
	}
	client, err := e.resolver.Resolve(provider)
	if err != nil {
		if persistErr := e.persistFatal(ctx, storyboardID, err.Error()); persistErr != nil {
			logger.Error("persist failed status", logging.Error(persistErr))
		}
		sess.Finish(storyboard.StatusFailed)
		return services.Wrap(services.ErrConfiguration, "engine", "run", "resolve provider adapter", err)
	}
	e.limiter.EnsureProvider(provider)

	completed := sb.CompletedOrders()
	resumeFrom := sb.ResumePoint()
	sb, err = e.store.UpdateGeneration(ctx, storyboardID, func(record *storyboard.Storyboard) error {
		record.Generation.Status = storyboard.StatusGenerating
		record.Generation.ActiveSessionID = sess.ID
		record.Generation.CurrentSceneIndex = resumeFrom
		record.Generation.PausedReason = ""
		record.Generation.PausedAt = nil
		record.Generation.PausedSceneIndex = nil
		if record.Generation.StartedAt.IsZero() {
			record.Generation.StartedAt = time.Now().UTC()
		}
		return nil
	})
	if err != nil {
		wrapped := services.Wrap(services.ErrTransient, "engine", "run", "mark generating", err)
		sess.Finish(FailureStatus(wrapped))
		return wrapped
	}

	// Resumed runs re-emit already-completed scenes so subscribers see
	// correct progress without regeneration.
	for i := range sb.Clips {
		clip := sb.Clips[i]
		sess.ReportSceneComplete(clip.Order, &clip)
	}

	logger.Info("generation run started",
		logging.String(logging.FieldProvider, provider.String()),
		logging.Int("total_scenes", len(sb.OriginalScenes)),
		logging.Int("pending_scenes", len(sb.OriginalScenes)-len(completed)),
	)

	tracker := &pauseTracker{}
	var wg sync.WaitGroup
	for i, scene := range sb.OriginalScenes {
		if _, done := completed[i]; done {
			continue
		}
		wg.Add(1)
		go func(idx int, scene storyboard.Scene) {
			defer wg.Done()
			e.runScene(ctx, logger, sess, tracker, storyboardID, provider, client, idx, scene)
		}(i, scene)
	}
	wg.Wait()

	final, err := e.settle(ctx, storyboardID, tracker)
	if err != nil {
		wrapped := services.Wrap(services.ErrTransient, "engine", "run", "persist final status", err)
		sess.Finish(FailureStatus(wrapped))
		return wrapped
	}

	logger.Info("generation run settled",
		logging.String("final_status", string(final)),
	)
	sess.Finish(final)
	return nil
}

// runScene executes one scene task. All failure handling is local: the
// outcome lands on the session and, for recoverable pauses, the record.
func (e *Engine) runScene(
	ctx context.Context,
	logger *slog.Logger,
	sess *session.Session,
	tracker *pauseTracker,
	storyboardID string,
	provider generator.Provider,
	client generator.Client,
	idx int,
	scene storyboard.Scene,
) {
	sceneCtx := services.WithSceneIndex(ctx, idx)
	var result generator.Result
	err := e.limiter.Execute(sceneCtx, provider, func(taskCtx context.Context) error {
		var genErr error
		result, genErr = client.Generate(taskCtx, scene.Prompt)
		return genErr
	})
	if err != nil {
		e.handleSceneFailure(ctx, logger, sess, tracker, storyboardID, idx, err)
		return
	}

	assetID, err := e.assets.Put(ctx, result.Content, result.Caption)
	if err != nil {
		logger.Error("persist scene asset",
			logging.Int(logging.FieldSceneIndex, idx),
			logging.Error(err),
		)
		sess.ReportSceneFailed(idx, "persist asset: "+err.Error())
		return
	}

	clip := storyboard.Clip{
		ID:              uuid.NewString(),
		Order:           idx,
		Name:            storyboard.SceneName(idx),
		Prompt:          scene.Prompt,
		DurationSeconds: scene.TargetDurationSeconds,
		AssetID:         assetID,
		Provider:        provider.String(),
	}
	if _, err := e.store.AppendClip(ctx, storyboardID, clip); err != nil {
		logger.Error("append clip",
			logging.Int(logging.FieldSceneIndex, idx),
			logging.Error(err),
		)
		sess.ReportSceneFailed(idx, "append clip: "+err.Error())
		return
	}
	logger.Info("scene completed",
		logging.Int(logging.FieldSceneIndex, idx),
	)
	sess.ReportSceneComplete(idx, &clip)
}

func (e *Engine) handleSceneFailure(
	ctx context.Context,
	logger *slog.Logger,
	sess *session.Session,
	tracker *pauseTracker,
	storyboardID string,
	idx int,
	err error,
) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		sess.ReportSceneFailed(idx, "generation interrupted")
		return
	}

	switch FailureStatus(err) {
	case storyboard.StatusPausedRateLimited:
		logger.Warn("scene throttled, pausing storyboard",
			logging.Int(logging.FieldSceneIndex, idx),
			logging.Error(err),
		)
		sess.ReportSceneFailed(idx, err.Error())
		tracker.recordThrottle(idx, err.Error())
		e.persistPause(ctx, logger, storyboardID, storyboard.StatusPausedRateLimited, idx, err.Error())
	case storyboard.StatusPausedError:
		logger.Warn("scene failed transiently, pausing storyboard",
			logging.Int(logging.FieldSceneIndex, idx),
			logging.Error(err),
		)
		sess.ReportSceneFailed(idx, err.Error())
		tracker.recordTransient(idx)
		e.persistPause(ctx, logger, storyboardID, storyboard.StatusPausedError, idx, err.Error())
	default:
		logger.Warn("scene failed",
			logging.Int(logging.FieldSceneIndex, idx),
			logging.Error(err),
		)
		sess.ReportSceneFailed(idx, err.Error())
	}
}

// persistPause writes the recoverable-pause markers as soon as the signal
// arrives, so a crash before settle still leaves a resumable record. The
// settle pass rewrites the final state after siblings drain.
func (e *Engine) persistPause(ctx context.Context, logger *slog.Logger, storyboardID string, status storyboard.Status, idx int, reason string) {
	_, err := e.store.UpdateGeneration(ctx, storyboardID, func(record *storyboard.Storyboard) error {
		// Throttle pauses outrank transient ones when both arrive.
		if record.Generation.Status == storyboard.StatusPausedRateLimited && status == storyboard.StatusPausedError {
			return nil
		}
		now := time.Now().UTC()
		record.Generation.Status = status
		record.Generation.PausedReason = reason
		record.Generation.PausedAt = &now
		if record.Generation.PausedSceneIndex == nil || idx < *record.Generation.PausedSceneIndex {
			i := idx
			record.Generation.PausedSceneIndex = &i
		}
		return nil
	})
	if err != nil {
		logger.Error("persist pause state",
			logging.Int(logging.FieldSceneIndex, idx),
			logging.Error(err),
		)
	}
}

// settle recomputes the final status from the persisted clip set after every
// scene task resolved.
func (e *Engine) settle(ctx context.Context, storyboardID string, tracker *pauseTracker) (storyboard.Status, error) {
	pauseStatus, pauseIdx, pauseReason, paused := tracker.state()
	var final storyboard.Status
	_, err := e.store.UpdateGeneration(ctx, storyboardID, func(record *storyboard.Storyboard) error {
		record.Generation.CompletedScenes = len(record.Clips)
		record.Generation.CurrentSceneIndex = record.ResumePoint()
		switch {
		case paused:
			now := time.Now().UTC()
			record.Generation.Status = pauseStatus
			record.Generation.PausedReason = pauseReason
			record.Generation.PausedAt = &now
			record.Generation.PausedSceneIndex = pauseIdx
		case len(record.Clips) == len(record.OriginalScenes):
			now := time.Now().UTC()
			record.Generation.Status = storyboard.StatusCompleted
			record.Generation.CompletedAt = &now
			record.Generation.PausedReason = ""
			record.Generation.PausedAt = nil
			record.Generation.PausedSceneIndex = nil
		default:
			now := time.Now().UTC()
			record.Generation.Status = storyboard.StatusCompletedWithErrors
			record.Generation.CompletedAt = &now
		}
		final = record.Generation.Status
		return nil
	})
	if err != nil {
		return "", err
	}
	return final, nil
}

func (e *Engine) persistFatal(ctx context.Context, storyboardID, reason string) error {
	_, err := e.store.UpdateGeneration(ctx, storyboardID, func(record *storyboard.Storyboard) error {
		now := time.Now().UTC()
		record.Generation.Status = storyboard.StatusFailed
		record.Generation.CompletedAt = &now
		record.AddDiagnostic("generation failed: " + reason)
		return nil
	})
	return err
}

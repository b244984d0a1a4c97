package pipeline

import (
	"context"
	"log/slog"
	"time"

	"chipscore/internal/analysis"
	"chipscore/internal/cacheindex"
	"chipscore/internal/extractpool"
	"chipscore/internal/jobstore"
	"chipscore/internal/logging"
	"chipscore/internal/output"
	"chipscore/internal/render"
	"chipscore/internal/services"
	"chipscore/internal/sources"
)

// processJob walks one track through every phase. Any returned error fails
// only this job unless it is pipeline-fatal.
func (c *Coordinator) processJob(ctx context.Context, lane *laneState, track sources.Track) error {
	key := track.Key()
	jobCtx := services.WithJobKey(ctx, key)
	jobCtx = services.WithLane(jobCtx, lane.id)
	logger := logging.WithContext(jobCtx, lane.logger)

	started := time.Now()
	c.setLanePhase(lane, "analyzing", key)

	hash, err := cacheindex.HashSource(track.Path)
	if err != nil {
		return services.Wrap(services.ErrValidation, "analyzing", "hash source", "", err)
	}

	skip, err := c.deps.Store.CanSkip(jobCtx, key, hash, analysis.SchemaVersion)
	if err != nil {
		return services.Wrap(services.ErrPersistence, "analyzing", "consult job store", "", err)
	}
	if skip {
		if err := c.writer.Resolve(key); err != nil {
			return err
		}
		c.mu.Lock()
		c.counters.Skipped++
		c.counters.Processed++
		c.mu.Unlock()
		c.publish()
		logger.Debug("job skipped, classification current",
			logging.String("content_hash", hash))
		return nil
	}

	audio, err := c.obtainAudio(jobCtx, lane, logger, track, key)
	if err != nil {
		return err
	}

	policy := analysis.WindowPolicy{
		MaxWindowSeconds: c.cfg.Analysis.WindowSeconds,
		IntroSkipSeconds: c.cfg.Analysis.IntroSkipSeconds,
	}
	window := analysis.SelectWindow(audio.Samples, audio.SampleRate, policy)
	windowed := audio.Samples[window.StartSample : window.StartSample+window.SampleCount]

	c.setLanePhase(lane, "extracting", key)
	if err := c.deps.Store.SetStatus(jobCtx, key, jobstore.StatusExtracting); err != nil {
		return services.Wrap(services.ErrPersistence, "extracting", "record phase", "", err)
	}
	var features analysis.FeatureVector
	err = c.withHeartbeat(jobCtx, lane, func(hbCtx context.Context) error {
		var extractErr error
		features, extractErr = c.deps.Pool.Extract(hbCtx, extractpool.Job{
			Key:        key,
			Engine:     audio.Engine,
			Samples:    windowed,
			SampleRate: audio.SampleRate,
		})
		return extractErr
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.counters.Extracted++
	if features.Degraded() {
		c.counters.Degraded++
	}
	c.mu.Unlock()
	c.publish()

	c.setLanePhase(lane, "predicting", key)
	if err := c.deps.Store.SetStatus(jobCtx, key, jobstore.StatusPredicting); err != nil {
		return services.Wrap(services.ErrPersistence, "predicting", "record phase", "", err)
	}
	prediction, err := c.deps.Predictor.Predict(key, features)
	if err != nil {
		return err
	}
	prediction, manual := c.deps.Overlay.Apply(key, prediction)
	if !prediction.Ratings.Valid() {
		return services.Wrap(services.ErrValidation, "predicting", "validate ratings",
			"prediction "+prediction.Ratings.String()+" is outside the rating scale", nil)
	}

	c.setLanePhase(lane, "persisting", key)
	if err := c.deps.Store.SetStatus(jobCtx, key, jobstore.StatusPersisting); err != nil {
		return services.Wrap(services.ErrPersistence, "persisting", "record phase", "", err)
	}
	record := output.ClassificationRecord{
		Key:           key,
		Source:        track.RelKey,
		SubIndex:      track.SubIndex,
		Engine:        audio.Engine,
		Variant:       string(features.Variant),
		SchemaVersion: features.SchemaVersion,
		Ratings:       prediction.Ratings,
		Confidence:    prediction.Confidence,
		Model:         prediction.Model,
		Features:      features.Values,
		ContentHash:   hash,
	}
	if err := c.writer.Commit(key, record); err != nil {
		return err
	}
	if err := c.deps.Store.MarkDone(jobCtx, key, audio.Engine, string(features.Variant), features.SchemaVersion, hash); err != nil {
		return services.Wrap(services.ErrPersistence, "persisting", "record completion", "", err)
	}

	c.mu.Lock()
	c.counters.Tagged++
	c.counters.Processed++
	c.mu.Unlock()
	c.publish()

	logger.Info("job classified",
		logging.String("ratings", prediction.Ratings.String()),
		logging.String("variant", string(features.Variant)),
		logging.Bool("manual_override", manual),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// obtainAudio renders the track or loads the cached artifact, whichever the
// cache index says is valid.
func (c *Coordinator) obtainAudio(ctx context.Context, lane *laneState, logger *slog.Logger, track sources.Track, key string) (*render.RenderedAudio, error) {
	artifact := c.deps.Renderer.ArtifactPath(track)
	refresh, reason, err := cacheindex.NeedsRefresh(track.Path, artifact, c.deps.Renderer.Params())
	if err != nil {
		return nil, services.Wrap(services.ErrCache, "analyzing", "check cache", "", err)
	}

	if !refresh {
		audio, _, err := c.deps.Renderer.LoadCached(track)
		if err == nil {
			c.mu.Lock()
			c.counters.CacheHits++
			c.mu.Unlock()
			c.publish()
			logger.Debug("reusing cached render")
			return audio, nil
		}
		// Unreadable artifact is a cache miss, not a failure.
		refresh, reason = true, "cached artifact unreadable"
	}

	c.setLanePhase(lane, "rendering", key)
	if err := c.deps.Store.SetStatus(ctx, key, jobstore.StatusRendering); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "rendering", "record phase", "", err)
	}
	logger.Info("rendering", logging.String("reason", reason))

	var audio *render.RenderedAudio
	err = c.withHeartbeat(ctx, lane, func(hbCtx context.Context) error {
		var renderErr error
		audio, _, renderErr = c.deps.Renderer.RenderTrack(hbCtx, track)
		return renderErr
	})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.counters.Rendered++
	c.mu.Unlock()
	c.publish()
	return audio, nil
}

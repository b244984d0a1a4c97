package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"chipscore/internal/cacheindex"
	"chipscore/internal/config"
	"chipscore/internal/logging"
	"chipscore/internal/manifest"
	"chipscore/internal/services"
	"chipscore/internal/sources"
	"chipscore/internal/wavio"
)

// Orchestrator drives one render end to end: pick an engine, produce PCM,
// derive the WAV artifact, verify it against its own header, record cache
// identity, optionally derive lossy/lossless encodes from the WAV, and
// register everything in the availability manifest.
type Orchestrator struct {
	cfg      *config.Config
	engines  []Engine
	manifest *manifest.Manifest
	logger   *slog.Logger
}

// NewOrchestrator wires the orchestrator with an explicit engine set in
// preference order.
func NewOrchestrator(cfg *config.Config, engines []Engine, m *manifest.Manifest, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		engines:  engines,
		manifest: m,
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
	}
}

// EnginesFromConfig builds the configured engine set in preference order.
func EnginesFromConfig(cfg *config.Config) []Engine {
	engines := make([]Engine, 0, len(cfg.Render.Engines))
	for _, name := range cfg.Render.Engines {
		switch name {
		case "softsynth":
			engines = append(engines, NewSoftSynth())
		case "external":
			engines = append(engines, NewExternalEngine(
				cfg.Render.ExternalBinary,
				cfg.Render.ExternalArgs,
				time.Duration(cfg.Render.RenderTimeout)*time.Second,
			))
		case "hardware":
			engines = append(engines, NewHardwareEngine(
				cfg.Hardware.ControlURL,
				cfg.Hardware.StreamBind,
				cfg.Hardware.MaxLossRate,
				time.Duration(cfg.Hardware.StreamTimeout)*time.Second,
			))
		}
	}
	return engines
}

// ArtifactPath returns the cache location of a track's WAV artifact. The
// cache tree mirrors the source tree.
func (o *Orchestrator) ArtifactPath(track sources.Track) string {
	name := track.RelKey
	if track.SubIndex > 0 {
		name = fmt.Sprintf("%s.%d", track.RelKey, track.SubIndex)
	}
	return filepath.Join(o.cfg.Paths.CacheDir, filepath.FromSlash(name)+".wav")
}

// Params returns the cache identity parameters for the current configuration.
func (o *Orchestrator) Params() cacheindex.Params {
	return cacheindex.Params{
		MaxSeconds: o.cfg.Render.MaxSeconds,
		ChipModel:  o.cfg.Render.ChipModel,
		SampleRate: o.cfg.Render.SampleRate,
	}
}

// selectEngine returns the first configured engine whose availability probe
// passes.
func (o *Orchestrator) selectEngine(ctx context.Context) (Engine, error) {
	for _, engine := range o.engines {
		if engine.Available(ctx) {
			return engine, nil
		}
	}
	names := make([]string, 0, len(o.engines))
	for _, engine := range o.engines {
		names = append(names, engine.Name())
	}
	return nil, services.Wrap(services.ErrRender, "rendering", "select engine",
		fmt.Sprintf("no engine available (probed: %s)", strings.Join(names, ", ")), nil)
}

// RenderTrack renders one track to its WAV artifact and returns the rendered
// audio. The artifact's header is parsed back after writing; the WAV is the
// truth the pipeline proceeds with, not the requested parameters.
func (o *Orchestrator) RenderTrack(ctx context.Context, track sources.Track) (*RenderedAudio, string, error) {
	engine, err := o.selectEngine(ctx)
	if err != nil {
		return nil, "", err
	}

	renderCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.Render.RenderTimeout)*time.Second)
	defer cancel()

	req := Request{
		SourcePath: track.Path,
		RelKey:     track.RelKey,
		SubIndex:   track.SubIndex,
		MaxSeconds: o.cfg.Render.MaxSeconds,
		SampleRate: o.cfg.Render.SampleRate,
		ChipModel:  o.cfg.Render.ChipModel,
	}

	start := time.Now()
	audio, err := engine.Render(renderCtx, req)
	if err != nil {
		return nil, "", err
	}
	o.logger.Debug("engine render finished",
		logging.String(logging.FieldJobKey, track.Key()),
		logging.String(logging.FieldEngine, engine.Name()),
		logging.Duration("elapsed", time.Since(start)),
	)

	artifactPath := o.ArtifactPath(track)
	if err := os.MkdirAll(filepath.Dir(artifactPath), 0o755); err != nil {
		return nil, "", services.Wrap(services.ErrRender, "rendering", "create cache directory", "", err)
	}
	if err := wavio.WriteFile(artifactPath, audio.Samples, audio.SampleRate); err != nil {
		return nil, "", services.Wrap(services.ErrRender, "rendering", "write artifact", "", err)
	}

	info, err := wavio.ReadInfo(artifactPath)
	if err != nil {
		return nil, "", services.Wrap(services.ErrRender, "rendering", "verify artifact header", "", err)
	}
	if info.SampleRate != audio.SampleRate {
		return nil, "", services.Wrap(services.ErrValidation, "rendering", "verify artifact header",
			fmt.Sprintf("artifact sample rate %d does not match render %d", info.SampleRate, audio.SampleRate), nil)
	}
	audio.Duration = info.Duration
	audio.Channels = info.Channels

	if err := cacheindex.WriteSidecar(track.Path, artifactPath, o.Params()); err != nil {
		return nil, "", services.Wrap(services.ErrRender, "rendering", "record cache identity", "", err)
	}

	if err := o.registerArtifact(track, audio, artifactPath, "wav"); err != nil {
		return nil, "", err
	}
	o.deriveEncodes(ctx, track, audio, artifactPath)

	return audio, artifactPath, nil
}

// LoadCached reads an existing artifact back for analysis. The artifact is
// never modified, even when it is longer than the configured analysis window.
func (o *Orchestrator) LoadCached(track sources.Track) (*RenderedAudio, string, error) {
	artifactPath := o.ArtifactPath(track)
	samples, rate, err := wavio.ReadFile(artifactPath)
	if err != nil {
		return nil, "", services.Wrap(services.ErrCache, "analyzing", "read cached artifact", "", err)
	}
	return &RenderedAudio{
		Samples:    samples,
		SampleRate: rate,
		Channels:   1,
		Duration:   time.Duration(float64(len(samples)) / float64(rate) * float64(time.Second)),
		Engine:     "cache",
		RenderMode: ModeEmulated,
	}, artifactPath, nil
}

// deriveEncodes produces optional lossless/lossy companions from the WAV
// artifact. Additional formats always derive from the WAV, never from a
// second render. Encode failures are logged, not escalated; compressed
// copies are a convenience, not pipeline truth.
func (o *Orchestrator) deriveEncodes(ctx context.Context, track sources.Track, audio *RenderedAudio, wavPath string) {
	var group errgroup.Group
	if o.cfg.Render.EncodeFlac {
		group.Go(func() error {
			o.runEncoder(ctx, track, audio, wavPath, "flac",
				o.cfg.Render.FlacBinary, "-f", "-s", "-o", wavPath+".flac", wavPath)
			return nil
		})
	}
	if o.cfg.Render.EncodeMp3 {
		group.Go(func() error {
			o.runEncoder(ctx, track, audio, wavPath, "mp3",
				o.cfg.Render.LameBinary, "--quiet", wavPath, wavPath+".mp3")
			return nil
		})
	}
	_ = group.Wait()
}

func (o *Orchestrator) runEncoder(ctx context.Context, track sources.Track, audio *RenderedAudio, wavPath, format, binary string, args ...string) {
	if _, err := exec.LookPath(binary); err != nil {
		o.logger.Debug("encoder unavailable, skipping derived format",
			logging.String("format", format),
			logging.String("binary", binary),
		)
		return
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	if err := cmd.Run(); err != nil {
		o.logger.Warn("derived encode failed",
			logging.String(logging.FieldJobKey, track.Key()),
			logging.String("format", format),
			logging.Error(err),
		)
		return
	}
	if err := o.registerArtifact(track, audio, wavPath+"."+format, format); err != nil {
		o.logger.Warn("derived encode manifest registration failed",
			logging.String(logging.FieldJobKey, track.Key()),
			logging.Error(err),
		)
	}
}

func (o *Orchestrator) registerArtifact(track sources.Track, audio *RenderedAudio, path, format string) error {
	checksum, size, err := fileChecksum(path)
	if err != nil {
		return services.Wrap(services.ErrRender, "rendering", "checksum artifact", "", err)
	}
	entry := manifest.Entry{
		RelSourceKey: track.RelKey,
		SubIndex:     track.SubIndex,
		Format:       format,
		Engine:       audio.Engine,
		RenderMode:   audio.RenderMode,
		DurationMs:   audio.Duration.Milliseconds(),
		SampleRate:   audio.SampleRate,
		Channels:     audio.Channels,
		SizeBytes:    size,
		StoragePath:  path,
		Checksum:     checksum,
	}
	if audio.Capture != nil {
		entry.LossRate = audio.Capture.LossRate
	}
	o.manifest.Upsert(entry)
	return nil
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"chipscore/internal/extractpool"
	"chipscore/internal/jobstore"
	"chipscore/internal/logging"
	"chipscore/internal/manifest"
	"chipscore/internal/pipeline"
	"chipscore/internal/predict"
	"chipscore/internal/render"
	"chipscore/internal/report"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var lanes int
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Render, analyze, and classify every track in the collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if lanes > 0 {
				cfg.Workflow.Lanes = lanes
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}

			store, err := jobstore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			m, err := manifest.Load(cfg.ManifestPath())
			if err != nil {
				return err
			}

			predictor, err := predict.NewFromModelPath(cfg.Predict.ModelPath)
			if err != nil {
				return err
			}
			overlay, err := predict.LoadOverlay(cfg.Predict.ManualRatingsPath)
			if err != nil {
				return err
			}

			pool, err := extractpool.New(
				cfg.Analysis.Workers,
				time.Duration(cfg.Analysis.JobTimeout)*time.Second,
				extractpool.SubprocessFactory(cfg.Analysis.AnalysisRate, workerCommandName),
				logger,
			)
			if err != nil {
				return err
			}
			defer pool.Shutdown()

			coordinator := pipeline.New(cfg, pipeline.Deps{
				Store:     store,
				Manifest:  m,
				Renderer:  render.NewOrchestrator(cfg, render.EnginesFromConfig(cfg), m, logger),
				Pool:      pool,
				Predictor: predictor,
				Overlay:   overlay,
			}, logger)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var progressWG sync.WaitGroup
			if !noProgress && isatty.IsTerminal(os.Stderr.Fd()) {
				snapshots := coordinator.Subscribe()
				progressWG.Add(1)
				go func() {
					defer progressWG.Done()
					renderProgress(snapshots)
				}()
			}

			start := time.Now()
			runErr := coordinator.Run(runCtx)
			progressWG.Wait()

			summary := report.Build(cfg, coordinator.Counters(), coordinator.Failures(), time.Since(start))
			fmt.Fprint(cmd.OutOrStdout(), summary.Render())
			return runErr
		},
	}

	cmd.Flags().IntVar(&lanes, "lanes", 0, "Override the configured lane count")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	return cmd
}

// renderProgress draws a live bar on stderr until the coordinator closes the
// snapshot channel. The bar is created lazily once the total is known.
func renderProgress(snapshots <-chan pipeline.ProgressSnapshot) {
	var bar *progressbar.ProgressBar
	for snap := range snapshots {
		total := snap.Counters.Total
		if total == 0 {
			continue
		}
		if bar == nil {
			bar = progressbar.NewOptions64(int64(total),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("Classifying"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionThrottle(200*time.Millisecond),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetRenderBlankState(true),
			)
		}
		c := snap.Counters
		bar.Describe(fmt.Sprintf("Classifying | %d rendered | %d cached | %d skipped | %d failed",
			c.Rendered, c.CacheHits, c.Skipped, c.Failed))
		_ = bar.Set64(int64(c.Processed + c.Failed))
	}
	if bar != nil {
		_ = bar.Finish()
	}
}

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chipscore/internal/manifest"
)

func newManifestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "Show the rendered asset manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			m, err := manifest.Load(cfg.ManifestPath())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			entries := m.Entries()
			if len(entries) == 0 {
				fmt.Fprintln(out, "Manifest is empty; no assets rendered yet")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			var totalBytes int64
			for _, entry := range entries {
				key := entry.RelSourceKey
				if entry.SubIndex > 0 {
					key = fmt.Sprintf("%s:%d", key, entry.SubIndex)
				}
				rows = append(rows, []string{
					key,
					entry.Format,
					entry.Engine,
					entry.RenderMode,
					fmt.Sprintf("%d Hz", entry.SampleRate),
					humanize.Bytes(uint64(entry.SizeBytes)),
				})
				totalBytes += entry.SizeBytes
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Source", "Format", "Engine", "Mode", "Rate", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			fmt.Fprintf(out, "%d assets, %s on disk\n", len(entries), humanize.Bytes(uint64(totalBytes)))
			return nil
		},
	}
}

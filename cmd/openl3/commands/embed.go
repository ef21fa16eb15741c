package commands

import (
	"fmt"

	"github.com/RyanBlaney/sonido-embed/batch"
	"github.com/RyanBlaney/sonido-embed/embedding"
	"github.com/spf13/cobra"
)

func newEmbedCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed <file>...",
		Short: "Write per-frame embeddings for audio files",
		Long: `Write an .npz archive with "embedding" (frames x size) and "timestamps"
(seconds) arrays for every input file. Unreadable files are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if f.Changed("output-dir") {
				a.cfg.Output.Dir, _ = f.GetString("output-dir")
			}
			if f.Changed("suffix") {
				a.cfg.Output.Suffix, _ = f.GetString("suffix")
			}
			if err := a.applyModelFlags(cmd); err != nil {
				return err
			}

			ex, err := a.extractor()
			if err != nil {
				return err
			}
			defer ex.Close()

			runner, err := batch.NewRunner(a.cfg.Batch)
			if err != nil {
				return err
			}

			stats, err := runner.Embed(cmd.Context(), ex, args, embedding.ProcessOptions{
				Options:   a.cfg.Options(),
				OutputDir: a.cfg.Output.Dir,
				Suffix:    a.cfg.Output.Suffix,
			})
			if stats != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "embedded %d of %d files (%d skipped)\n",
					stats.Processed, stats.Total, len(stats.Skipped))
			}
			return err
		},
	}

	cmd.Flags().String("output-dir", "", "directory for .npz archives (default: next to each input)")
	cmd.Flags().String("suffix", "", "suffix appended to output file names")
	modelFlags(cmd)
	return cmd
}

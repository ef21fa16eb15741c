package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/RyanBlaney/sonido-embed/batch"
	"github.com/RyanBlaney/sonido-embed/logging"
	"github.com/spf13/cobra"
)

func newSummarizeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize <glob>...",
		Short: "Write one averaged embedding per file",
		Long: `Embed every file matching the given patterns, average the frames in the
first --secs seconds and write "<name> v1 v2 ..." lines with three decimals.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			f := cmd.Flags()
			if f.Changed("secs") {
				a.cfg.Summary.Secs, _ = f.GetFloat64("secs")
			}
			if f.Changed("out") {
				a.cfg.Summary.Out, _ = f.GetString("out")
			}
			if err := a.applyModelFlags(cmd); err != nil {
				return err
			}

			files, err := expandGlobs(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files match %v", args)
			}

			var w io.Writer = cmd.OutOrStdout()
			if a.cfg.Summary.Out != "" && a.cfg.Summary.Out != "-" {
				out, cerr := os.Create(a.cfg.Summary.Out)
				if cerr != nil {
					return fmt.Errorf("failed to create summary file: %w", cerr)
				}
				defer func() { err = closeOutput(out, err) }()
				w = out
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

			stats, err := runner.Summarize(cmd.Context(), ex, files, w, batch.SummaryOptions{
				Options: a.cfg.Options(),
				Secs:    a.cfg.Summary.Secs,
			})
			if stats != nil {
				a.log.Info("Summary complete", logging.Fields{
					"processed": stats.Processed,
					"skipped":   len(stats.Skipped),
				})
			}
			return err
		},
	}

	cmd.Flags().String("out", "", "output file (default: stdout)")
	cmd.Flags().Float64("secs", 0, "leading window to average, in seconds")
	modelFlags(cmd)
	return cmd
}

// closeOutput closes c and reports its error unless err is already set
func closeOutput(c io.Closer, err error) error {
	if cerr := c.Close(); cerr != nil && err == nil {
		return fmt.Errorf("failed to close summary file: %w", cerr)
	}
	return err
}

// expandGlobs resolves each pattern in order. Patterns matching nothing are dropped.
func expandGlobs(patterns []string) ([]string, error) {
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

package batch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RyanBlaney/sonido-embed/embedding"
)

// SummaryOptions configures Summarize
type SummaryOptions struct {
	embedding.Options

	// Secs is the length of the leading window averaged per file
	Secs float64
}

// FormatSummaryLine renders "name v1 v2 ..." with three decimals
func FormatSummaryLine(name string, vec []float64) string {
	var b strings.Builder
	b.Grow(len(name) + 8*len(vec))
	b.WriteString(name)
	for _, v := range vec {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(v, 'f', 3, 64))
	}
	return b.String()
}

// Summarize embeds every file, averages the first Secs seconds of frames and
// writes one line per file to w, in input order. Skipped files produce no line.
func (r *Runner) Summarize(ctx context.Context, ex *embedding.Extractor, files []string, w io.Writer, opts SummaryOptions) (*Stats, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Secs < 0 {
		return nil, &embedding.ParameterError{Param: "secs", Message: fmt.Sprintf("window length must be non-negative, got %v", opts.Secs)}
	}

	shard := Shard(files, r.cfg.ShardIndex, r.cfg.ShardCount)
	lines := make([]string, len(shard))

	stats, err := r.Run(ctx, files, func(ctx context.Context, i int, path string) error {
		res, err := ex.EmbedFile(ctx, path, opts.Options)
		if err != nil {
			return err
		}
		vec, err := embedding.Aggregate(res.Embedding, opts.Secs, opts.HopSize)
		if err != nil {
			return err
		}
		lines[i] = FormatSummaryLine(filepath.Base(path), vec)
		return nil
	})
	if err != nil {
		return stats, err
	}

	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return stats, fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return stats, nil
}

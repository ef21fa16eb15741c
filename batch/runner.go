// Package batch fans embedding work out over many audio files.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"sync"
	"time"

	"github.com/RyanBlaney/sonido-embed/embedding"
	"github.com/RyanBlaney/sonido-embed/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config controls parallelism and static sharding. Separate processes given
// the same file list and ShardCount, each with its own ShardIndex, cover every
// file exactly once.
type Config struct {
	Workers    int `json:"workers" yaml:"workers"`
	ShardIndex int `json:"shard_index" yaml:"shard_index"`
	ShardCount int `json:"shard_count" yaml:"shard_count"`
}

// DefaultConfig runs one unsharded process with a worker per CPU
func DefaultConfig() Config {
	return Config{
		Workers:    runtime.NumCPU(),
		ShardIndex: 0,
		ShardCount: 1,
	}
}

// Validate checks the shard coordinates
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.ShardCount < 1 {
		return fmt.Errorf("shard count must be at least 1, got %d", c.ShardCount)
	}
	if c.ShardIndex < 0 || c.ShardIndex >= c.ShardCount {
		return fmt.Errorf("shard index %d out of range [0, %d)", c.ShardIndex, c.ShardCount)
	}
	return nil
}

// Shard returns the files with i % count == index, preserving order
func Shard(files []string, index, count int) []string {
	if count <= 1 {
		return files
	}
	out := make([]string, 0, len(files)/count+1)
	for i, f := range files {
		if i%count == index {
			out = append(out, f)
		}
	}
	return out
}

// FileError records a skipped file
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return e.Path + ": " + e.Err.Error() }

// Stats summarises a run
type Stats struct {
	RunID     string
	Total     int
	Processed int
	Skipped   []FileError
	Duration  time.Duration
}

// Handler processes one file. Index is the file's position within the shard.
type Handler func(ctx context.Context, index int, path string) error

// Runner executes a Handler over a shard of files
type Runner struct {
	cfg    Config
	logger logging.Logger
}

// NewRunner validates cfg
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Runner{
		cfg: cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "batch_runner",
			"shard":     fmt.Sprintf("%d/%d", cfg.ShardIndex, cfg.ShardCount),
		}),
	}, nil
}

// Skippable reports whether err is a per-file data problem. Such files are
// logged and skipped; anything else stops the run.
func Skippable(err error) bool {
	if embedding.IsParameterError(err) {
		return false
	}
	return errors.Is(err, embedding.ErrDecode) ||
		errors.Is(err, embedding.ErrEmptyInput) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}

// Run applies h to this runner's shard of files. The first non-skippable
// error cancels outstanding work and is returned with the partial stats.
func (r *Runner) Run(ctx context.Context, files []string, h Handler) (*Stats, error) {
	start := time.Now()
	shard := Shard(files, r.cfg.ShardIndex, r.cfg.ShardCount)
	stats := &Stats{RunID: uuid.NewString(), Total: len(shard)}

	logger := r.logger.WithFields(logging.Fields{"run_id": stats.RunID})
	logger.Info("Starting batch", logging.Fields{
		"files":   len(shard),
		"of":      len(files),
		"workers": r.cfg.Workers,
	})

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for i, path := range shard {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := h(gctx, i, path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				stats.Processed++
				return nil
			case Skippable(err):
				logger.Warn("Skipping file", logging.Fields{"file": path, "error": err.Error()})
				stats.Skipped = append(stats.Skipped, FileError{Path: path, Err: err})
				return nil
			default:
				logger.Error(err, "Aborting batch", logging.Fields{"file": path})
				return fmt.Errorf("%s: %w", path, err)
			}
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	stats.Duration = time.Since(start)

	logger.Info("Batch finished", logging.Fields{
		"processed": stats.Processed,
		"skipped":   len(stats.Skipped),
		"duration":  stats.Duration.Round(time.Millisecond).String(),
	})
	return stats, err
}

// Embed writes one npz archive per file
func (r *Runner) Embed(ctx context.Context, ex *embedding.Extractor, files []string, opts embedding.ProcessOptions) (*Stats, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return r.Run(ctx, files, func(ctx context.Context, _ int, path string) error {
		_, _, err := ex.ProcessFile(ctx, path, opts)
		return err
	})
}

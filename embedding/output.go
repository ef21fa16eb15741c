package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RyanBlaney/sonido-embed/logging"
	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

const (
	embeddingKey  = "embedding.npy"
	timestampsKey = "timestamps.npy"
)

// OutputPath resolves where the embedding for inputPath is written. The
// input extension is dropped. An empty suffix yields "<stem>.npz", a suffix
// starting with "." is appended as is, and anything else yields
// "<stem>_<suffix>" with ".npz" added when the suffix has no extension of its
// own. A non-empty outputDir replaces the input directory; it is not created.
func OutputPath(inputPath, suffix, outputDir string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var name string
	switch {
	case suffix == "":
		name = stem + ".npz"
	case strings.HasPrefix(suffix, "."):
		name = stem + suffix
	default:
		name = stem + "_" + suffix
		if filepath.Ext(suffix) == "" {
			name += ".npz"
		}
	}

	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	return filepath.Join(dir, name)
}

// WriteNPZ stores the result as an npz archive with an "embedding" matrix and
// a "timestamps" vector. The file is written to a temporary name first so a
// failed write never leaves a partial archive behind.
func WriteNPZ(path string, r *Result) error {
	if r == nil || r.Frames() == 0 {
		return ErrEmptyInput
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := npz.NewWriter(tmp)
	if err := w.Write(embeddingKey, r.Embedding); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write embedding array: %w", err)
	}
	if err := w.Write(timestampsKey, r.Timestamps); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write timestamps array: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to finalize npz archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// ReadNPZ loads an archive written by WriteNPZ
func ReadNPZ(path string) (*Result, error) {
	f, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var emb mat.Dense
	if err := f.Read(embeddingKey, &emb); err != nil {
		return nil, fmt.Errorf("failed to read embedding array: %w", err)
	}
	var ts []float64
	if err := f.Read(timestampsKey, &ts); err != nil {
		return nil, fmt.Errorf("failed to read timestamps array: %w", err)
	}

	return &Result{Embedding: &emb, Timestamps: ts}, nil
}

// ProcessOptions configures ProcessFile
type ProcessOptions struct {
	Options

	// OutputDir receives the archive; empty writes next to the input
	OutputDir string
	// Suffix is inserted between the input stem and ".npz"
	Suffix string
}

// ProcessFile decodes one audio file, embeds it and writes the archive.
// It returns the archive path. Decode failures wrap ErrDecode; nothing is
// written unless extraction succeeds.
func (e *Extractor) ProcessFile(ctx context.Context, path string, opts ProcessOptions) (string, *Result, error) {
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}

	res, err := e.EmbedFile(ctx, path, opts.Options)
	if err != nil {
		return "", nil, err
	}

	out := OutputPath(path, opts.Suffix+".npz", opts.OutputDir)
	if err := WriteNPZ(out, res); err != nil {
		return "", nil, err
	}

	e.logger.Info("Wrote embedding", logging.Fields{
		"input":    path,
		"output":   out,
		"frames":   res.Frames(),
		"warnings": len(res.Warnings),
	})
	return out, res, nil
}

// EmbedFile decodes path and returns its embeddings without writing anything
func (e *Extractor) EmbedFile(ctx context.Context, path string, opts Options) (*Result, error) {
	audio, err := e.decoder.DecodeFile(ctx, path)
	if err != nil {
		return nil, err
	}
	audio.Source = path
	return e.GetEmbedding(ctx, audio, opts)
}

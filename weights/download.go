package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RyanBlaney/sonido-embed/logging"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
)

// Report summarises a download run
type Report struct {
	Downloaded []string `json:"downloaded"`
	Present    []string `json:"present"`
	Bytes      int64    `json:"bytes"`
}

// Downloader makes sure every configured weight file exists in the model
// directory. Files already present are left alone.
type Downloader struct {
	cfg    Config
	source Source
	logger logging.Logger
}

// NewDownloader validates cfg. A nil source is built from cfg.
func NewDownloader(cfg Config, source Source) (*Downloader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		var err error
		if source, err = NewSource(cfg); err != nil {
			return nil, err
		}
	}
	return &Downloader{
		cfg:    cfg,
		source: source,
		logger: logging.WithFields(logging.Fields{
			"component": "weights_downloader",
			"model_dir": cfg.ModelDir,
		}),
	}, nil
}

// Download fetches and unpacks each missing weight file
func (d *Downloader) Download(ctx context.Context) (*Report, error) {
	if err := os.MkdirAll(d.cfg.ModelDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}

	report := &Report{}
	for _, f := range d.cfg.Files() {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		name := f.Name(d.cfg.Ext)
		target := filepath.Join(d.cfg.ModelDir, name)
		if _, err := os.Stat(target); err == nil {
			report.Present = append(report.Present, name)
			continue
		}

		n, err := d.fetch(ctx, f, target)
		if err != nil {
			d.logger.Error(err, "Failed to install weight file", logging.Fields{"file": name})
			return report, err
		}
		report.Downloaded = append(report.Downloaded, name)
		report.Bytes += n
	}

	d.logger.Info("Weight files ready", logging.Fields{
		"downloaded": len(report.Downloaded),
		"present":    len(report.Present),
		"size":       humanize.Bytes(uint64(report.Bytes)),
	})
	return report, nil
}

// fetch installs one file and returns the decompressed size. A compressed
// archive left in the model directory by an earlier run is reused; if it
// turns out to be corrupt it is fetched again once. Archives that fail to
// decompress are removed.
func (d *Downloader) fetch(ctx context.Context, f File, target string) (int64, error) {
	compressedName := f.CompressedName(d.cfg.Version, d.cfg.Ext)
	compressed := filepath.Join(d.cfg.ModelDir, compressedName)

	_, statErr := os.Stat(compressed)
	reused := statErr == nil
	if !reused {
		if err := d.download(ctx, compressedName, compressed); err != nil {
			return 0, err
		}
	}

	n, err := d.unpack(compressed, target)
	if err != nil && reused {
		d.logger.Warn("Cached archive is corrupt, downloading again", logging.Fields{
			"file":  compressedName,
			"error": err.Error(),
		})
		if err := d.download(ctx, compressedName, compressed); err != nil {
			return 0, err
		}
		n, err = d.unpack(compressed, target)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decompress %s: %w", compressedName, err)
	}

	if err := os.Remove(compressed); err != nil {
		return 0, fmt.Errorf("failed to remove %s: %w", compressedName, err)
	}
	d.logger.Info("Installed weight file", logging.Fields{
		"file": filepath.Base(target),
		"size": humanize.Bytes(uint64(n)),
	})
	return n, nil
}

func (d *Downloader) download(ctx context.Context, name, dst string) error {
	d.logger.Info("Downloading weight file", logging.Fields{"file": name})
	n, err := d.saveCompressed(ctx, name, dst)
	if err != nil {
		return err
	}
	d.logger.Debug("Download complete", logging.Fields{
		"file": name,
		"size": humanize.Bytes(uint64(n)),
	})
	return nil
}

// unpack decompresses src into dst and removes src when it is unreadable
func (d *Downloader) unpack(src, dst string) (int64, error) {
	n, err := decompress(src, dst)
	if err != nil {
		if rerr := os.Remove(src); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			d.logger.Error(rerr, "Failed to remove corrupt archive", logging.Fields{"file": filepath.Base(src)})
		}
		return 0, err
	}
	return n, nil
}

func (d *Downloader) saveCompressed(ctx context.Context, name, dst string) (int64, error) {
	body, size, err := d.source.Fetch(ctx, name)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := writeFileAtomic(dst, body)
	if err != nil {
		return 0, fmt.Errorf("failed to save %s: %w", name, err)
	}
	if size >= 0 && n != size {
		os.Remove(dst)
		return 0, fmt.Errorf("short download of %s: got %d of %d bytes", name, n, size)
	}
	return n, nil
}

func decompress(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	return writeFileAtomic(dst, zr)
}

// writeFileAtomic copies r into dst through a temporary sibling file
func writeFileAtomic(dst string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	return n, os.Rename(tmp.Name(), dst)
}

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/RyanBlaney/sonido-embed/config"
	"github.com/RyanBlaney/sonido-embed/embedding"
	"github.com/RyanBlaney/sonido-embed/logging"
	"github.com/RyanBlaney/sonido-embed/models"
	"github.com/RyanBlaney/sonido-embed/transcode"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries state shared by every subcommand of one invocation
type app struct {
	v   *viper.Viper
	cfg *config.Config
	log logging.Logger
}

// Execute runs the CLI with signal-aware cancellation
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Persistent flags may also be set
// through OPENL3_* environment variables, e.g. OPENL3_LOG_LEVEL=debug.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "openl3",
		Short: "Extract deep audio embeddings with pretrained OpenL3 models",
		Long: `openl3 - audio embedding extraction.

Audio is decoded, down-mixed to mono, resampled to 48 kHz and cut into
one-second frames that are run through a pretrained network. Models are
served either from local ONNX graphs or from a remote inference server.

Examples:
  # Per-frame embeddings next to each input
  openl3 embed audio/*.wav

  # One averaged vector per file for the first 5 seconds
  openl3 summarize 'audio/*.wav' --out embeds.txt --secs 5 --hop-size 0.5

  # Fetch weight files through a proxy
  openl3 download --model-dir pretrained_models --proxy dev-proxy:8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")

	a.v.SetEnvPrefix("openl3")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(flags); err != nil {
		panic(err)
	}

	root.AddCommand(
		newEmbedCommand(a),
		newSummarizeCommand(a),
		newDownloadCommand(a),
	)
	return root
}

// init loads configuration and installs the global logger
func (a *app) init() error {
	cfg := config.Default()
	if path := a.v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if level := a.v.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := a.v.GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	logging.SetGlobalLogger(logger)

	a.cfg = cfg
	a.log = logger.WithFields(logging.Fields{"component": "cli"})
	return nil
}

// extractor builds an extractor over the configured backend
func (a *app) extractor() (*embedding.Extractor, error) {
	loader, err := models.NewLoader(a.cfg.Backend, nil)
	if err != nil {
		return nil, err
	}
	decoder := a.cfg.Decoder
	return embedding.NewExtractor(loader, embedding.WithDecoder(transcode.NewDecoder(&decoder))), nil
}

// modelFlags registers flags that override the model and backend sections
func modelFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("input-repr", "", "spectrogram front end (linear, mel128, mel256)")
	f.String("content-type", "", "training domain (music, env)")
	f.String("embedding-size", "", "embedding dimensionality (512, 6144)")
	f.Float64("hop-size", 0, "hop between frames in seconds")
	f.Bool("center", true, "centre frames on their timestamps")
	f.Int("batch-size", 0, "frames per inference call")
	f.String("backend", "", "model backend (onnx, remote)")
	f.String("model-dir", "", "model directory shared with the download command")
	f.String("server", "", "inference server base url for the remote backend")
	f.Int("workers", 0, "parallel workers")
	f.Int("shard-index", 0, "index of this process's shard")
	f.Int("shard-count", 0, "total number of shards")
}

// applyModelFlags copies explicitly set flags over the config and revalidates
func (a *app) applyModelFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	cfg := a.cfg

	if f.Changed("input-repr") {
		s, _ := f.GetString("input-repr")
		cfg.Model.InputRepr = embedding.InputRepr(s)
	}
	if f.Changed("content-type") {
		s, _ := f.GetString("content-type")
		cfg.Model.ContentType = embedding.ContentType(s)
	}
	if f.Changed("embedding-size") {
		s, _ := f.GetString("embedding-size")
		size, err := embedding.ParseEmbeddingSize(s)
		if err != nil {
			return err
		}
		cfg.Model.EmbeddingSize = size
	}
	if f.Changed("hop-size") {
		cfg.Extraction.HopSize, _ = f.GetFloat64("hop-size")
	}
	if f.Changed("center") {
		cfg.Extraction.Center, _ = f.GetBool("center")
	}
	if f.Changed("batch-size") {
		cfg.Extraction.BatchSize, _ = f.GetInt("batch-size")
	}
	if f.Changed("backend") {
		s, _ := f.GetString("backend")
		cfg.Backend.Backend = models.Backend(s)
	}
	if f.Changed("model-dir") {
		dir, _ := f.GetString("model-dir")
		cfg.SetModelDir(dir)
	}
	if f.Changed("server") {
		cfg.Backend.Remote.BaseURL, _ = f.GetString("server")
	}
	if f.Changed("workers") {
		cfg.Batch.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("shard-index") {
		cfg.Batch.ShardIndex, _ = f.GetInt("shard-index")
	}
	if f.Changed("shard-count") {
		cfg.Batch.ShardCount, _ = f.GetInt("shard-count")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

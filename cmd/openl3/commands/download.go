package commands

import (
	"fmt"

	"github.com/RyanBlaney/sonido-embed/weights"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newDownloadCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch and unpack pretrained weight files",
		Long: `Download every missing openl3_<modality>_<repr>_<content> weight file,
decompress it into the model directory and remove the archive. Files already
present are left untouched. The onnx backend of embed and summarize loads
graphs from the same directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			w := &a.cfg.Weights
			if f.Changed("model-dir") {
				dir, _ := f.GetString("model-dir")
				a.cfg.SetModelDir(dir)
			}
			if f.Changed("base-url") {
				w.BaseURL, _ = f.GetString("base-url")
			}
			if f.Changed("proxy") {
				w.Proxy, _ = f.GetString("proxy")
			}
			if f.Changed("source") {
				w.Source, _ = f.GetString("source")
			}
			if f.Changed("bucket") {
				w.S3.Bucket, _ = f.GetString("bucket")
			}
			if f.Changed("version") {
				w.Version, _ = f.GetString("version")
			}
			if f.Changed("modality") {
				w.Modalities, _ = f.GetStringSlice("modality")
			}

			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			d, err := weights.NewDownloader(*w, nil)
			if err != nil {
				return err
			}
			report, err := d.Download(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d downloaded (%s), %d already present in %s\n",
				len(report.Downloaded), humanize.Bytes(uint64(report.Bytes)), len(report.Present), w.ModelDir)
			return nil
		},
	}

	f := cmd.Flags()
	f.String("model-dir", "", "model directory shared with embed and summarize")
	f.String("base-url", "", "base url of the compressed weight files")
	f.String("proxy", "", "http proxy used for downloads only")
	f.String("source", "", "weight source (http, s3)")
	f.String("bucket", "", "bucket for the s3 source")
	f.String("version", "", "weight release version")
	f.StringSlice("modality", nil, "modalities to fetch (audio, image)")
	return cmd
}

package weights

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/gzip"
)

func gzipped(t *testing.T, payload string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(payload)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func smallConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.ModelDir = dir
	cfg.Modalities = []string{"audio"}
	cfg.InputReprs = []string{"mel256"}
	cfg.ContentTypes = []string{"music", "env"}
	return cfg
}

func TestFiles(t *testing.T) {
	files := DefaultConfig().Files()
	if len(files) != 12 {
		t.Fatalf("got %d files, want 12", len(files))
	}
	if got := files[0].Name("h5"); got != "openl3_audio_linear_music.h5" {
		t.Fatalf("first file = %q", got)
	}
	if got := files[11].Name("h5"); got != "openl3_image_mel256_env.h5" {
		t.Fatalf("last file = %q", got)
	}
	if got := files[0].CompressedName("v0_2_0", "h5"); got != "openl3_audio_linear_music-v0_2_0.h5.gz" {
		t.Fatalf("compressed name = %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no dir", func(c *Config) { c.ModelDir = "" }},
		{"no version", func(c *Config) { c.Version = "" }},
		{"no modalities", func(c *Config) { c.Modalities = nil }},
		{"unknown source", func(c *Config) { c.Source = "ftp" }},
		{"http without url", func(c *Config) { c.BaseURL = "" }},
		{"s3 without bucket", func(c *Config) { c.Source = SourceS3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestDownloadHTTP(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		name := strings.TrimPrefix(r.URL.Path, "/models/")
		if !strings.HasSuffix(name, "-v0_2_0.h5.gz") {
			http.NotFound(w, r)
			return
		}
		w.Write(gzipped(t, "weights:"+name))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := smallConfig(dir)
	cfg.BaseURL = srv.URL + "/models"

	d, err := NewDownloader(cfg, nil)
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}
	report, err := d.Download(context.Background())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(report.Downloaded) != 2 || len(report.Present) != 0 {
		t.Fatalf("report = %+v", report)
	}

	got, err := os.ReadFile(filepath.Join(dir, "openl3_audio_mel256_env.h5"))
	if err != nil {
		t.Fatalf("read weights: %v", err)
	}
	if string(got) != "weights:openl3_audio_mel256_env-v0_2_0.h5.gz" {
		t.Fatalf("weights = %q", got)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.gz"))
	if len(leftovers) != 0 {
		t.Fatalf("compressed files left behind: %v", leftovers)
	}

	// second run finds everything in place
	report, err = d.Download(context.Background())
	if err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if len(report.Present) != 2 || len(report.Downloaded) != 0 {
		t.Fatalf("second report = %+v", report)
	}
	if requests.Load() != 2 {
		t.Fatalf("server saw %d requests, want 2", requests.Load())
	}
}

func TestDownloadReusesCompressedFile(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(dir)
	cfg.ContentTypes = []string{"music"}

	f := cfg.Files()[0]
	archive := filepath.Join(dir, f.CompressedName(cfg.Version, cfg.Ext))
	if err := os.WriteFile(archive, gzipped(t, "cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewDownloader(cfg, failingSource{})
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}
	if _, err := d.Download(context.Background()); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, f.Name(cfg.Ext)))
	if string(got) != "cached" {
		t.Fatalf("weights = %q, want cached", got)
	}
}

type failingSource struct{}

func (failingSource) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New("network disabled")
}

func TestDownloadMissingRemote(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := smallConfig(t.TempDir())
	cfg.BaseURL = srv.URL
	d, err := NewDownloader(cfg, nil)
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}
	if _, err := d.Download(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestDownloadCorruptArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not gzip"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := smallConfig(dir)
	cfg.BaseURL = srv.URL
	d, _ := NewDownloader(cfg, nil)
	if _, err := d.Download(context.Background()); err == nil {
		t.Fatal("expected decompression error")
	}
	if _, err := os.Stat(filepath.Join(dir, "openl3_audio_mel256_music.h5")); !os.IsNotExist(err) {
		t.Fatal("no weight file may be installed from a corrupt archive")
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.gz"))
	if len(leftovers) != 0 {
		t.Fatalf("corrupt archives left behind: %v", leftovers)
	}
}

func TestDownloadRecoversAfterCorruptArchive(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Write([]byte("<html>bad gateway</html>"))
			return
		}
		w.Write(gzipped(t, "good"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := smallConfig(dir)
	cfg.ContentTypes = []string{"music"}
	cfg.BaseURL = srv.URL
	d, err := NewDownloader(cfg, nil)
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}

	if _, err := d.Download(context.Background()); err == nil {
		t.Fatal("expected decompression error on first run")
	}
	report, err := d.Download(context.Background())
	if err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if len(report.Downloaded) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if hits.Load() != 2 {
		t.Fatalf("server saw %d requests, want 2", hits.Load())
	}
	got, _ := os.ReadFile(filepath.Join(dir, "openl3_audio_mel256_music.h5"))
	if string(got) != "good" {
		t.Fatalf("weights = %q, want good", got)
	}
}

func TestDownloadRefetchesCorruptCachedArchive(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(gzipped(t, "fresh"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := smallConfig(dir)
	cfg.ContentTypes = []string{"music"}
	cfg.BaseURL = srv.URL

	f := cfg.Files()[0]
	truncated := gzipped(t, "cached weights")[:10]
	if err := os.WriteFile(filepath.Join(dir, f.CompressedName(cfg.Version, cfg.Ext)), truncated, 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewDownloader(cfg, nil)
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}
	if _, err := d.Download(context.Background()); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("server saw %d requests, want 1", hits.Load())
	}
	got, _ := os.ReadFile(filepath.Join(dir, f.Name(cfg.Ext)))
	if string(got) != "fresh" {
		t.Fatalf("weights = %q, want fresh", got)
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func TestDownloadS3(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(dir)
	cfg.Source = SourceS3
	cfg.S3 = S3Config{Bucket: "weights", Prefix: "/openl3/"}

	client := &fakeS3{objects: map[string][]byte{
		"weights/openl3/openl3_audio_mel256_music-v0_2_0.h5.gz": gzipped(t, "music"),
		"weights/openl3/openl3_audio_mel256_env-v0_2_0.h5.gz":   gzipped(t, "env"),
	}}

	d, err := NewDownloader(cfg, NewS3Source(client, cfg.S3.Bucket, cfg.S3.Prefix))
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}
	report, err := d.Download(context.Background())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(report.Downloaded) != 2 {
		t.Fatalf("report = %+v", report)
	}

	src := NewS3Source(client, "weights", "")
	if _, _, err := src.Fetch(context.Background(), "missing.gz"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestNewHTTPClientProxy(t *testing.T) {
	client, err := NewHTTPClient("dev-proxy.example.com:8080", 0)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	transport := client.Transport.(*http.Transport)
	req, _ := http.NewRequest(http.MethodGet, "https://github.com/", nil)
	u, err := transport.Proxy(req)
	if err != nil || u == nil || u.Host != "dev-proxy.example.com:8080" {
		t.Fatalf("proxy = %v, %v", u, err)
	}

	direct, _ := NewHTTPClient("", 0)
	if direct.Transport.(*http.Transport) == http.DefaultTransport.(*http.Transport) {
		t.Fatal("client must not share the default transport")
	}
}

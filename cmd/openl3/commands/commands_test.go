package commands

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func writeWAV(t *testing.T, path string, seconds float64) {
	t.Helper()
	const rate = 48000
	n := int(seconds * rate)

	var data bytes.Buffer
	for i := 0; i < n; i++ {
		binary.Write(&data, binary.LittleEndian, int16(16000*math.Sin(2*math.Pi*330*float64(i)/rate)))
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len()))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

// newInferenceServer answers predict calls with row[j] = 0.5
func newInferenceServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EmbeddingSize int         `msgpack:"embedding_size"`
			Frames        [][]float32 `msgpack:"frames"`
		}
		if err := msgpack.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([][]float32, len(req.Frames))
		for i := range out {
			row := make([]float32, req.EmbeddingSize)
			for j := range row {
				row[j] = 0.5
			}
			out[i] = row
		}
		msgpack.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
}

func TestSummarizeCommand(t *testing.T) {
	srv := newInferenceServer(t)
	defer srv.Close()

	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "a.wav"), 1.5)
	writeWAV(t, filepath.Join(dir, "b.wav"), 0.3)
	summary := filepath.Join(dir, "embeds.txt")

	_, err := runCLI(t, "summarize", filepath.Join(dir, "*.wav"),
		"--backend", "remote", "--server", srv.URL,
		"--embedding-size", "512", "--secs", "5", "--hop-size", "0.5",
		"--out", summary)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}

	data, err := os.ReadFile(summary)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	fields := strings.Fields(lines[0])
	if fields[0] != "a.wav" || len(fields) != 513 || fields[1] != "0.500" {
		t.Fatalf("line = %.60q...", lines[0])
	}
}

func TestEmbedCommand(t *testing.T) {
	srv := newInferenceServer(t)
	defer srv.Close()

	dir := t.TempDir()
	out := t.TempDir()
	input := filepath.Join(dir, "clip.wav")
	writeWAV(t, input, 1)

	stdout, err := runCLI(t, "embed", input, filepath.Join(dir, "missing.wav"),
		"--backend", "remote", "--server", srv.URL,
		"--embedding-size", "512", "--output-dir", out, "--suffix", "emb")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if !strings.Contains(stdout, "embedded 1 of 2 files (1 skipped)") {
		t.Fatalf("stdout = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(out, "clip_emb.npz")); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
}

func TestEmbedCommandRejectsBadFlags(t *testing.T) {
	tests := [][]string{
		{"embed", "x.wav", "--hop-size", "0"},
		{"embed", "x.wav", "--embedding-size", "100"},
		{"embed", "x.wav", "--input-repr", "mel64"},
		{"embed", "x.wav", "--shard-index", "3", "--shard-count", "2"},
		{"embed"},
	}
	for _, args := range tests {
		if _, err := runCLI(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestDownloadCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zw := gzip.NewWriter(w)
		zw.Write([]byte(r.URL.Path))
		zw.Close()
	}))
	defer srv.Close()

	dir := t.TempDir()
	stdout, err := runCLI(t, "download", "--model-dir", dir, "--base-url", srv.URL, "--modality", "audio")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !strings.HasPrefix(stdout, "6 downloaded") {
		t.Fatalf("stdout = %q", stdout)
	}

	got, err := os.ReadFile(filepath.Join(dir, "openl3_audio_mel128_env.onnx"))
	if err != nil {
		t.Fatalf("read weights: %v", err)
	}
	if string(got) != "/openl3_audio_mel128_env-v0_2_0.onnx.gz" {
		t.Fatalf("weights = %q", got)
	}

	stdout, err = runCLI(t, "download", "--model-dir", dir, "--base-url", srv.URL, "--modality", "audio")
	if err != nil {
		t.Fatalf("second download: %v", err)
	}
	if !strings.HasPrefix(stdout, "0 downloaded") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestLogLevelFromEnvironment(t *testing.T) {
	t.Setenv("OPENL3_LOG_LEVEL", "loud")
	root := NewRootCommand()
	root.SetArgs([]string{"download", "--model-dir", t.TempDir(), "--base-url", "http://127.0.0.1:1"})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown log level") {
		t.Fatalf("err = %v, want unknown log level", err)
	}
}

func TestConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("extraction:\n  hop_size: -2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "download", "--config", path); err == nil {
		t.Fatal("expected config validation error")
	}
}

type closeErrWriter struct{ err error }

func (c closeErrWriter) Close() error { return c.err }

func TestCloseOutput(t *testing.T) {
	errDisk := errors.New("disk full")
	errRun := errors.New("run failed")

	tests := []struct {
		name     string
		closeErr error
		runErr   error
		want     error
	}{
		{"clean", nil, nil, nil},
		{"close fails", errDisk, nil, errDisk},
		{"run error wins", errDisk, errRun, errRun},
		{"run error kept", nil, errRun, errRun},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := closeOutput(closeErrWriter{tt.closeErr}, tt.runErr)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("err = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

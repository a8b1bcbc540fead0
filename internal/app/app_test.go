package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirwatch/internal/capture"
	"mirwatch/internal/config"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Capture.Format = "pipe"
	cfg.Capture.Device = "-"
	cfg.Capture.Width = 16
	cfg.Capture.Height = 8
	cfg.Archive.Dir = filepath.Join(t.TempDir(), "out")
	cfg.Archive.RotationInterval = time.Hour
	cfg.Archive.MaxFiles = 3
	return cfg
}

func TestNewSource(t *testing.T) {
	testCases := []struct {
		name      string
		capture   config.CaptureConfig
		expectErr bool
	}{
		{"標準入力", config.CaptureConfig{Format: "pipe", Device: "-"}, false},
		{"存在しないファイル", config.CaptureConfig{Format: "pipe", Device: "/nonexistent/input.mjpeg"}, true},
		{"V4L2", config.CaptureConfig{Format: "v4l2", Device: "/dev/video0", Width: 640, Height: 480, FPS: 24}, false},
		{"X11", config.CaptureConfig{Format: "x11grab", Device: ":0.0", Width: 640, Height: 480, FPS: 24}, false},
		{"未知のフォーマット", config.CaptureConfig{Format: "rtsp"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			source, closeFn, err := NewSource(context.Background(), tc.capture, strings.NewReader(""), nil)
			defer func() { _ = closeFn() }()

			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, source)
		})
	}
}

func TestNew_CreatesArchiveDir(t *testing.T) {
	cfg := testConfig(t)
	source := capture.NewReaderSource(strings.NewReader(""))

	a, err := New(cfg, source, nil)
	require.NoError(t, err)

	info, err := os.Stat(cfg.Archive.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// 最初のファイルは Run で待ち受けを確保してから開く
	status := a.scheduler.Status()
	assert.Nil(t, status.Current)
	entries, err := os.ReadDir(cfg.Archive.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.NoError(t, a.closeArchive())
}

func TestNew_ArchiveDirFailure(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Archive.Dir = filepath.Join(blocker, "out")

	_, err := New(cfg, capture.NewReaderSource(strings.NewReader("")), nil)
	assert.Error(t, err)
}

// 映像源が終わると全体が停止し、録画したファイルが1つ残る
func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t)

	var input bytes.Buffer
	for i := 0; i < 5; i++ {
		input.Write(testJPEG(t, 16, 8))
	}
	source := capture.NewReaderSource(&input)

	a, err := New(cfg, source, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(8 * time.Second):
		t.Fatal("映像源の終了後も停止しない")
	}

	assert.Equal(t, uint64(5), a.bus.Generation())

	entries, err := os.ReadDir(cfg.Archive.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(cfg.Archive.Dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
}

func TestRun_WithoutArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = false

	a, err := New(cfg, capture.NewReaderSource(bytes.NewReader(testJPEG(t, 16, 8))), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	assert.Equal(t, uint64(1), a.bus.Generation())
	_, err = os.Stat(cfg.Archive.Dir)
	assert.True(t, os.IsNotExist(err), "録画しないならディレクトリも作らない")
}

// countingSource は Run が呼ばれたかを記録する映像源
type countingSource struct {
	checked bool
	ran    bool
}

func (s *countingSource) Probe(context.Context) error {
	s.checked = true
	return nil
}

func (s *countingSource) Run(context.Context, capture.FrameHandler) error {
	s.ran = true
	return nil
}

// ポートが使用中なら、保持上限に達したアーカイブには何もせず映像源も動かさない
func TestRun_PortInUseLeavesArchiveUntouched(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testConfig(t)
	cfg.Server.Port = occupied.Addr().(*net.TCPAddr).Port
	require.NoError(t, os.MkdirAll(cfg.Archive.Dir, 0o755))

	existing := []string{
		"2000-01-01_00-00-00.000.avi",
		"2000-01-02_00-00-00.000.avi",
		"2000-01-03_00-00-00.000.avi",
	}
	for _, name := range existing {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Archive.Dir, name), []byte("RIFF"), 0o644))
	}

	source := &countingSource{}
	a, err := New(cfg, source, nil)
	require.NoError(t, err)

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ポートの確保に失敗")

	assert.False(t, source.checked, "映像源の確認より先に失敗するはず")
	assert.False(t, source.ran, "キャプチャは始まらないはず")

	entries, err := os.ReadDir(cfg.Archive.Dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	assert.Equal(t, existing, names, "既存の録画は消されず、新しいファイルも作られないはず")
}

// failingSource はテストに失敗する映像源
type failingSource struct{}

func (failingSource) Probe(context.Context) error { return errors.New("no camera") }

func (failingSource) Run(context.Context, capture.FrameHandler) error { return nil }

func TestRun_ProbeFailure(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, failingSource{}, nil)
	require.NoError(t, err)

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "映像源のテストに失敗")

	// 最初のファイルは作られない
	entries, err := os.ReadDir(cfg.Archive.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// InputFormat は ffmpeg の入力フォーマット
type InputFormat string

const (
	// InputV4L2 はUSBカメラ等のV4L2デバイス
	InputV4L2 InputFormat = "v4l2"
	// InputX11 はX11画面キャプチャ
	InputX11 InputFormat = "x11grab"
)

// FFmpegSource は ffmpeg を子プロセスとして起動し、MJPEG を読み取る Source
type FFmpegSource struct {
	format   InputFormat
	device   string // /dev/video0 や :0.0
	width    int
	height   int
	fps      int
	rotation int // 0, 90, 180, 270
	logger   *slog.Logger
}

// Settings は FFmpegSource の設定
type Settings struct {
	Format   InputFormat
	Device   string
	Width    int
	Height   int
	FPS      int
	Rotation int
}

// NewFFmpegSource は新しいFFmpegSourceを作成する
func NewFFmpegSource(settings Settings, logger *slog.Logger) *FFmpegSource {
	if logger == nil {
		logger = slog.Default()
	}
	format := settings.Format
	if format == "" {
		format = InputV4L2
	}
	return &FFmpegSource{
		format:   format,
		device:   settings.Device,
		width:    settings.Width,
		height:   settings.Height,
		fps:      settings.FPS,
		rotation: settings.Rotation,
		logger:   logger,
	}
}

// Probe はデバイスの存在を確認し、1フレームのテストキャプチャを行う
func (s *FFmpegSource) Probe(ctx context.Context) error {
	if s.format == InputV4L2 {
		if err := checkDevice(s.device); err != nil {
			return err
		}
	}

	// タイムアウト付きでテストキャプチャ
	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(testCtx, "ffmpeg", s.args(1)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("テストキャプチャに失敗: %w (stderr: %s)", err, stderr.String())
	}
	if !bytes.HasPrefix(stdout.Bytes(), markerSOI) {
		return fmt.Errorf("テストキャプチャの出力がJPEGではありません (%d bytes)", stdout.Len())
	}
	return nil
}

// Run は ffmpeg を起動し、終了するまでフレームを handler に渡す
func (s *FFmpegSource) Run(ctx context.Context, handler FrameHandler) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", s.args(0)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderrパイプの作成に失敗: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}
	s.logger.Info("キャプチャを開始しました", "format", s.format, "device", s.device,
		"width", s.width, "height", s.height, "fps", s.fps)

	// stderrを別goroutineで読み取り
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			s.logger.Debug("ffmpeg", "stderr", sc.Text())
		}
	}()

	scanErr := scanFrames(ctx, stdout, handler)
	waitErr := cmd.Wait()

	// キャンセルによる終了はエラーにしない
	if ctx.Err() != nil {
		return nil
	}
	if scanErr != nil {
		return scanErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpegが異常終了しました: %w", waitErr)
	}
	return nil
}

// args は ffmpeg の引数を組み立てる。frames > 0 ならその枚数で終了する
func (s *FFmpegSource) args(frames int) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", string(s.format),
		"-video_size", fmt.Sprintf("%dx%d", s.width, s.height),
		"-r", strconv.Itoa(s.fps),
		"-i", s.device,
	}

	if filter := rotationFilter(s.rotation); filter != "" {
		args = append(args, "-vf", filter)
	}
	if frames > 0 {
		args = append(args, "-vframes", strconv.Itoa(frames))
	}

	return append(args,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
}

// rotationFilter は回転角度を ffmpeg のフィルタに変換する
func rotationFilter(degrees int) string {
	switch degrees {
	case 90:
		return "transpose=1"
	case 180:
		return "hflip,vflip"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}

// checkDevice はデバイスファイルが存在し読み取れるか確認する
func checkDevice(device string) error {
	if _, err := os.Stat(device); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("デバイスが見つかりません: %s", device)
		}
		return fmt.Errorf("デバイスの確認に失敗 (%s): %w", device, err)
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("デバイスを開けません (%s): %w", device, err)
	}
	return file.Close()
}

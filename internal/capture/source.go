package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

// 1フレームの上限サイズ
const maxFrameSize = 16 << 20

// FrameHandler は取り出したフレームを受け取る。
// data は呼び出しごとに新しく確保されたスライス。
type FrameHandler func(data []byte, ts time.Time)

// Source はフレームの供給元
type Source interface {
	// Probe は映像源が使えるか確認する
	Probe(ctx context.Context) error

	// Run はフレームを取り出して handler に渡し続ける。
	// ctx のキャンセルか映像源の終了まで戻らない。
	Run(ctx context.Context, handler FrameHandler) error
}

// ReaderSource は io.Reader に流れる MJPEG を読む Source。
// 例: libcamera-vid --codec mjpeg -o - | mirwatch --input -
type ReaderSource struct {
	r io.Reader
}

// NewReaderSource は新しいReaderSourceを作成する
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

// Probe は常に成功する
func (s *ReaderSource) Probe(_ context.Context) error {
	return nil
}

// Run はEOFまでフレームを読み出す
func (s *ReaderSource) Run(ctx context.Context, handler FrameHandler) error {
	return scanFrames(ctx, s.r, handler)
}

// scanFrames は r からJPEGフレームを分割して handler に渡す
func scanFrames(ctx context.Context, r io.Reader, handler FrameHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameSize)
	scanner.Split(ScanJPEG)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		handler(bytes.Clone(scanner.Bytes()), time.Now())
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("フレーム読み取りエラー: %w", err)
	}
	return nil
}

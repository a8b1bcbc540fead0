package framebus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed はバスが閉じられたことを表す
var ErrClosed = errors.New("framebus: closed")

// Frame は1枚のエンコード済み画像
type Frame struct {
	Data      []byte    // JPEG画像データ（読み取り専用）
	Timestamp time.Time // キャプチャ時刻
}

// Bus は最新フレームと世代番号を保持するブロードキャスト点
type Bus struct {
	mu         sync.Mutex
	current    Frame
	generation uint64
	// wake は Publish のたびに close して差し替える
	wake   chan struct{}
	closed bool
}

// New は新しいBusを作成する
func New() *Bus {
	return &Bus{
		wake: make(chan struct{}),
	}
}

// Publish はフレームを最新として保存し、待機中の読み手を全て起こす。
// data はコピーされるので呼び出し側は再利用してよい。
// 戻り値は新しい世代番号。Close 後は何もせず最後の世代を返す。
func (b *Bus) Publish(data []byte, ts time.Time) uint64 {
	buf := make([]byte, len(data))
	copy(buf, data)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return b.generation
	}

	b.current = Frame{Data: buf, Timestamp: ts}
	b.generation++

	close(b.wake)
	b.wake = make(chan struct{})

	return b.generation
}

// AwaitNext は lastSeen より新しい世代が公開されるまでブロックし、
// その時点の最新フレームと世代番号を返す。
func (b *Bus) AwaitNext(ctx context.Context, lastSeen uint64) (Frame, uint64, error) {
	for {
		b.mu.Lock()
		if b.generation > lastSeen {
			frame, gen := b.current, b.generation
			b.mu.Unlock()
			return frame, gen, nil
		}
		if b.closed {
			b.mu.Unlock()
			return Frame{}, lastSeen, ErrClosed
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return Frame{}, lastSeen, ctx.Err()
		}
	}
}

// Latest は最新フレームを返す。まだ一度も公開されていなければ false
func (b *Bus) Latest() (Frame, uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.generation, b.generation > 0
}

// Generation は現在の世代番号を返す
func (b *Bus) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Close はバスを閉じ、待機中の読み手を全て解放する。複数回呼んでもよい
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.wake)
}

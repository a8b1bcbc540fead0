package archive

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"mirwatch/internal/framebus"
)

// NameLayout はアーカイブファイル名の時刻フォーマット。辞書順が時刻順になる
const NameLayout = "2006-01-02_15-04-05.000"

// Scheduler はフレームが届くたびに経過時間を調べ、必要ならローテーションしてから
// フレームを書き込む。呼び出しはキャプチャのゴルーチン1つに限る。
type Scheduler struct {
	writer   *Writer
	dir      string
	ext      string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// ファイルを開けなかったときの次回再試行時刻
	retryAt time.Time
}

// Status はアーカイブの現在状態
type Status struct {
	Current  *Session `json:"current,omitempty"`
	Files    []string `json:"files"`
	MaxFiles int      `json:"max_files"`
	Interval string   `json:"rotation_interval"`
}

// NewScheduler は新しいSchedulerを作成する
func NewScheduler(writer *Writer, dir, ext string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		writer:   writer,
		dir:      dir,
		ext:      ext,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock は Scheduler と Writer の時刻の取得元を差し替える
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
	s.writer.SetClock(now)
}

// Start は最初のアーカイブファイルを開く。失敗は起動時エラーとして扱う
func (s *Scheduler) Start() error {
	if _, err := s.writer.Rotate(s.pathAt(s.now())); err != nil {
		return fmt.Errorf("最初のアーカイブファイルを開けません: %w", err)
	}
	return nil
}

// OnFrame は必要ならローテーションし、フレームを現在のファイルに書き込む
func (s *Scheduler) OnFrame(frame framebus.Frame) error {
	now := s.now()

	// ファイル名はキャプチャ時刻から作る
	stamp := frame.Timestamp
	if stamp.IsZero() {
		stamp = now
	}
	path := s.pathAt(stamp)

	if s.shouldRotate(now, path) {
		if _, err := s.writer.Rotate(path); err != nil {
			// 次のローテーション時刻まではアーカイブを諦める
			s.retryAt = now.Add(s.interval)
			s.logger.Error("ローテーションに失敗しました", "path", path, "retry_at", s.retryAt, "error", err)
			return err
		}
	}

	return s.writer.Append(frame)
}

// shouldRotate はローテーションが必要か判定する
func (s *Scheduler) shouldRotate(now time.Time, path string) bool {
	session, ok := s.writer.Current()
	if !ok {
		return !now.Before(s.retryAt)
	}

	// 空のファイルは作らない
	if session.Frames == 0 {
		return false
	}

	if now.Sub(session.OpenedAt) < s.interval {
		return false
	}

	// 同じ名前になる場合は次のフレームまで待つ
	return path != session.Path
}

// pathAt は時刻からアーカイブファイルのパスを作る
func (s *Scheduler) pathAt(t time.Time) string {
	return filepath.Join(s.dir, t.Format(NameLayout)+s.ext)
}

// Status は現在の状態を返す
func (s *Scheduler) Status() Status {
	status := Status{
		Files:    []string{},
		Interval: s.interval.String(),
	}
	if session, ok := s.writer.Current(); ok {
		status.Current = &session
	}
	if s.writer.retention != nil {
		status.Files = s.writer.retention.Files()
		status.MaxFiles = s.writer.retention.MaxCount()
	}
	return status
}

// Close は現在のファイルを閉じる
func (s *Scheduler) Close() error {
	return s.writer.Close()
}

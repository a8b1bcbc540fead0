package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"mirwatch/internal/metrics"
)

// Retention はアーカイブディレクトリのファイル一覧を古い順に保持し、
// 上限を超えた古いファイルを削除する。
// 一覧は起動時に1回だけディレクトリを走査し、以後は差分で更新する。
type Retention struct {
	mu       sync.Mutex
	dir      string
	ext      string
	maxCount int
	files    []string // 古い順（ファイル名の辞書順）

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRetention は新しいRetentionを作成する
func NewRetention(dir, ext string, maxCount int, logger *slog.Logger) *Retention {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		dir:      dir,
		ext:      ext,
		maxCount: maxCount,
		logger:   logger,
	}
}

// SetMetrics はメトリクスの記録先を設定する
func (r *Retention) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Load はディレクトリを走査して一覧を作り直す
func (r *Retention) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("アーカイブディレクトリの読み取りに失敗: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && filepath.Ext(entry.Name()) == r.ext {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	r.mu.Lock()
	r.files = files
	r.mu.Unlock()

	r.logger.Debug("アーカイブ一覧を読み込みました", "dir", r.dir, "files", len(files))
	return nil
}

// Track は新しく作られたファイルを一覧に加える
func (r *Retention) Track(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.SearchStrings(r.files, name)
	if i < len(r.files) && r.files[i] == name {
		return
	}
	if i < len(r.files) {
		// 時計が戻ると新しいファイルが古い扱いになり、先に削除される
		r.logger.Warn("既存のファイルより古い名前のファイルが追加されました。時計が戻った可能性があります",
			"file", name, "newest", r.files[len(r.files)-1])
	}
	r.files = append(r.files, "")
	copy(r.files[i+1:], r.files[i:])
	r.files[i] = name
}

// Forget はファイルを一覧から外す（ファイル自体は消さない）
func (r *Retention) Forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.SearchStrings(r.files, name)
	if i < len(r.files) && r.files[i] == name {
		r.files = append(r.files[:i], r.files[i+1:]...)
	}
}

// Enforce はこれから作るファイルの分を空けるため、ファイル数が maxCount-1 以下に
// なるまで古い順に削除し、削除したファイル名を返す。
// 削除に失敗したファイルは一覧に残して次回の整理で再試行する。
// その分より新しいファイルを代わりに消すことはしない。
func (r *Retention) Enforce() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	excess := len(r.files) - (r.maxCount - 1)
	if excess <= 0 {
		return nil
	}

	var removed []string
	kept := make([]string, 0, len(r.files))
	for i, name := range r.files {
		if i >= excess {
			kept = append(kept, name)
			continue
		}

		err := os.Remove(filepath.Join(r.dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("古いアーカイブファイルの削除に失敗", "file", name, "error", err)
			r.metrics.RetentionDelete(err)
			kept = append(kept, name)
			continue
		}

		r.metrics.RetentionDelete(nil)
		r.logger.Info("古いアーカイブファイルを削除しました", "file", name)
		removed = append(removed, name)
	}
	r.files = kept

	return removed
}

// Files は現在の一覧のコピーを返す（古い順）
func (r *Retention) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	files := make([]string, len(r.files))
	copy(files, r.files)
	return files
}

// MaxCount は保持上限を返す
func (r *Retention) MaxCount() int {
	return r.maxCount
}

// Watch はディレクトリを監視し、外部で削除・作成されたファイルを一覧に反映する。
// ctx がキャンセルされるまでブロックする。
func (r *Retention) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ディレクトリ監視の開始に失敗: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("ディレクトリ監視の登録に失敗 (%s): %w", r.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			r.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("ディレクトリ監視でエラー", "error", err)
		}
	}
}

// handleEvent はファイルシステムの変更を一覧に反映する
func (r *Retention) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if filepath.Ext(name) != r.ext {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		r.Forget(name)
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		r.Track(name)
	}
}

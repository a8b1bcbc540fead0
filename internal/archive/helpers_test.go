package archive

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"testing"
	"time"
)

// testJPEG は幅 w の小さなJPEG画像を作る。幅が違えば内容も違う
func testJPEG(t *testing.T, w int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, 4))
	for x := 0; x < w; x++ {
		img.SetGray(x, 0, color.Gray{Y: uint8(x * 16)})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("JPEGのエンコードに失敗: %v", err)
	}
	return buf.Bytes()
}

// fakeClock はテスト用の手動で進める時計
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeStore は作成されたファイルと書き込まれたフレームを記録する
type fakeStore struct {
	mu       sync.Mutex
	order    []string
	frames   map[string][][]byte
	closed   map[string]bool
	failNext int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		frames: make(map[string][][]byte),
		closed: make(map[string]bool),
	}
}

func (s *fakeStore) factory(path string) (Encoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext > 0 {
		s.failNext--
		return nil, errors.New("disk full")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s.order = append(s.order, path)
	s.frames[path] = nil
	return &fakeEncoder{store: s, path: path, file: f}, nil
}

func (s *fakeStore) framesOf(path string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[path]
}

func (s *fakeStore) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

type fakeEncoder struct {
	store *fakeStore
	path  string
	file  *os.File
}

func (e *fakeEncoder) AddFrame(data []byte) error {
	e.store.mu.Lock()
	e.store.frames[e.path] = append(e.store.frames[e.path], append([]byte(nil), data...))
	e.store.mu.Unlock()
	_, err := e.file.Write(data)
	return err
}

func (e *fakeEncoder) Close() error {
	e.store.mu.Lock()
	e.store.closed[e.path] = true
	e.store.mu.Unlock()
	return e.file.Close()
}

// dirNames はディレクトリ内のファイル名を辞書順で返す
func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ディレクトリの読み取りに失敗: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

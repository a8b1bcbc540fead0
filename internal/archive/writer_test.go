package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirwatch/internal/framebus"
)

func TestWriter_AppendWithoutSession(t *testing.T) {
	store := newFakeStore()
	writer := NewWriter(store.factory, nil, nil)

	err := writer.Append(framebus.Frame{Data: testJPEG(t, 1)})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.NoError(t, writer.Close(), "開いていない状態での Close は何もしない")
}

func TestWriter_RejectsInvalidFrame(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	writer := NewWriter(store.factory, nil, nil)

	_, err := writer.Rotate(filepath.Join(dir, "a.avi"))
	require.NoError(t, err)

	err = writer.Append(framebus.Frame{Data: []byte{0xFF, 0xD8, 0x00}})
	assert.ErrorIs(t, err, ErrInvalidFrame)

	require.NoError(t, writer.Append(framebus.Frame{Data: testJPEG(t, 2)}))
	session, _ := writer.Current()
	assert.Equal(t, 1, session.Frames)
}

func TestWriter_RotateClosesPrevious(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	writer := NewWriter(store.factory, nil, nil)

	first := filepath.Join(dir, "1.avi")
	second := filepath.Join(dir, "2.avi")

	_, err := writer.Rotate(first)
	require.NoError(t, err)
	require.NoError(t, writer.Append(framebus.Frame{Data: testJPEG(t, 1)}))

	session, err := writer.Rotate(second)
	require.NoError(t, err)
	assert.Equal(t, second, session.Path)
	assert.Equal(t, 0, session.Frames)
	assert.True(t, store.closed[first], "前のファイルは閉じられているはず")

	_, err = os.Stat(first)
	assert.NoError(t, err, "フレームのあるファイルは残る")
}

// R回ローテーションした後、ディレクトリには最新の min(R+1, N) ファイルが残る
func TestWriter_RetentionCap(t *testing.T) {
	const maxFiles = 3

	for rotations := 0; rotations <= 6; rotations++ {
		t.Run(fmt.Sprintf("R=%d", rotations), func(t *testing.T) {
			dir := t.TempDir()
			clock := newFakeClock()
			store := newFakeStore()
			retention := NewRetention(dir, ".avi", maxFiles, nil)
			writer := NewWriter(store.factory, retention, nil)
			writer.SetClock(clock.Now)

			var names []string
			for i := 0; i <= rotations; i++ {
				path := filepath.Join(dir, clock.Now().Format(NameLayout)+".avi")
				_, err := writer.Rotate(path)
				require.NoError(t, err)
				require.NoError(t, writer.Append(framebus.Frame{Data: testJPEG(t, 1)}))
				names = append(names, filepath.Base(path))
				clock.Advance(time.Minute)
			}

			want := names
			if len(want) > maxFiles {
				want = want[len(want)-maxFiles:]
			}
			assert.Equal(t, want, dirNames(t, dir))
		})
	}
}

// 実際の MJPEG/AVI エンコーダで再生可能なファイルが作られる
func TestMJPEGFactory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.avi")

	enc, err := MJPEGFactory(8, 4, 25)(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, enc.AddFrame(testJPEG(t, 8)))
	}
	require.NoError(t, enc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 12)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "AVI ", string(data[8:12]))
}

func TestWriter_RotateAfterClose(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	writer := NewWriter(store.factory, nil, nil)

	_, err := writer.Rotate(filepath.Join(dir, "a.avi"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	_, err = writer.Rotate(filepath.Join(dir, "b.avi"))
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.ErrorIs(t, writer.Append(framebus.Frame{Data: testJPEG(t, 1)}), ErrNoSession)
	assert.Equal(t, []string{filepath.Join(dir, "a.avi")}, store.paths())
}

package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirwatch/internal/archive"
	"mirwatch/internal/capture"
	"mirwatch/internal/framebus"
	"mirwatch/internal/metrics"
)

// fakeSource は決まったフレーム列を流す映像源
type fakeSource struct {
	frames [][]byte
	err    error
}

func (s *fakeSource) Probe(context.Context) error { return nil }

func (s *fakeSource) Run(ctx context.Context, handler capture.FrameHandler) error {
	for _, f := range s.frames {
		if ctx.Err() != nil {
			return nil
		}
		handler(f, time.Now())
	}
	return s.err
}

// fakeArchiver は受け取ったフレームを記録し、reject に含まれる内容を拒否する
type fakeArchiver struct {
	mu       sync.Mutex
	accepted []string
	reject   map[string]error
}

func (a *fakeArchiver) OnFrame(frame framebus.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.reject[string(frame.Data)]; ok {
		return err
	}
	a.accepted = append(a.accepted, string(frame.Data))
	return nil
}

func TestRecorder_PublishesAndArchives(t *testing.T) {
	source := &fakeSource{frames: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}
	bus := framebus.New()
	archiver := &fakeArchiver{}
	m := metrics.New()

	rec := New(source, bus, archiver, nil, m)
	require.NoError(t, rec.Run(context.Background()))

	frame, gen, ok := bus.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), gen)
	assert.Equal(t, "c", string(frame.Data))
	assert.Equal(t, []string{"a", "b", "c"}, archiver.accepted)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FramesPublished))
}

func TestRecorder_ArchiveErrorsDoNotStopBroadcast(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{"不正なフレーム", archive.ErrInvalidFrame},
		{"ファイルなし", archive.ErrNoSession},
		{"書き込みエラー", errors.New("disk full")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			source := &fakeSource{frames: [][]byte{[]byte("ok-1"), []byte("bad"), []byte("ok-2")}}
			bus := framebus.New()
			archiver := &fakeArchiver{reject: map[string]error{
				"bad": fmt.Errorf("wrapped: %w", tc.err),
			}}

			rec := New(source, bus, archiver, nil, nil)
			require.NoError(t, rec.Run(context.Background()))

			// 録画に失敗したフレームも配信はされている
			assert.Equal(t, uint64(3), bus.Generation())
			assert.Equal(t, []string{"ok-1", "ok-2"}, archiver.accepted)
		})
	}
}

func TestRecorder_WithoutArchiver(t *testing.T) {
	source := &fakeSource{frames: [][]byte{[]byte("a")}}
	bus := framebus.New()

	rec := New(source, bus, nil, nil, nil)
	require.NoError(t, rec.Run(context.Background()))
	assert.Equal(t, uint64(1), bus.Generation())
}

func TestRecorder_SourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("device lost")}
	rec := New(source, framebus.New(), nil, nil, nil)

	err := rec.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device lost")
}

func TestRecorder_WithScheduler(t *testing.T) {
	dir := t.TempDir()
	retention := archive.NewRetention(dir, ".avi", 3, nil)
	require.NoError(t, retention.Load())

	writer := archive.NewWriter(archive.MJPEGFactory(8, 4, 10), retention, nil)
	scheduler := archive.NewScheduler(writer, dir, ".avi", time.Hour, nil)
	require.NoError(t, scheduler.Start())

	source := &fakeSource{frames: [][]byte{[]byte("not a jpeg")}}
	bus := framebus.New()

	rec := New(source, bus, scheduler, nil, nil)
	require.NoError(t, rec.Run(context.Background()))

	assert.Equal(t, uint64(1), bus.Generation())
	session, ok := writer.Current()
	require.True(t, ok)
	assert.Zero(t, session.Frames)
	require.NoError(t, scheduler.Close())
}

package archive

import (
	"fmt"

	"github.com/icza/mjpeg"
)

// Encoder は1つのアーカイブファイルへフレームを書き込む
type Encoder interface {
	AddFrame(jpegData []byte) error
	// Close はインデックス等を書き出してファイルを閉じる
	Close() error
}

// EncoderFactory は指定パスに新しいファイルを作って Encoder を返す
type EncoderFactory func(path string) (Encoder, error)

// MJPEGFactory は MJPEG/AVI 形式の EncoderFactory を返す
func MJPEGFactory(width, height, fps int) EncoderFactory {
	return func(path string) (Encoder, error) {
		aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
		if err != nil {
			return nil, fmt.Errorf("AVIファイルの作成に失敗 (%s): %w", path, err)
		}
		return aw, nil
	}
}

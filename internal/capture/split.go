package capture

import "bytes"

var (
	markerSOI = []byte{0xFF, 0xD8} // JPEGの開始マーカー
	markerEOI = []byte{0xFF, 0xD9} // JPEGの終了マーカー
)

// ScanJPEG は連結されたJPEGをフレーム単位に分割する bufio.SplitFunc。
// 開始マーカーより前のゴミと、EOF時点で閉じていない末尾のフレームは捨てる。
func ScanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, markerSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// 末尾の 0xFF はマーカーの前半かもしれないので残す
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(markerSOI):], markerEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// 完全なフレームがまだない
		return start, nil, nil
	}

	end += start + len(markerSOI) + len(markerEOI)
	return end, data[start:end], nil
}

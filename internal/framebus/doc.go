// Package framebus は最新フレームを複数の視聴者へ配るブロードキャスト点を提供する
//
// # 責務
// - キャプチャから届いた最新フレームを1枚だけ保持する
// - 世代番号（generation）でフレームの新しさを識別する
// - 待機中の全読み手を一斉に起こす
//
// # 仕様
// - 書き手は1つ（キャプチャのゴルーチン）、読み手は任意個
// - Publish は読み手を待たない。遅い読み手は途中のフレームを取りこぼす
// - AwaitNext は lastSeen より新しい世代が来るまでブロックする
// - Close 後は待機中の全読み手に ErrClosed を返す
// - キューではない。読み手が観測するのは常に最新フレームのみ
package framebus

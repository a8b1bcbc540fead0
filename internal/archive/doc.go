// Package archive はフレーム列を時間で区切った動画ファイルとして保存する
//
// # 責務
// - 現在開いているアーカイブファイル（Session）を1つだけ所有する
// - 一定時間ごとにファイルをローテーションする
// - ディレクトリ内のファイル数を上限以下に保つ
//
// # 仕様
// - ファイル名はキャプチャ時刻から作り、辞書順が時刻順になる
// - ローテーションのきっかけになったフレームは新しいファイルにだけ書かれる
// - 1フレームも書かれていないファイルはローテーションせず、閉じるときに削除する
// - 保持数の整理は新しいファイルを作る直前に行い、超過分は全て消す
// - 削除の失敗はログに残すだけで、録画もライブ配信も止めない
// - ファイルを開けなかった場合は次のローテーション時刻に再試行する
//
// # コンテナ
// デフォルトでは MJPEG を AVI コンテナに格納する（github.com/icza/mjpeg）。
// JPEG をそのまま格納するので再エンコードは発生しない。
package archive

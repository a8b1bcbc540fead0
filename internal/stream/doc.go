// Package stream は視聴者1人ぶんのライブ配信セッションを実装する
//
// # 責務
// - multipart/x-mixed-replace 形式でフレームを1枚ずつ書き出す
// - WebSocket でフレームをバイナリメッセージとして送る
// - 接続中の視聴者数を数える
//
// # 仕様
// - 境界文字列は FRAME 固定
// - 各パートは Content-Type と Content-Length を持ち、書くたびにフラッシュする
// - 送るのは常にバスの最新フレーム。遅い視聴者は途中のフレームを飛ばす
// - 書き込みに失敗したセッションだけが終了し、他の視聴者とキャプチャには影響しない
// - バスが閉じられるとセッションは終了する
package stream

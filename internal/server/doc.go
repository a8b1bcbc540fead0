// Package server は、ライブ配信のHTTPサーバーを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// 視聴セッションへの振り分け、視聴ページの配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - 視聴ページ（埋め込みHTML）の配信
//   - MJPEGストリームとWebSocketへのリクエスト振り分け
//   - ヘルスチェック・状態・メトリクスの公開
//
// 仕様:
//   - ルーティングはgin-gonic/ginを使用
//   - GET / は /index.html へ301リダイレクト
//   - 未知のパスは404
//   - リクエストごとに別ゴルーチンで処理し、複数視聴者の同時接続をサポート
//   - シャットダウン時はバスを閉じて視聴セッションを終わらせてからHTTPサーバーを止める
package server

// Package app は設定から各部品を組み立て、起動から停止までを管理する
//
// # 責務
// - 映像源・バス・アーカイブ・HTTPサーバーの生成と接続
// - 起動時の検査（映像源のテスト、保存先の作成、最初のファイル）
// - 停止順序の管理
//
// # 仕様
// - 起動時の失敗はすべてエラーとして返し、呼び出し側で終了する
// - 起動はポートの確保、映像源のテスト、最初のファイル作成の順。
//   ポートか映像源で失敗した場合、既存の録画には触れない
// - 映像源が終わるか ctx がキャンセルされると全体を停止する
// - 停止はキャプチャ、バス、HTTPサーバー、アーカイブの順
package app

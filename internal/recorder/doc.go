// Package recorder はキャプチャからバスとアーカイブへフレームを流す生産者ループを実装する
//
// # 責務
// - 映像源から届いたフレームをバスへ公開する
// - 同じフレームをアーカイブへ渡す
//
// # 仕様
// - 公開が先、アーカイブが後。アーカイブの失敗はライブ配信に影響しない
// - アーカイブの失敗はログに残し、ループは止めない
package recorder

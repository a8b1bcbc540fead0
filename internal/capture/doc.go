// Package capture はカメラ等の映像源からJPEGフレームを取り出す
//
// # 責務
// - ffmpeg 経由で V4L2 デバイスや X11 画面から MJPEG を取得する
// - 任意の io.Reader に流れる MJPEG をフレーム単位に分割する
// - 起動時に映像源が使えるか確認する
// - device: auto のとき /dev/video* から使えるカメラを選ぶ
//
// # 前提要件
//   - ffmpeg: Ubuntu/Debian: sudo apt install ffmpeg
//   - 自動検出には v4l2-ctl: sudo apt install v4l-utils
//   - videoグループへの参加: sudo usermod -a -G video $USER
package capture

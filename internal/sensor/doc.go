// Package sensor センサーデバイスからの生フレーム取得を担う
//
// # 責務
// - FrameSource / Handle による取得パイプラインの抽象化
// - センサーデバイスの検出と利用可能性チェック
// - ffmpeg経由でのV4L2デバイス・X11画面からのフレーム取得
// - デバイスノードの消失監視
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - ハードウェアから生サンプルを1枚ずつ取り出したい
// - テストやデモで合成フレームを流したい（MockSource）
//
// # 仕様
// - FrameSource.Start はストリーム仕様を受け取りHandleを返す
// - Handle.WaitForSample はソース自身のタイムアウトでブロックする
// - サンプルが無い場合は ErrNoSample（一時的）を返す
// - デバイス切断は ErrDeviceLost（致命的）を返す
// - 初期化失敗は *InitError にラップされる
//
// # 前提要件
//   - ffmpeg: 画像キャプチャとストリーミングに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package sensor

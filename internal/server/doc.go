// Package server は、ストリームをHTTPで公開します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// WebSocket接続の管理、MJPEG配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - ストリームの開始・停止と状態の公開
//   - 最新フレームの取得（JSON / JPEG）とワンショット取得
//   - MJPEGとWebSocketによるプレビュー配信
//
// 仕様:
//   - ルーティングはgin、WebSocketはgorilla/websocketを使用
//   - フレームが無いことはエラーではなく has_image=false で返す
//   - プレビュー配信はフレームを消費しない
package server

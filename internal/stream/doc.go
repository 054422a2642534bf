// Package stream はセンサーから最新フレームを取り出すストリーミング基盤を提供する
//
// # 責務
//
//   - Manager: センサー1台分のライフサイクル（開始・停止・失敗）を管理する
//   - LatestFrameSlot: 容量1の受け渡し口。新しいフレームが古い未取得フレームを上書きする
//   - captureLoop: バックグラウンドでサンプルを取得・デコードしてスロットに入れる
//   - Registry: 物理デバイスごとに稼働中のManagerを1つに制限する
//
// # 状態遷移
//
//	NotStarted → Starting → Running → Stopping → Stopped
//	Starting/Running → Failed
//
// 明示的な Start により Stopped と Failed からも再開できる
//
// # 取得とフレームの扱い
//
// フレームは新しさ優先のベストエフォートで、消費が追いつかない場合は黙って破棄される
// GetFrame で取り出したフレームは他の消費者には渡らない
// 永続化の失敗は Frame.StoreError に記録され、フレーム自体は必ず返される
package stream

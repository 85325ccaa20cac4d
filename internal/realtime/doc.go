// Package realtime はWebSocket接続を受け付け、トピック単位でイベントを配信するゲートウェイを提供する。
//
// 接続は Connecting → Open → Closing → Closed の順に遷移する。
// 接続が参加できるトピックは記事のコメントストリーム（article:<id>）と
// ユーザー個人の通知チャネル（user:<id>）の2種類。
//
// ゲートウェイはローカルの Registry に参加状況を保持し、共有の
// プレゼンスディレクトリへ同じ内容を記録する。他インスタンスで発行された
// イベントはPub/Subブリッジ経由で受信し、ローカルの参加者にのみ配信する。
//
// 配信は接続ごとの有界キューへのノンブロッキングな投入で行い、
// キューが満杯の接続へのフレームは破棄する。
package realtime

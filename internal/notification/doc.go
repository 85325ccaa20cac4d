// Package notification は通知サービスのHTTP APIと通知の配信判定を提供する。
//
// 通知は必ず先に保存し、受信者がオンラインであればリアルタイム配信する（Decider）。
// 保存先は Store インターフェースで抽象化し、SQLite実装をこのパッケージに、
// PostgreSQL実装を pgstore パッケージに置く。
// HTTP APIはユーザー向けの一覧・既読管理（JWT認証）と、
// 記事サービス向けの内部API（サービスAPIキー認証）から成る。
package notification

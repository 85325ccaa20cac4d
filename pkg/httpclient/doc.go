// Package httpclient はサービス間のHTTP通信を行うJSONクライアントを提供する。
//
// 記事サービスなどのバックエンドが通知サービスの内部APIを呼び出す際に使用する。
// 共通ヘッダー（サービスAPIキーなど）はOptionで設定する。
package httpclient

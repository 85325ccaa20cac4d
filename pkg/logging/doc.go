// Package logging はzerologベースの構造化ロガーを生成する。
//
// すべてのサービスとコンポーネントはこのパッケージで生成したロガーを
// コンストラクタ経由で受け取り、グローバルなロガーには依存しない。
package logging

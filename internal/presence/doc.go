// Package presence はインスタンス間で共有するプレゼンスディレクトリを提供する。
//
// どの接続がどのトピックに参加しているか、どのユーザーがどの接続で
// オンラインかを記録する。すべての操作は単一キー単位でアトミックかつ冪等であり、
// 複数インスタンスから外部ロックなしで並行して利用できる。
//
// 実装:
//   - MemoryDirectory: 単一プロセス用（開発・テスト）
//   - RedisDirectory: Redisを用いた複数インスタンス用
//
// Janitor はインスタンスの生存通知と、停止したインスタンスが残した
// エントリの掃除を定期実行する。
package presence

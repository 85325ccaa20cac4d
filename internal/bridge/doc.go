// Package bridge はインスタンス間でイベントを中継するPub/Subブリッジを提供する。
//
// あるインスタンスで発行されたイベントは、同じチャネルを購読している
// すべてのインスタンスへ少なくとも1回配送される。配送の永続化は行わない。
//
// 実装:
//   - MemoryBroker: 単一プロセス内の中継（開発・テスト）
//   - RedisBridge: Redis Pub/Sub
//   - AMQPBridge: RabbitMQのfanout exchange
//
// ペイロードは Envelope を msgpack でエンコードしたもの。
package bridge

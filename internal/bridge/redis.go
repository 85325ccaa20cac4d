package bridge

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBridge はRedis Pub/Subを用いた Bridge 実装。
// 切断時の再接続と再購読はgo-redisの PubSub が行う。
type RedisBridge struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

var _ Bridge = (*RedisBridge)(nil)

// RedisBridgeOptions は RedisBridge の設定。
type RedisBridgeOptions struct {
	// Prefix はチャネル名に付与する名前空間。
	Prefix string
	// Timeout は発行と購読確立のタイムアウト。0以下の場合は1秒。
	Timeout time.Duration
}

// NewRedisBridge は新しい RedisBridge を生成する。
func NewRedisBridge(client redis.UniversalClient, opts RedisBridgeOptions) *RedisBridge {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RedisBridge{client: client, prefix: opts.Prefix, timeout: timeout}
}

// Publish はチャネルにペイロードを発行する。
func (b *RedisBridge) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.prefix+channel, payload).Err(); err != nil {
		return unavailable("発行", err)
	}
	return nil
}

// Subscribe はチャネルの購読を開始する。
func (b *RedisBridge) Subscribe(ctx context.Context, channel string, handler Handler) error {
	ps := b.client.Subscribe(ctx, b.prefix+channel)

	recvCtx, cancel := context.WithTimeout(ctx, b.timeout)
	_, err := ps.Receive(recvCtx)
	cancel()
	if err != nil {
		_ = ps.Close()
		return unavailable("購読", err)
	}

	msgs := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				handler(ctx, []byte(m.Payload))
			}
		}
	}()
	return nil
}

// Close は何もしない。Redisクライアントは呼び出し側が管理する。
func (b *RedisBridge) Close() error {
	return nil
}

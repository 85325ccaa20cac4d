package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPOptions は AMQPBridge の設定。
type AMQPOptions struct {
	// ExchangePrefix はチャネルごとのexchange名に付与する接頭辞。
	ExchangePrefix string
	// Timeout は発行のタイムアウト。0以下の場合は1秒。
	Timeout time.Duration
	// ReconnectMin は再接続の初回待機時間。0以下の場合は500ミリ秒。
	ReconnectMin time.Duration
	// ReconnectMax は再接続の最大待機時間。0以下の場合は30秒。
	ReconnectMax time.Duration
}

// AMQPBridge はRabbitMQを用いた Bridge 実装。
//
// チャネルごとにfanout exchangeを宣言し、購読側はインスタンス専用の
// 排他・自動削除キューをバインドする。これにより全インスタンスへ配送される。
type AMQPBridge struct {
	url  string
	opts AMQPOptions
	log  zerolog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	declared map[string]bool
	closed   bool
}

var _ Bridge = (*AMQPBridge)(nil)

// DialAMQP はRabbitMQに接続して AMQPBridge を生成する。
func DialAMQP(url string, opts AMQPOptions, log zerolog.Logger) (*AMQPBridge, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	b := &AMQPBridge{url: url, opts: opts, log: log}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.connectionLocked(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *AMQPBridge) exchange(channel string) string {
	return b.opts.ExchangePrefix + channel
}

// connectionLocked は有効な接続を返す。切断されていれば再接続する。
func (b *AMQPBridge) connectionLocked() (*amqp.Connection, error) {
	if b.closed {
		return nil, unavailable("接続", errors.New("ブリッジはクローズ済みです"))
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, unavailable("RabbitMQへの接続", err)
	}
	b.conn = conn
	b.pubCh = nil
	return conn, nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		amqp.ExchangeFanout,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
}

// Publish はチャネルに対応するexchangeにペイロードを発行する。
func (b *AMQPBridge) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := b.connectionLocked()
	if err != nil {
		return err
	}
	if b.pubCh == nil || b.pubCh.IsClosed() {
		ch, err := conn.Channel()
		if err != nil {
			return unavailable("チャネルのオープン", err)
		}
		b.pubCh = ch
		b.declared = make(map[string]bool)
	}

	name := b.exchange(channel)
	if !b.declared[name] {
		if err := declareExchange(b.pubCh, name); err != nil {
			b.pubCh = nil
			return unavailable("exchangeの宣言", err)
		}
		b.declared[name] = true
	}

	err = b.pubCh.PublishWithContext(ctx, name, "", false, false, amqp.Publishing{
		ContentType: "application/msgpack",
		Timestamp:   time.Now().UTC(),
		Body:        payload,
	})
	if err != nil {
		b.pubCh = nil
		return unavailable("発行", err)
	}
	return nil
}

// Subscribe はチャネルの購読を開始する。
// 接続やチャネルが閉じられた場合はバックオフしながら再購読する。
func (b *AMQPBridge) Subscribe(ctx context.Context, channel string, handler Handler) error {
	sub, err := b.consume(channel)
	if err != nil {
		return err
	}

	go func() {
		for {
			b.forward(ctx, sub, handler)
			if ctx.Err() != nil {
				_ = sub.ch.Close()
				return
			}
			if sub = b.resubscribe(ctx, channel); sub == nil {
				return
			}
		}
	}()
	return nil
}

// amqpSub は1件の購読が使うチャネルと受信口。
type amqpSub struct {
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	closed     <-chan *amqp.Error
}

// forward は購読が閉じられるか ctx が終了するまで受信したメッセージを handler に渡す。
func (b *AMQPBridge) forward(ctx context.Context, sub *amqpSub, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case amqpErr := <-sub.closed:
			if amqpErr != nil {
				b.log.Warn().Str("reason", amqpErr.Reason).Int("code", amqpErr.Code).Msg("AMQPチャネルが閉じられました")
			}
			return
		case d, ok := <-sub.deliveries:
			if !ok {
				return
			}
			handler(ctx, d.Body)
		}
	}
}

// resubscribe は購読が確立するまで再試行する。
// ctx が終了した場合やブリッジがクローズされた場合は nil を返す。
func (b *AMQPBridge) resubscribe(ctx context.Context, channel string) *amqpSub {
	wait := b.opts.ReconnectMin
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		if b.isClosed() {
			return nil
		}

		sub, err := b.consume(channel)
		if err == nil {
			b.log.Info().Str("channel", channel).Msg("AMQPの購読を再開しました")
			return sub
		}
		b.log.Warn().Err(err).Str("channel", channel).Dur("retry_in", wait).Msg("AMQPの再購読に失敗")

		wait *= 2
		if wait > b.opts.ReconnectMax {
			wait = b.opts.ReconnectMax
		}
	}
}

// consume は専用キューを宣言してexchangeにバインドし、受信を開始する。
func (b *AMQPBridge) consume(channel string) (*amqpSub, error) {
	b.mu.Lock()
	conn, err := b.connectionLocked()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, unavailable("チャネルのオープン", err)
	}
	name := b.exchange(channel)
	if err := declareExchange(ch, name); err != nil {
		_ = ch.Close()
		return nil, unavailable("exchangeの宣言", err)
	}

	q, err := ch.QueueDeclare(
		"",    // サーバー側で命名
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, unavailable("キューの宣言", err)
	}
	if err := ch.QueueBind(q.Name, "", name, false, nil); err != nil {
		_ = ch.Close()
		return nil, unavailable("キューのバインド", err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",    // consumer
		true,  // autoAck
		true,  // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, unavailable("受信の開始", err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	return &amqpSub{ch: ch, deliveries: deliveries, closed: closed}, nil
}

func (b *AMQPBridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close はRabbitMQとの接続を閉じる。
func (b *AMQPBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("RabbitMQ接続のクローズに失敗: %w", err)
	}
	return nil
}

package bridge

import (
	"context"
	"errors"
	"fmt"
)

// ErrBridgeUnavailable はブリッジに到達できない場合のエラー。
// 呼び出し側はログに記録して破棄する。再送は行わない。
var ErrBridgeUnavailable = errors.New("Pub/Subブリッジに接続できません")

const (
	// ChannelComments はコメント作成イベントを中継するチャネル。
	ChannelComments = "article:comments"
	// ChannelNotifications は通知の転送と接続の追い出しを中継するチャネル。
	ChannelNotifications = "user:notifications"
)

// Handler は受信したペイロードを処理する関数。
// 同一購読内では逐次呼び出される。
type Handler func(ctx context.Context, payload []byte)

// Bridge はインスタンス間のPub/Subを定義する。
type Bridge interface {
	// Publish はチャネルにペイロードを発行する。
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe はチャネルの購読を開始する。購読が確立した時点で戻り、
	// 以降は ctx が終了するまでバックグラウンドで handler を呼び出す。
	// 接続が切れた場合は透過的に再購読する。
	Subscribe(ctx context.Context, channel string, handler Handler) error
	// Close はブリッジが保持する接続を解放する。
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %sに失敗: %w", ErrBridgeUnavailable, op, err)
}

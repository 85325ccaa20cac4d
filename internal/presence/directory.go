package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/livefeed/pkg/event"
)

// ErrDirectoryUnavailable は共有ストアに到達できない場合のエラー。
// 呼び出し側はプレゼンス不明（オフライン扱い）として処理を継続する。
var ErrDirectoryUnavailable = errors.New("プレゼンスディレクトリに接続できません")

// JoinMetadata はトピック参加時に記録するメタデータ。
type JoinMetadata struct {
	// SocketID は参加した接続のID。
	SocketID string `json:"socketId"`
	// UserID は参加時に申告されたユーザーID。匿名の場合は空。
	UserID string `json:"userId,omitempty"`
	// JoinedAt は参加日時。
	JoinedAt time.Time `json:"joinedAt"`
}

// Directory はプレゼンスディレクトリの操作を定義する。
// すべての操作は冪等であり、未参加トピックからの離脱などはエラーにならない。
type Directory interface {
	// RecordConnection は接続とそれを保持するインスタンスを紐付ける。
	RecordConnection(ctx context.Context, connID, instanceID string) error
	// RecordJoin は接続のトピック参加を記録する。
	RecordJoin(ctx context.Context, connID string, topic event.Topic, meta JoinMetadata) error
	// RecordLeave は接続のトピック離脱を記録する。
	RecordLeave(ctx context.Context, connID string, topic event.Topic) error
	// RecordUserSocket はユーザーと接続を紐付ける（最後の参加が優先）。
	// 以前の接続が紐付けを奪われた場合、そのIDを evicted として返す。
	RecordUserSocket(ctx context.Context, userID, connID string) (evicted string, err error)
	// ClearUserSocket はユーザーと接続の紐付けを解除する。
	// connID が現在の紐付け先でない場合、他の接続の紐付けには影響しない。
	ClearUserSocket(ctx context.Context, userID, connID string) error
	// LookupUserConnection はユーザーが現在紐付いている接続を返す。
	LookupUserConnection(ctx context.Context, userID string) (connID string, found bool, err error)
	// ClearConnection は接続に関するすべてのエントリを削除する。
	// 一部の参加記録が未完了の状態でも安全に呼び出せる。
	ClearConnection(ctx context.Context, connID string) error
	// ConnectionTopics は接続が参加しているトピックを返す。
	ConnectionTopics(ctx context.Context, connID string) ([]event.Topic, error)
	// Members はトピックに参加している接続とそのメタデータを返す。
	Members(ctx context.Context, topic event.Topic) (map[string]JoinMetadata, error)
}

// InstanceTracker はインスタンスの生存管理を定義する。
type InstanceTracker interface {
	// Heartbeat はインスタンスの生存をttlの間だけ記録する。
	// インスタンスが未登録だった場合（初回、または掃除された後）は resumed に真を返す。
	Heartbeat(ctx context.Context, instanceID string, ttl time.Duration) (resumed bool, err error)
	// SweepDeadInstances は生存記録が切れたインスタンスの接続をすべて削除し、
	// 削除した接続数を返す。
	SweepDeadInstances(ctx context.Context) (int, error)
}

// unavailable は共有ストアのエラーを ErrDirectoryUnavailable でラップする。
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %sに失敗: %w", ErrDirectoryUnavailable, op, err)
}

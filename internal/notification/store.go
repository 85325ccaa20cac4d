package notification

import (
	"context"
	"errors"

	"github.com/nao1215/livefeed/pkg/event"
)

// ErrNotFound は通知が存在しない場合のエラー。
var ErrNotFound = errors.New("通知が見つかりません")

const (
	// DefaultPageSize は一覧取得のデフォルト件数。
	DefaultPageSize = 20
	// MaxPageSize は一覧取得の最大件数。
	MaxPageSize = 100
)

// ListParams は通知一覧取得の条件。
type ListParams struct {
	// UserID は通知先のユーザーID。
	UserID string
	// Page は1始まりのページ番号。
	Page int
	// PageSize は1ページあたりの件数。
	PageSize int
	// IsRead が nil でない場合、既読状態で絞り込む。
	IsRead *bool
}

// Normalize はページ指定を有効な範囲に丸める。
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset は先頭から読み飛ばす件数を返す。
func (p ListParams) Offset() int64 {
	return int64(p.Page-1) * int64(p.PageSize)
}

// ListResult は通知一覧取得の結果。
type ListResult struct {
	// Items は作成日時の降順に並んだ通知。
	Items []event.Notification
	// Total は絞り込み条件に一致する通知の総数。
	Total int64
	// Page は実際に使用したページ番号。
	Page int
	// PageSize は実際に使用したページサイズ。
	PageSize int
	// UnreadCount は絞り込み条件に関係なく数えた未読通知数。
	UnreadCount int64
}

// Store は通知の永続化を定義する。
type Store interface {
	// Create は通知を保存する。
	Create(ctx context.Context, n *event.Notification) error
	// Get は通知を取得する。存在しない場合は ErrNotFound を返す。
	Get(ctx context.Context, id string) (*event.Notification, error)
	// List はユーザーの通知をページ単位で取得する。
	List(ctx context.Context, p ListParams) (*ListResult, error)
	// MarkRead はユーザー自身の通知のうち指定されたものを既読にし、更新件数を返す。
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)
	// MarkAllRead はユーザーの未読通知をすべて既読にし、更新件数を返す。
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	// Close は接続を解放する。
	Close() error
}

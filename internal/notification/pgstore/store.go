// Package pgstore はPostgreSQLに通知を保存する notification.Store を提供する。
// 複数インスタンスで通知ストアを共有する構成で使用する。
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/nao1215/livefeed/internal/notification"
	"github.com/nao1215/livefeed/pkg/event"
	"github.com/nao1215/livefeed/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

const columns = `id, user_id, actor_id, type, title, message, article_id, comment_id, data, is_read, created_at`

// Store はpgxpoolを使用する notification.Store。
type Store struct {
	pool *pgxpool.Pool
}

var _ notification.Store = (*Store)(nil)

// Open は接続プールを作成し、マイグレーションを適用する。
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("接続プールの作成に失敗: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	_, err = migration.Run(ctx, sqlDB, migrations, "migrations", migration.Postgres, log)
	_ = sqlDB.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Create は通知を保存する。
func (s *Store) Create(ctx context.Context, n *event.Notification) error {
	var data []byte
	if len(n.Data) > 0 {
		data = n.Data
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, actor_id, type, title, message, article_id, comment_id, data, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10)`,
		n.ID, n.RecipientUserID, n.ActorID, string(n.Type), n.Title, n.Message,
		n.ArticleID, n.CommentID, data, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("通知の保存に失敗: %w", err)
	}
	return nil
}

// Get は通知を取得する。
func (s *Store) Get(ctx context.Context, id string) (*event.Notification, error) {
	n, err := scan(s.pool.QueryRow(ctx, `SELECT `+columns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notification.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return &n, nil
}

// List はユーザーの通知をページ単位で取得する。
// 既読状態の絞り込みは NULL を「指定なし」として1本のクエリで扱う。
func (s *Store) List(ctx context.Context, p notification.ListParams) (*notification.ListResult, error) {
	p = p.Normalize()

	rows, err := s.pool.Query(ctx, `
		SELECT `+columns+` FROM notifications
		WHERE user_id = $1 AND ($2::boolean IS NULL OR is_read = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		p.UserID, p.IsRead, p.PageSize, p.Offset(),
	)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (event.Notification, error) {
		return scan(row)
	})
	if err != nil {
		return nil, fmt.Errorf("通知一覧の読み取りに失敗: %w", err)
	}

	var total, unread int64
	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE $2::boolean IS NULL OR is_read = $2),
			COUNT(*) FILTER (WHERE NOT is_read)
		FROM notifications WHERE user_id = $1`,
		p.UserID, p.IsRead,
	).Scan(&total, &unread)
	if err != nil {
		return nil, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}

	return &notification.ListResult{
		Items:       items,
		Total:       total,
		Page:        p.Page,
		PageSize:    p.PageSize,
		UnreadCount: unread,
	}, nil
}

// MarkRead は指定された通知を既読にする。他のユーザーの通知は更新しない。
func (s *Store) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE user_id = $1 AND NOT is_read AND id = ANY($2)`,
		userID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkAllRead はユーザーの未読通知をすべて既読にする。
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close は接続プールを閉じる。
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scan(row pgx.Row) (event.Notification, error) {
	var (
		n    event.Notification
		typ  string
		data []byte
	)
	err := row.Scan(&n.ID, &n.RecipientUserID, &n.ActorID, &typ, &n.Title, &n.Message,
		&n.ArticleID, &n.CommentID, &data, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return event.Notification{}, err
	}
	n.Type = event.Type(typ)
	n.CreatedAt = n.CreatedAt.UTC()
	if len(data) > 0 {
		n.Data = json.RawMessage(data)
	}
	return n, nil
}

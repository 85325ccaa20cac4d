package notification

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	notificationdb "github.com/nao1215/livefeed/internal/notification/db"
	"github.com/nao1215/livefeed/pkg/event"
	"github.com/nao1215/livefeed/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// SQLiteStore はSQLiteに通知を保存する Store。
type SQLiteStore struct {
	db      *sql.DB
	queries *notificationdb.Queries
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite はSQLiteデータベースを開き、マイグレーションを適用する。
// dsnに ":memory:" を指定するとインメモリデータベースになる。
func OpenSQLite(ctx context.Context, dsn string, log zerolog.Logger) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは書き込みが直列化されるため接続を1本に絞る。
	sqlDB.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, sqlDB, migrations, "migrations", migration.SQLite, log); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: sqlDB, queries: notificationdb.New(sqlDB)}, nil
}

// Create は通知を保存する。
func (s *SQLiteStore) Create(ctx context.Context, n *event.Notification) error {
	err := s.queries.CreateNotification(ctx, notificationdb.CreateNotificationParams{
		ID:        n.ID,
		UserID:    n.RecipientUserID,
		ActorID:   n.ActorID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		ArticleID: n.ArticleID,
		CommentID: n.CommentID,
		Data:      string(n.Data),
		CreatedAt: n.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("通知の保存に失敗: %w", err)
	}
	return nil
}

// Get は通知を取得する。
func (s *SQLiteStore) Get(ctx context.Context, id string) (*event.Notification, error) {
	row, err := s.queries.GetNotification(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	n := fromRow(row)
	return &n, nil
}

// List はユーザーの通知をページ単位で取得する。
func (s *SQLiteStore) List(ctx context.Context, p ListParams) (*ListResult, error) {
	p = p.Normalize()
	var (
		rows  []notificationdb.Notification
		total int64
		err   error
	)
	if p.IsRead == nil {
		rows, err = s.queries.ListNotifications(ctx, notificationdb.ListNotificationsParams{
			UserID: p.UserID,
			Limit:  int64(p.PageSize),
			Offset: p.Offset(),
		})
		if err == nil {
			total, err = s.queries.CountNotifications(ctx, p.UserID)
		}
	} else {
		state := boolToInt(*p.IsRead)
		rows, err = s.queries.ListNotificationsByReadState(ctx, notificationdb.ListNotificationsByReadStateParams{
			UserID: p.UserID,
			IsRead: state,
			Limit:  int64(p.PageSize),
			Offset: p.Offset(),
		})
		if err == nil {
			total, err = s.queries.CountNotificationsByReadState(ctx, notificationdb.CountNotificationsByReadStateParams{
				UserID: p.UserID,
				IsRead: state,
			})
		}
	}
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	unread, err := s.queries.CountNotificationsByReadState(ctx, notificationdb.CountNotificationsByReadStateParams{
		UserID: p.UserID,
		IsRead: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("未読件数の取得に失敗: %w", err)
	}

	items := make([]event.Notification, 0, len(rows))
	for _, r := range rows {
		items = append(items, fromRow(r))
	}
	return &ListResult{
		Items:       items,
		Total:       total,
		Page:        p.Page,
		PageSize:    p.PageSize,
		UnreadCount: unread,
	}, nil
}

// MarkRead は指定された通知を既読にする。他のユーザーの通知は更新しない。
func (s *SQLiteStore) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	n, err := s.queries.MarkNotificationsRead(ctx, notificationdb.MarkNotificationsReadParams{
		UserID: userID,
		Ids:    ids,
	})
	if err != nil {
		return 0, fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return n, nil
}

// MarkAllRead はユーザーの未読通知をすべて既読にする。
func (s *SQLiteStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.queries.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return n, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func fromRow(r notificationdb.Notification) event.Notification {
	n := event.Notification{
		ID:              r.ID,
		RecipientUserID: r.UserID,
		ActorID:         r.ActorID,
		Type:            event.Type(r.Type),
		Title:           r.Title,
		Message:         r.Message,
		ArticleID:       r.ArticleID,
		CommentID:       r.CommentID,
		IsRead:          r.IsRead != 0,
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if r.Data != "" {
		n.Data = json.RawMessage(r.Data)
	}
	return n
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

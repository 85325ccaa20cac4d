package db

import (
	"context"
	"strings"
	"time"
)

const notificationColumns = `id, user_id, actor_id, type, title, message, article_id, comment_id, data, is_read, created_at`

func scanNotification(row interface{ Scan(...any) error }) (Notification, error) {
	var i Notification
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.ActorID,
		&i.Type,
		&i.Title,
		&i.Message,
		&i.ArticleID,
		&i.CommentID,
		&i.Data,
		&i.IsRead,
		&i.CreatedAt,
	)
	return i, err
}

const createNotification = `-- name: CreateNotification :exec
INSERT INTO notifications (id, user_id, actor_id, type, title, message, article_id, comment_id, data, is_read, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
`

type CreateNotificationParams struct {
	ID        string
	UserID    string
	ActorID   string
	Type      string
	Title     string
	Message   string
	ArticleID string
	CommentID string
	Data      string
	CreatedAt time.Time
}

func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) error {
	_, err := q.db.ExecContext(ctx, createNotification,
		arg.ID,
		arg.UserID,
		arg.ActorID,
		arg.Type,
		arg.Title,
		arg.Message,
		arg.ArticleID,
		arg.CommentID,
		arg.Data,
		arg.CreatedAt,
	)
	return err
}

const getNotification = `-- name: GetNotification :one
SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?
`

func (q *Queries) GetNotification(ctx context.Context, id string) (Notification, error) {
	return scanNotification(q.db.QueryRowContext(ctx, getNotification, id))
}

const listNotifications = `-- name: ListNotifications :many
SELECT ` + notificationColumns + ` FROM notifications
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`

type ListNotificationsParams struct {
	UserID string
	Limit  int64
	Offset int64
}

func (q *Queries) ListNotifications(ctx context.Context, arg ListNotificationsParams) ([]Notification, error) {
	return q.list(ctx, listNotifications, arg.UserID, arg.Limit, arg.Offset)
}

const listNotificationsByReadState = `-- name: ListNotificationsByReadState :many
SELECT ` + notificationColumns + ` FROM notifications
WHERE user_id = ? AND is_read = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`

type ListNotificationsByReadStateParams struct {
	UserID string
	IsRead int64
	Limit  int64
	Offset int64
}

func (q *Queries) ListNotificationsByReadState(ctx context.Context, arg ListNotificationsByReadStateParams) ([]Notification, error) {
	return q.list(ctx, listNotificationsByReadState, arg.UserID, arg.IsRead, arg.Limit, arg.Offset)
}

func (q *Queries) list(ctx context.Context, query string, args ...any) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Notification{}
	for rows.Next() {
		i, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countNotifications = `-- name: CountNotifications :one
SELECT COUNT(*) FROM notifications WHERE user_id = ?
`

func (q *Queries) CountNotifications(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countNotifications, userID).Scan(&count)
	return count, err
}

const countNotificationsByReadState = `-- name: CountNotificationsByReadState :one
SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = ?
`

type CountNotificationsByReadStateParams struct {
	UserID string
	IsRead int64
}

func (q *Queries) CountNotificationsByReadState(ctx context.Context, arg CountNotificationsByReadStateParams) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countNotificationsByReadState, arg.UserID, arg.IsRead).Scan(&count)
	return count, err
}

const markNotificationsRead = `-- name: MarkNotificationsRead :execrows
UPDATE notifications SET is_read = 1
WHERE user_id = ? AND is_read = 0 AND id IN (/*SLICE:ids*/?)
`

type MarkNotificationsReadParams struct {
	UserID string
	Ids    []string
}

func (q *Queries) MarkNotificationsRead(ctx context.Context, arg MarkNotificationsReadParams) (int64, error) {
	if len(arg.Ids) == 0 {
		return 0, nil
	}
	query := markNotificationsRead
	queryParams := make([]any, 0, len(arg.Ids)+1)
	queryParams = append(queryParams, arg.UserID)
	for _, v := range arg.Ids {
		queryParams = append(queryParams, v)
	}
	query = strings.Replace(query, "/*SLICE:ids*/?", strings.Repeat(",?", len(arg.Ids))[1:], 1)
	result, err := q.db.ExecContext(ctx, query, queryParams...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markAllNotificationsRead = `-- name: MarkAllNotificationsRead :execrows
UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0
`

func (q *Queries) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, markAllNotificationsRead, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

package db

import "time"

// Notification は notifications テーブルの1行。
type Notification struct {
	ID        string
	UserID    string
	ActorID   string
	Type      string
	Title     string
	Message   string
	ArticleID string
	CommentID string
	Data      string
	IsRead    int64
	CreatedAt time.Time
}

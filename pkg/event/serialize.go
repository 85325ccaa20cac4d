package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationParams は通知生成時の入力。
type NotificationParams struct {
	RecipientUserID string
	ActorID         string
	Type            Type
	Title           string
	Message         string
	ArticleID       string
	CommentID       string
	// Data には通知種別ごとの追加データ構造体を渡す。JSON形式にシリアライズされる。
	Data any
}

// NewNotification は新しい通知イベントを生成する。
// IDにはUUIDを、作成日時には現在時刻（UTC）を設定する。
func NewNotification(p NotificationParams) (*Notification, error) {
	var data json.RawMessage
	if p.Data != nil {
		b, err := json.Marshal(p.Data)
		if err != nil {
			return nil, fmt.Errorf("通知データのシリアライズに失敗: %w", err)
		}
		data = b
	}

	return &Notification{
		ID:              uuid.New().String(),
		RecipientUserID: p.RecipientUserID,
		ActorID:         p.ActorID,
		Type:            p.Type,
		Title:           p.Title,
		Message:         p.Message,
		ArticleID:       p.ArticleID,
		CommentID:       p.CommentID,
		Data:            data,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// NewCommentCreated はコメント作成イベントを生成する。
func NewCommentCreated(articleID string, comment json.RawMessage) CommentCreated {
	return CommentCreated{
		ArticleID: articleID,
		Comment:   comment,
		Timestamp: time.Now().UTC(),
	}
}

// DecodeData は通知のDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](n *Notification) (*T, error) {
	var data T
	if err := json.Unmarshal(n.Data, &data); err != nil {
		return nil, fmt.Errorf("通知データのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

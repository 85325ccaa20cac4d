package event

import (
	"encoding/json"
	"time"
)

// Type は通知の種類を表す。
type Type string

const (
	// TypeCommentCreated は自分の記事にコメントが付いたことを表す。
	TypeCommentCreated Type = "comment_created"
	// TypeReplyCreated は自分のコメントに返信が付いたことを表す。
	TypeReplyCreated Type = "reply_created"
	// TypeArticleUpdated は自分の記事が他のユーザーに編集されたことを表す。
	TypeArticleUpdated Type = "article_updated"
	// TypeArticleDeleted は自分の記事が他のユーザーに削除されたことを表す。
	TypeArticleDeleted Type = "article_deleted"
	// TypeMention はコメント内でメンションされたことを表す。
	TypeMention Type = "mention"
)

// Valid は既知の通知種別かどうかを返す。
func (t Type) Valid() bool {
	switch t {
	case TypeCommentCreated, TypeReplyCreated, TypeArticleUpdated, TypeArticleDeleted, TypeMention:
		return true
	}
	return false
}

// Notification は特定のユーザー宛ての通知イベント。
// 永続化に成功した時点で生成され、以後は変更されない（既読状態のみストアが管理する）。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `json:"id"`
	// RecipientUserID は通知先のユーザーID。
	RecipientUserID string `json:"recipient_user_id"`
	// ActorID は通知の原因となった操作を行ったユーザーID。
	ActorID string `json:"actor_id"`
	// Type は通知の種類。
	Type Type `json:"type"`
	// Title は通知のタイトル。省略可能。
	Title string `json:"title,omitempty"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// ArticleID は関連する記事ID。省略可能。
	ArticleID string `json:"article_id,omitempty"`
	// CommentID は関連するコメントID。省略可能。
	CommentID string `json:"comment_id,omitempty"`
	// Data は通知種別ごとの追加データ（JSON形式）。
	Data json.RawMessage `json:"data,omitempty"`
	// IsRead は既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知が作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// NotificationPayload はクライアントへ送る notification イベントのデータ。
type NotificationPayload struct {
	// ID は通知の一意識別子。
	ID string `json:"id" msgpack:"id"`
	// Type は通知の種類。
	Type Type `json:"type" msgpack:"type"`
	// Title は通知のタイトル。省略可能。
	Title string `json:"title,omitempty" msgpack:"title,omitempty"`
	// Message は通知メッセージ。
	Message string `json:"message" msgpack:"message"`
	// ActorID は通知の原因となった操作を行ったユーザーID。
	ActorID string `json:"actorId" msgpack:"actor_id"`
	// ArticleID は関連する記事ID。省略可能。
	ArticleID string `json:"articleId,omitempty" msgpack:"article_id,omitempty"`
	// CommentID は関連するコメントID。省略可能。
	CommentID string `json:"commentId,omitempty" msgpack:"comment_id,omitempty"`
	// IsRead は既読状態。配信時点では常に未読。
	IsRead bool `json:"isRead" msgpack:"is_read"`
	// CreatedAt は通知が作成された日時。
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
}

// Payload は通知をクライアント送信用のデータに変換する。
func (n *Notification) Payload() NotificationPayload {
	return NotificationPayload{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		ActorID:   n.ActorID,
		ArticleID: n.ArticleID,
		CommentID: n.CommentID,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

// CommentCreated は記事にコメントが作成されたことを表す一時的なイベント。
// 永続化はされず、ゲートウェイ間とクライアントへの配信にのみ使われる。
type CommentCreated struct {
	// ArticleID はコメントが付いた記事ID。
	ArticleID string `json:"articleId"`
	// Comment は発行元サービスが保存したコメントそのもの（JSON形式）。
	Comment json.RawMessage `json:"comment"`
	// Timestamp はイベントの発生日時。
	Timestamp time.Time `json:"timestamp"`
}

package event

import (
	"testing"
	"time"
)

// TestTypeValid は通知種別の検証を確認する。
func TestTypeValid(t *testing.T) {
	t.Parallel()

	t.Run("既知の通知種別が有効と判定されること", func(t *testing.T) {
		t.Parallel()

		for _, typ := range []Type{TypeCommentCreated, TypeReplyCreated, TypeArticleUpdated, TypeArticleDeleted, TypeMention} {
			if !typ.Valid() {
				t.Errorf("%q.Valid() = false, want true", typ)
			}
		}
	})

	t.Run("未知の通知種別と空文字列が無効と判定されること", func(t *testing.T) {
		t.Parallel()

		if Type("like").Valid() {
			t.Error(`Type("like").Valid() = true, want false`)
		}
		if Type("").Valid() {
			t.Error(`Type("").Valid() = true, want false`)
		}
	})
}

// TestNotificationPayload は通知からクライアント送信用データへの変換を検証する。
func TestNotificationPayload(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := &Notification{
		ID:              "notif-1",
		RecipientUserID: "user-7",
		ActorID:         "user-1",
		Type:            TypeReplyCreated,
		Title:           "返信",
		Message:         "コメントに返信がありました",
		ArticleID:       "article-42",
		CommentID:       "comment-9",
		CreatedAt:       createdAt,
	}

	p := n.Payload()

	if p.ID != "notif-1" {
		t.Errorf("ID = %q, want %q", p.ID, "notif-1")
	}
	if p.Type != TypeReplyCreated {
		t.Errorf("Type = %q, want %q", p.Type, TypeReplyCreated)
	}
	if p.ActorID != "user-1" {
		t.Errorf("ActorID = %q, want %q", p.ActorID, "user-1")
	}
	if p.ArticleID != "article-42" {
		t.Errorf("ArticleID = %q, want %q", p.ArticleID, "article-42")
	}
	if p.CommentID != "comment-9" {
		t.Errorf("CommentID = %q, want %q", p.CommentID, "comment-9")
	}
	if p.IsRead {
		t.Error("IsRead = true, want false")
	}
	if !p.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, createdAt)
	}
}

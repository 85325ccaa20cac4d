// Package storetest は notification.Store の実装が満たすべき振る舞いを検証する共通テストを提供する。
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/livefeed/internal/notification"
	"github.com/nao1215/livefeed/pkg/event"
)

// Factory はテストごとに空の Store を生成する。
type Factory func(t *testing.T) notification.Store

// newNotification は作成日時を base からの offset 秒にした通知を作る。
func newNotification(userID string, base time.Time, offset int) *event.Notification {
	return &event.Notification{
		ID:              uuid.NewString(),
		RecipientUserID: userID,
		ActorID:         "actor-1",
		Type:            event.TypeCommentCreated,
		Message:         "コメントが付きました",
		ArticleID:       "article-1",
		CreatedAt:       base.Add(time.Duration(offset) * time.Second),
	}
}

// seed はユーザーに count 件の通知を作成し、作成順のIDを返す。
func seed(t *testing.T, s notification.Store, userID string, count int) []string {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 0, count)
	for i := range count {
		n := newNotification(userID, base, i)
		if err := s.Create(context.Background(), n); err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}
		ids = append(ids, n.ID)
	}
	return ids
}

func boolPtr(b bool) *bool { return &b }

// Run は Store の共通テストを実行する。
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("保存した通知を取得できること", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		n := &event.Notification{
			ID:              uuid.NewString(),
			RecipientUserID: "user-1",
			ActorID:         "user-2",
			Type:            event.TypeReplyCreated,
			Title:           "返信",
			Message:         "返信が付きました",
			ArticleID:       "article-9",
			CommentID:       "comment-3",
			Data:            json.RawMessage(`{"parentId":"comment-1"}`),
			CreatedAt:       time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		}
		if err := s.Create(ctx, n); err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}

		got, err := s.Get(ctx, n.ID)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if got.RecipientUserID != "user-1" || got.ActorID != "user-2" || got.Type != event.TypeReplyCreated {
			t.Errorf("通知 = %+v", got)
		}
		if got.CommentID != "comment-3" || got.Title != "返信" {
			t.Errorf("CommentID = %q, Title = %q", got.CommentID, got.Title)
		}
		if got.IsRead {
			t.Error("作成直後に既読になっている")
		}
		if !got.CreatedAt.Equal(n.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, n.CreatedAt)
		}
		var data map[string]string
		if err := json.Unmarshal(got.Data, &data); err != nil || data["parentId"] != "comment-1" {
			t.Errorf("Data = %s", got.Data)
		}
	})

	t.Run("存在しない通知はErrNotFoundになること", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, notification.ErrNotFound) {
			t.Errorf("err = %v, want %v", err, notification.ErrNotFound)
		}
	})

	t.Run("一覧が作成日時の降順でページングされること", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ids := seed(t, s, "user-1", 5)
		seed(t, s, "user-2", 2)

		res, err := s.List(ctx, notification.ListParams{UserID: "user-1", Page: 2, PageSize: 2})
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if res.Total != 5 {
			t.Errorf("Total = %d, want 5", res.Total)
		}
		if res.UnreadCount != 5 {
			t.Errorf("UnreadCount = %d, want 5", res.UnreadCount)
		}
		if res.Page != 2 || res.PageSize != 2 {
			t.Errorf("Page = %d, PageSize = %d, want 2, 2", res.Page, res.PageSize)
		}
		if len(res.Items) != 2 {
			t.Fatalf("件数 = %d, want 2", len(res.Items))
		}
		if res.Items[0].ID != ids[2] || res.Items[1].ID != ids[1] {
			t.Errorf("順序 = [%s %s], want [%s %s]", res.Items[0].ID, res.Items[1].ID, ids[2], ids[1])
		}
	})

	t.Run("ページ指定が範囲外の場合は丸められること", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "user-1", 1)

		res, err := s.List(context.Background(), notification.ListParams{UserID: "user-1", Page: 0, PageSize: 1000})
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if res.Page != 1 || res.PageSize != notification.MaxPageSize {
			t.Errorf("Page = %d, PageSize = %d, want 1, %d", res.Page, res.PageSize, notification.MaxPageSize)
		}

		res, err = s.List(context.Background(), notification.ListParams{UserID: "nobody"})
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if res.PageSize != notification.DefaultPageSize || len(res.Items) != 0 || res.Total != 0 {
			t.Errorf("結果 = %+v", res)
		}
	})

	t.Run("既読状態で絞り込めること", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ids := seed(t, s, "user-1", 4)
		if _, err := s.MarkRead(ctx, "user-1", ids[:1]); err != nil {
			t.Fatalf("MarkRead()でエラーが発生: %v", err)
		}

		read, err := s.List(ctx, notification.ListParams{UserID: "user-1", IsRead: boolPtr(true)})
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if read.Total != 1 || len(read.Items) != 1 || read.Items[0].ID != ids[0] || !read.Items[0].IsRead {
			t.Errorf("既読一覧 = %+v", read)
		}
		if read.UnreadCount != 3 {
			t.Errorf("UnreadCount = %d, want 3", read.UnreadCount)
		}

		unread, err := s.List(ctx, notification.ListParams{UserID: "user-1", IsRead: boolPtr(false)})
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if unread.Total != 3 || len(unread.Items) != 3 {
			t.Errorf("未読一覧 Total = %d, 件数 = %d, want 3", unread.Total, len(unread.Items))
		}
	})

	t.Run("他のユーザーの通知は既読にできないこと", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mine := seed(t, s, "user-1", 2)
		theirs := seed(t, s, "user-2", 1)

		n, err := s.MarkRead(ctx, "user-1", []string{mine[0], theirs[0], "missing"})
		if err != nil {
			t.Fatalf("MarkRead()でエラーが発生: %v", err)
		}
		if n != 1 {
			t.Errorf("更新件数 = %d, want 1", n)
		}
		got, err := s.Get(ctx, theirs[0])
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if got.IsRead {
			t.Error("他のユーザーの通知が既読になった")
		}

		n, err = s.MarkRead(ctx, "user-1", nil)
		if err != nil || n != 0 {
			t.Errorf("空のID指定: n = %d, err = %v", n, err)
		}
	})

	t.Run("全件既読は本人の未読だけを更新すること", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ids := seed(t, s, "user-1", 3)
		seed(t, s, "user-2", 2)
		if _, err := s.MarkRead(ctx, "user-1", ids[:1]); err != nil {
			t.Fatalf("MarkRead()でエラーが発生: %v", err)
		}

		n, err := s.MarkAllRead(ctx, "user-1")
		if err != nil {
			t.Fatalf("MarkAllRead()でエラーが発生: %v", err)
		}
		if n != 2 {
			t.Errorf("更新件数 = %d, want 2", n)
		}

		res, err := s.List(ctx, notification.ListParams{UserID: "user-2"})
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if res.UnreadCount != 2 {
			t.Errorf("user-2 UnreadCount = %d, want 2", res.UnreadCount)
		}
	})
}

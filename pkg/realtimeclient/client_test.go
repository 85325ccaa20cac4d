package realtimeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nao1215/livefeed/pkg/event"
	"github.com/nao1215/livefeed/pkg/httpclient"
	"github.com/nao1215/livefeed/pkg/middleware"
)

// received はモックサーバーが受け取ったリクエスト。
type received struct {
	path string
	key  string
	body map[string]any
}

func mockServer(t *testing.T, status int, response string) (*httptest.Server, *received) {
	t.Helper()
	got := &received{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.key = r.Header.Get(middleware.HeaderServiceAPIKey)
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestEmitCommentCreated(t *testing.T) {
	t.Parallel()

	t.Run("サービスAPIキー付きでイベントが送られること", func(t *testing.T) {
		t.Parallel()

		srv, got := mockServer(t, http.StatusOK, `{"message":"ok"}`)
		c := New(srv.URL, "key-1", 0)

		err := c.EmitCommentCreated(context.Background(), "article-1", map[string]string{"id": "c1", "content": "hi"})
		if err != nil {
			t.Fatalf("EmitCommentCreated()でエラーが発生: %v", err)
		}
		if got.path != "/api/v1/internal/events" {
			t.Errorf("path = %q", got.path)
		}
		if got.key != "key-1" {
			t.Errorf("%s = %q, want %q", middleware.HeaderServiceAPIKey, got.key, "key-1")
		}
		if got.body["type"] != "comment_created" || got.body["article_id"] != "article-1" {
			t.Errorf("body = %v", got.body)
		}
		if data, ok := got.body["data"].(map[string]any); !ok || data["content"] != "hi" {
			t.Errorf("data = %v", got.body["data"])
		}
	})

	t.Run("認証エラーはStatusErrorとして返ること", func(t *testing.T) {
		t.Parallel()

		srv, _ := mockServer(t, http.StatusUnauthorized, `{"error":"サービスAPIキーが無効です"}`)
		err := New(srv.URL, "wrong", 0).EmitCommentCreated(context.Background(), "a", "c")

		var se *httpclient.StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
			t.Errorf("err = %v, want StatusError(401)", err)
		}
	})
}

func TestNotify(t *testing.T) {
	t.Parallel()

	srv, got := mockServer(t, http.StatusCreated, `{"notification_id":"n-1","outcome":"delivered"}`)
	c := New(srv.URL, "key-1", 0)

	res, err := c.Notify(context.Background(), event.NotificationParams{
		RecipientUserID: "user-1",
		ActorID:         "user-2",
		Type:            event.TypeMention,
		Message:         "メンションされました",
		CommentID:       "comment-1",
	})
	if err != nil {
		t.Fatalf("Notify()でエラーが発生: %v", err)
	}
	if res.NotificationID != "n-1" || res.Outcome != "delivered" {
		t.Errorf("結果 = %+v", res)
	}
	if got.path != "/api/v1/internal/notifications" {
		t.Errorf("path = %q", got.path)
	}
	if got.body["recipient_user_id"] != "user-1" || got.body["type"] != "mention" || got.body["comment_id"] != "comment-1" {
		t.Errorf("body = %v", got.body)
	}
	if _, ok := got.body["article_id"]; ok {
		t.Error("空の article_id が送られている")
	}
}

// Package realtimeclient は記事サービスなどのバックエンドが通知サービスの内部APIを呼び出すためのクライアント。
package realtimeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/livefeed/pkg/event"
	"github.com/nao1215/livefeed/pkg/httpclient"
	"github.com/nao1215/livefeed/pkg/middleware"
)

// Client は通知サービスの内部APIクライアント。
type Client struct {
	http *httpclient.Client
}

// New は新しいクライアントを生成する。すべてのリクエストにサービスAPIキーを付与する。
func New(baseURL, serviceAPIKey string, timeout time.Duration) *Client {
	opts := []httpclient.Option{httpclient.WithHeader(middleware.HeaderServiceAPIKey, serviceAPIKey)}
	if timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(timeout))
	}
	return &Client{http: httpclient.New(baseURL, opts...)}
}

// EmitCommentCreated は記事にコメントが作成されたことを通知サービスへ送る。
// comment は保存済みのコメントをJSONにできる任意の値。
func (c *Client) EmitCommentCreated(ctx context.Context, articleID string, comment any) error {
	data, err := json.Marshal(comment)
	if err != nil {
		return fmt.Errorf("コメントのシリアライズに失敗: %w", err)
	}
	req := struct {
		Type      event.Type      `json:"type"`
		ArticleID string          `json:"article_id"`
		Data      json.RawMessage `json:"data"`
	}{
		Type:      event.TypeCommentCreated,
		ArticleID: articleID,
		Data:      data,
	}
	if err := c.http.PostJSON(ctx, "/api/v1/internal/events", req, nil); err != nil {
		return fmt.Errorf("コメントイベントの送信に失敗: %w", err)
	}
	return nil
}

// NotifyResult は通知送信の結果。
type NotifyResult struct {
	// NotificationID は保存された通知のID。
	NotificationID string `json:"notification_id"`
	// Outcome は "delivered" または "stored_only"。
	Outcome string `json:"outcome"`
}

// Notify はユーザーへの通知を作成する。受信者がオンラインであれば即時配信される。
func (c *Client) Notify(ctx context.Context, p event.NotificationParams) (*NotifyResult, error) {
	req := struct {
		RecipientUserID string     `json:"recipient_user_id"`
		ActorID         string     `json:"actor_id"`
		Type            event.Type `json:"type"`
		Title           string     `json:"title,omitempty"`
		Message         string     `json:"message"`
		ArticleID       string     `json:"article_id,omitempty"`
		CommentID       string     `json:"comment_id,omitempty"`
		Data            any        `json:"data,omitempty"`
	}{
		RecipientUserID: p.RecipientUserID,
		ActorID:         p.ActorID,
		Type:            p.Type,
		Title:           p.Title,
		Message:         p.Message,
		ArticleID:       p.ArticleID,
		CommentID:       p.CommentID,
		Data:            p.Data,
	}
	var res NotifyResult
	if err := c.http.PostJSON(ctx, "/api/v1/internal/notifications", req, &res); err != nil {
		return nil, fmt.Errorf("通知の送信に失敗: %w", err)
	}
	return &res, nil
}

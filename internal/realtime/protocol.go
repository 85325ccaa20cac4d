package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// クライアントから受信するイベント。
const (
	EventJoinArticle  = "join-article"
	EventLeaveArticle = "leave-article"
	EventJoinUser     = "join-user"
	EventLeaveUser    = "leave-user"
	EventDisconnect   = "disconnect"
)

// クライアントへ送信するイベント。
const (
	EventConnected    = "connected"
	EventJoined       = "joined"
	EventLeft         = "left"
	EventNewComment   = "new-comment"
	EventNotification = "notification"
	EventError        = "error"
)

// inboundFrame はクライアントから受信するフレーム。
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Frame はクライアントへ送信するフレーム。
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// ConnectedData は接続直後に送信する情報。
type ConnectedData struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
}

// TopicData はトピックの参加・離脱の応答。
type TopicData struct {
	Topic string `json:"topic"`
	// Reason は離脱理由。別の接続に紐付けを奪われた場合は "evicted"。
	Reason string `json:"reason,omitempty"`
}

// ErrorData はエラーフレームの内容。
type ErrorData struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// ReasonEvicted はユーザー接続の紐付けを別の接続に奪われたことを表す。
const ReasonEvicted = "evicted"

type articleData struct {
	ArticleID string `json:"articleId"`
	UserID    string `json:"userId,omitempty"`
}

type userData struct {
	UserID string `json:"userId"`
}

func encodeFrame(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("フレームのシリアライズに失敗: %w", err)
	}
	return b, nil
}

func decodeFrame(data []byte) (inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("フレームの形式が不正です: %w", err)
	}
	if f.Event == "" {
		return f, errors.New("イベント名が指定されていません")
	}
	return f, nil
}

func decodeArticleData(raw json.RawMessage) (articleData, error) {
	var d articleData
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("記事イベントの形式が不正です: %w", err)
	}
	d.ArticleID = strings.TrimSpace(d.ArticleID)
	if d.ArticleID == "" {
		return d, errors.New("articleId は必須です")
	}
	return d, nil
}

// decodeUserID はユーザーIDを取り出す。文字列と {"userId": ...} の両方を受け付ける。
func decodeUserID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		var d userData
		if err := json.Unmarshal(raw, &d); err != nil {
			return "", fmt.Errorf("ユーザーイベントの形式が不正です: %w", err)
		}
		id = d.UserID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("userId は必須です")
	}
	return id, nil
}

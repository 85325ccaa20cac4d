package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nao1215/livefeed/pkg/event"
)

// Kind はエンベロープの種別。
type Kind string

const (
	// KindComment は記事へのコメント作成イベント。
	KindComment Kind = "comment"
	// KindNotification は特定の接続へ届ける通知。
	KindNotification Kind = "notification"
	// KindEvict はユーザー接続の紐付けを奪われた接続の追い出し。
	KindEvict Kind = "evict"
)

// Envelope はブリッジ上を流れるメッセージ。
type Envelope struct {
	// Origin は発行したインスタンスのID。自インスタンスの発行分は受信側で無視する。
	Origin string `msgpack:"origin"`
	Kind   Kind   `msgpack:"kind"`

	ArticleID string `msgpack:"article_id,omitempty"`
	// Comment はコメント本体のJSON。
	Comment   []byte    `msgpack:"comment,omitempty"`
	Timestamp time.Time `msgpack:"timestamp"`

	UserID string `msgpack:"user_id,omitempty"`
	// ConnectionID は宛先の接続ID。通知と追い出しで使用する。
	ConnectionID string                     `msgpack:"connection_id,omitempty"`
	Notification *event.NotificationPayload `msgpack:"notification,omitempty"`
}

// NewCommentEnvelope はコメント作成イベントのエンベロープを生成する。
func NewCommentEnvelope(origin string, c event.CommentCreated) *Envelope {
	return &Envelope{
		Origin:    origin,
		Kind:      KindComment,
		ArticleID: c.ArticleID,
		Comment:   []byte(c.Comment),
		Timestamp: c.Timestamp,
	}
}

// NewNotificationEnvelope は接続宛ての通知エンベロープを生成する。
func NewNotificationEnvelope(origin, userID, connID string, p event.NotificationPayload) *Envelope {
	return &Envelope{
		Origin:       origin,
		Kind:         KindNotification,
		UserID:       userID,
		ConnectionID: connID,
		Notification: &p,
		Timestamp:    p.CreatedAt,
	}
}

// NewEvictEnvelope は接続の追い出しエンベロープを生成する。
func NewEvictEnvelope(origin, userID, connID string) *Envelope {
	return &Envelope{
		Origin:       origin,
		Kind:         KindEvict,
		UserID:       userID,
		ConnectionID: connID,
		Timestamp:    time.Now().UTC(),
	}
}

// CommentCreated はエンベロープをコメント作成イベントに戻す。
func (e *Envelope) CommentCreated() event.CommentCreated {
	var comment json.RawMessage
	if len(e.Comment) > 0 {
		comment = json.RawMessage(e.Comment)
	}
	return event.CommentCreated{
		ArticleID: e.ArticleID,
		Comment:   comment,
		Timestamp: e.Timestamp.UTC(),
	}
}

// Encode はエンベロープをmsgpackにエンコードする。
func (e *Envelope) Encode() ([]byte, error) {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("エンベロープのエンコードに失敗: %w", err)
	}
	return b, nil
}

// Decode はmsgpackのペイロードをエンベロープにデコードする。
func Decode(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("エンベロープのデコードに失敗: %w", err)
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (e *Envelope) validate() error {
	switch e.Kind {
	case KindComment:
		if e.ArticleID == "" {
			return errors.New("コメントのエンベロープに記事IDがありません")
		}
	case KindNotification:
		if e.ConnectionID == "" || e.Notification == nil {
			return errors.New("通知のエンベロープに宛先または通知本体がありません")
		}
	case KindEvict:
		if e.ConnectionID == "" {
			return errors.New("追い出しのエンベロープに接続IDがありません")
		}
	default:
		return fmt.Errorf("不明なエンベロープ種別です: %q", e.Kind)
	}
	return nil
}

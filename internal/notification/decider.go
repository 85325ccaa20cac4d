package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nao1215/livefeed/pkg/event"
)

// Outcome は通知の配信結果を表す。
type Outcome string

const (
	// OutcomeDelivered はオンラインのユーザーへ即時配信したことを表す。
	OutcomeDelivered Outcome = "delivered"
	// OutcomeStoredOnly は保存のみ行い、次回の一覧取得で受け取られることを表す。
	OutcomeStoredOnly Outcome = "stored_only"
)

// ErrInvalidNotification は通知の入力が不正な場合のエラー。
var ErrInvalidNotification = errors.New("通知の入力が不正です")

// UserLocator はユーザーが現在紐付いている接続を探す。
type UserLocator interface {
	LookupUserConnection(ctx context.Context, userID string) (connID string, found bool, err error)
}

// Pusher は接続へ通知を送る。
type Pusher interface {
	PushNotification(ctx context.Context, userID, connID string, p event.NotificationPayload) error
}

// Decider は通知を保存し、受信者がオンラインであれば即時配信する。
type Decider struct {
	store         Store
	locator       UserLocator
	pusher        Pusher
	lookupTimeout time.Duration
	log           zerolog.Logger
}

// NewDecider は新しい Decider を生成する。lookupTimeout が0以下の場合は1秒になる。
func NewDecider(store Store, locator UserLocator, pusher Pusher, lookupTimeout time.Duration, log zerolog.Logger) *Decider {
	if lookupTimeout <= 0 {
		lookupTimeout = time.Second
	}
	return &Decider{
		store:         store,
		locator:       locator,
		pusher:        pusher,
		lookupTimeout: lookupTimeout,
		log:           log,
	}
}

// Notify は入力から通知を生成して Deliver する。
func (d *Decider) Notify(ctx context.Context, p event.NotificationParams) (*event.Notification, Outcome, error) {
	if p.RecipientUserID == "" || p.ActorID == "" || p.Message == "" {
		return nil, "", fmt.Errorf("%w: recipient、actor、message は必須です", ErrInvalidNotification)
	}
	if !p.Type.Valid() {
		return nil, "", fmt.Errorf("%w: 不明な通知種別 %q", ErrInvalidNotification, p.Type)
	}
	n, err := event.NewNotification(p)
	if err != nil {
		return nil, "", err
	}
	outcome, err := d.Deliver(ctx, n)
	if err != nil {
		return nil, "", err
	}
	return n, outcome, nil
}

// Deliver は通知を保存してから受信者の接続を探し、見つかれば配信する。
// 保存に失敗した場合のみエラーを返す。
// 接続の検索や配信に失敗しても通知は保存済みのため StoredOnly になる。
func (d *Decider) Deliver(ctx context.Context, n *event.Notification) (Outcome, error) {
	if err := d.store.Create(ctx, n); err != nil {
		return "", err
	}

	log := d.log.With().
		Str("notification_id", n.ID).
		Str("recipient", n.RecipientUserID).
		Logger()

	lookupCtx, cancel := context.WithTimeout(ctx, d.lookupTimeout)
	defer cancel()
	connID, found, err := d.locator.LookupUserConnection(lookupCtx, n.RecipientUserID)
	if err != nil {
		log.Warn().Err(err).Msg("接続の検索に失敗したため保存のみ行います")
		return OutcomeStoredOnly, nil
	}
	if !found {
		return OutcomeStoredOnly, nil
	}

	if err := d.pusher.PushNotification(ctx, n.RecipientUserID, connID, n.Payload()); err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Msg("通知の配信に失敗したため保存のみ行います")
		return OutcomeStoredOnly, nil
	}
	log.Debug().Str("conn_id", connID).Msg("通知を配信しました")
	return OutcomeDelivered, nil
}

package realtime

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/time/rate"
)

var (
	// ErrSlowConsumer は送信キューが満杯のためフレームを破棄した場合のエラー。
	ErrSlowConsumer = errors.New("送信キューが満杯です")
	// ErrConnectionClosed は接続が開いていないためフレームを送信できない場合のエラー。
	ErrConnectionClosed = errors.New("接続は閉じられています")
)

// State は接続の状態。
type State int32

const (
	// StateConnecting は接続を受け付けてから登録が完了するまでの状態。
	StateConnecting State = iota
	// StateOpen はイベントの送受信が可能な状態。
	StateOpen
	// StateClosing は切断処理中の状態。
	StateClosing
	// StateClosed は切断処理が完了した状態。
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn はゲートウェイが管理する1本の接続。
type Conn struct {
	id     string
	userID string

	transport Transport
	send      chan []byte
	limiter   *rate.Limiter
	state     atomic.Int32

	// ctx は接続の生存期間。切断時にキャンセルされ、接続に紐付く処理をすべて止める。
	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(parent context.Context, id, userID string, t Transport, queueSize int, limiter *rate.Limiter) *Conn {
	ctx, cancel := context.WithCancel(parent)
	c := &Conn{
		id:        id,
		userID:    userID,
		transport: t,
		send:      make(chan []byte, queueSize),
		limiter:   limiter,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID は接続IDを返す。
func (c *Conn) ID() string { return c.id }

// UserID は認証済みのユーザーIDを返す。匿名接続の場合は空。
func (c *Conn) UserID() string { return c.userID }

// State は現在の状態を返す。
func (c *Conn) State() State { return State(c.state.Load()) }

// Context は接続の生存期間に紐付くコンテキストを返す。
func (c *Conn) Context() context.Context { return c.ctx }

// transition は from から to への遷移を試み、成功したかを返す。
func (c *Conn) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// enqueue はフレームを送信キューへ投入する。ブロックしない。
func (c *Conn) enqueue(frame []byte) error {
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (c *Conn) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nao1215/livefeed/internal/bridge"
	"github.com/nao1215/livefeed/internal/presence"
	"github.com/nao1215/livefeed/pkg/event"
)

// errClientDisconnect はクライアントが disconnect イベントを送信したことを表す。
var errClientDisconnect = errors.New("クライアントから切断が要求されました")

// Options はゲートウェイの設定。ゼロ値の項目には既定値が使われる。
type Options struct {
	// SendQueueSize は接続ごとの送信キューの長さ。既定値は64。
	SendQueueSize int
	// IOTimeout はプレゼンスディレクトリへの1操作あたりのタイムアウト。既定値は500ミリ秒。
	IOTimeout time.Duration
	// CleanupTimeout は切断時の掃除に使うタイムアウト。既定値は5秒。
	CleanupTimeout time.Duration
	// WriteTimeout は1フレームの書き込みタイムアウト。既定値は5秒。
	WriteTimeout time.Duration
	// RateLimit は接続ごとに受け付ける1秒あたりのイベント数。既定値は20。
	RateLimit rate.Limit
	// RateBurst は RateLimit のバースト値。既定値は40。
	RateBurst int
	// ReadLimit は受信フレームの最大バイト数。既定値は64KiB。
	ReadLimit int64
	// OriginPatterns はWebSocketのOriginとして許可するホストのパターン。"*" はすべてを許可する。
	OriginPatterns []string
	// Authenticate はアップグレード要求から認証済みユーザーIDを取り出す。
	// 認証情報がない場合は空文字とnilを返す。
	Authenticate Authenticator
}

func (o Options) withDefaults() Options {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = 500 * time.Millisecond
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 20
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 40
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	return o
}

// Gateway は接続の受け付けとトピック単位の配信を行う。
// main で1つだけ生成し、必要なコンポーネントへ注入する。
type Gateway struct {
	instanceID string
	dir        presence.Directory
	bridge     bridge.Bridge
	registry   *Registry
	opts       Options
	log        zerolog.Logger

	// base はゲートウェイの生存期間。Start で設定され、終了時に全接続を閉じる。
	base   context.Context
	active sync.WaitGroup
}

// New は新しいゲートウェイを生成する。
func New(instanceID string, dir presence.Directory, br bridge.Bridge, opts Options, log zerolog.Logger) *Gateway {
	return &Gateway{
		instanceID: instanceID,
		dir:        dir,
		bridge:     br,
		registry:   NewRegistry(),
		opts:       opts.withDefaults(),
		log:        log.With().Str("component", "gateway").Str("instance_id", instanceID).Logger(),
		base:       context.Background(),
	}
}

// InstanceID はこのゲートウェイのインスタンスIDを返す。
func (g *Gateway) InstanceID() string { return g.instanceID }

// Registry はローカルの接続レジストリを返す。
func (g *Gateway) Registry() *Registry { return g.registry }

// ConnectionCount は現在の接続数を返す。
func (g *Gateway) ConnectionCount() int { return g.registry.Len() }

// Start はブリッジの購読を開始する。接続を受け付ける前に呼び出す。
// ctx が終了すると購読を停止し、すべての接続を閉じる。
func (g *Gateway) Start(ctx context.Context) error {
	g.base = ctx
	if err := g.bridge.Subscribe(ctx, bridge.ChannelComments, g.onBridgeMessage); err != nil {
		return fmt.Errorf("コメントチャネルの購読に失敗: %w", err)
	}
	if err := g.bridge.Subscribe(ctx, bridge.ChannelNotifications, g.onBridgeMessage); err != nil {
		return fmt.Errorf("通知チャネルの購読に失敗: %w", err)
	}
	g.log.Info().Msg("ゲートウェイを開始しました")
	return nil
}

// Wait はすべての接続の切断処理が終わるまで待つ。
// Start に渡したコンテキストを終了させた後に呼び出す。
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach は Transport を接続として登録し、切断されるまでイベントを処理する。
// userID は認証済みのユーザーID。匿名接続の場合は空文字を渡す。
func (g *Gateway) Attach(ctx context.Context, t Transport, userID string) error {
	g.active.Add(1)
	defer g.active.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.base, cancel)
	defer stop()

	c := newConn(ctx, uuid.NewString(), userID, t, g.opts.SendQueueSize, rate.NewLimiter(g.opts.RateLimit, g.opts.RateBurst))
	log := g.log.With().Str("conn_id", c.id).Str("user_id", userID).Logger()

	if err := g.directoryCall(c.ctx, func(ctx context.Context) error {
		return g.dir.RecordConnection(ctx, c.id, g.instanceID)
	}); err != nil {
		log.Warn().Err(err).Msg("接続の登録に失敗")
	}
	g.registry.Add(c)
	c.transition(StateConnecting, StateOpen)
	g.send(c, Frame{Event: EventConnected, Data: ConnectedData{ConnectionID: c.id, UserID: userID}})
	log.Debug().Msg("接続しました")

	eg, egCtx := errgroup.WithContext(c.ctx)
	eg.Go(func() error {
		defer c.cancel()
		return g.readLoop(egCtx, c, log)
	})
	eg.Go(func() error {
		return g.writeLoop(egCtx, c)
	})
	err := eg.Wait()

	g.disconnect(c, log)
	if isNormalClose(err) {
		return nil
	}
	return err
}

func (g *Gateway) readLoop(ctx context.Context, c *Conn, log zerolog.Logger) error {
	for {
		data, err := c.transport.Read(ctx)
		if err != nil {
			return err
		}
		if !c.allow() {
			g.sendError(c, "", "イベントの送信頻度が上限を超えました")
			continue
		}
		if err := g.handleFrame(ctx, c, data, log); err != nil {
			return err
		}
	}
}

func (g *Gateway) writeLoop(ctx context.Context, c *Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
			err := c.transport.Write(wctx, frame)
			cancel()
			if err != nil {
				return fmt.Errorf("フレームの送信に失敗: %w", err)
			}
		}
	}
}

// disconnect は接続をレジストリから外し、ディレクトリのエントリをすべて削除する。
// 接続のコンテキストは既に終了しているため、掃除には独立したタイムアウトを使う。
func (g *Gateway) disconnect(c *Conn, log zerolog.Logger) {
	c.state.Store(int32(StateClosing))
	c.cancel()

	topics := g.registry.Remove(c.id)

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.CleanupTimeout)
	defer cancel()
	if err := g.dir.ClearConnection(ctx, c.id); err != nil {
		log.Warn().Err(err).Msg("切断時の掃除に失敗")
	}
	_ = c.transport.Close("")

	c.state.Store(int32(StateClosed))
	log.Debug().Int("topics", len(topics)).Msg("切断しました")
}

func (g *Gateway) handleFrame(ctx context.Context, c *Conn, data []byte, log zerolog.Logger) error {
	f, err := decodeFrame(data)
	if err != nil {
		g.sendError(c, "", err.Error())
		return nil
	}

	switch f.Event {
	case EventJoinArticle:
		g.joinArticle(ctx, c, f.Data, log)
	case EventLeaveArticle:
		g.leaveArticle(ctx, c, f.Data, log)
	case EventJoinUser:
		g.joinUser(ctx, c, f.Data, log)
	case EventLeaveUser:
		g.leaveUser(ctx, c, f.Data, log)
	case EventDisconnect:
		return errClientDisconnect
	default:
		g.sendError(c, f.Event, fmt.Sprintf("未対応のイベントです: %s", f.Event))
	}
	return nil
}

// joinArticle は記事トピックに参加する。ディレクトリへの記録が成功した場合のみローカルに参加する。
func (g *Gateway) joinArticle(ctx context.Context, c *Conn, raw json.RawMessage, log zerolog.Logger) {
	d, err := decodeArticleData(raw)
	if err != nil {
		g.sendError(c, EventJoinArticle, err.Error())
		return
	}
	topic := event.ArticleTopic(d.ArticleID)

	userID := c.userID
	if userID == "" {
		userID = d.UserID
	}
	meta := presence.JoinMetadata{SocketID: c.id, UserID: userID, JoinedAt: time.Now().UTC()}
	if err := g.directoryCall(ctx, func(ctx context.Context) error {
		return g.dir.RecordJoin(ctx, c.id, topic, meta)
	}); err != nil {
		log.Warn().Err(err).Str("topic", string(topic)).Msg("参加の記録に失敗")
		g.sendError(c, EventJoinArticle, "参加の記録に失敗しました")
		return
	}

	g.registry.Join(c.id, topic)
	g.send(c, Frame{Event: EventJoined, Data: TopicData{Topic: string(topic)}})
}

// leaveArticle は記事トピックから離脱する。ローカルの参加を先に外す。
func (g *Gateway) leaveArticle(ctx context.Context, c *Conn, raw json.RawMessage, log zerolog.Logger) {
	d, err := decodeArticleData(raw)
	if err != nil {
		g.sendError(c, EventLeaveArticle, err.Error())
		return
	}
	topic := event.ArticleTopic(d.ArticleID)

	g.registry.Leave(c.id, topic)
	if err := g.directoryCall(ctx, func(ctx context.Context) error {
		return g.dir.RecordLeave(ctx, c.id, topic)
	}); err != nil {
		log.Warn().Err(err).Str("topic", string(topic)).Msg("離脱の記録に失敗")
	}
	g.send(c, Frame{Event: EventLeft, Data: TopicData{Topic: string(topic)}})
}

// joinUser はユーザー個人のトピックに参加する。
// 認証済みの本人のみ参加でき、同じユーザーの以前の接続は紐付けを失う。
func (g *Gateway) joinUser(ctx context.Context, c *Conn, raw json.RawMessage, log zerolog.Logger) {
	userID, err := decodeUserID(raw)
	if err != nil {
		g.sendError(c, EventJoinUser, err.Error())
		return
	}
	if c.userID == "" {
		g.sendError(c, EventJoinUser, "ユーザーチャネルへの参加には認証が必要です")
		return
	}
	if userID != c.userID {
		g.sendError(c, EventJoinUser, "他のユーザーのチャネルには参加できません")
		return
	}
	topic := event.UserTopic(userID)

	var evicted string
	if err := g.directoryCall(ctx, func(ctx context.Context) error {
		var err error
		evicted, err = g.dir.RecordUserSocket(ctx, userID, c.id)
		return err
	}); err != nil {
		log.Warn().Err(err).Msg("ユーザー接続の記録に失敗")
		g.sendError(c, EventJoinUser, "参加の記録に失敗しました")
		return
	}

	g.registry.Join(c.id, topic)
	if evicted != "" {
		g.evict(ctx, userID, evicted, log)
	}
	g.send(c, Frame{Event: EventJoined, Data: TopicData{Topic: string(topic)}})
}

// leaveUser はユーザー個人のトピックから離脱する。
// 紐付けの解除は自身が紐付け先である場合にのみ効く。
func (g *Gateway) leaveUser(ctx context.Context, c *Conn, raw json.RawMessage, log zerolog.Logger) {
	userID, err := decodeUserID(raw)
	if err != nil {
		g.sendError(c, EventLeaveUser, err.Error())
		return
	}
	topic := event.UserTopic(userID)

	g.registry.Leave(c.id, topic)
	if err := g.directoryCall(ctx, func(ctx context.Context) error {
		return g.dir.ClearUserSocket(ctx, userID, c.id)
	}); err != nil {
		log.Warn().Err(err).Msg("ユーザー接続の解除に失敗")
	}
	g.send(c, Frame{Event: EventLeft, Data: TopicData{Topic: string(topic)}})
}

// evict は紐付けを奪われた接続をユーザートピックから外す。
// 接続が他のインスタンスにある場合はブリッジ経由で依頼する。
func (g *Gateway) evict(ctx context.Context, userID, connID string, log zerolog.Logger) {
	if g.evictLocal(userID, connID) {
		return
	}
	payload, err := bridge.NewEvictEnvelope(g.instanceID, userID, connID).Encode()
	if err != nil {
		log.Error().Err(err).Msg("追い出し要求の作成に失敗")
		return
	}
	if err := g.bridge.Publish(ctx, bridge.ChannelNotifications, payload); err != nil {
		log.Warn().Err(err).Str("evicted", connID).Msg("追い出し要求の発行に失敗")
	}
}

func (g *Gateway) evictLocal(userID, connID string) bool {
	c, ok := g.registry.Get(connID)
	if !ok {
		return false
	}
	topic := event.UserTopic(userID)
	if g.registry.Leave(connID, topic) {
		g.send(c, Frame{Event: EventLeft, Data: TopicData{Topic: string(topic), Reason: ReasonEvicted}})
	}
	return true
}

// Resync はローカルの接続と参加トピックをディレクトリへ登録し直す。
// 生存通知が途切れている間に自インスタンスのエントリが掃除された後に呼び出す。
// その間に同じユーザーが別の接続で参加していた場合はそちらを優先し、ローカルの接続をユーザートピックから外す。
func (g *Gateway) Resync(ctx context.Context) error {
	var errs []error
	restored := 0
	for _, c := range g.registry.Conns() {
		if c.State() != StateOpen {
			continue
		}
		if err := g.resyncConn(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("接続 %s の再登録に失敗: %w", c.id, err))
			continue
		}
		restored++
	}
	g.log.Info().Int("restored", restored).Int("failed", len(errs)).Msg("接続を再登録しました")
	return errors.Join(errs...)
}

func (g *Gateway) resyncConn(ctx context.Context, c *Conn) error {
	if err := g.directoryCall(ctx, func(ctx context.Context) error {
		return g.dir.RecordConnection(ctx, c.id, g.instanceID)
	}); err != nil {
		return err
	}
	for _, topic := range g.registry.Topics(c.id) {
		if topic.IsUser() {
			if err := g.resyncUser(ctx, c, topic.ID()); err != nil {
				return err
			}
			continue
		}
		meta := presence.JoinMetadata{SocketID: c.id, UserID: c.userID, JoinedAt: time.Now().UTC()}
		if err := g.directoryCall(ctx, func(ctx context.Context) error {
			return g.dir.RecordJoin(ctx, c.id, topic, meta)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) resyncUser(ctx context.Context, c *Conn, userID string) error {
	var (
		current string
		found   bool
	)
	if err := g.directoryCall(ctx, func(ctx context.Context) error {
		var err error
		current, found, err = g.dir.LookupUserConnection(ctx, userID)
		return err
	}); err != nil {
		return err
	}
	switch {
	case found && current == c.id:
		return nil
	case found:
		g.evictLocal(userID, c.id)
		return nil
	}
	return g.directoryCall(ctx, func(ctx context.Context) error {
		_, err := g.dir.RecordUserSocket(ctx, userID, c.id)
		return err
	})
}

// EmitCommentCreated は記事の参加者へコメント作成を配信する。
// ローカルの参加者へ直接配信したうえで、他インスタンス向けにブリッジへ発行する。
// 発行に失敗した場合はエラーを返すが、ローカルへの配信は完了している。
func (g *Gateway) EmitCommentCreated(ctx context.Context, articleID string, comment json.RawMessage) error {
	ev := event.NewCommentCreated(articleID, comment)
	g.deliverComment(ev)

	payload, err := bridge.NewCommentEnvelope(g.instanceID, ev).Encode()
	if err != nil {
		return err
	}
	if err := g.bridge.Publish(ctx, bridge.ChannelComments, payload); err != nil {
		g.log.Warn().Err(err).Str("article_id", articleID).Msg("コメントイベントの発行に失敗")
		return err
	}
	return nil
}

// PushNotification は接続へ通知を届ける。
// 接続がローカルにあれば直接送信し、なければ接続を保持するインスタンスへブリッジ経由で転送する。
func (g *Gateway) PushNotification(ctx context.Context, userID, connID string, p event.NotificationPayload) error {
	if _, ok := g.registry.Get(connID); ok {
		return g.deliverNotification(connID, p)
	}
	payload, err := bridge.NewNotificationEnvelope(g.instanceID, userID, connID, p).Encode()
	if err != nil {
		return err
	}
	return g.bridge.Publish(ctx, bridge.ChannelNotifications, payload)
}

// deliverComment は記事のローカル参加者へコメントを配信し、配信できた接続数を返す。
func (g *Gateway) deliverComment(ev event.CommentCreated) int {
	members := g.registry.Members(event.ArticleTopic(ev.ArticleID))
	if len(members) == 0 {
		return 0
	}
	frame, err := encodeFrame(Frame{Event: EventNewComment, Data: ev})
	if err != nil {
		g.log.Error().Err(err).Str("article_id", ev.ArticleID).Msg("コメントフレームの作成に失敗")
		return 0
	}

	delivered := 0
	for _, c := range members {
		if err := c.enqueue(frame); err != nil {
			if errors.Is(err, ErrSlowConsumer) {
				g.log.Warn().Str("conn_id", c.id).Msg("送信キューが満杯のためコメントを破棄しました")
			}
			continue
		}
		delivered++
	}
	return delivered
}

func (g *Gateway) deliverNotification(connID string, p event.NotificationPayload) error {
	c, ok := g.registry.Get(connID)
	if !ok {
		return ErrConnectionClosed
	}
	frame, err := encodeFrame(Frame{Event: EventNotification, Data: p})
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// onBridgeMessage はブリッジから受信したメッセージをローカルの接続へ配信する。
// 自インスタンスが発行したメッセージは発行時に配信済みのため無視する。
func (g *Gateway) onBridgeMessage(_ context.Context, payload []byte) {
	env, err := bridge.Decode(payload)
	if err != nil {
		g.log.Warn().Err(err).Msg("ブリッジメッセージの解析に失敗")
		return
	}
	if env.Origin == g.instanceID {
		return
	}

	switch env.Kind {
	case bridge.KindComment:
		g.deliverComment(env.CommentCreated())
	case bridge.KindNotification:
		if err := g.deliverNotification(env.ConnectionID, *env.Notification); err != nil && !errors.Is(err, ErrConnectionClosed) {
			g.log.Warn().Err(err).Str("conn_id", env.ConnectionID).Msg("転送された通知の配信に失敗")
		}
	case bridge.KindEvict:
		g.evictLocal(env.UserID, env.ConnectionID)
	}
}

func (g *Gateway) directoryCall(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.IOTimeout)
	defer cancel()
	return fn(ctx)
}

func (g *Gateway) send(c *Conn, f Frame) {
	frame, err := encodeFrame(f)
	if err != nil {
		g.log.Error().Err(err).Str("event", f.Event).Msg("フレームの作成に失敗")
		return
	}
	if err := c.enqueue(frame); err != nil {
		g.log.Debug().Err(err).Str("conn_id", c.id).Str("event", f.Event).Msg("フレームを送信できませんでした")
	}
}

func (g *Gateway) sendError(c *Conn, eventName, message string) {
	g.send(c, Frame{Event: EventError, Data: ErrorData{Event: eventName, Message: message}})
}

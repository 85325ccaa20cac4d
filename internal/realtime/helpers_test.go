package realtime

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nao1215/livefeed/internal/bridge"
	"github.com/nao1215/livefeed/internal/presence"
	"github.com/nao1215/livefeed/pkg/event"
)

const waitTimeout = 2 * time.Second

// fakeTransport はチャネルで送受信するテスト用の Transport。
type fakeTransport struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	// stall が真の間は Write がコンテキスト終了までブロックする。
	stall atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, io.EOF
	case b := <-t.in:
		return b, nil
	}
}

func (t *fakeTransport) Write(ctx context.Context, data []byte) error {
	if t.stall.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return io.ErrClosedPipe
	case t.out <- data:
		return nil
	}
}

func (t *fakeTransport) Close(string) error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// receivedFrame はクライアントが受信したフレーム。
type receivedFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// testClient はゲートウェイに接続したテスト用クライアント。
type testClient struct {
	t      *testing.T
	tr     *fakeTransport
	connID string
	done   chan error
}

// connect はゲートウェイに接続し、接続IDを受信するまで待つ。
func connect(t *testing.T, g *Gateway, userID string) *testClient {
	t.Helper()

	c := &testClient{t: t, tr: newFakeTransport(), done: make(chan error, 1)}
	go func() { c.done <- g.Attach(t.Context(), c.tr, userID) }()

	f := c.expect(EventConnected)
	var data ConnectedData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		t.Fatalf("connectedフレームの解析に失敗: %v", err)
	}
	c.connID = data.ConnectionID
	t.Cleanup(func() { c.close() })
	return c
}

// send はイベントを送信する。
func (c *testClient) send(eventName string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("データのシリアライズに失敗: %v", err)
	}
	b, err := json.Marshal(inboundFrame{Event: eventName, Data: raw})
	if err != nil {
		c.t.Fatalf("フレームのシリアライズに失敗: %v", err)
	}
	c.sendRaw(b)
}

func (c *testClient) sendRaw(b []byte) {
	c.t.Helper()
	select {
	case c.tr.in <- b:
	case <-time.After(waitTimeout):
		c.t.Fatal("フレームを送信できなかった")
	}
}

// next は次のフレームを受信する。
func (c *testClient) next() receivedFrame {
	c.t.Helper()
	select {
	case b := <-c.tr.out:
		var f receivedFrame
		if err := json.Unmarshal(b, &f); err != nil {
			c.t.Fatalf("フレームの解析に失敗: %v", err)
		}
		return f
	case <-time.After(waitTimeout):
		c.t.Fatal("フレームを受信できなかった")
		return receivedFrame{}
	}
}

// expect は次のフレームが指定したイベントであることを検証する。
func (c *testClient) expect(eventName string) receivedFrame {
	c.t.Helper()
	f := c.next()
	if f.Event != eventName {
		c.t.Fatalf("受信イベント = %q (%s), want %q", f.Event, f.Data, eventName)
	}
	return f
}

// expectNone は一定時間フレームを受信しないことを検証する。
func (c *testClient) expectNone() {
	c.t.Helper()
	select {
	case b := <-c.tr.out:
		c.t.Errorf("想定外のフレームを受信: %s", b)
	case <-time.After(100 * time.Millisecond):
	}
}

func (c *testClient) joinArticle(articleID string) {
	c.t.Helper()
	c.send(EventJoinArticle, map[string]string{"articleId": articleID})
	c.expect(EventJoined)
}

func (c *testClient) joinUser(userID string) {
	c.t.Helper()
	c.send(EventJoinUser, userID)
	c.expect(EventJoined)
}

// close は接続を閉じ、ゲートウェイの切断処理が完了するまで待つ。
func (c *testClient) close() error {
	_ = c.tr.Close("")
	select {
	case err := <-c.done:
		c.done <- err
		return err
	case <-time.After(waitTimeout):
		c.t.Error("切断処理が完了しなかった")
		return nil
	}
}

// newTestGateway はメモリ実装のディレクトリとブローカーでゲートウェイを起動する。
func newTestGateway(t *testing.T, instanceID string, dir presence.Directory, broker bridge.Bridge, opts Options) *Gateway {
	t.Helper()
	g := New(instanceID, dir, broker, opts, zerolog.Nop())
	if err := g.Start(t.Context()); err != nil {
		t.Fatalf("Start()でエラーが発生: %v", err)
	}
	return g
}

// decodeTopic はjoined/leftフレームのトピックを取り出す。
func decodeTopic(t *testing.T, f receivedFrame) TopicData {
	t.Helper()
	var d TopicData
	if err := json.Unmarshal(f.Data, &d); err != nil {
		t.Fatalf("トピックの解析に失敗: %v", err)
	}
	return d
}

// decodeComment はnew-commentフレームを取り出す。
func decodeComment(t *testing.T, f receivedFrame) event.CommentCreated {
	t.Helper()
	var d event.CommentCreated
	if err := json.Unmarshal(f.Data, &d); err != nil {
		t.Fatalf("コメントの解析に失敗: %v", err)
	}
	return d
}

// failingDirectory は指定した操作だけ失敗させる Directory。
type failingDirectory struct {
	*presence.MemoryDirectory
	failJoin bool
	failUser bool
}

func (d *failingDirectory) RecordJoin(ctx context.Context, connID string, topic event.Topic, meta presence.JoinMetadata) error {
	if d.failJoin {
		return presence.ErrDirectoryUnavailable
	}
	return d.MemoryDirectory.RecordJoin(ctx, connID, topic, meta)
}

func (d *failingDirectory) RecordUserSocket(ctx context.Context, userID, connID string) (string, error) {
	if d.failUser {
		return "", presence.ErrDirectoryUnavailable
	}
	return d.MemoryDirectory.RecordUserSocket(ctx, userID, connID)
}

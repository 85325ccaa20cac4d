package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nao1215/livefeed/internal/bridge"
	"github.com/nao1215/livefeed/internal/presence"
)

// queryAuthenticator はクエリパラメータ user を認証済みユーザーとして扱う。
func queryAuthenticator(r *http.Request) (string, error) {
	user := r.URL.Query().Get("user")
	if user == "invalid" {
		return "", errors.New("invalid token")
	}
	return user, nil
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	ctx, cancel := context.WithTimeout(t.Context(), waitTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) receivedFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), waitTimeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read()でエラーが発生: %v", err)
	}
	var f receivedFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("フレームの解析に失敗: %v", err)
	}
	return f
}

func writeWS(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.Write(t.Context(), websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("Write()でエラーが発生: %v", err)
	}
}

func TestGatewayWebSocket(t *testing.T) {
	t.Parallel()

	newServer := func(t *testing.T, dir presence.Directory) (*Gateway, *httptest.Server) {
		t.Helper()
		g := newTestGateway(t, "instance-1", dir, bridge.NewMemoryBroker(), Options{Authenticate: queryAuthenticator})
		mux := http.NewServeMux()
		mux.Handle("/ws", g)
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)
		return g, srv
	}

	t.Run("WebSocketで参加したクライアントにコメントが届くこと", func(t *testing.T) {
		t.Parallel()
		g, srv := newServer(t, presence.NewMemoryDirectory())
		conn := dialWS(t, srv, "")

		if f := readWS(t, conn); f.Event != EventConnected {
			t.Fatalf("最初のイベント = %q, want connected", f.Event)
		}
		writeWS(t, conn, `{"event":"join-article","data":{"articleId":"42"}}`)
		if f := readWS(t, conn); f.Event != EventJoined {
			t.Fatalf("イベント = %q, want joined", f.Event)
		}

		if err := g.EmitCommentCreated(t.Context(), "42", json.RawMessage(`{"text":"hi"}`)); err != nil {
			t.Fatalf("EmitCommentCreated()でエラーが発生: %v", err)
		}
		f := readWS(t, conn)
		if f.Event != EventNewComment {
			t.Fatalf("イベント = %q, want new-comment", f.Event)
		}
		if got := decodeComment(t, f); got.ArticleID != "42" {
			t.Errorf("articleId = %q, want 42", got.ArticleID)
		}
	})

	t.Run("認証済みユーザーIDが接続に紐付くこと", func(t *testing.T) {
		t.Parallel()
		_, srv := newServer(t, presence.NewMemoryDirectory())
		conn := dialWS(t, srv, "?user=7")

		f := readWS(t, conn)
		var d ConnectedData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			t.Fatalf("connectedフレームの解析に失敗: %v", err)
		}
		if d.UserID != "7" || d.ConnectionID == "" {
			t.Errorf("connected = %+v", d)
		}
		writeWS(t, conn, `{"event":"join-user","data":"7"}`)
		if f := readWS(t, conn); f.Event != EventJoined {
			t.Errorf("イベント = %q, want joined", f.Event)
		}
	})

	t.Run("不正なトークンではアップグレードを拒否すること", func(t *testing.T) {
		t.Parallel()
		_, srv := newServer(t, presence.NewMemoryDirectory())

		resp, err := http.Get(srv.URL + "/ws?user=invalid")
		if err != nil {
			t.Fatalf("GET でエラーが発生: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
	})

	t.Run("クライアントが切断するとディレクトリから接続が消えること", func(t *testing.T) {
		t.Parallel()
		dir := presence.NewMemoryDirectory()
		g, srv := newServer(t, dir)
		conn := dialWS(t, srv, "?user=7")
		readWS(t, conn)
		writeWS(t, conn, `{"event":"join-user","data":"7"}`)
		readWS(t, conn)

		_ = conn.Close(websocket.StatusNormalClosure, "")

		deadline := time.Now().Add(waitTimeout)
		for g.ConnectionCount() > 0 || dir.Len() > 0 {
			if time.Now().After(deadline) {
				t.Fatalf("切断処理が完了しなかった: connections=%d entries=%d", g.ConnectionCount(), dir.Len())
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	t.Run("許可されていないOriginからのアップグレードを拒否すること", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			name     string
			patterns []string
			origin   string
			wantOK   bool
		}{
			{"許可リストにないOrigin", []string{"app.example.com"}, "https://evil.example.org", false},
			{"許可リストにあるOrigin", []string{"app.example.com"}, "https://app.example.com", true},
			{"ワイルドカード", []string{"*"}, "https://any.example.org", true},
		}
		for _, tc := range cases {
			g := newTestGateway(t, "instance-1", presence.NewMemoryDirectory(), bridge.NewMemoryBroker(), Options{OriginPatterns: tc.patterns})
			srv := httptest.NewServer(g)
			t.Cleanup(srv.Close)

			ctx, cancel := context.WithTimeout(t.Context(), waitTimeout)
			conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
				HTTPHeader: http.Header{"Origin": []string{tc.origin}},
			})
			cancel()
			if tc.wantOK {
				if err != nil {
					t.Errorf("%s: Dial()でエラーが発生: %v", tc.name, err)
					continue
				}
				_ = conn.CloseNow()
				continue
			}
			if err == nil {
				_ = conn.CloseNow()
				t.Errorf("%s: アップグレードが拒否されなかった", tc.name)
				continue
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("%s: レスポンス = %v, want 403", tc.name, resp)
			}
		}
	})
}

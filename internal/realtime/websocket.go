package realtime

import (
	"net/http"

	"github.com/coder/websocket"
)

// Authenticator はアップグレード要求から認証済みユーザーIDを取り出す関数。
type Authenticator func(r *http.Request) (userID string, err error)

// ServeHTTP はWebSocketへのアップグレード要求を受け付け、切断されるまで接続を処理する。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var userID string
	if g.opts.Authenticate != nil {
		id, err := g.opts.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"無効なトークンです"}`))
			return
		}
		userID = id
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.opts.OriginPatterns,
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("WebSocketのアップグレードに失敗")
		return
	}

	if err := g.Attach(r.Context(), newWSTransport(ws, g.opts.ReadLimit), userID); err != nil {
		g.log.Debug().Err(err).Msg("接続が異常終了しました")
	}
}

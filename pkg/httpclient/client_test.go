package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// testPayload はテスト用のリクエスト/レスポンスペイロード。
type testPayload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// echoServer は受け取ったリクエストを記録し、ボディをそのまま返すテストサーバーを起動する。
func echoServer(t *testing.T, got *http.Request, gotBody *[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = *r.Clone(context.Background())
		body, _ := io.ReadAll(r.Body)
		*gotBody = body
		w.Header().Set("Content-Type", "application/json")
		if len(body) == 0 {
			_, _ = w.Write([]byte(`{"name":"empty","value":0}`))
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	t.Parallel()

	client := New("http://localhost:8080/", WithTimeout(3*time.Second), WithHeader("X-Test", "1"))
	if client.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want %q", client.baseURL, "http://localhost:8080")
	}
	if client.httpClient.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", client.httpClient.Timeout)
	}
	if client.headers.Get("X-Test") != "1" {
		t.Errorf("X-Test = %q, want %q", client.headers.Get("X-Test"), "1")
	}
	if New("http://x").httpClient.Timeout != 30*time.Second {
		t.Error("デフォルトのタイムアウトが30秒ではない")
	}
}

func TestRequests(t *testing.T) {
	t.Parallel()

	t.Run("POSTでボディと共通ヘッダーが送られること", func(t *testing.T) {
		t.Parallel()

		var req http.Request
		var body []byte
		srv := echoServer(t, &req, &body)
		client := New(srv.URL, WithHeader("X-Service-API-Key", "secret"))

		var result testPayload
		if err := client.PostJSON(context.Background(), "/items", testPayload{Name: "a", Value: 1}, &result); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}
		if req.Method != http.MethodPost || req.URL.Path != "/items" {
			t.Errorf("リクエスト = %s %s, want POST /items", req.Method, req.URL.Path)
		}
		if got := req.Header.Get("X-Service-API-Key"); got != "secret" {
			t.Errorf("X-Service-API-Key = %q, want %q", got, "secret")
		}
		if got := req.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		if result != (testPayload{Name: "a", Value: 1}) {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("PUTとGETのメソッドが正しいこと", func(t *testing.T) {
		t.Parallel()

		var req http.Request
		var body []byte
		srv := echoServer(t, &req, &body)
		client := New(srv.URL)

		if err := client.PutJSON(context.Background(), "/items/1", testPayload{Name: "b"}, nil); err != nil {
			t.Fatalf("PutJSON()でエラーが発生: %v", err)
		}
		if req.Method != http.MethodPut {
			t.Errorf("Method = %q, want %q", req.Method, http.MethodPut)
		}

		var result testPayload
		if err := client.GetJSON(context.Background(), "/items/1", &result); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if req.Method != http.MethodGet {
			t.Errorf("Method = %q, want %q", req.Method, http.MethodGet)
		}
		if len(body) != 0 {
			t.Errorf("GETにボディが含まれている: %q", body)
		}
		if result.Name != "empty" {
			t.Errorf("Name = %q, want %q", result.Name, "empty")
		}
	})

	t.Run("204の場合はresultを読まないこと", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		t.Cleanup(srv.Close)

		var result testPayload
		if err := New(srv.URL).PostJSON(context.Background(), "/x", nil, &result); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}
	})
}

func TestErrors(t *testing.T) {
	t.Parallel()

	t.Run("2xx以外はStatusErrorになること", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "サービスAPIキーが無効です"})
		}))
		t.Cleanup(srv.Close)

		err := New(srv.URL).PostJSON(context.Background(), "/x", testPayload{}, nil)
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("err = %v, want *StatusError", err)
		}
		if se.StatusCode != http.StatusUnauthorized {
			t.Errorf("StatusCode = %d, want %d", se.StatusCode, http.StatusUnauthorized)
		}
	})

	t.Run("不正なJSONレスポンスでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{broken"))
		}))
		t.Cleanup(srv.Close)

		var result testPayload
		if err := New(srv.URL).GetJSON(context.Background(), "/x", &result); err == nil {
			t.Fatal("エラーが返されなかった")
		}
	})

	t.Run("シリアライズできないボディでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if err := New("http://127.0.0.1:0").PostJSON(context.Background(), "/x", make(chan int), nil); err == nil {
			t.Fatal("エラーが返されなかった")
		}
	})

	t.Run("キャンセルされたコンテキストでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(srv.Close)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := New(srv.URL).GetJSON(ctx, "/x", nil); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want %v", err, context.Canceled)
		}
	})
}

package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nao1215/livefeed/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.InstanceID = "test-instance"
	cfg.Server.Port = "0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Store.DSN = filepath.Join(t.TempDir(), "notification.db")
	return cfg
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("メモリ構成で組み立てられること", func(t *testing.T) {
		t.Parallel()

		a, err := New(context.Background(), testConfig(t), zerolog.Nop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = a.Close() })

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		a.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("未対応のストアでエラーになること", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t)
		cfg.Store.Driver = "mysql"
		if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
			t.Error("未対応のストアでエラーが返されませんでした")
		}
	})

	t.Run("未対応のブリッジでエラーになること", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t)
		cfg.Bridge.Driver = "kafka"
		if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
			t.Error("未対応のブリッジでエラーが返されませんでした")
		}
	})

	t.Run("不正なRedis URLでエラーになること", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t)
		cfg.Directory.Driver = "redis"
		cfg.Directory.RedisURL = "://invalid"
		if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
			t.Error("不正なRedis URLでエラーが返されませんでした")
		}
	})
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("コンテキストの終了で停止すること", func(t *testing.T) {
		t.Parallel()

		a, err := New(context.Background(), testConfig(t), zerolog.Nop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = a.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- a.Run(ctx) }()

		time.Sleep(100 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Run が停止しませんでした")
		}
	})
}

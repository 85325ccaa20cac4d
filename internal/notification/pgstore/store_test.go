package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nao1215/livefeed/internal/notification"
	"github.com/nao1215/livefeed/internal/notification/storetest"
)

// TestStore はDATABASE_URLが設定されている場合のみ実行する。
func TestStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL が設定されていないためスキップ")
	}

	storetest.Run(t, func(t *testing.T) notification.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn, zerolog.Nop())
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		if _, err := s.pool.Exec(ctx, "TRUNCATE notifications"); err != nil {
			t.Fatalf("テーブルの初期化に失敗: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

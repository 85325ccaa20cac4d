package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("DB接続に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_index.up.sql":      {Data: []byte("CREATE INDEX idx_items_name ON items(name);")},
		"migrations/000001_create_items.up.sql":   {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
		"migrations/000001_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"migrations/README.md":                    {Data: []byte("ignored")},
		"migrations/invalid.up.sql":               {Data: []byte("ignored")},
	}

	t.Run("バージョン順に適用し再実行では何もしないこと", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		db := openTestDB(t)

		n, err := Run(ctx, db, fsys, "migrations", SQLite, zerolog.Nop())
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if n != 2 {
			t.Errorf("適用数 = %d, want 2", n)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO items (name) VALUES ('a')"); err != nil {
			t.Fatalf("テーブルが作成されていない: %v", err)
		}

		n, err = Run(ctx, db, fsys, "migrations", SQLite, zerolog.Nop())
		if err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
		if n != 0 {
			t.Errorf("2回目の適用数 = %d, want 0", n)
		}

		var versions int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&versions); err != nil {
			t.Fatalf("バージョン数の取得に失敗: %v", err)
		}
		if versions != 2 {
			t.Errorf("記録されたバージョン数 = %d, want 2", versions)
		}
	})

	t.Run("SQLが不正な場合はロールバックされること", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		db := openTestDB(t)
		broken := fstest.MapFS{
			"m/000001_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
			"m/000002_broken.up.sql": {Data: []byte("CREATE TABLE broken (")},
		}

		n, err := Run(ctx, db, broken, "m", SQLite, zerolog.Nop())
		if err == nil {
			t.Fatal("エラーが返されなかった")
		}
		if n != 1 {
			t.Errorf("適用数 = %d, want 1", n)
		}

		var versions int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = 2").Scan(&versions); err != nil {
			t.Fatalf("バージョン数の取得に失敗: %v", err)
		}
		if versions != 0 {
			t.Errorf("失敗したバージョンが記録されている")
		}
	})

	t.Run("ディレクトリが存在しない場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := Run(context.Background(), openTestDB(t), fstest.MapFS{}, "missing", SQLite, zerolog.Nop()); err == nil {
			t.Fatal("エラーが返されなかった")
		}
	})
}

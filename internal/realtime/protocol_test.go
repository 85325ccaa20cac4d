package realtime

import (
	"encoding/json"
	"testing"
)

func TestDecodeUserID(t *testing.T) {
	t.Parallel()

	t.Run("文字列とオブジェクトの両方からユーザーIDを取り出せること", func(t *testing.T) {
		t.Parallel()
		for _, raw := range []string{`"7"`, `{"userId":"7"}`, `" 7 "`} {
			got, err := decodeUserID(json.RawMessage(raw))
			if err != nil {
				t.Errorf("decodeUserID(%s)でエラーが発生: %v", raw, err)
				continue
			}
			if got != "7" {
				t.Errorf("decodeUserID(%s) = %q, want 7", raw, got)
			}
		}
	})

	t.Run("空のユーザーIDはエラーになること", func(t *testing.T) {
		t.Parallel()
		for _, raw := range []string{`""`, `{}`, `null`, `123`} {
			if _, err := decodeUserID(json.RawMessage(raw)); err == nil {
				t.Errorf("decodeUserID(%s) はエラーを返すべき", raw)
			}
		}
	})
}

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	t.Run("イベント名のないフレームはエラーになること", func(t *testing.T) {
		t.Parallel()
		if _, err := decodeFrame([]byte(`{"data":{}}`)); err == nil {
			t.Error("decodeFrame() はエラーを返すべき")
		}
	})

	t.Run("イベント名とデータを取り出せること", func(t *testing.T) {
		t.Parallel()
		f, err := decodeFrame([]byte(`{"event":"join-article","data":{"articleId":"42"}}`))
		if err != nil {
			t.Fatalf("decodeFrame()でエラーが発生: %v", err)
		}
		d, err := decodeArticleData(f.Data)
		if err != nil {
			t.Fatalf("decodeArticleData()でエラーが発生: %v", err)
		}
		if f.Event != EventJoinArticle || d.ArticleID != "42" {
			t.Errorf("frame = %+v, data = %+v", f, d)
		}
	})
}

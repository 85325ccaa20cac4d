package event

import "testing"

// TestTopic はトピックの生成と判定を検証する。
func TestTopic(t *testing.T) {
	t.Parallel()

	t.Run("記事トピックが生成されること", func(t *testing.T) {
		t.Parallel()

		topic := ArticleTopic("42")
		if topic != "article:42" {
			t.Errorf("ArticleTopic(42) = %q, want %q", topic, "article:42")
		}
		if !topic.IsArticle() || topic.IsUser() {
			t.Errorf("%q の種別判定が不正", topic)
		}
		if topic.ID() != "42" {
			t.Errorf("ID() = %q, want %q", topic.ID(), "42")
		}
	})

	t.Run("ユーザートピックが生成されること", func(t *testing.T) {
		t.Parallel()

		topic := UserTopic("7")
		if topic != "user:7" {
			t.Errorf("UserTopic(7) = %q, want %q", topic, "user:7")
		}
		if !topic.IsUser() || topic.IsArticle() {
			t.Errorf("%q の種別判定が不正", topic)
		}
		if topic.ID() != "7" {
			t.Errorf("ID() = %q, want %q", topic.ID(), "7")
		}
	})
}

// TestParseTopic はトピック文字列の検証を確認する。
func TestParseTopic(t *testing.T) {
	t.Parallel()

	t.Run("正しい形式のトピックを受け付けること", func(t *testing.T) {
		t.Parallel()

		for _, s := range []string{"article:1", "user:abc"} {
			got, err := ParseTopic(s)
			if err != nil {
				t.Errorf("ParseTopic(%q)でエラーが発生: %v", s, err)
			}
			if string(got) != s {
				t.Errorf("ParseTopic(%q) = %q", s, got)
			}
		}
	})

	t.Run("不正な形式のトピックを拒否すること", func(t *testing.T) {
		t.Parallel()

		for _, s := range []string{"", "article:", "user:", "room:1", "article"} {
			if _, err := ParseTopic(s); err == nil {
				t.Errorf("ParseTopic(%q)がエラーを返すべき", s)
			}
		}
	})
}

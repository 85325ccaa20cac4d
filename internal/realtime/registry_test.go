package realtime

import (
	"testing"

	"github.com/nao1215/livefeed/pkg/event"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	newRegistryConn := func(t *testing.T, id string) *Conn {
		t.Helper()
		return newConn(t.Context(), id, "", newFakeTransport(), 1, nil)
	}

	t.Run("未登録の接続はトピックに参加できないこと", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()

		if r.Join("unknown", event.ArticleTopic("1")) {
			t.Error("未登録の接続が参加できた")
		}
	})

	t.Run("参加と離脱が冪等であること", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		r.Add(newRegistryConn(t, "conn-a"))
		topic := event.ArticleTopic("1")

		if !r.Join("conn-a", topic) {
			t.Error("初回の参加が失敗した")
		}
		if r.Join("conn-a", topic) {
			t.Error("2回目の参加が新規扱いになった")
		}
		if got := len(r.Members(topic)); got != 1 {
			t.Errorf("参加者数 = %d, want 1", got)
		}
		if !r.Leave("conn-a", topic) {
			t.Error("離脱が失敗した")
		}
		if r.Leave("conn-a", topic) {
			t.Error("2回目の離脱が成功扱いになった")
		}
		if got := len(r.Members(topic)); got != 0 {
			t.Errorf("参加者数 = %d, want 0", got)
		}
	})

	t.Run("削除すると参加していたトピックを返しすべての参加が外れること", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		r.Add(newRegistryConn(t, "conn-a"))
		r.Add(newRegistryConn(t, "conn-b"))
		r.Join("conn-a", event.UserTopic("7"))
		r.Join("conn-a", event.ArticleTopic("1"))
		r.Join("conn-b", event.ArticleTopic("1"))

		left := r.Remove("conn-a")

		want := []event.Topic{event.ArticleTopic("1"), event.UserTopic("7")}
		if len(left) != len(want) || left[0] != want[0] || left[1] != want[1] {
			t.Errorf("Remove() = %v, want %v", left, want)
		}
		if _, ok := r.Get("conn-a"); ok {
			t.Error("削除した接続が残っている")
		}
		members := r.Members(event.ArticleTopic("1"))
		if len(members) != 1 || members[0].ID() != "conn-b" {
			t.Errorf("article:1 の参加者 = %v, want [conn-b]", members)
		}
		if r.Len() != 1 {
			t.Errorf("Len() = %d, want 1", r.Len())
		}
	})
}

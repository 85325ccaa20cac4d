package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nao1215/livefeed/pkg/event"
)

// MemoryDirectory はプロセス内メモリで動作する Directory 実装。
// 同一プロセス内の複数ゲートウェイで共有でき、テストで複数インスタンスを模擬するのに使う。
type MemoryDirectory struct {
	mu sync.Mutex
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time

	connUser      map[string]string
	userConn      map[string]string
	members       map[event.Topic]map[string]JoinMetadata
	connTopics    map[string]map[event.Topic]struct{}
	connInstance  map[string]string
	instanceConns map[string]map[string]struct{}
	// alive はインスタンスIDごとの生存期限。
	alive map[string]time.Time
}

var (
	_ Directory       = (*MemoryDirectory)(nil)
	_ InstanceTracker = (*MemoryDirectory)(nil)
)

// NewMemoryDirectory は空の MemoryDirectory を生成する。
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		now:           time.Now,
		connUser:      make(map[string]string),
		userConn:      make(map[string]string),
		members:       make(map[event.Topic]map[string]JoinMetadata),
		connTopics:    make(map[string]map[event.Topic]struct{}),
		connInstance:  make(map[string]string),
		instanceConns: make(map[string]map[string]struct{}),
		alive:         make(map[string]time.Time),
	}
}

// RecordConnection は接続とインスタンスを紐付ける。
func (d *MemoryDirectory) RecordConnection(_ context.Context, connID, instanceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connInstance[connID] = instanceID
	if d.instanceConns[instanceID] == nil {
		d.instanceConns[instanceID] = make(map[string]struct{})
	}
	d.instanceConns[instanceID][connID] = struct{}{}
	return nil
}

// RecordJoin はトピック参加を記録する。
func (d *MemoryDirectory) RecordJoin(_ context.Context, connID string, topic event.Topic, meta JoinMetadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.joinLocked(connID, topic, meta)
	return nil
}

// RecordLeave はトピック離脱を記録する。
func (d *MemoryDirectory) RecordLeave(_ context.Context, connID string, topic event.Topic) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.leaveLocked(connID, topic)
	return nil
}

// RecordUserSocket はユーザーと接続を紐付ける。
func (d *MemoryDirectory) RecordUserSocket(_ context.Context, userID, connID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.userConn[userID]
	d.userConn[userID] = connID
	d.connUser[connID] = userID
	d.joinLocked(connID, event.UserTopic(userID), JoinMetadata{
		SocketID: connID,
		UserID:   userID,
		JoinedAt: d.now().UTC(),
	})

	if prev == "" || prev == connID {
		return "", nil
	}
	if d.connUser[prev] == userID {
		delete(d.connUser, prev)
	}
	d.leaveLocked(prev, event.UserTopic(userID))
	return prev, nil
}

// ClearUserSocket はユーザーと接続の紐付けを解除する。
func (d *MemoryDirectory) ClearUserSocket(_ context.Context, userID, connID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.userConn[userID] == connID {
		delete(d.userConn, userID)
	}
	if d.connUser[connID] == userID {
		delete(d.connUser, connID)
	}
	d.leaveLocked(connID, event.UserTopic(userID))
	return nil
}

// LookupUserConnection はユーザーの接続を返す。
func (d *MemoryDirectory) LookupUserConnection(_ context.Context, userID string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	connID, ok := d.userConn[userID]
	return connID, ok, nil
}

// ClearConnection は接続に関するすべてのエントリを削除する。
func (d *MemoryDirectory) ClearConnection(_ context.Context, connID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clearLocked(connID)
	return nil
}

// ConnectionTopics は接続が参加しているトピックを名前順で返す。
func (d *MemoryDirectory) ConnectionTopics(_ context.Context, connID string) ([]event.Topic, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	topics := make([]event.Topic, 0, len(d.connTopics[connID]))
	for t := range d.connTopics[connID] {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics, nil
}

// Members はトピックの参加者を返す。
func (d *MemoryDirectory) Members(_ context.Context, topic event.Topic) (map[string]JoinMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]JoinMetadata, len(d.members[topic]))
	for id, meta := range d.members[topic] {
		out[id] = meta
	}
	return out, nil
}

// Heartbeat はインスタンスの生存期限を更新する。
// 掃除で生存期限の記録が消えていた場合は resumed に真を返す。
func (d *MemoryDirectory) Heartbeat(_ context.Context, instanceID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, registered := d.alive[instanceID]
	d.alive[instanceID] = d.now().Add(ttl)
	return !registered, nil
}

// SweepDeadInstances は生存期限切れのインスタンスが保持していた接続を削除する。
func (d *MemoryDirectory) SweepDeadInstances(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cleared := 0
	for instanceID, conns := range d.instanceConns {
		if expiry, ok := d.alive[instanceID]; ok && now.Before(expiry) {
			continue
		}
		for connID := range conns {
			d.clearLocked(connID)
			cleared++
		}
		delete(d.instanceConns, instanceID)
		delete(d.alive, instanceID)
	}
	return cleared, nil
}

// Len はディレクトリに残っているエントリ数を返す。テストでの残存確認に使う。
func (d *MemoryDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.connUser) + len(d.userConn) + len(d.connTopics) + len(d.connInstance)
	for _, m := range d.members {
		n += len(m)
	}
	return n
}

func (d *MemoryDirectory) joinLocked(connID string, topic event.Topic, meta JoinMetadata) {
	if d.connTopics[connID] == nil {
		d.connTopics[connID] = make(map[event.Topic]struct{})
	}
	d.connTopics[connID][topic] = struct{}{}
	if d.members[topic] == nil {
		d.members[topic] = make(map[string]JoinMetadata)
	}
	d.members[topic][connID] = meta
}

func (d *MemoryDirectory) leaveLocked(connID string, topic event.Topic) {
	if m := d.members[topic]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(d.members, topic)
		}
	}
	if s := d.connTopics[connID]; s != nil {
		delete(s, topic)
		if len(s) == 0 {
			delete(d.connTopics, connID)
		}
	}
}

func (d *MemoryDirectory) clearLocked(connID string) {
	for topic := range d.connTopics[connID] {
		if m := d.members[topic]; m != nil {
			delete(m, connID)
			if len(m) == 0 {
				delete(d.members, topic)
			}
		}
	}
	delete(d.connTopics, connID)

	if userID, ok := d.connUser[connID]; ok {
		delete(d.connUser, connID)
		if d.userConn[userID] == connID {
			delete(d.userConn, userID)
		}
	}

	if instanceID, ok := d.connInstance[connID]; ok {
		delete(d.connInstance, connID)
		if s := d.instanceConns[instanceID]; s != nil {
			delete(s, connID)
		}
	}
}

package realtime

import (
	"sort"
	"sync"

	"github.com/nao1215/livefeed/pkg/event"
)

// Registry はこのインスタンスが保持する接続と参加トピックを管理する。
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	topics map[event.Topic]map[string]*Conn
	joined map[string]map[event.Topic]struct{}
}

// NewRegistry は空の Registry を生成する。
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		topics: make(map[event.Topic]map[string]*Conn),
		joined: make(map[string]map[event.Topic]struct{}),
	}
}

// Add は接続を登録する。
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.id] = c
}

// Get は接続IDに対応する接続を返す。
func (r *Registry) Get(connID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Remove は接続と参加トピックをすべて削除し、参加していたトピックを返す。
func (r *Registry) Remove(connID string) []event.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []event.Topic
	for topic := range r.joined[connID] {
		r.leaveLocked(connID, topic)
		left = append(left, topic)
	}
	delete(r.joined, connID)
	delete(r.conns, connID)
	sortTopics(left)
	return left
}

// Join は登録済みの接続をトピックに参加させる。新たに参加した場合に真を返す。
func (r *Registry) Join(connID string, topic event.Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, ok := r.joined[connID][topic]; ok {
		return false
	}
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[string]*Conn)
	}
	r.topics[topic][connID] = c
	if r.joined[connID] == nil {
		r.joined[connID] = make(map[event.Topic]struct{})
	}
	r.joined[connID][topic] = struct{}{}
	return true
}

// Leave は接続をトピックから離脱させる。参加していた場合に真を返す。
func (r *Registry) Leave(connID string, topic event.Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.joined[connID][topic]; !ok {
		return false
	}
	r.leaveLocked(connID, topic)
	return true
}

func (r *Registry) leaveLocked(connID string, topic event.Topic) {
	delete(r.topics[topic], connID)
	if len(r.topics[topic]) == 0 {
		delete(r.topics, topic)
	}
	delete(r.joined[connID], topic)
	if len(r.joined[connID]) == 0 {
		delete(r.joined, connID)
	}
}

// Conns は登録済みの接続をすべて返す。
func (r *Registry) Conns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Members はトピックに参加しているローカルの接続を返す。
func (r *Registry) Members(topic event.Topic) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Conn, 0, len(r.topics[topic]))
	for _, c := range r.topics[topic] {
		members = append(members, c)
	}
	return members
}

// Topics は接続が参加しているトピックを名前順で返す。
func (r *Registry) Topics(connID string) []event.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]event.Topic, 0, len(r.joined[connID]))
	for topic := range r.joined[connID] {
		topics = append(topics, topic)
	}
	sortTopics(topics)
	return topics
}

// Len は登録済みの接続数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func sortTopics(topics []event.Topic) {
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
}

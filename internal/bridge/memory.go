package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// MemoryBroker はプロセス内でメッセージを中継する Bridge 実装。
// 複数のゲートウェイで共有することで、複数インスタンス構成をテストできる。
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*memorySub
	nextID uint64
	// down が真の間は Publish が ErrBridgeUnavailable を返す。
	down atomic.Bool
}

var _ Bridge = (*MemoryBroker)(nil)

// memorySub は1件の購読。発行側をブロックしないよう無制限のキューを持つ。
type memorySub struct {
	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}
}

// NewMemoryBroker は新しい MemoryBroker を生成する。
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[uint64]*memorySub)}
}

// SetDown はブリッジの障害状態を切り替える。
func (b *MemoryBroker) SetDown(down bool) {
	b.down.Store(down)
}

// Publish はチャネルの全購読者にペイロードを配送する。
func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	if b.down.Load() {
		return unavailable("発行", errors.New("ブローカーが停止しています"))
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[channel] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		s.push(msg)
	}
	return nil
}

// Subscribe はチャネルの購読を開始する。
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	s := &memorySub{notify: make(chan struct{}, 1)}

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uint64]*memorySub)
	}
	id := b.nextID
	b.nextID++
	b.subs[channel][id] = s
	b.mu.Unlock()

	go func() {
		defer b.unsubscribe(channel, id)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
			}
			for _, msg := range s.drain() {
				if ctx.Err() != nil {
					return
				}
				handler(ctx, msg)
			}
		}
	}()
	return nil
}

// Close は何もしない。購読は各 ctx の終了で解除される。
func (b *MemoryBroker) Close() error {
	return nil
}

func (b *MemoryBroker) unsubscribe(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[channel], id)
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}
}

func (s *memorySub) push(msg []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/livefeed/pkg/event"
)

// compareAndDelete は値が一致する場合にのみキーを削除するスクリプト。
// 単一キーに対する操作のため、複数キーのトランザクションは不要。
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions は RedisDirectory の設定。
type RedisOptions struct {
	// Prefix はすべてのキーに付与する名前空間。空の場合は付与しない。
	Prefix string
	// Timeout は1操作あたりのタイムアウト。0以下の場合は500ミリ秒。
	Timeout time.Duration
}

// RedisDirectory はRedisを共有ストアとする Directory 実装。
//
// キー構成:
//
//	socket:<conn>:user      接続 → ユーザーID
//	user:<user>:socket      ユーザーID → 接続
//	<topic>:clients         トピック参加者（hash: 接続ID → JoinMetadata JSON）
//	conn:<conn>:topics      接続が参加しているトピック（set）
//	conn:<conn>:instance    接続を保持するインスタンスID
//	instance:<id>:conns     インスタンスが保持する接続（set）
//	instance:<id>:alive     インスタンスの生存記録（TTL付き）
//	instances               既知のインスタンスID（set）
type RedisDirectory struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

var (
	_ Directory       = (*RedisDirectory)(nil)
	_ InstanceTracker = (*RedisDirectory)(nil)
)

// NewRedisDirectory は新しい RedisDirectory を生成する。
func NewRedisDirectory(client redis.UniversalClient, opts RedisOptions) *RedisDirectory {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RedisDirectory{
		client:  client,
		prefix:  opts.Prefix,
		timeout: timeout,
		now:     time.Now,
	}
}

func (d *RedisDirectory) key(format string, args ...any) string {
	return d.prefix + fmt.Sprintf(format, args...)
}

func (d *RedisDirectory) clientsKey(topic event.Topic) string {
	return d.key("%s:clients", topic)
}

func (d *RedisDirectory) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

// RecordConnection は接続とインスタンスを紐付ける。
func (d *RedisDirectory) RecordConnection(ctx context.Context, connID, instanceID string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.client.SAdd(ctx, d.key("instances"), instanceID).Err(); err != nil {
		return unavailable("インスタンス登録", err)
	}
	if err := d.client.SAdd(ctx, d.key("instance:%s:conns", instanceID), connID).Err(); err != nil {
		return unavailable("接続登録", err)
	}
	if err := d.client.Set(ctx, d.key("conn:%s:instance", connID), instanceID, 0).Err(); err != nil {
		return unavailable("接続登録", err)
	}
	return nil
}

// RecordJoin はトピック参加を記録する。
// 掃除時に必ず見つけられるよう、接続側の索引を先に書き込む。
func (d *RedisDirectory) RecordJoin(ctx context.Context, connID string, topic event.Topic, meta JoinMetadata) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	return d.recordJoin(ctx, connID, topic, meta)
}

func (d *RedisDirectory) recordJoin(ctx context.Context, connID string, topic event.Topic, meta JoinMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("参加メタデータのシリアライズに失敗: %w", err)
	}
	if err := d.client.SAdd(ctx, d.key("conn:%s:topics", connID), string(topic)).Err(); err != nil {
		return unavailable("参加記録", err)
	}
	if err := d.client.HSet(ctx, d.clientsKey(topic), connID, raw).Err(); err != nil {
		return unavailable("参加記録", err)
	}
	return nil
}

// RecordLeave はトピック離脱を記録する。
func (d *RedisDirectory) RecordLeave(ctx context.Context, connID string, topic event.Topic) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	return d.recordLeave(ctx, connID, topic)
}

func (d *RedisDirectory) recordLeave(ctx context.Context, connID string, topic event.Topic) error {
	if err := d.client.HDel(ctx, d.clientsKey(topic), connID).Err(); err != nil {
		return unavailable("離脱記録", err)
	}
	if err := d.client.SRem(ctx, d.key("conn:%s:topics", connID), string(topic)).Err(); err != nil {
		return unavailable("離脱記録", err)
	}
	return nil
}

// RecordUserSocket はユーザーと接続を紐付け、紐付けを奪われた接続のIDを返す。
func (d *RedisDirectory) RecordUserSocket(ctx context.Context, userID, connID string) (string, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	prev, err := d.client.GetSet(ctx, d.key("user:%s:socket", userID), connID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", unavailable("ユーザー接続の記録", err)
	}
	if err := d.client.Set(ctx, d.key("socket:%s:user", connID), userID, 0).Err(); err != nil {
		return "", unavailable("ユーザー接続の記録", err)
	}
	meta := JoinMetadata{SocketID: connID, UserID: userID, JoinedAt: d.now().UTC()}
	if err := d.recordJoin(ctx, connID, event.UserTopic(userID), meta); err != nil {
		return "", err
	}

	if prev == "" || prev == connID {
		return "", nil
	}
	if err := compareAndDelete.Run(ctx, d.client, []string{d.key("socket:%s:user", prev)}, userID).Err(); err != nil {
		return "", unavailable("旧接続の紐付け解除", err)
	}
	if err := d.recordLeave(ctx, prev, event.UserTopic(userID)); err != nil {
		return "", err
	}
	return prev, nil
}

// ClearUserSocket はユーザーと接続の紐付けを解除する。
func (d *RedisDirectory) ClearUserSocket(ctx context.Context, userID, connID string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := compareAndDelete.Run(ctx, d.client, []string{d.key("user:%s:socket", userID)}, connID).Err(); err != nil {
		return unavailable("ユーザー接続の解除", err)
	}
	if err := compareAndDelete.Run(ctx, d.client, []string{d.key("socket:%s:user", connID)}, userID).Err(); err != nil {
		return unavailable("ユーザー接続の解除", err)
	}
	return d.recordLeave(ctx, connID, event.UserTopic(userID))
}

// LookupUserConnection はユーザーの接続を返す。
func (d *RedisDirectory) LookupUserConnection(ctx context.Context, userID string) (string, bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	connID, err := d.client.Get(ctx, d.key("user:%s:socket", userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("ユーザー接続の取得", err)
	}
	return connID, true, nil
}

// ClearConnection は接続に関するすべてのエントリを削除する。
func (d *RedisDirectory) ClearConnection(ctx context.Context, connID string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	return d.clearConnection(ctx, connID)
}

func (d *RedisDirectory) clearConnection(ctx context.Context, connID string) error {
	topicsKey := d.key("conn:%s:topics", connID)
	topics, err := d.client.SMembers(ctx, topicsKey).Result()
	if err != nil {
		return unavailable("参加トピックの取得", err)
	}
	for _, t := range topics {
		if err := d.client.HDel(ctx, d.clientsKey(event.Topic(t)), connID).Err(); err != nil {
			return unavailable("参加記録の削除", err)
		}
	}
	if err := d.client.Del(ctx, topicsKey).Err(); err != nil {
		return unavailable("参加記録の削除", err)
	}

	userKey := d.key("socket:%s:user", connID)
	userID, err := d.client.Get(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("ユーザー接続の取得", err)
	}
	if userID != "" {
		if err := compareAndDelete.Run(ctx, d.client, []string{d.key("user:%s:socket", userID)}, connID).Err(); err != nil {
			return unavailable("ユーザー接続の解除", err)
		}
		if err := d.client.Del(ctx, userKey).Err(); err != nil {
			return unavailable("ユーザー接続の解除", err)
		}
	}

	instanceKey := d.key("conn:%s:instance", connID)
	instanceID, err := d.client.Get(ctx, instanceKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("インスタンスの取得", err)
	}
	if instanceID != "" {
		if err := d.client.SRem(ctx, d.key("instance:%s:conns", instanceID), connID).Err(); err != nil {
			return unavailable("接続登録の解除", err)
		}
		if err := d.client.Del(ctx, instanceKey).Err(); err != nil {
			return unavailable("接続登録の解除", err)
		}
	}
	return nil
}

// ConnectionTopics は接続が参加しているトピックを名前順で返す。
func (d *RedisDirectory) ConnectionTopics(ctx context.Context, connID string) ([]event.Topic, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	members, err := d.client.SMembers(ctx, d.key("conn:%s:topics", connID)).Result()
	if err != nil {
		return nil, unavailable("参加トピックの取得", err)
	}
	topics := make([]event.Topic, 0, len(members))
	for _, m := range members {
		topics = append(topics, event.Topic(m))
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics, nil
}

// Members はトピックの参加者を返す。
func (d *RedisDirectory) Members(ctx context.Context, topic event.Topic) (map[string]JoinMetadata, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	raw, err := d.client.HGetAll(ctx, d.clientsKey(topic)).Result()
	if err != nil {
		return nil, unavailable("参加者の取得", err)
	}
	out := make(map[string]JoinMetadata, len(raw))
	for connID, v := range raw {
		var meta JoinMetadata
		if err := json.Unmarshal([]byte(v), &meta); err != nil {
			return nil, fmt.Errorf("参加メタデータのデシリアライズに失敗: %w", err)
		}
		out[connID] = meta
	}
	return out, nil
}

// Heartbeat はインスタンスの生存記録をttl付きで更新する。
// 掃除はインスタンスの接続を消し終えてから登録を外すため、
// 登録が外れていた場合は接続のエントリも消えているものとして resumed に真を返す。
func (d *RedisDirectory) Heartbeat(ctx context.Context, instanceID string, ttl time.Duration) (bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	added, err := d.client.SAdd(ctx, d.key("instances"), instanceID).Result()
	if err != nil {
		return false, unavailable("インスタンス登録", err)
	}
	if err := d.client.Set(ctx, d.key("instance:%s:alive", instanceID), d.now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return false, unavailable("生存記録の更新", err)
	}
	return added > 0, nil
}

// SweepDeadInstances は生存記録が切れたインスタンスの接続を削除する。
// 接続数に比例して時間がかかるため、操作ごとのタイムアウトは個別に適用する。
func (d *RedisDirectory) SweepDeadInstances(ctx context.Context) (int, error) {
	listCtx, cancel := d.withTimeout(ctx)
	instances, err := d.client.SMembers(listCtx, d.key("instances")).Result()
	cancel()
	if err != nil {
		return 0, unavailable("インスタンス一覧の取得", err)
	}

	cleared := 0
	for _, instanceID := range instances {
		n, err := d.sweepInstance(ctx, instanceID)
		cleared += n
		if err != nil {
			return cleared, err
		}
	}
	return cleared, nil
}

func (d *RedisDirectory) sweepInstance(ctx context.Context, instanceID string) (int, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	alive, err := d.client.Exists(ctx, d.key("instance:%s:alive", instanceID)).Result()
	if err != nil {
		return 0, unavailable("生存記録の確認", err)
	}
	if alive > 0 {
		return 0, nil
	}

	connsKey := d.key("instance:%s:conns", instanceID)
	conns, err := d.client.SMembers(ctx, connsKey).Result()
	if err != nil {
		return 0, unavailable("接続一覧の取得", err)
	}
	cleared := 0
	for _, connID := range conns {
		if err := d.clearConnection(ctx, connID); err != nil {
			return cleared, err
		}
		cleared++
	}
	if err := d.client.Del(ctx, connsKey).Err(); err != nil {
		return cleared, unavailable("接続一覧の削除", err)
	}
	if err := d.client.SRem(ctx, d.key("instances"), instanceID).Err(); err != nil {
		return cleared, unavailable("インスタンス登録の解除", err)
	}
	return cleared, nil
}

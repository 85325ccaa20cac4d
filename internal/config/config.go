// Package config は通知サービスの設定を読み込む。
//
// 既定値、YAMLファイル（CONFIG_FILE で指定）、環境変数の順に上書きする。
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config は通知サービス全体の設定。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Directory DirectoryConfig `yaml:"directory"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `yaml:"port"`
	// InstanceID はこのプロセスの識別子。空の場合はUUIDを生成する。
	InstanceID string `yaml:"instance_id"`
	// CORSOrigins は許可するOrigin。WebSocketのOrigin検証にも使う。
	// "*" はすべてを許可する開発用の設定で、資格情報付きのCORS応答は返さない。
	CORSOrigins []string `yaml:"cors_origins"`
	// ShutdownTimeout は停止時にHTTPサーバーと接続の切断処理を待つ時間。
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig は認証の設定。
type AuthConfig struct {
	// JWTSecret はユーザーJWTの署名検証に使うシークレット。
	JWTSecret string `yaml:"jwt_secret"`
	// ServiceAPIKey は内部APIを呼び出すサービスが送るキー。
	ServiceAPIKey string `yaml:"service_api_key"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string `yaml:"level"`
	// Format は出力形式（json, console）。
	Format string `yaml:"format"`
}

// StoreConfig は通知ストアの設定。Driver は "sqlite" または "postgres"。
type StoreConfig struct {
	// Driver はストアの種類。
	Driver string `yaml:"driver"`
	// DSN はデータベースの接続文字列。
	DSN string `yaml:"dsn"`
}

// DirectoryConfig はプレゼンスディレクトリの設定。Driver は "memory" または "redis"。
type DirectoryConfig struct {
	// Driver はディレクトリの種類。
	Driver string `yaml:"driver"`
	// RedisURL は driver=redis の接続先。
	RedisURL string `yaml:"redis_url"`
	// KeyPrefix はRedisのキーに付けるプレフィックス。
	KeyPrefix string `yaml:"key_prefix"`
	// IOTimeout はディレクトリへの1操作あたりのタイムアウト。
	IOTimeout time.Duration `yaml:"io_timeout"`
	// HeartbeatSchedule は生存通知のcron式。
	HeartbeatSchedule string `yaml:"heartbeat_schedule"`
	// SweepSchedule は停止インスタンスの掃除のcron式。
	SweepSchedule string `yaml:"sweep_schedule"`
	// InstanceTTL は生存通知の有効期間。生存通知の間隔より長くする。
	InstanceTTL time.Duration `yaml:"instance_ttl"`
	// LookupTimeout は通知配信時のユーザー接続検索のタイムアウト。
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// BridgeConfig はPub/Subブリッジの設定。Driver は "memory"、"redis"、"amqp" のいずれか。
type BridgeConfig struct {
	// Driver はブリッジの種類。
	Driver string `yaml:"driver"`
	// RedisURL は driver=redis の接続先。
	RedisURL string `yaml:"redis_url"`
	// AMQPURL は driver=amqp の接続先。
	AMQPURL string `yaml:"amqp_url"`
	// Prefix はチャネル名またはエクスチェンジ名のプレフィックス。
	Prefix string `yaml:"prefix"`
	// PublishTimeout は1回の発行のタイムアウト。
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// GatewayConfig は接続ごとの制限の設定。
type GatewayConfig struct {
	// SendQueueSize は接続ごとの送信キューの長さ。
	SendQueueSize int `yaml:"send_queue_size"`
	// WriteTimeout は1フレームの書き込みタイムアウト。
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RateLimit は接続ごとに受け付ける1秒あたりのイベント数。
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst は RateLimit のバースト値。
	RateBurst int `yaml:"rate_burst"`
	// ReadLimit は受信フレームの最大バイト数。
	ReadLimit int64 `yaml:"read_limit"`
}

// Default は既定の設定を返す。単一プロセスで外部依存なしに起動できる開発用の構成になる。
// CORSOrigins の "*" と固定のシークレットは本番環境では必ず上書きする。
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "3003",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret:     "dev-secret-key",
			ServiceAPIKey: "dev-service-key",
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "notification.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		},
		Directory: DirectoryConfig{
			Driver:            "memory",
			IOTimeout:         500 * time.Millisecond,
			HeartbeatSchedule: "@every 10s",
			SweepSchedule:     "@every 1m",
			InstanceTTL:       30 * time.Second,
			LookupTimeout:     time.Second,
		},
		Bridge: BridgeConfig{
			Driver:         "memory",
			Prefix:         "livefeed",
			PublishTimeout: time.Second,
		},
		Gateway: GatewayConfig{
			SendQueueSize: 64,
			WriteTimeout:  5 * time.Second,
			RateLimit:     20,
			RateBurst:     40,
			ReadLimit:     64 << 10,
		},
	}
}

// Load は既定値にYAMLファイルと環境変数を重ねた設定を返す。
// getenv には通常 os.Getenv を渡す。
func Load(getenv func(string) string) (Config, error) {
	cfg := Default()

	if path := getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse はYAMLを cfg に上書きする。未知のキーはエラーにする。
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("設定ファイルの解析に失敗: %w", err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする。
func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Server.Port)
	str("INSTANCE_ID", &cfg.Server.InstanceID)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("SERVICE_API_KEY", &cfg.Auth.ServiceAPIKey)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("DB_DRIVER", &cfg.Store.Driver)
	str("DB_DSN", &cfg.Store.DSN)
	str("DIRECTORY_DRIVER", &cfg.Directory.Driver)
	str("BRIDGE_DRIVER", &cfg.Bridge.Driver)
	str("AMQP_URL", &cfg.Bridge.AMQPURL)
	if v := getenv("REDIS_URL"); v != "" {
		cfg.Directory.RedisURL = v
		cfg.Bridge.RedisURL = v
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout},
		{"DIRECTORY_IO_TIMEOUT", &cfg.Directory.IOTimeout},
		{"INSTANCE_TTL", &cfg.Directory.InstanceTTL},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("環境変数 %s の解析に失敗: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if v := getenv("RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("環境変数 RATE_LIMIT の解析に失敗: %w", err)
		}
		cfg.Gateway.RateLimit = f
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate は設定の整合性を検証する。
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port は必須です"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret は必須です"))
	}
	if c.Auth.ServiceAPIKey == "" {
		errs = append(errs, errors.New("auth.service_api_key は必須です"))
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn は必須です（driver=%s）", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver が不正です: %q", c.Store.Driver))
	}

	switch c.Directory.Driver {
	case "memory":
	case "redis":
		if c.Directory.RedisURL == "" {
			errs = append(errs, errors.New("directory.redis_url は必須です（driver=redis）"))
		}
	default:
		errs = append(errs, fmt.Errorf("directory.driver が不正です: %q", c.Directory.Driver))
	}

	switch c.Bridge.Driver {
	case "memory":
	case "redis":
		if c.Bridge.RedisURL == "" {
			errs = append(errs, errors.New("bridge.redis_url は必須です（driver=redis）"))
		}
	case "amqp":
		if c.Bridge.AMQPURL == "" {
			errs = append(errs, errors.New("bridge.amqp_url は必須です（driver=amqp）"))
		}
	default:
		errs = append(errs, fmt.Errorf("bridge.driver が不正です: %q", c.Bridge.Driver))
	}

	// インスタンス間で共有されないストアを混在させると配信先を見失う
	if (c.Directory.Driver == "memory") != (c.Bridge.Driver == "memory") {
		errs = append(errs, errors.New("directory.driver と bridge.driver は両方 memory にするか、両方共有ストアにしてください"))
	}
	errs = append(errs, c.Directory.validateSchedules()...)
	if !slices.Contains([]string{"json", "console"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format が不正です: %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// validateSchedules はJanitorのcron式と、生存通知の期限が間隔より長いことを検証する。
// 期限が間隔以下だと生存中のインスタンスが掃除される。
func (d DirectoryConfig) validateSchedules() []error {
	var errs []error
	if _, err := cron.ParseStandard(d.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("directory.sweep_schedule が不正です: %w", err))
	}
	interval, err := scheduleInterval(d.HeartbeatSchedule)
	if err != nil {
		return append(errs, fmt.Errorf("directory.heartbeat_schedule が不正です: %w", err))
	}
	if d.InstanceTTL <= interval {
		errs = append(errs, fmt.Errorf("directory.instance_ttl (%s) は生存通知の間隔 (%s) より長くしてください", d.InstanceTTL, interval))
	}
	return errs
}

// scheduleInterval はcron式の連続する2回の実行の間隔を返す。
func scheduleInterval(spec string) (time.Duration, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, err
	}
	first := sched.Next(time.Now())
	return sched.Next(first).Sub(first), nil
}

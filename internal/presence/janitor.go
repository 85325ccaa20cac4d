package presence

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JanitorConfig は Janitor の実行スケジュール。
type JanitorConfig struct {
	// HeartbeatSchedule は生存通知のcron式（例: "@every 10s"）。
	HeartbeatSchedule string
	// SweepSchedule は掃除のcron式（例: "@every 1m"）。
	SweepSchedule string
	// InstanceTTL は生存通知の有効期間。HeartbeatSchedule の間隔より長くすること。
	InstanceTTL time.Duration
	// Resync は掃除された自インスタンスのエントリを再登録する。
	// 生存通知が途切れている間に他のインスタンスから掃除された場合に呼ばれる。
	Resync func(ctx context.Context) error
}

// Janitor は自インスタンスの生存通知と、停止したインスタンスが残した
// プレゼンスエントリの掃除を定期実行する。
// 切断処理を経ずにプロセスが落ちた場合でもエントリが残り続けないようにする。
type Janitor struct {
	tracker    InstanceTracker
	instanceID string
	cfg        JanitorConfig
	log        zerolog.Logger
	cron       *cron.Cron
	cancel     context.CancelFunc
	// resyncPending は再登録が未完了であることを表す。次の生存通知で再試行する。
	resyncPending atomic.Bool
}

// NewJanitor は新しい Janitor を生成する。
func NewJanitor(tracker InstanceTracker, instanceID string, cfg JanitorConfig, log zerolog.Logger) *Janitor {
	if cfg.HeartbeatSchedule == "" {
		cfg.HeartbeatSchedule = "@every 10s"
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 1m"
	}
	if cfg.InstanceTTL <= 0 {
		cfg.InstanceTTL = 30 * time.Second
	}
	return &Janitor{
		tracker:    tracker,
		instanceID: instanceID,
		cfg:        cfg,
		log:        log.With().Str("component", "janitor").Logger(),
		cron:       cron.New(),
	}
}

// Start は最初の生存通知を行ってから定期実行を開始する。
// 生存通知より先に掃除が走ると自インスタンスの接続を消してしまうため、この順序を守る。
func (j *Janitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	if _, err := j.tracker.Heartbeat(ctx, j.instanceID, j.cfg.InstanceTTL); err != nil {
		cancel()
		return fmt.Errorf("初回の生存通知に失敗: %w", err)
	}

	if _, err := j.cron.AddFunc(j.cfg.HeartbeatSchedule, func() { j.heartbeat(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("生存通知のスケジュール登録に失敗: %w", err)
	}
	if _, err := j.cron.AddFunc(j.cfg.SweepSchedule, func() { j.sweep(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("掃除のスケジュール登録に失敗: %w", err)
	}
	j.cron.Start()

	j.log.Info().
		Str("instance_id", j.instanceID).
		Str("heartbeat", j.cfg.HeartbeatSchedule).
		Str("sweep", j.cfg.SweepSchedule).
		Msg("Janitorを開始しました")
	return nil
}

// Stop は定期実行を停止し、実行中のジョブの完了を待つ。
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	<-j.cron.Stop().Done()
	j.log.Info().Msg("Janitorを停止しました")
}

func (j *Janitor) heartbeat(ctx context.Context) {
	resumed, err := j.tracker.Heartbeat(ctx, j.instanceID, j.cfg.InstanceTTL)
	if err != nil {
		j.log.Warn().Err(err).Msg("生存通知に失敗")
		return
	}
	if resumed {
		j.log.Warn().Str("instance_id", j.instanceID).Msg("生存記録が掃除されていたため接続を再登録します")
		j.resyncPending.Store(true)
	}
	if !j.resyncPending.Load() || j.cfg.Resync == nil {
		return
	}
	if err := j.cfg.Resync(ctx); err != nil {
		j.log.Warn().Err(err).Msg("接続の再登録に失敗")
		return
	}
	j.resyncPending.Store(false)
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.tracker.SweepDeadInstances(ctx)
	if err != nil {
		j.log.Warn().Err(err).Int("cleared", n).Msg("停止インスタンスの掃除に失敗")
		return
	}
	if n > 0 {
		j.log.Info().Int("cleared", n).Msg("停止インスタンスの接続を掃除しました")
	}
}

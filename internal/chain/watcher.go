package chain

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval はチェーンIDを問い合わせる既定の間隔。
const DefaultPollInterval = 15 * time.Second

type chainIDSource interface {
	ChainID(ctx context.Context) (uint64, error)
}

// Watcher は接続先のチェーンIDを定期的に問い合わせ、変化を通知する。
type Watcher struct {
	conn     chainIDSource
	interval time.Duration
	retry    func() bool
}

// NewWatcher は新しいWatcherを生成する。intervalが0以下の場合はDefaultPollIntervalを使う。
func NewWatcher(conn chainIDSource, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{conn: conn, interval: interval}
}

// RetryWhen はチェーンIDが変わらなくてもonChangeを再度呼ぶ条件を設定する。
// 条件は問い合わせに成功した各ティックで評価される。
func (w *Watcher) RetryWhen(cond func() bool) *Watcher {
	w.retry = cond
	return w
}

// Run はctxがキャンセルされるまで監視する。
// 最初に取得できた値と、以降に値が変わる度にonChangeを呼ぶ。問い合わせの失敗は記録して続行する。
func (w *Watcher) Run(ctx context.Context, onChange func(chainID uint64)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last uint64
	seen := false
	for {
		id, err := w.conn.ChainID(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.WarnContext(ctx, "failed to poll chain ID",
				"operation", "watch_chain",
				"error", err,
			)
		case !seen || id != last:
			if seen {
				slog.InfoContext(ctx, "chain changed",
					"operation", "watch_chain",
					"from", last,
					"to", id,
				)
			}
			last, seen = id, true
			onChange(id)
		case w.retry != nil && w.retry():
			slog.InfoContext(ctx, "retrying on unchanged chain",
				"operation", "watch_chain",
				"chain_id", id,
			)
			onChange(id)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Package cleanup はセッション逆引きインデックスの定期掃除ジョブを提供する。
// セッション本体はRedisのTTLで消えるが、ユーザーごとのインデックスには
// ハンドルが残るため、本体が存在しないハンドルを定期的に取り除く。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval は既定の実行間隔。
const DefaultInterval = time.Hour

// IndexPruner はインデックスから失効済みハンドルを取り除く。
type IndexPruner interface {
	PruneIndex(ctx context.Context) (int, error)
}

// CleanupJob はセッションインデックスの掃除ジョブ。
// 冪等で、何度実行しても結果は変わらない。
type CleanupJob struct {
	pruner   IndexPruner
	logger   *slog.Logger
	Interval time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。intervalが0以下の場合はDefaultIntervalを使う。
func NewCleanupJob(pruner IndexPruner, logger *slog.Logger, interval time.Duration) *CleanupJob {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &CleanupJob{
		pruner:   pruner,
		logger:   logger,
		Interval: interval,
	}
}

// Run はインデックスを1回掃除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	removed, err := j.pruner.PruneIndex(ctx)
	if err != nil {
		j.logger.Error("セッションインデックスの掃除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("removed_count", removed),
		)
		return fmt.Errorf("セッションインデックスの掃除に失敗: %w", err)
	}

	j.logger.Info("セッションインデックスの掃除が完了しました",
		slog.Int("removed_count", removed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後Intervalごとに実行する。ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context) {
	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
